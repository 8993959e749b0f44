package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Driver names registered with database/sql
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Config holds database configuration
type Config struct {
	Driver          string
	Path            string // sqlite file
	DSN             string // postgres connection string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps sql.DB with the driver it was opened with
type DB struct {
	*sql.DB
	Driver string
	logger *zap.Logger
}

// New opens and pings a database connection pool
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	driver, dsn, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established", zap.String("driver", driver))
	return &DB{DB: sqlDB, Driver: driver, logger: logger}, nil
}

func resolve(cfg Config) (string, string, error) {
	switch cfg.Driver {
	case "", "sqlite", DriverSQLite:
		if cfg.Path == "" {
			return "", "", fmt.Errorf("database.path is required for sqlite")
		}
		// WAL for concurrent readers; immediate transactions take the write
		// lock up front so read-modify-write sequences serialize.
		dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", cfg.Path)
		return DriverSQLite, dsn, nil
	case "postgres", "postgresql", DriverPostgres:
		if cfg.DSN == "" {
			return "", "", fmt.Errorf("database.dsn is required for postgres")
		}
		return DriverPostgres, cfg.DSN, nil
	}
	return "", "", fmt.Errorf("unsupported database driver: %s", cfg.Driver)
}

// Close closes the database connection
func (db *DB) Close() error {
	db.logger.Info("Closing database connection")
	return db.DB.Close()
}
