package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	"github.com/garyjia/school-liquidation/internal/domain/workflow"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/sqldb"
)

// SchoolRepository implements port.SchoolRepository and port.Directory
type SchoolRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewSchoolRepository creates a new school repository
func NewSchoolRepository(db *sqldb.DB, logger *zap.Logger) *SchoolRepository {
	return &SchoolRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a school by id
func (r *SchoolRepository) Get(ctx context.Context, id string) (*entity.School, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate retrieves a school and locks its row
func (r *SchoolRepository) GetForUpdate(ctx context.Context, id string) (*entity.School, error) {
	return r.get(ctx, id, r.db.Dialect().ForUpdate())
}

func (r *SchoolRepository) get(ctx context.Context, id, lock string) (*entity.School, error) {
	var school entity.School
	var month, year sql.NullInt64

	err := r.db.QueryRow(ctx, `
		SELECT id, name, last_liquidated_month, last_liquidated_year, version
		FROM schools WHERE id = ?`+lock, id).Scan(
		&school.ID,
		&school.Name,
		&month,
		&year,
		&school.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get school", zap.String("id", id), zap.Error(err))
		return nil, r.db.Dialect().Classify(fmt.Errorf("failed to get school: %w", err))
	}

	school.LastLiquidatedMonth = fromNullInt(month)
	school.LastLiquidatedYear = fromNullInt(year)
	return &school, nil
}

// UpdateLastLiquidated writes the last liquidated month cache
func (r *SchoolRepository) UpdateLastLiquidated(ctx context.Context, school *entity.School, month entity.Month, expectedVersion int64) error {
	result, err := r.db.Exec(ctx, `
		UPDATE schools SET last_liquidated_month = ?, last_liquidated_year = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		int(month.Month), month.Year, school.ID, expectedVersion)
	if err != nil {
		r.logger.Error("Failed to update school cache", zap.String("id", school.ID), zap.Error(err))
		return fmt.Errorf("failed to update school: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: school %s at version %d", workflow.ErrStaleWrite, school.ID, expectedVersion)
	}

	m, y := int(month.Month), month.Year
	school.LastLiquidatedMonth, school.LastLiquidatedYear = &m, &y
	school.Version = expectedVersion + 1
	return nil
}

// Upsert inserts or renames a school. Used by directory sync and fixtures.
func (r *SchoolRepository) Upsert(ctx context.Context, school *entity.School) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO schools (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		school.ID, school.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert school: %w", err)
	}
	return nil
}

// GetUser retrieves a directory user
func (r *SchoolRepository) GetUser(ctx context.Context, id string) (*entity.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `
		SELECT id, name, email, lark_open_id, role, school_id
		FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListByRole lists directory users holding role
func (r *SchoolRepository) ListByRole(ctx context.Context, role workflow.Role) ([]*entity.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, email, lark_open_id, role, school_id
		FROM users WHERE role = ? ORDER BY id`, string(role))
	if err != nil {
		r.logger.Error("Failed to list users", zap.String("role", string(role)), zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpsertUser inserts or updates a directory user
func (r *SchoolRepository) UpsertUser(ctx context.Context, user *entity.User) error {
	var schoolID interface{}
	if user.SchoolID != "" {
		schoolID = user.SchoolID
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, name, email, lark_open_id, role, school_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, email = excluded.email, lark_open_id = excluded.lark_open_id,
			role = excluded.role, school_id = excluded.school_id`,
		user.ID, user.Name, user.Email, user.LarkOpenID, string(user.Role), schoolID)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func scanUser(s scanner) (*entity.User, error) {
	var user entity.User
	var role string
	var schoolID sql.NullString

	if err := s.Scan(&user.ID, &user.Name, &user.Email, &user.LarkOpenID, &role, &schoolID); err != nil {
		return nil, err
	}
	user.Role = workflow.Role(role)
	user.SchoolID = schoolID.String
	return &user, nil
}

var (
	_ port.SchoolRepository = (*SchoolRepository)(nil)
	_ port.Directory        = (*SchoolRepository)(nil)
)
