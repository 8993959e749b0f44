package sqldb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/school-liquidation/internal/domain/workflow"
)

func TestParseDialect(t *testing.T) {
	tests := []struct {
		driver  string
		want    Dialect
		wantErr bool
	}{
		{"sqlite", SQLite, false},
		{"", SQLite, false},
		{"postgres", Postgres, false},
		{"PGX", Postgres, false},
		{"mysql", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			got, err := ParseDialect(tt.driver)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialect_Rebind(t *testing.T) {
	q := "UPDATE requests SET status = ? WHERE code = ? AND version = ?"

	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, "UPDATE requests SET status = $1 WHERE code = $2 AND version = $3", Postgres.Rebind(q))
}

func TestDialect_ForUpdate(t *testing.T) {
	assert.Empty(t, SQLite.ForUpdate())
	assert.Equal(t, " FOR UPDATE", Postgres.ForUpdate())
}

func TestDialect_IsUniqueViolation(t *testing.T) {
	pgDup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "liquidations_request_code_key"})
	liteDup := fmt.Errorf("insert: %w", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})
	litePK := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}
	liteFK := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}

	assert.True(t, Postgres.IsUniqueViolation(pgDup))
	assert.Equal(t, "liquidations_request_code_key", Postgres.ConstraintName(pgDup))
	assert.True(t, SQLite.IsUniqueViolation(liteDup))
	assert.True(t, SQLite.IsUniqueViolation(litePK))
	assert.False(t, SQLite.IsUniqueViolation(liteFK))
	assert.False(t, SQLite.IsUniqueViolation(errors.New("boom")))
}

func TestDialect_Classify(t *testing.T) {
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	serialization := &pgconn.PgError{Code: "40001"}
	syntax := &pgconn.PgError{Code: "42601"}

	assert.Nil(t, SQLite.Classify(nil))
	assert.True(t, workflow.IsTransient(SQLite.Classify(busy)))
	assert.True(t, workflow.IsTransient(Postgres.Classify(serialization)))
	assert.False(t, workflow.IsTransient(Postgres.Classify(syntax)))
}
