package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/sqldb"
)

// BudgetNoticeRepository implements port.BudgetNoticeRepository
type BudgetNoticeRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewBudgetNoticeRepository creates a new budget notice repository
func NewBudgetNoticeRepository(db *sqldb.DB, logger *zap.Logger) port.BudgetNoticeRepository {
	return &BudgetNoticeRepository{
		db:     db,
		logger: logger,
	}
}

// Ensure creates the year's marker if it does not exist
func (r *BudgetNoticeRepository) Ensure(ctx context.Context, year int) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO budget_notices (year, status, attempts, last_error) VALUES (?, ?, 0, '')
		ON CONFLICT (year) DO NOTHING`,
		year, string(entity.DispatchPending))
	if err != nil {
		r.logger.Error("Failed to create budget notice marker", zap.Int("year", year), zap.Error(err))
		return fmt.Errorf("failed to create budget notice marker: %w", err)
	}
	return nil
}

// Get retrieves the year's marker
func (r *BudgetNoticeRepository) Get(ctx context.Context, year int) (*entity.BudgetNotice, error) {
	var n entity.BudgetNotice
	var status string
	var claimedAt, sentAt sql.NullTime

	err := r.db.QueryRow(ctx, `
		SELECT year, status, attempts, claimed_at, sent_at, last_error
		FROM budget_notices WHERE year = ?`, year).Scan(
		&n.Year, &status, &n.Attempts, &claimedAt, &sentAt, &n.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget notice marker: %w", err)
	}

	n.Status = entity.DispatchStatus(status)
	n.ClaimedAt = fromNullTime(claimedAt)
	n.SentAt = fromNullTime(sentAt)
	return &n, nil
}

// Claim moves a pending marker to firing
func (r *BudgetNoticeRepository) Claim(ctx context.Context, year int, now time.Time) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE budget_notices SET status = ?, attempts = attempts + 1, claimed_at = ?
		WHERE year = ? AND status = ?`,
		string(entity.DispatchFiring), dbTime(now), year, string(entity.DispatchPending))
	if err != nil {
		return false, fmt.Errorf("failed to claim budget notice: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// Complete resolves a firing marker. A missed notice returns to pending so a
// later tick on the same day may retry it.
func (r *BudgetNoticeRepository) Complete(ctx context.Context, year int, status entity.DispatchStatus, lastError string, at time.Time) error {
	var sentAt interface{}
	if status == entity.DispatchSent {
		sentAt = dbTime(at)
	}
	if status == entity.DispatchMissed {
		status = entity.DispatchPending
	}

	_, err := r.db.Exec(ctx, `
		UPDATE budget_notices SET status = ?, sent_at = ?, last_error = ?
		WHERE year = ? AND status = ?`,
		string(status), sentAt, lastError, year, string(entity.DispatchFiring))
	if err != nil {
		return fmt.Errorf("failed to complete budget notice: %w", err)
	}
	return nil
}

// ReleaseStale returns a marker stuck in firing since before cutoff to pending
func (r *BudgetNoticeRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE budget_notices SET status = ?
		WHERE status = ? AND claimed_at < ?`,
		string(entity.DispatchPending), string(entity.DispatchFiring), dbTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale budget notice: %w", err)
	}
	return result.RowsAffected()
}
