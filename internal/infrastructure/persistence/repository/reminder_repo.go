package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/deadline"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/sqldb"
)

const reminderColumns = `request_code, kind, due_at, status, attempts, claimed_at, sent_at, last_error`

// ReminderRepository implements port.ReminderRepository
type ReminderRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewReminderRepository creates a new reminder repository
func NewReminderRepository(db *sqldb.DB, logger *zap.Logger) port.ReminderRepository {
	return &ReminderRepository{
		db:     db,
		logger: logger,
	}
}

// Schedule inserts ladder rows, skipping any that already exist
func (r *ReminderRepository) Schedule(ctx context.Context, rows []*entity.ReminderDispatch) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		for _, row := range rows {
			_, err := r.db.Exec(ctx, `
				INSERT INTO reminder_dispatches (request_code, kind, due_at, status, attempts, last_error)
				VALUES (?, ?, ?, ?, 0, '')
				ON CONFLICT (request_code, kind) DO NOTHING`,
				row.RequestCode, string(row.Kind), dbTime(row.DueAt), string(entity.DispatchPending))
			if err != nil {
				r.logger.Error("Failed to schedule reminder",
					zap.String("request_code", row.RequestCode),
					zap.String("kind", string(row.Kind)),
					zap.Error(err))
				return fmt.Errorf("failed to schedule reminder: %w", err)
			}
		}
		return nil
	})
}

// Get retrieves one ladder row
func (r *ReminderRepository) Get(ctx context.Context, requestCode string, kind deadline.Kind) (*entity.ReminderDispatch, error) {
	row, err := scanReminder(r.db.QueryRow(ctx, `
		SELECT `+reminderColumns+` FROM reminder_dispatches
		WHERE request_code = ? AND kind = ?`, requestCode, string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return row, nil
}

// ListByRequest lists a request's ladder ordered by due time
func (r *ReminderRepository) ListByRequest(ctx context.Context, requestCode string) ([]*entity.ReminderDispatch, error) {
	return r.list(ctx, `
		SELECT `+reminderColumns+` FROM reminder_dispatches
		WHERE request_code = ? ORDER BY due_at`, requestCode)
}

// ListDue lists pending rows whose due time has passed
func (r *ReminderRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.ReminderDispatch, error) {
	return r.list(ctx, `
		SELECT `+reminderColumns+` FROM reminder_dispatches
		WHERE status = ? AND due_at <= ?
		ORDER BY due_at, request_code LIMIT ?`,
		string(entity.DispatchPending), dbTime(now), limit)
}

func (r *ReminderRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.ReminderDispatch, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list reminders", zap.Error(err))
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()

	var out []*entity.ReminderDispatch
	for rows.Next() {
		row, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Claim moves a pending row to firing
func (r *ReminderRepository) Claim(ctx context.Context, requestCode string, kind deadline.Kind, now time.Time) (bool, error) {
	return r.transition(ctx, `
		UPDATE reminder_dispatches SET status = ?, attempts = attempts + 1, claimed_at = ?
		WHERE request_code = ? AND kind = ? AND status = ?`,
		string(entity.DispatchFiring), dbTime(now), requestCode, string(kind), string(entity.DispatchPending))
}

// Complete resolves a firing row
func (r *ReminderRepository) Complete(ctx context.Context, requestCode string, kind deadline.Kind, status entity.DispatchStatus, lastError string, at time.Time) error {
	var sentAt interface{}
	if status == entity.DispatchSent {
		sentAt = dbTime(at)
	}

	ok, err := r.transition(ctx, `
		UPDATE reminder_dispatches SET status = ?, sent_at = ?, last_error = ?
		WHERE request_code = ? AND kind = ? AND status = ?`,
		string(status), sentAt, lastError, requestCode, string(kind), string(entity.DispatchFiring))
	if err != nil {
		return err
	}
	if !ok {
		r.logger.Warn("Reminder was not firing when completed",
			zap.String("request_code", requestCode),
			zap.String("kind", string(kind)),
			zap.String("status", string(status)))
	}
	return nil
}

// Supersede resolves a pending row that a later rung replaced
func (r *ReminderRepository) Supersede(ctx context.Context, requestCode string, kind deadline.Kind) (bool, error) {
	return r.transition(ctx, `
		UPDATE reminder_dispatches SET status = ?
		WHERE request_code = ? AND kind = ? AND status = ?`,
		string(entity.DispatchSuperseded), requestCode, string(kind), string(entity.DispatchPending))
}

// SuppressPending resolves every pending row of a request as suppressed
func (r *ReminderRepository) SuppressPending(ctx context.Context, requestCode string) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE reminder_dispatches SET status = ?
		WHERE request_code = ? AND status = ?`,
		string(entity.DispatchSuppressed), requestCode, string(entity.DispatchPending))
	if err != nil {
		return 0, fmt.Errorf("failed to suppress reminders: %w", err)
	}
	return result.RowsAffected()
}

// ReleaseStale returns rows stuck in firing since before cutoff to pending
func (r *ReminderRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE reminder_dispatches SET status = ?
		WHERE status = ? AND claimed_at < ?`,
		string(entity.DispatchPending), string(entity.DispatchFiring), dbTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale reminders: %w", err)
	}
	return result.RowsAffected()
}

func (r *ReminderRepository) transition(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update reminder", zap.Error(err))
		return false, fmt.Errorf("failed to update reminder: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func scanReminder(s scanner) (*entity.ReminderDispatch, error) {
	var row entity.ReminderDispatch
	var kind, status string
	var claimedAt, sentAt sql.NullTime

	if err := s.Scan(&row.RequestCode, &kind, &row.DueAt, &status, &row.Attempts,
		&claimedAt, &sentAt, &row.LastError); err != nil {
		return nil, err
	}
	row.Kind = deadline.Kind(kind)
	row.Status = entity.DispatchStatus(status)
	row.DueAt = row.DueAt.UTC()
	row.ClaimedAt = fromNullTime(claimedAt)
	row.SentAt = fromNullTime(sentAt)
	return &row, nil
}
