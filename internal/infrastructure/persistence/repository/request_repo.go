package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	"github.com/garyjia/school-liquidation/internal/domain/workflow"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/sqldb"
)

const requestColumns = `code, user_id, school_id, target_month, status,
	approved_at, downloaded_at, rejection_comment, rejected_at,
	reviewed_by, reviewed_at, is_resubmission, previous_version,
	version, created_at, updated_at`

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sqldb.DB, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a request and its line items
func (r *RequestRepository) Create(ctx context.Context, req *entity.Request) error {
	if req.Version == 0 {
		req.Version = 1
	}

	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO requests (`+requestColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			req.Code,
			req.UserID,
			req.SchoolID,
			req.TargetMonth.String(),
			string(req.Status),
			nullTime(req.ApprovedAt),
			nullTime(req.DownloadedAt),
			req.RejectionComment,
			nullTime(req.RejectedAt),
			req.ReviewedBy,
			nullTime(req.ReviewedAt),
			req.IsResubmission,
			req.PreviousVersion,
			req.Version,
			dbTime(req.CreatedAt),
			dbTime(req.UpdatedAt),
		)
		if err != nil {
			if r.db.Dialect().IsUniqueViolation(err) {
				return r.duplicateError(err, req)
			}
			r.logger.Error("Failed to create request", zap.String("code", req.Code), zap.Error(err))
			return fmt.Errorf("failed to create request: %w", err)
		}

		return r.replaceItems(ctx, req.Code, req.Items)
	})
}

func (r *RequestRepository) duplicateError(err error, req *entity.Request) error {
	name := r.db.Dialect().ConstraintName(err)
	switch {
	case strings.Contains(name, "target_month"), strings.Contains(name, "user_month"):
		return fmt.Errorf("%w: %s for user %s", workflow.ErrDuplicateMonth, req.TargetMonth, req.UserID)
	case strings.Contains(name, "user"):
		return fmt.Errorf("%w: user %s", workflow.ErrActiveRequestExists, req.UserID)
	}
	return fmt.Errorf("failed to create request: %w", err)
}

// Get retrieves a request by code
func (r *RequestRepository) Get(ctx context.Context, code string) (*entity.Request, error) {
	return r.get(ctx, code, "")
}

// GetForUpdate retrieves a request and locks its row
func (r *RequestRepository) GetForUpdate(ctx context.Context, code string) (*entity.Request, error) {
	return r.get(ctx, code, r.db.Dialect().ForUpdate())
}

func (r *RequestRepository) get(ctx context.Context, code, lock string) (*entity.Request, error) {
	row := r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE code = ?`+lock, code)

	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get request", zap.String("code", code), zap.Error(err))
		return nil, r.db.Dialect().Classify(fmt.Errorf("failed to get request: %w", err))
	}

	if req.Items, err = r.loadItems(ctx, code); err != nil {
		return nil, err
	}
	return req, nil
}

// Update writes the request if its version still matches expectedVersion
func (r *RequestRepository) Update(ctx context.Context, req *entity.Request, expectedVersion int64) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		result, err := r.db.Exec(ctx, `
			UPDATE requests SET
				target_month = ?, status = ?, approved_at = ?, downloaded_at = ?,
				rejection_comment = ?, rejected_at = ?, reviewed_by = ?, reviewed_at = ?,
				is_resubmission = ?, previous_version = ?,
				version = version + 1, updated_at = ?
			WHERE code = ? AND version = ?`,
			req.TargetMonth.String(),
			string(req.Status),
			nullTime(req.ApprovedAt),
			nullTime(req.DownloadedAt),
			req.RejectionComment,
			nullTime(req.RejectedAt),
			req.ReviewedBy,
			nullTime(req.ReviewedAt),
			req.IsResubmission,
			req.PreviousVersion,
			dbTime(req.UpdatedAt),
			req.Code,
			expectedVersion,
		)
		if err != nil {
			if r.db.Dialect().IsUniqueViolation(err) {
				return r.duplicateError(err, req)
			}
			r.logger.Error("Failed to update request", zap.String("code", req.Code), zap.Error(err))
			return fmt.Errorf("failed to update request: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: request %s at version %d", workflow.ErrStaleWrite, req.Code, expectedVersion)
		}

		if err := r.replaceItems(ctx, req.Code, req.Items); err != nil {
			return err
		}
		req.Version = expectedVersion + 1
		return nil
	})
}

// FindActiveByUser returns the user's request in an active status, if any
func (r *RequestRepository) FindActiveByUser(ctx context.Context, userID string) (*entity.Request, error) {
	statuses := stringArgs(entity.ActiveRequestStatuses)
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE user_id = ? AND status IN (` + placeholders(len(statuses)) + `)
		ORDER BY created_at DESC LIMIT 1`

	return r.findOne(ctx, query, append([]interface{}{userID}, statuses...)...)
}

// FindByUserMonth returns the user's non-rejected request for month, if any
func (r *RequestRepository) FindByUserMonth(ctx context.Context, userID string, month entity.Month) (*entity.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE user_id = ? AND target_month = ? AND status <> ?
		ORDER BY created_at DESC LIMIT 1`

	return r.findOne(ctx, query, userID, month.String(), string(entity.RequestRejected))
}

func (r *RequestRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Request, error) {
	req, err := scanRequest(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find request", zap.Error(err))
		return nil, fmt.Errorf("failed to find request: %w", err)
	}
	if req.Items, err = r.loadItems(ctx, req.Code); err != nil {
		return nil, err
	}
	return req, nil
}

// ListByStatus lists requests in any of statuses after the cursor, oldest first
func (r *RequestRepository) ListByStatus(ctx context.Context, statuses []workflow.State, after port.Cursor, limit int) ([]*entity.Request, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := append(stringArgs(statuses), keysetArgs(after)...)
	args = append(args, limit)
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE status IN (` + placeholders(len(statuses)) + `) AND ` + keysetClause + `
		ORDER BY created_at ASC, code ASC LIMIT ?`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	var requests []*entity.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate requests: %w", err)
	}
	rows.Close()

	for _, req := range requests {
		if req.Items, err = r.loadItems(ctx, req.Code); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

func (r *RequestRepository) loadItems(ctx context.Context, code string) ([]entity.LineItem, error) {
	return loadLineItems(ctx, r.db, `
		SELECT category_id, amount FROM request_line_items
		WHERE request_code = ? ORDER BY category_id`, code)
}

func (r *RequestRepository) replaceItems(ctx context.Context, code string, items []entity.LineItem) error {
	return replaceLineItems(ctx, r.db, "request_line_items", "request_code", code, items)
}

func scanRequest(s scanner) (*entity.Request, error) {
	var (
		req                                              entity.Request
		month, status                                    string
		approvedAt, downloadedAt, rejectedAt, reviewedAt sql.NullTime
	)

	err := s.Scan(
		&req.Code,
		&req.UserID,
		&req.SchoolID,
		&month,
		&status,
		&approvedAt,
		&downloadedAt,
		&req.RejectionComment,
		&rejectedAt,
		&req.ReviewedBy,
		&reviewedAt,
		&req.IsResubmission,
		&req.PreviousVersion,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if req.TargetMonth, err = entity.ParseMonth(month); err != nil {
		return nil, err
	}
	req.Status = workflow.State(status)
	req.ApprovedAt = fromNullTime(approvedAt)
	req.DownloadedAt = fromNullTime(downloadedAt)
	req.RejectedAt = fromNullTime(rejectedAt)
	req.ReviewedAt = fromNullTime(reviewedAt)
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return &req, nil
}

func loadLineItems(ctx context.Context, db *sqldb.DB, query, code string) ([]entity.LineItem, error) {
	rows, err := db.Query(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("failed to load line items: %w", err)
	}
	defer rows.Close()

	var items []entity.LineItem
	for rows.Next() {
		var item entity.LineItem
		var amount decimal.Decimal
		if err := rows.Scan(&item.CategoryID, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		item.Amount = amount
		items = append(items, item)
	}
	return items, rows.Err()
}

func replaceLineItems(ctx context.Context, db *sqldb.DB, table, parentColumn, code string, items []entity.LineItem) error {
	if _, err := db.Exec(ctx, `DELETE FROM `+table+` WHERE `+parentColumn+` = ?`, code); err != nil {
		return fmt.Errorf("failed to clear line items: %w", err)
	}
	for _, item := range items {
		_, err := db.Exec(ctx,
			`INSERT INTO `+table+` (`+parentColumn+`, category_id, amount) VALUES (?, ?, ?)`,
			code, item.CategoryID, item.Amount.StringFixed(2))
		if err != nil {
			if db.Dialect().IsUniqueViolation(err) {
				return fmt.Errorf("%w: duplicate category %s", workflow.ErrInvalidLineItems, item.CategoryID)
			}
			return fmt.Errorf("failed to insert line item: %w", err)
		}
	}
	return nil
}
