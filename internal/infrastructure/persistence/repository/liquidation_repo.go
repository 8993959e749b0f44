package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	"github.com/garyjia/school-liquidation/internal/domain/workflow"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/sqldb"
)

const liquidationColumns = `code, request_code, status, refund,
	district_reviewer, district_reviewed_at, district_approved_at,
	division_reviewer, division_reviewed_at, liquidated_at,
	remaining_days, version, created_at, updated_at`

// LiquidationRepository implements port.LiquidationRepository
type LiquidationRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewLiquidationRepository creates a new liquidation repository
func NewLiquidationRepository(db *sqldb.DB, logger *zap.Logger) port.LiquidationRepository {
	return &LiquidationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a liquidation and its line items
func (r *LiquidationRepository) Create(ctx context.Context, liq *entity.Liquidation) error {
	if liq.Version == 0 {
		liq.Version = 1
	}

	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO liquidations (`+liquidationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			liq.Code,
			liq.RequestCode,
			string(liq.Status),
			nullDecimal(liq.Refund),
			liq.DistrictReviewer,
			nullTime(liq.DistrictReviewedAt),
			nullTime(liq.DistrictApprovedAt),
			liq.DivisionReviewer,
			nullTime(liq.DivisionReviewedAt),
			nullTime(liq.LiquidatedAt),
			nullInt(liq.RemainingDays),
			liq.Version,
			dbTime(liq.CreatedAt),
			dbTime(liq.UpdatedAt),
		)
		if err != nil {
			if r.db.Dialect().IsUniqueViolation(err) {
				return fmt.Errorf("%w: request %s", workflow.ErrDuplicateLiquidation, liq.RequestCode)
			}
			r.logger.Error("Failed to create liquidation",
				zap.String("request_code", liq.RequestCode),
				zap.Error(err))
			return fmt.Errorf("failed to create liquidation: %w", err)
		}

		return replaceLineItems(ctx, r.db, "liquidation_line_items", "liquidation_code", liq.Code, liq.Items)
	})
}

// Get retrieves a liquidation by code
func (r *LiquidationRepository) Get(ctx context.Context, code string) (*entity.Liquidation, error) {
	return r.getWhere(ctx, "code = ?", "", code)
}

// GetForUpdate retrieves a liquidation and locks its row
func (r *LiquidationRepository) GetForUpdate(ctx context.Context, code string) (*entity.Liquidation, error) {
	return r.getWhere(ctx, "code = ?", r.db.Dialect().ForUpdate(), code)
}

// GetByRequest retrieves the liquidation created for a request
func (r *LiquidationRepository) GetByRequest(ctx context.Context, requestCode string) (*entity.Liquidation, error) {
	return r.getWhere(ctx, "request_code = ?", "", requestCode)
}

func (r *LiquidationRepository) getWhere(ctx context.Context, where, lock string, arg string) (*entity.Liquidation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+liquidationColumns+` FROM liquidations WHERE `+where+lock, arg)

	liq, err := scanLiquidation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get liquidation", zap.String("key", arg), zap.Error(err))
		return nil, r.db.Dialect().Classify(fmt.Errorf("failed to get liquidation: %w", err))
	}

	if liq.Items, err = r.loadItems(ctx, liq.Code); err != nil {
		return nil, err
	}
	return liq, nil
}

// Update writes the liquidation if its version still matches expectedVersion
func (r *LiquidationRepository) Update(ctx context.Context, liq *entity.Liquidation, expectedVersion int64) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		result, err := r.db.Exec(ctx, `
			UPDATE liquidations SET
				status = ?, refund = ?,
				district_reviewer = ?, district_reviewed_at = ?, district_approved_at = ?,
				division_reviewer = ?, division_reviewed_at = ?, liquidated_at = ?,
				remaining_days = ?, version = version + 1, updated_at = ?
			WHERE code = ? AND version = ?`,
			string(liq.Status),
			nullDecimal(liq.Refund),
			liq.DistrictReviewer,
			nullTime(liq.DistrictReviewedAt),
			nullTime(liq.DistrictApprovedAt),
			liq.DivisionReviewer,
			nullTime(liq.DivisionReviewedAt),
			nullTime(liq.LiquidatedAt),
			nullInt(liq.RemainingDays),
			dbTime(liq.UpdatedAt),
			liq.Code,
			expectedVersion,
		)
		if err != nil {
			r.logger.Error("Failed to update liquidation", zap.String("code", liq.Code), zap.Error(err))
			return fmt.Errorf("failed to update liquidation: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: liquidation %s at version %d", workflow.ErrStaleWrite, liq.Code, expectedVersion)
		}

		if err := replaceLineItems(ctx, r.db, "liquidation_line_items", "liquidation_code", liq.Code, liq.Items); err != nil {
			return err
		}
		liq.Version = expectedVersion + 1
		return nil
	})
}

// ListOpen lists liquidations that are not yet liquidated, after the cursor
func (r *LiquidationRepository) ListOpen(ctx context.Context, after port.Cursor, limit int) ([]*entity.Liquidation, error) {
	args := append([]interface{}{string(entity.LiquidationLiquidated)}, keysetArgs(after)...)
	args = append(args, limit)
	rows, err := r.db.Query(ctx, `
		SELECT `+liquidationColumns+` FROM liquidations
		WHERE status <> ? AND `+keysetClause+`
		ORDER BY created_at ASC, code ASC LIMIT ?`,
		args...)
	if err != nil {
		r.logger.Error("Failed to list open liquidations", zap.Error(err))
		return nil, fmt.Errorf("failed to list liquidations: %w", err)
	}

	var liquidations []*entity.Liquidation
	for rows.Next() {
		liq, err := scanLiquidation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan liquidation: %w", err)
		}
		liquidations = append(liquidations, liq)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate liquidations: %w", err)
	}
	rows.Close()

	for _, liq := range liquidations {
		if liq.Items, err = r.loadItems(ctx, liq.Code); err != nil {
			return nil, err
		}
	}
	return liquidations, nil
}

func (r *LiquidationRepository) loadItems(ctx context.Context, code string) ([]entity.LineItem, error) {
	return loadLineItems(ctx, r.db, `
		SELECT category_id, amount FROM liquidation_line_items
		WHERE liquidation_code = ? ORDER BY category_id`, code)
}

func nullDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.StringFixed(2)
}

func scanLiquidation(s scanner) (*entity.Liquidation, error) {
	var (
		liq                                    entity.Liquidation
		status                                 string
		refund                                 decimal.NullDecimal
		districtReviewedAt, districtApprovedAt sql.NullTime
		divisionReviewedAt, liquidatedAt       sql.NullTime
		remainingDays                          sql.NullInt64
	)

	err := s.Scan(
		&liq.Code,
		&liq.RequestCode,
		&status,
		&refund,
		&liq.DistrictReviewer,
		&districtReviewedAt,
		&districtApprovedAt,
		&liq.DivisionReviewer,
		&divisionReviewedAt,
		&liquidatedAt,
		&remainingDays,
		&liq.Version,
		&liq.CreatedAt,
		&liq.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	liq.Status = workflow.State(status)
	if refund.Valid {
		liq.Refund = &refund.Decimal
	}
	liq.DistrictReviewedAt = fromNullTime(districtReviewedAt)
	liq.DistrictApprovedAt = fromNullTime(districtApprovedAt)
	liq.DivisionReviewedAt = fromNullTime(divisionReviewedAt)
	liq.LiquidatedAt = fromNullTime(liquidatedAt)
	liq.RemainingDays = fromNullInt(remainingDays)
	liq.CreatedAt = liq.CreatedAt.UTC()
	liq.UpdatedAt = liq.UpdatedAt.UTC()
	return &liq, nil
}
