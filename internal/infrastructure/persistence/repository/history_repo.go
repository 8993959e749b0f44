package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	"github.com/garyjia/school-liquidation/internal/domain/workflow"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/sqldb"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqldb.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create records one transition
func (r *HistoryRepository) Create(ctx context.Context, record *entity.TransitionRecord) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO transition_history (
			entity_type, entity_code, from_status, to_status, trigger_name,
			actor_id, actor_role, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		record.EntityType,
		record.EntityCode,
		string(record.FromStatus),
		string(record.ToStatus),
		string(record.Trigger),
		record.ActorID,
		string(record.ActorRole),
		record.Reason,
		dbTime(record.CreatedAt),
	).Scan(&record.ID)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}
	return nil
}

// ListByEntity returns an entity's transitions in order
func (r *HistoryRepository) ListByEntity(ctx context.Context, entityType, code string) ([]*entity.TransitionRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, entity_type, entity_code, from_status, to_status, trigger_name,
			actor_id, actor_role, reason, created_at
		FROM transition_history
		WHERE entity_type = ? AND entity_code = ?
		ORDER BY id ASC`, entityType, code)
	if err != nil {
		r.logger.Error("Failed to get history", zap.String("entity_code", code), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.TransitionRecord
	for rows.Next() {
		var rec entity.TransitionRecord
		var from, to, trigger, role string
		if err := rows.Scan(&rec.ID, &rec.EntityType, &rec.EntityCode, &from, &to, &trigger,
			&rec.ActorID, &role, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		rec.FromStatus = workflow.State(from)
		rec.ToStatus = workflow.State(to)
		rec.Trigger = workflow.Trigger(trigger)
		rec.ActorRole = workflow.Role(role)
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, &rec)
	}
	return records, rows.Err()
}
