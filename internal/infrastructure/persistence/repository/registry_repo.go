package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/sqldb"
)

// RegistryRepository implements port.RequirementRegistry over the
// categories and requirements tables
type RegistryRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewRegistryRepository creates a new registry repository
func NewRegistryRepository(db *sqldb.DB, logger *zap.Logger) *RegistryRepository {
	return &RegistryRepository{
		db:     db,
		logger: logger,
	}
}

// UnknownCategories returns the ids that are not registered categories
func (r *RegistryRepository) UnknownCategories(ctx context.Context, categoryIDs []string) ([]string, error) {
	if len(categoryIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT id FROM categories WHERE id IN (`+placeholders(len(categoryIDs))+`)`,
		stringArgs(categoryIDs)...)
	if err != nil {
		r.logger.Error("Failed to look up categories", zap.Error(err))
		return nil, fmt.Errorf("failed to look up categories: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool, len(categoryIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		known[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var unknown []string
	for _, id := range categoryIDs {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	return unknown, nil
}

// Requirements returns every requirement of the given categories
func (r *RegistryRepository) Requirements(ctx context.Context, categoryIDs []string) ([]*entity.Requirement, error) {
	if len(categoryIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, category_id, name, required FROM requirements
		WHERE category_id IN (`+placeholders(len(categoryIDs))+`)
		ORDER BY category_id, id`, stringArgs(categoryIDs)...)
	if err != nil {
		r.logger.Error("Failed to load requirements", zap.Error(err))
		return nil, fmt.Errorf("failed to load requirements: %w", err)
	}
	defer rows.Close()

	var requirements []*entity.Requirement
	for rows.Next() {
		var req entity.Requirement
		if err := rows.Scan(&req.ID, &req.CategoryID, &req.Name, &req.Required); err != nil {
			return nil, fmt.Errorf("failed to scan requirement: %w", err)
		}
		requirements = append(requirements, &req)
	}
	return requirements, rows.Err()
}

// UpsertCategory inserts or renames a category
func (r *RegistryRepository) UpsertCategory(ctx context.Context, c *entity.Category) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO categories (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`, c.ID, c.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert category: %w", err)
	}
	return nil
}

// UpsertRequirement inserts or updates a requirement
func (r *RegistryRepository) UpsertRequirement(ctx context.Context, req *entity.Requirement) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO requirements (id, category_id, name, required) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			category_id = excluded.category_id, name = excluded.name, required = excluded.required`,
		req.ID, req.CategoryID, req.Name, req.Required)
	if err != nil {
		return fmt.Errorf("failed to upsert requirement: %w", err)
	}
	return nil
}

var _ port.RequirementRegistry = (*RegistryRepository)(nil)
