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
	"github.com/garyjia/school-liquidation/internal/domain/workflow"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/sqldb"
)

const documentColumns = `id, liquidation_code, category_id, requirement_id, status, file_key, uploaded_at`

// DocumentRepository implements port.DocumentRepository
type DocumentRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *sqldb.DB, logger *zap.Logger) port.DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a document by id
func (r *DocumentRepository) Get(ctx context.Context, id int64) (*entity.Document, error) {
	return r.findOne(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
}

// FindByKey retrieves the document for one requirement of one line item
func (r *DocumentRepository) FindByKey(ctx context.Context, liquidationCode, categoryID, requirementID string) (*entity.Document, error) {
	return r.findOne(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE liquidation_code = ? AND category_id = ? AND requirement_id = ?`,
		liquidationCode, categoryID, requirementID)
}

func (r *DocumentRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Document, error) {
	doc, err := scanDocument(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get document", zap.Error(err))
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ListByLiquidation lists the documents of a liquidation
func (r *DocumentRepository) ListByLiquidation(ctx context.Context, liquidationCode string) ([]*entity.Document, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE liquidation_code = ? ORDER BY category_id, requirement_id`, liquidationCode)
	if err != nil {
		r.logger.Error("Failed to list documents", zap.String("liquidation_code", liquidationCode), zap.Error(err))
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListVersions lists every upload of a document, oldest first
func (r *DocumentRepository) ListVersions(ctx context.Context, documentID int64) ([]*entity.DocumentVersion, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, document_id, version_no, file_key, status, reviewer, comment, created_at, reviewed_at
		FROM document_versions WHERE document_id = ? ORDER BY version_no`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document versions: %w", err)
	}
	defer rows.Close()

	var versions []*entity.DocumentVersion
	for rows.Next() {
		var v entity.DocumentVersion
		var status string
		var reviewedAt sql.NullTime
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.VersionNo, &v.FileKey, &status,
			&v.Reviewer, &v.Comment, &v.CreatedAt, &reviewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document version: %w", err)
		}
		v.Status = entity.DocumentStatus(status)
		v.CreatedAt = v.CreatedAt.UTC()
		v.ReviewedAt = fromNullTime(reviewedAt)
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// Upload creates the document on first upload and appends a pending version
func (r *DocumentRepository) Upload(ctx context.Context, doc *entity.Document) (*entity.DocumentVersion, error) {
	var version *entity.DocumentVersion

	err := r.db.WithTransaction(ctx, func(ctx context.Context) error {
		existing, err := r.FindByKey(ctx, doc.LiquidationCode, doc.CategoryID, doc.RequirementID)
		if err != nil {
			return err
		}

		if existing == nil {
			err = r.db.QueryRow(ctx, `
				INSERT INTO documents (liquidation_code, category_id, requirement_id, status, file_key, uploaded_at)
				VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
				doc.LiquidationCode, doc.CategoryID, doc.RequirementID,
				string(entity.DocumentPending), doc.FileKey, dbTime(doc.UploadedAt),
			).Scan(&doc.ID)
			if err != nil {
				return fmt.Errorf("failed to create document: %w", err)
			}
		} else {
			doc.ID = existing.ID
			if _, err := r.db.Exec(ctx, `
				UPDATE documents SET status = ?, file_key = ?, uploaded_at = ? WHERE id = ?`,
				string(entity.DocumentPending), doc.FileKey, dbTime(doc.UploadedAt), doc.ID); err != nil {
				return fmt.Errorf("failed to update document: %w", err)
			}
		}
		doc.Status = entity.DocumentPending

		var next int
		if err := r.db.QueryRow(ctx,
			`SELECT COALESCE(MAX(version_no), 0) + 1 FROM document_versions WHERE document_id = ?`,
			doc.ID).Scan(&next); err != nil {
			return fmt.Errorf("failed to compute document version: %w", err)
		}

		version = &entity.DocumentVersion{
			DocumentID: doc.ID,
			VersionNo:  next,
			FileKey:    doc.FileKey,
			Status:     entity.DocumentPending,
			CreatedAt:  dbTime(doc.UploadedAt),
		}
		return r.db.QueryRow(ctx, `
			INSERT INTO document_versions (document_id, version_no, file_key, status, created_at)
			VALUES (?, ?, ?, ?, ?) RETURNING id`,
			version.DocumentID, version.VersionNo, version.FileKey, string(version.Status), version.CreatedAt,
		).Scan(&version.ID)
	})
	if err != nil {
		r.logger.Error("Failed to upload document",
			zap.String("liquidation_code", doc.LiquidationCode),
			zap.String("requirement_id", doc.RequirementID),
			zap.Error(err))
		return nil, err
	}

	return version, nil
}

// Review sets the status of the document and its latest version
func (r *DocumentRepository) Review(ctx context.Context, documentID int64, status entity.DocumentStatus, reviewer, comment string, at time.Time) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		result, err := r.db.Exec(ctx, `UPDATE documents SET status = ? WHERE id = ?`, string(status), documentID)
		if err != nil {
			return fmt.Errorf("failed to review document: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: document %d", workflow.ErrNotFound, documentID)
		}

		_, err = r.db.Exec(ctx, `
			UPDATE document_versions SET status = ?, reviewer = ?, comment = ?, reviewed_at = ?
			WHERE document_id = ? AND version_no = (
				SELECT MAX(version_no) FROM document_versions WHERE document_id = ?
			)`,
			string(status), reviewer, comment, dbTime(at), documentID, documentID)
		if err != nil {
			return fmt.Errorf("failed to review document version: %w", err)
		}
		return nil
	})
}

func scanDocument(s scanner) (*entity.Document, error) {
	var doc entity.Document
	var status string

	if err := s.Scan(&doc.ID, &doc.LiquidationCode, &doc.CategoryID, &doc.RequirementID,
		&status, &doc.FileKey, &doc.UploadedAt); err != nil {
		return nil, err
	}
	doc.Status = entity.DocumentStatus(status)
	doc.UploadedAt = doc.UploadedAt.UTC()
	return &doc, nil
}
