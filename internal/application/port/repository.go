package port

import (
	"context"
	"time"

	"github.com/garyjia/school-liquidation/internal/domain/deadline"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	"github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// TransactionManager runs fn inside one database transaction carried by ctx.
// Nested calls join the outer transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Cursor is a keyset position over (created_at, code). The zero value starts
// from the oldest row.
type Cursor struct {
	CreatedAt time.Time
	Code      string
}

// RequestRepository defines persistence operations for Request.
// Get methods return nil, nil when the row does not exist.
type RequestRepository interface {
	Create(ctx context.Context, req *entity.Request) error
	Get(ctx context.Context, code string) (*entity.Request, error)

	// GetForUpdate reads the row and locks it until the transaction ends
	GetForUpdate(ctx context.Context, code string) (*entity.Request, error)

	// Update writes req only if the stored version still equals expectedVersion,
	// otherwise it returns workflow.ErrStaleWrite. On success req.Version is bumped.
	Update(ctx context.Context, req *entity.Request, expectedVersion int64) error

	FindActiveByUser(ctx context.Context, userID string) (*entity.Request, error)
	FindByUserMonth(ctx context.Context, userID string, month entity.Month) (*entity.Request, error)

	// ListByStatus returns up to limit requests in any of statuses that sort
	// after the cursor, ordered by (created_at, code)
	ListByStatus(ctx context.Context, statuses []workflow.State, after Cursor, limit int) ([]*entity.Request, error)
}

// LiquidationRepository defines persistence operations for Liquidation
type LiquidationRepository interface {
	// Create returns workflow.ErrDuplicateLiquidation when the request already has one
	Create(ctx context.Context, liq *entity.Liquidation) error
	Get(ctx context.Context, code string) (*entity.Liquidation, error)
	GetForUpdate(ctx context.Context, code string) (*entity.Liquidation, error)
	GetByRequest(ctx context.Context, requestCode string) (*entity.Liquidation, error)
	Update(ctx context.Context, liq *entity.Liquidation, expectedVersion int64) error

	// ListOpen pages through liquidations that are not yet liquidated, ordered by (created_at, code)
	ListOpen(ctx context.Context, after Cursor, limit int) ([]*entity.Liquidation, error)
}

// SchoolRepository defines persistence operations for School
type SchoolRepository interface {
	Get(ctx context.Context, id string) (*entity.School, error)
	GetForUpdate(ctx context.Context, id string) (*entity.School, error)
	UpdateLastLiquidated(ctx context.Context, school *entity.School, month entity.Month, expectedVersion int64) error
}

// Directory answers user lookups for ownership checks and notification recipients
type Directory interface {
	GetUser(ctx context.Context, id string) (*entity.User, error)
	ListByRole(ctx context.Context, role workflow.Role) ([]*entity.User, error)
}

// RequirementRegistry exposes the category/requirement registry
type RequirementRegistry interface {
	// UnknownCategories returns the ids in categoryIDs that are not registered
	UnknownCategories(ctx context.Context, categoryIDs []string) ([]string, error)

	// Requirements returns every requirement of the given categories
	Requirements(ctx context.Context, categoryIDs []string) ([]*entity.Requirement, error)
}

// DocumentRepository defines persistence operations for evidence documents
type DocumentRepository interface {
	Get(ctx context.Context, id int64) (*entity.Document, error)
	FindByKey(ctx context.Context, liquidationCode, categoryID, requirementID string) (*entity.Document, error)
	ListByLiquidation(ctx context.Context, liquidationCode string) ([]*entity.Document, error)
	ListVersions(ctx context.Context, documentID int64) ([]*entity.DocumentVersion, error)

	// Upload creates the document if needed and appends a pending version
	Upload(ctx context.Context, doc *entity.Document) (*entity.DocumentVersion, error)

	// Review sets the status of the document and its latest version
	Review(ctx context.Context, documentID int64, status entity.DocumentStatus, reviewer, comment string, at time.Time) error
}

// ReminderRepository persists the reminder ladder. Rows are keyed by (request, kind).
type ReminderRepository interface {
	// Schedule inserts rows that do not exist yet and leaves existing ones untouched
	Schedule(ctx context.Context, rows []*entity.ReminderDispatch) error
	Get(ctx context.Context, requestCode string, kind deadline.Kind) (*entity.ReminderDispatch, error)
	ListByRequest(ctx context.Context, requestCode string) ([]*entity.ReminderDispatch, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.ReminderDispatch, error)

	// Claim moves a pending row to firing. It returns false when another worker owns it
	// or it was already resolved.
	Claim(ctx context.Context, requestCode string, kind deadline.Kind, now time.Time) (bool, error)

	// Complete resolves a firing row
	Complete(ctx context.Context, requestCode string, kind deadline.Kind, status entity.DispatchStatus, lastError string, at time.Time) error

	// Supersede resolves a pending row that a later rung replaced
	Supersede(ctx context.Context, requestCode string, kind deadline.Kind) (bool, error)

	// SuppressPending resolves every pending row of a request as suppressed
	SuppressPending(ctx context.Context, requestCode string) (int64, error)

	// ReleaseStale returns rows stuck in firing since before cutoff to pending
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// BudgetNoticeRepository persists the yearly budget notice marker
type BudgetNoticeRepository interface {
	Ensure(ctx context.Context, year int) error
	Get(ctx context.Context, year int) (*entity.BudgetNotice, error)
	Claim(ctx context.Context, year int, now time.Time) (bool, error)
	Complete(ctx context.Context, year int, status entity.DispatchStatus, lastError string, at time.Time) error

	// ReleaseStale returns a marker stuck in firing since before cutoff to pending
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// HistoryRepository persists transition attribution
type HistoryRepository interface {
	Create(ctx context.Context, record *entity.TransitionRecord) error
	ListByEntity(ctx context.Context, entityType, code string) ([]*entity.TransitionRecord, error)
}
