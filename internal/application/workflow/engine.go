package workflow

import (
	"context"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// Engine drives the Request and Liquidation lifecycles. Every call takes the
// acting user explicitly and runs in one transaction.
type Engine interface {
	// CreateRequest files a new request. Automatic month classification applies
	// unless the input opts out.
	CreateRequest(ctx context.Context, actor domainwf.Actor, input CreateRequestInput) (*entity.Request, error)

	ApproveRequest(ctx context.Context, actor domainwf.Actor, code string) (*entity.Request, error)
	RejectRequest(ctx context.Context, actor domainwf.Actor, code, comment string) (*entity.Request, error)

	// ResubmitRequest moves a rejected request back to pending, optionally with new line items
	ResubmitRequest(ctx context.Context, actor domainwf.Actor, code string, items []entity.LineItem) (*entity.Request, error)

	// DownloadRequest marks the advance as disbursed, opens its liquidation and
	// schedules the reminder ladder
	DownloadRequest(ctx context.Context, actor domainwf.Actor, code string) (*entity.Request, *entity.Liquidation, error)

	// Reclassify applies automatic month classification as a system save
	Reclassify(ctx context.Context, code string) (*entity.Request, error)

	// ExpireRequest closes a downloaded request that never got a liquidation
	ExpireRequest(ctx context.Context, code, reason string) (*entity.Request, error)

	GetRequest(ctx context.Context, code string) (*entity.Request, error)

	SetLiquidationItems(ctx context.Context, actor domainwf.Actor, code string, items []entity.LineItem) (*entity.Liquidation, error)
	UploadDocument(ctx context.Context, actor domainwf.Actor, input UploadDocumentInput) (*entity.DocumentVersion, error)
	ReviewDocument(ctx context.Context, actor domainwf.Actor, documentID int64, status entity.DocumentStatus, comment string) error

	// FireLiquidation applies a liquidation trigger. Reaching liquidated also
	// closes the request, updates the school cache and suppresses reminders.
	FireLiquidation(ctx context.Context, actor domainwf.Actor, code string, trigger domainwf.Trigger, reason string) (*entity.Liquidation, error)

	// RefreshLiquidation recomputes refund and remaining days
	RefreshLiquidation(ctx context.Context, code string) (*entity.Liquidation, error)

	GetLiquidation(ctx context.Context, code string) (*entity.Liquidation, error)
	MissingDocuments(ctx context.Context, code string) ([]domainwf.MissingDocument, error)
	History(ctx context.Context, entityType, code string) ([]*entity.TransitionRecord, error)
}

// CreateRequestInput describes a new request
type CreateRequestInput struct {
	UserID string
	// TargetMonth defaults to the month after the school's last liquidation
	TargetMonth     *entity.Month
	Items           []entity.LineItem
	PreviousVersion string
	// SkipAutoClassify is the administrative override of month classification
	SkipAutoClassify bool
}

// UploadDocumentInput describes one evidence upload
type UploadDocumentInput struct {
	LiquidationCode string
	CategoryID      string
	RequirementID   string
	FileKey         string
}

// Repositories groups the stores the engine works against
type Repositories struct {
	Requests     port.RequestRepository
	Liquidations port.LiquidationRepository
	Schools      port.SchoolRepository
	Directory    port.Directory
	Registry     port.RequirementRegistry
	Documents    port.DocumentRepository
	Reminders    port.ReminderRepository
	History      port.HistoryRepository
}

// RequestHook observes a request right after a transition, inside the transaction.
// Returning an error aborts the transition.
type RequestHook func(ctx context.Context, req *entity.Request, t domainwf.Transition) error

// LiquidationHook observes a liquidation right after a transition, inside the transaction
type LiquidationHook func(ctx context.Context, liq *entity.Liquidation, t domainwf.Transition) error

// Logger interface for engine logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
