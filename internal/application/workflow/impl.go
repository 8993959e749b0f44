package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// TriggerCreate is recorded in history when an entity comes into existence
const TriggerCreate domainwf.Trigger = "create"

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	repos     Repositories
	txManager port.TransactionManager
	clock     port.Clock
	logger    Logger

	requestHooks     []RequestHook
	liquidationHooks []LiquidationHook
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithLogger sets the engine logger
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithRequestHooks registers callbacks run after every request transition
func WithRequestHooks(hooks ...RequestHook) EngineOption {
	return func(e *engineImpl) {
		e.requestHooks = append(e.requestHooks, hooks...)
	}
}

// WithLiquidationHooks registers callbacks run after every liquidation transition
func WithLiquidationHooks(hooks ...LiquidationHook) EngineOption {
	return func(e *engineImpl) {
		e.liquidationHooks = append(e.liquidationHooks, hooks...)
	}
}

// NewEngine creates a new workflow engine
func NewEngine(repos Repositories, txManager port.TransactionManager, clock port.Clock, opts ...EngineOption) Engine {
	e := &engineImpl{
		repos:     repos,
		txManager: txManager,
		clock:     clock,
		logger:    nopLogger{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// withRetry runs fn in a transaction and retries it once after a lost race.
// fn must re-read everything it writes.
func (e *engineImpl) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := e.txManager.WithTransaction(ctx, fn)
	if errors.Is(err, domainwf.ErrStaleWrite) {
		e.logger.Info("Retrying after stale write", "op", op, "error", err)
		err = e.txManager.WithTransaction(ctx, fn)
	}
	return err
}

func (e *engineImpl) fireRequest(ctx context.Context, req *entity.Request, trigger domainwf.Trigger, guards RequestGuards, now time.Time) (domainwf.Transition, error) {
	if !entity.RequestStates.IsValid(req.Status) {
		return domainwf.Transition{}, fmt.Errorf("%w: request %s has status %q", domainwf.ErrInvalidState, req.Code, req.Status)
	}

	apply := func(ctx context.Context, t domainwf.Transition) error {
		DeriveRequestPatch(req, t.To, now).Apply(req)
		req.Status = t.To
		for _, hook := range e.requestHooks {
			if err := hook(ctx, req, t); err != nil {
				return err
			}
		}
		return nil
	}

	t, err := BuildRequestStateMachine(req.Status, guards, apply).Fire(ctx, trigger)
	if err != nil {
		return t, fmt.Errorf("request %s: %w", req.Code, err)
	}
	return t, nil
}

func (e *engineImpl) fireLiquidation(ctx context.Context, actor domainwf.Actor, liq *entity.Liquidation, trigger domainwf.Trigger, guards LiquidationGuards, now time.Time) (domainwf.Transition, error) {
	if !entity.LiquidationStates.IsValid(liq.Status) {
		return domainwf.Transition{}, fmt.Errorf("%w: liquidation %s has status %q", domainwf.ErrInvalidState, liq.Code, liq.Status)
	}

	apply := func(ctx context.Context, t domainwf.Transition) error {
		DeriveLiquidationPatch(liq, t.To, actor.ID, now).Apply(liq)
		liq.Status = t.To
		for _, hook := range e.liquidationHooks {
			if err := hook(ctx, liq, t); err != nil {
				return err
			}
		}
		return nil
	}

	t, err := BuildLiquidationStateMachine(liq.Status, guards, apply).Fire(ctx, trigger)
	if err != nil {
		return t, fmt.Errorf("liquidation %s: %w", liq.Code, err)
	}
	return t, nil
}

func (e *engineImpl) record(ctx context.Context, entityType, code string, t domainwf.Transition, actor domainwf.Actor, reason string, now time.Time) error {
	err := e.repos.History.Create(ctx, &entity.TransitionRecord{
		EntityType: entityType,
		EntityCode: code,
		FromStatus: t.From,
		ToStatus:   t.To,
		Trigger:    t.Trigger,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Reason:     reason,
		CreatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("failed to record %s history: %w", entityType, err)
	}

	e.logger.Info("State transition applied",
		"entity", entityType,
		"code", code,
		"from", t.From,
		"to", t.To,
		"trigger", t.Trigger,
		"actor", actor.ID)
	return nil
}

// Guards

func roleGuard(actor domainwf.Actor, roles ...domainwf.Role) domainwf.GuardFunc {
	return func(ctx context.Context) error {
		if !actor.HasRole(roles...) {
			return fmt.Errorf("%w: %s (%s)", domainwf.ErrForbidden, actor.ID, actor.Role)
		}
		return nil
	}
}

func ownerGuard(actor domainwf.Actor, req *entity.Request) domainwf.GuardFunc {
	return func(ctx context.Context) error {
		if actor.ID != req.UserID && !actor.HasRole() {
			return fmt.Errorf("%w: %s does not own request %s", domainwf.ErrForbidden, actor.ID, req.Code)
		}
		return nil
	}
}

func commentGuard(comment string) domainwf.GuardFunc {
	return func(ctx context.Context) error {
		if strings.TrimSpace(comment) == "" {
			return domainwf.ErrCommentRequired
		}
		return nil
	}
}

func (e *engineImpl) noLiquidationGuard(code string) domainwf.GuardFunc {
	return func(ctx context.Context) error {
		liq, err := e.repos.Liquidations.GetByRequest(ctx, code)
		if err != nil {
			return err
		}
		if liq != nil {
			return fmt.Errorf("liquidation %s exists", liq.Code)
		}
		return nil
	}
}

func (e *engineImpl) itemsGuard(items *[]entity.LineItem) domainwf.GuardFunc {
	return func(ctx context.Context) error {
		return e.validateItems(ctx, *items)
	}
}

func (e *engineImpl) documentsGuard(liq *entity.Liquidation) domainwf.GuardFunc {
	return func(ctx context.Context) error {
		missing, err := e.missingDocuments(ctx, liq)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return &domainwf.MissingDocumentsError{LiquidationCode: liq.Code, Missing: missing}
		}
		return nil
	}
}

// validateItems requires at least one item, positive amounts, and unique known categories
func (e *engineImpl) validateItems(ctx context.Context, items []entity.LineItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one line item is required", domainwf.ErrInvalidLineItems)
	}

	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.CategoryID == "" {
			return fmt.Errorf("%w: category is required", domainwf.ErrInvalidLineItems)
		}
		if seen[it.CategoryID] {
			return fmt.Errorf("%w: duplicate category %s", domainwf.ErrInvalidLineItems, it.CategoryID)
		}
		if !it.Amount.GreaterThan(decimal.Zero) {
			return fmt.Errorf("%w: amount for %s must be positive", domainwf.ErrInvalidLineItems, it.CategoryID)
		}
		seen[it.CategoryID] = true
		ids = append(ids, it.CategoryID)
	}

	unknown, err := e.repos.Registry.UnknownCategories(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to check categories: %w", err)
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: unknown categories %s", domainwf.ErrInvalidLineItems, strings.Join(unknown, ", "))
	}
	return nil
}

// missingDocuments lists every required (category, requirement) pair of liq's
// line items without a usable document
func (e *engineImpl) missingDocuments(ctx context.Context, liq *entity.Liquidation) ([]domainwf.MissingDocument, error) {
	if len(liq.Items) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(liq.Items))
	for _, it := range liq.Items {
		ids = append(ids, it.CategoryID)
	}

	requirements, err := e.repos.Registry.Requirements(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load requirements: %w", err)
	}

	docs, err := e.repos.Documents.ListByLiquidation(ctx, liq.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}

	usable := make(map[string]bool, len(docs))
	for _, d := range docs {
		if d.Usable() {
			usable[d.CategoryID+"/"+d.RequirementID] = true
		}
	}

	var missing []domainwf.MissingDocument
	for _, it := range liq.Items {
		for _, r := range requirements {
			if !r.Required || r.CategoryID != it.CategoryID {
				continue
			}
			if !usable[r.CategoryID+"/"+r.ID] {
				missing = append(missing, domainwf.MissingDocument{
					CategoryID:      r.CategoryID,
					RequirementID:   r.ID,
					RequirementName: r.Name,
				})
			}
		}
	}
	return missing, nil
}

func notFound(kind, code string) error {
	return fmt.Errorf("%w: %s %s", domainwf.ErrNotFound, kind, code)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
