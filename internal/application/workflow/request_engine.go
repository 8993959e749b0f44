package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/school-liquidation/internal/domain/entity"
	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// CreateRequest files a new request for input.UserID, or for the actor when unset
func (e *engineImpl) CreateRequest(ctx context.Context, actor domainwf.Actor, input CreateRequestInput) (*entity.Request, error) {
	userID := input.UserID
	if userID == "" {
		userID = actor.ID
	}
	if userID != actor.ID && !actor.HasRole() {
		return nil, fmt.Errorf("%w: %s cannot file for %s", domainwf.ErrForbidden, actor.ID, userID)
	}
	if input.SkipAutoClassify && !actor.HasRole() {
		return nil, fmt.Errorf("%w: classification override needs admin", domainwf.ErrForbidden)
	}

	var created *entity.Request
	err := e.withRetry(ctx, "create_request", func(ctx context.Context) error {
		user, err := e.repos.Directory.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}
		if user == nil {
			return notFound("user", userID)
		}

		if err := e.validateItems(ctx, input.Items); err != nil {
			return err
		}

		now := e.clock.Now()
		month, err := e.targetMonth(ctx, user, input.TargetMonth, now)
		if err != nil {
			return err
		}

		if input.PreviousVersion != "" {
			prev, err := e.repos.Requests.Get(ctx, input.PreviousVersion)
			if err != nil {
				return fmt.Errorf("failed to get previous request: %w", err)
			}
			if prev == nil {
				return notFound("request", input.PreviousVersion)
			}
			if prev.UserID != userID || prev.Status != entity.RequestRejected {
				return fmt.Errorf("%w: %s is not a rejected request of %s", domainwf.ErrInvalidTransition, prev.Code, userID)
			}
		}

		req := &entity.Request{
			Code:            entity.NewCode(entity.RequestCodePrefix),
			UserID:          userID,
			SchoolID:        user.SchoolID,
			TargetMonth:     month,
			Status:          entity.RequestPending,
			Items:           append([]entity.LineItem(nil), input.Items...),
			IsResubmission:  input.PreviousVersion != "",
			PreviousVersion: input.PreviousVersion,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		var classified *domainwf.Transition
		if !input.SkipAutoClassify {
			if trigger := autoClassify(req, now); trigger != "" {
				t, err := e.fireRequest(ctx, req, trigger, RequestGuards{}, now)
				if err != nil {
					return err
				}
				classified = &t
			}
		}

		if err := e.checkConflicts(ctx, req); err != nil {
			return err
		}
		if err := e.repos.Requests.Create(ctx, req); err != nil {
			return err
		}

		opened := domainwf.Transition{To: entity.RequestPending, Trigger: TriggerCreate}
		if err := e.record(ctx, entity.EntityRequest, req.Code, opened, actor, "", now); err != nil {
			return err
		}
		if classified != nil {
			if err := e.record(ctx, entity.EntityRequest, req.Code, *classified, domainwf.SystemActor(), "month classification", now); err != nil {
				return err
			}
		}
		created = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (e *engineImpl) targetMonth(ctx context.Context, user *entity.User, requested *entity.Month, now time.Time) (entity.Month, error) {
	if requested != nil {
		if requested.IsZero() {
			return entity.Month{}, fmt.Errorf("%w: target month is required", domainwf.ErrInvalidLineItems)
		}
		return *requested, nil
	}

	school, err := e.repos.Schools.Get(ctx, user.SchoolID)
	if err != nil {
		return entity.Month{}, fmt.Errorf("failed to get school: %w", err)
	}
	if school == nil {
		return entity.Month{}, notFound("school", user.SchoolID)
	}
	return school.NextRequestMonth(now), nil
}

// checkConflicts enforces one active request per user and one live request per month
func (e *engineImpl) checkConflicts(ctx context.Context, req *entity.Request) error {
	if isActive(req.Status) {
		active, err := e.repos.Requests.FindActiveByUser(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("failed to check active requests: %w", err)
		}
		if active != nil && active.Code != req.Code {
			return fmt.Errorf("%w: %s", domainwf.ErrActiveRequestExists, active.Code)
		}
	}

	dup, err := e.repos.Requests.FindByUserMonth(ctx, req.UserID, req.TargetMonth)
	if err != nil {
		return fmt.Errorf("failed to check target month: %w", err)
	}
	if dup != nil && dup.Code != req.Code {
		return fmt.Errorf("%w: %s already covers %s", domainwf.ErrDuplicateMonth, dup.Code, req.TargetMonth)
	}
	return nil
}

func isActive(status domainwf.State) bool {
	for _, s := range entity.ActiveRequestStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ApproveRequest approves a pending request
func (e *engineImpl) ApproveRequest(ctx context.Context, actor domainwf.Actor, code string) (*entity.Request, error) {
	guards := func(*entity.Request) RequestGuards {
		return RequestGuards{Reviewer: roleGuard(actor, domainwf.RoleSuperintendent)}
	}
	return e.transitionRequest(ctx, actor, code, TriggerApprove, "", guards, stampReviewer(actor))
}

// RejectRequest rejects a pending request with a mandatory comment
func (e *engineImpl) RejectRequest(ctx context.Context, actor domainwf.Actor, code, comment string) (*entity.Request, error) {
	guards := func(*entity.Request) RequestGuards {
		return RequestGuards{
			Reviewer: roleGuard(actor, domainwf.RoleSuperintendent),
			Comment:  commentGuard(comment),
		}
	}
	stamp := stampReviewer(actor)
	return e.transitionRequest(ctx, actor, code, TriggerReject, comment, guards, func(req *entity.Request, now time.Time) {
		stamp(req, now)
		req.RejectionComment = comment
	})
}

func stampReviewer(actor domainwf.Actor) func(*entity.Request, time.Time) {
	return func(req *entity.Request, now time.Time) {
		req.ReviewedBy = actor.ID
		req.ReviewedAt = &now
	}
}

// ResubmitRequest moves a rejected request back to pending
func (e *engineImpl) ResubmitRequest(ctx context.Context, actor domainwf.Actor, code string, items []entity.LineItem) (*entity.Request, error) {
	var out *entity.Request
	err := e.withRetry(ctx, "resubmit_request", func(ctx context.Context) error {
		req, err := e.lockRequest(ctx, code)
		if err != nil {
			return err
		}
		expected := req.Version
		working := req.Clone()
		now := e.clock.Now()

		if len(items) > 0 {
			working.Items = append([]entity.LineItem(nil), items...)
		}

		guards := RequestGuards{Owner: ownerGuard(actor, working), LineItems: e.itemsGuard(&working.Items)}
		t, err := e.fireRequest(ctx, working, TriggerResubmit, guards, now)
		if err != nil {
			return err
		}
		working.IsResubmission = true

		var classified *domainwf.Transition
		if trigger := autoClassify(working, now); trigger != "" {
			ct, err := e.fireRequest(ctx, working, trigger, RequestGuards{}, now)
			if err != nil {
				return err
			}
			classified = &ct
		}

		if err := e.checkConflicts(ctx, working); err != nil {
			return err
		}
		if err := e.save(ctx, working, expected, now); err != nil {
			return err
		}
		if err := e.record(ctx, entity.EntityRequest, code, t, actor, "", now); err != nil {
			return err
		}
		if classified != nil {
			if err := e.record(ctx, entity.EntityRequest, code, *classified, domainwf.SystemActor(), "month classification", now); err != nil {
				return err
			}
		}
		out = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadRequest marks an approved request downloaded. In the same transaction it
// creates the liquidation, schedules the reminder ladder and settles the request
// in unliquidated.
func (e *engineImpl) DownloadRequest(ctx context.Context, actor domainwf.Actor, code string) (*entity.Request, *entity.Liquidation, error) {
	var (
		outReq *entity.Request
		outLiq *entity.Liquidation
	)
	err := e.withRetry(ctx, "download_request", func(ctx context.Context) error {
		req, err := e.lockRequest(ctx, code)
		if err != nil {
			return err
		}
		expected := req.Version
		working := req.Clone()
		now := e.clock.Now()

		downloaded, err := e.fireRequest(ctx, working, TriggerDownload, RequestGuards{Owner: ownerGuard(actor, working)}, now)
		if err != nil {
			return err
		}

		liq := &entity.Liquidation{
			Code:        entity.NewCode(entity.LiquidationCodePrefix),
			RequestCode: working.Code,
			Status:      entity.LiquidationDraft,
			Items:       append([]entity.LineItem(nil), working.Items...),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		Recompute(liq, working, now)
		if err := e.repos.Liquidations.Create(ctx, liq); err != nil {
			return err
		}

		if err := e.repos.Reminders.Schedule(ctx, entity.NewLadder(working.Code, *working.DownloadedAt)); err != nil {
			return fmt.Errorf("failed to schedule reminders: %w", err)
		}

		opened, err := e.fireRequest(ctx, working, TriggerOpenLiquidation, RequestGuards{}, now)
		if err != nil {
			return err
		}

		if err := e.save(ctx, working, expected, now); err != nil {
			return err
		}
		for _, t := range []domainwf.Transition{downloaded, opened} {
			if err := e.record(ctx, entity.EntityRequest, code, t, actor, "", now); err != nil {
				return err
			}
		}
		created := domainwf.Transition{To: entity.LiquidationDraft, Trigger: TriggerCreate}
		if err := e.record(ctx, entity.EntityLiquidation, liq.Code, created, actor, "", now); err != nil {
			return err
		}

		outReq, outLiq = working, liq
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outReq, outLiq, nil
}

// Reclassify applies automatic month classification. Requests outside pending
// and advanced are returned unchanged.
func (e *engineImpl) Reclassify(ctx context.Context, code string) (*entity.Request, error) {
	var out *entity.Request
	err := e.withRetry(ctx, "reclassify_request", func(ctx context.Context) error {
		req, err := e.lockRequest(ctx, code)
		if err != nil {
			return err
		}
		now := e.clock.Now()

		trigger := autoClassify(req, now)
		if trigger == "" {
			out = req
			return nil
		}

		expected := req.Version
		working := req.Clone()
		t, err := e.fireRequest(ctx, working, trigger, RequestGuards{}, now)
		if err != nil {
			return err
		}
		if err := e.checkConflicts(ctx, working); err != nil {
			return err
		}
		if err := e.save(ctx, working, expected, now); err != nil {
			return err
		}
		if err := e.record(ctx, entity.EntityRequest, code, t, domainwf.SystemActor(), "month classification", now); err != nil {
			return err
		}
		out = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireRequest closes a downloaded request that has no liquidation and
// suppresses its remaining reminders
func (e *engineImpl) ExpireRequest(ctx context.Context, code, reason string) (*entity.Request, error) {
	actor := domainwf.SystemActor()
	guards := func(*entity.Request) RequestGuards {
		return RequestGuards{NoLiquidation: e.noLiquidationGuard(code)}
	}

	var out *entity.Request
	err := e.withRetry(ctx, "expire_request", func(ctx context.Context) error {
		req, err := e.transitionRequestTx(ctx, actor, code, TriggerExpire, reason, guards, nil)
		if err != nil {
			return err
		}
		if _, err := e.repos.Reminders.SuppressPending(ctx, code); err != nil {
			return fmt.Errorf("failed to suppress reminders: %w", err)
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetRequest retrieves a request
func (e *engineImpl) GetRequest(ctx context.Context, code string) (*entity.Request, error) {
	req, err := e.repos.Requests.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	if req == nil {
		return nil, notFound("request", code)
	}
	return req, nil
}

// transitionRequest fires one reviewer or owner trigger with retry
func (e *engineImpl) transitionRequest(
	ctx context.Context,
	actor domainwf.Actor,
	code string,
	trigger domainwf.Trigger,
	reason string,
	guards func(*entity.Request) RequestGuards,
	mutate func(*entity.Request, time.Time),
) (*entity.Request, error) {
	var out *entity.Request
	err := e.withRetry(ctx, string(trigger), func(ctx context.Context) error {
		req, err := e.transitionRequestTx(ctx, actor, code, trigger, reason, guards, mutate)
		if err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *engineImpl) transitionRequestTx(
	ctx context.Context,
	actor domainwf.Actor,
	code string,
	trigger domainwf.Trigger,
	reason string,
	guards func(*entity.Request) RequestGuards,
	mutate func(*entity.Request, time.Time),
) (*entity.Request, error) {
	req, err := e.lockRequest(ctx, code)
	if err != nil {
		return nil, err
	}
	expected := req.Version
	working := req.Clone()
	now := e.clock.Now()

	t, err := e.fireRequest(ctx, working, trigger, guards(working), now)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(working, now)
	}

	if err := e.save(ctx, working, expected, now); err != nil {
		return nil, err
	}
	if err := e.record(ctx, entity.EntityRequest, code, t, actor, reason, now); err != nil {
		return nil, err
	}
	return working, nil
}

func (e *engineImpl) lockRequest(ctx context.Context, code string) (*entity.Request, error) {
	req, err := e.repos.Requests.GetForUpdate(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to lock request: %w", err)
	}
	if req == nil {
		return nil, notFound("request", code)
	}
	return req, nil
}

func (e *engineImpl) save(ctx context.Context, req *entity.Request, expected int64, now time.Time) error {
	req.UpdatedAt = now
	return e.repos.Requests.Update(ctx, req, expected)
}
