package workflow

import (
	"context"

	"github.com/garyjia/school-liquidation/internal/domain/entity"
	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// Request triggers
const (
	TriggerApprove         domainwf.Trigger = "approve"
	TriggerReject          domainwf.Trigger = "reject"
	TriggerDownload        domainwf.Trigger = "download"
	TriggerOpenLiquidation domainwf.Trigger = "open_liquidation"
	TriggerResubmit        domainwf.Trigger = "resubmit"
	TriggerDefer           domainwf.Trigger = "defer"
	TriggerActivate        domainwf.Trigger = "activate"
	TriggerClose           domainwf.Trigger = "close"
	TriggerExpire          domainwf.Trigger = "expire"
)

// Liquidation triggers
const (
	TriggerSubmit              domainwf.Trigger = "submit"
	TriggerStartDistrictReview domainwf.Trigger = "start_district_review"
	TriggerApproveDistrict     domainwf.Trigger = "approve_district"
	TriggerStartDivisionReview domainwf.Trigger = "start_division_review"
	TriggerApproveDivision     domainwf.Trigger = "approve_division"
	TriggerRequestRevision     domainwf.Trigger = "request_revision"
)

// RequestGuards are evaluated when the matching trigger fires. Nil guards permit.
type RequestGuards struct {
	Reviewer      domainwf.GuardFunc // approve, reject
	Comment       domainwf.GuardFunc // reject
	Owner         domainwf.GuardFunc // download, resubmit
	LineItems     domainwf.GuardFunc // resubmit
	NoLiquidation domainwf.GuardFunc // expire
}

// BuildRequestStateMachine creates a state machine configured for the request lifecycle
func BuildRequestStateMachine(initialState domainwf.State, g RequestGuards, hooks ...domainwf.TransitionHook) domainwf.StateMachine {
	builder := domainwf.NewBuilder(entity.RequestStates)

	builder.Configure(entity.RequestPending).
		PermitIf(TriggerApprove, entity.RequestApproved, g.Reviewer).
		PermitIf(TriggerReject, entity.RequestRejected, allOf(g.Reviewer, g.Comment)).
		Permit(TriggerDefer, entity.RequestAdvanced)

	builder.Configure(entity.RequestAdvanced).
		Permit(TriggerActivate, entity.RequestPending)

	builder.Configure(entity.RequestRejected).
		PermitIf(TriggerResubmit, entity.RequestPending, allOf(g.Owner, g.LineItems))

	builder.Configure(entity.RequestApproved).
		PermitIf(TriggerDownload, entity.RequestDownloaded, g.Owner)

	builder.Configure(entity.RequestDownloaded).
		Permit(TriggerOpenLiquidation, entity.RequestUnliquidated).
		PermitIf(TriggerExpire, entity.RequestExpired, g.NoLiquidation)

	builder.Configure(entity.RequestUnliquidated).
		Permit(TriggerClose, entity.RequestLiquidated).
		PermitIf(TriggerExpire, entity.RequestExpired, g.NoLiquidation)

	// liquidated and expired are terminal

	for _, h := range hooks {
		builder.OnTransition(h)
	}
	return builder.Build(initialState)
}

// LiquidationGuards are evaluated when the matching trigger fires. Nil guards permit.
type LiquidationGuards struct {
	Owner     domainwf.GuardFunc // submit
	Documents domainwf.GuardFunc // submit
	District  domainwf.GuardFunc // district stage
	Division  domainwf.GuardFunc // division stage
}

// BuildLiquidationStateMachine creates a state machine configured for the liquidation lifecycle
func BuildLiquidationStateMachine(initialState domainwf.State, g LiquidationGuards, hooks ...domainwf.TransitionHook) domainwf.StateMachine {
	builder := domainwf.NewBuilder(entity.LiquidationStates)
	submit := allOf(g.Owner, g.Documents)

	builder.Configure(entity.LiquidationDraft).
		PermitIf(TriggerSubmit, entity.LiquidationSubmitted, submit)

	builder.Configure(entity.LiquidationResubmit).
		PermitIf(TriggerSubmit, entity.LiquidationSubmitted, submit)

	builder.Configure(entity.LiquidationSubmitted).
		PermitIf(TriggerStartDistrictReview, entity.LiquidationUnderReviewDistrict, g.District).
		PermitIf(TriggerRequestRevision, entity.LiquidationResubmit, g.District)

	builder.Configure(entity.LiquidationUnderReviewDistrict).
		PermitIf(TriggerApproveDistrict, entity.LiquidationApprovedDistrict, g.District).
		PermitIf(TriggerRequestRevision, entity.LiquidationResubmit, g.District)

	builder.Configure(entity.LiquidationApprovedDistrict).
		PermitIf(TriggerStartDivisionReview, entity.LiquidationUnderReviewDivision, g.Division).
		PermitIf(TriggerRequestRevision, entity.LiquidationResubmit, g.Division)

	builder.Configure(entity.LiquidationUnderReviewDivision).
		PermitIf(TriggerApproveDivision, entity.LiquidationLiquidated, g.Division).
		PermitIf(TriggerRequestRevision, entity.LiquidationResubmit, g.Division)

	for _, h := range hooks {
		builder.OnTransition(h)
	}
	return builder.Build(initialState)
}

// allOf combines guards; the first refusal wins
func allOf(guards ...domainwf.GuardFunc) domainwf.GuardFunc {
	return func(ctx context.Context) error {
		for _, g := range guards {
			if g == nil {
				continue
			}
			if err := g(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
