package entity

import "github.com/garyjia/school-liquidation/internal/domain/workflow"

// Request statuses
const (
	RequestPending      workflow.State = "pending"
	RequestApproved     workflow.State = "approved"
	RequestRejected     workflow.State = "rejected"
	RequestDownloaded   workflow.State = "downloaded"
	RequestUnliquidated workflow.State = "unliquidated"
	RequestLiquidated   workflow.State = "liquidated"
	RequestAdvanced     workflow.State = "advanced"
	RequestExpired      workflow.State = "expired"
)

// RequestStates is the closed state set of a Request
var RequestStates = workflow.NewStateSet(
	[]workflow.State{
		RequestPending, RequestApproved, RequestRejected, RequestDownloaded,
		RequestUnliquidated, RequestAdvanced,
	},
	RequestLiquidated, RequestExpired,
)

// ActiveRequestStatuses may exist at most once per user
var ActiveRequestStatuses = []workflow.State{
	RequestPending, RequestApproved, RequestDownloaded, RequestUnliquidated,
}

// Liquidation statuses
const (
	LiquidationDraft               workflow.State = "draft"
	LiquidationSubmitted           workflow.State = "submitted"
	LiquidationUnderReviewDistrict workflow.State = "under_review_district"
	LiquidationApprovedDistrict    workflow.State = "approved_district"
	LiquidationUnderReviewDivision workflow.State = "under_review_division"
	LiquidationResubmit            workflow.State = "resubmit"
	LiquidationLiquidated          workflow.State = "liquidated"
)

// LiquidationStates is the closed state set of a Liquidation
var LiquidationStates = workflow.NewStateSet(
	[]workflow.State{
		LiquidationDraft, LiquidationSubmitted, LiquidationUnderReviewDistrict,
		LiquidationApprovedDistrict, LiquidationUnderReviewDivision, LiquidationResubmit,
	},
	LiquidationLiquidated,
)

// DocumentStatus is the tri-state review status of an evidence document
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentApproved DocumentStatus = "approved"
	DocumentRejected DocumentStatus = "rejected"
)

// DispatchStatus tracks a scheduled notification through its lifecycle
type DispatchStatus string

const (
	DispatchPending    DispatchStatus = "pending"
	DispatchFiring     DispatchStatus = "firing"
	DispatchSent       DispatchStatus = "sent"
	DispatchSuppressed DispatchStatus = "suppressed"
	DispatchMissed     DispatchStatus = "missed"
	DispatchSuperseded DispatchStatus = "superseded"
)

// Entity type names used in transition history
const (
	EntityRequest     = "request"
	EntityLiquidation = "liquidation"
)
