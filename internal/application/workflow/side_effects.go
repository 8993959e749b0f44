package workflow

import (
	"time"

	"github.com/garyjia/school-liquidation/internal/domain/deadline"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// RequestPatch is the set of field changes a request status change implies
type RequestPatch struct {
	ApprovedAt     *time.Time
	DownloadedAt   *time.Time
	RejectedAt     *time.Time
	ClearApproval  bool
	ClearDownload  bool
	ClearRejection bool
	ClearReview    bool
}

// DeriveRequestPatch computes the date fields implied by moving old to status to.
// Set-once fields keep their first value.
func DeriveRequestPatch(old *entity.Request, to domainwf.State, now time.Time) RequestPatch {
	var p RequestPatch

	switch to {
	case entity.RequestApproved:
		if old.ApprovedAt == nil {
			p.ApprovedAt = &now
		}
		p.ClearRejection = true
	case entity.RequestDownloaded:
		if old.DownloadedAt == nil {
			p.DownloadedAt = &now
		}
	case entity.RequestRejected:
		p.RejectedAt = &now
	case entity.RequestPending, entity.RequestAdvanced:
		p.ClearApproval = true
		p.ClearDownload = true
		p.ClearRejection = true
		p.ClearReview = true
	}

	return p
}

// Apply writes the patch onto req
func (p RequestPatch) Apply(req *entity.Request) {
	if p.ClearApproval {
		req.ApprovedAt = nil
	}
	if p.ClearDownload {
		req.DownloadedAt = nil
	}
	if p.ClearRejection {
		req.RejectedAt = nil
		req.RejectionComment = ""
	}
	if p.ClearReview {
		req.ReviewedBy = ""
		req.ReviewedAt = nil
	}
	if p.ApprovedAt != nil {
		req.ApprovedAt = p.ApprovedAt
	}
	if p.DownloadedAt != nil {
		req.DownloadedAt = p.DownloadedAt
	}
	if p.RejectedAt != nil {
		req.RejectedAt = p.RejectedAt
	}
}

// Review is a reviewer stamp
type Review struct {
	Reviewer string
	At       time.Time
}

// LiquidationPatch is the set of field changes a liquidation status change implies
type LiquidationPatch struct {
	DistrictReview        *Review
	DivisionReview        *Review
	ClearDistrictReview   bool
	ClearDivisionReview   bool
	DistrictApprovedAt    *time.Time
	ClearDistrictApproval bool
	LiquidatedAt          *time.Time
}

// DeriveLiquidationPatch computes the reviewer and date fields implied by
// moving old to status to, performed by actorID
func DeriveLiquidationPatch(old *entity.Liquidation, to domainwf.State, actorID string, now time.Time) LiquidationPatch {
	var p LiquidationPatch
	stamp := &Review{Reviewer: actorID, At: now}

	switch to {
	case entity.LiquidationUnderReviewDistrict:
		p.DistrictReview = stamp
	case entity.LiquidationApprovedDistrict:
		p.DistrictReview = stamp
		if old.DistrictApprovedAt == nil {
			p.DistrictApprovedAt = &now
		}
	case entity.LiquidationUnderReviewDivision:
		p.DivisionReview = stamp
	case entity.LiquidationLiquidated:
		p.DivisionReview = stamp
		if old.LiquidatedAt == nil {
			p.LiquidatedAt = &now
		}
	case entity.LiquidationResubmit:
		if old.Status == entity.LiquidationUnderReviewDivision {
			p.ClearDivisionReview = true
		} else {
			p.ClearDistrictReview = true
		}
		p.ClearDistrictApproval = old.DistrictApprovedAt != nil
	}

	return p
}

// Apply writes the patch onto liq
func (p LiquidationPatch) Apply(liq *entity.Liquidation) {
	if p.ClearDistrictReview {
		liq.DistrictReviewer, liq.DistrictReviewedAt = "", nil
	}
	if p.ClearDivisionReview {
		liq.DivisionReviewer, liq.DivisionReviewedAt = "", nil
	}
	if p.ClearDistrictApproval {
		liq.DistrictApprovedAt = nil
	}
	if p.DistrictReview != nil {
		at := p.DistrictReview.At
		liq.DistrictReviewer, liq.DistrictReviewedAt = p.DistrictReview.Reviewer, &at
	}
	if p.DivisionReview != nil {
		at := p.DivisionReview.At
		liq.DivisionReviewer, liq.DivisionReviewedAt = p.DivisionReview.Reviewer, &at
	}
	if p.DistrictApprovedAt != nil {
		liq.DistrictApprovedAt = p.DistrictApprovedAt
	}
	if p.LiquidatedAt != nil {
		liq.LiquidatedAt = p.LiquidatedAt
	}
}

// Recompute refreshes the derived refund and remaining days of liq
func Recompute(liq *entity.Liquidation, req *entity.Request, now time.Time) {
	liq.Refund = entity.ComputeRefund(req.Total(), liq.Total())
	liq.RemainingDays = deadline.RemainingDays(req.DownloadedAt, now)
}

// autoClassify returns the trigger an automatic save applies, or "" for none.
// Only pending and advanced requests are ever reclassified.
func autoClassify(req *entity.Request, now time.Time) domainwf.Trigger {
	current := entity.MonthOf(now)
	switch {
	case req.Status == entity.RequestPending && req.TargetMonth.Compare(current) > 0:
		return TriggerDefer
	case req.Status == entity.RequestAdvanced && req.TargetMonth.Compare(current) <= 0:
		return TriggerActivate
	}
	return ""
}
