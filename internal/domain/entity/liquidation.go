package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// Liquidation is the school's accounting of a downloaded request
type Liquidation struct {
	Code               string           `json:"code"`
	RequestCode        string           `json:"request_code"`
	Status             workflow.State   `json:"status"`
	Items              []LineItem       `json:"items"`
	Refund             *decimal.Decimal `json:"refund,omitempty"`
	DistrictReviewer   string           `json:"district_reviewer,omitempty"`
	DistrictReviewedAt *time.Time       `json:"district_reviewed_at,omitempty"`
	DistrictApprovedAt *time.Time       `json:"district_approved_at,omitempty"`
	DivisionReviewer   string           `json:"division_reviewer,omitempty"`
	DivisionReviewedAt *time.Time       `json:"division_reviewed_at,omitempty"`
	LiquidatedAt       *time.Time       `json:"liquidated_at,omitempty"`
	RemainingDays      *int             `json:"remaining_days,omitempty"`
	Version            int64            `json:"version"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Total sums the liquidation's line items
func (l *Liquidation) Total() decimal.Decimal {
	return sumItems(l.Items)
}

// Clone returns a deep copy safe to mutate
func (l *Liquidation) Clone() *Liquidation {
	c := *l
	c.Items = append([]LineItem(nil), l.Items...)
	return &c
}

// Editable reports whether line items and documents may change
func (l *Liquidation) Editable() bool {
	return l.Status == LiquidationDraft || l.Status == LiquidationResubmit
}

// ComputeRefund returns request total minus liquidated total, or nil when they match
func ComputeRefund(requested, spent decimal.Decimal) *decimal.Decimal {
	diff := requested.Sub(spent)
	if diff.IsZero() {
		return nil
	}
	return &diff
}
