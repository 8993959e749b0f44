package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// LineItem is one budget category and its amount
type LineItem struct {
	CategoryID string          `json:"category_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// Request is a school's cash advance for a target month
type Request struct {
	Code             string         `json:"code"`
	UserID           string         `json:"user_id"`
	SchoolID         string         `json:"school_id"`
	TargetMonth      Month          `json:"-"`
	Status           workflow.State `json:"status"`
	Items            []LineItem     `json:"items"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	DownloadedAt     *time.Time     `json:"downloaded_at,omitempty"`
	RejectionComment string         `json:"rejection_comment,omitempty"`
	RejectedAt       *time.Time     `json:"rejected_at,omitempty"`
	ReviewedBy       string         `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time     `json:"reviewed_at,omitempty"`
	IsResubmission   bool           `json:"is_resubmission"`
	PreviousVersion  string         `json:"previous_version,omitempty"`
	Version          int64          `json:"version"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Total sums the request's line items
func (r *Request) Total() decimal.Decimal {
	return sumItems(r.Items)
}

// Clone returns a deep copy safe to mutate
func (r *Request) Clone() *Request {
	c := *r
	c.Items = append([]LineItem(nil), r.Items...)
	return &c
}

func sumItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return total
}
