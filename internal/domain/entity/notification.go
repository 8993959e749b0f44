package entity

import (
	"time"

	"github.com/garyjia/school-liquidation/internal/domain/deadline"
)

// ReminderDispatch is one scheduled rung of a request's reminder ladder.
// The row is both the durable timer and the dedup record.
type ReminderDispatch struct {
	RequestCode string         `json:"request_code"`
	Kind        deadline.Kind  `json:"kind"`
	DueAt       time.Time      `json:"due_at"`
	Status      DispatchStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

// BudgetNotice is the per-year marker of the annual budget notification
type BudgetNotice struct {
	Year      int            `json:"year"`
	Status    DispatchStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	ClaimedAt *time.Time     `json:"claimed_at,omitempty"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}

// NewLadder returns the pending ladder rows for a downloaded request
func NewLadder(requestCode string, downloadedAt time.Time) []*ReminderDispatch {
	rungs := deadline.Ladder(downloadedAt)
	rows := make([]*ReminderDispatch, 0, len(rungs))
	for _, r := range rungs {
		rows = append(rows, &ReminderDispatch{
			RequestCode: requestCode,
			Kind:        r.Kind,
			DueAt:       r.Due,
			Status:      DispatchPending,
		})
	}
	return rows
}
