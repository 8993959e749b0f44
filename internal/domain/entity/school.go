package entity

import (
	"time"

	"github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// School owns requests and caches the month of its most recent liquidation
type School struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	LastLiquidatedMonth *int   `json:"last_liquidated_month,omitempty"`
	LastLiquidatedYear  *int   `json:"last_liquidated_year,omitempty"`
	Version             int64  `json:"version"`
}

// LastLiquidated returns the cached month, if any
func (s *School) LastLiquidated() (Month, bool) {
	if s.LastLiquidatedMonth == nil || s.LastLiquidatedYear == nil {
		return Month{}, false
	}
	return Month{Year: *s.LastLiquidatedYear, Month: time.Month(*s.LastLiquidatedMonth)}, true
}

// NextRequestMonth is the month after the last liquidated one, or the current month
func (s *School) NextRequestMonth(now time.Time) Month {
	if last, ok := s.LastLiquidated(); ok {
		return last.Next()
	}
	return MonthOf(now)
}

// User is a directory entry. Administration happens outside this service.
type User struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Email      string        `json:"email"`
	LarkOpenID string        `json:"lark_open_id,omitempty"`
	Role       workflow.Role `json:"role"`
	SchoolID   string        `json:"school_id,omitempty"`
}
