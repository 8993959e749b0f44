// Package clock provides the wall clock in the division's time zone
package clock

import (
	"fmt"
	"time"
)

// SystemClock implements port.Clock over time.Now
type SystemClock struct {
	loc *time.Location
}

// NewSystemClock loads the IANA zone name. An empty name means UTC.
func NewSystemClock(timezone string) (*SystemClock, error) {
	if timezone == "" {
		return &SystemClock{loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", timezone, err)
	}
	return &SystemClock{loc: loc}, nil
}

// Now returns the current time in the configured zone
func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the configured zone
func (c *SystemClock) Location() *time.Location {
	return c.loc
}
