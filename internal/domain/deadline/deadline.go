// Package deadline computes the liquidation deadline and the reminder ladder
// from a request's download timestamp. All functions are pure.
package deadline

import (
	"math"
	"time"
)

// Window is the number of days a school has to liquidate a downloaded request
const Window = 30

const day = 24 * time.Hour

// Kind identifies one rung of the reminder ladder
type Kind string

const (
	KindDay10        Kind = "day-10"
	KindDay5         Kind = "day-5"
	KindDay2         Kind = "day-2"
	KindDay1         Kind = "day-1"
	KindDay0         Kind = "day-0"
	KindDemandLetter Kind = "demand-letter"
)

// Rung is one scheduled ladder entry
type Rung struct {
	Kind  Kind
	Label int // days left at fire time; -1 for the demand letter
	Due   time.Time
}

// IsTerminal returns true for the demand letter rung
func (k Kind) IsTerminal() bool {
	return k == KindDemandLetter
}

// Label returns the days-left label of a reminder kind
func (k Kind) Label() int {
	switch k {
	case KindDay10:
		return 10
	case KindDay5:
		return 5
	case KindDay2:
		return 2
	case KindDay1:
		return 1
	case KindDay0:
		return 0
	}
	return -1
}

// Rank orders kinds by urgency
func (k Kind) Rank() int {
	for i, r := range ladderOffsets {
		if r.kind == k {
			return i
		}
	}
	return -1
}

var ladderOffsets = []struct {
	kind Kind
	days int
}{
	{KindDay10, 20},
	{KindDay5, 25},
	{KindDay2, 28},
	{KindDay1, 29},
	{KindDay0, 30},
	{KindDemandLetter, 31},
}

// Kinds returns every ladder kind in firing order
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(ladderOffsets))
	for _, r := range ladderOffsets {
		kinds = append(kinds, r.kind)
	}
	return kinds
}

// Deadline returns downloadedAt + Window days, or nil if not downloaded
func Deadline(downloadedAt *time.Time) *time.Time {
	if downloadedAt == nil {
		return nil
	}
	d := downloadedAt.Add(Window * day)
	return &d
}

// RemainingDays returns the whole days left before the deadline, floored at zero
func RemainingDays(downloadedAt *time.Time, now time.Time) *int {
	d := Deadline(downloadedAt)
	if d == nil {
		return nil
	}
	left := int(math.Floor(d.Sub(now).Hours() / 24))
	if left < 0 {
		left = 0
	}
	return &left
}

// Ladder returns the reminder ladder for a download timestamp
func Ladder(downloadedAt time.Time) []Rung {
	rungs := make([]Rung, 0, len(ladderOffsets))
	for _, r := range ladderOffsets {
		rungs = append(rungs, Rung{
			Kind:  r.kind,
			Label: r.kind.Label(),
			Due:   downloadedAt.Add(time.Duration(r.days) * day),
		})
	}
	return rungs
}
