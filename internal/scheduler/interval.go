package scheduler

import (
	"errors"
	"time"
)

// ErrEmptyInterval is returned when an interval does not end strictly after it starts.
var ErrEmptyInterval = errors.New("scheduler: interval end must be after start")

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Validate reports whether the interval is well formed.
func (i Interval) Validate() error {
	if i.Start.IsZero() || i.End.IsZero() || !i.End.After(i.Start) {
		return ErrEmptyInterval
	}
	return nil
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Overlaps reports whether two half-open intervals share at least one instant.
// Intervals that only touch at a boundary do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func lessInterval(a, b Interval) bool {
	if a.Start.Equal(b.Start) {
		return a.End.Before(b.End)
	}
	return a.Start.Before(b.Start)
}
