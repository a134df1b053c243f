package scheduler

import "time"

// Status is the persisted status of a booking.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the persisted booking statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status is authoritative regardless of time.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// EffectiveStatus is the status shown to readers once the clock is taken into account.
type EffectiveStatus string

const (
	EffectiveScheduled  EffectiveStatus = "scheduled"
	EffectiveInProgress EffectiveStatus = "in_progress"
	EffectiveCompleted  EffectiveStatus = "completed"
	EffectiveCancelled  EffectiveStatus = "cancelled"
)

// DeriveStatus computes the effective status of a booking at now. Terminal
// stored statuses are returned unchanged; otherwise the position of now relative
// to the interval decides.
func DeriveStatus(stored Status, interval Interval, now time.Time) EffectiveStatus {
	switch stored {
	case StatusCancelled:
		return EffectiveCancelled
	case StatusCompleted:
		return EffectiveCompleted
	}

	switch {
	case now.Before(interval.Start):
		return EffectiveScheduled
	case interval.Contains(now):
		return EffectiveInProgress
	default:
		return EffectiveCompleted
	}
}
