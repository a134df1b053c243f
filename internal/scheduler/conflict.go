package scheduler

import (
	"context"
	"sort"
)

// Booking is the scheduling view of a training session.
type Booking struct {
	ID        string
	TrainerID string
	ClientID  string
	Interval  Interval
	Status    Status
}

// Proposal describes a booking that has not been committed yet.
type Proposal struct {
	TrainerID string
	ClientID  string
	Interval  Interval
	// ExcludeBookingID is skipped during detection so an updated booking does
	// not conflict with its own stored row.
	ExcludeBookingID string
}

// ConflictType names the resource on which a conflict was found.
type ConflictType string

const (
	// ConflictTypeTrainer indicates the trainer is double-booked.
	ConflictTypeTrainer ConflictType = "trainer"
	// ConflictTypeClient indicates the client is double-booked.
	ConflictTypeClient ConflictType = "client"
)

// Conflict pairs an existing booking with the resources it shares with the proposal.
type Conflict struct {
	Booking Booking
	Types   []ConflictType
}

// DetectConflicts returns every existing booking that blocks the proposal.
// Cancelled bookings and the excluded booking are ignored; bookings that appear
// more than once in existing are reported once. Results are ordered by start,
// then end, then id.
func DetectConflicts(existing []Booking, proposal Proposal) []Conflict {
	seen := make(map[string]struct{}, len(existing))
	conflicts := make([]Conflict, 0)

	for _, booking := range existing {
		if booking.ID != "" {
			if _, ok := seen[booking.ID]; ok {
				continue
			}
			seen[booking.ID] = struct{}{}
		}
		if booking.ID != "" && booking.ID == proposal.ExcludeBookingID {
			continue
		}
		if booking.Status == StatusCancelled {
			continue
		}

		types := sharedResources(booking, proposal)
		if len(types) == 0 {
			continue
		}
		if !Overlaps(booking.Interval, proposal.Interval) {
			continue
		}
		conflicts = append(conflicts, Conflict{Booking: booking, Types: types})
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		a, b := conflicts[i].Booking, conflicts[j].Booking
		if a.Interval.Start.Equal(b.Interval.Start) && a.Interval.End.Equal(b.Interval.End) {
			return a.ID < b.ID
		}
		return lessInterval(a.Interval, b.Interval)
	})

	if len(conflicts) == 0 {
		return nil
	}
	return conflicts
}

func sharedResources(booking Booking, proposal Proposal) []ConflictType {
	var types []ConflictType
	if proposal.TrainerID != "" && booking.TrainerID == proposal.TrainerID {
		types = append(types, ConflictTypeTrainer)
	}
	if proposal.ClientID != "" && booking.ClientID == proposal.ClientID {
		types = append(types, ConflictTypeClient)
	}
	return types
}

// CandidateFinder loads bookings that share a trainer or client with the
// proposal and may overlap its interval. Implementations may return a superset;
// DetectConflicts performs the authoritative filtering.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, proposal Proposal) ([]Booking, error)
}

// Detector runs conflict detection against stored bookings.
type Detector struct {
	finder CandidateFinder
}

// NewDetector wires a Detector to its candidate source.
func NewDetector(finder CandidateFinder) *Detector {
	return &Detector{finder: finder}
}

// FindConflicts validates the proposal interval, loads candidates and returns
// the full conflict set.
func (d *Detector) FindConflicts(ctx context.Context, proposal Proposal) ([]Conflict, error) {
	if err := proposal.Interval.Validate(); err != nil {
		return nil, err
	}
	if d == nil || d.finder == nil {
		return nil, nil
	}

	candidates, err := d.finder.FindCandidates(ctx, proposal)
	if err != nil {
		return nil, err
	}
	return DetectConflicts(candidates, proposal), nil
}
