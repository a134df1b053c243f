package lifecycle

import (
	"fmt"
	"sort"
	"time"
)

// Record is the state-relevant part of a history entry.
type Record struct {
	From      *State
	To        State
	ChangedAt time.Time
}

// Replay folds history records in ChangedAt order and returns the state they
// produce. The first record must be the inception record (no From state) and
// every subsequent record must continue from the previous To state along a
// permitted edge.
func Replay(records []Record) (State, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("%w: no records", ErrHistoryCorrupt)
	}

	ordered := make([]Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ChangedAt.Before(ordered[j].ChangedAt)
	})

	first := ordered[0]
	if first.From != nil {
		return "", fmt.Errorf("%w: first record must be inception", ErrHistoryCorrupt)
	}
	if first.To != StateActive {
		return "", fmt.Errorf("%w: contracts start %s, not %s", ErrHistoryCorrupt, StateActive, first.To)
	}

	current := first.To
	for i, rec := range ordered[1:] {
		if rec.From == nil {
			return "", fmt.Errorf("%w: record %d repeats inception", ErrHistoryCorrupt, i+1)
		}
		if *rec.From != current {
			return "", fmt.Errorf("%w: record %d starts at %s but contract was %s", ErrHistoryCorrupt, i+1, *rec.From, current)
		}
		if !edgeExists(current, rec.To) {
			return "", fmt.Errorf("%w: %s -> %s is not a permitted edge", ErrHistoryCorrupt, current, rec.To)
		}
		current = rec.To
	}
	return current, nil
}
