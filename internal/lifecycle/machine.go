// Package lifecycle defines the membership contract state machine.
//
// The machine is a pure decision table: it never performs I/O. Callers load the
// current state, ask the machine whether an event is permitted, and persist the
// resulting state together with a history record.
package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// State is a persisted contract state.
type State string

const (
	StateActive    State = "active"
	StateFrozen    State = "frozen"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// Valid reports whether s can be stored on a contract.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateFrozen, StateExpired, StateCancelled:
		return true
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	return s == StateExpired || s == StateCancelled
}

// Event names a requested lifecycle change.
type Event string

const (
	EventFreeze   Event = "freeze"
	EventUnfreeze Event = "unfreeze"
	EventCancel   Event = "cancel"
	EventRenew    Event = "renew"
	EventExpire   Event = "expire"
)

// Guard carries the data that guarded transitions inspect.
type Guard struct {
	Reason string
	// Now and End are consulted by the expire transition only.
	Now time.Time
	End time.Time
}

// Transition is a single permitted edge.
type Transition struct {
	From  State
	To    State
	Event Event
	check func(Guard) string
}

var transitionsTable = []Transition{
	{From: StateActive, To: StateFrozen, Event: EventFreeze, check: requireReason},
	{From: StateFrozen, To: StateActive, Event: EventUnfreeze},

	{From: StateActive, To: StateCancelled, Event: EventCancel},
	{From: StateFrozen, To: StateCancelled, Event: EventCancel},

	// Renewal always pairs with the creation of a new active contract.
	{From: StateActive, To: StateExpired, Event: EventRenew},

	{From: StateActive, To: StateExpired, Event: EventExpire, check: requireEnded},
	{From: StateFrozen, To: StateExpired, Event: EventExpire, check: requireEnded},
}

func requireReason(g Guard) string {
	if strings.TrimSpace(g.Reason) == "" {
		return "reason is required"
	}
	return ""
}

func requireEnded(g Guard) string {
	if g.Now.IsZero() || g.End.IsZero() {
		return "term end and current time are required"
	}
	if g.Now.Before(g.End) {
		return "contract term has not ended"
	}
	return ""
}

// TransitionFor returns the edge for a state and event.
func TransitionFor(from State, event Event) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == event {
			return tr, true
		}
	}
	return Transition{}, false
}

// Events lists the events permitted from a state, in table order.
func Events(from State) []Event {
	var events []Event
	for _, tr := range transitionsTable {
		if tr.From == from {
			events = append(events, tr.Event)
		}
	}
	return events
}

// Attempt decides whether event may be applied to a contract in state current.
// Unknown edges fail with ErrInvalidTransition; edges whose guard rejects the
// supplied data fail with ErrGuardFailed. The edge is checked before the guard.
func Attempt(current State, event Event, guard Guard) (State, error) {
	tr, ok := TransitionFor(current, event)
	if !ok {
		return current, &TransitionError{Kind: ErrInvalidTransition, From: current, Event: event}
	}
	if tr.check != nil {
		if detail := tr.check(guard); detail != "" {
			return current, &TransitionError{Kind: ErrGuardFailed, From: current, Event: event, Detail: detail}
		}
	}
	return tr.To, nil
}

func edgeExists(from, to State) bool {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.To == to {
			return true
		}
	}
	return false
}

func describe(from State, event Event) string {
	if from == "" {
		return fmt.Sprintf("%s from unknown state", event)
	}
	return fmt.Sprintf("%s from %s", event, from)
}
