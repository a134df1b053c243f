package lifecycle

import "errors"

var (
	// ErrInvalidTransition is returned when no edge exists for the state and event.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	// ErrGuardFailed is returned when an edge exists but its guard data is missing or unmet.
	ErrGuardFailed = errors.New("lifecycle: guard failed")
	// ErrHistoryCorrupt is returned when history records cannot be folded into a state.
	ErrHistoryCorrupt = errors.New("lifecycle: history is not a valid transition sequence")
)

// TransitionError reports a rejected lifecycle change with enough context for
// callers to explain it.
type TransitionError struct {
	Kind   error
	From   State
	Event  Event
	Detail string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error() + ": " + describe(e.From, e.Event)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Unwrap exposes the sentinel kind to errors.Is.
func (e *TransitionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}
