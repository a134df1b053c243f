package lifecycle

import "time"

// DefaultPendingExpiryWindow is how far ahead of the term end an active
// contract is flagged as pending expiry.
const DefaultPendingExpiryWindow = 7 * 24 * time.Hour

// Advisory is the display state of a contract. It is derived, never stored.
type Advisory string

const (
	AdvisoryActive        Advisory = "active"
	AdvisoryPendingExpiry Advisory = "pending_expiry"
	AdvisoryFrozen        Advisory = "frozen"
	AdvisoryExpired       Advisory = "expired"
	AdvisoryCancelled     Advisory = "cancelled"
)

// Advise derives the display state of a contract at now. Terminal and frozen
// states pass through. An active contract whose term has ended reads as
// expired until the expiry job transitions it; one whose end falls within
// window reads as pending expiry.
func Advise(state State, end, now time.Time, window time.Duration) Advisory {
	switch state {
	case StateCancelled:
		return AdvisoryCancelled
	case StateExpired:
		return AdvisoryExpired
	case StateFrozen:
		return AdvisoryFrozen
	}

	if !now.Before(end) {
		return AdvisoryExpired
	}
	if window > 0 && end.Sub(now) <= window {
		return AdvisoryPendingExpiry
	}
	return AdvisoryActive
}
