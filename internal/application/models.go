package application

import (
	"time"

	"github.com/example/gym-backoffice/internal/lifecycle"
	"github.com/example/gym-backoffice/internal/persistence"
	"github.com/example/gym-backoffice/internal/scheduler"
)

// Booking is a training session as returned by the service layer.
type Booking struct {
	ID        string
	TrainerID string
	ClientID  string
	Start     time.Time
	End       time.Time
	Status    scheduler.Status
	Title     string
	Notes     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Interval returns the booked half-open time range.
func (b Booking) Interval() scheduler.Interval {
	return scheduler.Interval{Start: b.Start, End: b.End}
}

// BookingView decorates a booking with its status at a given instant.
type BookingView struct {
	Booking
	EffectiveStatus scheduler.EffectiveStatus
}

// BookingInput carries the fields required to create a booking.
type BookingInput struct {
	TrainerID string
	ClientID  string
	Start     time.Time
	End       time.Time
	Title     string
	Notes     *string
}

// BookingPatch carries optional replacements for an existing booking. Nil
// fields keep their stored value.
type BookingPatch struct {
	TrainerID *string
	ClientID  *string
	Start     *time.Time
	End       *time.Time
	Title     *string
	Notes     *string
}

// BookingListParams narrows ListBookings. From/To select bookings overlapping
// the range.
type BookingListParams struct {
	TrainerID string
	ClientID  string
	From      *time.Time
	To        *time.Time
	Limit     int
}

// BookingConflict describes an existing booking that blocks a request.
type BookingConflict struct {
	BookingID string
	TrainerID string
	ClientID  string
	Start     time.Time
	End       time.Time
	Status    scheduler.Status
	Types     []scheduler.ConflictType
}

// Contract is a membership contract as returned by the service layer.
type Contract struct {
	ID           string
	SubjectID    string
	MembershipID string
	Start        time.Time
	End          time.Time
	Price        int64
	State        lifecycle.State
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DueCursor marks the last contract a DueForExpiry page returned.
type DueCursor struct {
	End time.Time
	ID  string
}

// CursorAfter returns the position just past c.
func CursorAfter(c Contract) DueCursor { return DueCursor{End: c.End, ID: c.ID} }

// IsZero reports whether the cursor points at the start of the listing.
func (c DueCursor) IsZero() bool { return c.ID == "" && c.End.IsZero() }

// ContractView decorates a contract with its advisory display state.
type ContractView struct {
	Contract
	Advisory lifecycle.Advisory
}

// HistoryRecord is one immutable lifecycle audit entry.
type HistoryRecord struct {
	ID         string
	ContractID string
	From       *lifecycle.State
	To         lifecycle.State
	ChangedAt  time.Time
	ChangedBy  string
	Reason     *string
}

// CreateContractInput carries the fields of a new contract.
type CreateContractInput struct {
	SubjectID    string
	MembershipID string
	Start        time.Time
	End          time.Time
	Price        int64
}

// RenewInput describes the contract that replaces a renewed one.
type RenewInput struct {
	MembershipID string
	Start        time.Time
	End          time.Time
	Price        int64
}

// RenewResult holds both sides of a renewal.
type RenewResult struct {
	Expired Contract
	Renewed Contract
}

// VerifyResult compares a stored contract state with its folded history.
type VerifyResult struct {
	ContractID  string
	StoredState lifecycle.State
	Replayed    lifecycle.State
	Records     int
	Consistent  bool
	// Problem explains why the history could not be folded, if it could not.
	Problem string
}

// ContractListParams narrows ListContracts.
type ContractListParams struct {
	SubjectID string
	States    []lifecycle.State
	Limit     int
}

func bookingFromRecord(rec persistence.Booking) Booking {
	return Booking{
		ID:        rec.ID,
		TrainerID: rec.TrainerID,
		ClientID:  rec.ClientID,
		Start:     rec.Start,
		End:       rec.End,
		Status:    scheduler.Status(rec.Status),
		Title:     rec.Title,
		Notes:     rec.Notes,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func bookingToRecord(b Booking) persistence.Booking {
	return persistence.Booking{
		ID:        b.ID,
		TrainerID: b.TrainerID,
		ClientID:  b.ClientID,
		Start:     b.Start,
		End:       b.End,
		Status:    string(b.Status),
		Title:     b.Title,
		Notes:     b.Notes,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func schedulerBooking(rec persistence.Booking) scheduler.Booking {
	return scheduler.Booking{
		ID:        rec.ID,
		TrainerID: rec.TrainerID,
		ClientID:  rec.ClientID,
		Interval:  scheduler.Interval{Start: rec.Start, End: rec.End},
		Status:    scheduler.Status(rec.Status),
	}
}

func conflictsFromScheduler(conflicts []scheduler.Conflict) []BookingConflict {
	out := make([]BookingConflict, len(conflicts))
	for i, c := range conflicts {
		out[i] = BookingConflict{
			BookingID: c.Booking.ID,
			TrainerID: c.Booking.TrainerID,
			ClientID:  c.Booking.ClientID,
			Start:     c.Booking.Interval.Start,
			End:       c.Booking.Interval.End,
			Status:    c.Booking.Status,
			Types:     append([]scheduler.ConflictType(nil), c.Types...),
		}
	}
	return out
}

func contractFromRecord(rec persistence.Contract) Contract {
	return Contract{
		ID:           rec.ID,
		SubjectID:    rec.SubjectID,
		MembershipID: rec.MembershipID,
		Start:        rec.Start,
		End:          rec.End,
		Price:        rec.Price,
		State:        lifecycle.State(rec.State),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func contractToRecord(c Contract) persistence.Contract {
	return persistence.Contract{
		ID:           c.ID,
		SubjectID:    c.SubjectID,
		MembershipID: c.MembershipID,
		Start:        c.Start,
		End:          c.End,
		Price:        c.Price,
		State:        string(c.State),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func historyFromRecord(rec persistence.ContractHistory) HistoryRecord {
	out := HistoryRecord{
		ID:         rec.ID,
		ContractID: rec.ContractID,
		To:         lifecycle.State(rec.ToState),
		ChangedAt:  rec.ChangedAt,
		ChangedBy:  rec.ChangedBy,
		Reason:     rec.Reason,
	}
	if rec.FromState != nil {
		from := lifecycle.State(*rec.FromState)
		out.From = &from
	}
	return out
}

func historyToRecord(h HistoryRecord) persistence.ContractHistory {
	out := persistence.ContractHistory{
		ID:         h.ID,
		ContractID: h.ContractID,
		ToState:    string(h.To),
		ChangedAt:  h.ChangedAt,
		ChangedBy:  h.ChangedBy,
		Reason:     h.Reason,
	}
	if h.From != nil {
		from := string(*h.From)
		out.FromState = &from
	}
	return out
}
