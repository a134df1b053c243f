package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/gym-backoffice/internal/persistence"
	"github.com/example/gym-backoffice/internal/scheduler"
)

const maxTitleLength = 200

// lock scope retries when a booking moved to other resources between the
// key lookup and the locked read.
const maxScopeAttempts = 3

var errScopeChanged = errors.New("booking resources changed while acquiring locks")

// BookingService orchestrates validation, conflict detection and persistence
// for training sessions.
type BookingService struct {
	store       persistence.Transactor
	idGenerator func() string
	now         func() time.Time
	obs         observer
}

// NewBookingService wires dependencies for booking operations.
func NewBookingService(store persistence.Transactor, idGenerator func() string, now func() time.Time) *BookingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &BookingService{
		store:       store,
		idGenerator: idGenerator,
		now:         now,
		obs:         newObserver("BookingService", nil, nil),
	}
}

// WithInstrumentation replaces the logger and metrics recorder used for
// operation outcomes.
func (s *BookingService) WithInstrumentation(logger *slog.Logger, recorder Recorder) *BookingService {
	s.obs = newObserver("BookingService", logger, recorder)
	return s
}

// EffectiveStatus reports the display status of booking at now.
func EffectiveStatus(booking Booking, now time.Time) scheduler.EffectiveStatus {
	return scheduler.DeriveStatus(booking.Status, booking.Interval(), now)
}

// CreateBooking validates the request, checks both resources for overlapping
// sessions and stores a scheduled booking, all in one transaction.
func (s *BookingService) CreateBooking(ctx context.Context, input BookingInput) (booking Booking, err error) {
	if s == nil {
		return Booking{}, fmt.Errorf("BookingService is nil")
	}
	ctx, op := s.obs.begin(ctx, "CreateBooking", "trainer_id", input.TrainerID, "client_id", input.ClientID)
	defer func() { op.end(ctx, err, "booking_id", booking.ID) }()

	vErr := &ValidationError{}
	validateBookingFields(input.TrainerID, input.ClientID, input.Start, input.End, input.Title, vErr)
	if vErr.HasErrors() {
		return Booking{}, vErr
	}

	createdAt := s.now().UTC()
	candidate := Booking{
		ID:        s.idGenerator(),
		TrainerID: input.TrainerID,
		ClientID:  input.ClientID,
		Start:     input.Start.UTC(),
		End:       input.End.UTC(),
		Status:    scheduler.StatusScheduled,
		Title:     strings.TrimSpace(input.Title),
		Notes:     input.Notes,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if candidate.ID == "" {
		return Booking{}, fmt.Errorf("booking id generator returned an empty id")
	}

	keys := []string{persistence.TrainerLockKey(candidate.TrainerID), persistence.ClientLockKey(candidate.ClientID)}
	err = s.store.WithinTransaction(ctx, keys, func(ctx context.Context, tx persistence.Tx) error {
		if err := ensureMembers(ctx, tx.Members(), candidate.TrainerID, candidate.ClientID); err != nil {
			return err
		}
		if err := s.ensureNoConflicts(ctx, tx, scheduler.Proposal{
			TrainerID: candidate.TrainerID,
			ClientID:  candidate.ClientID,
			Interval:  candidate.Interval(),
		}); err != nil {
			return err
		}
		return tx.Bookings().CreateBooking(ctx, bookingToRecord(candidate))
	})
	if err != nil {
		return Booking{}, wrapStoreError("create booking", err)
	}
	return candidate, nil
}

// UpdateBooking applies patch to a scheduled booking. The merged booking is
// validated and checked for conflicts against every other booking.
func (s *BookingService) UpdateBooking(ctx context.Context, id string, patch BookingPatch) (booking Booking, err error) {
	if s == nil {
		return Booking{}, fmt.Errorf("BookingService is nil")
	}
	ctx, op := s.obs.begin(ctx, "UpdateBooking", "booking_id", id)
	defer func() { op.end(ctx, err) }()

	if strings.TrimSpace(id) == "" {
		return Booking{}, &ValidationError{FieldErrors: map[string]string{"id": "booking id is required"}}
	}

	var extra []string
	if patch.TrainerID != nil && *patch.TrainerID != "" {
		extra = append(extra, persistence.TrainerLockKey(*patch.TrainerID))
	}
	if patch.ClientID != nil && *patch.ClientID != "" {
		extra = append(extra, persistence.ClientLockKey(*patch.ClientID))
	}

	err = s.inBookingScope(ctx, id, extra, func(ctx context.Context, tx persistence.Tx, current persistence.Booking) error {
		existing := bookingFromRecord(current)
		if existing.Status != scheduler.StatusScheduled {
			return &ValidationError{FieldErrors: map[string]string{"status": fmt.Sprintf("%s booking cannot be modified", existing.Status)}}
		}

		updated := applyBookingPatch(existing, patch)
		vErr := &ValidationError{}
		validateBookingFields(updated.TrainerID, updated.ClientID, updated.Start, updated.End, updated.Title, vErr)
		if vErr.HasErrors() {
			return vErr
		}

		if updated.TrainerID != existing.TrainerID || updated.ClientID != existing.ClientID {
			if err := ensureMembers(ctx, tx.Members(), updated.TrainerID, updated.ClientID); err != nil {
				return err
			}
		}
		if err := s.ensureNoConflicts(ctx, tx, scheduler.Proposal{
			TrainerID:        updated.TrainerID,
			ClientID:         updated.ClientID,
			Interval:         updated.Interval(),
			ExcludeBookingID: updated.ID,
		}); err != nil {
			return err
		}

		updated.UpdatedAt = s.now().UTC()
		if err := tx.Bookings().UpdateBooking(ctx, bookingToRecord(updated)); err != nil {
			return notFoundOr(err, "booking", id)
		}
		booking = updated
		return nil
	})
	if err != nil {
		return Booking{}, wrapStoreError("update booking", err)
	}
	return booking, nil
}

// CancelBooking marks a booking cancelled. Cancelling twice succeeds without
// writing again.
func (s *BookingService) CancelBooking(ctx context.Context, id string) (booking Booking, err error) {
	if s == nil {
		return Booking{}, fmt.Errorf("BookingService is nil")
	}
	ctx, op := s.obs.begin(ctx, "CancelBooking", "booking_id", id)
	defer func() { op.end(ctx, err, "status", booking.Status) }()

	err = s.inBookingScope(ctx, id, nil, func(ctx context.Context, tx persistence.Tx, current persistence.Booking) error {
		booking = bookingFromRecord(current)
		if booking.Status == scheduler.StatusCancelled {
			return nil
		}
		booking.Status = scheduler.StatusCancelled
		booking.UpdatedAt = s.now().UTC()
		return tx.Bookings().UpdateBooking(ctx, bookingToRecord(booking))
	})
	if err != nil {
		return Booking{}, wrapStoreError("cancel booking", err)
	}
	return booking, nil
}

// CompleteBooking marks a scheduled booking completed. Completed bookings are
// returned unchanged; cancelled ones are rejected.
func (s *BookingService) CompleteBooking(ctx context.Context, id string) (booking Booking, err error) {
	if s == nil {
		return Booking{}, fmt.Errorf("BookingService is nil")
	}
	ctx, op := s.obs.begin(ctx, "CompleteBooking", "booking_id", id)
	defer func() { op.end(ctx, err) }()

	err = s.inBookingScope(ctx, id, nil, func(ctx context.Context, tx persistence.Tx, current persistence.Booking) error {
		booking = bookingFromRecord(current)
		switch booking.Status {
		case scheduler.StatusCompleted:
			return nil
		case scheduler.StatusCancelled:
			return &ValidationError{FieldErrors: map[string]string{"status": "cancelled booking cannot be completed"}}
		}
		booking.Status = scheduler.StatusCompleted
		booking.UpdatedAt = s.now().UTC()
		return tx.Bookings().UpdateBooking(ctx, bookingToRecord(booking))
	})
	if err != nil {
		return Booking{}, wrapStoreError("complete booking", err)
	}
	return booking, nil
}

// GetBooking returns a booking with its effective status at the service clock.
func (s *BookingService) GetBooking(ctx context.Context, id string) (BookingView, error) {
	if s == nil {
		return BookingView{}, fmt.Errorf("BookingService is nil")
	}
	var booking Booking
	err := s.store.WithinTransaction(ctx, nil, func(ctx context.Context, tx persistence.Tx) error {
		rec, err := tx.Bookings().GetBooking(ctx, id)
		if err != nil {
			return notFoundOr(err, "booking", id)
		}
		booking = bookingFromRecord(rec)
		return nil
	})
	if err != nil {
		return BookingView{}, wrapStoreError("get booking", err)
	}
	now := s.now()
	return BookingView{Booking: booking, EffectiveStatus: EffectiveStatus(booking, now)}, nil
}

// ListBookings returns bookings matching params ordered by start time.
func (s *BookingService) ListBookings(ctx context.Context, params BookingListParams) ([]BookingView, error) {
	if s == nil {
		return nil, fmt.Errorf("BookingService is nil")
	}

	vErr := &ValidationError{}
	if params.From != nil && params.To != nil && !params.To.After(*params.From) {
		vErr.add("to", "must be after from")
	}
	if params.Limit < 0 {
		vErr.add("limit", "must not be negative")
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	filter := persistence.BookingFilter{
		TrainerID:    params.TrainerID,
		ClientID:     params.ClientID,
		OverlapStart: params.From,
		OverlapEnd:   params.To,
		Limit:        params.Limit,
	}

	var records []persistence.Booking
	err := s.store.WithinTransaction(ctx, nil, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		records, err = tx.Bookings().ListBookings(ctx, filter)
		return err
	})
	if err != nil {
		return nil, wrapStoreError("list bookings", err)
	}

	now := s.now()
	views := make([]BookingView, len(records))
	for i, rec := range records {
		booking := bookingFromRecord(rec)
		views[i] = BookingView{Booking: booking, EffectiveStatus: EffectiveStatus(booking, now)}
	}
	return views, nil
}

// inBookingScope runs fn in a transaction that holds the trainer and client
// locks of booking id plus any extra keys. The stored booking is re-read under
// the locks; if its resources moved in the meantime the scope is recomputed.
func (s *BookingService) inBookingScope(ctx context.Context, id string, extra []string, fn func(ctx context.Context, tx persistence.Tx, current persistence.Booking) error) error {
	var scope persistence.Booking
	err := s.store.WithinTransaction(ctx, nil, func(ctx context.Context, tx persistence.Tx) error {
		rec, err := tx.Bookings().GetBooking(ctx, id)
		if err != nil {
			return notFoundOr(err, "booking", id)
		}
		scope = rec
		return nil
	})
	if err != nil {
		return err
	}

	for attempt := 0; attempt < maxScopeAttempts; attempt++ {
		keys := append([]string{
			persistence.TrainerLockKey(scope.TrainerID),
			persistence.ClientLockKey(scope.ClientID),
		}, extra...)

		err = s.store.WithinTransaction(ctx, keys, func(ctx context.Context, tx persistence.Tx) error {
			current, err := tx.Bookings().GetBooking(ctx, id)
			if err != nil {
				return notFoundOr(err, "booking", id)
			}
			if current.TrainerID != scope.TrainerID || current.ClientID != scope.ClientID {
				scope = current
				return errScopeChanged
			}
			return fn(ctx, tx, current)
		})
		if !errors.Is(err, errScopeChanged) {
			return err
		}
	}
	return &PersistenceError{Op: "lock booking " + id, Err: err}
}

// ensureNoConflicts rejects the proposal with every blocking booking.
func (s *BookingService) ensureNoConflicts(ctx context.Context, tx persistence.Tx, proposal scheduler.Proposal) error {
	detector := scheduler.NewDetector(candidateFinder{bookings: tx.Bookings()})
	conflicts, err := detector.FindConflicts(ctx, proposal)
	if err != nil {
		if errors.Is(err, scheduler.ErrEmptyInterval) {
			return &ValidationError{FieldErrors: map[string]string{"end": "must be after start"}}
		}
		return err
	}
	if len(conflicts) == 0 {
		return nil
	}
	s.obs.recorder.ObserveConflicts(len(conflicts))
	return &ConflictError{Conflicts: conflictsFromScheduler(conflicts)}
}

// candidateFinder answers conflict queries from inside the caller's transaction.
type candidateFinder struct {
	bookings persistence.BookingRepository
}

func (f candidateFinder) FindCandidates(ctx context.Context, proposal scheduler.Proposal) ([]scheduler.Booking, error) {
	start, end := proposal.Interval.Start, proposal.Interval.End
	records, err := f.bookings.ListBookings(ctx, persistence.BookingFilter{
		TrainerID:        proposal.TrainerID,
		ClientID:         proposal.ClientID,
		AnyResource:      true,
		OverlapStart:     &start,
		OverlapEnd:       &end,
		ExcludeID:        proposal.ExcludeBookingID,
		ExcludeCancelled: true,
	})
	if err != nil {
		return nil, err
	}
	candidates := make([]scheduler.Booking, len(records))
	for i, rec := range records {
		candidates[i] = schedulerBooking(rec)
	}
	return candidates, nil
}

// ensureMembers checks that the trainer and client exist and are active.
func ensureMembers(ctx context.Context, members persistence.MemberDirectory, trainerID, clientID string) error {
	vErr := &ValidationError{}
	for _, ref := range []struct {
		kind  persistence.MemberKind
		id    string
		field string
	}{
		{persistence.MemberTrainer, trainerID, "trainer_id"},
		{persistence.MemberClient, clientID, "client_id"},
	} {
		member, err := members.GetMember(ctx, ref.kind, ref.id)
		if err != nil {
			return notFoundOr(err, string(ref.kind), ref.id)
		}
		if !member.Active {
			vErr.add(ref.field, fmt.Sprintf("%s is not active", ref.kind))
		}
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func validateBookingFields(trainerID, clientID string, start, end time.Time, title string, vErr *ValidationError) {
	if strings.TrimSpace(trainerID) == "" {
		vErr.add("trainer_id", "trainer is required")
	}
	if strings.TrimSpace(clientID) == "" {
		vErr.add("client_id", "client is required")
	}
	if start.IsZero() {
		vErr.add("start", "start time is required")
	}
	if end.IsZero() {
		vErr.add("end", "end time is required")
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		vErr.add("end", "must be after start")
	}
	if len(strings.TrimSpace(title)) > maxTitleLength {
		vErr.add("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
}

func applyBookingPatch(existing Booking, patch BookingPatch) Booking {
	updated := existing
	if patch.TrainerID != nil {
		updated.TrainerID = *patch.TrainerID
	}
	if patch.ClientID != nil {
		updated.ClientID = *patch.ClientID
	}
	if patch.Start != nil {
		updated.Start = patch.Start.UTC()
	}
	if patch.End != nil {
		updated.End = patch.End.UTC()
	}
	if patch.Title != nil {
		updated.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Notes != nil {
		notes := *patch.Notes
		updated.Notes = &notes
	}
	return updated
}
