package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/gym-backoffice/internal/persistence"
	"github.com/example/gym-backoffice/internal/scheduler"
)

func TestCreateBookingRejectsTrainerOverlap(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	existing := h.book(t, "T1", "C1", at(10, 0), at(11, 0))

	_, err := h.bookings.CreateBooking(context.Background(), BookingInput{
		TrainerID: "T1",
		ClientID:  "C2",
		Start:     at(10, 30),
		End:       at(11, 30),
	})

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if !errors.Is(err, ErrSchedulingConflict) {
		t.Fatalf("expected ErrSchedulingConflict match")
	}
	if len(conflict.Conflicts) != 1 || conflict.Conflicts[0].BookingID != existing.ID {
		t.Fatalf("unexpected conflicts: %+v", conflict.Conflicts)
	}
	if types := conflict.Conflicts[0].Types; len(types) != 1 || types[0] != scheduler.ConflictTypeTrainer {
		t.Fatalf("expected trainer conflict, got %v", types)
	}
	if got := h.bookingCount(t); got != 1 {
		t.Fatalf("expected rejected booking to write nothing, found %d bookings", got)
	}
	if len(h.recorder.conflicts) != 1 || h.recorder.conflicts[0] != 1 {
		t.Fatalf("expected one conflict observation, got %v", h.recorder.conflicts)
	}
}

func TestCreateBookingAllowsBackToBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	first := h.book(t, "T1", "C1", at(9, 0), at(10, 0))
	second := h.book(t, "T1", "C2", at(10, 0), at(11, 0))

	if first.ID == second.ID {
		t.Fatalf("expected distinct ids")
	}
	if second.Status != scheduler.StatusScheduled {
		t.Fatalf("expected scheduled status, got %s", second.Status)
	}
	if got := h.bookingCount(t); got != 2 {
		t.Fatalf("expected 2 bookings, got %d", got)
	}
}

func TestCreateBookingReportsEveryConflictOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	both := h.book(t, "T1", "C1", at(9, 0), at(10, 0))
	trainerOnly := h.book(t, "T1", "C2", at(10, 0), at(11, 0))
	clientOnly := h.book(t, "T2", "C1", at(11, 0), at(12, 0))
	h.book(t, "T2", "C3", at(9, 0), at(11, 0))

	_, err := h.bookings.CreateBooking(context.Background(), BookingInput{
		TrainerID: "T1",
		ClientID:  "C1",
		Start:     at(9, 30),
		End:       at(11, 30),
	})

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	want := []struct {
		id    string
		types []scheduler.ConflictType
	}{
		{both.ID, []scheduler.ConflictType{scheduler.ConflictTypeTrainer, scheduler.ConflictTypeClient}},
		{trainerOnly.ID, []scheduler.ConflictType{scheduler.ConflictTypeTrainer}},
		{clientOnly.ID, []scheduler.ConflictType{scheduler.ConflictTypeClient}},
	}
	if len(conflict.Conflicts) != len(want) {
		t.Fatalf("expected %d conflicts, got %+v", len(want), conflict.Conflicts)
	}
	for i, w := range want {
		got := conflict.Conflicts[i]
		if got.BookingID != w.id {
			t.Fatalf("conflict %d: expected %s, got %s", i, w.id, got.BookingID)
		}
		if fmt.Sprint(got.Types) != fmt.Sprint(w.types) {
			t.Fatalf("conflict %d: expected types %v, got %v", i, w.types, got.Types)
		}
	}
}

func TestCreateBookingIgnoresCancelledButNotCompleted(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	cancelled := h.book(t, "T1", "C1", at(9, 0), at(10, 0))
	if _, err := h.bookings.CancelBooking(ctx, cancelled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	h.book(t, "T1", "C2", at(9, 0), at(10, 0))

	completed := h.book(t, "T2", "C3", at(12, 0), at(13, 0))
	if _, err := h.bookings.CompleteBooking(ctx, completed.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err := h.bookings.CreateBooking(ctx, BookingInput{TrainerID: "T2", ClientID: "C1", Start: at(12, 30), End: at(13, 30)})
	if !errors.Is(err, ErrSchedulingConflict) {
		t.Fatalf("expected completed booking to block, got %v", err)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		input  BookingInput
		fields []string
	}{
		{
			name:   "missing resources",
			input:  BookingInput{Start: at(9, 0), End: at(10, 0)},
			fields: []string{"trainer_id", "client_id"},
		},
		{
			name:   "end equals start",
			input:  BookingInput{TrainerID: "T1", ClientID: "C1", Start: at(9, 0), End: at(9, 0)},
			fields: []string{"end"},
		},
		{
			name:   "end before start",
			input:  BookingInput{TrainerID: "T1", ClientID: "C1", Start: at(10, 0), End: at(9, 0)},
			fields: []string{"end"},
		},
		{
			name:   "missing times",
			input:  BookingInput{TrainerID: "T1", ClientID: "C1"},
			fields: []string{"start", "end"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			_, err := h.bookings.CreateBooking(context.Background(), tc.input)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			for _, field := range tc.fields {
				if _, ok := vErr.FieldErrors[field]; !ok {
					t.Fatalf("expected %s error, got %v", field, vErr.FieldErrors)
				}
			}
			if got := h.bookingCount(t); got != 0 {
				t.Fatalf("expected no writes, got %d bookings", got)
			}
		})
	}
}

func TestCreateBookingChecksMembers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.bookings.CreateBooking(ctx, BookingInput{TrainerID: "nobody", ClientID: "C1", Start: at(9, 0), End: at(10, 0)})
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Resource != "trainer" || nf.ID != "nobody" {
		t.Fatalf("expected trainer NotFoundError, got %v", err)
	}

	_, err = h.bookings.CreateBooking(ctx, BookingInput{TrainerID: "T1", ClientID: "C9", Start: at(9, 0), End: at(10, 0)})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.FieldErrors["client_id"] == "" {
		t.Fatalf("expected inactive client validation error, got %v", err)
	}
}

func TestGetBookingDerivesEffectiveStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	b := h.book(t, "T1", "C1", at(10, 0), at(11, 0))

	cases := []struct {
		now  time.Time
		want scheduler.EffectiveStatus
	}{
		{at(9, 0), scheduler.EffectiveScheduled},
		{at(10, 30), scheduler.EffectiveInProgress},
		{day.Add(24 * time.Hour), scheduler.EffectiveCompleted},
	}
	for _, tc := range cases {
		h.clock.Set(tc.now)
		view, err := h.bookings.GetBooking(ctx, b.ID)
		if err != nil {
			t.Fatalf("get booking: %v", err)
		}
		if view.EffectiveStatus != tc.want {
			t.Fatalf("at %s expected %s, got %s", tc.now, tc.want, view.EffectiveStatus)
		}
		if view.Status != scheduler.StatusScheduled {
			t.Fatalf("stored status must not change, got %s", view.Status)
		}
	}

	if _, err := h.bookings.GetBooking(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateBooking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("overlapping its own slot is allowed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		b := h.book(t, "T1", "C1", at(10, 0), at(11, 0))

		start, end := at(10, 30), at(11, 30)
		h.clock.Set(at(8, 30))
		updated, err := h.bookings.UpdateBooking(ctx, b.ID, BookingPatch{Start: &start, End: &end})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if !updated.Start.Equal(start) || !updated.End.Equal(end) {
			t.Fatalf("interval not applied: %+v", updated)
		}
		if !updated.UpdatedAt.Equal(at(8, 30)) || !updated.CreatedAt.Equal(at(8, 0)) {
			t.Fatalf("unexpected timestamps: created %s updated %s", updated.CreatedAt, updated.UpdatedAt)
		}
	})

	t.Run("moving onto another trainer conflicts", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		other := h.book(t, "T2", "C2", at(10, 0), at(11, 0))
		b := h.book(t, "T1", "C1", at(10, 0), at(11, 0))

		trainer := "T2"
		_, err := h.bookings.UpdateBooking(ctx, b.ID, BookingPatch{TrainerID: &trainer})
		var conflict *ConflictError
		if !errors.As(err, &conflict) || conflict.Conflicts[0].BookingID != other.ID {
			t.Fatalf("expected conflict with %s, got %v", other.ID, err)
		}
		view, err := h.bookings.GetBooking(ctx, b.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if view.TrainerID != "T1" {
			t.Fatalf("rejected update must not persist, trainer is %s", view.TrainerID)
		}
	})

	t.Run("invalid interval", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		b := h.book(t, "T1", "C1", at(10, 0), at(11, 0))

		end := at(9, 0)
		_, err := h.bookings.UpdateBooking(ctx, b.ID, BookingPatch{End: &end})
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["end"] == "" {
			t.Fatalf("expected end validation error, got %v", err)
		}
	})

	t.Run("cancelled booking cannot be modified", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		b := h.book(t, "T1", "C1", at(10, 0), at(11, 0))
		if _, err := h.bookings.CancelBooking(ctx, b.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}

		title := "renamed"
		_, err := h.bookings.UpdateBooking(ctx, b.ID, BookingPatch{Title: &title})
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["status"] == "" {
			t.Fatalf("expected status validation error, got %v", err)
		}
	})

	t.Run("missing booking", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		title := "x"
		_, err := h.bookings.UpdateBooking(ctx, "missing", BookingPatch{Title: &title})
		var nf *NotFoundError
		if !errors.As(err, &nf) || nf.Resource != "booking" {
			t.Fatalf("expected booking NotFoundError, got %v", err)
		}
	})
}

func TestCancelBookingIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	b := h.book(t, "T1", "C1", at(10, 0), at(11, 0))

	h.clock.Set(at(9, 0))
	first, err := h.bookings.CancelBooking(ctx, b.ID)
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	h.clock.Set(at(9, 30))
	second, err := h.bookings.CancelBooking(ctx, b.ID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if first.Status != scheduler.StatusCancelled || second.Status != scheduler.StatusCancelled {
		t.Fatalf("expected cancelled, got %s and %s", first.Status, second.Status)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("second cancel must not write, updated_at moved from %s to %s", first.UpdatedAt, second.UpdatedAt)
	}

	if _, err := h.bookings.CancelBooking(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteBooking(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	b := h.book(t, "T1", "C1", at(10, 0), at(11, 0))
	done, err := h.bookings.CompleteBooking(ctx, b.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != scheduler.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if _, err := h.bookings.CompleteBooking(ctx, b.ID); err != nil {
		t.Fatalf("completing twice should succeed: %v", err)
	}

	c := h.book(t, "T1", "C1", at(12, 0), at(13, 0))
	if _, err := h.bookings.CancelBooking(ctx, c.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = h.bookings.CompleteBooking(ctx, c.ID)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for cancelled booking, got %v", err)
	}
}

func TestListBookingsFilters(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	a := h.book(t, "T1", "C1", at(9, 0), at(10, 0))
	b := h.book(t, "T1", "C2", at(11, 0), at(12, 0))
	h.book(t, "T2", "C3", at(9, 0), at(10, 0))

	views, err := h.bookings.ListBookings(ctx, BookingListParams{TrainerID: "T1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 || views[0].ID != a.ID || views[1].ID != b.ID {
		t.Fatalf("unexpected trainer listing: %+v", views)
	}

	from, to := at(10, 0), at(11, 0)
	views, err = h.bookings.ListBookings(ctx, BookingListParams{From: &from, To: &to})
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("half-open window should exclude touching bookings, got %d", len(views))
	}

	_, err = h.bookings.ListBookings(ctx, BookingListParams{From: &to, To: &from})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for reversed window, got %v", err)
	}
}

func TestConcurrentCreateNeverDoubleBooks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	clients := []string{"C1", "C2", "C3"}
	const attempts = 12

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.bookings.CreateBooking(context.Background(), BookingInput{
				TrainerID: "T1",
				ClientID:  clients[i%len(clients)],
				Start:     at(10, 0),
				End:       at(11, 0),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrSchedulingConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", attempts-1, succeeded, conflicts)
	}
	if got := h.bookingCount(t); got != 1 {
		t.Fatalf("expected exactly one stored booking, got %d", got)
	}
}

func TestBookingServiceWrapsStoreFailures(t *testing.T) {
	t.Parallel()

	svc := NewBookingService(failingStore{err: persistence.ErrBusy}, func() string { return "b-1" }, nil)
	_, err := svc.CreateBooking(context.Background(), BookingInput{TrainerID: "T1", ClientID: "C1", Start: at(9, 0), End: at(10, 0)})

	var pErr *PersistenceError
	if !errors.As(err, &pErr) || !pErr.Retryable() {
		t.Fatalf("expected retryable PersistenceError, got %v", err)
	}
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, persistence.ErrBusy) {
		t.Fatalf("expected both ErrPersistence and ErrBusy in chain, got %v", err)
	}
	if ErrorKind(err) != "persistence" {
		t.Fatalf("expected persistence kind, got %s", ErrorKind(err))
	}
}

func TestEffectiveStatusIgnoresClockForTerminal(t *testing.T) {
	t.Parallel()

	b := Booking{Start: at(10, 0), End: at(11, 0), Status: scheduler.StatusCancelled}
	for _, now := range []time.Time{at(9, 0), at(10, 30), at(12, 0)} {
		if got := EffectiveStatus(b, now); got != scheduler.EffectiveCancelled {
			t.Fatalf("at %s expected cancelled, got %s", now, got)
		}
	}
}
