package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/gym-backoffice/internal/persistence"
	"github.com/example/gym-backoffice/internal/persistence/memory"
)

var day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (s *sequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%03d", s.prefix, s.n)
}

type harness struct {
	store     *memory.Store
	clock     *testClock
	ids       *sequence
	recorder  *stubRecorder
	bookings  *BookingService
	contracts *ContractService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.NewStore()
	for _, m := range []persistence.Member{
		{ID: "T1", Kind: persistence.MemberTrainer, DisplayName: "Trainer One", Active: true},
		{ID: "T2", Kind: persistence.MemberTrainer, DisplayName: "Trainer Two", Active: true},
		{ID: "T9", Kind: persistence.MemberTrainer, DisplayName: "Retired", Active: false},
		{ID: "C1", Kind: persistence.MemberClient, DisplayName: "Client One", Active: true},
		{ID: "C2", Kind: persistence.MemberClient, DisplayName: "Client Two", Active: true},
		{ID: "C3", Kind: persistence.MemberClient, DisplayName: "Client Three", Active: true},
		{ID: "C9", Kind: persistence.MemberClient, DisplayName: "Lapsed", Active: false},
	} {
		store.PutMember(m)
	}

	clock := &testClock{now: at(8, 0)}
	ids := &sequence{prefix: "id"}
	recorder := &stubRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &harness{
		store:     store,
		clock:     clock,
		ids:       ids,
		recorder:  recorder,
		bookings:  NewBookingService(store, ids.Next, clock.Now).WithInstrumentation(logger, recorder),
		contracts: NewContractService(store, ids.Next, clock.Now, 7*24*time.Hour).WithInstrumentation(logger, recorder),
	}
}

func (h *harness) book(t *testing.T, trainer, client string, start, end time.Time) Booking {
	t.Helper()
	b, err := h.bookings.CreateBooking(context.Background(), BookingInput{
		TrainerID: trainer,
		ClientID:  client,
		Start:     start,
		End:       end,
		Title:     "session",
	})
	if err != nil {
		t.Fatalf("create booking %s/%s: %v", trainer, client, err)
	}
	return b
}

func (h *harness) contract(t *testing.T, subject string, start, end time.Time) Contract {
	t.Helper()
	c, err := h.contracts.CreateContract(context.Background(), "staff-1", CreateContractInput{
		SubjectID:    subject,
		MembershipID: "M1",
		Start:        start,
		End:          end,
		Price:        30000,
	})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	return c
}

func (h *harness) bookingCount(t *testing.T) int {
	t.Helper()
	views, err := h.bookings.ListBookings(context.Background(), BookingListParams{})
	if err != nil {
		t.Fatalf("list bookings: %v", err)
	}
	return len(views)
}

func (h *harness) historyLen(t *testing.T, contractID string) int {
	t.Helper()
	records, err := h.contracts.History(context.Background(), contractID)
	if err != nil {
		t.Fatalf("history %s: %v", contractID, err)
	}
	return len(records)
}

// failingStore fails every transaction before running the unit of work.
type failingStore struct {
	err error
}

func (f failingStore) WithinTransaction(context.Context, []string, func(context.Context, persistence.Tx) error) error {
	return f.err
}
