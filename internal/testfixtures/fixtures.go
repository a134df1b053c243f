// Package testfixtures holds deterministic clocks, identifiers, members and
// store harnesses shared by package tests.
package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/gym-backoffice/internal/application"
	"github.com/example/gym-backoffice/internal/persistence"
	"github.com/example/gym-backoffice/internal/persistence/memory"
	"github.com/example/gym-backoffice/internal/scheduler"
)

var bookingCounter uint64

// referenceTime is a Monday morning before the first session of the day.
var referenceTime = time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// At returns hour:minute on the reference day.
func At(hour, minute int) time.Time {
	day := referenceTime.Truncate(24 * time.Hour)
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// Roster is the member directory seeded into every harness. T9 and C9 are
// inactive.
func Roster() []persistence.Member {
	return []persistence.Member{
		{ID: "T1", Kind: persistence.MemberTrainer, DisplayName: "Aiko Trainer", Active: true},
		{ID: "T2", Kind: persistence.MemberTrainer, DisplayName: "Ben Trainer", Active: true},
		{ID: "T9", Kind: persistence.MemberTrainer, DisplayName: "Retired Trainer", Active: false},
		{ID: "C1", Kind: persistence.MemberClient, DisplayName: "Chika Client", Active: true},
		{ID: "C2", Kind: persistence.MemberClient, DisplayName: "Dan Client", Active: true},
		{ID: "C3", Kind: persistence.MemberClient, DisplayName: "Emi Client", Active: true},
		{ID: "C9", Kind: persistence.MemberClient, DisplayName: "Lapsed Client", Active: false},
	}
}

// NewMemoryStore returns an in-memory store seeded with Roster.
func NewMemoryStore() *memory.Store {
	store := memory.NewStore()
	for _, m := range Roster() {
		m.CreatedAt = referenceTime
		m.UpdatedAt = referenceTime
		store.PutMember(m)
	}
	return store
}

// BookingFixture describes a booking request or row.
type BookingFixture struct {
	ID        string
	TrainerID string
	ClientID  string
	Start     time.Time
	End       time.Time
	Status    scheduler.Status
	Title     string
}

// BookingOption configures the generated booking fixture.
type BookingOption func(*BookingFixture)

// NewBookingFixture returns a one hour T1/C1 session starting at 10:00 on the
// reference day.
func NewBookingFixture(opts ...BookingOption) BookingFixture {
	idx := atomic.AddUint64(&bookingCounter, 1)
	fixture := BookingFixture{
		ID:        fmt.Sprintf("booking-%03d", idx),
		TrainerID: "T1",
		ClientID:  "C1",
		Start:     At(10, 0),
		End:       At(11, 0),
		Status:    scheduler.StatusScheduled,
		Title:     "Personal training",
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

func WithBookingID(id string) BookingOption {
	return func(f *BookingFixture) { f.ID = id }
}

func WithParticipants(trainerID, clientID string) BookingOption {
	return func(f *BookingFixture) {
		f.TrainerID = trainerID
		f.ClientID = clientID
	}
}

// WithSlot sets the booked range to [start, end).
func WithSlot(start, end time.Time) BookingOption {
	return func(f *BookingFixture) {
		f.Start = start
		f.End = end
	}
}

func WithBookingStatus(status scheduler.Status) BookingOption {
	return func(f *BookingFixture) { f.Status = status }
}

// Input materialises the fixture as a create request.
func (f BookingFixture) Input() application.BookingInput {
	return application.BookingInput{
		TrainerID: f.TrainerID,
		ClientID:  f.ClientID,
		Start:     f.Start,
		End:       f.End,
		Title:     f.Title,
	}
}

// Persistence materialises the fixture as a stored row.
func (f BookingFixture) Persistence() persistence.Booking {
	return persistence.Booking{
		ID:        f.ID,
		TrainerID: f.TrainerID,
		ClientID:  f.ClientID,
		Start:     f.Start,
		End:       f.End,
		Status:    string(f.Status),
		Title:     f.Title,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
}

// ContractInput returns a monthly contract for subject starting on the
// reference day.
func ContractInput(subjectID string) application.CreateContractInput {
	start := referenceTime.Truncate(24 * time.Hour)
	return application.CreateContractInput{
		SubjectID:    subjectID,
		MembershipID: "monthly-standard",
		Start:        start,
		End:          start.AddDate(0, 1, 0),
		Price:        12000,
	}
}
