package persistence

import (
	"context"
	"time"
)

// BookingFilter narrows booking queries.
type BookingFilter struct {
	TrainerID string
	ClientID  string
	// AnyResource matches bookings sharing the trainer OR the client. When false
	// both non-empty ids must match.
	AnyResource bool
	// OverlapStart and OverlapEnd keep bookings whose [start, end) intersects
	// the given range. Either bound may be nil.
	OverlapStart     *time.Time
	OverlapEnd       *time.Time
	ExcludeID        string
	ExcludeCancelled bool
	Limit            int
}

// ContractFilter narrows contract queries.
type ContractFilter struct {
	SubjectID string
	States    []string
	// EndsAtOrBefore keeps contracts whose term ended at or before the instant.
	EndsAtOrBefore *time.Time
	// After resumes a listing strictly past the given position in
	// (end, id) order.
	After *ContractCursor
	Limit int
}

// ContractCursor is a position in the (end, id) ordering of contracts.
type ContractCursor struct {
	End time.Time
	ID  string
}

// BookingRepository stores training sessions.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking Booking) error
	UpdateBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
}

// ContractRepository stores contracts and their append-only history.
type ContractRepository interface {
	CreateContract(ctx context.Context, contract Contract) error
	UpdateContract(ctx context.Context, contract Contract) error
	GetContract(ctx context.Context, id string) (Contract, error)
	ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, error)
	AppendHistory(ctx context.Context, record ContractHistory) error
	ListHistory(ctx context.Context, contractID string) ([]ContractHistory, error)
}

// MemberDirectory resolves trainer and client identities.
type MemberDirectory interface {
	GetMember(ctx context.Context, kind MemberKind, id string) (Member, error)
}

// Tx exposes repositories bound to one transaction.
type Tx interface {
	Bookings() BookingRepository
	Contracts() ContractRepository
	Members() MemberDirectory
}

// Transactor runs units of work atomically.
type Transactor interface {
	// WithinTransaction acquires every lock key, runs fn, and commits when fn
	// returns nil. Any error or panic rolls back all writes made through tx.
	// Locks are held until the transaction ends.
	WithinTransaction(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx Tx) error) error
}

// Lock key helpers shared by stores and services.
func TrainerLockKey(id string) string  { return "trainer:" + id }
func ClientLockKey(id string) string   { return "client:" + id }
func ContractLockKey(id string) string { return "contract:" + id }
