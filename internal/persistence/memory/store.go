// Package memory provides an in-process persistence.Transactor used for local
// development and tests. Transactions stage their writes and apply them on
// commit, so a failed unit of work leaves no trace.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/gym-backoffice/internal/persistence"
)

// Store keeps members, bookings, contracts and contract history in maps.
type Store struct {
	mu        sync.RWMutex
	locks     *persistence.KeyedLocker
	members   map[memberKey]persistence.Member
	bookings  map[string]persistence.Booking
	contracts map[string]persistence.Contract
	history   []persistence.ContractHistory
}

type memberKey struct {
	kind persistence.MemberKind
	id   string
}

var _ persistence.Transactor = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		locks:     persistence.NewKeyedLocker(),
		members:   make(map[memberKey]persistence.Member),
		bookings:  make(map[string]persistence.Booking),
		contracts: make(map[string]persistence.Contract),
	}
}

// PutMember inserts or replaces a trainer or client identity.
func (s *Store) PutMember(member persistence.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[memberKey{kind: member.Kind, id: member.ID}] = member
}

// WithinTransaction implements persistence.Transactor.
// A panic in fn propagates after the locks are released; staged writes are
// simply dropped with the transaction.
func (s *Store) WithinTransaction(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx persistence.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	release, err := s.locks.Acquire(ctx, lockKeys)
	if err != nil {
		return err
	}
	defer release()

	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.createdBookings {
		if _, ok := s.bookings[id]; ok {
			return fmt.Errorf("memory: booking %s: %w", id, persistence.ErrDuplicate)
		}
	}
	for id := range tx.createdContracts {
		if _, ok := s.contracts[id]; ok {
			return fmt.Errorf("memory: contract %s: %w", id, persistence.ErrDuplicate)
		}
	}
	for _, record := range tx.history {
		for _, existing := range s.history {
			if existing.ID == record.ID {
				return fmt.Errorf("memory: history %s: %w", record.ID, persistence.ErrDuplicate)
			}
		}
	}

	for id, booking := range tx.bookings {
		s.bookings[id] = cloneBooking(booking)
	}
	for id, contract := range tx.contracts {
		s.contracts[id] = contract
	}
	for _, record := range tx.history {
		s.history = append(s.history, cloneHistory(record))
	}
	return nil
}

// memTx overlays staged writes on the committed maps.
type memTx struct {
	store            *Store
	bookings         map[string]persistence.Booking
	createdBookings  map[string]struct{}
	contracts        map[string]persistence.Contract
	createdContracts map[string]struct{}
	history          []persistence.ContractHistory
}

func newTx(store *Store) *memTx {
	return &memTx{
		store:            store,
		bookings:         make(map[string]persistence.Booking),
		createdBookings:  make(map[string]struct{}),
		contracts:        make(map[string]persistence.Contract),
		createdContracts: make(map[string]struct{}),
	}
}

func (tx *memTx) Bookings() persistence.BookingRepository   { return bookingRepo{tx: tx} }
func (tx *memTx) Contracts() persistence.ContractRepository { return contractRepo{tx: tx} }
func (tx *memTx) Members() persistence.MemberDirectory      { return memberDirectory{tx: tx} }

func (tx *memTx) booking(id string) (persistence.Booking, bool) {
	if booking, ok := tx.bookings[id]; ok {
		return booking, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	booking, ok := tx.store.bookings[id]
	return booking, ok
}

func (tx *memTx) allBookings() []persistence.Booking {
	tx.store.mu.RLock()
	merged := make(map[string]persistence.Booking, len(tx.store.bookings)+len(tx.bookings))
	for id, booking := range tx.store.bookings {
		merged[id] = booking
	}
	tx.store.mu.RUnlock()
	for id, booking := range tx.bookings {
		merged[id] = booking
	}

	out := make([]persistence.Booking, 0, len(merged))
	for _, booking := range merged {
		out = append(out, cloneBooking(booking))
	}
	return out
}

func (tx *memTx) contract(id string) (persistence.Contract, bool) {
	if contract, ok := tx.contracts[id]; ok {
		return contract, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	contract, ok := tx.store.contracts[id]
	return contract, ok
}

func (tx *memTx) allContracts() []persistence.Contract {
	tx.store.mu.RLock()
	merged := make(map[string]persistence.Contract, len(tx.store.contracts)+len(tx.contracts))
	for id, contract := range tx.store.contracts {
		merged[id] = contract
	}
	tx.store.mu.RUnlock()
	for id, contract := range tx.contracts {
		merged[id] = contract
	}

	out := make([]persistence.Contract, 0, len(merged))
	for _, contract := range merged {
		out = append(out, contract)
	}
	return out
}

func (tx *memTx) historyFor(contractID string) []persistence.ContractHistory {
	var out []persistence.ContractHistory
	tx.store.mu.RLock()
	for _, record := range tx.store.history {
		if record.ContractID == contractID {
			out = append(out, cloneHistory(record))
		}
	}
	tx.store.mu.RUnlock()
	for _, record := range tx.history {
		if record.ContractID == contractID {
			out = append(out, cloneHistory(record))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ChangedAt.Before(out[j].ChangedAt)
	})
	return out
}

func cloneBooking(booking persistence.Booking) persistence.Booking {
	if booking.Notes != nil {
		notes := *booking.Notes
		booking.Notes = &notes
	}
	return booking
}

func cloneHistory(record persistence.ContractHistory) persistence.ContractHistory {
	if record.FromState != nil {
		from := *record.FromState
		record.FromState = &from
	}
	if record.Reason != nil {
		reason := *record.Reason
		record.Reason = &reason
	}
	return record
}

// Ping always succeeds; the store lives in process memory.
func (s *Store) Ping(context.Context) error { return nil }
