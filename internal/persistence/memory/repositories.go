package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/example/gym-backoffice/internal/persistence"
	"github.com/example/gym-backoffice/internal/scheduler"
)

type bookingRepo struct {
	tx *memTx
}

func (r bookingRepo) CreateBooking(ctx context.Context, booking persistence.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if booking.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := r.tx.booking(booking.ID); ok {
		return fmt.Errorf("memory: booking %s: %w", booking.ID, persistence.ErrDuplicate)
	}
	r.tx.bookings[booking.ID] = cloneBooking(booking)
	r.tx.createdBookings[booking.ID] = struct{}{}
	return nil
}

func (r bookingRepo) UpdateBooking(ctx context.Context, booking persistence.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	existing, ok := r.tx.booking(booking.ID)
	if !ok {
		return persistence.ErrNotFound
	}
	booking.CreatedAt = existing.CreatedAt
	r.tx.bookings[booking.ID] = cloneBooking(booking)
	return nil
}

func (r bookingRepo) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	if err := ctx.Err(); err != nil {
		return persistence.Booking{}, err
	}
	booking, ok := r.tx.booking(id)
	if !ok {
		return persistence.Booking{}, persistence.ErrNotFound
	}
	return cloneBooking(booking), nil
}

func (r bookingRepo) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []persistence.Booking
	for _, booking := range r.tx.allBookings() {
		if matchesBookingFilter(booking, filter) {
			out = append(out, booking)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesBookingFilter(booking persistence.Booking, filter persistence.BookingFilter) bool {
	if filter.ExcludeID != "" && booking.ID == filter.ExcludeID {
		return false
	}
	if filter.ExcludeCancelled && booking.Status == string(scheduler.StatusCancelled) {
		return false
	}

	trainerMatch := filter.TrainerID != "" && booking.TrainerID == filter.TrainerID
	clientMatch := filter.ClientID != "" && booking.ClientID == filter.ClientID
	if filter.AnyResource {
		if (filter.TrainerID != "" || filter.ClientID != "") && !trainerMatch && !clientMatch {
			return false
		}
	} else {
		if filter.TrainerID != "" && !trainerMatch {
			return false
		}
		if filter.ClientID != "" && !clientMatch {
			return false
		}
	}

	if filter.OverlapEnd != nil && !booking.Start.Before(*filter.OverlapEnd) {
		return false
	}
	if filter.OverlapStart != nil && !filter.OverlapStart.Before(booking.End) {
		return false
	}
	return true
}

type contractRepo struct {
	tx *memTx
}

func (r contractRepo) CreateContract(ctx context.Context, contract persistence.Contract) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if contract.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := r.tx.contract(contract.ID); ok {
		return fmt.Errorf("memory: contract %s: %w", contract.ID, persistence.ErrDuplicate)
	}
	r.tx.contracts[contract.ID] = contract
	r.tx.createdContracts[contract.ID] = struct{}{}
	return nil
}

func (r contractRepo) UpdateContract(ctx context.Context, contract persistence.Contract) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	existing, ok := r.tx.contract(contract.ID)
	if !ok {
		return persistence.ErrNotFound
	}
	contract.CreatedAt = existing.CreatedAt
	r.tx.contracts[contract.ID] = contract
	return nil
}

func (r contractRepo) GetContract(ctx context.Context, id string) (persistence.Contract, error) {
	if err := ctx.Err(); err != nil {
		return persistence.Contract{}, err
	}
	contract, ok := r.tx.contract(id)
	if !ok {
		return persistence.Contract{}, persistence.ErrNotFound
	}
	return contract, nil
}

func (r contractRepo) ListContracts(ctx context.Context, filter persistence.ContractFilter) ([]persistence.Contract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []persistence.Contract
	for _, contract := range r.tx.allContracts() {
		if filter.SubjectID != "" && contract.SubjectID != filter.SubjectID {
			continue
		}
		if len(filter.States) > 0 && !slices.Contains(filter.States, contract.State) {
			continue
		}
		if filter.EndsAtOrBefore != nil && contract.End.After(*filter.EndsAtOrBefore) {
			continue
		}
		if after := filter.After; after != nil {
			if contract.End.Before(after.End) || (contract.End.Equal(after.End) && contract.ID <= after.ID) {
				continue
			}
		}
		out = append(out, contract)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].End.Equal(out[j].End) {
			return out[i].ID < out[j].ID
		}
		return out[i].End.Before(out[j].End)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r contractRepo) AppendHistory(ctx context.Context, record persistence.ContractHistory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.ID == "" || record.ToState == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := r.tx.contract(record.ContractID); !ok {
		return persistence.ErrForeignKeyViolation
	}
	r.tx.history = append(r.tx.history, cloneHistory(record))
	return nil
}

func (r contractRepo) ListHistory(ctx context.Context, contractID string) ([]persistence.ContractHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.tx.historyFor(contractID), nil
}

type memberDirectory struct {
	tx *memTx
}

func (d memberDirectory) GetMember(ctx context.Context, kind persistence.MemberKind, id string) (persistence.Member, error) {
	if err := ctx.Err(); err != nil {
		return persistence.Member{}, err
	}
	d.tx.store.mu.RLock()
	defer d.tx.store.mu.RUnlock()
	member, ok := d.tx.store.members[memberKey{kind: kind, id: id}]
	if !ok {
		return persistence.Member{}, persistence.ErrNotFound
	}
	return member, nil
}
