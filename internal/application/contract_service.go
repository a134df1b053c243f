package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/gym-backoffice/internal/lifecycle"
	"github.com/example/gym-backoffice/internal/persistence"
)

// ContractService drives membership contracts through the lifecycle machine.
// Every accepted transition writes the new state and its history record in the
// same transaction; rejected transitions write nothing.
type ContractService struct {
	store       persistence.Transactor
	idGenerator func() string
	now         func() time.Time
	window      time.Duration
	obs         observer
}

// NewContractService wires dependencies for contract operations. window is the
// pending expiry horizon used by GetContract; zero selects the default.
func NewContractService(store persistence.Transactor, idGenerator func() string, now func() time.Time, window time.Duration) *ContractService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = lifecycle.DefaultPendingExpiryWindow
	}
	return &ContractService{
		store:       store,
		idGenerator: idGenerator,
		now:         now,
		window:      window,
		obs:         newObserver("ContractService", nil, nil),
	}
}

// WithInstrumentation replaces the logger and metrics recorder used for
// operation outcomes.
func (s *ContractService) WithInstrumentation(logger *slog.Logger, recorder Recorder) *ContractService {
	s.obs = newObserver("ContractService", logger, recorder)
	return s
}

// CreateContract stores an active contract together with its inception record.
func (s *ContractService) CreateContract(ctx context.Context, actor string, input CreateContractInput) (contract Contract, err error) {
	if s == nil {
		return Contract{}, fmt.Errorf("ContractService is nil")
	}
	ctx, op := s.obs.begin(ctx, "CreateContract", "subject_id", input.SubjectID, "actor", actor)
	defer func() { op.end(ctx, err, "contract_id", contract.ID) }()

	if err := requireActor(actor); err != nil {
		return Contract{}, err
	}
	vErr := &ValidationError{}
	if strings.TrimSpace(input.SubjectID) == "" {
		vErr.add("subject_id", "subject is required")
	}
	validateTerm(input.MembershipID, input.Start, input.End, input.Price, vErr)
	if vErr.HasErrors() {
		return Contract{}, vErr
	}

	now := s.now().UTC()
	candidate := Contract{
		ID:           s.idGenerator(),
		SubjectID:    input.SubjectID,
		MembershipID: strings.TrimSpace(input.MembershipID),
		Start:        input.Start.UTC(),
		End:          input.End.UTC(),
		Price:        input.Price,
		State:        lifecycle.StateActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if candidate.ID == "" {
		return Contract{}, fmt.Errorf("contract id generator returned an empty id")
	}

	err = s.store.WithinTransaction(ctx, []string{persistence.ContractLockKey(candidate.ID)}, func(ctx context.Context, tx persistence.Tx) error {
		return s.insertWithInception(ctx, tx, candidate, actor, nil)
	})
	if err != nil {
		return Contract{}, wrapStoreError("create contract", err)
	}
	return candidate, nil
}

// Freeze suspends an active contract. A non-empty reason is required.
func (s *ContractService) Freeze(ctx context.Context, id, actor, reason string) (Contract, error) {
	return s.transition(ctx, "Freeze", id, actor, lifecycle.EventFreeze, reason)
}

// Unfreeze reactivates a frozen contract.
func (s *ContractService) Unfreeze(ctx context.Context, id, actor string) (Contract, error) {
	return s.transition(ctx, "Unfreeze", id, actor, lifecycle.EventUnfreeze, "")
}

// Cancel ends an active or frozen contract. reason is optional.
func (s *ContractService) Cancel(ctx context.Context, id, actor, reason string) (Contract, error) {
	return s.transition(ctx, "Cancel", id, actor, lifecycle.EventCancel, reason)
}

// Expire closes a contract whose term has ended without creating a successor.
func (s *ContractService) Expire(ctx context.Context, id, actor string) (Contract, error) {
	return s.transition(ctx, "Expire", id, actor, lifecycle.EventExpire, "")
}

func (s *ContractService) transition(ctx context.Context, name, id, actor string, event lifecycle.Event, reason string) (contract Contract, err error) {
	if s == nil {
		return Contract{}, fmt.Errorf("ContractService is nil")
	}
	ctx, op := s.obs.begin(ctx, name, "contract_id", id, "actor", actor)
	defer func() { op.end(ctx, err, "state", contract.State) }()

	if err := requireActor(actor); err != nil {
		return Contract{}, err
	}

	err = s.store.WithinTransaction(ctx, []string{persistence.ContractLockKey(id)}, func(ctx context.Context, tx persistence.Tx) error {
		rec, err := tx.Contracts().GetContract(ctx, id)
		if err != nil {
			return notFoundOr(err, "contract", id)
		}
		current := contractFromRecord(rec)
		now := s.now().UTC()

		next, err := lifecycle.Attempt(current.State, event, lifecycle.Guard{
			Reason: reason,
			Now:    now,
			End:    current.End,
		})
		if err != nil {
			return err
		}

		contract, err = s.applyState(ctx, tx, current, next, actor, reason, now)
		return err
	})
	if err != nil {
		return Contract{}, wrapStoreError(strings.ToLower(name)+" contract", err)
	}
	return contract, nil
}

// Renew expires an active contract and creates its successor for the same
// subject. Both contracts and both history records commit together.
func (s *ContractService) Renew(ctx context.Context, id, actor string, input RenewInput) (result RenewResult, err error) {
	if s == nil {
		return RenewResult{}, fmt.Errorf("ContractService is nil")
	}
	ctx, op := s.obs.begin(ctx, "Renew", "contract_id", id, "actor", actor)
	defer func() { op.end(ctx, err, "renewed_id", result.Renewed.ID) }()

	if err := requireActor(actor); err != nil {
		return RenewResult{}, err
	}
	vErr := &ValidationError{}
	validateTerm(input.MembershipID, input.Start, input.End, input.Price, vErr)
	if vErr.HasErrors() {
		return RenewResult{}, vErr
	}

	newID := s.idGenerator()
	if newID == "" {
		return RenewResult{}, fmt.Errorf("contract id generator returned an empty id")
	}

	keys := []string{persistence.ContractLockKey(id), persistence.ContractLockKey(newID)}
	err = s.store.WithinTransaction(ctx, keys, func(ctx context.Context, tx persistence.Tx) error {
		rec, err := tx.Contracts().GetContract(ctx, id)
		if err != nil {
			return notFoundOr(err, "contract", id)
		}
		current := contractFromRecord(rec)
		now := s.now().UTC()

		next, err := lifecycle.Attempt(current.State, lifecycle.EventRenew, lifecycle.Guard{Now: now, End: current.End})
		if err != nil {
			return err
		}

		expired, err := s.applyState(ctx, tx, current, next, actor, "renewed as "+newID, now)
		if err != nil {
			return err
		}

		renewed := Contract{
			ID:           newID,
			SubjectID:    current.SubjectID,
			MembershipID: strings.TrimSpace(input.MembershipID),
			Start:        input.Start.UTC(),
			End:          input.End.UTC(),
			Price:        input.Price,
			State:        lifecycle.StateActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		renewedFrom := "renewal of " + current.ID
		if err := s.insertWithInception(ctx, tx, renewed, actor, &renewedFrom); err != nil {
			return err
		}

		result = RenewResult{Expired: expired, Renewed: renewed}
		return nil
	})
	if err != nil {
		return RenewResult{}, wrapStoreError("renew contract", err)
	}
	return result, nil
}

// GetContract returns a contract with its advisory state at the service clock.
func (s *ContractService) GetContract(ctx context.Context, id string) (ContractView, error) {
	if s == nil {
		return ContractView{}, fmt.Errorf("ContractService is nil")
	}
	var contract Contract
	err := s.store.WithinTransaction(ctx, nil, func(ctx context.Context, tx persistence.Tx) error {
		rec, err := tx.Contracts().GetContract(ctx, id)
		if err != nil {
			return notFoundOr(err, "contract", id)
		}
		contract = contractFromRecord(rec)
		return nil
	})
	if err != nil {
		return ContractView{}, wrapStoreError("get contract", err)
	}
	return s.view(contract, s.now()), nil
}

// ListContracts returns contracts ordered by term end.
func (s *ContractService) ListContracts(ctx context.Context, params ContractListParams) ([]ContractView, error) {
	if s == nil {
		return nil, fmt.Errorf("ContractService is nil")
	}
	vErr := &ValidationError{}
	for _, state := range params.States {
		if !state.Valid() {
			vErr.add("state", fmt.Sprintf("unknown state %q", state))
		}
	}
	if params.Limit < 0 {
		vErr.add("limit", "must not be negative")
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	records, err := s.listContracts(ctx, persistence.ContractFilter{
		SubjectID: params.SubjectID,
		States:    statesToStrings(params.States),
		Limit:     params.Limit,
	})
	if err != nil {
		return nil, wrapStoreError("list contracts", err)
	}

	now := s.now()
	views := make([]ContractView, len(records))
	for i, rec := range records {
		views[i] = s.view(contractFromRecord(rec), now)
	}
	return views, nil
}

// DueForExpiry lists active or frozen contracts whose term ended at or before
// the service clock, ordered by end then id. A non-zero after resumes the
// listing past that position.
func (s *ContractService) DueForExpiry(ctx context.Context, after DueCursor, limit int) ([]Contract, error) {
	if s == nil {
		return nil, fmt.Errorf("ContractService is nil")
	}
	now := s.now().UTC()
	filter := persistence.ContractFilter{
		States:         statesToStrings([]lifecycle.State{lifecycle.StateActive, lifecycle.StateFrozen}),
		EndsAtOrBefore: &now,
		Limit:          limit,
	}
	if !after.IsZero() {
		filter.After = &persistence.ContractCursor{End: after.End.UTC(), ID: after.ID}
	}
	records, err := s.listContracts(ctx, filter)
	if err != nil {
		return nil, wrapStoreError("list due contracts", err)
	}
	out := make([]Contract, len(records))
	for i, rec := range records {
		out[i] = contractFromRecord(rec)
	}
	return out, nil
}

// History returns the lifecycle records of a contract in the order they were
// written.
func (s *ContractService) History(ctx context.Context, id string) ([]HistoryRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("ContractService is nil")
	}
	_, records, err := s.loadWithHistory(ctx, id)
	if err != nil {
		return nil, wrapStoreError("contract history", err)
	}
	out := make([]HistoryRecord, len(records))
	for i, rec := range records {
		out[i] = historyFromRecord(rec)
	}
	return out, nil
}

// Verify folds the history of a contract and compares the result with the
// stored state.
func (s *ContractService) Verify(ctx context.Context, id string) (VerifyResult, error) {
	if s == nil {
		return VerifyResult{}, fmt.Errorf("ContractService is nil")
	}
	rec, records, err := s.loadWithHistory(ctx, id)
	if err != nil {
		return VerifyResult{}, wrapStoreError("verify contract", err)
	}

	result := VerifyResult{
		ContractID:  id,
		StoredState: lifecycle.State(rec.State),
		Records:     len(records),
	}
	folded := make([]lifecycle.Record, len(records))
	for i, h := range records {
		entry := historyFromRecord(h)
		folded[i] = lifecycle.Record{From: entry.From, To: entry.To, ChangedAt: entry.ChangedAt}
	}
	replayed, err := lifecycle.Replay(folded)
	if err != nil {
		result.Problem = err.Error()
		return result, nil
	}
	result.Replayed = replayed
	result.Consistent = replayed == result.StoredState
	if !result.Consistent {
		result.Problem = fmt.Sprintf("history ends in %s but contract is %s", replayed, result.StoredState)
	}
	return result, nil
}

func (s *ContractService) view(contract Contract, now time.Time) ContractView {
	return ContractView{
		Contract: contract,
		Advisory: lifecycle.Advise(contract.State, contract.End, now, s.window),
	}
}

func (s *ContractService) listContracts(ctx context.Context, filter persistence.ContractFilter) ([]persistence.Contract, error) {
	var records []persistence.Contract
	err := s.store.WithinTransaction(ctx, nil, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		records, err = tx.Contracts().ListContracts(ctx, filter)
		return err
	})
	return records, err
}

func (s *ContractService) loadWithHistory(ctx context.Context, id string) (persistence.Contract, []persistence.ContractHistory, error) {
	var (
		contract persistence.Contract
		records  []persistence.ContractHistory
	)
	err := s.store.WithinTransaction(ctx, []string{persistence.ContractLockKey(id)}, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		contract, err = tx.Contracts().GetContract(ctx, id)
		if err != nil {
			return notFoundOr(err, "contract", id)
		}
		records, err = tx.Contracts().ListHistory(ctx, id)
		return err
	})
	return contract, records, err
}

// applyState writes next onto current and appends the matching history record.
func (s *ContractService) applyState(ctx context.Context, tx persistence.Tx, current Contract, next lifecycle.State, actor, reason string, now time.Time) (Contract, error) {
	from := current.State
	updated := current
	updated.State = next
	updated.UpdatedAt = now

	if err := tx.Contracts().UpdateContract(ctx, contractToRecord(updated)); err != nil {
		return Contract{}, notFoundOr(err, "contract", current.ID)
	}
	record := HistoryRecord{
		ID:         s.idGenerator(),
		ContractID: current.ID,
		From:       &from,
		To:         next,
		ChangedAt:  now,
		ChangedBy:  actor,
		Reason:     optionalString(reason),
	}
	if err := tx.Contracts().AppendHistory(ctx, historyToRecord(record)); err != nil {
		return Contract{}, err
	}
	return updated, nil
}

func (s *ContractService) insertWithInception(ctx context.Context, tx persistence.Tx, contract Contract, actor string, reason *string) error {
	if err := tx.Contracts().CreateContract(ctx, contractToRecord(contract)); err != nil {
		return err
	}
	return tx.Contracts().AppendHistory(ctx, historyToRecord(HistoryRecord{
		ID:         s.idGenerator(),
		ContractID: contract.ID,
		To:         lifecycle.StateActive,
		ChangedAt:  contract.CreatedAt,
		ChangedBy:  actor,
		Reason:     reason,
	}))
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return ErrUnauthorized
	}
	return nil
}

func validateTerm(membershipID string, start, end time.Time, price int64, vErr *ValidationError) {
	if strings.TrimSpace(membershipID) == "" {
		vErr.add("membership_id", "membership is required")
	}
	if start.IsZero() {
		vErr.add("start", "start date is required")
	}
	if end.IsZero() {
		vErr.add("end", "end date is required")
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		vErr.add("end", "must be after start")
	}
	if price < 0 {
		vErr.add("price", "must not be negative")
	}
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func statesToStrings(states []lifecycle.State) []string {
	if len(states) == 0 {
		return nil
	}
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = string(st)
	}
	return out
}
