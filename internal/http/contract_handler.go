package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/gym-backoffice/internal/application"
	"github.com/example/gym-backoffice/internal/lifecycle"
)

// ContractService is the subset of application.ContractService the handler needs.
type ContractService interface {
	CreateContract(ctx context.Context, actor string, input application.CreateContractInput) (application.Contract, error)
	Freeze(ctx context.Context, id, actor, reason string) (application.Contract, error)
	Unfreeze(ctx context.Context, id, actor string) (application.Contract, error)
	Cancel(ctx context.Context, id, actor, reason string) (application.Contract, error)
	Expire(ctx context.Context, id, actor string) (application.Contract, error)
	Renew(ctx context.Context, id, actor string, input application.RenewInput) (application.RenewResult, error)
	GetContract(ctx context.Context, id string) (application.ContractView, error)
	ListContracts(ctx context.Context, params application.ContractListParams) ([]application.ContractView, error)
	History(ctx context.Context, id string) ([]application.HistoryRecord, error)
	Verify(ctx context.Context, id string) (application.VerifyResult, error)
}

// ContractHandler serves membership contract endpoints.
type ContractHandler struct {
	service   ContractService
	logger    *slog.Logger
	responder responder
}

func NewContractHandler(service ContractService, logger *slog.Logger) *ContractHandler {
	logger = loggerOrDefault(logger)
	return &ContractHandler{service: service, logger: logger, responder: newResponder(logger)}
}

func (h *ContractHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.service == nil {
		h.responder.writeError(ctx, w, http.StatusInternalServerError, errServiceUnconfigured)
		return
	}

	var req contractRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	vErr := &application.ValidationError{}
	input := application.CreateContractInput{
		SubjectID:    req.SubjectID,
		MembershipID: req.MembershipID,
		Start:        parseTimeField(vErr, "start", req.Start),
		End:          parseTimeField(vErr, "end", req.End),
		Price:        req.Price,
	}
	if vErr.HasErrors() {
		h.responder.handleServiceError(ctx, w, vErr)
		return
	}

	contract, err := h.service.CreateContract(ctx, actorOrEmpty(ctx), input)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.log(ctx, "create", "contract_id", contract.ID).InfoContext(ctx, "contract created")
	h.responder.writeJSON(ctx, w, http.StatusCreated, toContractDTO(contract, ""))
}

func (h *ContractHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.service == nil {
		h.responder.writeError(ctx, w, http.StatusInternalServerError, errServiceUnconfigured)
		return
	}

	query := r.URL.Query()
	vErr := &application.ValidationError{}
	params := application.ContractListParams{
		SubjectID: strings.TrimSpace(query.Get("subject_id")),
		Limit:     parseLimit(vErr, query.Get("limit")),
	}
	for _, raw := range query["state"] {
		state := lifecycle.State(strings.TrimSpace(raw))
		if !state.Valid() {
			addFieldError(vErr, "state", "unknown contract state")
			continue
		}
		params.States = append(params.States, state)
	}
	if vErr.HasErrors() {
		h.responder.handleServiceError(ctx, w, vErr)
		return
	}

	views, err := h.service.ListContracts(ctx, params)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	response := make([]contractDTO, 0, len(views))
	for _, view := range views {
		response = append(response, toContractDTO(view.Contract, view.Advisory))
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, response)
}

func (h *ContractHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetContract(ctx, id)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, toContractDTO(view.Contract, view.Advisory))
}

func (h *ContractHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	records, err := h.service.History(ctx, id)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	response := make([]historyDTO, 0, len(records))
	for _, rec := range records {
		response = append(response, toHistoryDTO(rec))
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, response)
}

func (h *ContractHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Verify(ctx, id)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	if !result.Consistent {
		h.log(ctx, "verify", "contract_id", id).WarnContext(ctx, "contract history drift detected",
			"stored_state", result.StoredState, "replayed_state", result.Replayed, "problem", result.Problem)
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, verifyDTO{
		ContractID:  result.ContractID,
		StoredState: string(result.StoredState),
		Replayed:    string(result.Replayed),
		Records:     result.Records,
		Consistent:  result.Consistent,
		Problem:     result.Problem,
	})
}

func (h *ContractHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "freeze", func(ctx context.Context, id, actor, reason string) (application.Contract, error) {
		return h.service.Freeze(ctx, id, actor, reason)
	})
}

func (h *ContractHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "unfreeze", func(ctx context.Context, id, actor, _ string) (application.Contract, error) {
		return h.service.Unfreeze(ctx, id, actor)
	})
}

func (h *ContractHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", func(ctx context.Context, id, actor, reason string) (application.Contract, error) {
		return h.service.Cancel(ctx, id, actor, reason)
	})
}

func (h *ContractHandler) Expire(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "expire", func(ctx context.Context, id, actor, _ string) (application.Contract, error) {
		return h.service.Expire(ctx, id, actor)
	})
}

func (h *ContractHandler) Renew(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req renewRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	vErr := &application.ValidationError{}
	input := application.RenewInput{
		MembershipID: req.MembershipID,
		Start:        parseTimeField(vErr, "start", req.Start),
		End:          parseTimeField(vErr, "end", req.End),
		Price:        req.Price,
	}
	if vErr.HasErrors() {
		h.responder.handleServiceError(ctx, w, vErr)
		return
	}

	result, err := h.service.Renew(ctx, id, actorOrEmpty(ctx), input)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.log(ctx, "renew", "contract_id", id, "renewed_id", result.Renewed.ID).InfoContext(ctx, "contract renewed")
	h.responder.writeJSON(ctx, w, http.StatusCreated, renewDTO{
		Expired: toContractDTO(result.Expired, ""),
		Renewed: toContractDTO(result.Renewed, ""),
	})
}

func (h *ContractHandler) transition(w http.ResponseWriter, r *http.Request, operation string, call func(ctx context.Context, id, actor, reason string) (application.Contract, error)) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	contract, err := call(ctx, id, actorOrEmpty(ctx), req.Reason)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.log(ctx, operation, "contract_id", id, "state", contract.State).InfoContext(ctx, "contract transitioned")
	h.responder.writeJSON(ctx, w, http.StatusOK, toContractDTO(contract, ""))
}

func (h *ContractHandler) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.service == nil {
		h.responder.writeError(r.Context(), w, http.StatusInternalServerError, errServiceUnconfigured)
		return "", false
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return "", false
	}
	return id, true
}

func (h *ContractHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return operationLogger(ctx, h.logger, "contract", operation, attrs...)
}

// decodeOptionalJSON treats an empty body as an empty object.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errBadRequestBody
	}
	return nil
}

type contractRequest struct {
	SubjectID    string `json:"subject_id"`
	MembershipID string `json:"membership_id"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Price        int64  `json:"price"`
}

type renewRequest struct {
	MembershipID string `json:"membership_id"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Price        int64  `json:"price"`
}

type transitionRequest struct {
	Reason string `json:"reason"`
}

type contractDTO struct {
	ID           string `json:"id"`
	SubjectID    string `json:"subject_id"`
	MembershipID string `json:"membership_id"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Price        int64  `json:"price"`
	State        string `json:"state"`
	Advisory     string `json:"advisory_state,omitempty"`
	// Actions are the lifecycle events the current state accepts.
	Actions   []string `json:"allowed_actions"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

func toContractDTO(c application.Contract, advisory lifecycle.Advisory) contractDTO {
	return contractDTO{
		ID:           c.ID,
		SubjectID:    c.SubjectID,
		MembershipID: c.MembershipID,
		Start:        formatTime(c.Start),
		End:          formatTime(c.End),
		Price:        c.Price,
		State:        string(c.State),
		Advisory:     string(advisory),
		Actions:      allowedActions(c.State),
		CreatedAt:    formatTime(c.CreatedAt),
		UpdatedAt:    formatTime(c.UpdatedAt),
	}
}

func allowedActions(state lifecycle.State) []string {
	events := lifecycle.Events(state)
	actions := make([]string, len(events))
	for i, event := range events {
		actions[i] = string(event)
	}
	return actions
}

type renewDTO struct {
	Expired contractDTO `json:"expired"`
	Renewed contractDTO `json:"renewed"`
}

type historyDTO struct {
	ID         string  `json:"id"`
	ContractID string  `json:"contract_id"`
	FromState  *string `json:"from_state"`
	ToState    string  `json:"to_state"`
	ChangedAt  string  `json:"changed_at"`
	ChangedBy  string  `json:"changed_by"`
	Reason     *string `json:"reason,omitempty"`
}

func toHistoryDTO(rec application.HistoryRecord) historyDTO {
	dto := historyDTO{
		ID:         rec.ID,
		ContractID: rec.ContractID,
		ToState:    string(rec.To),
		ChangedAt:  formatTime(rec.ChangedAt),
		ChangedBy:  rec.ChangedBy,
		Reason:     rec.Reason,
	}
	if rec.From != nil {
		from := string(*rec.From)
		dto.FromState = &from
	}
	return dto
}

type verifyDTO struct {
	ContractID  string `json:"contract_id"`
	StoredState string `json:"stored_state"`
	Replayed    string `json:"replayed_state,omitempty"`
	Records     int    `json:"records"`
	Consistent  bool   `json:"consistent"`
	Problem     string `json:"problem,omitempty"`
}
