package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/gym-backoffice/internal/application"
)

// BookingService is the subset of application.BookingService the handler needs.
type BookingService interface {
	CreateBooking(ctx context.Context, input application.BookingInput) (application.Booking, error)
	UpdateBooking(ctx context.Context, id string, patch application.BookingPatch) (application.Booking, error)
	CancelBooking(ctx context.Context, id string) (application.Booking, error)
	CompleteBooking(ctx context.Context, id string) (application.Booking, error)
	GetBooking(ctx context.Context, id string) (application.BookingView, error)
	ListBookings(ctx context.Context, params application.BookingListParams) ([]application.BookingView, error)
}

// BookingHandler serves the training session endpoints.
type BookingHandler struct {
	service   BookingService
	logger    *slog.Logger
	responder responder
}

func NewBookingHandler(service BookingService, logger *slog.Logger) *BookingHandler {
	logger = loggerOrDefault(logger)
	return &BookingHandler{service: service, logger: logger, responder: newResponder(logger)}
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.service == nil {
		h.responder.writeError(ctx, w, http.StatusInternalServerError, errServiceUnconfigured)
		return
	}

	var req bookingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	input, vErr := req.toInput()
	if vErr.HasErrors() {
		h.responder.handleServiceError(ctx, w, vErr)
		return
	}

	booking, err := h.service.CreateBooking(ctx, input)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.log(ctx, "create", "booking_id", booking.ID).InfoContext(ctx, "booking created")
	h.responder.writeJSON(ctx, w, http.StatusCreated, toBookingDTO(booking))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.service == nil {
		h.responder.writeError(ctx, w, http.StatusInternalServerError, errServiceUnconfigured)
		return
	}

	params, vErr := parseBookingListParams(r)
	if vErr.HasErrors() {
		h.responder.handleServiceError(ctx, w, vErr)
		return
	}

	views, err := h.service.ListBookings(ctx, params)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	response := make([]bookingDTO, 0, len(views))
	for _, view := range views {
		response = append(response, toBookingViewDTO(view))
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, response)
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetBooking(ctx, id)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, toBookingViewDTO(view))
}

func (h *BookingHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req bookingPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	patch, vErr := req.toPatch()
	if vErr.HasErrors() {
		h.responder.handleServiceError(ctx, w, vErr)
		return
	}

	booking, err := h.service.UpdateBooking(ctx, id, patch)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.log(ctx, "update", "booking_id", booking.ID).InfoContext(ctx, "booking updated")
	h.responder.writeJSON(ctx, w, http.StatusOK, toBookingDTO(booking))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, "cancel", func(ctx context.Context, id string) (application.Booking, error) {
		return h.service.CancelBooking(ctx, id)
	})
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, "complete", func(ctx context.Context, id string) (application.Booking, error) {
		return h.service.CompleteBooking(ctx, id)
	})
}

func (h *BookingHandler) changeStatus(w http.ResponseWriter, r *http.Request, operation string, call func(context.Context, string) (application.Booking, error)) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	booking, err := call(ctx, id)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.log(ctx, operation, "booking_id", booking.ID, "status", booking.Status).InfoContext(ctx, "booking status changed")
	h.responder.writeJSON(ctx, w, http.StatusOK, toBookingDTO(booking))
}

// pathID validates the handler wiring and the {id} path value.
func (h *BookingHandler) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
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

func (h *BookingHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return operationLogger(ctx, h.logger, "booking", operation, attrs...)
}

type bookingRequest struct {
	TrainerID string  `json:"trainer_id"`
	ClientID  string  `json:"client_id"`
	Start     string  `json:"start"`
	End       string  `json:"end"`
	Title     string  `json:"title"`
	Notes     *string `json:"notes"`
}

func (req bookingRequest) toInput() (application.BookingInput, *application.ValidationError) {
	vErr := &application.ValidationError{}
	input := application.BookingInput{
		TrainerID: req.TrainerID,
		ClientID:  req.ClientID,
		Title:     req.Title,
		Notes:     req.Notes,
	}
	input.Start = parseTimeField(vErr, "start", req.Start)
	input.End = parseTimeField(vErr, "end", req.End)
	return input, vErr
}

type bookingPatchRequest struct {
	TrainerID *string `json:"trainer_id"`
	ClientID  *string `json:"client_id"`
	Start     *string `json:"start"`
	End       *string `json:"end"`
	Title     *string `json:"title"`
	Notes     *string `json:"notes"`
}

func (req bookingPatchRequest) toPatch() (application.BookingPatch, *application.ValidationError) {
	vErr := &application.ValidationError{}
	patch := application.BookingPatch{
		TrainerID: req.TrainerID,
		ClientID:  req.ClientID,
		Title:     req.Title,
		Notes:     req.Notes,
	}
	if req.Start != nil {
		start := parseTimeField(vErr, "start", *req.Start)
		patch.Start = &start
	}
	if req.End != nil {
		end := parseTimeField(vErr, "end", *req.End)
		patch.End = &end
	}
	return patch, vErr
}

type bookingDTO struct {
	ID              string  `json:"id"`
	TrainerID       string  `json:"trainer_id"`
	ClientID        string  `json:"client_id"`
	Start           string  `json:"start"`
	End             string  `json:"end"`
	Status          string  `json:"status"`
	EffectiveStatus string  `json:"effective_status,omitempty"`
	Title           string  `json:"title"`
	Notes           *string `json:"notes,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func toBookingDTO(b application.Booking) bookingDTO {
	return bookingDTO{
		ID:        b.ID,
		TrainerID: b.TrainerID,
		ClientID:  b.ClientID,
		Start:     formatTime(b.Start),
		End:       formatTime(b.End),
		Status:    string(b.Status),
		Title:     b.Title,
		Notes:     b.Notes,
		CreatedAt: formatTime(b.CreatedAt),
		UpdatedAt: formatTime(b.UpdatedAt),
	}
}

func toBookingViewDTO(v application.BookingView) bookingDTO {
	dto := toBookingDTO(v.Booking)
	dto.EffectiveStatus = string(v.EffectiveStatus)
	return dto
}

func parseBookingListParams(r *http.Request) (application.BookingListParams, *application.ValidationError) {
	query := r.URL.Query()
	vErr := &application.ValidationError{}
	params := application.BookingListParams{
		TrainerID: strings.TrimSpace(query.Get("trainer_id")),
		ClientID:  strings.TrimSpace(query.Get("client_id")),
	}
	if raw := query.Get("from"); raw != "" {
		from := parseTimeField(vErr, "from", raw)
		params.From = &from
	}
	if raw := query.Get("to"); raw != "" {
		to := parseTimeField(vErr, "to", raw)
		params.To = &to
	}
	params.Limit = parseLimit(vErr, query.Get("limit"))
	return params, vErr
}

// parseTimeField accepts RFC 3339 timestamps. Blank values are left zero so
// the service reports them as missing.
func parseTimeField(vErr *application.ValidationError, field, raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		addFieldError(vErr, field, "must be an RFC 3339 timestamp")
		return time.Time{}
	}
	return t
}

func parseLimit(vErr *application.ValidationError, raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		addFieldError(vErr, "limit", "must be a non-negative integer")
		return 0
	}
	return n
}

func addFieldError(vErr *application.ValidationError, field, message string) {
	if vErr.FieldErrors == nil {
		vErr.FieldErrors = make(map[string]string)
	}
	vErr.FieldErrors[field] = message
}
