package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/gym-backoffice/internal/application"
	"github.com/example/gym-backoffice/internal/lifecycle"
)

var (
	errBadRequestBody      = errors.New("request body is not valid JSON")
	errMissingID           = errors.New("resource id is required")
	errMissingStaffToken   = errors.New("a staff bearer token is required")
	errServiceUnconfigured = errors.New("service is not configured")
)

// retryAfterSeconds is advertised on 503 responses caused by lock contention.
const retryAfterSeconds = "1"

type responder struct {
	logger *slog.Logger
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// operationLogger prefers the request scoped logger, which already carries the
// actor, and tags it with the resource and action being served.
func operationLogger(ctx context.Context, fallback *slog.Logger, resource, action string, attrs ...any) *slog.Logger {
	logger := LoggerFromContext(ctx)
	if logger == nil {
		logger = loggerOrDefault(fallback)
	}
	return logger.With(append([]any{"resource", resource, "action", action}, attrs...)...)
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: loggerOrDefault(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: errorCodeForStatus(status), Message: message})
}

// handleServiceError translates application errors into the shared error envelope.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var (
		vErr *application.ValidationError
		cErr *application.ConflictError
		tErr *lifecycle.TransitionError
		nErr *application.NotFoundError
	)
	switch {
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "request contains invalid fields",
			Errors:    vErr.FieldErrors,
		})
	case errors.As(err, &cErr):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "SCHEDULING_CONFLICT",
			Message:   "the requested time overlaps existing bookings",
			Conflicts: conflictDTOs(cErr.Conflicts),
		})
	case errors.As(err, &tErr) && errors.Is(err, lifecycle.ErrGuardFailed):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode:  "GUARD_FAILED",
			Message:    tErr.Error(),
			Transition: &transitionDTO{From: string(tErr.From), Event: string(tErr.Event), Detail: tErr.Detail},
		})
	case errors.As(err, &tErr):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode:  "INVALID_TRANSITION",
			Message:    tErr.Error(),
			Transition: &transitionDTO{From: string(tErr.From), Event: string(tErr.Event), Detail: tErr.Detail},
		})
	case errors.As(err, &nErr):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{
			ErrorCode: "NOT_FOUND",
			Message:   nErr.Resource + " " + nErr.ID + " does not exist",
		})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: "NOT_FOUND", Message: "resource does not exist"})
	case errors.Is(err, application.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{ErrorCode: "UNAUTHORIZED", Message: "an authenticated staff member is required"})
	case errors.Is(err, application.ErrPersistence),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", retryAfterSeconds)
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{ErrorCode: "UNAVAILABLE", Message: "storage is temporarily unavailable, retry the request"})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{ErrorCode: "INTERNAL", Message: http.StatusText(http.StatusInternalServerError)})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

type errorResponse struct {
	ErrorCode  string            `json:"error_code,omitempty"`
	Message    string            `json:"message"`
	Errors     map[string]string `json:"errors,omitempty"`
	Conflicts  []conflictDTO     `json:"conflicts,omitempty"`
	Transition *transitionDTO    `json:"transition,omitempty"`
}

type conflictDTO struct {
	BookingID string   `json:"booking_id"`
	TrainerID string   `json:"trainer_id"`
	ClientID  string   `json:"client_id"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Status    string   `json:"status"`
	Types     []string `json:"types"`
}

type transitionDTO struct {
	From   string `json:"from"`
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

func conflictDTOs(conflicts []application.BookingConflict) []conflictDTO {
	out := make([]conflictDTO, 0, len(conflicts))
	for _, c := range conflicts {
		types := make([]string, len(c.Types))
		for i, t := range c.Types {
			types[i] = string(t)
		}
		out = append(out, conflictDTO{
			BookingID: c.BookingID,
			TrainerID: c.TrainerID,
			ClientID:  c.ClientID,
			Start:     formatTime(c.Start),
			End:       formatTime(c.End),
			Status:    string(c.Status),
			Types:     types,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errBadRequestBody
	}
	return nil
}
