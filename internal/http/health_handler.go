package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

const healthCheckTimeout = 2 * time.Second

// HealthHandler answers liveness probes.
type HealthHandler struct {
	pinger    Pinger
	responder responder
}

func NewHealthHandler(pinger Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{pinger: pinger, responder: newResponder(logger)}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()
		if err := h.pinger.Ping(pingCtx); err != nil {
			h.responder.writeError(ctx, w, http.StatusServiceUnavailable, err)
			return
		}
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}
