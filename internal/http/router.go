package http

import (
	"net/http"
)

type RouterConfig struct {
	Bookings  *BookingHandler
	Contracts *ContractHandler
	Health    http.Handler
	Metrics   http.Handler
	// Staff guards every business route. Probes stay open.
	Staff      func(http.Handler) http.Handler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	protect := func(fn http.HandlerFunc) http.Handler {
		if cfg.Staff == nil {
			return fn
		}
		return cfg.Staff(fn)
	}

	if cfg.Bookings != nil {
		mux.Handle("POST /bookings", protect(cfg.Bookings.Create))
		mux.Handle("GET /bookings", protect(cfg.Bookings.List))
		mux.Handle("GET /bookings/{id}", protect(cfg.Bookings.Get))
		mux.Handle("PATCH /bookings/{id}", protect(cfg.Bookings.Update))
		mux.Handle("POST /bookings/{id}/cancel", protect(cfg.Bookings.Cancel))
		mux.Handle("POST /bookings/{id}/complete", protect(cfg.Bookings.Complete))
	}

	if cfg.Contracts != nil {
		mux.Handle("POST /contracts", protect(cfg.Contracts.Create))
		mux.Handle("GET /contracts", protect(cfg.Contracts.List))
		mux.Handle("GET /contracts/{id}", protect(cfg.Contracts.Get))
		mux.Handle("GET /contracts/{id}/history", protect(cfg.Contracts.History))
		mux.Handle("GET /contracts/{id}/verify", protect(cfg.Contracts.Verify))
		mux.Handle("POST /contracts/{id}/freeze", protect(cfg.Contracts.Freeze))
		mux.Handle("POST /contracts/{id}/unfreeze", protect(cfg.Contracts.Unfreeze))
		mux.Handle("POST /contracts/{id}/cancel", protect(cfg.Contracts.Cancel))
		mux.Handle("POST /contracts/{id}/expire", protect(cfg.Contracts.Expire))
		mux.Handle("POST /contracts/{id}/renew", protect(cfg.Contracts.Renew))
	}

	if cfg.Health != nil {
		mux.Handle("GET /healthz", cfg.Health)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}

	return handler
}
