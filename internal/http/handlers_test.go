package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/gym-backoffice/internal/application"
	"github.com/example/gym-backoffice/internal/auth"
	"github.com/example/gym-backoffice/internal/persistence"
	"github.com/example/gym-backoffice/internal/persistence/memory"
)

const staffToken = "front-desk-token"

var testNow = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

type observation struct {
	method string
	route  string
	status int
}

type captureObserver struct {
	mu   sync.Mutex
	seen []observation
}

func (c *captureObserver) ObserveRequest(method, route string, status int, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, observation{method: method, route: route, status: status})
}

func (c *captureObserver) last() observation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.seen) == 0 {
		return observation{}
	}
	return c.seen[len(c.seen)-1]
}

type testServer struct {
	handler  http.Handler
	observer *captureObserver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.NewStore()
	for _, m := range []persistence.Member{
		{ID: "T1", Kind: persistence.MemberTrainer, DisplayName: "Trainer One", Active: true},
		{ID: "T2", Kind: persistence.MemberTrainer, DisplayName: "Trainer Two", Active: true},
		{ID: "C1", Kind: persistence.MemberClient, DisplayName: "Client One", Active: true},
		{ID: "C2", Kind: persistence.MemberClient, DisplayName: "Client Two", Active: true},
	} {
		store.PutMember(m)
	}

	var (
		mu sync.Mutex
		n  int
	)
	ids := func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	now := func() time.Time { return testNow }

	hash, err := auth.HashToken(staffToken, auth.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16})
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	registry, err := auth.ParseRegistry([]string{"desk-1=" + hash})
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	observer := &captureObserver{}
	handler := NewRouter(RouterConfig{
		Bookings:  NewBookingHandler(application.NewBookingService(store, ids, now), logger),
		Contracts: NewContractHandler(application.NewContractService(store, ids, now, 0), logger),
		Health:    NewHealthHandler(store, logger),
		Staff:     RequireStaff(registry, logger),
		Middleware: []func(http.Handler) http.Handler{
			RequestLogger(logger, observer),
			Recover(logger),
		},
	})
	return &testServer{handler: handler, observer: observer}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doWithToken(t, method, path, staffToken, body)
}

func (s *testServer) doWithToken(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func bookingBody(trainer, client string, startHour, endHour int) map[string]any {
	return map[string]any{
		"trainer_id": trainer,
		"client_id":  client,
		"start":      time.Date(2024, 1, 1, startHour, 0, 0, 0, time.UTC).Format(time.RFC3339),
		"end":        time.Date(2024, 1, 1, endHour, 0, 0, 0, time.UTC).Format(time.RFC3339),
		"title":      "Strength session",
	}
}

func TestBookingEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("create then reject an overlapping trainer booking", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodPost, "/bookings", bookingBody("T1", "C1", 10, 11))
		expectStatus(t, rec, http.StatusCreated)
		created := decodeBody[bookingDTO](t, rec)
		if created.Status != "scheduled" || created.TrainerID != "T1" {
			t.Fatalf("unexpected booking %+v", created)
		}

		rec = srv.do(t, http.MethodPost, "/bookings", bookingBody("T1", "C2", 10, 12))
		expectStatus(t, rec, http.StatusConflict)
		resp := decodeBody[errorResponse](t, rec)
		if resp.ErrorCode != "SCHEDULING_CONFLICT" || len(resp.Conflicts) != 1 {
			t.Fatalf("unexpected conflict payload %+v", resp)
		}
		conflict := resp.Conflicts[0]
		if conflict.BookingID != created.ID || len(conflict.Types) != 1 || conflict.Types[0] != "trainer" {
			t.Fatalf("unexpected conflict %+v", conflict)
		}

		rec = srv.do(t, http.MethodPost, "/bookings", bookingBody("T1", "C2", 11, 12))
		expectStatus(t, rec, http.StatusCreated)
	})

	t.Run("validation failures map to 422 with field errors", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t)

		body := bookingBody("T1", "C1", 10, 11)
		body["start"] = "tomorrow morning"
		rec := srv.do(t, http.MethodPost, "/bookings", body)
		expectStatus(t, rec, http.StatusUnprocessableEntity)
		resp := decodeBody[errorResponse](t, rec)
		if _, ok := resp.Errors["start"]; !ok {
			t.Fatalf("expected start field error, got %+v", resp.Errors)
		}

		rec = srv.do(t, http.MethodPost, "/bookings", bookingBody("T1", "C1", 11, 10))
		expectStatus(t, rec, http.StatusUnprocessableEntity)
		resp = decodeBody[errorResponse](t, rec)
		if _, ok := resp.Errors["end"]; !ok {
			t.Fatalf("expected end field error, got %+v", resp.Errors)
		}
	})

	t.Run("malformed JSON is a bad request", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodPost, "/bookings", "{not json")
		expectStatus(t, rec, http.StatusBadRequest)
	})

	t.Run("unknown trainer is not found", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodPost, "/bookings", bookingBody("T404", "C1", 10, 11))
		expectStatus(t, rec, http.StatusNotFound)
	})

	t.Run("list reports effective status", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t)

		expectStatus(t, srv.do(t, http.MethodPost, "/bookings", bookingBody("T1", "C1", 7, 9)), http.StatusCreated)
		expectStatus(t, srv.do(t, http.MethodPost, "/bookings", bookingBody("T2", "C2", 10, 11)), http.StatusCreated)

		rec := srv.do(t, http.MethodGet, "/bookings?trainer_id=T1", nil)
		expectStatus(t, rec, http.StatusOK)
		list := decodeBody[[]bookingDTO](t, rec)
		if len(list) != 1 || list[0].EffectiveStatus != "in_progress" {
			t.Fatalf("unexpected list %+v", list)
		}

		rec = srv.do(t, http.MethodGet, "/bookings?limit=-1", nil)
		expectStatus(t, rec, http.StatusUnprocessableEntity)
	})

	t.Run("cancel frees the slot and complete is rejected afterwards", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t)

		created := decodeBody[bookingDTO](t, srv.do(t, http.MethodPost, "/bookings", bookingBody("T1", "C1", 10, 11)))

		rec := srv.do(t, http.MethodPost, "/bookings/"+created.ID+"/cancel", nil)
		expectStatus(t, rec, http.StatusOK)
		if got := decodeBody[bookingDTO](t, rec); got.Status != "cancelled" {
			t.Fatalf("expected cancelled, got %+v", got)
		}

		expectStatus(t, srv.do(t, http.MethodPost, "/bookings/"+created.ID+"/complete", nil), http.StatusUnprocessableEntity)
		expectStatus(t, srv.do(t, http.MethodPost, "/bookings", bookingBody("T1", "C2", 10, 11)), http.StatusCreated)
	})

	t.Run("patch reschedules a booking", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t)

		created := decodeBody[bookingDTO](t, srv.do(t, http.MethodPost, "/bookings", bookingBody("T1", "C1", 10, 11)))
		blocker := decodeBody[bookingDTO](t, srv.do(t, http.MethodPost, "/bookings", bookingBody("T2", "C2", 12, 13)))

		rec := srv.do(t, http.MethodPatch, "/bookings/"+created.ID, map[string]any{"client_id": "C2", "start": "2024-01-01T12:30:00Z", "end": "2024-01-01T13:30:00Z"})
		expectStatus(t, rec, http.StatusConflict)
		resp := decodeBody[errorResponse](t, rec)
		if len(resp.Conflicts) != 1 || resp.Conflicts[0].BookingID != blocker.ID {
			t.Fatalf("unexpected conflicts %+v", resp.Conflicts)
		}

		rec = srv.do(t, http.MethodPatch, "/bookings/"+created.ID, map[string]any{"start": "2024-01-01T10:30:00Z", "end": "2024-01-01T11:30:00Z"})
		expectStatus(t, rec, http.StatusOK)
		if got := decodeBody[bookingDTO](t, rec); got.Start != "2024-01-01T10:30:00Z" {
			t.Fatalf("unexpected start %q", got.Start)
		}
	})

	t.Run("missing booking is not found", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodGet, "/bookings/nope", nil)
		expectStatus(t, rec, http.StatusNotFound)
		if got := srv.observer.last(); got.route != "GET /bookings/{id}" || got.status != http.StatusNotFound {
			t.Fatalf("unexpected observation %+v", got)
		}
	})
}

func TestContractEndpoints(t *testing.T) {
	t.Parallel()

	createBody := map[string]any{
		"subject_id":    "C1",
		"membership_id": "M-monthly",
		"start":         "2024-01-01T00:00:00Z",
		"end":           "2024-02-01T00:00:00Z",
		"price":         12000,
	}

	t.Run("freeze requires a reason and records the actor", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodPost, "/contracts", createBody)
		expectStatus(t, rec, http.StatusCreated)
		contract := decodeBody[contractDTO](t, rec)
		base := "/contracts/" + contract.ID

		rec = srv.do(t, http.MethodPost, base+"/freeze", nil)
		expectStatus(t, rec, http.StatusUnprocessableEntity)
		if resp := decodeBody[errorResponse](t, rec); resp.ErrorCode != "GUARD_FAILED" || resp.Transition == nil || resp.Transition.Event != "freeze" {
			t.Fatalf("unexpected guard payload %+v", resp)
		}

		rec = srv.do(t, http.MethodPost, base+"/freeze", map[string]string{"reason": "injury"})
		expectStatus(t, rec, http.StatusOK)
		frozen := decodeBody[contractDTO](t, rec)
		if frozen.State != "frozen" {
			t.Fatalf("expected frozen, got %+v", frozen)
		}
		if got := strings.Join(frozen.Actions, ","); got != "unfreeze,cancel,expire" {
			t.Fatalf("unexpected allowed actions %q", got)
		}

		rec = srv.do(t, http.MethodPost, base+"/renew", map[string]any{
			"membership_id": "M-monthly",
			"start":         "2024-02-01T00:00:00Z",
			"end":           "2024-03-01T00:00:00Z",
			"price":         12000,
		})
		expectStatus(t, rec, http.StatusConflict)
		if resp := decodeBody[errorResponse](t, rec); resp.ErrorCode != "INVALID_TRANSITION" || resp.Transition.From != "frozen" {
			t.Fatalf("unexpected transition payload %+v", resp)
		}

		rec = srv.do(t, http.MethodGet, base+"/history", nil)
		expectStatus(t, rec, http.StatusOK)
		history := decodeBody[[]historyDTO](t, rec)
		if len(history) != 2 {
			t.Fatalf("expected inception and freeze records, got %+v", history)
		}
		last := history[1]
		if last.FromState == nil || *last.FromState != "active" || last.ToState != "frozen" || last.ChangedBy != "desk-1" {
			t.Fatalf("unexpected freeze record %+v", last)
		}
		if last.Reason == nil || *last.Reason != "injury" {
			t.Fatalf("expected reason to be recorded, got %+v", last.Reason)
		}
	})

	t.Run("renew returns both contracts and history verifies", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t)

		contract := decodeBody[contractDTO](t, srv.do(t, http.MethodPost, "/contracts", createBody))
		rec := srv.do(t, http.MethodPost, "/contracts/"+contract.ID+"/renew", map[string]any{
			"membership_id": "M-monthly",
			"start":         "2024-02-01T00:00:00Z",
			"end":           "2024-03-01T00:00:00Z",
			"price":         12500,
		})
		expectStatus(t, rec, http.StatusCreated)
		renewal := decodeBody[renewDTO](t, rec)
		if renewal.Expired.State != "expired" || renewal.Renewed.State != "active" || renewal.Renewed.SubjectID != "C1" {
			t.Fatalf("unexpected renewal %+v", renewal)
		}

		rec = srv.do(t, http.MethodGet, "/contracts/"+contract.ID+"/verify", nil)
		expectStatus(t, rec, http.StatusOK)
		if got := decodeBody[verifyDTO](t, rec); !got.Consistent || got.Records != 2 {
			t.Fatalf("unexpected verification %+v", got)
		}

		rec = srv.do(t, http.MethodGet, "/contracts?subject_id=C1&state=active", nil)
		expectStatus(t, rec, http.StatusOK)
		list := decodeBody[[]contractDTO](t, rec)
		if len(list) != 1 || list[0].ID != renewal.Renewed.ID {
			t.Fatalf("unexpected list %+v", list)
		}

		expectStatus(t, srv.do(t, http.MethodGet, "/contracts?state=dormant", nil), http.StatusUnprocessableEntity)
	})

	t.Run("expire before the term ends fails its guard", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t)

		contract := decodeBody[contractDTO](t, srv.do(t, http.MethodPost, "/contracts", createBody))
		expectStatus(t, srv.do(t, http.MethodPost, "/contracts/"+contract.ID+"/expire", nil), http.StatusUnprocessableEntity)

		rec := srv.do(t, http.MethodGet, "/contracts/"+contract.ID, nil)
		expectStatus(t, rec, http.StatusOK)
		if got := decodeBody[contractDTO](t, rec); got.State != "active" || got.Advisory != "active" {
			t.Fatalf("unexpected contract %+v", got)
		}
	})

	t.Run("unknown contract is not found", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t)

		expectStatus(t, srv.do(t, http.MethodPost, "/contracts/missing/cancel", nil), http.StatusNotFound)
		expectStatus(t, srv.do(t, http.MethodGet, "/contracts/missing/history", nil), http.StatusNotFound)
	})
}

func TestStaffAuthentication(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	rec := srv.doWithToken(t, http.MethodGet, "/bookings", "", nil)
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = srv.doWithToken(t, http.MethodGet, "/bookings", "stolen", nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if resp := decodeBody[errorResponse](t, rec); resp.ErrorCode != "UNAUTHORIZED" {
		t.Fatalf("unexpected payload %+v", resp)
	}

	rec = srv.doWithToken(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)
}

type failingBookings struct {
	BookingService
	err error
}

func (f failingBookings) CreateBooking(context.Context, application.BookingInput) (application.Booking, error) {
	return application.Booking{}, f.err
}

func TestServiceErrorMapping(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"persistence", &application.PersistenceError{Op: "create booking", Err: persistence.ErrBusy}, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"canceled", context.Canceled, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"unauthorized", application.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			handler := NewRouter(RouterConfig{Bookings: NewBookingHandler(failingBookings{err: tc.err}, logger)})

			req := httptest.NewRequest(http.MethodPost, "/bookings", bytes.NewBufferString(`{"trainer_id":"T1","client_id":"C1","start":"2024-01-01T10:00:00Z","end":"2024-01-01T11:00:00Z"}`))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			expectStatus(t, rec, tc.wantStatus)
			if resp := decodeBody[errorResponse](t, rec); resp.ErrorCode != tc.wantCode {
				t.Fatalf("expected %s, got %+v", tc.wantCode, resp)
			}
			if tc.wantStatus == http.StatusServiceUnavailable && rec.Header().Get("Retry-After") == "" {
				t.Fatalf("expected Retry-After header")
			}
		})
	}
}
