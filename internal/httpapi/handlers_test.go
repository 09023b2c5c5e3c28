package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/ride-hailing/internal/gateway"
	"github.com/example/ride-hailing/internal/identity"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/presence"
	"github.com/example/ride-hailing/internal/ride"
	"github.com/example/ride-hailing/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	engine := &ride.Engine{
		Presence: presence.NewRegistry(),
		Store:    store,
		Identity: identity.NewStaticDirectory(),
	}
	t.Cleanup(engine.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := &gateway.Gateway{Engine: engine, Logger: logger}
	return NewServer(gw, store, nil, logger), store
}

func TestRideHistory(t *testing.T) {
	srv, store := newTestServer(t)
	_, err := store.Create(context.Background(), models.Ride{
		PassengerID: "p1", DriverID: "d1", Status: models.StatusPickingUp,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/rides/history/p1", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"passengerId":"p1"`) {
		t.Fatalf("history missing ride: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/rides/history/nobody", nil))
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"rides":[]`) {
		t.Fatalf("empty history should be 200 with an empty list: %d %s", rec.Code, rec.Body.String())
	}
}

func TestPaymentIntentUnconfigured(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/payments/intent",
		strings.NewReader(`{"rideId":"r1","userId":"p1"}`)))
	if rec.Code != 503 {
		t.Fatalf("expected 503 without a payment client, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("healthz returned %d", rec.Code)
	}
}
