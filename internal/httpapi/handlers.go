// Package httpapi carries the HTTP surface around the websocket core:
// the /ws upgrade endpoint, ride history, payment intents and the
// operational endpoints.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-hailing/internal/gateway"
	"github.com/example/ride-hailing/internal/payments"
	"github.com/example/ride-hailing/internal/storage"
)

type Server struct {
	Gateway  *gateway.Gateway
	Store    storage.RideStore
	Payments *payments.StripeClient

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(gw *gateway.Gateway, store storage.RideStore, pay *payments.StripeClient, logger *slog.Logger) *Server {
	s := &Server{Gateway: gw, Store: store, Payments: pay, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.Gateway.HandleWS)
	s.mux.HandleFunc("/api/v1/rides/history/{user_id}", s.handleRideHistory).Methods("GET")
	s.mux.HandleFunc("/api/v1/payments/intent", s.handlePaymentIntent).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRideHistory(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	rides, err := s.Store.FindByParticipant(r.Context(), userID)
	if err != nil {
		s.logger.Error("ride history lookup failed", "user_id", userID, "error", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"userId": userID, "rides": rides})
}

type paymentIntentRequest struct {
	RideID string `json:"rideId"`
	UserID string `json:"userId"`
}

// handlePaymentIntent creates a Stripe payment intent for a ride,
// charging the fare fixed at creation.
func (s *Server) handlePaymentIntent(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil {
		http.Error(w, "payments not configured", http.StatusServiceUnavailable)
		return
	}
	var req paymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Store.Get(r.Context(), req.RideID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "ride not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("payment ride lookup failed", "ride_id", req.RideID, "error", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	if !ride.Participant(req.UserID) {
		http.Error(w, "not a participant of this ride", http.StatusForbidden)
		return
	}

	secret, err := s.Payments.CreateIntent(r.Context(), ride.ID, ride.Fare)
	if err != nil {
		s.logger.Error("payment intent failed", "ride_id", ride.ID, "error", err)
		http.Error(w, "payment provider error", http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"rideId": ride.ID, "clientSecret": secret, "amount": payments.Cents(ride.Fare)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
