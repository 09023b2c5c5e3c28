// Package gateway owns the websocket endpoint: upgrade, the
// per-connection read loop and dispatch of named events into the engine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/ride"
	"github.com/example/ride-hailing/internal/storage"
)

// Gateway translates websocket traffic into engine calls. One goroutine
// per connection runs the read loop; writes go through the session's
// mutex, so engine fan-outs and replies never interleave frames.
type Gateway struct {
	Engine   *ride.Engine
	Logger   *slog.Logger
	Upgrader websocket.Upgrader
}

func (g *Gateway) log() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// HandleWS upgrades the request and serves the connection until the peer
// goes away. Presence cleanup happens exactly once, on loop exit.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log().Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	sess := dispatch.NewSession(conn)
	observability.ConnectionsActive.Inc()
	defer observability.ConnectionsActive.Dec()
	defer sess.Close()
	defer g.Engine.Disconnect(sess)

	// The connection outlives the upgrade request, so the loop must not
	// inherit the request context.
	ctx := context.Background()
	var userID string
	for {
		event, data, err := sess.ReadEnvelope()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log().Debug("connection closed", "user_id", userID, "error", err)
			}
			return
		}
		observability.EventsTotal.WithLabelValues(event).Inc()
		g.log().Info("event received", "user_id", userID, "event", event)
		g.Dispatch(ctx, sess, &userID, event, data)
	}
}

// Dispatch routes one inbound envelope to its handler. A panic in a
// handler is contained to that event: the connection and every other
// client stay up.
func (g *Gateway) Dispatch(ctx context.Context, sess dispatch.Sender, userID *string, event string, data json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			g.log().Error("handler panic recovered", "event", event, "user_id", *userID, "error", rec)
		}
	}()

	switch event {
	case models.EventRegisterUser:
		g.handleRegister(sess, userID, data)
	case models.EventPassengerRideRequest:
		g.handleRideRequest(ctx, data)
	case models.EventDriverAcceptRide:
		g.handleDriverAccept(ctx, data)
	case models.EventPassengerAcceptDriver:
		g.handlePassengerAccept(ctx, data)
	case models.EventUpdateLocation:
		g.handleLocationUpdate(ctx, data)
	case models.EventGetRideDetails:
		g.handleRideDetails(ctx, sess, data)
	default:
		g.log().Warn("unknown event dropped", "event", event, "user_id", *userID)
	}
}

func (g *Gateway) handleRegister(sess dispatch.Sender, userID *string, data json.RawMessage) {
	var reg models.RegisterUser
	if err := json.Unmarshal(data, &reg); err != nil {
		g.log().Warn("malformed register_user", "error", err)
		return
	}
	role := models.Role(reg.Type)
	if reg.UserID == "" || !role.Valid() {
		g.log().Warn("register_user with invalid identity", "user_id", reg.UserID, "type", reg.Type)
		return
	}
	g.Engine.Presence.Register(reg.UserID, role, sess)
	*userID = reg.UserID
	g.log().Info("user registered", "user_id", reg.UserID, "role", role)
}

func (g *Gateway) handleRideRequest(ctx context.Context, data json.RawMessage) {
	var req models.RideRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.log().Warn("malformed passenger_ride_request", "error", err)
		return
	}
	if err := g.Engine.RequestRide(ctx, req); err != nil {
		g.log().Error("ride request failed", "passenger_id", req.PassengerID, "error", err)
	}
}

func (g *Gateway) handleDriverAccept(ctx context.Context, data json.RawMessage) {
	var acc models.DriverAccept
	if err := json.Unmarshal(data, &acc); err != nil {
		g.log().Warn("malformed driver_accept_ride", "error", err)
		return
	}
	err := g.Engine.DriverAccept(ctx, acc)
	if errors.Is(err, ride.ErrPartyAbsent) {
		return // passenger gone, nothing to relay
	}
	if err != nil {
		g.log().Error("driver accept failed", "driver_id", acc.DriverID, "error", err)
	}
}

func (g *Gateway) handlePassengerAccept(ctx context.Context, data json.RawMessage) {
	var acc models.PassengerAccept
	if err := json.Unmarshal(data, &acc); err != nil {
		g.log().Warn("malformed passenger_accept_driver", "error", err)
		return
	}
	err := g.Engine.PassengerAcceptDriver(ctx, acc)
	if errors.Is(err, ride.ErrPartyAbsent) {
		return
	}
	if err != nil {
		g.log().Error("ride creation failed",
			"passenger_id", acc.PassengerID, "driver_id", acc.DriverID, "error", err)
	}
}

func (g *Gateway) handleLocationUpdate(ctx context.Context, data json.RawMessage) {
	var upd models.LocationUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		g.log().Warn("malformed update_location", "error", err)
		return
	}
	if err := g.Engine.UpdateLocation(ctx, upd); err != nil {
		g.log().Error("location update failed", "user_id", upd.UserID, "error", err)
	}
}

func (g *Gateway) handleRideDetails(ctx context.Context, sess dispatch.Sender, data json.RawMessage) {
	var q models.RideDetailsQuery
	if err := json.Unmarshal(data, &q); err != nil {
		g.log().Warn("malformed get_ride_details", "error", err)
		return
	}
	details, err := g.Engine.RideDetails(ctx, q)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		_ = sess.Send(models.EventRideDetailsError, models.ErrorEvent{Message: "ride not found"})
	case errors.Is(err, ride.ErrUnauthorized):
		_ = sess.Send(models.EventRideDetailsError, models.ErrorEvent{Message: "not a participant of this ride"})
	case err != nil:
		g.log().Error("ride details failed", "ride_id", q.RideID, "error", err)
		_ = sess.Send(models.EventRideDetailsError, models.ErrorEvent{Message: "could not load ride"})
	default:
		_ = sess.Send(models.EventRideDetails, details)
	}
}
