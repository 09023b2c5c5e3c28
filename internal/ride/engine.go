// Package ride owns the lifecycle state machine: request fan-out,
// acceptance, location-triggered auto-transitions and completion.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/identity"
	"github.com/example/ride-hailing/internal/ingest"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/presence"
	"github.com/example/ride-hailing/internal/routing"
	"github.com/example/ride-hailing/internal/storage"
)

var (
	// ErrPartyAbsent means the driver or passenger is not currently
	// connected; the triggering event is dropped.
	ErrPartyAbsent = errors.New("party not connected")

	// ErrUnauthorized means the requester is not a party to the ride.
	ErrUnauthorized = errors.New("not a participant of this ride")
)

// LocationPublisher receives every applied location write, best-effort.
type LocationPublisher interface {
	Publish(ev ingest.LocationEvent) error
}

// Engine drives ride lifecycles. All ride state lives in the Store; the
// engine holds only presence references and pending-search timers.
type Engine struct {
	Presence  *presence.Registry
	Store     storage.RideStore
	Identity  identity.Directory
	Routing   routing.Oracle     // optional: polyline enrichment only
	Locations LocationPublisher  // optional: kafka location stream
	Logger    *slog.Logger

	ProximityKm   float64       // defaults to geo.DefaultProximityKm
	SearchTimeout time.Duration // 0 disables the unmatched-request timeout

	Clock func() time.Time // test seam

	mu      sync.Mutex
	pending map[string]*time.Timer // passengerID -> search expiry
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e *Engine) threshold() float64 {
	if e.ProximityKm > 0 {
		return e.ProximityKm
	}
	return geo.DefaultProximityKm
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// RequestRide fans a pending trip out to every available driver. No ride
// record exists yet; with zero drivers the passenger simply stays
// searching until a driver shows up or the search times out.
func (e *Engine) RequestRide(ctx context.Context, req models.RideRequest) error {
	drivers := e.Presence.AvailableDrivers()
	observability.RequestFanouts.Observe(float64(len(drivers)))
	for _, d := range drivers {
		if err := d.Conn.Send(models.EventPassengerRideRequest, req); err != nil {
			e.log().Warn("fan-out send failed", "driver_id", d.UserID, "error", err)
		}
	}
	e.log().Info("ride request fan-out",
		"passenger_id", req.PassengerID, "drivers", len(drivers))
	e.scheduleSearchTimeout(req.PassengerID)
	return nil
}

func (e *Engine) scheduleSearchTimeout(passengerID string) {
	if e.SearchTimeout <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		e.pending = make(map[string]*time.Timer)
	}
	if t, ok := e.pending[passengerID]; ok {
		t.Stop()
	}
	e.pending[passengerID] = time.AfterFunc(e.SearchTimeout, func() {
		e.expireSearch(passengerID)
	})
}

func (e *Engine) expireSearch(passengerID string) {
	e.mu.Lock()
	delete(e.pending, passengerID)
	e.mu.Unlock()

	entry, ok := e.Presence.Lookup(passengerID, models.RolePassenger)
	if !ok || entry.CurrentRideID != "" {
		return // disconnected or already matched
	}
	observability.SearchTimeouts.Inc()
	e.log().Info("ride request expired unmatched", "passenger_id", passengerID)
	_ = entry.Conn.Send(models.EventRideRequestTimeout, models.RequestTimeout{
		PassengerID: passengerID,
		Message:     "no driver accepted your request",
	})
}

func (e *Engine) cancelSearchTimeout(passengerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.pending[passengerID]; ok {
		t.Stop()
		delete(e.pending, passengerID)
	}
}

// Close stops all pending search timers.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.pending {
		t.Stop()
		delete(e.pending, id)
	}
}

// DriverAccept surfaces a volunteering driver to the passenger as a
// candidate. The payload carries no destination, so no ride is created
// here; the passenger confirms via PassengerAcceptDriver.
func (e *Engine) DriverAccept(ctx context.Context, acc models.DriverAccept) error {
	entry, ok := e.Presence.Lookup(acc.PassengerID, models.RolePassenger)
	if !ok {
		e.log().Info("driver accept for absent passenger",
			"driver_id", acc.DriverID, "passenger_id", acc.PassengerID)
		return ErrPartyAbsent
	}
	cand := models.DriverCandidate{
		DriverID:       acc.DriverID,
		Name:           acc.Username,
		DriverDistance: geo.DistanceKm(acc.DriverLocation, acc.StartLocation.Coord()),
		DriverLocation: acc.DriverLocation,
	}
	return entry.Conn.Send(models.EventDriverRequest, cand)
}

// PassengerAcceptDriver is the ride-creating transition: it validates both
// parties, fixes distance and fare forever, persists the ride picking_up,
// occupies the driver and notifies both sides. A duplicate or racing
// acceptance is an idempotent no-op that re-sends the existing ride.
func (e *Engine) PassengerAcceptDriver(ctx context.Context, acc models.PassengerAccept) error {
	driverEntry, ok := e.Presence.Lookup(acc.DriverID, models.RoleDriver)
	if !ok {
		e.log().Info("acceptance with absent driver", "driver_id", acc.DriverID)
		return ErrPartyAbsent
	}
	passengerEntry, ok := e.Presence.Lookup(acc.PassengerID, models.RolePassenger)
	if !ok {
		e.log().Info("acceptance with absent passenger", "passenger_id", acc.PassengerID)
		return ErrPartyAbsent
	}

	driver, err := e.Identity.Lookup(ctx, acc.DriverID)
	if err != nil {
		return e.abortCreation(driverEntry, passengerEntry, fmt.Errorf("driver identity: %w", err))
	}
	passenger, err := e.Identity.Lookup(ctx, acc.PassengerID)
	if err != nil {
		return e.abortCreation(driverEntry, passengerEntry, fmt.Errorf("passenger identity: %w", err))
	}

	distance := geo.DistanceKm(acc.StartLocation.Coord(), acc.DestinationLocation.Coord())
	now := e.now()
	draft := models.Ride{
		PassengerID:         acc.PassengerID,
		DriverID:            acc.DriverID,
		StartLocation:       acc.StartLocation,
		DestinationLocation: acc.DestinationLocation,
		Status:              models.StatusPickingUp,
		DistanceKm:          distance,
		Fare:                geo.Fare(distance),
		DriverDetails:       models.PartyDetails{Name: driver.Name, Rating: driver.Rating},
		PassengerDetails:    models.PartyDetails{Name: passenger.Name, Rating: passenger.Rating},
		CurrentLocations: models.RideLocations{
			Driver: models.TrackedLocation{
				Lat: acc.DriverLocation.Lat, Lon: acc.DriverLocation.Lon, LastUpdated: now,
			},
			Passenger: models.TrackedLocation{
				Lat: acc.StartLocation.Lat, Lon: acc.StartLocation.Lon, LastUpdated: now,
			},
		},
	}
	if e.Routing != nil {
		if rt, err := e.Routing.Route(ctx, acc.StartLocation.Coord(), acc.DestinationLocation.Coord()); err == nil {
			draft.Polyline = rt.Polyline
		} else {
			e.log().Debug("routing oracle unavailable", "error", err)
		}
	}

	created, err := e.Store.Create(ctx, draft)
	if errors.Is(err, storage.ErrActiveRide) {
		return e.renotifyActiveRide(ctx, acc.PassengerID, acc.DriverID)
	}
	if err != nil {
		return e.abortCreation(driverEntry, passengerEntry, fmt.Errorf("persist ride: %w", err))
	}

	e.Presence.SetOccupied(acc.DriverID, created.ID)
	e.Presence.SetActiveRide(acc.PassengerID, created.ID)
	e.cancelSearchTimeout(acc.PassengerID)
	observability.RidesCreated.Inc()
	e.log().Info("ride created",
		"ride_id", created.ID, "passenger_id", acc.PassengerID,
		"driver_id", acc.DriverID, "fare", created.Fare)

	e.notifyRideCreated(created)
	return nil
}

// renotifyActiveRide handles the duplicate-acceptance race: the pair
// already has a live ride, so resend it instead of creating a second one.
func (e *Engine) renotifyActiveRide(ctx context.Context, passengerID, driverID string) error {
	rides, err := e.Store.FindByParticipant(ctx, passengerID)
	if err != nil {
		return fmt.Errorf("lookup active ride: %w", err)
	}
	for i := range rides {
		r := &rides[i]
		if !r.Status.Terminal() && r.DriverID == driverID && r.PassengerID == passengerID {
			e.log().Info("duplicate acceptance, re-sending existing ride", "ride_id", r.ID)
			e.notifyRideCreated(r)
			return nil
		}
	}
	e.log().Info("acceptance refused: a party is on another active ride",
		"passenger_id", passengerID, "driver_id", driverID)
	return nil
}

func (e *Engine) abortCreation(driver, passenger presence.Entry, err error) error {
	msg := models.ErrorEvent{Message: "could not create ride"}
	_ = driver.Conn.Send(models.EventRideCreateError, msg)
	_ = passenger.Conn.Send(models.EventRideCreateError, msg)
	return err
}

// notifyRideCreated sends role-scoped payloads: each side gets the
// counterpart's snapshot and position, never its own mirrored back.
func (e *Engine) notifyRideCreated(r *models.Ride) {
	if p, ok := e.Presence.Lookup(r.PassengerID, models.RolePassenger); ok {
		driverLoc := r.CurrentLocations.Driver
		details := r.DriverDetails
		_ = p.Conn.Send(models.EventRideCreated, models.RideCreated{
			RideID:              r.ID,
			Status:              r.Status,
			Fare:                r.Fare,
			StartLocation:       r.StartLocation,
			DestinationLocation: r.DestinationLocation,
			Polyline:            r.Polyline,
			DriverDetails:       &details,
			DriverLocation:      &driverLoc,
		})
	}
	if d, ok := e.Presence.Lookup(r.DriverID, models.RoleDriver); ok {
		passengerLoc := r.CurrentLocations.Passenger
		details := r.PassengerDetails
		_ = d.Conn.Send(models.EventRideCreated, models.RideCreated{
			RideID:              r.ID,
			Status:              r.Status,
			Fare:                r.Fare,
			StartLocation:       r.StartLocation,
			DestinationLocation: r.DestinationLocation,
			Polyline:            r.Polyline,
			PassengerDetails:    &details,
			PassengerLocation:   &passengerLoc,
		})
	}
}

// UpdateLocation applies a position report and evaluates the
// auto-transition policy:
//
//	picking_up + driver near start          -> in_progress
//	in_progress + both near destination     -> completed
//
// The first fires as a conditional swap inside the same store update as
// the location write; the second is re-evaluated on every update from
// either party, since either one can complete the proximity condition.
func (e *Engine) UpdateLocation(ctx context.Context, upd models.LocationUpdate) error {
	if !upd.Role.Valid() {
		e.log().Debug("location update with invalid role", "user_id", upd.UserID, "role", upd.Role)
		return nil
	}
	entry, ok := e.Presence.Lookup(upd.UserID, upd.Role)
	if !ok || entry.CurrentRideID == "" {
		e.log().Debug("location update without active ride", "user_id", upd.UserID)
		return nil
	}

	ride, err := e.Store.Get(ctx, entry.CurrentRideID)
	if errors.Is(err, storage.ErrNotFound) {
		e.log().Info("location update for missing ride", "ride_id", entry.CurrentRideID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ride: %w", err)
	}
	if ride.Status.Terminal() {
		e.log().Debug("late location update for finished ride", "ride_id", ride.ID)
		return nil
	}

	ts := upd.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	loc := models.TrackedLocation{Lat: upd.Location.Lat, Lon: upd.Location.Lon, LastUpdated: ts}

	var cond *storage.StatusChange
	if ride.Status == models.StatusPickingUp && upd.Role == models.RoleDriver &&
		geo.IsNear(upd.Location, ride.StartLocation.Coord(), e.threshold()) {
		cond = &storage.StatusChange{From: models.StatusPickingUp, To: models.StatusInProgress}
	}

	updated, applied, err := e.Store.UpdateLocation(ctx, ride.ID, upd.Role, loc, cond)
	if err != nil {
		return fmt.Errorf("apply location: %w", err)
	}
	if !applied {
		e.log().Debug("stale location dropped", "ride_id", ride.ID, "role", upd.Role)
		return nil
	}

	if e.Locations != nil {
		if err := e.Locations.Publish(ingest.LocationEvent{
			RideID: updated.ID, UserID: upd.UserID, Role: upd.Role,
			Coord: upd.Location, At: ts,
		}); err != nil {
			e.log().Warn("location publish failed", "ride_id", updated.ID, "error", err)
		}
	}

	if updated.Status == models.StatusInProgress && e.bothAtDestination(updated) {
		final, swapped, err := e.Store.CompareAndSetStatus(ctx, updated.ID,
			models.StatusInProgress, models.StatusCompleted)
		if err != nil {
			return fmt.Errorf("complete ride: %w", err)
		}
		if swapped {
			e.completeRide(final)
			return nil
		}
		// Lost the race: the other party's update completed it already.
		return nil
	}

	e.broadcastLocation(updated, upd.Role, upd.Location)
	return nil
}

func (e *Engine) bothAtDestination(r *models.Ride) bool {
	dest := r.DestinationLocation.Coord()
	return geo.IsNear(r.CurrentLocations.Driver.Coord(), dest, e.threshold()) &&
		geo.IsNear(r.CurrentLocations.Passenger.Coord(), dest, e.threshold())
}

func (e *Engine) completeRide(r *models.Ride) {
	observability.RidesCompleted.Inc()
	e.log().Info("ride completed", "ride_id", r.ID, "fare", r.Fare)

	done := models.RideCompleted{
		RideID:        r.ID,
		FinalLocation: r.DestinationLocation,
		Fare:          r.Fare,
	}
	if p, ok := e.Presence.Lookup(r.PassengerID, models.RolePassenger); ok {
		_ = p.Conn.Send(models.EventRideCompleted, done)
	}
	if d, ok := e.Presence.Lookup(r.DriverID, models.RoleDriver); ok {
		_ = d.Conn.Send(models.EventRideCompleted, done)
	}

	e.Presence.SetAvailable(r.DriverID)
	e.Presence.ClearActiveRide(r.PassengerID)
}

// broadcastLocation relays an applied update to the counterpart only.
func (e *Engine) broadcastLocation(r *models.Ride, from models.Role, loc models.Coord) {
	var recipient string
	if from == models.RoleDriver {
		recipient = r.PassengerID
	} else {
		recipient = r.DriverID
	}
	entry, ok := e.Presence.Lookup(recipient, from.Other())
	if !ok {
		return // disconnected counterpart: drop, never queue
	}
	_ = entry.Conn.Send(models.EventLocationUpdate, models.LocationBroadcast{
		Role:     from,
		Location: loc,
		RideID:   r.ID,
		Status:   r.Status,
	})
}

// RideDetails returns the role-scoped snapshot of a ride. Only the ride's
// driver or passenger may query it; anyone else gets ErrUnauthorized and
// no fields.
func (e *Engine) RideDetails(ctx context.Context, q models.RideDetailsQuery) (*models.RideDetails, error) {
	r, err := e.Store.Get(ctx, q.RideID)
	if err != nil {
		return nil, err
	}
	if !r.Participant(q.UserID) {
		return nil, ErrUnauthorized
	}
	out := &models.RideDetails{
		RideID:              r.ID,
		Status:              r.Status,
		Fare:                r.Fare,
		StartLocation:       r.StartLocation,
		DestinationLocation: r.DestinationLocation,
		CurrentLocations:    r.CurrentLocations,
	}
	if q.UserID == r.DriverID {
		details := r.PassengerDetails
		loc := r.CurrentLocations.Passenger
		out.PassengerDetails = &details
		out.PassengerLocation = &loc
	}
	if q.UserID == r.PassengerID {
		details := r.DriverDetails
		loc := r.CurrentLocations.Driver
		out.DriverDetails = &details
		out.DriverLocation = &loc
	}
	return out, nil
}

// CancelRide moves a non-terminal ride to cancelled, frees the driver and
// notifies both parties. Safe to call concurrently with completion: the
// conditional swap loses cleanly.
func (e *Engine) CancelRide(ctx context.Context, rideID string) error {
	r, err := e.Store.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return nil
	}
	final, swapped, err := e.Store.CompareAndSetStatus(ctx, rideID, r.Status, models.StatusCancelled)
	if err != nil {
		return fmt.Errorf("cancel ride: %w", err)
	}
	if !swapped {
		return nil
	}
	e.log().Info("ride cancelled", "ride_id", rideID)

	note := models.ErrorEvent{Message: "ride cancelled"}
	if p, ok := e.Presence.Lookup(final.PassengerID, models.RolePassenger); ok {
		_ = p.Conn.Send(models.EventRideCancelled, note)
	}
	if d, ok := e.Presence.Lookup(final.DriverID, models.RoleDriver); ok {
		_ = d.Conn.Send(models.EventRideCancelled, note)
	}
	e.Presence.SetAvailable(final.DriverID)
	e.Presence.ClearActiveRide(final.PassengerID)
	return nil
}

// Disconnect frees any presence entries owned by conn. In-flight rides are
// left in their current status; the record is the durable truth and a
// reconnecting party resumes via get_ride_details.
func (e *Engine) Disconnect(conn dispatch.Sender) {
	e.Presence.Unregister(conn)
}
