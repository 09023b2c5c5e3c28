package ride

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-hailing/internal/identity"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/presence"
	"github.com/example/ride-hailing/internal/storage"
)

var (
	pickup  = models.Location{Lat: 37.7749, Lon: -122.4194, Address: "Market St"}
	dropoff = models.Location{Lat: 37.7858, Lon: -122.4064, Address: "Union Square"}
	// Driver idling a block away from the pickup.
	driverStart = models.Coord{Lat: 37.7750, Lon: -122.4180}
)

type sentEvent struct {
	Event   string
	Payload any
}

type fakeConn struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeConn) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{Event: event, Payload: payload})
	return nil
}

func (f *fakeConn) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeConn) last(event string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Event == event {
			return f.events[i].Payload, true
		}
	}
	return nil, false
}

type testRig struct {
	engine    *Engine
	registry  *presence.Registry
	store     *storage.MemoryStore
	driver    *fakeConn
	passenger *fakeConn
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	reg := presence.NewRegistry()
	store := storage.NewMemoryStore()
	dir := identity.NewStaticDirectory(
		identity.User{ID: "d1", Name: "Dana", Rating: 4.8, Role: "driver"},
		identity.User{ID: "p1", Name: "Pat", Rating: 4.5, Role: "passenger"},
	)
	e := &Engine{Presence: reg, Store: store, Identity: dir}
	t.Cleanup(e.Close)

	rig := &testRig{engine: e, registry: reg, store: store,
		driver: &fakeConn{}, passenger: &fakeConn{}}
	reg.Register("d1", models.RoleDriver, rig.driver)
	reg.Register("p1", models.RolePassenger, rig.passenger)
	return rig
}

func (r *testRig) accept(t *testing.T) *models.Ride {
	t.Helper()
	err := r.engine.PassengerAcceptDriver(context.Background(), models.PassengerAccept{
		PassengerID:         "p1",
		DriverID:            "d1",
		StartLocation:       pickup,
		DestinationLocation: dropoff,
		DriverLocation:      driverStart,
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	entry, _ := r.registry.Lookup("d1", models.RoleDriver)
	ride, err := r.store.Get(context.Background(), entry.CurrentRideID)
	if err != nil {
		t.Fatalf("load created ride: %v", err)
	}
	return ride
}

func TestRequestRideFanOut(t *testing.T) {
	rig := newTestRig(t)
	second := &fakeConn{}
	busy := &fakeConn{}
	rig.registry.Register("d2", models.RoleDriver, second)
	rig.registry.Register("d3", models.RoleDriver, busy)
	rig.registry.SetOccupied("d3", "other-ride")

	req := models.RideRequest{PassengerID: "p1", StartLocation: pickup, DestinationLocation: dropoff}
	if err := rig.engine.RequestRide(context.Background(), req); err != nil {
		t.Fatalf("request: %v", err)
	}

	if rig.driver.count(models.EventPassengerRideRequest) != 1 {
		t.Fatal("available driver d1 did not receive the request")
	}
	if second.count(models.EventPassengerRideRequest) != 1 {
		t.Fatal("available driver d2 did not receive the request")
	}
	if busy.count(models.EventPassengerRideRequest) != 0 {
		t.Fatal("occupied driver must not receive requests")
	}
}

func TestRequestRideNoDriversIsNotAnError(t *testing.T) {
	rig := newTestRig(t)
	rig.registry.SetOccupied("d1", "other")
	req := models.RideRequest{PassengerID: "p1", StartLocation: pickup, DestinationLocation: dropoff}
	if err := rig.engine.RequestRide(context.Background(), req); err != nil {
		t.Fatalf("zero drivers should leave the passenger searching, got %v", err)
	}
}

func TestSearchTimeoutNotifiesPassenger(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.SearchTimeout = 10 * time.Millisecond

	req := models.RideRequest{PassengerID: "p1", StartLocation: pickup, DestinationLocation: dropoff}
	_ = rig.engine.RequestRide(context.Background(), req)

	deadline := time.Now().Add(time.Second)
	for rig.passenger.count(models.EventRideRequestTimeout) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("passenger never received ride_request_timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSearchTimeoutCancelledByAcceptance(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.SearchTimeout = 30 * time.Millisecond

	req := models.RideRequest{PassengerID: "p1", StartLocation: pickup, DestinationLocation: dropoff}
	_ = rig.engine.RequestRide(context.Background(), req)
	rig.accept(t)

	time.Sleep(80 * time.Millisecond)
	if rig.passenger.count(models.EventRideRequestTimeout) != 0 {
		t.Fatal("matched request must not time out")
	}
}

func TestDriverAcceptRelaysCandidate(t *testing.T) {
	rig := newTestRig(t)
	err := rig.engine.DriverAccept(context.Background(), models.DriverAccept{
		DriverID:       "d1",
		PassengerID:    "p1",
		Username:       "Dana",
		DriverLocation: driverStart,
		StartLocation:  pickup,
	})
	if err != nil {
		t.Fatalf("driver accept: %v", err)
	}
	payload, ok := rig.passenger.last(models.EventDriverRequest)
	if !ok {
		t.Fatal("passenger did not receive driver_request")
	}
	cand := payload.(models.DriverCandidate)
	if cand.DriverID != "d1" || cand.Name != "Dana" {
		t.Fatalf("unexpected candidate %+v", cand)
	}
	if cand.DriverDistance <= 0 || cand.DriverDistance > 1 {
		t.Fatalf("driver a block away, distance %f km", cand.DriverDistance)
	}
}

func TestDriverAcceptAbsentPassenger(t *testing.T) {
	rig := newTestRig(t)
	err := rig.engine.DriverAccept(context.Background(), models.DriverAccept{
		DriverID: "d1", PassengerID: "ghost",
	})
	if !errors.Is(err, ErrPartyAbsent) {
		t.Fatalf("expected ErrPartyAbsent, got %v", err)
	}
}

func TestPassengerAcceptCreatesRide(t *testing.T) {
	rig := newTestRig(t)
	ride := rig.accept(t)

	if ride.Status != models.StatusPickingUp {
		t.Fatalf("new ride should be picking_up, got %s", ride.Status)
	}
	if ride.DistanceKm < 1.4 || ride.DistanceKm > 1.55 {
		t.Fatalf("expected ~1.47 km, got %f", ride.DistanceKm)
	}
	if ride.Fare < 7.8 || ride.Fare > 8.1 {
		t.Fatalf("expected fare ~7.94, got %f", ride.Fare)
	}
	if ride.DriverDetails.Name != "Dana" || ride.PassengerDetails.Name != "Pat" {
		t.Fatalf("identity snapshots missing: %+v", ride)
	}

	entry, _ := rig.registry.Lookup("d1", models.RoleDriver)
	if entry.Status != presence.StatusOccupied || entry.CurrentRideID != ride.ID {
		t.Fatalf("driver should be occupied with the ride, got %+v", entry)
	}
	pEntry, _ := rig.registry.Lookup("p1", models.RolePassenger)
	if pEntry.CurrentRideID != ride.ID {
		t.Fatal("passenger active-ride reference not set")
	}

	// Role-scoped payloads: each side sees only the counterpart.
	payload, ok := rig.passenger.last(models.EventRideCreated)
	if !ok {
		t.Fatal("passenger did not receive ride_created")
	}
	toPassenger := payload.(models.RideCreated)
	if toPassenger.DriverDetails == nil || toPassenger.PassengerDetails != nil {
		t.Fatalf("passenger payload should carry driver details only: %+v", toPassenger)
	}
	payload, ok = rig.driver.last(models.EventRideCreated)
	if !ok {
		t.Fatal("driver did not receive ride_created")
	}
	toDriver := payload.(models.RideCreated)
	if toDriver.PassengerDetails == nil || toDriver.DriverDetails != nil {
		t.Fatalf("driver payload should carry passenger details only: %+v", toDriver)
	}
}

func TestDuplicateAcceptanceIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	first := rig.accept(t)

	err := rig.engine.PassengerAcceptDriver(context.Background(), models.PassengerAccept{
		PassengerID:         "p1",
		DriverID:            "d1",
		StartLocation:       pickup,
		DestinationLocation: dropoff,
		DriverLocation:      driverStart,
	})
	if err != nil {
		t.Fatalf("duplicate accept should be a no-op, got %v", err)
	}

	rides, _ := rig.store.FindByParticipant(context.Background(), "p1")
	if len(rides) != 1 {
		t.Fatalf("duplicate acceptance created a second ride: %d", len(rides))
	}
	if rides[0].ID != first.ID {
		t.Fatal("existing ride replaced")
	}
	if rig.passenger.count(models.EventRideCreated) != 2 {
		t.Fatal("duplicate acceptance should re-send ride_created")
	}
}

func TestAcceptAbsentDriver(t *testing.T) {
	rig := newTestRig(t)
	err := rig.engine.PassengerAcceptDriver(context.Background(), models.PassengerAccept{
		PassengerID: "p1", DriverID: "ghost",
		StartLocation: pickup, DestinationLocation: dropoff,
	})
	if !errors.Is(err, ErrPartyAbsent) {
		t.Fatalf("expected ErrPartyAbsent, got %v", err)
	}
}

func TestLocationUpdateLifecycle(t *testing.T) {
	rig := newTestRig(t)
	ride := rig.accept(t)
	ctx := context.Background()
	base := time.Now().Add(time.Second)

	// Driver en route, not yet at pickup: stays picking_up, passenger
	// gets the relay.
	err := rig.engine.UpdateLocation(ctx, models.LocationUpdate{
		UserID: "d1", Role: models.RoleDriver,
		Location:  models.Coord{Lat: 37.7780, Lon: -122.4150},
		Timestamp: base,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	payload, ok := rig.passenger.last(models.EventLocationUpdate)
	if !ok {
		t.Fatal("passenger did not receive location_update")
	}
	if b := payload.(models.LocationBroadcast); b.Status != models.StatusPickingUp || b.Role != models.RoleDriver {
		t.Fatalf("unexpected broadcast %+v", b)
	}
	if rig.driver.count(models.EventLocationUpdate) != 0 {
		t.Fatal("sender must not receive its own location back")
	}

	// Driver arrives at the pickup point: auto-transition to in_progress.
	err = rig.engine.UpdateLocation(ctx, models.LocationUpdate{
		UserID: "d1", Role: models.RoleDriver,
		Location:  models.Coord{Lat: pickup.Lat, Lon: pickup.Lon},
		Timestamp: base.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := rig.store.Get(ctx, ride.ID)
	if got.Status != models.StatusInProgress {
		t.Fatalf("driver at pickup should start the trip, got %s", got.Status)
	}

	// Driver reaches the destination first: ride keeps running until the
	// passenger is there too.
	err = rig.engine.UpdateLocation(ctx, models.LocationUpdate{
		UserID: "d1", Role: models.RoleDriver,
		Location:  models.Coord{Lat: dropoff.Lat, Lon: dropoff.Lon},
		Timestamp: base.Add(2 * time.Second),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = rig.store.Get(ctx, ride.ID)
	if got.Status != models.StatusInProgress {
		t.Fatalf("one party at destination must not complete the ride, got %s", got.Status)
	}

	// Passenger's update completes the proximity condition.
	err = rig.engine.UpdateLocation(ctx, models.LocationUpdate{
		UserID: "p1", Role: models.RolePassenger,
		Location:  models.Coord{Lat: dropoff.Lat, Lon: dropoff.Lon},
		Timestamp: base.Add(3 * time.Second),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = rig.store.Get(ctx, ride.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	for name, conn := range map[string]*fakeConn{"driver": rig.driver, "passenger": rig.passenger} {
		payload, ok := conn.last(models.EventRideCompleted)
		if !ok {
			t.Fatalf("%s did not receive ride_completed", name)
		}
		done := payload.(models.RideCompleted)
		if done.Fare != ride.Fare {
			t.Fatalf("completion must carry the fare fixed at creation: got %f want %f", done.Fare, ride.Fare)
		}
	}

	entry, _ := rig.registry.Lookup("d1", models.RoleDriver)
	if entry.Status != presence.StatusAvailable || entry.CurrentRideID != "" {
		t.Fatalf("driver should be freed after completion, got %+v", entry)
	}
	pEntry, _ := rig.registry.Lookup("p1", models.RolePassenger)
	if pEntry.CurrentRideID != "" {
		t.Fatal("passenger active-ride reference should be cleared")
	}

	// Late-arriving packet for the finished ride: silent drop.
	before := rig.passenger.count(models.EventLocationUpdate)
	err = rig.engine.UpdateLocation(ctx, models.LocationUpdate{
		UserID: "d1", Role: models.RoleDriver,
		Location:  models.Coord{Lat: 1, Lon: 1},
		Timestamp: base.Add(4 * time.Second),
	})
	if err != nil {
		t.Fatalf("late update should not error: %v", err)
	}
	if rig.passenger.count(models.EventLocationUpdate) != before {
		t.Fatal("late update must not be broadcast")
	}
}

func TestStaleLocationRejected(t *testing.T) {
	rig := newTestRig(t)
	ride := rig.accept(t)
	ctx := context.Background()
	base := time.Now().Add(time.Second)

	_ = rig.engine.UpdateLocation(ctx, models.LocationUpdate{
		UserID: "d1", Role: models.RoleDriver,
		Location:  models.Coord{Lat: 10, Lon: 10},
		Timestamp: base,
	})
	broadcasts := rig.passenger.count(models.EventLocationUpdate)

	// Out-of-order delivery: an older packet arrives after a newer one.
	err := rig.engine.UpdateLocation(ctx, models.LocationUpdate{
		UserID: "d1", Role: models.RoleDriver,
		Location:  models.Coord{Lat: 99, Lon: 99},
		Timestamp: base.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("stale update should not error: %v", err)
	}
	got, _ := rig.store.Get(ctx, ride.ID)
	if got.CurrentLocations.Driver.Lat != 10 {
		t.Fatalf("stale packet regressed the position: %+v", got.CurrentLocations.Driver)
	}
	if rig.passenger.count(models.EventLocationUpdate) != broadcasts {
		t.Fatal("stale packet must not be broadcast")
	}
}

func TestLocationUpdateWithoutActiveRide(t *testing.T) {
	rig := newTestRig(t)
	err := rig.engine.UpdateLocation(context.Background(), models.LocationUpdate{
		UserID: "d1", Role: models.RoleDriver,
		Location: models.Coord{Lat: 1, Lon: 1},
	})
	if err != nil {
		t.Fatalf("no active ride should be a silent no-op, got %v", err)
	}
}

func TestRideDetailsAuthorization(t *testing.T) {
	rig := newTestRig(t)
	ride := rig.accept(t)
	ctx := context.Background()

	if _, err := rig.engine.RideDetails(ctx, models.RideDetailsQuery{RideID: ride.ID, UserID: "stranger"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	asDriver, err := rig.engine.RideDetails(ctx, models.RideDetailsQuery{RideID: ride.ID, UserID: "d1"})
	if err != nil {
		t.Fatalf("driver query: %v", err)
	}
	if asDriver.PassengerDetails == nil || asDriver.DriverDetails != nil {
		t.Fatalf("driver should see passenger details only: %+v", asDriver)
	}

	asPassenger, err := rig.engine.RideDetails(ctx, models.RideDetailsQuery{RideID: ride.ID, UserID: "p1"})
	if err != nil {
		t.Fatalf("passenger query: %v", err)
	}
	if asPassenger.DriverDetails == nil || asPassenger.PassengerDetails != nil {
		t.Fatalf("passenger should see driver details only: %+v", asPassenger)
	}

	if _, err := rig.engine.RideDetails(ctx, models.RideDetailsQuery{RideID: "missing", UserID: "d1"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelRideFreesDriver(t *testing.T) {
	rig := newTestRig(t)
	ride := rig.accept(t)
	ctx := context.Background()

	if err := rig.engine.CancelRide(ctx, ride.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := rig.store.Get(ctx, ride.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	entry, _ := rig.registry.Lookup("d1", models.RoleDriver)
	if entry.Status != presence.StatusAvailable {
		t.Fatal("driver not freed after cancellation")
	}
	if rig.driver.count(models.EventRideCancelled) != 1 || rig.passenger.count(models.EventRideCancelled) != 1 {
		t.Fatal("both parties should learn about the cancellation")
	}

	// Cancelling twice is a no-op.
	if err := rig.engine.CancelRide(ctx, ride.ID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestDisconnectLeavesRideUntouched(t *testing.T) {
	rig := newTestRig(t)
	ride := rig.accept(t)

	rig.engine.Disconnect(rig.driver)
	if _, ok := rig.registry.Lookup("d1", models.RoleDriver); ok {
		t.Fatal("driver presence should be gone after disconnect")
	}
	got, _ := rig.store.Get(context.Background(), ride.ID)
	if got.Status != models.StatusPickingUp {
		t.Fatalf("disconnect must not cancel the ride, got %s", got.Status)
	}
}
