package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

func draftRide(passengerID, driverID string) models.Ride {
	return models.Ride{
		PassengerID:         passengerID,
		DriverID:            driverID,
		StartLocation:       models.Location{Lat: 37.7749, Lon: -122.4194},
		DestinationLocation: models.Location{Lat: 37.7858, Lon: -122.4064},
		Status:              models.StatusPickingUp,
		DistanceKm:          1.47,
		Fare:                7.94,
	}
}

func TestCreateAssignsIdentity(t *testing.T) {
	s := NewMemoryStore()
	r, err := s.Create(context.Background(), draftRide("p1", "d1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.ID == "" || r.CreatedAt.IsZero() {
		t.Fatalf("id/createdAt not assigned: %+v", r)
	}
	got, err := s.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Fare != 7.94 {
		t.Fatalf("fare not persisted, got %f", got.Fare)
	}
}

func TestCreateRejectsSecondActiveRide(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Create(ctx, draftRide("p1", "d1")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	// Same passenger, different driver.
	if _, err := s.Create(ctx, draftRide("p1", "d2")); !errors.Is(err, ErrActiveRide) {
		t.Fatalf("expected ErrActiveRide for passenger, got %v", err)
	}
	// Same driver, different passenger.
	if _, err := s.Create(ctx, draftRide("p2", "d1")); !errors.Is(err, ErrActiveRide) {
		t.Fatalf("expected ErrActiveRide for driver, got %v", err)
	}
}

func TestCreateAllowsNewRideAfterTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r, _ := s.Create(ctx, draftRide("p1", "d1"))
	if _, err := s.SetStatus(ctx, r.ID, models.StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, err := s.Create(ctx, draftRide("p1", "d1")); err != nil {
		t.Fatalf("completed ride should not block a new one: %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateLocationRejectsStale(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r, _ := s.Create(ctx, draftRide("p1", "d1"))

	t1 := time.Now()
	fresh := models.TrackedLocation{Lat: 1, Lon: 1, LastUpdated: t1}
	if _, applied, err := s.UpdateLocation(ctx, r.ID, models.RoleDriver, fresh, nil); err != nil || !applied {
		t.Fatalf("fresh update should apply: applied=%v err=%v", applied, err)
	}

	stale := models.TrackedLocation{Lat: 9, Lon: 9, LastUpdated: t1.Add(-time.Second)}
	got, applied, err := s.UpdateLocation(ctx, r.ID, models.RoleDriver, stale, nil)
	if err != nil {
		t.Fatalf("stale update err: %v", err)
	}
	if applied {
		t.Fatal("stale update must not apply")
	}
	if got.CurrentLocations.Driver.Lat != 1 {
		t.Fatalf("stale update overwrote location: %+v", got.CurrentLocations.Driver)
	}
}

func TestUpdateLocationConditionalTransition(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r, _ := s.Create(ctx, draftRide("p1", "d1"))

	loc := models.TrackedLocation{Lat: 37.7749, Lon: -122.4194, LastUpdated: time.Now()}
	cond := &StatusChange{From: models.StatusPickingUp, To: models.StatusInProgress}
	got, applied, err := s.UpdateLocation(ctx, r.ID, models.RoleDriver, loc, cond)
	if err != nil || !applied {
		t.Fatalf("update: applied=%v err=%v", applied, err)
	}
	if got.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}

	// Same condition again: status no longer matches, location still moves.
	loc2 := models.TrackedLocation{Lat: 37.78, Lon: -122.41, LastUpdated: time.Now().Add(time.Second)}
	got, applied, err = s.UpdateLocation(ctx, r.ID, models.RoleDriver, loc2, cond)
	if err != nil || !applied {
		t.Fatalf("second update: applied=%v err=%v", applied, err)
	}
	if got.Status != models.StatusInProgress {
		t.Fatalf("condition must not re-fire, got %s", got.Status)
	}
}

func TestUpdateLocationIgnoresTerminalRide(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r, _ := s.Create(ctx, draftRide("p1", "d1"))
	_, _ = s.SetStatus(ctx, r.ID, models.StatusCompleted)

	loc := models.TrackedLocation{Lat: 5, Lon: 5, LastUpdated: time.Now()}
	got, applied, err := s.UpdateLocation(ctx, r.ID, models.RoleDriver, loc, nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if applied {
		t.Fatal("terminal ride must not accept location writes")
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status changed on terminal ride: %s", got.Status)
	}
}

func TestCompareAndSetStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r, _ := s.Create(ctx, draftRide("p1", "d1"))

	got, swapped, err := s.CompareAndSetStatus(ctx, r.ID, models.StatusPickingUp, models.StatusInProgress)
	if err != nil || !swapped {
		t.Fatalf("cas: swapped=%v err=%v", swapped, err)
	}
	if got.Status != models.StatusInProgress {
		t.Fatalf("got %s", got.Status)
	}

	// Losing a race: from no longer matches.
	got, swapped, err = s.CompareAndSetStatus(ctx, r.ID, models.StatusPickingUp, models.StatusCompleted)
	if err != nil {
		t.Fatalf("cas err: %v", err)
	}
	if swapped {
		t.Fatal("cas with stale from must not swap")
	}
	if got.Status != models.StatusInProgress {
		t.Fatalf("status moved unexpectedly: %s", got.Status)
	}
}

func TestFindByParticipantMostRecentFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, _ := s.Create(ctx, draftRide("p1", "d1"))
	_, _ = s.SetStatus(ctx, first.ID, models.StatusCompleted)
	// Force distinct timestamps.
	s.now = func() time.Time { return first.CreatedAt.Add(time.Minute) }
	second, _ := s.Create(ctx, draftRide("p1", "d2"))

	rides, err := s.FindByParticipant(ctx, "p1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rides) != 2 {
		t.Fatalf("expected 2 rides, got %d", len(rides))
	}
	if rides[0].ID != second.ID {
		t.Fatal("expected most recent ride first")
	}
	if got, _ := s.FindByParticipant(ctx, "d2"); len(got) != 1 {
		t.Fatalf("driver lookup expected 1 ride, got %d", len(got))
	}
}
