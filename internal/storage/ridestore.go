package storage

import (
	"context"
	"errors"

	"github.com/example/ride-hailing/internal/models"
)

var (
	// ErrNotFound means the ride does not exist. Callers treat it as a
	// terminal no-op, unlike transient storage failures which are surfaced.
	ErrNotFound = errors.New("ride not found")

	// ErrActiveRide means a party already has a ride in a non-terminal
	// state; Create refuses to make a second one.
	ErrActiveRide = errors.New("party already has an active ride")
)

// StatusChange is an optional compare-and-set applied atomically inside a
// location update: the status moves From -> To only if it still equals From.
type StatusChange struct {
	From models.RideStatus
	To   models.RideStatus
}

// RideStore owns persisted ride records. Every mutation goes through it;
// nothing else keeps a mutable copy of ride state.
type RideStore interface {
	// Create assigns id and createdAt, persists the draft and returns the
	// full record. Returns ErrActiveRide if the passenger or the driver
	// already has a non-terminal ride.
	Create(ctx context.Context, draft models.Ride) (*models.Ride, error)

	// Get returns the ride or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Ride, error)

	// UpdateLocation atomically sets currentLocations[role] and, when cond
	// is non-nil, applies the conditional status transition in the same
	// update. Writes carrying a LastUpdated older than the stored value for
	// that role are rejected; terminal rides are never touched. The second
	// return reports whether the location write was applied.
	UpdateLocation(ctx context.Context, id string, role models.Role, loc models.TrackedLocation, cond *StatusChange) (*models.Ride, bool, error)

	// CompareAndSetStatus transitions from -> to only if the status still
	// equals from. The second return reports whether the swap happened.
	CompareAndSetStatus(ctx context.Context, id string, from, to models.RideStatus) (*models.Ride, bool, error)

	// SetStatus forces the status unconditionally (admin/reconciliation).
	SetStatus(ctx context.Context, id string, status models.RideStatus) (*models.Ride, error)

	// FindByParticipant returns every ride the user took part in, most
	// recent first. Consumed by history/stats, not the lifecycle engine.
	FindByParticipant(ctx context.Context, userID string) ([]models.Ride, error)
}
