package presence

import (
	"sync"

	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/models"
)

// DriverStatus is the availability of a connected driver.
type DriverStatus string

const (
	StatusAvailable DriverStatus = "available"
	StatusOccupied  DriverStatus = "occupied"
)

// Entry records one connected user. For drivers, Status is meaningful and
// StatusOccupied always comes with a non-empty CurrentRideID. Passengers
// use CurrentRideID as their active-ride reference.
type Entry struct {
	UserID        string
	Kind          models.Role
	Conn          dispatch.Sender
	Status        DriverStatus
	CurrentRideID string
}

// Registry tracks which users are currently reachable and over which
// connection. Presence is ephemeral: it starts empty and every operation
// is an in-memory map access, never I/O.
type Registry struct {
	mu         sync.RWMutex
	drivers    map[string]*Entry
	passengers map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{
		drivers:    make(map[string]*Entry),
		passengers: make(map[string]*Entry),
	}
}

// Register inserts or overwrites the entry for userID. Reconnecting
// overwrites the previous entry: last register wins. Drivers come up
// available.
func (r *Registry) Register(userID string, kind models.Role, conn dispatch.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &Entry{UserID: userID, Kind: kind, Conn: conn}
	if kind == models.RoleDriver {
		e.Status = StatusAvailable
		r.drivers[userID] = e
		return
	}
	r.passengers[userID] = e
}

// Lookup returns a copy of the entry for userID, if connected.
func (r *Registry) Lookup(userID string, kind models.Role) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byKind(kind)[userID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// SetOccupied marks a driver busy with rideID. No-op for unknown drivers.
func (r *Registry) SetOccupied(userID, rideID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.drivers[userID]; ok {
		e.Status = StatusOccupied
		e.CurrentRideID = rideID
	}
}

// SetAvailable frees a driver and clears its active ride.
func (r *Registry) SetAvailable(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.drivers[userID]; ok {
		e.Status = StatusAvailable
		e.CurrentRideID = ""
	}
}

// SetActiveRide attaches the active-ride reference to a passenger.
func (r *Registry) SetActiveRide(userID, rideID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.passengers[userID]; ok {
		e.CurrentRideID = rideID
	}
}

// ClearActiveRide drops a passenger's active-ride reference.
func (r *Registry) ClearActiveRide(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.passengers[userID]; ok {
		e.CurrentRideID = ""
	}
}

// Unregister removes any entry owned by conn from both registries.
// It compares connection handles, not user ids: a belated disconnect from
// a stale connection must not evict a freshly reconnected user.
func (r *Registry) Unregister(conn dispatch.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.drivers {
		if e.Conn == conn {
			delete(r.drivers, id)
			break
		}
	}
	for id, e := range r.passengers {
		if e.Conn == conn {
			delete(r.passengers, id)
			break
		}
	}
}

// AvailableDrivers returns copies of all driver entries with status
// available, for ride-request fan-out.
func (r *Registry) AvailableDrivers() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.drivers))
	for _, e := range r.drivers {
		if e.Status == StatusAvailable {
			out = append(out, *e)
		}
	}
	return out
}

func (r *Registry) byKind(kind models.Role) map[string]*Entry {
	if kind == models.RoleDriver {
		return r.drivers
	}
	return r.passengers
}
