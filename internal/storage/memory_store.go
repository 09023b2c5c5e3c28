package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// MemoryStore is the default RideStore when no PG_DSN is configured.
// All methods satisfy the same atomicity contract as the Postgres store:
// a single mutex makes every read-modify-write one critical section.
type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride), now: time.Now}
}

func (m *MemoryStore) Create(ctx context.Context, draft models.Ride) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rides {
		if r.Status.Terminal() {
			continue
		}
		if r.PassengerID == draft.PassengerID || r.DriverID == draft.DriverID {
			return nil, ErrActiveRide
		}
	}
	draft.ID = newID()
	draft.CreatedAt = m.now()
	draft.UpdatedAt = draft.CreatedAt
	r := draft
	m.rides[r.ID] = &r
	out := r
	return &out, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

func (m *MemoryStore) UpdateLocation(ctx context.Context, id string, role models.Role, loc models.TrackedLocation, cond *StatusChange) (*models.Ride, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if r.Status.Terminal() {
		out := *r
		return &out, false, nil
	}
	stored := r.LocationFor(role)
	if !loc.LastUpdated.After(stored.LastUpdated) {
		out := *r
		return &out, false, nil
	}
	if role == models.RoleDriver {
		r.CurrentLocations.Driver = loc
	} else {
		r.CurrentLocations.Passenger = loc
	}
	if cond != nil && r.Status == cond.From {
		r.Status = cond.To
	}
	r.UpdatedAt = m.now()
	out := *r
	return &out, true, nil
}

func (m *MemoryStore) CompareAndSetStatus(ctx context.Context, id string, from, to models.RideStatus) (*models.Ride, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if r.Status != from {
		out := *r
		return &out, false, nil
	}
	r.Status = to
	r.UpdatedAt = m.now()
	out := *r
	return &out, true, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, status models.RideStatus) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = m.now()
	out := *r
	return &out, nil
}

func (m *MemoryStore) FindByParticipant(ctx context.Context, userID string) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, 0, 4)
	for _, r := range m.rides {
		if r.Participant(userID) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
