package models

import "time"

// Coord is a WGS84 coordinate pair. JSON keys follow the client protocol,
// which spells latitude/longitude out.
type Coord struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Location is a coordinate with an optional human-readable label
// (pickup/dropoff addresses picked in the client).
type Location struct {
	Lat     float64 `json:"latitude"`
	Lon     float64 `json:"longitude"`
	Address string  `json:"address,omitempty"`
}

func (l Location) Coord() Coord { return Coord{Lat: l.Lat, Lon: l.Lon} }

// TrackedLocation is the latest known position of one ride party.
// LastUpdated orders writes: an update older than the stored value for the
// same role must never overwrite it.
type TrackedLocation struct {
	Lat         float64   `json:"latitude"`
	Lon         float64   `json:"longitude"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func (t TrackedLocation) Coord() Coord { return Coord{Lat: t.Lat, Lon: t.Lon} }

// Role identifies which side of a ride a user is on.
type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

func (r Role) Valid() bool { return r == RoleDriver || r == RolePassenger }

// Other returns the counterpart role.
func (r Role) Other() Role {
	if r == RoleDriver {
		return RolePassenger
	}
	return RoleDriver
}

// RideStatus is the lifecycle state of a ride. searching and driver_found
// are request-level states held before a ride record exists; persisted
// rides are born picking_up.
type RideStatus string

const (
	StatusSearching   RideStatus = "searching"
	StatusDriverFound RideStatus = "driver_found"
	StatusPickingUp   RideStatus = "picking_up"
	StatusInProgress  RideStatus = "in_progress"
	StatusCompleted   RideStatus = "completed"
	StatusCancelled   RideStatus = "cancelled"
)

func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// allowedTransitions encodes the forward-only status flow. cancelled is
// reachable from every non-terminal state.
var allowedTransitions = map[RideStatus][]RideStatus{
	StatusSearching:   {StatusDriverFound, StatusPickingUp, StatusCancelled},
	StatusDriverFound: {StatusPickingUp, StatusCancelled},
	StatusPickingUp:   {StatusInProgress, StatusCancelled},
	StatusInProgress:  {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to RideStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PartyDetails is the identity snapshot denormalized into a ride at
// creation so history queries never re-join the identity store.
type PartyDetails struct {
	Name   string  `json:"name"`
	Rating float64 `json:"rating"`
}

// RideLocations holds the live positions of both parties.
type RideLocations struct {
	Driver    TrackedLocation `json:"driver"`
	Passenger TrackedLocation `json:"passenger"`
}

// Ride is the central persisted entity. Parties, geometry, distance, fare
// and snapshots are immutable after creation; only CurrentLocations and
// Status mutate, and Status only moves forward.
type Ride struct {
	ID                  string        `json:"rideId"`
	PassengerID         string        `json:"passengerId"`
	DriverID            string        `json:"driverId"`
	StartLocation       Location      `json:"startLocation"`
	DestinationLocation Location      `json:"destinationLocation"`
	CurrentLocations    RideLocations `json:"currentLocations"`
	Status              RideStatus    `json:"status"`
	DistanceKm          float64       `json:"distance"`
	Fare                float64       `json:"fare"`
	DriverDetails       PartyDetails  `json:"driverDetails"`
	PassengerDetails    PartyDetails  `json:"passengerDetails"`
	Polyline            string        `json:"polyline,omitempty"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// LocationFor returns the tracked location slot for the given role.
func (r *Ride) LocationFor(role Role) TrackedLocation {
	if role == RoleDriver {
		return r.CurrentLocations.Driver
	}
	return r.CurrentLocations.Passenger
}

// Participant reports whether userID is a party to the ride.
func (r *Ride) Participant(userID string) bool {
	return userID == r.DriverID || userID == r.PassengerID
}
