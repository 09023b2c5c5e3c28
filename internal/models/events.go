package models

import (
	"encoding/json"
	"time"
)

// Inbound event names (client -> server).
const (
	EventRegisterUser          = "register_user"
	EventPassengerRideRequest  = "passenger_ride_request"
	EventDriverAcceptRide      = "driver_accept_ride"
	EventPassengerAcceptDriver = "passenger_accept_driver"
	EventUpdateLocation        = "update_location"
	EventGetRideDetails        = "get_ride_details"
)

// Outbound event names (server -> client).
const (
	EventDriverRequest      = "driver_request"
	EventRideCreated        = "ride_created"
	EventLocationUpdate     = "location_update"
	EventRideCompleted      = "ride_completed"
	EventRideDetails        = "ride_details"
	EventRideDetailsError   = "ride_details_error"
	EventRideRequestTimeout = "ride_request_timeout"
	EventRideCreateError    = "ride_create_error"
	EventRideCancelled      = "ride_cancelled"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RegisterUser announces a freshly connected client.
type RegisterUser struct {
	UserID string `json:"userId"`
	Type   string `json:"type"` // "driver" | "passenger"
}

// RideRequest is a passenger's pending trip, broadcast to available
// drivers before any ride record exists.
type RideRequest struct {
	PassengerID         string   `json:"passengerId"`
	StartLocation       Location `json:"startLocation"`
	DestinationLocation Location `json:"destinationLocation"`
}

// DriverAccept is a driver volunteering for a pending request. It carries
// no destination, so it surfaces a candidate to the passenger rather than
// creating the ride.
type DriverAccept struct {
	DriverID       string   `json:"driverId"`
	PassengerID    string   `json:"passengerId"`
	Username       string   `json:"username"`
	DriverLocation Coord    `json:"driverLocation"`
	StartLocation  Location `json:"startLocation"`
}

// PassengerAccept is the passenger confirming a candidate driver; this is
// the ride-creating transition.
type PassengerAccept struct {
	PassengerID         string   `json:"passengerId"`
	DriverID            string   `json:"driverId"`
	StartLocation       Location `json:"startLocation"`
	DestinationLocation Location `json:"destinationLocation"`
	DriverLocation      Coord    `json:"driverLocation"`
}

// LocationUpdate is a periodic position report from either party.
// Timestamp may be zero; the server stamps receipt time in that case.
type LocationUpdate struct {
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	Location  Coord     `json:"location"`
	Timestamp time.Time `json:"lastUpdated,omitempty"`
}

// RideDetailsQuery asks for the current snapshot of a ride.
type RideDetailsQuery struct {
	RideID string `json:"rideId"`
	UserID string `json:"userId"`
}

// DriverCandidate is relayed to the passenger when a driver accepts a
// pending request.
type DriverCandidate struct {
	DriverID       string  `json:"driverId"`
	Name           string  `json:"name"`
	DriverDistance float64 `json:"driverDistance"`
	DriverLocation Coord   `json:"driverLocation"`
}

// RideCreated is sent to each party on ride creation. Counterpart details
// are role-scoped: a driver sees the passenger snapshot and vice versa.
type RideCreated struct {
	RideID              string           `json:"rideId"`
	Status              RideStatus       `json:"status"`
	Fare                float64          `json:"fare"`
	StartLocation       Location         `json:"startLocation"`
	DestinationLocation Location         `json:"destinationLocation"`
	Polyline            string           `json:"polyline,omitempty"`
	DriverDetails       *PartyDetails    `json:"driverDetails,omitempty"`
	DriverLocation      *TrackedLocation `json:"driverLocation,omitempty"`
	PassengerDetails    *PartyDetails    `json:"passengerDetails,omitempty"`
	PassengerLocation   *TrackedLocation `json:"passengerLocation,omitempty"`
}

// LocationBroadcast relays one party's position to the counterpart.
type LocationBroadcast struct {
	Role     Role       `json:"role"`
	Location Coord      `json:"location"`
	RideID   string     `json:"rideId"`
	Status   RideStatus `json:"status"`
}

// RideCompleted is the terminal notification carrying the fare fixed at
// creation, never a recomputed one.
type RideCompleted struct {
	RideID        string   `json:"rideId"`
	FinalLocation Location `json:"finalLocation"`
	Fare          float64  `json:"fare"`
}

// RideDetails is the role-scoped answer to get_ride_details.
type RideDetails struct {
	RideID              string           `json:"rideId"`
	Status              RideStatus       `json:"status"`
	Fare                float64          `json:"fare"`
	StartLocation       Location         `json:"startLocation"`
	DestinationLocation Location         `json:"destinationLocation"`
	CurrentLocations    RideLocations    `json:"currentLocations"`
	DriverDetails       *PartyDetails    `json:"driverDetails,omitempty"`
	DriverLocation      *TrackedLocation `json:"driverLocation,omitempty"`
	PassengerDetails    *PartyDetails    `json:"passengerDetails,omitempty"`
	PassengerLocation   *TrackedLocation `json:"passengerLocation,omitempty"`
}

// ErrorEvent acknowledges a failed query-style request.
type ErrorEvent struct {
	Message string `json:"message"`
}

// RequestTimeout tells a passenger their search expired unmatched.
type RequestTimeout struct {
	PassengerID string `json:"passengerId"`
	Message     string `json:"message"`
}
