package geo

import (
	"math"

	"github.com/example/ride-hailing/internal/models"
)

// Fare constants. Fare is linear in distance and fixed at ride creation;
// rounding, if any, happens only at payment-intent creation, in cents.
const (
	BaseFare  = 5.0
	PerKmRate = 2.0
)

// DefaultProximityKm is the arrival threshold: 100 meters.
const DefaultProximityKm = 0.1

const earthRadiusKm = 6371.0

// DistanceKm returns the haversine great-circle distance in kilometers.
func DistanceKm(a, b models.Coord) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// IsNear reports whether current is within thresholdKm of target.
// A zero or negative threshold falls back to DefaultProximityKm.
func IsNear(current, target models.Coord, thresholdKm float64) bool {
	if thresholdKm <= 0 {
		thresholdKm = DefaultProximityKm
	}
	return DistanceKm(current, target) <= thresholdKm
}

// Fare computes the trip fare for a distance in kilometers. Never negative.
func Fare(distanceKm float64) float64 {
	if distanceKm < 0 {
		distanceKm = 0
	}
	return BaseFare + PerKmRate*distanceKm
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
