// Package geo provides the pure geospatial functions used for matching
// resources to disasters and planning mission paths. It performs no I/O.
package geo

import (
	"math"
	"time"

	"github.com/reliefops/aidchain/core/model"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between a and b.
func HaversineKm(a, b model.GeoPoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180.0
	dLon := (b.Lon - a.Lon) * math.Pi / 180.0
	latA := a.Lat * math.Pi / 180.0
	latB := b.Lat * math.Pi / 180.0

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// IsWithinRadius reports whether p lies within radiusM meters of center.
func IsWithinRadius(p, center model.GeoPoint, radiusM float64) bool {
	return HaversineKm(p, center)*1000 <= radiusM
}

// PathKm returns the cumulative ground distance of the waypoint path.
func PathKm(wps []model.Waypoint) float64 {
	var total float64
	for i := 1; i < len(wps); i++ {
		total += HaversineKm(wps[i-1].Point(), wps[i].Point())
	}
	return total
}

// FlightDuration estimates how long the path takes at each leg's speed.
// Waypoints without a speed use the default.
func FlightDuration(wps []model.Waypoint) time.Duration {
	var seconds float64
	for i := 1; i < len(wps); i++ {
		speed := wps[i].Speed
		if speed <= 0 {
			speed = model.DefaultWaypointSpeed
		}
		legM := HaversineKm(wps[i-1].Point(), wps[i].Point()) * 1000
		seconds += legM / speed
	}
	return time.Duration(seconds * float64(time.Second))
}
