package model

import (
	"fmt"
	"time"
)

// MaxPayloadKg is the heaviest payload a mission may carry.
const MaxPayloadKg = 5.0

// DefaultWaypointSpeed is used when a waypoint does not specify one, in m/s.
const DefaultWaypointSpeed = 5.0

// Waypoint is one leg target of a mission path.
type Waypoint struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Alt   float64 `json:"alt"`
	Speed float64 `json:"speed,omitempty"`
}

// Validate checks coordinate bounds.
func (w Waypoint) Validate() error {
	if w.Lat < -90 || w.Lat > 90 {
		return fmt.Errorf("latitude %.4f outside [-90,90]", w.Lat)
	}
	if w.Lon < -180 || w.Lon > 180 {
		return fmt.Errorf("longitude %.4f outside [-180,180]", w.Lon)
	}
	return nil
}

// Point returns the waypoint's ground coordinate.
func (w Waypoint) Point() GeoPoint { return GeoPoint{Lat: w.Lat, Lon: w.Lon} }

// Payload describes what the mission carries.
type Payload struct {
	Type     string  `json:"type"`
	WeightKg float64 `json:"weight_kg"`
}

// Safety holds the non-negotiable mission safety floor. These values are set
// by the dispatch coordinator, never by the operator.
type Safety struct {
	Geofence         bool `json:"geofence"`
	BatteryReturnPct int  `json:"battery_return_pct"`
}

// DefaultSafety returns the mandatory safety floor for every mission.
func DefaultSafety() Safety {
	return Safety{Geofence: true, BatteryReturnPct: 20}
}

// MissionStatus is the lifecycle state of a mission.
type MissionStatus string

const (
	MissionCreated    MissionStatus = "created"
	MissionInProgress MissionStatus = "in-progress"
	MissionAborted    MissionStatus = "aborted"
	MissionCompleted  MissionStatus = "completed"
)

// Terminal reports whether the mission has reached a final state.
func (s MissionStatus) Terminal() bool {
	return s == MissionAborted || s == MissionCompleted
}

// Mission is an accepted drone tasking. It lives in the dispatch
// coordinator's registry until it reaches a terminal status.
type Mission struct {
	ID        string        `json:"id"`
	DeviceID  string        `json:"device_id"`
	Waypoints []Waypoint    `json:"waypoints"`
	Payload   Payload       `json:"payload"`
	Safety    Safety        `json:"safety"`
	Status    MissionStatus `json:"status"`
	Priority  Priority      `json:"priority"`
	Operator  string        `json:"operator"`
	ETA       time.Time     `json:"eta"`
	CreatedAt time.Time     `json:"created_at"`
}
