package model

import "time"

// ConnectionState is the link state of a drone as seen by the coordinator.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnected    ConnectionState = "connected"
	StateEmergency    ConnectionState = "emergency"
)

// Telemetry is one device state sample. Samples arrive in device-timestamp
// order per device; there is no cross-device ordering.
type Telemetry struct {
	DeviceID  string    `json:"device_id"`
	Position  GeoPoint  `json:"position"`
	Altitude  float64   `json:"altitude"`
	Speed     float64   `json:"speed"`
	Battery   float64   `json:"battery"`
	Armed     bool      `json:"armed"`
	Timestamp time.Time `json:"timestamp"`
}

// Landed reports whether the sample shows the device on the ground.
func (t Telemetry) Landed() bool { return !t.Armed && t.Speed == 0 }

// DroneState is the fleet snapshot of one device.
type DroneState struct {
	ID         string          `json:"id"`
	Connection ConnectionState `json:"status"`
	Battery    float64         `json:"battery"`
	Position   GeoPoint        `json:"location"`
	Payload    string          `json:"payload,omitempty"`
}
