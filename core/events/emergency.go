package events

import "github.com/reliefops/aidchain/core/drone"

// EmergencyEvent is published at each step of the emergency failover state
// machine. Outcome is set on the terminal transitions.
type EmergencyEvent struct {
	DeviceID  string
	Code      int
	Procedure drone.Procedure
	Outcome   string
	Err       error
}
