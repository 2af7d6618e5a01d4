// Package drone defines the uniform contract over hardware-specific device
// links. One implementation exists per hardware family; the dispatch
// coordinator never sees which family it is talking to.
package drone

import (
	"context"
	"time"

	"github.com/reliefops/aidchain/core/model"
)

// Command is a single instruction sent to a device.
type Command struct {
	ID     string         `json:"command_id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Procedure is an emergency response executed through the device link.
type Procedure string

const (
	ProcedureEmergencyLand Procedure = "emergency_land"
	ProcedureReturnHome    Procedure = "return_home"
	ProcedureShutdown      Procedure = "shutdown"
)

// KnownProcedure reports whether p is a supported emergency procedure.
func KnownProcedure(p Procedure) bool {
	switch p {
	case ProcedureEmergencyLand, ProcedureReturnHome, ProcedureShutdown:
		return true
	}
	return false
}

// Emergency is an out-of-band distress notification from a device. It is
// independent of the telemetry feed.
type Emergency struct {
	DeviceID  string    `json:"device_id"`
	Code      int       `json:"code"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MissionHandle identifies a mission uploaded to a device.
type MissionHandle string

// Link establishes sessions with devices of one hardware family.
type Link interface {
	// Family names the hardware family this link speaks to.
	Family() string

	// Connect opens a session with the device. Timeout and handshake
	// rejection surface as a ConnectionError.
	Connect(ctx context.Context, deviceID string) (Session, error)
}

// Session is a live connection to one device. Telemetry and emergency
// channels are push driven by the link and close when the session does.
type Session interface {
	DeviceID() string
	SendCommand(ctx context.Context, cmd Command) error
	Telemetry() <-chan model.Telemetry
	Emergencies() <-chan Emergency
	UploadMission(ctx context.Context, wps []model.Waypoint) (MissionHandle, error)
	StartMission(ctx context.Context, h MissionHandle) error
	Close() error
}
