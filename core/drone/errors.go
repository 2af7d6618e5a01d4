package drone

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a command is sent over a stale or
	// closed session.
	ErrNotConnected = errors.New("device not connected")

	// ErrAckTimeout is returned when a device does not acknowledge a
	// command before the deadline.
	ErrAckTimeout = errors.New("timeout waiting for device ack")
)

// ConnectionError reports a failed device handshake. Callers may retry a
// bounded number of times at their discretion.
type ConnectionError struct {
	DeviceID string
	Reason   string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %s", e.DeviceID, e.Reason)
}

// MissionRejectedError means the device refused a waypoint upload, for
// example on a geofence violation. Terminal for that mission attempt.
type MissionRejectedError struct {
	DeviceID string
	Reason   string
}

func (e *MissionRejectedError) Error() string {
	return fmt.Sprintf("mission rejected by %s: %s", e.DeviceID, e.Reason)
}
