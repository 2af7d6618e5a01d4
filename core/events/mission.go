package events

import "github.com/reliefops/aidchain/core/model"

// MissionEvent is published when a mission changes lifecycle state.
type MissionEvent struct {
	MissionID string
	DeviceID  string
	Status    model.MissionStatus
}
