// Package dronelink connects the dispatch coordinator to drone hardware over
// MQTT. Each supported hardware family has its own wire codec; the broker
// topics and session handling are shared.
package dronelink

import (
	"github.com/reliefops/aidchain/core/drone"
	"github.com/reliefops/aidchain/core/model"
)

// codec translates between the uniform link types and one hardware family's
// wire format.
type codec interface {
	family() string
	encodeCommand(cmd drone.Command) ([]byte, error)
	encodeMission(missionID string, wps []model.Waypoint) ([]byte, error)
	decodeTelemetry(deviceID string, payload []byte) (model.Telemetry, error)
	decodeEmergency(deviceID string, payload []byte) (drone.Emergency, error)
}

type ackMessage struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

const (
	ackStatusOK       = "ok"
	ackStatusRejected = "rejected"
)
