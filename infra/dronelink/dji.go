package dronelink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/reliefops/aidchain/core/drone"
	"github.com/reliefops/aidchain/core/model"
)

// djiCodec speaks the JSON format of the onboard SDK bridge: plain floating
// point units and millisecond timestamps.
type djiCodec struct{}

func (djiCodec) family() string { return "dji" }

type djiCommand struct {
	CommandID string         `json:"command_id"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	TsMS      int64          `json:"ts"`
}

func (djiCodec) encodeCommand(cmd drone.Command) ([]byte, error) {
	return json.Marshal(djiCommand{
		CommandID: cmd.ID,
		Action:    cmd.Name,
		Params:    cmd.Params,
		TsMS:      time.Now().UnixMilli(),
	})
}

type djiWaypoint struct {
	Lat   float64 `json:"latitude"`
	Lon   float64 `json:"longitude"`
	Alt   float64 `json:"altitude"`
	Speed float64 `json:"speed"`
}

type djiMission struct {
	MissionID string        `json:"mission_id"`
	Waypoints []djiWaypoint `json:"waypoints"`
}

func (djiCodec) encodeMission(missionID string, wps []model.Waypoint) ([]byte, error) {
	out := make([]djiWaypoint, len(wps))
	for i, wp := range wps {
		speed := wp.Speed
		if speed <= 0 {
			speed = model.DefaultWaypointSpeed
		}
		out[i] = djiWaypoint{Lat: wp.Lat, Lon: wp.Lon, Alt: wp.Alt, Speed: speed}
	}
	return json.Marshal(djiMission{MissionID: missionID, Waypoints: out})
}

type djiTelemetry struct {
	Lat     float64 `json:"latitude"`
	Lon     float64 `json:"longitude"`
	Alt     float64 `json:"altitude"`
	Speed   float64 `json:"speed"`
	Battery float64 `json:"battery"`
	Armed   bool    `json:"motors_on"`
	TsMS    int64   `json:"ts"`
}

func (djiCodec) decodeTelemetry(deviceID string, payload []byte) (model.Telemetry, error) {
	var m djiTelemetry
	if err := json.Unmarshal(payload, &m); err != nil {
		return model.Telemetry{}, fmt.Errorf("decode dji telemetry: %w", err)
	}
	return model.Telemetry{
		DeviceID:  deviceID,
		Position:  model.GeoPoint{Lat: m.Lat, Lon: m.Lon},
		Altitude:  m.Alt,
		Speed:     m.Speed,
		Battery:   m.Battery,
		Armed:     m.Armed,
		Timestamp: time.UnixMilli(m.TsMS),
	}, nil
}

type djiEmergency struct {
	Code   int    `json:"code"`
	Detail string `json:"detail,omitempty"`
	TsMS   int64  `json:"ts"`
}

func (djiCodec) decodeEmergency(deviceID string, payload []byte) (drone.Emergency, error) {
	var m djiEmergency
	if err := json.Unmarshal(payload, &m); err != nil {
		return drone.Emergency{}, fmt.Errorf("decode dji emergency: %w", err)
	}
	return drone.Emergency{
		DeviceID:  deviceID,
		Code:      m.Code,
		Detail:    m.Detail,
		Timestamp: time.UnixMilli(m.TsMS),
	}, nil
}
