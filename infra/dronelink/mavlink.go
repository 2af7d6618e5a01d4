package dronelink

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/reliefops/aidchain/core/drone"
	"github.com/reliefops/aidchain/core/model"
)

// mavlinkCodec speaks the integer wire format used by MAVLink-bridged
// autopilots: coordinates scaled by 1e7, altitude in millimeters, speed in
// cm/s and battery charge in centi-percent.
type mavlinkCodec struct{}

const (
	mavCoordScale = 1e7
	// armed flag in the base_mode bitmask
	mavModeFlagArmed = 0x80
)

func (mavlinkCodec) family() string { return "mavlink" }

type mavCommand struct {
	CommandID string         `json:"command_id"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
	TimeUsec  int64          `json:"time_usec"`
}

func (mavlinkCodec) encodeCommand(cmd drone.Command) ([]byte, error) {
	return json.Marshal(mavCommand{
		CommandID: cmd.ID,
		Command:   cmd.Name,
		Params:    cmd.Params,
		TimeUsec:  time.Now().UnixMicro(),
	})
}

type mavMissionItem struct {
	Seq      int   `json:"seq"`
	LatE7    int32 `json:"lat"`
	LonE7    int32 `json:"lon"`
	AltMM    int32 `json:"alt_mm"`
	SpeedCMS int32 `json:"speed_cms"`
}

type mavMission struct {
	MissionID string           `json:"mission_id"`
	Count     int              `json:"count"`
	Items     []mavMissionItem `json:"items"`
}

func (mavlinkCodec) encodeMission(missionID string, wps []model.Waypoint) ([]byte, error) {
	items := make([]mavMissionItem, len(wps))
	for i, wp := range wps {
		speed := wp.Speed
		if speed <= 0 {
			speed = model.DefaultWaypointSpeed
		}
		items[i] = mavMissionItem{
			Seq:      i,
			LatE7:    int32(math.Round(wp.Lat * mavCoordScale)),
			LonE7:    int32(math.Round(wp.Lon * mavCoordScale)),
			AltMM:    int32(math.Round(wp.Alt * 1000)),
			SpeedCMS: int32(math.Round(speed * 100)),
		}
	}
	return json.Marshal(mavMission{MissionID: missionID, Count: len(items), Items: items})
}

type mavTelemetry struct {
	LatE7       int32 `json:"lat"`
	LonE7       int32 `json:"lon"`
	AltMM       int32 `json:"alt_mm"`
	GroundSpeed int32 `json:"groundspeed_cms"`
	BatteryCPct int32 `json:"battery_cpct"`
	BaseMode    uint8 `json:"base_mode"`
	TimeUsec    int64 `json:"time_usec"`
}

func (mavlinkCodec) decodeTelemetry(deviceID string, payload []byte) (model.Telemetry, error) {
	var m mavTelemetry
	if err := json.Unmarshal(payload, &m); err != nil {
		return model.Telemetry{}, fmt.Errorf("decode mavlink telemetry: %w", err)
	}
	return model.Telemetry{
		DeviceID: deviceID,
		Position: model.GeoPoint{
			Lat: float64(m.LatE7) / mavCoordScale,
			Lon: float64(m.LonE7) / mavCoordScale,
		},
		Altitude:  float64(m.AltMM) / 1000,
		Speed:     float64(m.GroundSpeed) / 100,
		Battery:   float64(m.BatteryCPct) / 100,
		Armed:     m.BaseMode&mavModeFlagArmed != 0,
		Timestamp: time.UnixMicro(m.TimeUsec),
	}, nil
}

type mavEmergency struct {
	Code     int    `json:"code"`
	Text     string `json:"text,omitempty"`
	TimeUsec int64  `json:"time_usec"`
}

func (mavlinkCodec) decodeEmergency(deviceID string, payload []byte) (drone.Emergency, error) {
	var m mavEmergency
	if err := json.Unmarshal(payload, &m); err != nil {
		return drone.Emergency{}, fmt.Errorf("decode mavlink emergency: %w", err)
	}
	return drone.Emergency{
		DeviceID:  deviceID,
		Code:      m.Code,
		Detail:    m.Text,
		Timestamp: time.UnixMicro(m.TimeUsec),
	}, nil
}
