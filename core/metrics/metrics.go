// Package metrics defines the sink interfaces the coordinators record
// observability data through. Concrete sinks live in infra/metrics.
package metrics

import (
	"time"

	"github.com/reliefops/aidchain/core/model"
)

// AllocationRecord captures the outcome of one allocation attempt.
type AllocationRecord struct {
	DisasterID   string
	ResourceID   string
	ResourceType model.ResourceType
	Quantity     int
	TxHash       string
	Outcome      string
	Latency      time.Duration
	Time         time.Time
}

// MissionRecord captures a mission lifecycle event.
type MissionRecord struct {
	MissionID string
	DeviceID  string
	Status    model.MissionStatus
	PathKm    float64
	Time      time.Time
}

// Sink records allocation outcomes. All other recorders are optional
// capabilities detected with type assertions.
type Sink interface {
	RecordAllocation(AllocationRecord) error
}

// MissionRecorder records mission lifecycle events.
type MissionRecorder interface {
	RecordMission(MissionRecord) error
}

// TelemetryRecorder records device telemetry samples.
type TelemetryRecorder interface {
	RecordTelemetry(model.Telemetry) error
}

// FleetSizeRecorder records the number of connected devices.
type FleetSizeRecorder interface {
	RecordFleetSize(size int) error
}

// EmergencyRecorder records emergency failover outcomes.
type EmergencyRecorder interface {
	RecordEmergency(deviceID, procedure, outcome string) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordAllocation(AllocationRecord) error      { return nil }
func (NopSink) RecordMission(MissionRecord) error            { return nil }
func (NopSink) RecordTelemetry(model.Telemetry) error        { return nil }
func (NopSink) RecordFleetSize(int) error                    { return nil }
func (NopSink) RecordEmergency(string, string, string) error { return nil }
