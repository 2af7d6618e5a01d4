package metrics

import (
	coremetrics "github.com/reliefops/aidchain/core/metrics"
	"github.com/reliefops/aidchain/core/model"
)

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAllocation forwards the record to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordAllocation(rec coremetrics.AllocationRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordAllocation(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordMission forwards mission events to sinks that support them.
func (m *MultiSink) RecordMission(rec coremetrics.MissionRecord) error {
	for _, s := range m.Sinks {
		if mr, ok := s.(coremetrics.MissionRecorder); ok {
			if err := mr.RecordMission(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordTelemetry forwards telemetry samples to sinks that support them.
func (m *MultiSink) RecordTelemetry(t model.Telemetry) error {
	for _, s := range m.Sinks {
		if tr, ok := s.(coremetrics.TelemetryRecorder); ok {
			if err := tr.RecordTelemetry(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordFleetSize forwards the connected-device count to sinks that support it.
func (m *MultiSink) RecordFleetSize(size int) error {
	for _, s := range m.Sinks {
		if fr, ok := s.(coremetrics.FleetSizeRecorder); ok {
			if err := fr.RecordFleetSize(size); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordEmergency forwards emergency outcomes to sinks that support them.
func (m *MultiSink) RecordEmergency(deviceID, procedure, outcome string) error {
	for _, s := range m.Sinks {
		if er, ok := s.(coremetrics.EmergencyRecorder); ok {
			if err := er.RecordEmergency(deviceID, procedure, outcome); err != nil {
				return err
			}
		}
	}
	return nil
}
