package metrics

import (
	"testing"

	coremetrics "github.com/reliefops/aidchain/core/metrics"
	"github.com/reliefops/aidchain/core/model"
)

type recordSink struct {
	allocations int
	missions    int
}

func (r *recordSink) RecordAllocation(coremetrics.AllocationRecord) error {
	r.allocations++
	return nil
}

func (r *recordSink) RecordMission(coremetrics.MissionRecord) error {
	r.missions++
	return nil
}

// allocOnlySink does not implement the optional recorder interfaces.
type allocOnlySink struct {
	allocations int
}

func (r *allocOnlySink) RecordAllocation(coremetrics.AllocationRecord) error {
	r.allocations++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2)
	if err := m.RecordAllocation(coremetrics.AllocationRecord{}); err != nil {
		t.Fatalf("record allocation: %v", err)
	}
	if err := m.RecordMission(coremetrics.MissionRecord{}); err != nil {
		t.Fatalf("record mission: %v", err)
	}
	if s1.allocations != 1 || s2.allocations != 1 || s1.missions != 1 || s2.missions != 1 {
		t.Fatalf("records not forwarded")
	}
}

func TestMultiSinkSkipsUnsupportedRecorders(t *testing.T) {
	s := &allocOnlySink{}
	m := NewMultiSink(s)
	if err := m.RecordMission(coremetrics.MissionRecord{}); err != nil {
		t.Fatalf("record mission: %v", err)
	}
	if err := m.RecordTelemetry(model.Telemetry{}); err != nil {
		t.Fatalf("record telemetry: %v", err)
	}
	if err := m.RecordEmergency("drone-1", "emergency_land", "grounded"); err != nil {
		t.Fatalf("record emergency: %v", err)
	}
	if s.allocations != 0 {
		t.Fatalf("unexpected allocation records: %d", s.allocations)
	}
}
