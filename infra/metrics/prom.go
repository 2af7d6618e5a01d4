package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/reliefops/aidchain/core/metrics"
)

// PromSink records allocation and fleet activity in Prometheus metrics.
type PromSink struct {
	allocations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	missions    *prometheus.CounterVec
	emergencies *prometheus.CounterVec
	fleet       prometheus.Gauge
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The /metrics server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_attempts_total",
		Help: "Total number of resource allocation attempts",
	}, []string{"resource_type", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "allocation_latency_seconds",
		Help:    "Time between allocation request and ledger confirmation",
		Buckets: prometheus.DefBuckets,
	}, []string{"resource_type", "outcome"})
	missions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drone_mission_events_total",
		Help: "Total number of drone mission lifecycle events",
	}, []string{"status"})
	emergencies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drone_emergency_procedures_total",
		Help: "Total number of emergency procedures by outcome",
	}, []string{"procedure", "outcome"})
	fleet := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_connected_devices_total",
		Help: "Number of currently connected drones",
	})

	if err := reg.Register(allocations); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			allocations = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(missions); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			missions = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(emergencies); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			emergencies = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(fleet); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			fleet = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{
		allocations: allocations,
		latency:     latency,
		missions:    missions,
		emergencies: emergencies,
		fleet:       fleet,
	}, nil
}

// RecordAllocation increments the attempt counter and observes the latency.
func (s *PromSink) RecordAllocation(rec coremetrics.AllocationRecord) error {
	s.allocations.WithLabelValues(string(rec.ResourceType), rec.Outcome).Inc()
	s.latency.WithLabelValues(string(rec.ResourceType), rec.Outcome).Observe(rec.Latency.Seconds())
	return nil
}

// RecordMission counts mission lifecycle events by status.
func (s *PromSink) RecordMission(rec coremetrics.MissionRecord) error {
	s.missions.WithLabelValues(string(rec.Status)).Inc()
	return nil
}

// RecordEmergency counts emergency procedures by outcome.
func (s *PromSink) RecordEmergency(_, procedure, outcome string) error {
	s.emergencies.WithLabelValues(procedure, outcome).Inc()
	return nil
}

// RecordFleetSize sets the gauge to the number of connected devices.
func (s *PromSink) RecordFleetSize(size int) error {
	if s.fleet != nil {
		s.fleet.Set(float64(size))
	}
	return nil
}
