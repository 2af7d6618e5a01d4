package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/reliefops/aidchain/core/metrics"
	"github.com/reliefops/aidchain/core/model"
	"github.com/reliefops/aidchain/infra/logger"
)

// InfluxSink writes allocation and telemetry records to an InfluxDB instance
// using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordAllocation writes the allocation outcome as a point.
func (s *InfluxSink) RecordAllocation(rec coremetrics.AllocationRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("allocation_event").
		AddTag("disaster_id", rec.DisasterID).
		AddTag("resource_type", string(rec.ResourceType)).
		AddTag("outcome", rec.Outcome).
		AddTag("component", "allocation_coordinator").
		AddField("quantity", rec.Quantity).
		AddField("tx_hash", rec.TxHash).
		AddField("latency_ms", round3(rec.Latency.Seconds()*1000)).
		SetTime(rec.Time)
	if rec.ResourceID != "" {
		p = p.AddTag("resource_id", rec.ResourceID)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordMission persists a mission lifecycle event.
func (s *InfluxSink) RecordMission(rec coremetrics.MissionRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("mission_event").
		AddTag("mission_id", rec.MissionID).
		AddTag("device_id", rec.DeviceID).
		AddTag("status", string(rec.Status)).
		AddTag("component", "dispatch_coordinator").
		AddField("path_km", round3(rec.PathKm)).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTelemetry writes a telemetry sample for a drone.
func (s *InfluxSink) RecordTelemetry(t model.Telemetry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("drone_telemetry").
		AddTag("device_id", t.DeviceID).
		AddTag("component", "fleet").
		AddField("lat", t.Position.Lat).
		AddField("lon", t.Position.Lon).
		AddField("altitude_m", round3(t.Altitude)).
		AddField("speed_ms", round3(t.Speed)).
		AddField("battery_pct", round3(t.Battery)).
		AddField("armed", t.Armed).
		SetTime(t.Timestamp)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordEmergency persists the outcome of an emergency procedure.
func (s *InfluxSink) RecordEmergency(deviceID, procedure, outcome string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("emergency_event").
		AddTag("device_id", deviceID).
		AddTag("procedure", procedure).
		AddTag("component", "failover").
		AddField("outcome", outcome).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client resources.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
