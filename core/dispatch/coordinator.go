// Package dispatch implements the dispatch coordinator: the single owner of
// the device and mission registries. It creates missions with non-negotiable
// safety constraints, exposes telemetry as shared feeds, and runs the
// emergency failover state machine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reliefops/aidchain/core/drone"
	"github.com/reliefops/aidchain/core/events"
	"github.com/reliefops/aidchain/core/geo"
	"github.com/reliefops/aidchain/core/logger"
	"github.com/reliefops/aidchain/core/metrics"
	"github.com/reliefops/aidchain/core/model"
	"github.com/reliefops/aidchain/internal/eventbus"
)

var (
	// ErrDeviceNotConnected is returned when no session exists for the device.
	ErrDeviceNotConnected = errors.New("device not connected")

	// ErrProcedureInProgress is returned when an emergency procedure is
	// already in flight for the device. Procedures are never queued.
	ErrProcedureInProgress = errors.New("emergency procedure already in progress")
)

// Coordinator owns connected devices and active missions. Both registries
// are mutated only here.
type Coordinator struct {
	link         drone.Link
	log          logger.Logger
	sink         metrics.Sink
	missionBus   *eventbus.Bus[events.MissionEvent]
	emergencyBus *eventbus.Bus[events.EmergencyEvent]

	cmdTimeout    time.Duration
	groundTimeout time.Duration

	mu         sync.RWMutex
	devices    map[string]*deviceSession
	connecting map[string]struct{}
	missions   map[string]model.Mission
}

// deviceSession bundles everything the coordinator tracks per device.
type deviceSession struct {
	session  drone.Session
	feed     *sharedFeed
	failover *failover
	cancel   context.CancelFunc

	mu        sync.Mutex
	state     model.ConnectionState
	last      model.Telemetry
	missionID string
	payload   string
}

// Option tweaks coordinator timeouts.
type Option func(*Coordinator)

// WithCommandTimeout bounds how long a device command may wait for its ack.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.cmdTimeout = d }
}

// WithGroundTimeout bounds how long the failover waits for landed telemetry
// after an emergency procedure was acknowledged.
func WithGroundTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.groundTimeout = d }
}

// New creates a Coordinator. Buses and sink may be nil.
func New(link drone.Link, sink metrics.Sink, missionBus *eventbus.Bus[events.MissionEvent], emergencyBus *eventbus.Bus[events.EmergencyEvent], log logger.Logger, opts ...Option) (*Coordinator, error) {
	if link == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to New")
	}
	c := &Coordinator{
		link:          link,
		log:           log,
		sink:          sink,
		missionBus:    missionBus,
		emergencyBus:  emergencyBus,
		cmdTimeout:    5 * time.Second,
		groundTimeout: 60 * time.Second,
		devices:       make(map[string]*deviceSession),
		connecting:    make(map[string]struct{}),
		missions:      make(map[string]model.Mission),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ConnectDevice opens a session and wires the emergency and telemetry pumps.
// The pumps run before the device becomes visible in the registry, so an
// emergency arriving immediately after the handshake cannot be dropped.
// The device id is reserved before the link handshake starts: concurrent
// calls for the same id open exactly one session.
func (c *Coordinator) ConnectDevice(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	_, exists := c.devices[deviceID]
	_, busy := c.connecting[deviceID]
	if exists || busy {
		c.mu.Unlock()
		return nil
	}
	c.connecting[deviceID] = struct{}{}
	c.mu.Unlock()

	sess, err := c.link.Connect(ctx, deviceID)
	if err != nil {
		c.mu.Lock()
		delete(c.connecting, deviceID)
		c.mu.Unlock()
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	ds := &deviceSession{
		session:  sess,
		feed:     newSharedFeed(),
		failover: newFailover(deviceID),
		cancel:   cancel,
		state:    model.StateConnected,
	}
	go c.emergencyPump(pumpCtx, ds)
	go c.telemetryPump(pumpCtx, ds)

	c.mu.Lock()
	delete(c.connecting, deviceID)
	c.devices[deviceID] = ds
	fleetSize := len(c.devices)
	c.mu.Unlock()

	c.log.Infof("device %s connected", deviceID)
	c.recordFleetSize(fleetSize)
	return nil
}

// DisconnectDevice tears down the session, aborting any active mission.
func (c *Coordinator) DisconnectDevice(deviceID string) error {
	c.mu.Lock()
	ds, ok := c.devices[deviceID]
	if !ok {
		c.mu.Unlock()
		return ErrDeviceNotConnected
	}
	delete(c.devices, deviceID)
	fleetSize := len(c.devices)
	c.mu.Unlock()

	ds.mu.Lock()
	missionID := ds.missionID
	ds.state = model.StateDisconnected
	ds.mu.Unlock()
	if missionID != "" {
		c.endMission(missionID, model.MissionAborted)
	}

	ds.cancel()
	ds.feed.close()
	err := ds.session.Close()
	c.log.Infof("device %s disconnected", deviceID)
	c.recordFleetSize(fleetSize)
	return err
}

// CreateMission validates the request, applies the mandatory safety floor,
// uploads the mission and starts it. Validation failures are reported before
// any device call is made.
func (c *Coordinator) CreateMission(ctx context.Context, deviceID string, waypoints []model.Waypoint, payload model.Payload, priority model.Priority, operator string) (model.Mission, error) {
	if payload.WeightKg > model.MaxPayloadKg {
		return model.Mission{}, fmt.Errorf("payload %.1fkg exceeds %.0fkg limit", payload.WeightKg, model.MaxPayloadKg)
	}
	if len(waypoints) == 0 {
		return model.Mission{}, errors.New("mission needs at least one waypoint")
	}
	for i, wp := range waypoints {
		if err := wp.Validate(); err != nil {
			return model.Mission{}, fmt.Errorf("waypoint %d: %w", i, err)
		}
	}

	c.mu.RLock()
	ds, ok := c.devices[deviceID]
	c.mu.RUnlock()
	if !ok {
		return model.Mission{}, ErrDeviceNotConnected
	}

	now := time.Now()
	mission := model.Mission{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Waypoints: waypoints,
		Payload:   payload,
		Safety:    model.DefaultSafety(),
		Status:    model.MissionCreated,
		Priority:  priority,
		Operator:  operator,
		ETA:       now.Add(geo.FlightDuration(waypoints)),
		CreatedAt: now,
	}

	handle, err := ds.session.UploadMission(ctx, waypoints)
	if err != nil {
		return model.Mission{}, err
	}
	if err := ds.session.StartMission(ctx, handle); err != nil {
		return model.Mission{}, err
	}

	c.mu.Lock()
	c.missions[mission.ID] = mission
	c.mu.Unlock()
	ds.mu.Lock()
	ds.missionID = mission.ID
	ds.payload = payload.Type
	ds.mu.Unlock()

	c.publishMission(mission.ID, deviceID, model.MissionCreated)
	c.recordMission(mission, geo.PathKm(waypoints))
	c.log.Infof("mission %s created for %s, eta %s", mission.ID, deviceID, mission.ETA.Format(time.RFC3339))
	return mission, nil
}

// Mission returns the active mission by id.
func (c *Coordinator) Mission(id string) (model.Mission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.missions[id]
	return m, ok
}

// Fleet returns a snapshot of all connected devices.
func (c *Coordinator) Fleet() []model.DroneState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.DroneState, 0, len(c.devices))
	for id, ds := range c.devices {
		ds.mu.Lock()
		out = append(out, model.DroneState{
			ID:         id,
			Connection: ds.state,
			Battery:    ds.last.Battery,
			Position:   ds.last.Position,
			Payload:    ds.payload,
		})
		ds.mu.Unlock()
	}
	return out
}

// GetTelemetryStream subscribes to the device's shared telemetry feed. The
// feed is reference counted: one consumer detaching does not stop delivery
// to the others.
func (c *Coordinator) GetTelemetryStream(deviceID string) (*TelemetrySub, error) {
	c.mu.RLock()
	ds, ok := c.devices[deviceID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrDeviceNotConnected
	}
	return ds.feed.subscribe(), nil
}

// telemetryPump forwards device samples into the shared feed and tracks the
// device's last known state. It also drives mission progress and feeds the
// failover's landed detection.
func (c *Coordinator) telemetryPump(ctx context.Context, ds *deviceSession) {
	for {
		select {
		case <-ctx.Done():
			return
		case tm, ok := <-ds.session.Telemetry():
			if !ok {
				return
			}
			ds.mu.Lock()
			ds.last = tm
			missionID := ds.missionID
			ds.mu.Unlock()

			ds.feed.publish(tm)
			ds.failover.observe(tm)
			c.progressMission(missionID, tm)
			if c.sink != nil {
				if tr, ok := c.sink.(metrics.TelemetryRecorder); ok {
					if err := tr.RecordTelemetry(tm); err != nil {
						c.log.Errorf("telemetry metrics error: %v", err)
					}
				}
			}
		}
	}
}

// progressMission advances mission status from observed telemetry: armed
// means in-progress, landed after flight means completed.
func (c *Coordinator) progressMission(missionID string, tm model.Telemetry) {
	if missionID == "" {
		return
	}
	c.mu.Lock()
	m, ok := c.missions[missionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	switch {
	case m.Status == model.MissionCreated && tm.Armed:
		m.Status = model.MissionInProgress
		c.missions[missionID] = m
		c.mu.Unlock()
		c.publishMission(missionID, m.DeviceID, model.MissionInProgress)
	case m.Status == model.MissionInProgress && tm.Landed():
		c.mu.Unlock()
		c.endMission(missionID, model.MissionCompleted)
	default:
		c.mu.Unlock()
	}
}

// endMission removes the mission from the registry on a terminal status.
func (c *Coordinator) endMission(missionID string, final model.MissionStatus) {
	c.mu.Lock()
	m, ok := c.missions[missionID]
	if ok {
		delete(c.missions, missionID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.mu.RLock()
	ds, ok := c.devices[m.DeviceID]
	c.mu.RUnlock()
	if ok {
		ds.mu.Lock()
		if ds.missionID == missionID {
			ds.missionID = ""
		}
		ds.mu.Unlock()
	}
	m.Status = final
	c.publishMission(missionID, m.DeviceID, final)
	c.recordMission(m, geo.PathKm(m.Waypoints))
	c.log.Infof("mission %s %s", missionID, final)
}

func (c *Coordinator) publishMission(missionID, deviceID string, st model.MissionStatus) {
	if c.missionBus != nil {
		c.missionBus.Publish(events.MissionEvent{MissionID: missionID, DeviceID: deviceID, Status: st})
	}
}

func (c *Coordinator) recordMission(m model.Mission, pathKm float64) {
	if c.sink == nil {
		return
	}
	if mr, ok := c.sink.(metrics.MissionRecorder); ok {
		rec := metrics.MissionRecord{
			MissionID: m.ID,
			DeviceID:  m.DeviceID,
			Status:    m.Status,
			PathKm:    pathKm,
			Time:      time.Now(),
		}
		if err := mr.RecordMission(rec); err != nil {
			c.log.Errorf("mission metrics error: %v", err)
		}
	}
}

func (c *Coordinator) recordFleetSize(n int) {
	if c.sink == nil {
		return
	}
	if fr, ok := c.sink.(metrics.FleetSizeRecorder); ok {
		if err := fr.RecordFleetSize(n); err != nil {
			c.log.Errorf("fleet size metrics error: %v", err)
		}
	}
}

// Close disconnects every device.
func (c *Coordinator) Close() error {
	c.mu.RLock()
	ids := make([]string, 0, len(c.devices))
	for id := range c.devices {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	var first error
	for _, id := range ids {
		if err := c.DisconnectDevice(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}
