package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reliefops/aidchain/core/drone"
	"github.com/reliefops/aidchain/core/events"
	"github.com/reliefops/aidchain/core/metrics"
	"github.com/reliefops/aidchain/core/model"
)

// FailoverState is one state of the per-device emergency state machine:
//
//	Nominal -> EmergencyTriggered -> ProcedureExecuting -> Grounded
//	                                                    -> Recovered
//
// Grounded means the procedure was acknowledged and telemetry confirmed the
// device landed. Recovered means the procedure could not execute and a human
// operator must intervene; the coordinator never retries it indefinitely.
type FailoverState string

const (
	FailoverNominal   FailoverState = "nominal"
	FailoverTriggered FailoverState = "emergency-triggered"
	FailoverExecuting FailoverState = "procedure-executing"
	FailoverGrounded  FailoverState = "grounded"
	FailoverRecovered FailoverState = "recovered"
)

// failover guards against re-entrant emergency handling for one device.
type failover struct {
	deviceID string

	mu          sync.Mutex
	state       FailoverState
	landed      chan struct{}
	landedFired bool
}

func newFailover(deviceID string) *failover {
	return &failover{deviceID: deviceID, state: FailoverNominal}
}

// trigger attempts Nominal -> EmergencyTriggered. Any other current state
// rejects the trigger: procedures are mutually exclusive per device and a
// second emergency during execution is dropped.
func (f *failover) trigger() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FailoverNominal {
		return false
	}
	f.state = FailoverTriggered
	return true
}

func (f *failover) beginExecute() {
	f.mu.Lock()
	f.state = FailoverExecuting
	f.landed = make(chan struct{})
	f.landedFired = false
	f.mu.Unlock()
}

func (f *failover) settle(final FailoverState) {
	f.mu.Lock()
	f.state = final
	f.landed = nil
	f.mu.Unlock()
}

// State returns the current failover state.
func (f *failover) State() FailoverState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// observe feeds telemetry into the landed detection while a procedure is
// executing.
func (f *failover) observe(tm model.Telemetry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FailoverExecuting || f.landed == nil || f.landedFired {
		return
	}
	if tm.Landed() {
		f.landedFired = true
		close(f.landed)
	}
}

func (f *failover) landedSignal() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.landed
}

// emergencyPump consumes out-of-band emergency notifications. It is started
// before the device is registered usable, so no notification window exists
// where a signal could be silently dropped.
func (c *Coordinator) emergencyPump(ctx context.Context, ds *deviceSession) {
	for {
		select {
		case <-ctx.Done():
			return
		case em, ok := <-ds.session.Emergencies():
			if !ok {
				return
			}
			c.handleEmergency(ds, em)
		}
	}
}

// handleEmergency drives the autonomous failover path. The coordinator acts
// before reporting: an uncontrolled emergency device must not keep flying
// while humans deliberate.
func (c *Coordinator) handleEmergency(ds *deviceSession, em drone.Emergency) {
	if !ds.failover.trigger() {
		c.log.Debugf("emergency code %d for %s ignored, failover already %s", em.Code, em.DeviceID, ds.failover.State())
		return
	}
	c.log.Errorf("EMERGENCY %s: code %d", em.DeviceID, em.Code)
	ds.mu.Lock()
	ds.state = model.StateEmergency
	missionID := ds.missionID
	ds.mu.Unlock()
	if missionID != "" {
		c.endMission(missionID, model.MissionAborted)
	}
	c.publishEmergency(em.DeviceID, em.Code, drone.ProcedureEmergencyLand, "", nil)

	go c.runProcedure(ds, drone.ProcedureEmergencyLand, em.Code)
}

// ExecuteEmergencyProcedure runs an operator-triggered procedure through the
// same state machine as the autonomous path. A procedure already in flight
// rejects the call instead of queuing it.
func (c *Coordinator) ExecuteEmergencyProcedure(ctx context.Context, deviceID string, proc drone.Procedure) error {
	if !drone.KnownProcedure(proc) {
		return fmt.Errorf("unknown emergency procedure %q", proc)
	}
	c.mu.RLock()
	ds, ok := c.devices[deviceID]
	c.mu.RUnlock()
	if !ok {
		return ErrDeviceNotConnected
	}
	if !ds.failover.trigger() {
		return fmt.Errorf("%w: device %s is %s", ErrProcedureInProgress, deviceID, ds.failover.State())
	}
	ds.mu.Lock()
	ds.state = model.StateEmergency
	missionID := ds.missionID
	ds.mu.Unlock()
	if missionID != "" {
		c.endMission(missionID, model.MissionAborted)
	}

	ds.failover.beginExecute()
	cmdCtx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()
	cmd := drone.Command{ID: newCommandID(), Name: string(proc)}
	if err := ds.session.SendCommand(cmdCtx, cmd); err != nil {
		ds.failover.settle(FailoverRecovered)
		c.log.Errorf("FATAL: procedure %s for %s failed, operator intervention required: %v", proc, deviceID, err)
		c.publishEmergency(deviceID, 0, proc, string(FailoverRecovered), err)
		c.recordEmergency(deviceID, proc, string(FailoverRecovered))
		return err
	}
	go c.awaitGrounded(ds, proc, 0)
	return nil
}

// runProcedure executes the selected procedure and settles the state machine
// on a terminal state.
func (c *Coordinator) runProcedure(ds *deviceSession, proc drone.Procedure, code int) {
	ds.failover.beginExecute()
	ctx, cancel := context.WithTimeout(context.Background(), c.cmdTimeout)
	defer cancel()
	cmd := drone.Command{ID: newCommandID(), Name: string(proc)}
	if err := ds.session.SendCommand(ctx, cmd); err != nil {
		ds.failover.settle(FailoverRecovered)
		c.log.Errorf("FATAL: autonomous %s for %s failed, operator intervention required: %v", proc, ds.session.DeviceID(), err)
		c.publishEmergency(ds.session.DeviceID(), code, proc, string(FailoverRecovered), err)
		c.recordEmergency(ds.session.DeviceID(), proc, string(FailoverRecovered))
		return
	}
	c.awaitGrounded(ds, proc, code)
}

// awaitGrounded waits for telemetry to confirm the device landed after an
// acknowledged procedure.
func (c *Coordinator) awaitGrounded(ds *deviceSession, proc drone.Procedure, code int) {
	deviceID := ds.session.DeviceID()
	landed := ds.failover.landedSignal()
	if landed == nil {
		return
	}
	timer := time.NewTimer(c.groundTimeout)
	defer timer.Stop()
	select {
	case <-landed:
		ds.failover.settle(FailoverGrounded)
		c.log.Infof("device %s grounded after %s", deviceID, proc)
		c.publishEmergency(deviceID, code, proc, string(FailoverGrounded), nil)
		c.recordEmergency(deviceID, proc, string(FailoverGrounded))
	case <-timer.C:
		ds.failover.settle(FailoverRecovered)
		c.log.Errorf("FATAL: %s acknowledged but %s never reported landing, operator intervention required", proc, deviceID)
		c.publishEmergency(deviceID, code, proc, string(FailoverRecovered), drone.ErrAckTimeout)
		c.recordEmergency(deviceID, proc, string(FailoverRecovered))
	}
}

// FailoverStateOf reports the failover state of a connected device.
func (c *Coordinator) FailoverStateOf(deviceID string) (FailoverState, error) {
	c.mu.RLock()
	ds, ok := c.devices[deviceID]
	c.mu.RUnlock()
	if !ok {
		return "", ErrDeviceNotConnected
	}
	return ds.failover.State(), nil
}

func (c *Coordinator) publishEmergency(deviceID string, code int, proc drone.Procedure, outcome string, err error) {
	if c.emergencyBus != nil {
		c.emergencyBus.Publish(events.EmergencyEvent{
			DeviceID:  deviceID,
			Code:      code,
			Procedure: proc,
			Outcome:   outcome,
			Err:       err,
		})
	}
}

func (c *Coordinator) recordEmergency(deviceID string, proc drone.Procedure, outcome string) {
	if c.sink == nil {
		return
	}
	if er, ok := c.sink.(metrics.EmergencyRecorder); ok {
		if err := er.RecordEmergency(deviceID, string(proc), outcome); err != nil {
			c.log.Errorf("emergency metrics error: %v", err)
		}
	}
}
