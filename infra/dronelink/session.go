package dronelink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/reliefops/aidchain/core/drone"
	"github.com/reliefops/aidchain/core/model"
)

// session is a live MQTT-backed connection to one device.
type session struct {
	link     *MQTTLink
	deviceID string

	telemetry   chan model.Telemetry
	emergencies chan drone.Emergency

	mu       sync.Mutex
	ackChans map[string]chan ackMessage
	closed   bool
}

func newSession(l *MQTTLink, deviceID string) *session {
	return &session{
		link:        l,
		deviceID:    deviceID,
		telemetry:   make(chan model.Telemetry, 16),
		emergencies: make(chan drone.Emergency, 4),
		ackChans:    make(map[string]chan ackMessage),
	}
}

func (s *session) DeviceID() string { return s.deviceID }

func (s *session) topics() []string {
	return []string{
		s.link.topic(s.deviceID, "ack"),
		s.link.topic(s.deviceID, "telemetry"),
		s.link.topic(s.deviceID, "emergency"),
	}
}

func (s *session) Telemetry() <-chan model.Telemetry   { return s.telemetry }
func (s *session) Emergencies() <-chan drone.Emergency { return s.emergencies }

func (s *session) onAck(_ paho.Client, msg paho.Message) {
	var ack ackMessage
	if err := json.Unmarshal(msg.Payload(), &ack); err != nil {
		s.link.log.Errorf("device %s: decode ack: %v", s.deviceID, err)
		return
	}
	s.mu.Lock()
	ch, ok := s.ackChans[ack.CommandID]
	s.mu.Unlock()
	if !ok {
		s.link.log.Debugf("device %s: unmatched ack %s", s.deviceID, ack.CommandID)
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

func (s *session) onTelemetry(_ paho.Client, msg paho.Message) {
	t, err := s.link.codec.decodeTelemetry(s.deviceID, msg.Payload())
	if err != nil {
		s.link.log.Errorf("device %s: %v", s.deviceID, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// Drop the sample if the consumer is behind; the next one supersedes it.
	select {
	case s.telemetry <- t:
	default:
	}
}

func (s *session) onEmergency(_ paho.Client, msg paho.Message) {
	ev, err := s.link.codec.decodeEmergency(s.deviceID, msg.Payload())
	if err != nil {
		s.link.log.Errorf("device %s: %v", s.deviceID, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.emergencies <- ev:
	default:
		s.link.log.Errorf("device %s: emergency channel full, dropping code %d", s.deviceID, ev.Code)
	}
}

// awaitAck registers interest in a command ID before the payload is
// published, so a fast ack cannot slip past.
func (s *session) registerAck(commandID string) chan ackMessage {
	ch := make(chan ackMessage, 1)
	s.mu.Lock()
	s.ackChans[commandID] = ch
	s.mu.Unlock()
	return ch
}

func (s *session) dropAck(commandID string) {
	s.mu.Lock()
	delete(s.ackChans, commandID)
	s.mu.Unlock()
}

func (s *session) awaitAck(ctx context.Context, commandID string, ch chan ackMessage) (ackMessage, error) {
	defer s.dropAck(commandID)
	select {
	case ack := <-ch:
		return ack, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return ackMessage{}, fmt.Errorf("command %s: %w", commandID, drone.ErrAckTimeout)
		}
		return ackMessage{}, ctx.Err()
	}
}

// SendCommand publishes the command and blocks until the device acknowledges
// it or the context expires.
func (s *session) SendCommand(ctx context.Context, cmd drone.Command) error {
	if s.isClosed() {
		return drone.ErrNotConnected
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	payload, err := s.link.codec.encodeCommand(cmd)
	if err != nil {
		return err
	}
	ch := s.registerAck(cmd.ID)
	if err := s.link.publish(s.link.topic(s.deviceID, "command"), "command", payload); err != nil {
		s.dropAck(cmd.ID)
		return err
	}
	ack, err := s.awaitAck(ctx, cmd.ID, ch)
	if err != nil {
		return err
	}
	if ack.Status == ackStatusRejected {
		return fmt.Errorf("command %s rejected by %s: %s", cmd.Name, s.deviceID, ack.Reason)
	}
	return nil
}

// UploadMission transfers the waypoint list to the device. A rejected upload,
// for example on a geofence violation, is terminal for the attempt.
func (s *session) UploadMission(ctx context.Context, wps []model.Waypoint) (drone.MissionHandle, error) {
	if s.isClosed() {
		return "", drone.ErrNotConnected
	}
	missionID := uuid.NewString()
	payload, err := s.link.codec.encodeMission(missionID, wps)
	if err != nil {
		return "", err
	}
	ch := s.registerAck(missionID)
	if err := s.link.publish(s.link.topic(s.deviceID, "mission"), "mission", payload); err != nil {
		s.dropAck(missionID)
		return "", err
	}
	ack, err := s.awaitAck(ctx, missionID, ch)
	if err != nil {
		return "", err
	}
	if ack.Status == ackStatusRejected {
		return "", &drone.MissionRejectedError{DeviceID: s.deviceID, Reason: ack.Reason}
	}
	return drone.MissionHandle(missionID), nil
}

// StartMission arms the device and begins the uploaded mission.
func (s *session) StartMission(ctx context.Context, h drone.MissionHandle) error {
	return s.SendCommand(ctx, drone.Command{
		Name:   "mission_start",
		Params: map[string]any{"mission_id": string(h)},
	})
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close unsubscribes from the device topics and closes the feed channels.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.telemetry)
	close(s.emergencies)
	s.mu.Unlock()

	token := s.link.cli.Unsubscribe(s.topics()...)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}
