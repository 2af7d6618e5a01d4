package dronelink

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/reliefops/aidchain/core/drone"
	"github.com/reliefops/aidchain/core/model"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

// fakeBroker implements pahoClient and routes published payloads back to the
// subscribed handlers, acknowledging commands and mission uploads.
type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]paho.MessageHandler
	subQoS    map[string]byte
	published map[string][][]byte
	ackStatus string
	ackReason string
	silent    bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers:  make(map[string]paho.MessageHandler),
		subQoS:    make(map[string]byte),
		published: make(map[string][][]byte),
		ackStatus: ackStatusOK,
	}
}

func (f *fakeBroker) IsConnected() bool                { return true }
func (f *fakeBroker) Connect() paho.Token              { return &fakeToken{} }
func (f *fakeBroker) Disconnect(uint)                  {}
func (f *fakeBroker) Unsubscribe(...string) paho.Token { return &fakeToken{} }

func (f *fakeBroker) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = cb
	f.subQoS[topic] = qos
	return &fakeToken{}
}

func (f *fakeBroker) subscribedQoS(topic string) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subQoS[topic]
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func (f *fakeBroker) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	body := payload.([]byte)
	f.mu.Lock()
	f.published[topic] = append(f.published[topic], body)
	silent := f.silent
	status, reason := f.ackStatus, f.ackReason
	f.mu.Unlock()

	if silent {
		return &fakeToken{}
	}
	// Echo an ack for commands and mission uploads.
	var id struct {
		CommandID string `json:"command_id"`
		MissionID string `json:"mission_id"`
	}
	_ = json.Unmarshal(body, &id)
	ackID := id.CommandID
	if ackID == "" {
		ackID = id.MissionID
	}
	if ackID != "" {
		ackTopic := strings.TrimSuffix(topic, "/command")
		ackTopic = strings.TrimSuffix(ackTopic, "/mission") + "/ack"
		f.deliver(ackTopic, ackMessage{CommandID: ackID, Status: status, Reason: reason})
	}
	return &fakeToken{}
}

func (f *fakeBroker) deliver(topic string, v any) {
	payload, _ := json.Marshal(v)
	f.mu.Lock()
	cb := f.handlers[topic]
	f.mu.Unlock()
	if cb != nil {
		go cb(nil, &fakeMessage{topic: topic, payload: payload})
	}
}

func newTestLink(t *testing.T, broker *fakeBroker) *MQTTLink {
	t.Helper()
	orig := newMQTTClient
	newMQTTClient = func(*paho.ClientOptions) pahoClient { return broker }
	t.Cleanup(func() { newMQTTClient = orig })

	link, err := NewMQTTLink(Config{Broker: "tcp://localhost:1883", Family: "dji", BackoffMS: 1}, djiCodec{})
	require.NoError(t, err)
	return link
}

func TestConnectSubscribesPerKindQoS(t *testing.T) {
	broker := newFakeBroker()
	orig := newMQTTClient
	newMQTTClient = func(*paho.ClientOptions) pahoClient { return broker }
	t.Cleanup(func() { newMQTTClient = orig })

	link, err := NewMQTTLink(Config{
		Broker:    "tcp://localhost:1883",
		Family:    "dji",
		BackoffMS: 1,
		QoS:       map[string]byte{"telemetry": 0, "emergency": 2},
	}, djiCodec{})
	require.NoError(t, err)

	sess, err := link.Connect(context.Background(), "dji-1")
	require.NoError(t, err)
	defer sess.Close()

	require.Equal(t, byte(0), broker.subscribedQoS("fleet/dji/dji-1/telemetry"))
	require.Equal(t, byte(2), broker.subscribedQoS("fleet/dji/dji-1/emergency"))
	require.Equal(t, byte(1), broker.subscribedQoS("fleet/dji/dji-1/ack"), "unset kinds default to QoS 1")
}

func TestSendCommandAcked(t *testing.T) {
	broker := newFakeBroker()
	link := newTestLink(t, broker)

	sess, err := link.Connect(context.Background(), "dji-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sess.SendCommand(ctx, drone.Command{Name: "emergency_land"}))

	broker.mu.Lock()
	defer broker.mu.Unlock()
	require.Len(t, broker.published["fleet/dji/dji-1/command"], 1)
}

func TestSendCommandAckTimeout(t *testing.T) {
	broker := newFakeBroker()
	broker.silent = true
	link := newTestLink(t, broker)

	sess, err := link.Connect(context.Background(), "dji-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = sess.SendCommand(ctx, drone.Command{Name: "return_home"})
	require.ErrorIs(t, err, drone.ErrAckTimeout)
}

func TestUploadMissionRejected(t *testing.T) {
	broker := newFakeBroker()
	broker.ackStatus = ackStatusRejected
	broker.ackReason = "geofence violation"
	link := newTestLink(t, broker)

	sess, err := link.Connect(context.Background(), "dji-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = sess.UploadMission(ctx, []model.Waypoint{{Lat: 1, Lon: 2, Alt: 30}})
	var rej *drone.MissionRejectedError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, "geofence violation", rej.Reason)
}

func TestTelemetryDelivered(t *testing.T) {
	broker := newFakeBroker()
	link := newTestLink(t, broker)

	sess, err := link.Connect(context.Background(), "dji-1")
	require.NoError(t, err)

	broker.deliver("fleet/dji/dji-1/telemetry", djiTelemetry{
		Lat: 1.5, Lon: 2.5, Alt: 40, Speed: 3, Battery: 77, Armed: true, TsMS: time.Now().UnixMilli(),
	})

	select {
	case got := <-sess.Telemetry():
		require.Equal(t, "dji-1", got.DeviceID)
		require.InDelta(t, 77.0, got.Battery, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("no telemetry received")
	}
}

func TestEmergencyDelivered(t *testing.T) {
	broker := newFakeBroker()
	link := newTestLink(t, broker)

	sess, err := link.Connect(context.Background(), "dji-1")
	require.NoError(t, err)

	broker.deliver("fleet/dji/dji-1/emergency", djiEmergency{Code: 5, Detail: "motor failure", TsMS: time.Now().UnixMilli()})

	select {
	case ev := <-sess.Emergencies():
		require.Equal(t, 5, ev.Code)
	case <-time.After(time.Second):
		t.Fatal("no emergency received")
	}
}

func TestSessionCloseStopsFeeds(t *testing.T) {
	broker := newFakeBroker()
	link := newTestLink(t, broker)

	sess, err := link.Connect(context.Background(), "dji-1")
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	_, open := <-sess.Telemetry()
	require.False(t, open)
	require.ErrorIs(t, sess.SendCommand(context.Background(), drone.Command{Name: "return_home"}), drone.ErrNotConnected)
	// Closing twice is a no-op.
	require.NoError(t, sess.Close())
}

func TestStartMissionSendsCommand(t *testing.T) {
	broker := newFakeBroker()
	link := newTestLink(t, broker)

	sess, err := link.Connect(context.Background(), "dji-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sess.StartMission(ctx, drone.MissionHandle("m-9")))

	broker.mu.Lock()
	defer broker.mu.Unlock()
	var cmd djiCommand
	require.NoError(t, json.Unmarshal(broker.published["fleet/dji/dji-1/command"][0], &cmd))
	require.Equal(t, "mission_start", cmd.Action)
	require.Equal(t, "m-9", cmd.Params["mission_id"])
}
