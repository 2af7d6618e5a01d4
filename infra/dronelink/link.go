package dronelink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/reliefops/aidchain/core/drone"
	"github.com/reliefops/aidchain/infra/logger"
)

// Config defines the connection parameters for one hardware family link.
type Config struct {
	Broker     string          `json:"broker"`
	ClientID   string          `json:"client_id"`
	Family     string          `json:"family"`
	Devices    []string        `json:"devices"`
	Username   string          `json:"username"`
	Password   string          `json:"password"`
	UseTLS     bool            `json:"use_tls"`
	ClientCert string          `json:"client_cert"`
	ClientKey  string          `json:"client_key"`
	CABundle   string          `json:"ca_bundle"`
	QoS        map[string]byte `json:"qos"`
	MaxRetries int             `json:"max_retries"`
	BackoffMS  int             `json:"backoff_ms"`
	TLSConfig  *tls.Config     `json:"-"`
}

func (c *Config) SetDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS == 0 {
		c.BackoffMS = 100
	}
	if c.ClientID == "" {
		c.ClientID = "aidchain-dispatch"
	}
}

// pahoClient narrows the Paho API surface so tests can inject a fake broker.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// MQTTLink implements drone.Link for one hardware family over an MQTT broker.
type MQTTLink struct {
	cli        pahoClient
	codec      codec
	qos        map[string]byte
	maxRetries int
	backoff    time.Duration
	log        logger.Logger
}

// NewMQTTLink connects to the broker and returns a link that speaks the
// wire format of the codec's hardware family.
func NewMQTTLink(cfg Config, c codec) (*MQTTLink, error) {
	cfg.SetDefaults()
	opts, err := newClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("dronelink-" + c.family())
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &MQTTLink{
		cli:        cli,
		codec:      c,
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		log:        log,
	}, nil
}

func newClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.loadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

func (c Config) loadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Family names the hardware family this link speaks to.
func (l *MQTTLink) Family() string { return l.codec.family() }

func (l *MQTTLink) topic(deviceID, kind string) string {
	return fmt.Sprintf("fleet/%s/%s/%s", l.codec.family(), deviceID, kind)
}

func (l *MQTTLink) qosFor(kind string) byte {
	if q, ok := l.qos[kind]; ok {
		return q
	}
	return 1
}

// Connect opens a session with the device by subscribing to its ack,
// telemetry and emergency topics. A subscription failure surfaces as a
// ConnectionError.
func (l *MQTTLink) Connect(ctx context.Context, deviceID string) (drone.Session, error) {
	if !l.cli.IsConnected() {
		return nil, &drone.ConnectionError{DeviceID: deviceID, Reason: "broker not connected"}
	}
	s := newSession(l, deviceID)
	subs := map[string]paho.MessageHandler{
		"ack":       s.onAck,
		"telemetry": s.onTelemetry,
		"emergency": s.onEmergency,
	}
	for kind, handler := range subs {
		token := l.cli.Subscribe(l.topic(deviceID, kind), l.qosFor(kind), handler)
		if token.Wait() && token.Error() != nil {
			l.cli.Unsubscribe(s.topics()...)
			return nil, &drone.ConnectionError{DeviceID: deviceID, Reason: token.Error().Error()}
		}
	}
	l.log.Infof("device %s connected", deviceID)
	return s, nil
}

// publish sends a payload with bounded retries and exponential backoff.
func (l *MQTTLink) publish(topic string, kind string, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		token := l.cli.Publish(topic, l.qosFor(kind), false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		l.log.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		time.Sleep(l.backoff * time.Duration(1<<attempt))
	}
	return publishErr
}

// Close disconnects from the broker. Open sessions become unusable.
func (l *MQTTLink) Close() {
	if l.cli != nil && l.cli.IsConnected() {
		l.cli.Disconnect(250)
	}
}
