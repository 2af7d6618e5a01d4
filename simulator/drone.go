package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	lowBatteryPct  = 15.0
	coordScale     = 1e7
	armedModeFlag  = 0x80
	degPerMeterLat = 1.0 / 111_320.0
)

// DroneConfig parameterizes one simulated airframe.
type DroneConfig struct {
	ID                string
	Family            string // "dji" or "mavlink"
	HomeLat, HomeLon  float64
	CruiseSpeed       float64 // m/s
	DrainPerSecond    float64 // battery percent lost per second while armed
	TelemetryInterval time.Duration
	Ack               AckStrategy
}

// SimulatedDrone subscribes to its command and mission topics and plays back
// a plausible flight: waypoint-by-waypoint motion, battery drain while armed
// and a single low-battery emergency.
type SimulatedDrone struct {
	cfg DroneConfig
	cli paho.Client

	mu            sync.Mutex
	lat, lon, alt float64
	speed         float64
	battery       float64
	armed         bool
	waypoints     []waypoint
	wpIndex       int
	alerted       bool
}

type waypoint struct {
	lat, lon, alt, speed float64
}

// NewSimulatedDrone builds a drone parked at its home position with a full
// battery. Connect must be called before Run.
func NewSimulatedDrone(cfg DroneConfig) *SimulatedDrone {
	return &SimulatedDrone{
		cfg:     cfg,
		lat:     cfg.HomeLat,
		lon:     cfg.HomeLon,
		battery: 100,
	}
}

// Connect establishes the MQTT session and subscribes to the drone's command
// and mission topics.
func (d *SimulatedDrone) Connect(broker string) error {
	cli, err := newMQTTClient(broker, "sim-"+d.cfg.ID)
	if err != nil {
		return err
	}
	d.cli = cli
	for topic, handler := range map[string]paho.MessageHandler{
		d.topic("command"): d.onCommand,
		d.topic("mission"): d.onMission,
	} {
		if token := cli.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
	}
	return nil
}

// Run publishes telemetry until the context is cancelled.
func (d *SimulatedDrone) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.TelemetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.cli.Disconnect(250)
			return
		case <-ticker.C:
			d.step(d.cfg.TelemetryInterval.Seconds())
			d.publishTelemetry()
			d.maybeAlertLowBattery()
		}
	}
}

func (d *SimulatedDrone) topic(kind string) string {
	return fmt.Sprintf("fleet/%s/%s/%s", d.cfg.Family, d.cfg.ID, kind)
}

func (d *SimulatedDrone) onCommand(_ paho.Client, msg paho.Message) {
	var cmd struct {
		CommandID string         `json:"command_id"`
		Action    string         `json:"action"`
		Command   string         `json:"command"`
		Params    map[string]any `json:"params"`
	}
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		log.Printf("[%s] bad command payload: %v", d.cfg.ID, err)
		return
	}
	name := cmd.Action
	if name == "" {
		name = cmd.Command
	}

	d.mu.Lock()
	status, reason := "ok", ""
	switch name {
	case "mission_start":
		if len(d.waypoints) == 0 {
			status, reason = "rejected", "no mission uploaded"
		} else {
			d.armed = true
			d.wpIndex = 0
		}
	case "emergency_land":
		d.armed = false
		d.alt = 0
		d.speed = 0
		d.waypoints = nil
	case "return_home":
		d.waypoints = []waypoint{{lat: d.cfg.HomeLat, lon: d.cfg.HomeLon, speed: d.cfg.CruiseSpeed}}
		d.wpIndex = 0
		d.armed = true
	case "shutdown":
		d.armed = false
		d.speed = 0
		d.waypoints = nil
	default:
		status, reason = "rejected", "unsupported command "+name
	}
	d.mu.Unlock()

	go d.cfg.Ack.Ack(context.Background(), d.cli, d.cfg.Family, d.cfg.ID, cmd.CommandID, status, reason)
}

func (d *SimulatedDrone) onMission(_ paho.Client, msg paho.Message) {
	var m struct {
		MissionID string `json:"mission_id"`
		Waypoints []struct {
			Lat   float64 `json:"latitude"`
			Lon   float64 `json:"longitude"`
			Alt   float64 `json:"altitude"`
			Speed float64 `json:"speed"`
		} `json:"waypoints"`
		Items []struct {
			LatE7    int32 `json:"lat"`
			LonE7    int32 `json:"lon"`
			AltMM    int32 `json:"alt_mm"`
			SpeedCMS int32 `json:"speed_cms"`
		} `json:"items"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		log.Printf("[%s] bad mission payload: %v", d.cfg.ID, err)
		return
	}

	wps := make([]waypoint, 0, len(m.Waypoints)+len(m.Items))
	for _, wp := range m.Waypoints {
		wps = append(wps, waypoint{lat: wp.Lat, lon: wp.Lon, alt: wp.Alt, speed: wp.Speed})
	}
	for _, it := range m.Items {
		wps = append(wps, waypoint{
			lat:   float64(it.LatE7) / coordScale,
			lon:   float64(it.LonE7) / coordScale,
			alt:   float64(it.AltMM) / 1000,
			speed: float64(it.SpeedCMS) / 100,
		})
	}

	d.mu.Lock()
	status, reason := "ok", ""
	if len(wps) == 0 {
		status, reason = "rejected", "empty mission"
	} else {
		d.waypoints = wps
		d.wpIndex = 0
	}
	d.mu.Unlock()

	go d.cfg.Ack.Ack(context.Background(), d.cli, d.cfg.Family, d.cfg.ID, m.MissionID, status, reason)
}

// step advances position toward the current waypoint and drains the battery.
func (d *SimulatedDrone) step(dt float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.armed {
		d.speed = 0
		return
	}

	d.battery = math.Max(0, d.battery-d.cfg.DrainPerSecond*dt)
	if d.battery == 0 {
		d.armed = false
		d.speed = 0
		return
	}

	if d.wpIndex >= len(d.waypoints) {
		d.speed = 0
		return
	}
	wp := d.waypoints[d.wpIndex]
	speed := wp.speed
	if speed <= 0 {
		speed = d.cfg.CruiseSpeed
	}
	d.speed = speed

	// flat-earth move, good enough over mission ranges
	dLat := wp.lat - d.lat
	dLon := wp.lon - d.lon
	lonScale := math.Cos(d.lat * math.Pi / 180)
	distM := math.Hypot(dLat, dLon*lonScale) / degPerMeterLat
	travel := speed * dt
	if travel >= distM || distM == 0 {
		d.lat, d.lon, d.alt = wp.lat, wp.lon, wp.alt
		d.wpIndex++
		if d.wpIndex >= len(d.waypoints) {
			d.speed = 0
			d.armed = false
		}
		return
	}
	frac := travel / distM
	d.lat += dLat * frac
	d.lon += dLon * frac
	d.alt += (wp.alt - d.alt) * frac
}

func (d *SimulatedDrone) publishTelemetry() {
	d.mu.Lock()
	lat, lon, alt := d.lat, d.lon, d.alt
	speed, battery, armed := d.speed, d.battery, d.armed
	d.mu.Unlock()

	var payload []byte
	var err error
	if d.cfg.Family == "mavlink" {
		var mode uint8
		if armed {
			mode = armedModeFlag
		}
		payload, err = json.Marshal(map[string]any{
			"lat":             int32(math.Round(lat * coordScale)),
			"lon":             int32(math.Round(lon * coordScale)),
			"alt_mm":          int32(math.Round(alt * 1000)),
			"groundspeed_cms": int32(math.Round(speed * 100)),
			"battery_cpct":    int32(math.Round(battery * 100)),
			"base_mode":       mode,
			"time_usec":       time.Now().UnixMicro(),
		})
	} else {
		payload, err = json.Marshal(map[string]any{
			"latitude":  lat,
			"longitude": lon,
			"altitude":  alt,
			"speed":     speed,
			"battery":   battery,
			"motors_on": armed,
			"ts":        time.Now().UnixMilli(),
		})
	}
	if err != nil {
		log.Printf("[%s] marshal telemetry: %v", d.cfg.ID, err)
		return
	}
	d.cli.Publish(d.topic("telemetry"), 0, false, payload)
}

func (d *SimulatedDrone) maybeAlertLowBattery() {
	d.mu.Lock()
	fire := d.battery <= lowBatteryPct && !d.alerted
	if fire {
		d.alerted = true
	}
	d.mu.Unlock()
	if !fire {
		return
	}

	var payload []byte
	if d.cfg.Family == "mavlink" {
		payload, _ = json.Marshal(map[string]any{
			"code":      1,
			"text":      "battery critical",
			"time_usec": time.Now().UnixMicro(),
		})
	} else {
		payload, _ = json.Marshal(map[string]any{
			"code":   1,
			"detail": "battery critical",
			"ts":     time.Now().UnixMilli(),
		})
	}
	token := d.cli.Publish(d.topic("emergency"), 1, false, payload)
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		log.Printf("[%s] emergency publish failed", d.cfg.ID)
	}
}
