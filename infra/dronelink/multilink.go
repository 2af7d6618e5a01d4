package dronelink

import (
	"context"
	"fmt"

	"github.com/reliefops/aidchain/core/drone"
)

// MultiLink routes device sessions to the link of the hardware family each
// device is rostered under.
type MultiLink struct {
	links    []drone.Link
	byDevice map[string]drone.Link
}

// NewFleet builds one link per configured family and routes devices by the
// roster in each config. A single-family fleet returns that link directly.
func NewFleet(cfgs []Config) (drone.Link, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no fleet links configured")
	}
	if len(cfgs) == 1 {
		return New(cfgs[0])
	}
	m := &MultiLink{byDevice: make(map[string]drone.Link)}
	for _, cfg := range cfgs {
		link, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("fleet link %s: %w", cfg.Family, err)
		}
		m.links = append(m.links, link)
		for _, id := range cfg.Devices {
			if prev, ok := m.byDevice[id]; ok {
				return nil, fmt.Errorf("device %s rostered under both %s and %s", id, prev.Family(), link.Family())
			}
			m.byDevice[id] = link
		}
	}
	return m, nil
}

func (m *MultiLink) Family() string { return "fleet" }

// Connect hands the session off to the device's rostered family link.
func (m *MultiLink) Connect(ctx context.Context, deviceID string) (drone.Session, error) {
	link, ok := m.byDevice[deviceID]
	if !ok {
		return nil, &drone.ConnectionError{DeviceID: deviceID, Reason: "device not in fleet roster"}
	}
	return link.Connect(ctx, deviceID)
}

// Close disconnects every family link.
func (m *MultiLink) Close() {
	for _, l := range m.links {
		if c, ok := l.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
