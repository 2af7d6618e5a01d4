package dronelink

import (
	"fmt"

	"github.com/reliefops/aidchain/core/drone"
)

// New builds the MQTT link for the hardware family named in the config.
func New(cfg Config) (drone.Link, error) {
	c, err := codecFor(cfg.Family)
	if err != nil {
		return nil, err
	}
	return NewMQTTLink(cfg, c)
}

func codecFor(family string) (codec, error) {
	switch family {
	case "mavlink":
		return mavlinkCodec{}, nil
	case "dji":
		return djiCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown hardware family %q", family)
	}
}
