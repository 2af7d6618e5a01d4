package metrics

import (
	coremetrics "github.com/reliefops/aidchain/core/metrics"
	"github.com/reliefops/aidchain/infra/logger"
)

// FromConfig builds the sink stack described by the configuration. Disabled
// or unreachable backends degrade to a NopSink instead of failing startup.
func FromConfig(cfg coremetrics.Config, log logger.Logger) (coremetrics.Sink, error) {
	cfg.SetDefaults()
	var sinks []coremetrics.Sink
	if cfg.PrometheusEnabled {
		prom, err := NewPromSink(cfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, prom)
	}
	if cfg.InfluxEnabled {
		sinks = append(sinks, NewInfluxSinkWithFallback(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket))
	}
	switch len(sinks) {
	case 0:
		log.Warnf("no metrics sinks enabled, recording is a no-op")
		return coremetrics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
