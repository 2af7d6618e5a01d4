package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `ledger:
  endpoint: "http://localhost:8545"
  fee_margin_pct: 20
  contracts:
    Allocation: "0xA110C"
fleet:
  - broker: "tcp://localhost:1883"
    client_id: "aidchain"
    family: "mavlink"
  - broker: "tcp://localhost:1883"
    family: "dji"
registry:
  backend: "sqlite"
  path: "registry.db"
metrics:
  prometheus_enabled: true
logging:
  level: "debug"
api:
  address: ":8088"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"ledger.endpoint", cfg.Ledger.Endpoint, "http://localhost:8545"},
		{"ledger.margin", cfg.Ledger.FeeMarginPct, 20},
		{"ledger.contract", cfg.Ledger.Contracts["Allocation"], "0xA110C"},
		{"fleet.count", len(cfg.Fleet), 2},
		{"fleet.family", cfg.Fleet[0].Family, "mavlink"},
		{"registry.backend", cfg.Registry.Backend, "sqlite"},
		{"registry.path", cfg.Registry.Path, "registry.db"},
		{"metrics.prom", cfg.Metrics.PrometheusEnabled, true},
		{"metrics.port", cfg.Metrics.PrometheusPort, ":9090"},
		{"logging.level", cfg.Logging.Level, "debug"},
		{"api.address", cfg.API.Address, ":8088"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `ledger:
  endpoint: "http://localhost:8545"
fleet:
  - broker: "tcp://localhost:1883"
    family: "dji"
`)
	t.Setenv("AID_API__ADDRESS", ":9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.API.Address != ":9999" {
		t.Errorf("env override not applied: %s", cfg.API.Address)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"missing endpoint", `fleet:
  - broker: "tcp://localhost:1883"
    family: "dji"
`},
		{"no fleet", `ledger:
  endpoint: "http://localhost:8545"
`},
		{"bad registry backend", `ledger:
  endpoint: "http://localhost:8545"
fleet:
  - broker: "tcp://localhost:1883"
    family: "dji"
registry:
  backend: "redis"
`},
		{"bad log level", `ledger:
  endpoint: "http://localhost:8545"
fleet:
  - broker: "tcp://localhost:1883"
    family: "dji"
logging:
  level: "verbose"
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
