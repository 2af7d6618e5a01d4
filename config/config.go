// Package config loads the service configuration from a YAML or JSON file
// with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/reliefops/aidchain/core/metrics"
	"github.com/reliefops/aidchain/infra/dronelink"
	"github.com/reliefops/aidchain/infra/ledger"
)

type Config struct {
	Ledger   ledger.Config      `json:"ledger"`
	Fleet    []dronelink.Config `json:"fleet"`
	Registry RegistryConfig     `json:"registry"`
	Metrics  metrics.Config     `json:"metrics"`
	Logging  LoggingConfig      `json:"logging"`
	API      APIConfig          `json:"api"`
}

// RegistryConfig selects the persistence backend for disaster and resource
// records.
type RegistryConfig struct {
	// Backend selects the store type: "memory" or "sqlite".
	Backend string `json:"backend"`
	// Path is the database file location for the sqlite backend.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *RegistryConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
}

// Validate checks mandatory fields.
func (c RegistryConfig) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("registry path is required for the sqlite backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown registry backend %s", c.Backend)
	}
}

// APIConfig defines the HTTP API listener settings.
type APIConfig struct {
	Address string `json:"address"`
}

func (c *APIConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("AID_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "aid_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Registry.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Logging.SetDefaults()
	cfg.API.SetDefaults()
	if err := cfg.Ledger.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Registry.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Logging.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Fleet) == 0 {
		return nil, fmt.Errorf("at least one fleet link is required")
	}
	return &cfg, nil
}
