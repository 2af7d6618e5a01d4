package config

import "fmt"

// LoggingConfig defines global logging settings.
type LoggingConfig struct {
	// Level sets the minimum level: "debug", "info", "warn" or "error".
	Level string `json:"level"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks mandatory fields.
func (c LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %s", c.Level)
	}
}
