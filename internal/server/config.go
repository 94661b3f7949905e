package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/winton/unstorage/internal/store"
)

// Config represents the storage server configuration
type Config struct {
	// Addr is the address the HTTP server listens on
	Addr string `json:"addr"`
	// Store selects the driver the server exposes
	Store store.Config `json:"store"`
	// Token, when set, must be presented as a bearer token
	Token string `json:"token"`
	// ReadOnly rejects every write
	ReadOnly bool `json:"read_only"`
	// LogLevel is one of trace, debug, info, warn, error
	LogLevel string `json:"log_level"`
}

// LoadConfig reads and parses a configuration file
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks required fields
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return nil
}
