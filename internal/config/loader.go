package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const ConfigFileName = "p2p-file-demo.toml"

// LoadFromDir loads configuration from baseDir/p2p-file-demo.toml.
// Returns the defaults if the file doesn't exist.
func LoadFromDir(baseDir string) (*Config, error) {
	configPath := filepath.Join(baseDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Merge merges command-line flags into configuration.
// Flags take precedence over config file values.
func (c *Config) Merge(port int, verbosity int) {
	if port != 0 {
		c.Server.Port = port
	}
	if verbosity > 0 {
		c.Behavior.Verbosity = verbosity
	}
}

// Validate checks if configuration values are valid.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 0-65535)", c.Server.Port)
	}
	if c.Server.PortRange < 1 {
		return fmt.Errorf("invalid port range: %d (must be >= 1)", c.Server.PortRange)
	}
	if c.Server.Timeouts.Read.Duration < 0 {
		return fmt.Errorf("invalid read timeout: %v (must be positive)", c.Server.Timeouts.Read)
	}
	if c.Server.Timeouts.Write.Duration < 0 {
		return fmt.Errorf("invalid write timeout: %v (must be positive)", c.Server.Timeouts.Write)
	}
	if c.P2P.AnnounceTopic == "" {
		return fmt.Errorf("announce topic cannot be empty")
	}
	if c.Dial.MaxRetries < 1 {
		return fmt.Errorf("invalid maxRetries: %d (must be >= 1)", c.Dial.MaxRetries)
	}
	if c.Dial.MaxConcurrent < 1 {
		return fmt.Errorf("invalid maxConcurrent: %d (must be >= 1)", c.Dial.MaxConcurrent)
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage directory cannot be empty")
	}
	return nil
}
