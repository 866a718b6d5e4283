// Package config loads the trouped daemon configuration from YAML,
// merging file contents over built-in defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/troupelabs/troupe/internal/build"
)

// Config holds the daemon configuration.
type Config struct {
	// ListenAddr is the address the HTTP front-end binds to.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel is the default level for all log subsystems.
	LogLevel string `yaml:"log_level"`

	// LogFile, when set, mirrors all log output into the given file in
	// addition to stderr.
	LogFile string `yaml:"log_file"`

	// SubsystemLevels overrides the log level for individual subsystems,
	// keyed by subsystem tag (e.g. ACTR, WEB).
	SubsystemLevels map[string]string `yaml:"subsystem_levels"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8432",
		LogLevel:   "info",
	}
}

// Load reads the configuration at path, layered over the defaults. An
// empty path returns the defaults unchanged. Unknown keys are rejected so
// typos fail loudly instead of silently falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config %s: %w",
			path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unable to parse config %s: %w",
			path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for values that cannot possibly work.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}

	if _, err := build.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	for tag, level := range c.SubsystemLevels {
		if _, err := build.ParseLevel(level); err != nil {
			return fmt.Errorf("subsystem_levels[%s]: %w",
				tag, err)
		}
	}

	return nil
}
