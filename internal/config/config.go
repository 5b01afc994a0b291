// Package config loads and validates the continuity store's configuration
// surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// LogLevel gates which entries Append admits.
type LogLevel string

const (
	// LogLevelOff turns every Append call into a no-op that returns true.
	LogLevelOff LogLevel = "off"
	// LogLevelJudgment admits only entries the adapter has already
	// filtered as decisional.
	LogLevelJudgment LogLevel = "judgment"
	// LogLevelEverything admits all entries.
	LogLevelEverything LogLevel = "everything"
)

// Config is the configuration object the continuity store consumes.
type Config struct {
	LogLevel                       LogLevel `toml:"log_level"`
	StoragePath                    string   `toml:"storage_path"`
	EnableIntegrityCheck           bool     `toml:"enable_integrity_check"`
	BlockOnPersistenceFailure      bool     `toml:"block_on_persistence_failure"`
	ImplicitResumeThresholdMinutes float64  `toml:"implicit_resume_threshold_minutes"`
}

// Default returns a Config with conservative, always-on defaults: every
// entry logged, the chain enabled, and a half-hour resume window.
func Default() *Config {
	return &Config{
		LogLevel:                       LogLevelEverything,
		StoragePath:                    "~/.local/continuity",
		EnableIntegrityCheck:           true,
		BlockOnPersistenceFailure:      false,
		ImplicitResumeThresholdMinutes: 30,
	}
}

// LoadFile loads configuration from a TOML file, starting from Default()
// so unset fields keep sane values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.StoragePath = ExpandHome(cfg.StoragePath)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from continuity.toml in the current
// directory, falling back to Default() if the file does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, "continuity.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.StoragePath = ExpandHome(cfg.StoragePath)
		return cfg, nil
	}
	return LoadFile(path)
}

// ExpandHome expands a leading ~ in path to the current user's home
// directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if len(path) > 1 && os.IsPathSeparator(path[1]) {
		return filepath.Join(home, path[2:])
	}
	return path
}

// Validate reports whether the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelOff, LogLevelJudgment, LogLevelEverything:
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.StoragePath == "" {
		return fmt.Errorf("storage_path must not be empty")
	}
	if c.ImplicitResumeThresholdMinutes < 0 {
		return fmt.Errorf("implicit_resume_threshold_minutes must not be negative")
	}
	return nil
}
