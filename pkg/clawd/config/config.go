// Package config defines the ClawD configuration: one YAML file covering
// the gateway, queue, subagent registry, and scheduler, with secret
// resolution layered on top (keyring, env, .env).
package config

import (
	"path/filepath"

	"github.com/jholhewres/clawd/pkg/clawd/gateway"
	"github.com/jholhewres/clawd/pkg/clawd/queue"
	"github.com/jholhewres/clawd/pkg/clawd/scheduler"
)

// Config is the root configuration.
type Config struct {
	// Name identifies this instance in logs and the hello payload.
	Name string `yaml:"name"`

	// DataDir is where persistent state lives (clawd.db, subagent
	// snapshots). Default "./data".
	DataDir string `yaml:"data_dir"`

	Logging   LoggingConfig    `yaml:"logging"`
	Gateway   gateway.Config   `yaml:"gateway"`
	Queue     queue.Config     `yaml:"queue"`
	Subagents SubagentsConfig  `yaml:"subagents"`
	Scheduler scheduler.Config `yaml:"scheduler"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is "text" or "json". Empty picks text on a terminal and
	// json otherwise.
	Format string `yaml:"format"`
}

// SubagentsConfig controls the completion registry.
type SubagentsConfig struct {
	// SnapshotFile overrides where run records persist. Default is
	// <data_dir>/subagent_runs.json.
	SnapshotFile string `yaml:"snapshot_file"`
}

// DefaultConfig returns a config with all defaults filled in.
func DefaultConfig() *Config {
	return &Config{
		Name:      "clawd",
		DataDir:   "./data",
		Logging:   LoggingConfig{Level: "info"},
		Gateway:   gateway.DefaultConfig(),
		Queue:     queue.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
	}
}

// DatabasePath returns the SQLite path under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "clawd.db")
}

// SubagentSnapshotPath returns the subagent run snapshot path.
func (c *Config) SubagentSnapshotPath() string {
	if c.Subagents.SnapshotFile != "" {
		return c.Subagents.SnapshotFile
	}
	return filepath.Join(c.DataDir, "subagent_runs.json")
}
