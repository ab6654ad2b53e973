// Package config loads and saves the gridlink configuration file.
//
// The file lives at ~/.gridlink/config.json. Credentials are never part
// of it; the password is prompted per session and held only in memory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RetryConfig holds the retry tuning knobs. All fields are optional;
// zero values fall back to the documented defaults.
type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts,omitempty"`
	InitialDelayMS int     `json:"initial_delay_ms,omitempty"`
	Multiplier     float64 `json:"multiplier,omitempty"`
	MaxDelayMS     int     `json:"max_delay_ms,omitempty"`
	MaxElapsedSec  int     `json:"max_elapsed_sec,omitempty"`
}

// SchedulerConfig names the scheduler binaries on the remote side.
type SchedulerConfig struct {
	SubmitCmd string `json:"submit_cmd,omitempty"` // default "sbatch"
	QueueCmd  string `json:"queue_cmd,omitempty"`  // default "squeue"
	AcctCmd   string `json:"acct_cmd,omitempty"`   // default "sacct"
	CancelCmd string `json:"cancel_cmd,omitempty"` // default "scancel"
}

// Config is the persisted gridlink configuration.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"` // default 22
	Username string `json:"username"`

	// RemoteProjectRoot holds one persistent directory per job.
	RemoteProjectRoot string `json:"remote_project_root"`
	// RemoteScratchRoot holds the per-job execution directories.
	RemoteScratchRoot string `json:"remote_scratch_root"`

	DefaultPartition string `json:"default_partition,omitempty"`

	// KnownHostsFile enables strict host key checking when set. Empty
	// accepts and pins the first key offered for the session lifetime.
	KnownHostsFile string `json:"known_hosts_file,omitempty"`

	// CommandTimeoutSec bounds each individual remote call, not a whole
	// chain. Default 60.
	CommandTimeoutSec int `json:"command_timeout_sec,omitempty"`

	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Retry     RetryConfig     `json:"retry,omitempty"`
}

// DefaultConfig returns a config populated with conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:              22,
		RemoteProjectRoot: "/projects/gridlink",
		RemoteScratchRoot: "/scratch/gridlink",
		CommandTimeoutSec: 60,
		Scheduler: SchedulerConfig{
			SubmitCmd: "sbatch",
			QueueCmd:  "squeue",
			AcctCmd:   "sacct",
			CancelCmd: "scancel",
		},
		Retry: RetryConfig{
			MaxAttempts:    4,
			InitialDelayMS: 500,
			Multiplier:     2.0,
			MaxDelayMS:     15000,
			MaxElapsedSec:  120,
		},
	}
}

// applyDefaults fills unset fields after loading.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.RemoteProjectRoot == "" {
		c.RemoteProjectRoot = def.RemoteProjectRoot
	}
	if c.RemoteScratchRoot == "" {
		c.RemoteScratchRoot = def.RemoteScratchRoot
	}
	if c.CommandTimeoutSec == 0 {
		c.CommandTimeoutSec = def.CommandTimeoutSec
	}
	if c.Scheduler.SubmitCmd == "" {
		c.Scheduler.SubmitCmd = def.Scheduler.SubmitCmd
	}
	if c.Scheduler.QueueCmd == "" {
		c.Scheduler.QueueCmd = def.Scheduler.QueueCmd
	}
	if c.Scheduler.AcctCmd == "" {
		c.Scheduler.AcctCmd = def.Scheduler.AcctCmd
	}
	if c.Scheduler.CancelCmd == "" {
		c.Scheduler.CancelCmd = def.Scheduler.CancelCmd
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if c.Retry.InitialDelayMS == 0 {
		c.Retry.InitialDelayMS = def.Retry.InitialDelayMS
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = def.Retry.Multiplier
	}
	if c.Retry.MaxDelayMS == 0 {
		c.Retry.MaxDelayMS = def.Retry.MaxDelayMS
	}
	if c.Retry.MaxElapsedSec == 0 {
		c.Retry.MaxElapsedSec = def.Retry.MaxElapsedSec
	}
}

// CommandTimeout returns the per-operation timeout as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSec) * time.Second
}

// Load reads the config file at path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config file, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
