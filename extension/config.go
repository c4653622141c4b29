package extension

import "time"

// Config holds the credits extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.credits" or "credits" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// SettingsFile is a TOML file holding the tariff and engine settings.
	// When set and no settings provider was supplied programmatically, the
	// extension loads it at Register time.
	SettingsFile string `json:"settings_file" mapstructure:"settings_file" yaml:"settings_file"`

	// SettingsCacheTTL controls how long resolved tenant settings are
	// cached in-process before re-resolving (default: 30s; 0 disables
	// caching).
	SettingsCacheTTL time.Duration `json:"settings_cache_ttl" mapstructure:"settings_cache_ttl" yaml:"settings_cache_ttl"`

	// SweepInterval is how frequently the background sweeper releases
	// expired reservations and replays stalled purchases (default: 30s).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// SweepBatchSize bounds how many records one sweep pass processes
	// (default: 100).
	SweepBatchSize int `json:"sweep_batch_size" mapstructure:"sweep_batch_size" yaml:"sweep_batch_size"`

	// MaxCommitRetries bounds internal retries of conflicted ledger
	// commits before surfacing a version conflict (default: 5).
	MaxCommitRetries int `json:"max_commit_retries" mapstructure:"max_commit_retries" yaml:"max_commit_retries"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SettingsCacheTTL: 30 * time.Second,
		SweepInterval:    30 * time.Second,
		SweepBatchSize:   100,
		MaxCommitRetries: 5,
	}
}
