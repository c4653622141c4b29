// Package extension provides the Forge extension adapter for the credit
// engine.
//
// It implements the forge.Extension interface to integrate the engine
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.credits" or "credits" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	credits "github.com/radiant/credits"
	"github.com/radiant/credits/config"
	"github.com/radiant/credits/store"
	"github.com/radiant/credits/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "credits"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Prepaid credit ledger and consumption engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the credit engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *credits.Engine
	store      store.Store
	settings   config.Provider
	engineOpts []credits.Option
}

// New creates a new credits Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying credit engine.
// This is nil until Register is called.
func (e *Extension) Engine() *credits.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the credit engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	provider, err := e.resolveSettings()
	if err != nil {
		return err
	}

	opts := e.buildEngineOpts()

	e.engine = credits.New(e.store, provider, opts...)

	return vessel.Provide(fapp.Container(), func() (*credits.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("credits: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("credits: store not initialized")
	}
	return e.store.Ping(ctx)
}

// resolveSettings produces the settings provider the engine will consume:
// the programmatic provider if one was given, otherwise the configured
// settings file, optionally wrapped in a resolution cache.
func (e *Extension) resolveSettings() (config.Provider, error) {
	provider := e.settings
	if provider == nil {
		if e.config.SettingsFile == "" {
			return nil, errors.New("credits: no settings provider; " +
				"set settings_file in config or pass WithSettingsProvider")
		}
		loaded, err := config.LoadFile(e.config.SettingsFile)
		if err != nil {
			return nil, err
		}
		provider = loaded
	}

	if e.config.SettingsCacheTTL > 0 {
		provider = config.NewCached(provider, e.config.SettingsCacheTTL)
	}
	return provider, nil
}

// buildEngineOpts constructs credits.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []credits.Option {
	opts := make([]credits.Option, 0, len(e.engineOpts)+2)

	if e.config.SweepInterval > 0 || e.config.SweepBatchSize > 0 {
		interval := e.config.SweepInterval
		batch := e.config.SweepBatchSize
		defaults := DefaultConfig()
		if interval == 0 {
			interval = defaults.SweepInterval
		}
		if batch == 0 {
			batch = defaults.SweepBatchSize
		}
		opts = append(opts, credits.WithSweepConfig(interval, batch))
	}

	if e.config.MaxCommitRetries > 0 {
		opts = append(opts, credits.WithMaxCommitRetries(e.config.MaxCommitRetries))
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("credits: configuration is required but not found in config files; " +
				"ensure 'extensions.credits' or 'credits' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("credits: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("settings_file", e.config.SettingsFile),
		forge.F("settings_cache_ttl", e.config.SettingsCacheTTL),
		forge.F("sweep_interval", e.config.SweepInterval),
		forge.F("sweep_batch_size", e.config.SweepBatchSize),
		forge.F("max_commit_retries", e.config.MaxCommitRetries),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.credits" first (namespaced pattern).
	if cm.IsSet("extensions.credits") {
		if err := cm.Bind("extensions.credits", &cfg); err == nil {
			e.Logger().Debug("credits: loaded config from file",
				forge.F("key", "extensions.credits"),
			)
			return cfg, true
		}
		e.Logger().Warn("credits: failed to bind extensions.credits config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "credits" key.
	if cm.IsSet("credits") {
		if err := cm.Bind("credits", &cfg); err == nil {
			e.Logger().Debug("credits: loaded config from file",
				forge.F("key", "credits"),
			)
			return cfg, true
		}
		e.Logger().Warn("credits: failed to bind credits config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.SettingsCacheTTL == 0 {
		cfg.SettingsCacheTTL = defaults.SettingsCacheTTL
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}
	if cfg.MaxCommitRetries == 0 {
		cfg.MaxCommitRetries = defaults.MaxCommitRetries
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.SettingsFile == "" && programmaticConfig.SettingsFile != "" {
		yamlConfig.SettingsFile = programmaticConfig.SettingsFile
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.SettingsCacheTTL == 0 && programmaticConfig.SettingsCacheTTL != 0 {
		yamlConfig.SettingsCacheTTL = programmaticConfig.SettingsCacheTTL
	}
	if yamlConfig.SweepInterval == 0 && programmaticConfig.SweepInterval != 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}
	if yamlConfig.SweepBatchSize == 0 && programmaticConfig.SweepBatchSize != 0 {
		yamlConfig.SweepBatchSize = programmaticConfig.SweepBatchSize
	}
	if yamlConfig.MaxCommitRetries == 0 && programmaticConfig.MaxCommitRetries != 0 {
		yamlConfig.MaxCommitRetries = programmaticConfig.MaxCommitRetries
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
