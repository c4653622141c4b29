package extension

import (
	"time"

	credits "github.com/radiant/credits"
	"github.com/radiant/credits/config"
	"github.com/radiant/credits/payment"
	"github.com/radiant/credits/plugin"
	"github.com/radiant/credits/store"
)

// Option configures the credits Forge extension.
type Option func(*Extension)

// WithStore sets the store for the credit engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithSettingsProvider sets the tenant settings provider for the engine.
// When set, the settings_file config key is ignored.
func WithSettingsProvider(p config.Provider) Option {
	return func(e *Extension) {
		e.settings = p
	}
}

// WithEngineOption passes a credits.Option through to the underlying engine.
func WithEngineOption(opt credits.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, credits.WithPlugin(p))
	}
}

// WithPaymentGateway sets the payment gateway used by purchases.
func WithPaymentGateway(g payment.Gateway) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, credits.WithPaymentGateway(g))
	}
}

// WithSubscriptionCatalog sets the included-credit catalog used by grants.
func WithSubscriptionCatalog(c credits.SubscriptionCatalog) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, credits.WithSubscriptionCatalog(c))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithSettingsFile sets the TOML file holding tariff and engine settings.
func WithSettingsFile(path string) Option {
	return func(e *Extension) { e.config.SettingsFile = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithSettingsCacheTTL sets how long resolved tenant settings are cached.
func WithSettingsCacheTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.SettingsCacheTTL = d }
}

// WithSweepInterval sets how frequently the background sweeper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SweepInterval = d }
}

// WithSweepBatchSize bounds how many records one sweep pass processes.
func WithSweepBatchSize(n int) Option {
	return func(e *Extension) { e.config.SweepBatchSize = n }
}

// WithMaxCommitRetries bounds internal retries of conflicted commits.
func WithMaxCommitRetries(n int) Option {
	return func(e *Extension) { e.config.MaxCommitRetries = n }
}
