package credits

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/radiant/credits/config"
	"github.com/radiant/credits/id"
	"github.com/radiant/credits/payment"
	"github.com/radiant/credits/plugin"
	"github.com/radiant/credits/pool"
	"github.com/radiant/credits/store"
	"github.com/radiant/credits/types"
)

// SubscriptionCatalog supplies the included-credit grant for a pool at
// period rollover. The engine does not decide tier eligibility; it only
// credits what the catalog reports.
type SubscriptionCatalog interface {
	IncludedCredits(ctx context.Context, poolID id.PoolID) (types.Credits, error)
}

// Engine is the credit ledger and consumption engine. All balance
// mutations flow through it as atomic store commits under a per-pool
// optimistic concurrency discipline.
type Engine struct {
	store   store.Store
	cfg     config.Provider
	gateway payment.Gateway
	catalog SubscriptionCatalog
	plugins *plugin.Registry
	logger  *slog.Logger

	// Background sweeper
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Configuration
	sweepInterval    time.Duration
	sweepBatchSize   int
	maxCommitRetries int

	// now is overridable for tests.
	now func() time.Time
}

// New creates a new Engine instance.
func New(s store.Store, cfg config.Provider, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		cfg:              cfg,
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		stopChan:         make(chan struct{}),
		sweepInterval:    30 * time.Second,
		sweepBatchSize:   100,
		maxCommitRetries: 5,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPaymentGateway sets the payment gateway used by the purchase
// processor. Without one, purchases fail with ErrPaymentFailed.
func WithPaymentGateway(g payment.Gateway) Option {
	return func(e *Engine) {
		e.gateway = g
	}
}

// WithSubscriptionCatalog sets the included-credit catalog consumed by
// ApplyGrant.
func WithSubscriptionCatalog(c SubscriptionCatalog) Option {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithSweepConfig configures the background sweeper that force-releases
// timed-out reservations and replays stalled purchase credits.
func WithSweepConfig(interval time.Duration, batchSize int) Option {
	return func(e *Engine) {
		e.sweepInterval = interval
		e.sweepBatchSize = batchSize
	}
}

// WithMaxCommitRetries bounds internal retries of conflicted ledger
// commits before ErrCommitRetries surfaces.
func WithMaxCommitRetries(n int) Option {
	return func(e *Engine) {
		e.maxCommitRetries = n
	}
}

// Start migrates the store and begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.wg.Add(1)
	go e.sweepWorker(ctx)

	e.logger.Info("credit engine started",
		"sweep_interval", e.sweepInterval,
		"sweep_batch", e.sweepBatchSize,
		"max_commit_retries", e.maxCommitRetries,
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	close(e.stopChan)
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Plugins returns the plugin registry for inspection.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// sweepWorker periodically force-releases expired reservations and
// replays purchases whose payment was captured but whose ledger credit
// never landed.
func (e *Engine) sweepWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.sweepReservations(ctx)
			e.sweepStalledPurchases(ctx)
		}
	}
}

// settings resolves the effective configuration for a pool's tenant.
func (e *Engine) settings(ctx context.Context, tenantID string) (*config.Settings, error) {
	s, err := e.cfg.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// commitFn builds an Entry from a freshly loaded pool. It must increment
// the pool's version itself via nextEntry. Returning a nil Entry skips
// the commit (nothing to do).
type commitFn func(p *pool.CreditPool) (*store.Entry, error)

// commitWithRetry runs the read-modify-write cycle for one pool, retrying
// bounded times on optimistic version conflicts. Every other error aborts
// immediately.
func (e *Engine) commitWithRetry(ctx context.Context, poolID id.PoolID, fn commitFn) (*store.Entry, error) {
	for attempt := 1; ; attempt++ {
		p, err := e.store.GetPool(ctx, poolID)
		if err != nil {
			return nil, err
		}

		entry, err := fn(p)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, nil
		}

		if entry.Pool != nil && !entry.Pool.CheckInvariant() {
			// A broken invariant is a programming error; refuse the write.
			return nil, ErrInvariantBroken
		}

		err = e.store.Commit(ctx, entry)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}

		e.plugins.EmitCommitConflict(ctx, poolID.String(), attempt)
		if attempt >= e.maxCommitRetries {
			e.logger.Error("ledger commit retries exhausted",
				"pool_id", poolID.String(),
				"attempts", attempt,
			)
			return nil, ErrCommitRetries
		}
	}
}

// nextEntry stamps a pool clone for commit: bumps the version and touches
// the entity timestamp.
func nextEntry(p *pool.CreditPool) *pool.CreditPool {
	p.Version++
	p.Touch()
	return p
}
