package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/radiant/credits/types"
)

// Registry manages all registered plugins and provides efficient dispatch.
// Interface lists are cached at registration so emission is O(listeners).
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                  []OnInit
	onShutdown              []OnShutdown
	onReserved              []OnReserved
	onInsufficientFunds     []OnInsufficientFunds
	onSettled               []OnSettled
	onShortfallAdjusted     []OnShortfallAdjusted
	onReleased              []OnReleased
	onReservationExpired    []OnReservationExpired
	onPurchaseCompleted     []OnPurchaseCompleted
	onPurchaseFailed        []OnPurchaseFailed
	onAutoPurchaseTriggered []OnAutoPurchaseTriggered
	onGrantApplied          []OnGrantApplied
	onRefunded              []OnRefunded
	onTransferred           []OnTransferred
	onCommitConflict        []OnCommitConflict
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnReserved); ok {
		r.onReserved = append(r.onReserved, v)
	}
	if v, ok := p.(OnInsufficientFunds); ok {
		r.onInsufficientFunds = append(r.onInsufficientFunds, v)
	}
	if v, ok := p.(OnSettled); ok {
		r.onSettled = append(r.onSettled, v)
	}
	if v, ok := p.(OnShortfallAdjusted); ok {
		r.onShortfallAdjusted = append(r.onShortfallAdjusted, v)
	}
	if v, ok := p.(OnReleased); ok {
		r.onReleased = append(r.onReleased, v)
	}
	if v, ok := p.(OnReservationExpired); ok {
		r.onReservationExpired = append(r.onReservationExpired, v)
	}
	if v, ok := p.(OnPurchaseCompleted); ok {
		r.onPurchaseCompleted = append(r.onPurchaseCompleted, v)
	}
	if v, ok := p.(OnPurchaseFailed); ok {
		r.onPurchaseFailed = append(r.onPurchaseFailed, v)
	}
	if v, ok := p.(OnAutoPurchaseTriggered); ok {
		r.onAutoPurchaseTriggered = append(r.onAutoPurchaseTriggered, v)
	}
	if v, ok := p.(OnGrantApplied); ok {
		r.onGrantApplied = append(r.onGrantApplied, v)
	}
	if v, ok := p.(OnRefunded); ok {
		r.onRefunded = append(r.onRefunded, v)
	}
	if v, ok := p.(OnTransferred); ok {
		r.onTransferred = append(r.onTransferred, v)
	}
	if v, ok := p.(OnCommitConflict); ok {
		r.onCommitConflict = append(r.onCommitConflict, v)
	}

	return nil
}

// Get returns a plugin by name, or nil if not registered.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnInit", func() error {
			return p.OnInit(ctx, engine)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnShutdown", func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitReserved emits a reservation created event.
func (r *Registry) EmitReserved(ctx context.Context, res interface{}) {
	r.mu.RLock()
	plugins := r.onReserved
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnReserved", func() error {
			return p.OnReserved(ctx, res)
		})
	}
}

// EmitInsufficientFunds emits an insufficient funds event.
func (r *Registry) EmitInsufficientFunds(ctx context.Context, poolID string, requested, available types.Credits) {
	r.mu.RLock()
	plugins := r.onInsufficientFunds
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnInsufficientFunds", func() error {
			return p.OnInsufficientFunds(ctx, poolID, requested, available)
		})
	}
}

// EmitSettled emits a settlement event.
func (r *Registry) EmitSettled(ctx context.Context, res, transaction interface{}) {
	r.mu.RLock()
	plugins := r.onSettled
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnSettled", func() error {
			return p.OnSettled(ctx, res, transaction)
		})
	}
}

// EmitShortfallAdjusted emits a shortfall adjustment event.
func (r *Registry) EmitShortfallAdjusted(ctx context.Context, poolID, requestID string, shortfall types.Credits) {
	r.mu.RLock()
	plugins := r.onShortfallAdjusted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnShortfallAdjusted", func() error {
			return p.OnShortfallAdjusted(ctx, poolID, requestID, shortfall)
		})
	}
}

// EmitReleased emits a reservation released event.
func (r *Registry) EmitReleased(ctx context.Context, res interface{}) {
	r.mu.RLock()
	plugins := r.onReleased
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnReleased", func() error {
			return p.OnReleased(ctx, res)
		})
	}
}

// EmitReservationExpired emits a reservation expired event.
func (r *Registry) EmitReservationExpired(ctx context.Context, res interface{}) {
	r.mu.RLock()
	plugins := r.onReservationExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnReservationExpired", func() error {
			return p.OnReservationExpired(ctx, res)
		})
	}
}

// EmitPurchaseCompleted emits a purchase completed event.
func (r *Registry) EmitPurchaseCompleted(ctx context.Context, pur interface{}) {
	r.mu.RLock()
	plugins := r.onPurchaseCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnPurchaseCompleted", func() error {
			return p.OnPurchaseCompleted(ctx, pur)
		})
	}
}

// EmitPurchaseFailed emits a purchase failed event.
func (r *Registry) EmitPurchaseFailed(ctx context.Context, pur interface{}, reason string) {
	r.mu.RLock()
	plugins := r.onPurchaseFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnPurchaseFailed", func() error {
			return p.OnPurchaseFailed(ctx, pur, reason)
		})
	}
}

// EmitAutoPurchaseTriggered emits an auto-purchase trigger event.
func (r *Registry) EmitAutoPurchaseTriggered(ctx context.Context, poolID string, balance, threshold types.Credits) {
	r.mu.RLock()
	plugins := r.onAutoPurchaseTriggered
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnAutoPurchaseTriggered", func() error {
			return p.OnAutoPurchaseTriggered(ctx, poolID, balance, threshold)
		})
	}
}

// EmitGrantApplied emits a subscription grant event.
func (r *Registry) EmitGrantApplied(ctx context.Context, poolID string, granted, expired types.Credits) {
	r.mu.RLock()
	plugins := r.onGrantApplied
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnGrantApplied", func() error {
			return p.OnGrantApplied(ctx, poolID, granted, expired)
		})
	}
}

// EmitRefunded emits a refund event.
func (r *Registry) EmitRefunded(ctx context.Context, pur interface{}, amount types.Credits) {
	r.mu.RLock()
	plugins := r.onRefunded
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnRefunded", func() error {
			return p.OnRefunded(ctx, pur, amount)
		})
	}
}

// EmitTransferred emits a pool-to-pool transfer event.
func (r *Registry) EmitTransferred(ctx context.Context, fromPoolID, toPoolID string, amount types.Credits) {
	r.mu.RLock()
	plugins := r.onTransferred
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnTransferred", func() error {
			return p.OnTransferred(ctx, fromPoolID, toPoolID, amount)
		})
	}
}

// EmitCommitConflict emits an optimistic commit retry event.
func (r *Registry) EmitCommitConflict(ctx context.Context, poolID string, attempts int) {
	r.mu.RLock()
	plugins := r.onCommitConflict
	r.mu.RUnlock()

	for _, p := range plugins {
		r.emit(ctx, p.Name(), "OnCommitConflict", func() error {
			return p.OnCommitConflict(ctx, poolID, attempts)
		})
	}
}

// emit calls a plugin hook with a timeout and logs failures.
// Plugins must never block the ledger pipeline.
func (r *Registry) emit(ctx context.Context, pluginName, hook string, fn func() error) {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		err = fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		r.logger.Warn("plugin hook failed",
			"plugin", pluginName,
			"hook", hook,
			"error", err,
		)
	}
}
