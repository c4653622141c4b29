// Package plugin provides an extensible plugin system for the credit engine.
// Plugins can hook into ledger lifecycle events to extend functionality.
//
// Entity payloads are passed as interface{} to avoid import cycles; hooks
// that only need amounts receive them as typed credit values.
package plugin

import (
	"context"

	"github.com/radiant/credits/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Reservation protocol hooks
// ──────────────────────────────────────────────────

// OnReserved is called after funds are successfully reserved.
type OnReserved interface {
	Plugin
	OnReserved(ctx context.Context, res interface{}) error
}

// OnInsufficientFunds is called when a reserve or settle is refused for
// lack of available balance.
type OnInsufficientFunds interface {
	Plugin
	OnInsufficientFunds(ctx context.Context, poolID string, requested, available types.Credits) error
}

// OnSettled is called after a reservation settles into a consumption
// transaction.
type OnSettled interface {
	Plugin
	OnSettled(ctx context.Context, res, transaction interface{}) error
}

// OnShortfallAdjusted is called when a settlement shortfall could not be
// collected and was logged as an adjustment for reconciliation.
type OnShortfallAdjusted interface {
	Plugin
	OnShortfallAdjusted(ctx context.Context, poolID, requestID string, shortfall types.Credits) error
}

// OnReleased is called after a reservation is released without settlement.
type OnReleased interface {
	Plugin
	OnReleased(ctx context.Context, res interface{}) error
}

// OnReservationExpired is called when the timeout sweeper force-releases
// a stale reservation.
type OnReservationExpired interface {
	Plugin
	OnReservationExpired(ctx context.Context, res interface{}) error
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchaseCompleted is called after a purchase's credits are on the ledger.
type OnPurchaseCompleted interface {
	Plugin
	OnPurchaseCompleted(ctx context.Context, pur interface{}) error
}

// OnPurchaseFailed is called when a purchase aborts.
type OnPurchaseFailed interface {
	Plugin
	OnPurchaseFailed(ctx context.Context, pur interface{}, reason string) error
}

// OnAutoPurchaseTriggered is called when a below-threshold balance arms
// an automatic top-up attempt.
type OnAutoPurchaseTriggered interface {
	Plugin
	OnAutoPurchaseTriggered(ctx context.Context, poolID string, balance, threshold types.Credits) error
}

// ──────────────────────────────────────────────────
// Grant / refund / transfer hooks
// ──────────────────────────────────────────────────

// OnGrantApplied is called after a subscription grant rollover.
type OnGrantApplied interface {
	Plugin
	OnGrantApplied(ctx context.Context, poolID string, granted, expired types.Credits) error
}

// OnRefunded is called after a purchase refund lands on the ledger.
type OnRefunded interface {
	Plugin
	OnRefunded(ctx context.Context, pur interface{}, amount types.Credits) error
}

// OnTransferred is called after a pool-to-pool transfer completes.
type OnTransferred interface {
	Plugin
	OnTransferred(ctx context.Context, fromPoolID, toPoolID string, amount types.Credits) error
}

// ──────────────────────────────────────────────────
// Storage hooks
// ──────────────────────────────────────────────────

// OnCommitConflict is called when an optimistic ledger commit had to retry
// after a concurrent writer moved the pool version.
type OnCommitConflict interface {
	Plugin
	OnCommitConflict(ctx context.Context, poolID string, attempts int) error
}
