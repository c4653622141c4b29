// Package observability provides a metrics extension for the credit engine
// that records lifecycle event counts via a pluggable MetricFactory.
package observability

import (
	"context"

	"github.com/radiant/credits/plugin"
	"github.com/radiant/credits/purchase"
	"github.com/radiant/credits/reservation"
	"github.com/radiant/credits/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnReserved              = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientFunds     = (*MetricsExtension)(nil)
	_ plugin.OnSettled               = (*MetricsExtension)(nil)
	_ plugin.OnShortfallAdjusted     = (*MetricsExtension)(nil)
	_ plugin.OnReleased              = (*MetricsExtension)(nil)
	_ plugin.OnReservationExpired    = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseCompleted     = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseFailed        = (*MetricsExtension)(nil)
	_ plugin.OnAutoPurchaseTriggered = (*MetricsExtension)(nil)
	_ plugin.OnGrantApplied          = (*MetricsExtension)(nil)
	_ plugin.OnRefunded              = (*MetricsExtension)(nil)
	_ plugin.OnTransferred           = (*MetricsExtension)(nil)
	_ plugin.OnCommitConflict        = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an engine plugin to automatically track credit metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Reservation metrics
	Reserved           Counter
	InsufficientFunds  Counter
	Settled            Counter
	SettledAmount      Histogram
	ShortfallAdjusted  Counter
	Released           Counter
	ReservationExpired Counter

	// Purchase metrics
	PurchaseCompleted    Counter
	PurchaseFailed       Counter
	PurchasedCredits     Histogram
	AutoPurchaseTriggers Counter

	// Grant / refund / transfer metrics
	GrantsApplied Counter
	GrantedAmount Histogram
	Refunds       Counter
	Transfers     Counter

	// Storage metrics
	CommitConflicts Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Reservation metrics
		Reserved:           factory.Counter("credits.reservation.reserved"),
		InsufficientFunds:  factory.Counter("credits.reservation.insufficient_funds"),
		Settled:            factory.Counter("credits.reservation.settled"),
		SettledAmount:      factory.Histogram("credits.reservation.settled_amount"),
		ShortfallAdjusted:  factory.Counter("credits.reservation.shortfall_adjusted"),
		Released:           factory.Counter("credits.reservation.released"),
		ReservationExpired: factory.Counter("credits.reservation.expired"),

		// Purchase metrics
		PurchaseCompleted:    factory.Counter("credits.purchase.completed"),
		PurchaseFailed:       factory.Counter("credits.purchase.failed"),
		PurchasedCredits:     factory.Histogram("credits.purchase.credits"),
		AutoPurchaseTriggers: factory.Counter("credits.purchase.auto_triggered"),

		// Grant / refund / transfer metrics
		GrantsApplied: factory.Counter("credits.grant.applied"),
		GrantedAmount: factory.Histogram("credits.grant.amount"),
		Refunds:       factory.Counter("credits.refund.applied"),
		Transfers:     factory.Counter("credits.transfer.completed"),

		// Storage metrics
		CommitConflicts: factory.Counter("credits.store.commit_conflicts"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Reservation protocol hooks
// ──────────────────────────────────────────────────

// OnReserved implements plugin.OnReserved.
func (m *MetricsExtension) OnReserved(_ context.Context, _ interface{}) error {
	m.Reserved.Inc()
	return nil
}

// OnInsufficientFunds implements plugin.OnInsufficientFunds.
func (m *MetricsExtension) OnInsufficientFunds(_ context.Context, _ string, _, _ types.Credits) error {
	m.InsufficientFunds.Inc()
	return nil
}

// OnSettled implements plugin.OnSettled.
func (m *MetricsExtension) OnSettled(_ context.Context, res, _ interface{}) error {
	m.Settled.Inc()
	if r, ok := res.(*reservation.Reservation); ok {
		m.SettledAmount.Observe(r.SettledCost.Float64())
	}
	return nil
}

// OnShortfallAdjusted implements plugin.OnShortfallAdjusted.
func (m *MetricsExtension) OnShortfallAdjusted(_ context.Context, _, _ string, _ types.Credits) error {
	m.ShortfallAdjusted.Inc()
	return nil
}

// OnReleased implements plugin.OnReleased.
func (m *MetricsExtension) OnReleased(_ context.Context, _ interface{}) error {
	m.Released.Inc()
	return nil
}

// OnReservationExpired implements plugin.OnReservationExpired.
func (m *MetricsExtension) OnReservationExpired(_ context.Context, _ interface{}) error {
	m.ReservationExpired.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchaseCompleted implements plugin.OnPurchaseCompleted.
func (m *MetricsExtension) OnPurchaseCompleted(_ context.Context, pur interface{}) error {
	m.PurchaseCompleted.Inc()
	if p, ok := pur.(*purchase.CreditPurchase); ok {
		m.PurchasedCredits.Observe(p.TotalCredits.Float64())
	}
	return nil
}

// OnPurchaseFailed implements plugin.OnPurchaseFailed.
func (m *MetricsExtension) OnPurchaseFailed(_ context.Context, _ interface{}, _ string) error {
	m.PurchaseFailed.Inc()
	return nil
}

// OnAutoPurchaseTriggered implements plugin.OnAutoPurchaseTriggered.
func (m *MetricsExtension) OnAutoPurchaseTriggered(_ context.Context, _ string, _, _ types.Credits) error {
	m.AutoPurchaseTriggers.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Grant / refund / transfer hooks
// ──────────────────────────────────────────────────

// OnGrantApplied implements plugin.OnGrantApplied.
func (m *MetricsExtension) OnGrantApplied(_ context.Context, _ string, granted, _ types.Credits) error {
	m.GrantsApplied.Inc()
	m.GrantedAmount.Observe(granted.Float64())
	return nil
}

// OnRefunded implements plugin.OnRefunded.
func (m *MetricsExtension) OnRefunded(_ context.Context, _ interface{}, _ types.Credits) error {
	m.Refunds.Inc()
	return nil
}

// OnTransferred implements plugin.OnTransferred.
func (m *MetricsExtension) OnTransferred(_ context.Context, _, _ string, _ types.Credits) error {
	m.Transfers.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Storage hooks
// ──────────────────────────────────────────────────

// OnCommitConflict implements plugin.OnCommitConflict.
func (m *MetricsExtension) OnCommitConflict(_ context.Context, _ string, _ int) error {
	m.CommitConflicts.Inc()
	return nil
}
