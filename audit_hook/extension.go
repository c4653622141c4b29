// Package audithook bridges credit ledger lifecycle events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/radiant/credits/plugin"
	"github.com/radiant/credits/purchase"
	"github.com/radiant/credits/reservation"
	"github.com/radiant/credits/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnReserved              = (*Extension)(nil)
	_ plugin.OnInsufficientFunds     = (*Extension)(nil)
	_ plugin.OnSettled               = (*Extension)(nil)
	_ plugin.OnShortfallAdjusted     = (*Extension)(nil)
	_ plugin.OnReleased              = (*Extension)(nil)
	_ plugin.OnReservationExpired    = (*Extension)(nil)
	_ plugin.OnPurchaseCompleted     = (*Extension)(nil)
	_ plugin.OnPurchaseFailed        = (*Extension)(nil)
	_ plugin.OnAutoPurchaseTriggered = (*Extension)(nil)
	_ plugin.OnGrantApplied          = (*Extension)(nil)
	_ plugin.OnRefunded              = (*Extension)(nil)
	_ plugin.OnTransferred           = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges credit ledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Reservation lifecycle hooks
// ──────────────────────────────────────────────────

// OnReserved implements plugin.OnReserved.
func (e *Extension) OnReserved(ctx context.Context, res interface{}) error {
	r, ok := res.(*reservation.Reservation)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionReserved, SeverityInfo, OutcomeSuccess,
		ResourceReservation, r.RequestID, CategoryConsumption, nil,
		"pool_id", r.PoolID.String(),
		"member_id", r.MemberID.String(),
		"estimated_cost", r.EstimatedCost.String(),
	)
}

// OnInsufficientFunds implements plugin.OnInsufficientFunds.
func (e *Extension) OnInsufficientFunds(ctx context.Context, poolID string, requested, available types.Credits) error {
	return e.record(ctx, ActionReservationDenied, SeverityWarning, OutcomeFailure,
		ResourcePool, poolID, CategoryConsumption, nil,
		"requested", requested.String(),
		"available", available.String(),
	)
}

// OnSettled implements plugin.OnSettled.
func (e *Extension) OnSettled(ctx context.Context, res, _ interface{}) error {
	r, ok := res.(*reservation.Reservation)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionSettled, SeverityInfo, OutcomeSuccess,
		ResourceReservation, r.RequestID, CategoryConsumption, nil,
		"pool_id", r.PoolID.String(),
		"member_id", r.MemberID.String(),
		"estimated_cost", r.EstimatedCost.String(),
		"settled_cost", r.SettledCost.String(),
	)
}

// OnShortfallAdjusted implements plugin.OnShortfallAdjusted.
func (e *Extension) OnShortfallAdjusted(ctx context.Context, poolID, requestID string, shortfall types.Credits) error {
	return e.record(ctx, ActionShortfallAdjusted, SeverityWarning, OutcomePartial,
		ResourceReservation, requestID, CategoryConsumption, nil,
		"pool_id", poolID,
		"shortfall", shortfall.String(),
	)
}

// OnReleased implements plugin.OnReleased.
func (e *Extension) OnReleased(ctx context.Context, res interface{}) error {
	r, ok := res.(*reservation.Reservation)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionReleased, SeverityInfo, OutcomeSuccess,
		ResourceReservation, r.RequestID, CategoryConsumption, nil,
		"pool_id", r.PoolID.String(),
		"returned", r.EstimatedCost.String(),
	)
}

// OnReservationExpired implements plugin.OnReservationExpired.
func (e *Extension) OnReservationExpired(ctx context.Context, res interface{}) error {
	r, ok := res.(*reservation.Reservation)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionReservationExpired, SeverityWarning, OutcomeSuccess,
		ResourceReservation, r.RequestID, CategoryConsumption, nil,
		"pool_id", r.PoolID.String(),
		"returned", r.EstimatedCost.String(),
	)
}

// ──────────────────────────────────────────────────
// Purchase lifecycle hooks
// ──────────────────────────────────────────────────

// OnPurchaseCompleted implements plugin.OnPurchaseCompleted.
func (e *Extension) OnPurchaseCompleted(ctx context.Context, pur interface{}) error {
	p, ok := pur.(*purchase.CreditPurchase)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionPurchaseCompleted, SeverityInfo, OutcomeSuccess,
		ResourcePurchase, p.ID.String(), CategoryPayment, nil,
		"pool_id", p.PoolID.String(),
		"credits", p.TotalCredits.String(),
		"price", p.FinalPrice.String(),
		"auto_triggered", p.AutoTriggered,
	)
}

// OnPurchaseFailed implements plugin.OnPurchaseFailed.
func (e *Extension) OnPurchaseFailed(ctx context.Context, pur interface{}, reason string) error {
	var resourceID, poolID string
	if p, ok := pur.(*purchase.CreditPurchase); ok {
		resourceID = p.ID.String()
		poolID = p.PoolID.String()
	}
	return e.record(ctx, ActionPurchaseFailed, SeverityError, OutcomeFailure,
		ResourcePurchase, resourceID, CategoryPayment, nil,
		"pool_id", poolID,
		"failure_reason", reason,
	)
}

// OnAutoPurchaseTriggered implements plugin.OnAutoPurchaseTriggered.
func (e *Extension) OnAutoPurchaseTriggered(ctx context.Context, poolID string, balance, threshold types.Credits) error {
	return e.record(ctx, ActionAutoPurchaseTriggered, SeverityInfo, OutcomeSuccess,
		ResourcePool, poolID, CategoryPayment, nil,
		"balance", balance.String(),
		"threshold", threshold.String(),
	)
}

// OnRefunded implements plugin.OnRefunded.
func (e *Extension) OnRefunded(ctx context.Context, pur interface{}, amount types.Credits) error {
	var resourceID, poolID string
	if p, ok := pur.(*purchase.CreditPurchase); ok {
		resourceID = p.ID.String()
		poolID = p.PoolID.String()
	}
	return e.record(ctx, ActionRefunded, SeverityWarning, OutcomeSuccess,
		ResourcePurchase, resourceID, CategoryPayment, nil,
		"pool_id", poolID,
		"amount", amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Balance lifecycle hooks
// ──────────────────────────────────────────────────

// OnGrantApplied implements plugin.OnGrantApplied.
func (e *Extension) OnGrantApplied(ctx context.Context, poolID string, granted, expired types.Credits) error {
	return e.record(ctx, ActionGrantApplied, SeverityInfo, OutcomeSuccess,
		ResourcePool, poolID, CategoryBalance, nil,
		"granted", granted.String(),
		"expired", expired.String(),
	)
}

// OnTransferred implements plugin.OnTransferred.
func (e *Extension) OnTransferred(ctx context.Context, fromPoolID, toPoolID string, amount types.Credits) error {
	return e.record(ctx, ActionTransferred, SeverityInfo, OutcomeSuccess,
		ResourcePool, fromPoolID, CategoryBalance, nil,
		"to_pool_id", toPoolID,
		"amount", amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
