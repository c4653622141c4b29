// Package pool defines credit pools and pool memberships.
package pool

import (
	"time"

	"github.com/radiant/credits/id"
	"github.com/radiant/credits/types"
)

// Status is the lifecycle status of a credit pool.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Kind describes who collectively owns a pool.
type Kind string

const (
	KindIndividual   Kind = "individual"
	KindFamily       Kind = "family"
	KindTeam         Kind = "team"
	KindOrganization Kind = "organization"
	KindEnterprise   Kind = "enterprise"
)

// CreditPool is a shared balance owned collectively by one or more members.
//
// Invariant: Available + Reserved == IncludedRemaining + BonusRemaining +
// PurchasedRemaining, and all five quantities are non-negative. Only the
// engine mutates balances, always through a single atomic store commit.
type CreditPool struct {
	types.Entity
	ID       id.PoolID `json:"id"`
	TenantID string    `json:"tenant_id"`
	OwnerID  string    `json:"owner_id"`
	Kind     Kind      `json:"kind"`
	Status   Status    `json:"status"`

	Available types.Credits `json:"available"`
	Reserved  types.Credits `json:"reserved"`

	// Source sub-balances, drawn down in order included → bonus → purchased.
	IncludedRemaining  types.Credits `json:"included_remaining"`
	BonusRemaining     types.Credits `json:"bonus_remaining"`
	PurchasedRemaining types.Credits `json:"purchased_remaining"`

	AutoPurchase AutoPurchase `json:"auto_purchase"`

	// Version is the optimistic concurrency token. Every committed balance
	// mutation increments it by exactly one, so it doubles as the per-pool
	// ledger sequence number.
	Version int64 `json:"version"`

	ClosedAt *time.Time `json:"closed_at,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// AutoPurchase holds the per-pool auto-top-up configuration and trigger state.
type AutoPurchase struct {
	Enabled     bool          `json:"enabled"`
	Threshold   types.Credits `json:"threshold"`
	TopUpAmount types.Credits `json:"top_up_amount"`

	// PaymentMethodRef is the stored payment instrument charged by
	// auto-purchases. Auto-purchase cannot trigger without one.
	PaymentMethodRef string `json:"payment_method_ref,omitempty"`

	// MonthlySpendCap bounds auto-purchase payments per calendar month.
	// Zero means no cap.
	MonthlySpendCap types.Money `json:"monthly_spend_cap"`
	MonthSpent      types.Money `json:"month_spent"`
	MonthStart      time.Time   `json:"month_start"`

	// Triggered latches after one below-threshold attempt so repeated
	// debits under the threshold do not re-trigger. Cleared when the
	// balance rises back above the threshold or a purchase succeeds.
	Triggered bool `json:"triggered"`
}

// Total returns the sum of the three source sub-balances.
func (p *CreditPool) Total() types.Credits {
	return p.IncludedRemaining + p.BonusRemaining + p.PurchasedRemaining
}

// CheckInvariant reports whether the balance bookkeeping is consistent:
// available + reserved equals the source total and nothing is negative.
func (p *CreditPool) CheckInvariant() bool {
	if p.Available.IsNegative() || p.Reserved.IsNegative() {
		return false
	}
	if p.IncludedRemaining.IsNegative() || p.BonusRemaining.IsNegative() || p.PurchasedRemaining.IsNegative() {
		return false
	}
	return p.Available+p.Reserved == p.Total()
}

// Clone returns a deep copy safe to mutate during a read-modify-write cycle.
func (p *CreditPool) Clone() *CreditPool {
	cp := *p
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		cp.ClosedAt = &t
	}
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// BalanceView is a read-only snapshot of a pool's balances, exposed to the
// request-serving layer.
type BalanceView struct {
	PoolID             id.PoolID     `json:"pool_id"`
	Available          types.Credits `json:"available"`
	Reserved           types.Credits `json:"reserved"`
	IncludedRemaining  types.Credits `json:"included_remaining"`
	BonusRemaining     types.Credits `json:"bonus_remaining"`
	PurchasedRemaining types.Credits `json:"purchased_remaining"`
	AutoPurchaseArmed  bool          `json:"auto_purchase_armed"`
	Version            int64         `json:"version"`
}

// View builds a BalanceView snapshot from the pool's current state.
func (p *CreditPool) View() BalanceView {
	return BalanceView{
		PoolID:             p.ID,
		Available:          p.Available,
		Reserved:           p.Reserved,
		IncludedRemaining:  p.IncludedRemaining,
		BonusRemaining:     p.BonusRemaining,
		PurchasedRemaining: p.PurchasedRemaining,
		AutoPurchaseArmed:  p.AutoPurchase.Enabled && !p.AutoPurchase.Triggered,
		Version:            p.Version,
	}
}
