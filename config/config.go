// Package config supplies the tenant-resolved tunables the credit engine
// consumes: pricing tariff, reservation timeout, auto-purchase defaults,
// and the settlement shortfall policy.
//
// Values are validated once at the boundary into typed structs; the engine
// never re-parses them. Resolution follows override semantics: a global
// default, optionally overridden per tenant within a validity window.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/radiant/credits/pricing"
	"github.com/radiant/credits/types"
)

// ShortfallPolicy decides what happens when a settlement's actual cost
// exceeds the reserved amount and the remainder is not fully coverable.
type ShortfallPolicy string

const (
	// ShortfallGrace charges up to the reserved amount plus whatever the
	// available balance covers, and logs the uncovered rest as an
	// adjustment transaction for manual reconciliation.
	ShortfallGrace ShortfallPolicy = "grace"

	// ShortfallHardFail rejects the settlement with insufficient funds,
	// leaving the reservation open for release or retry.
	ShortfallHardFail ShortfallPolicy = "hard_fail"
)

// AutoPurchaseDefaults seed a pool's auto-purchase configuration when the
// pool does not carry its own.
type AutoPurchaseDefaults struct {
	Enabled         bool          `json:"enabled"`
	Threshold       types.Credits `json:"threshold"`
	TopUpAmount     types.Credits `json:"top_up_amount"`
	MonthlySpendCap types.Money   `json:"monthly_spend_cap"`
}

// Settings is the closed set of engine tunables for one tenant.
type Settings struct {
	Tariff             pricing.Tariff       `json:"tariff"`
	ReservationTimeout time.Duration        `json:"reservation_timeout"`
	AutoPurchase       AutoPurchaseDefaults `json:"auto_purchase"`
	Shortfall          ShortfallPolicy      `json:"shortfall"`
}

// Validate checks a Settings value once, at the boundary.
func (s *Settings) Validate() error {
	if !s.Tariff.UnitPrice.IsPositive() {
		return fmt.Errorf("config: unit price must be positive, got %s", s.Tariff.UnitPrice)
	}
	if err := pricing.ValidateTiers(s.Tariff.Tiers); err != nil {
		return err
	}
	if s.ReservationTimeout <= 0 {
		return fmt.Errorf("config: reservation timeout must be positive, got %s", s.ReservationTimeout)
	}
	switch s.Shortfall {
	case ShortfallGrace, ShortfallHardFail:
	default:
		return fmt.Errorf("config: unknown shortfall policy %q", s.Shortfall)
	}
	if cap := s.AutoPurchase.MonthlySpendCap; !cap.IsZero() && cap.Currency != s.Tariff.UnitPrice.Currency {
		return fmt.Errorf("config: auto-purchase spend cap currency %q does not match tariff currency %q",
			cap.Currency, s.Tariff.UnitPrice.Currency)
	}
	return nil
}

// Override is a per-tenant Settings replacement valid within a window.
// Zero From/Until mean unbounded on that side.
type Override struct {
	TenantID string    `json:"tenant_id"`
	From     time.Time `json:"from,omitempty"`
	Until    time.Time `json:"until,omitempty"`
	Settings Settings  `json:"settings"`
}

// ActiveAt reports whether the override applies at the given instant.
func (o Override) ActiveAt(now time.Time) bool {
	if !o.From.IsZero() && now.Before(o.From) {
		return false
	}
	if !o.Until.IsZero() && !now.Before(o.Until) {
		return false
	}
	return true
}

// Provider resolves the effective Settings for a tenant. The engine treats
// the result as read-only input.
type Provider interface {
	Resolve(ctx context.Context, tenantID string) (*Settings, error)
}

// Static is an in-memory Provider holding a global default plus per-tenant
// overrides. It is the usual choice for tests and single-tenant setups.
type Static struct {
	Global    Settings
	Overrides []Override

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewStatic builds a Static provider after validating every Settings value.
func NewStatic(global Settings, overrides ...Override) (*Static, error) {
	if err := global.Validate(); err != nil {
		return nil, err
	}
	for i := range overrides {
		if err := overrides[i].Settings.Validate(); err != nil {
			return nil, fmt.Errorf("config: override for tenant %q: %w", overrides[i].TenantID, err)
		}
	}
	return &Static{Global: global, Overrides: overrides}, nil
}

// Resolve implements Provider.
func (s *Static) Resolve(_ context.Context, tenantID string) (*Settings, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	for i := range s.Overrides {
		o := &s.Overrides[i]
		if o.TenantID == tenantID && o.ActiveAt(now) {
			cp := o.Settings
			return &cp, nil
		}
	}

	cp := s.Global
	return &cp, nil
}
