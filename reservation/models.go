// Package reservation defines the two-phase reservation record.
package reservation

import (
	"time"

	"github.com/radiant/credits/id"
	"github.com/radiant/credits/types"
)

// Status is the lifecycle state of a reservation, keyed by the caller's
// request ID. Active reservations hold funds; every other status is
// terminal and replays as a no-op.
type Status string

const (
	StatusActive   Status = "active"
	StatusSettled  Status = "settled"
	StatusReleased Status = "released"
	StatusExpired  Status = "expired"

	// StatusFailed records a reserve attempt that was refused for
	// insufficient funds, so a retried reserve with the same request ID
	// returns the original outcome.
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusReleased || s == StatusExpired || s == StatusFailed
}

// Reservation is the persisted record of one reserve→settle|release cycle.
// The caller-supplied RequestID is the idempotency key: at most one
// reservation exists per request ID, and repeated protocol calls with the
// same key return the recorded outcome instead of acting twice.
type Reservation struct {
	ID        id.ReservationID `json:"id"`
	PoolID    id.PoolID        `json:"pool_id"`
	MemberID  id.MemberID      `json:"member_id,omitempty"`
	RequestID string           `json:"request_id"`
	Status    Status           `json:"status"`

	// EstimatedCost is the amount moved from available to reserved.
	EstimatedCost types.Credits `json:"estimated_cost"`

	// SettledCost is the final charge once settled (includes any covered
	// shortfall; excludes the uncollected adjustment portion).
	SettledCost types.Credits `json:"settled_cost"`

	// ShortfallLogged is the uncovered part of a settlement whose actual
	// cost exceeded both the reservation and the available balance. It was
	// recorded as an adjustment transaction for manual reconciliation.
	ShortfallLogged types.Credits `json:"shortfall_logged"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Expired reports whether an active reservation has outlived its window.
func (r *Reservation) Expired(now time.Time) bool {
	return r.Status == StatusActive && !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Clone returns a deep copy safe to mutate during a read-modify-write cycle.
func (r *Reservation) Clone() *Reservation {
	cp := *r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
