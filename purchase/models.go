// Package purchase defines credit purchase records and their lifecycle.
package purchase

import (
	"time"

	"github.com/radiant/credits/id"
	"github.com/radiant/credits/types"
)

// Status is the lifecycle status of a purchase attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"

	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// CreditPurchase is one purchase attempt. It transitions to completed only
// after the ledger has durably recorded the purchase and bonus_grant
// transactions; a payment captured before the ledger write is replayed
// idempotently by the gateway reference.
type CreditPurchase struct {
	types.Entity
	ID       id.PurchaseID `json:"id"`
	PoolID   id.PoolID     `json:"pool_id"`
	UserID   string        `json:"user_id"`
	TenantID string        `json:"tenant_id"`
	Status   Status        `json:"status"`

	RequestedCredits types.Credits `json:"requested_credits"`
	BonusCredits     types.Credits `json:"bonus_credits"`
	TotalCredits     types.Credits `json:"total_credits"`

	BasePrice  types.Money `json:"base_price"`
	Discount   types.Money `json:"discount"`
	FinalPrice types.Money `json:"final_price"`

	// PaymentRef is the durable gateway reference, usable for idempotent
	// replay of the ledger credit after a partial failure.
	PaymentRef       string `json:"payment_ref,omitempty"`
	PaymentMethodRef string `json:"payment_method_ref,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`

	// AutoTriggered marks purchases initiated by the auto-purchase trigger.
	AutoTriggered bool `json:"auto_triggered"`

	RefundedCredits types.Credits `json:"refunded_credits"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Refundable returns how many purchased credits of this purchase have not
// yet been refunded.
func (p *CreditPurchase) Refundable() types.Credits {
	return p.RequestedCredits - p.RefundedCredits
}

// Clone returns a deep copy safe to mutate during a read-modify-write cycle.
func (p *CreditPurchase) Clone() *CreditPurchase {
	cp := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ListOpts filters purchase listings for a pool.
type ListOpts struct {
	Status Status
	Limit  int
}
