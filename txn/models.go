// Package txn defines the immutable ledger transaction and usage records.
package txn

import (
	"time"

	"github.com/radiant/credits/id"
	"github.com/radiant/credits/types"
)

// Type classifies a ledger transaction.
type Type string

const (
	TypePurchase          Type = "purchase"
	TypeSubscriptionGrant Type = "subscription_grant"
	TypeBonusGrant        Type = "bonus_grant"
	TypeConsumption       Type = "consumption"
	TypeRefund            Type = "refund"
	TypeAdjustment        Type = "adjustment"
	TypeTransferIn        Type = "transfer_in"
	TypeTransferOut       Type = "transfer_out"
	TypeExpiration        Type = "expiration"
)

// SourceSplit records how much of a debit was drawn from (or a credit
// applied to) each source sub-balance. Needed for cost-of-goods reporting.
type SourceSplit struct {
	Included  types.Credits `json:"included"`
	Bonus     types.Credits `json:"bonus"`
	Purchased types.Credits `json:"purchased"`
}

// Total returns the sum across all three sources.
func (s SourceSplit) Total() types.Credits {
	return s.Included + s.Bonus + s.Purchased
}

// CreditTransaction is one immutable, append-only ledger entry. Entries are
// never updated or deleted; the append sequence per pool is the audit trail
// and must be replayable to reconstruct balances.
type CreditTransaction struct {
	ID       id.TransactionID `json:"id"`
	PoolID   id.PoolID        `json:"pool_id"`
	MemberID id.MemberID      `json:"member_id,omitempty"`
	Type     Type             `json:"type"`

	// Amount is signed: negative for debits, positive for credits.
	Amount types.Credits `json:"amount"`

	// Split attributes the amount to source sub-balances.
	Split SourceSplit `json:"split"`

	// AvailableAfter is the pool's available balance immediately after
	// this entry was applied.
	AvailableAfter types.Credits `json:"available_after"`

	// Sequence is the pool version produced by the commit that appended
	// this entry. Entries for one pool are totally ordered by it.
	Sequence int64 `json:"sequence"`

	// Linkage to the causing operation, if any.
	RequestID  string        `json:"request_id,omitempty"`
	PurchaseID id.PurchaseID `json:"purchase_id,omitempty"`
	Model      string        `json:"model,omitempty"`

	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Usage is the per-settlement usage record exposed to billing/export
// tooling, written in the same commit as the consumption transaction.
type Usage struct {
	ID            id.UsageID       `json:"id"`
	PoolID        id.PoolID        `json:"pool_id"`
	MemberID      id.MemberID      `json:"member_id,omitempty"`
	TransactionID id.TransactionID `json:"transaction_id"`
	RequestID     string           `json:"request_id"`
	Model         string           `json:"model,omitempty"`
	InputTokens   int64            `json:"input_tokens"`
	OutputTokens  int64            `json:"output_tokens"`
	Cost          types.Credits    `json:"cost"`
	Split         SourceSplit      `json:"split"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ListOpts filters transaction and usage listings for a pool.
type ListOpts struct {
	Types []Type
	Start time.Time
	End   time.Time
	Limit int
}

// Matches reports whether a transaction satisfies the filter.
func (o ListOpts) Matches(t *CreditTransaction) bool {
	if len(o.Types) > 0 {
		ok := false
		for _, want := range o.Types {
			if t.Type == want {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !o.Start.IsZero() && t.CreatedAt.Before(o.Start) {
		return false
	}
	if !o.End.IsZero() && !t.CreatedAt.Before(o.End) {
		return false
	}
	return true
}
