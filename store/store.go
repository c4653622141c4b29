// Package store defines the storage contract for the credit engine.
package store

import (
	"context"
	"time"

	"github.com/radiant/credits/id"
	"github.com/radiant/credits/pool"
	"github.com/radiant/credits/purchase"
	"github.com/radiant/credits/reservation"
	"github.com/radiant/credits/txn"
)

// Entry is one atomic ledger commit: a pool balance mutation together with
// everything that must become durable with it. A crash must never leave a
// balance changed without its transaction append, or vice versa.
//
// Pool carries the already-incremented Version; the commit succeeds only
// if the stored version equals Pool.Version-1 (optimistic concurrency).
// Pool may be nil for commits that record protocol state without touching
// balances (e.g. a failed reserve attempt).
type Entry struct {
	Pool         *pool.CreditPool
	Member       *pool.Member
	Reservation  *reservation.Reservation
	Purchase     *purchase.CreditPurchase
	Transactions []*txn.CreditTransaction
	Usage        []*txn.Usage
}

// Store is the unified storage interface for all credit-engine entities.
// Instead of embedding sub-interfaces, all methods are declared explicitly
// to avoid naming conflicts.
type Store interface {
	// Pool methods
	CreatePool(ctx context.Context, p *pool.CreditPool) error
	GetPool(ctx context.Context, poolID id.PoolID) (*pool.CreditPool, error)

	// Member methods
	CreateMember(ctx context.Context, m *pool.Member) error
	GetMember(ctx context.Context, memberID id.MemberID) (*pool.Member, error)
	GetMemberByUser(ctx context.Context, poolID id.PoolID, userID string) (*pool.Member, error)
	FindMembership(ctx context.Context, userID string) (*pool.Member, error)
	ListMembers(ctx context.Context, poolID id.PoolID) ([]*pool.Member, error)
	UpdateMember(ctx context.Context, m *pool.Member) error

	// Reservation methods
	GetReservation(ctx context.Context, requestID string) (*reservation.Reservation, error)
	ListExpiredReservations(ctx context.Context, asOf time.Time, limit int) ([]*reservation.Reservation, error)
	CountActiveReservations(ctx context.Context, poolID id.PoolID) (int, error)

	// Purchase methods
	CreatePurchase(ctx context.Context, p *purchase.CreditPurchase) error
	GetPurchase(ctx context.Context, purchaseID id.PurchaseID) (*purchase.CreditPurchase, error)
	GetPurchaseByPaymentRef(ctx context.Context, paymentRef string) (*purchase.CreditPurchase, error)
	UpdatePurchase(ctx context.Context, p *purchase.CreditPurchase) error
	ListPurchases(ctx context.Context, poolID id.PoolID, opts purchase.ListOpts) ([]*purchase.CreditPurchase, error)
	ListStalledPurchases(ctx context.Context, olderThan time.Time, limit int) ([]*purchase.CreditPurchase, error)

	// Ledger reads (append-only; amounts are returned exactly as written)
	ListTransactions(ctx context.Context, poolID id.PoolID, opts txn.ListOpts) ([]*txn.CreditTransaction, error)
	ListUsage(ctx context.Context, poolID id.PoolID, opts txn.ListOpts) ([]*txn.Usage, error)

	// Commit applies one Entry as a single atomic unit. It returns
	// ErrVersionConflict when a concurrent writer moved the pool version.
	Commit(ctx context.Context, e *Entry) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
