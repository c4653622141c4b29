package credits

import (
	"context"
	"fmt"

	"github.com/radiant/credits/id"
	"github.com/radiant/credits/pool"
	"github.com/radiant/credits/pricing"
	"github.com/radiant/credits/purchase"
	"github.com/radiant/credits/store"
	"github.com/radiant/credits/txn"
	"github.com/radiant/credits/types"
)

// EstimateCost prices a request's token usage for a tenant's tariff.
// Both directions round up, so an estimate is never below the eventual
// settled cost for the same counts.
func (e *Engine) EstimateCost(ctx context.Context, tenantID, model string, inputTokens, outputTokens int64) (types.Credits, error) {
	settings, err := e.settings(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return pricing.CostForTokens(settings.Tariff.Rate(model), inputTokens, outputTokens), nil
}

// ApplyGrant resets the pool's included balance for a new subscription
// period: unspent included credits expire, then the catalog's grant for
// this pool lands fresh. Both movements are ledger transactions in one
// commit. Included credits locked under active reservations survive the
// expiration and drain through their settlements.
func (e *Engine) ApplyGrant(ctx context.Context, poolID id.PoolID) (*pool.CreditPool, error) {
	if e.catalog == nil {
		return nil, fmt.Errorf("%w: no subscription catalog configured", ErrInvalidInput)
	}

	grant, err := e.catalog.IncludedCredits(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if grant.IsNegative() {
		return nil, fmt.Errorf("%w: catalog returned negative grant %s", ErrInvalidInput, grant)
	}

	now := e.now()
	var expired types.Credits

	entry, err := e.commitWithRetry(ctx, poolID, func(p *pool.CreditPool) (*store.Entry, error) {
		if p.Status != pool.StatusActive {
			return nil, ErrPoolClosed
		}

		expired = p.IncludedRemaining.Min(p.Available)
		p.IncludedRemaining -= expired
		p.Available -= expired
		availAfterExpire := p.Available

		p.IncludedRemaining += grant
		p.Available += grant

		if p.AutoPurchase.Triggered && p.Available >= p.AutoPurchase.Threshold {
			p.AutoPurchase.Triggered = false
		}

		next := nextEntry(p)

		var transactions []*txn.CreditTransaction
		if expired.IsPositive() {
			transactions = append(transactions, &txn.CreditTransaction{
				ID:             id.NewTransactionID(),
				PoolID:         p.ID,
				Type:           txn.TypeExpiration,
				Amount:         -expired,
				Split:          txn.SourceSplit{Included: expired},
				AvailableAfter: availAfterExpire,
				Sequence:       next.Version,
				Description:    "included credits expired at period rollover",
				CreatedAt:      now,
			})
		}
		if grant.IsPositive() {
			transactions = append(transactions, &txn.CreditTransaction{
				ID:             id.NewTransactionID(),
				PoolID:         p.ID,
				Type:           txn.TypeSubscriptionGrant,
				Amount:         grant,
				Split:          txn.SourceSplit{Included: grant},
				AvailableAfter: p.Available,
				Sequence:       next.Version,
				CreatedAt:      now,
			})
		}
		if len(transactions) == 0 {
			return nil, nil
		}

		return &store.Entry{Pool: next, Transactions: transactions}, nil
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return e.store.GetPool(ctx, poolID)
	}

	e.plugins.EmitGrantApplied(ctx, poolID.String(), grant, expired)
	e.logger.Info("subscription grant applied",
		"pool_id", poolID.String(),
		"granted", grant,
		"expired", expired,
	)
	return entry.Pool, nil
}

// Transfer moves credits between two pools of the same tenant. The debit
// draws from the source's sub-balances in consumption order; the credit
// lands in the destination's purchased balance, since transferred credits
// do not expire with the source's subscription period.
//
// The two commits are not one atomic unit. The debit lands first, so a
// crash between them never creates credits out of thin air; an undelivered
// credit is replayed here or reconciled from the transfer_out record.
func (e *Engine) Transfer(ctx context.Context, fromPoolID, toPoolID id.PoolID, amount types.Credits) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: transfer amount must be positive, got %s", ErrInvalidInput, amount)
	}
	if fromPoolID.String() == toPoolID.String() {
		return fmt.Errorf("%w: cannot transfer a pool to itself", ErrInvalidInput)
	}

	src, err := e.store.GetPool(ctx, fromPoolID)
	if err != nil {
		return err
	}
	dst, err := e.store.GetPool(ctx, toPoolID)
	if err != nil {
		return err
	}
	if src.TenantID != dst.TenantID {
		return fmt.Errorf("%w: pools belong to different tenants", ErrInvalidInput)
	}
	if dst.Status != pool.StatusActive {
		return ErrPoolClosed
	}

	now := e.now()

	_, err = e.commitWithRetry(ctx, fromPoolID, func(p *pool.CreditPool) (*store.Entry, error) {
		if p.Status != pool.StatusActive {
			return nil, ErrPoolClosed
		}
		if p.Available < amount {
			return nil, ErrInsufficientFunds
		}

		split := drawSources(p, amount)
		p.Available -= amount
		next := nextEntry(p)

		return &store.Entry{
			Pool: next,
			Transactions: []*txn.CreditTransaction{{
				ID:             id.NewTransactionID(),
				PoolID:         p.ID,
				Type:           txn.TypeTransferOut,
				Amount:         -amount,
				Split:          split,
				AvailableAfter: p.Available,
				Sequence:       next.Version,
				Description:    fmt.Sprintf("transfer to %s", toPoolID),
				CreatedAt:      now,
			}},
		}, nil
	})
	if err != nil {
		return err
	}

	_, err = e.commitWithRetry(ctx, toPoolID, func(p *pool.CreditPool) (*store.Entry, error) {
		p.PurchasedRemaining += amount
		p.Available += amount

		if p.AutoPurchase.Triggered && p.Available >= p.AutoPurchase.Threshold {
			p.AutoPurchase.Triggered = false
		}

		next := nextEntry(p)

		return &store.Entry{
			Pool: next,
			Transactions: []*txn.CreditTransaction{{
				ID:             id.NewTransactionID(),
				PoolID:         p.ID,
				Type:           txn.TypeTransferIn,
				Amount:         amount,
				Split:          txn.SourceSplit{Purchased: amount},
				AvailableAfter: p.Available,
				Sequence:       next.Version,
				Description:    fmt.Sprintf("transfer from %s", fromPoolID),
				CreatedAt:      now,
			}},
		}, nil
	})
	if err != nil {
		e.logger.Error("transfer credit leg failed after debit, needs reconciliation",
			"from_pool_id", fromPoolID.String(),
			"to_pool_id", toPoolID.String(),
			"amount", amount,
			"error", err,
		)
		return err
	}

	e.plugins.EmitTransferred(ctx, fromPoolID.String(), toPoolID.String(), amount)
	return nil
}

// ListTransactions reads the pool's ledger in append order.
func (e *Engine) ListTransactions(ctx context.Context, poolID id.PoolID, opts txn.ListOpts) ([]*txn.CreditTransaction, error) {
	return e.store.ListTransactions(ctx, poolID, opts)
}

// ListUsage reads the pool's per-settlement usage records.
func (e *Engine) ListUsage(ctx context.Context, poolID id.PoolID, opts txn.ListOpts) ([]*txn.Usage, error) {
	return e.store.ListUsage(ctx, poolID, opts)
}

// ListPurchases reads a pool's purchase history.
func (e *Engine) ListPurchases(ctx context.Context, poolID id.PoolID, opts purchase.ListOpts) ([]*purchase.CreditPurchase, error) {
	return e.store.ListPurchases(ctx, poolID, opts)
}
