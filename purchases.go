package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/radiant/credits/config"
	"github.com/radiant/credits/id"
	"github.com/radiant/credits/payment"
	"github.com/radiant/credits/pool"
	"github.com/radiant/credits/pricing"
	"github.com/radiant/credits/purchase"
	"github.com/radiant/credits/store"
	"github.com/radiant/credits/txn"
	"github.com/radiant/credits/types"
)

// PurchaseParams describes a credit purchase request.
type PurchaseParams struct {
	PoolID           id.PoolID
	UserID           string
	Credits          types.Credits
	PaymentMethodRef string
}

// QuotePurchase prices a prospective purchase for a pool's tenant without
// charging anything. The volume tier with the largest minimum at or below
// the requested quantity applies to the whole quantity.
func (e *Engine) QuotePurchase(ctx context.Context, poolID id.PoolID, credits types.Credits) (*pricing.Quote, error) {
	p, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	settings, err := e.settings(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}
	q, err := pricing.QuotePurchase(settings.Tariff, credits)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Purchase charges the payment gateway for the quoted price and credits
// the purchased amount plus any volume bonus to the pool. The money
// charge and the ledger credit cannot share one atomic boundary, so the
// order is money-first: the ledger credit replays from the purchase
// record and its durable gateway reference until it lands.
func (e *Engine) Purchase(ctx context.Context, params PurchaseParams) (*purchase.CreditPurchase, error) {
	if !params.Credits.IsPositive() {
		return nil, fmt.Errorf("%w: purchase quantity must be positive, got %s", ErrInvalidInput, params.Credits)
	}

	p, err := e.store.GetPool(ctx, params.PoolID)
	if err != nil {
		return nil, err
	}
	if p.Status != pool.StatusActive {
		return nil, ErrPoolClosed
	}

	member, err := e.store.GetMemberByUser(ctx, params.PoolID, params.UserID)
	if err != nil {
		return nil, err
	}
	if member.Status != pool.MemberActive {
		return nil, ErrMemberNotActive
	}
	if member.Role == pool.RoleRestricted {
		return nil, fmt.Errorf("%w: restricted members cannot purchase credits", ErrLimitExceeded)
	}

	settings, err := e.settings(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}
	quote, err := pricing.QuotePurchase(settings.Tariff, params.Credits)
	if err != nil {
		return nil, err
	}

	pur := &purchase.CreditPurchase{
		Entity:           types.NewEntity(),
		ID:               id.NewPurchaseID(),
		PoolID:           params.PoolID,
		UserID:           params.UserID,
		TenantID:         p.TenantID,
		Status:           purchase.StatusPending,
		RequestedCredits: quote.RequestedCredits,
		BonusCredits:     quote.BonusCredits,
		TotalCredits:     quote.TotalCredits,
		BasePrice:        quote.BasePrice,
		Discount:         quote.Discount,
		FinalPrice:       quote.FinalPrice,
		PaymentMethodRef: params.PaymentMethodRef,
	}
	if err := e.store.CreatePurchase(ctx, pur); err != nil {
		return nil, err
	}

	return e.executePurchase(ctx, pur)
}

// executePurchase drives a pending purchase through payment capture and
// the ledger credit.
func (e *Engine) executePurchase(ctx context.Context, pur *purchase.CreditPurchase) (*purchase.CreditPurchase, error) {
	if e.gateway == nil {
		return e.failPurchase(ctx, pur, "no payment gateway configured", ErrPaymentFailed)
	}

	pur.Status = purchase.StatusProcessing
	pur.Touch()
	if err := e.store.UpdatePurchase(ctx, pur); err != nil {
		return nil, err
	}

	res, err := e.gateway.Charge(ctx, payment.ChargeRequest{
		OrderRef:         pur.ID.String(),
		Amount:           pur.FinalPrice,
		PaymentMethodRef: pur.PaymentMethodRef,
		Description:      fmt.Sprintf("purchase of %s credits", pur.RequestedCredits),
	})
	if err != nil {
		if errors.Is(err, payment.ErrDeclined) {
			return e.failPurchase(ctx, pur, err.Error(), fmt.Errorf("%w: %v", ErrPaymentFailed, err))
		}
		// Transport failure: the charge state is unknown, so the purchase
		// stays processing without a reference for operator review.
		e.logger.Error("payment charge failed",
			"purchase_id", pur.ID.String(),
			"pool_id", pur.PoolID.String(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	// The reference must be durable before the ledger write so a crash
	// between the two replays instead of double-charging.
	pur.PaymentRef = res.Reference
	pur.Touch()
	if err := e.store.UpdatePurchase(ctx, pur); err != nil {
		return nil, err
	}

	if err := e.creditPurchase(ctx, pur); err != nil {
		// Money captured, credit pending. The sweeper replays from the
		// stored payment reference.
		e.logger.Error("purchase credit did not land, queued for replay",
			"purchase_id", pur.ID.String(),
			"payment_ref", pur.PaymentRef,
			"error", err,
		)
		return pur, err
	}

	completed, err := e.store.GetPurchase(ctx, pur.ID)
	if err != nil {
		return pur, nil
	}
	return completed, nil
}

// failPurchase marks the purchase failed and returns the given error.
func (e *Engine) failPurchase(ctx context.Context, pur *purchase.CreditPurchase, reason string, cause error) (*purchase.CreditPurchase, error) {
	pur.Status = purchase.StatusFailed
	pur.FailureReason = reason
	pur.Touch()
	if err := e.store.UpdatePurchase(ctx, pur); err != nil {
		e.logger.Error("failed to mark purchase failed", "purchase_id", pur.ID.String(), "error", err)
	}
	e.plugins.EmitPurchaseFailed(ctx, pur, reason)
	return pur, cause
}

// creditPurchase applies a paid purchase to the ledger: the purchased
// amount and any bonus land as two transactions in one commit together
// with the completed purchase record. Replay-safe: a purchase already
// completed is a no-op.
func (e *Engine) creditPurchase(ctx context.Context, pur *purchase.CreditPurchase) error {
	now := e.now()

	entry, err := e.commitWithRetry(ctx, pur.PoolID, func(p *pool.CreditPool) (*store.Entry, error) {
		cur, gerr := e.store.GetPurchase(ctx, pur.ID)
		if gerr != nil {
			return nil, gerr
		}
		if cur.Status == purchase.StatusCompleted {
			return nil, nil
		}

		availBefore := p.Available

		p.PurchasedRemaining += pur.RequestedCredits
		p.BonusRemaining += pur.BonusCredits
		p.Available += pur.TotalCredits

		// A successful purchase always releases the trigger latch, even when
		// the top-up leaves the balance below the threshold: the next
		// settlement may fire again rather than leaving the pool stuck.
		if p.AutoPurchase.Triggered && (pur.AutoTriggered || p.Available >= p.AutoPurchase.Threshold) {
			p.AutoPurchase.Triggered = false
		}
		if pur.AutoTriggered {
			recordAutoSpend(&p.AutoPurchase, pur.FinalPrice, now)
		}

		next := nextEntry(p)

		transactions := []*txn.CreditTransaction{{
			ID:             id.NewTransactionID(),
			PoolID:         p.ID,
			Type:           txn.TypePurchase,
			Amount:         pur.RequestedCredits,
			Split:          txn.SourceSplit{Purchased: pur.RequestedCredits},
			AvailableAfter: availBefore + pur.RequestedCredits,
			Sequence:       next.Version,
			PurchaseID:     pur.ID,
			CreatedAt:      now,
		}}
		if pur.BonusCredits.IsPositive() {
			transactions = append(transactions, &txn.CreditTransaction{
				ID:             id.NewTransactionID(),
				PoolID:         p.ID,
				Type:           txn.TypeBonusGrant,
				Amount:         pur.BonusCredits,
				Split:          txn.SourceSplit{Bonus: pur.BonusCredits},
				AvailableAfter: p.Available,
				Sequence:       next.Version,
				PurchaseID:     pur.ID,
				CreatedAt:      now,
			})
		}

		completed := cur.Clone()
		completed.Status = purchase.StatusCompleted
		completed.PaymentRef = pur.PaymentRef
		completed.CompletedAt = &now
		completed.Touch()

		return &store.Entry{Pool: next, Purchase: completed, Transactions: transactions}, nil
	})
	if err != nil {
		return err
	}

	if entry != nil {
		e.plugins.EmitPurchaseCompleted(ctx, entry.Purchase)
		e.logger.Info("purchase completed",
			"purchase_id", pur.ID.String(),
			"pool_id", pur.PoolID.String(),
			"credits", pur.RequestedCredits,
			"bonus", pur.BonusCredits,
			"price", pur.FinalPrice,
		)
	}
	return nil
}

// recordAutoSpend rolls the auto-purchase month window forward and adds
// the charge to the month's spend.
func recordAutoSpend(ap *pool.AutoPurchase, price types.Money, now time.Time) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if ap.MonthStart.Before(monthStart) || ap.MonthSpent.Currency == "" {
		ap.MonthStart = monthStart
		ap.MonthSpent = types.ZeroMoney(price.Currency)
	}
	ap.MonthSpent = ap.MonthSpent.Add(price)
}

// maybeAutoPurchase arms and fires the auto-purchase trigger after a
// balance drop. The trigger latches on first crossing so sub-threshold
// debits do not stack purchases; the latch clears when the top-up
// completes or another credit lifts the balance back above the threshold.
func (e *Engine) maybeAutoPurchase(ctx context.Context, p *pool.CreditPool, settings *config.Settings) {
	if p == nil || settings == nil {
		return
	}
	ap := p.AutoPurchase
	if !ap.Enabled || ap.Triggered || ap.PaymentMethodRef == "" {
		return
	}
	if p.Available >= ap.Threshold {
		return
	}

	quote, err := pricing.QuotePurchase(settings.Tariff, ap.TopUpAmount)
	if err != nil {
		e.logger.Error("auto-purchase quote failed", "pool_id", p.ID.String(), "error", err)
		return
	}
	if !ap.MonthlySpendCap.IsZero() {
		now := e.now()
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		spent := ap.MonthSpent
		if ap.MonthStart.Before(monthStart) || spent.Currency == "" {
			spent = types.ZeroMoney(ap.MonthlySpendCap.Currency)
		}
		if spent.Add(quote.FinalPrice).GreaterThan(ap.MonthlySpendCap) {
			e.logger.Warn("auto-purchase skipped, monthly spend cap reached",
				"pool_id", p.ID.String(),
				"spent", spent,
				"cap", ap.MonthlySpendCap,
			)
			return
		}
	}

	// Arm the latch under the pool's version so concurrent settlements
	// produce exactly one trigger per crossing.
	armed, err := e.commitWithRetry(ctx, p.ID, func(cur *pool.CreditPool) (*store.Entry, error) {
		a := cur.AutoPurchase
		if !a.Enabled || a.Triggered || cur.Available >= a.Threshold || cur.Status != pool.StatusActive {
			return nil, nil
		}
		cur.AutoPurchase.Triggered = true
		return &store.Entry{Pool: nextEntry(cur)}, nil
	})
	if err != nil {
		e.logger.Error("auto-purchase latch commit failed", "pool_id", p.ID.String(), "error", err)
		return
	}
	if armed == nil {
		return
	}

	e.plugins.EmitAutoPurchaseTriggered(ctx, p.ID.String(), armed.Pool.Available, ap.Threshold)
	e.logger.Info("auto-purchase triggered",
		"pool_id", p.ID.String(),
		"available", armed.Pool.Available,
		"threshold", ap.Threshold,
		"top_up", ap.TopUpAmount,
	)

	pur := &purchase.CreditPurchase{
		Entity:           types.NewEntity(),
		ID:               id.NewPurchaseID(),
		PoolID:           p.ID,
		UserID:           p.OwnerID,
		TenantID:         p.TenantID,
		Status:           purchase.StatusPending,
		RequestedCredits: quote.RequestedCredits,
		BonusCredits:     quote.BonusCredits,
		TotalCredits:     quote.TotalCredits,
		BasePrice:        quote.BasePrice,
		Discount:         quote.Discount,
		FinalPrice:       quote.FinalPrice,
		PaymentMethodRef: ap.PaymentMethodRef,
		AutoTriggered:    true,
	}
	if err := e.store.CreatePurchase(ctx, pur); err != nil {
		e.logger.Error("auto-purchase record create failed", "pool_id", p.ID.String(), "error", err)
		return
	}

	// Charge off the settlement path. A failed payment leaves the latch
	// set until the balance recovers by other means.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.executePurchase(context.WithoutCancel(ctx), pur); err != nil {
			e.logger.Error("auto-purchase failed",
				"pool_id", p.ID.String(),
				"purchase_id", pur.ID.String(),
				"error", err,
			)
		}
	}()
}

// RefundPurchase returns up to the purchase's unrefunded quantity to the
// operator, debiting the pool's purchased balance. Credits already spent
// cannot be refunded.
func (e *Engine) RefundPurchase(ctx context.Context, purchaseID id.PurchaseID, amount types.Credits) (*purchase.CreditPurchase, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be positive, got %s", ErrInvalidInput, amount)
	}

	pur, err := e.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	switch pur.Status {
	case purchase.StatusCompleted, purchase.StatusPartiallyRefunded:
	default:
		return nil, fmt.Errorf("%w: purchase is %s", ErrNotRefundable, pur.Status)
	}
	if amount > pur.Refundable() {
		return nil, fmt.Errorf("%w: %s exceeds unrefunded quantity %s", ErrNotRefundable, amount, pur.Refundable())
	}

	now := e.now()
	entry, err := e.commitWithRetry(ctx, pur.PoolID, func(p *pool.CreditPool) (*store.Entry, error) {
		if amount > p.Available || amount > p.PurchasedRemaining {
			return nil, fmt.Errorf("%w: purchased credits already consumed", ErrNotRefundable)
		}

		p.PurchasedRemaining -= amount
		p.Available -= amount
		next := nextEntry(p)

		refunded := pur.Clone()
		refunded.RefundedCredits += amount
		if refunded.Refundable().IsZero() {
			refunded.Status = purchase.StatusRefunded
		} else {
			refunded.Status = purchase.StatusPartiallyRefunded
		}
		refunded.Touch()

		return &store.Entry{
			Pool:     next,
			Purchase: refunded,
			Transactions: []*txn.CreditTransaction{{
				ID:             id.NewTransactionID(),
				PoolID:         p.ID,
				Type:           txn.TypeRefund,
				Amount:         -amount,
				Split:          txn.SourceSplit{Purchased: amount},
				AvailableAfter: p.Available,
				Sequence:       next.Version,
				PurchaseID:     pur.ID,
				CreatedAt:      now,
			}},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	e.plugins.EmitRefunded(ctx, entry.Purchase, amount)
	return entry.Purchase, nil
}

// sweepStalledPurchases replays the ledger credit for purchases whose
// payment was captured but whose credit never landed.
func (e *Engine) sweepStalledPurchases(ctx context.Context) {
	olderThan := e.now().Add(-e.sweepInterval)
	stalled, err := e.store.ListStalledPurchases(ctx, olderThan, e.sweepBatchSize)
	if err != nil {
		e.logger.Error("stalled purchase sweep failed", "error", err)
		return
	}

	for _, pur := range stalled {
		// The gateway reference is the durable replay key: re-resolve by it
		// so a purchase completed between listing and replay is skipped.
		cur, err := e.store.GetPurchaseByPaymentRef(ctx, pur.PaymentRef)
		if err != nil {
			e.logger.Error("stalled purchase lookup failed",
				"payment_ref", pur.PaymentRef,
				"error", err,
			)
			continue
		}
		if cur.Status != purchase.StatusProcessing {
			continue
		}
		if err := e.creditPurchase(ctx, cur); err != nil {
			e.logger.Error("stalled purchase replay failed",
				"purchase_id", cur.ID.String(),
				"payment_ref", cur.PaymentRef,
				"error", err,
			)
		}
	}
}
