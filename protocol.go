package credits

import (
	"context"
	"fmt"

	"github.com/radiant/credits/config"
	"github.com/radiant/credits/id"
	"github.com/radiant/credits/pool"
	"github.com/radiant/credits/reservation"
	"github.com/radiant/credits/store"
	"github.com/radiant/credits/txn"
	"github.com/radiant/credits/types"
)

// UsageMeta carries the per-request usage detail recorded at settlement.
type UsageMeta struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// SettleResult reports what a settlement actually charged.
type SettleResult struct {
	RequestID string
	Charged   types.Credits
	Shortfall types.Credits

	// Replayed is set when the request ID had already settled and the
	// recorded outcome was returned instead of charging twice.
	Replayed bool
}

// ReleaseResult reports a released (or timed-out) reservation.
type ReleaseResult struct {
	RequestID string
	Returned  types.Credits
	Replayed  bool
}

// Reserve places a hold of estimatedCost against the pool for the given
// request ID. The hold moves credits from available to reserved without
// writing a ledger transaction; the ledger entry appears at settlement.
//
// Request IDs are idempotency keys: a repeated Reserve with a known ID
// returns the recorded outcome, including a refusal for insufficient
// funds, without touching balances again.
func (e *Engine) Reserve(ctx context.Context, poolID id.PoolID, userID, requestID string, estimatedCost types.Credits) (*reservation.Reservation, error) {
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}
	if !estimatedCost.IsPositive() {
		return nil, fmt.Errorf("%w: estimated cost must be positive, got %s", ErrInvalidInput, estimatedCost)
	}

	if prior, err := e.store.GetReservation(ctx, requestID); err == nil {
		if prior.PoolID.String() != poolID.String() {
			return nil, fmt.Errorf("%w: request id %q belongs to another pool", ErrInvalidInput, requestID)
		}
		if prior.Status == reservation.StatusFailed {
			return nil, ErrInsufficientFunds
		}
		return prior, nil
	} else if !IsNotFound(err) {
		return nil, err
	}

	member, err := e.store.GetMemberByUser(ctx, poolID, userID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if denial := member.CheckLimits(estimatedCost, now); denial != pool.DenialNone {
		return nil, denialError(denial)
	}

	var res *reservation.Reservation
	var replayed bool
	_, err = e.commitWithRetry(ctx, poolID, func(p *pool.CreditPool) (*store.Entry, error) {
		// Re-check under the commit cycle: a concurrent Reserve with the
		// same request ID may have landed since the lookup above, and a
		// second hold would strand the first one's credits.
		if prior, gerr := e.store.GetReservation(ctx, requestID); gerr == nil {
			if prior.PoolID.String() != poolID.String() {
				return nil, fmt.Errorf("%w: request id %q belongs to another pool", ErrInvalidInput, requestID)
			}
			if prior.Status == reservation.StatusFailed {
				return nil, ErrInsufficientFunds
			}
			res = prior
			replayed = true
			return nil, nil
		} else if !IsNotFound(gerr) {
			return nil, gerr
		}

		if p.Status != pool.StatusActive {
			return nil, ErrPoolClosed
		}
		settings, serr := e.settings(ctx, p.TenantID)
		if serr != nil {
			return nil, serr
		}

		if p.Available < estimatedCost {
			res = &reservation.Reservation{
				ID:            id.NewReservationID(),
				PoolID:        poolID,
				MemberID:      member.ID,
				RequestID:     requestID,
				Status:        reservation.StatusFailed,
				EstimatedCost: estimatedCost,
				CreatedAt:     now,
			}
			// Recorded without a pool version so replays of this request ID
			// return the refusal; the next request re-checks fresh balances.
			if cerr := e.store.Commit(ctx, &store.Entry{Reservation: res}); cerr != nil {
				return nil, cerr
			}
			e.plugins.EmitInsufficientFunds(ctx, poolID.String(), estimatedCost, p.Available)
			return nil, ErrInsufficientFunds
		}

		p.Available -= estimatedCost
		p.Reserved += estimatedCost

		res = &reservation.Reservation{
			ID:            id.NewReservationID(),
			PoolID:        poolID,
			MemberID:      member.ID,
			RequestID:     requestID,
			Status:        reservation.StatusActive,
			EstimatedCost: estimatedCost,
			CreatedAt:     now,
			ExpiresAt:     now.Add(settings.ReservationTimeout),
		}

		return &store.Entry{Pool: nextEntry(p), Reservation: res}, nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		return res, nil
	}

	e.plugins.EmitReserved(ctx, res)
	return res, nil
}

// Settle resolves an active reservation against the actual metered cost.
// The full held amount returns to available, the actual cost is debited
// from the sources in included → bonus → purchased order, and a single
// consumption transaction plus a usage record land in the same commit as
// the balance change and the member's usage counters.
//
// When the actual cost exceeds the hold and the pool cannot cover the
// remainder, the shortfall policy decides the outcome: grace charges what
// the pool can cover and logs the rest as an adjustment transaction;
// hard_fail rejects the settlement and leaves the reservation open.
func (e *Engine) Settle(ctx context.Context, requestID string, actualCost types.Credits, meta UsageMeta) (*SettleResult, error) {
	if actualCost.IsNegative() {
		return nil, fmt.Errorf("%w: actual cost cannot be negative, got %s", ErrInvalidInput, actualCost)
	}

	r, err := e.store.GetReservation(ctx, requestID)
	if err != nil {
		return nil, err
	}

	switch r.Status {
	case reservation.StatusSettled:
		return &SettleResult{
			RequestID: requestID,
			Charged:   r.SettledCost,
			Shortfall: r.ShortfallLogged,
			Replayed:  true,
		}, nil
	case reservation.StatusReleased, reservation.StatusExpired, reservation.StatusFailed:
		// The hold is gone; nothing can be charged against it.
		return nil, ErrNotReserved
	}

	now := e.now()
	var (
		result       SettleResult
		consumption  *txn.CreditTransaction
		settledPool  *pool.CreditPool
		poolSettings *config.Settings
	)

	entry, err := e.commitWithRetry(ctx, r.PoolID, func(p *pool.CreditPool) (*store.Entry, error) {
		// Re-read under the commit cycle: a concurrent sweep or settle may
		// have resolved the reservation since the check above.
		cur, gerr := e.store.GetReservation(ctx, requestID)
		if gerr != nil {
			return nil, gerr
		}
		if cur.Status != reservation.StatusActive {
			if cur.Status == reservation.StatusSettled {
				result = SettleResult{
					RequestID: requestID,
					Charged:   cur.SettledCost,
					Shortfall: cur.ShortfallLogged,
					Replayed:  true,
				}
				return nil, nil
			}
			return nil, ErrNotReserved
		}
		r = cur

		settings, serr := e.settings(ctx, p.TenantID)
		if serr != nil {
			return nil, serr
		}
		poolSettings = settings

		// Return the full hold, then debit the actual cost.
		p.Reserved -= r.EstimatedCost
		p.Available += r.EstimatedCost

		charge := actualCost
		var shortfall types.Credits
		if charge > p.Available {
			if settings.Shortfall == config.ShortfallHardFail {
				return nil, ErrInsufficientFunds
			}
			shortfall = charge - p.Available
			charge = p.Available
		}

		split := drawSources(p, charge)
		p.Available -= charge

		next := nextEntry(p)

		consumption = &txn.CreditTransaction{
			ID:             id.NewTransactionID(),
			PoolID:         p.ID,
			MemberID:       r.MemberID,
			Type:           txn.TypeConsumption,
			Amount:         -charge,
			Split:          split,
			AvailableAfter: p.Available,
			Sequence:       next.Version,
			RequestID:      requestID,
			Model:          meta.Model,
			CreatedAt:      now,
		}
		transactions := []*txn.CreditTransaction{consumption}

		if shortfall.IsPositive() {
			transactions = append(transactions, &txn.CreditTransaction{
				ID:             id.NewTransactionID(),
				PoolID:         p.ID,
				Type:           txn.TypeAdjustment,
				Amount:         -shortfall,
				AvailableAfter: p.Available,
				Sequence:       next.Version,
				RequestID:      requestID,
				Description:    "uncovered settlement shortfall",
				CreatedAt:      now,
			})
		}

		member, merr := e.store.GetMember(ctx, r.MemberID)
		if merr != nil && !IsNotFound(merr) {
			return nil, merr
		}
		if member != nil {
			member.Counters.Record(charge, now)
			member.Touch()
		}

		settled := r.Clone()
		settled.Status = reservation.StatusSettled
		settled.SettledCost = charge
		settled.ShortfallLogged = shortfall
		settled.ResolvedAt = &now

		usage := &txn.Usage{
			ID:            id.NewUsageID(),
			PoolID:        p.ID,
			MemberID:      r.MemberID,
			TransactionID: consumption.ID,
			RequestID:     requestID,
			Model:         meta.Model,
			InputTokens:   meta.InputTokens,
			OutputTokens:  meta.OutputTokens,
			Cost:          charge,
			Split:         split,
			CreatedAt:     now,
		}

		result = SettleResult{RequestID: requestID, Charged: charge, Shortfall: shortfall}
		settledPool = next

		return &store.Entry{
			Pool:         next,
			Member:       member,
			Reservation:  settled,
			Transactions: transactions,
			Usage:        []*txn.Usage{usage},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if entry != nil {
		e.plugins.EmitSettled(ctx, entry.Reservation, consumption)
		if result.Shortfall.IsPositive() {
			e.plugins.EmitShortfallAdjusted(ctx, r.PoolID.String(), requestID, result.Shortfall)
			e.logger.Warn("settlement shortfall logged for reconciliation",
				"pool_id", r.PoolID.String(),
				"request_id", requestID,
				"shortfall", result.Shortfall,
			)
		}
		e.maybeAutoPurchase(ctx, settledPool, poolSettings)
	}

	return &result, nil
}

// Release cancels an active reservation, returning the full held amount
// to available. No ledger transaction is written. Terminal reservations
// replay their recorded outcome.
func (e *Engine) Release(ctx context.Context, requestID string) (*ReleaseResult, error) {
	r, err := e.store.GetReservation(ctx, requestID)
	if err != nil {
		return nil, err
	}

	switch r.Status {
	case reservation.StatusReleased, reservation.StatusExpired:
		return &ReleaseResult{RequestID: requestID, Returned: r.EstimatedCost, Replayed: true}, nil
	case reservation.StatusSettled, reservation.StatusFailed:
		return nil, ErrNotReserved
	}

	res, err := e.resolveHold(ctx, r, reservation.StatusReleased)
	if err != nil {
		return nil, err
	}
	if res.Replayed && res.Returned.IsZero() {
		return nil, ErrNotReserved
	}

	e.plugins.EmitReleased(ctx, r)
	return res, nil
}

// resolveHold returns an active reservation's hold to available and marks
// it with the given terminal status. Shared by Release and the timeout
// sweeper.
func (e *Engine) resolveHold(ctx context.Context, r *reservation.Reservation, status reservation.Status) (*ReleaseResult, error) {
	now := e.now()
	result := &ReleaseResult{RequestID: r.RequestID, Returned: r.EstimatedCost}

	_, err := e.commitWithRetry(ctx, r.PoolID, func(p *pool.CreditPool) (*store.Entry, error) {
		cur, gerr := e.store.GetReservation(ctx, r.RequestID)
		if gerr != nil {
			return nil, gerr
		}
		if cur.Status != reservation.StatusActive {
			result.Replayed = true
			if cur.Status != reservation.StatusReleased && cur.Status != reservation.StatusExpired {
				result.Returned = 0
			}
			return nil, nil
		}

		p.Reserved -= cur.EstimatedCost
		p.Available += cur.EstimatedCost

		resolved := cur.Clone()
		resolved.Status = status
		resolved.ResolvedAt = &now

		return &store.Entry{Pool: nextEntry(p), Reservation: resolved}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// sweepReservations force-releases reservations whose window has passed.
// A settlement racing the sweep loses cleanly: whichever commit lands
// first wins the version check, and the loser observes the terminal state.
func (e *Engine) sweepReservations(ctx context.Context) {
	expired, err := e.store.ListExpiredReservations(ctx, e.now(), e.sweepBatchSize)
	if err != nil {
		e.logger.Error("expired reservation sweep failed", "error", err)
		return
	}

	for _, r := range expired {
		if _, err := e.resolveHold(ctx, r, reservation.StatusExpired); err != nil {
			e.logger.Error("failed to expire reservation",
				"request_id", r.RequestID,
				"pool_id", r.PoolID.String(),
				"error", err,
			)
			continue
		}
		e.plugins.EmitReservationExpired(ctx, r)
		e.logger.Info("reservation expired",
			"request_id", r.RequestID,
			"pool_id", r.PoolID.String(),
			"returned", r.EstimatedCost,
		)
	}
}

// drawSources debits amount from the source sub-balances in included →
// bonus → purchased order and returns the resulting split. The caller
// adjusts Available itself.
func drawSources(p *pool.CreditPool, amount types.Credits) txn.SourceSplit {
	var split txn.SourceSplit

	take := amount.Min(p.IncludedRemaining)
	p.IncludedRemaining -= take
	split.Included = take
	amount -= take

	take = amount.Min(p.BonusRemaining)
	p.BonusRemaining -= take
	split.Bonus = take
	amount -= take

	p.PurchasedRemaining -= amount
	split.Purchased = amount

	return split
}

// denialError maps a member limit denial to its sentinel error.
func denialError(d pool.Denial) error {
	if d == pool.DenialNotActive {
		return ErrMemberNotActive
	}
	return fmt.Errorf("%w: %s", ErrLimitExceeded, d)
}
