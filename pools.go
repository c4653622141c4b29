package credits

import (
	"context"
	"fmt"

	"github.com/radiant/credits/id"
	"github.com/radiant/credits/pool"
	"github.com/radiant/credits/store"
	"github.com/radiant/credits/types"
)

// CreatePoolParams describes a new credit pool.
type CreatePoolParams struct {
	TenantID string
	OwnerID  string
	Kind     pool.Kind
	Metadata map[string]string
}

// CreatePool creates an empty pool with its owner as the first active
// member. Auto-purchase starts from the tenant's configured defaults and
// stays dormant until a payment method is attached.
func (e *Engine) CreatePool(ctx context.Context, params CreatePoolParams) (*pool.CreditPool, error) {
	if params.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if params.Kind == "" {
		params.Kind = pool.KindIndividual
	}

	settings, err := e.settings(ctx, params.TenantID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	p := &pool.CreditPool{
		Entity:   types.NewEntity(),
		ID:       id.NewPoolID(),
		TenantID: params.TenantID,
		OwnerID:  params.OwnerID,
		Kind:     params.Kind,
		Status:   pool.StatusActive,
		AutoPurchase: pool.AutoPurchase{
			Enabled:         settings.AutoPurchase.Enabled,
			Threshold:       settings.AutoPurchase.Threshold,
			TopUpAmount:     settings.AutoPurchase.TopUpAmount,
			MonthlySpendCap: settings.AutoPurchase.MonthlySpendCap,
		},
		Metadata: params.Metadata,
	}
	if err := e.store.CreatePool(ctx, p); err != nil {
		return nil, err
	}

	owner := &pool.Member{
		Entity:    types.NewEntity(),
		ID:        id.NewMemberID(),
		PoolID:    p.ID,
		UserID:    params.OwnerID,
		Role:      pool.RoleOwner,
		Status:    pool.MemberActive,
		InvitedAt: now,
	}
	owner.AcceptedAt = &now
	if err := e.store.CreateMember(ctx, owner); err != nil {
		return nil, err
	}

	e.logger.Info("pool created",
		"pool_id", p.ID.String(),
		"tenant_id", p.TenantID,
		"owner_id", p.OwnerID,
		"kind", p.Kind,
	)
	return p, nil
}

// GetPool fetches a pool by ID.
func (e *Engine) GetPool(ctx context.Context, poolID id.PoolID) (*pool.CreditPool, error) {
	return e.store.GetPool(ctx, poolID)
}

// ResolvePool finds the pool a user's requests draw from via their
// membership.
func (e *Engine) ResolvePool(ctx context.Context, userID string) (*pool.CreditPool, error) {
	m, err := e.store.FindMembership(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.store.GetPool(ctx, m.PoolID)
}

// GetBalance returns a read-only balance snapshot.
func (e *Engine) GetBalance(ctx context.Context, poolID id.PoolID) (*pool.BalanceView, error) {
	p, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	v := p.View()
	return &v, nil
}

// CheckLimits is the advisory pre-flight check for one request: it reports
// the denial a Reserve with this cost would produce, without holding
// anything.
func (e *Engine) CheckLimits(ctx context.Context, poolID id.PoolID, userID string, estimatedCost types.Credits) (pool.Denial, error) {
	m, err := e.store.GetMemberByUser(ctx, poolID, userID)
	if err != nil {
		return pool.DenialNone, err
	}
	return m.CheckLimits(estimatedCost, e.now()), nil
}

// InviteMember adds a user to a pool in the invited state. Only owners
// and admins may invite.
func (e *Engine) InviteMember(ctx context.Context, poolID id.PoolID, inviterUserID, userID string, role pool.Role, limits pool.Limits) (*pool.Member, error) {
	if role == pool.RoleOwner {
		return nil, fmt.Errorf("%w: a pool has exactly one owner", ErrInvalidInput)
	}

	inviter, err := e.store.GetMemberByUser(ctx, poolID, inviterUserID)
	if err != nil {
		return nil, err
	}
	if inviter.Status != pool.MemberActive || (inviter.Role != pool.RoleOwner && inviter.Role != pool.RoleAdmin) {
		return nil, fmt.Errorf("%w: only owners and admins can invite members", ErrLimitExceeded)
	}

	if _, err := e.store.GetMemberByUser(ctx, poolID, userID); err == nil {
		return nil, fmt.Errorf("%w: user %s is already a member", ErrAlreadyExists, userID)
	} else if !IsNotFound(err) {
		return nil, err
	}

	m := &pool.Member{
		Entity:    types.NewEntity(),
		ID:        id.NewMemberID(),
		PoolID:    poolID,
		UserID:    userID,
		Role:      role,
		Status:    pool.MemberInvited,
		Limits:    limits,
		InvitedAt: e.now(),
	}
	if err := e.store.CreateMember(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// AcceptInvite activates an invited membership.
func (e *Engine) AcceptInvite(ctx context.Context, memberID id.MemberID) (*pool.Member, error) {
	m, err := e.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m.Status != pool.MemberInvited {
		return nil, fmt.Errorf("%w: membership is %s, not invited", ErrInvalidInput, m.Status)
	}

	now := e.now()
	m.Status = pool.MemberActive
	m.AcceptedAt = &now
	m.Touch()
	if err := e.store.UpdateMember(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMemberLimits replaces a member's spending limits. Zero values
// mean unlimited.
func (e *Engine) UpdateMemberLimits(ctx context.Context, memberID id.MemberID, limits pool.Limits) (*pool.Member, error) {
	m, err := e.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	m.Limits = limits
	m.Touch()
	if err := e.store.UpdateMember(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// SuspendMember blocks a member from consuming without removing their
// history.
func (e *Engine) SuspendMember(ctx context.Context, memberID id.MemberID) error {
	return e.setMemberStatus(ctx, memberID, pool.MemberSuspended)
}

// RemoveMember removes a member from the pool. The pool owner cannot be
// removed.
func (e *Engine) RemoveMember(ctx context.Context, memberID id.MemberID) error {
	m, err := e.store.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	if m.Role == pool.RoleOwner {
		return fmt.Errorf("%w: the pool owner cannot be removed", ErrInvalidInput)
	}
	return e.setMemberStatus(ctx, memberID, pool.MemberRemoved)
}

func (e *Engine) setMemberStatus(ctx context.Context, memberID id.MemberID, status pool.MemberStatus) error {
	m, err := e.store.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	m.Status = status
	m.Touch()
	return e.store.UpdateMember(ctx, m)
}

// ListMembers lists a pool's memberships.
func (e *Engine) ListMembers(ctx context.Context, poolID id.PoolID) ([]*pool.Member, error) {
	return e.store.ListMembers(ctx, poolID)
}

// AutoPurchaseParams configures a pool's auto-top-up.
type AutoPurchaseParams struct {
	Enabled          bool
	Threshold        types.Credits
	TopUpAmount      types.Credits
	MonthlySpendCap  types.Money
	PaymentMethodRef string
}

// SetAutoPurchase updates the pool's auto-purchase configuration. The
// trigger latch and month-spend accounting carry over unchanged.
func (e *Engine) SetAutoPurchase(ctx context.Context, poolID id.PoolID, params AutoPurchaseParams) (*pool.CreditPool, error) {
	if params.Enabled {
		if !params.Threshold.IsPositive() || !params.TopUpAmount.IsPositive() {
			return nil, fmt.Errorf("%w: auto-purchase needs a positive threshold and top-up amount", ErrInvalidInput)
		}
		if params.PaymentMethodRef == "" {
			return nil, fmt.Errorf("%w: auto-purchase needs a stored payment method", ErrInvalidInput)
		}
	}

	entry, err := e.commitWithRetry(ctx, poolID, func(p *pool.CreditPool) (*store.Entry, error) {
		if p.Status != pool.StatusActive {
			return nil, ErrPoolClosed
		}
		if !params.MonthlySpendCap.IsZero() {
			settings, serr := e.settings(ctx, p.TenantID)
			if serr != nil {
				return nil, serr
			}
			if params.MonthlySpendCap.Currency != settings.Tariff.UnitPrice.Currency {
				return nil, fmt.Errorf("%w: spend cap currency %q does not match tariff currency %q",
					ErrInvalidInput, params.MonthlySpendCap.Currency, settings.Tariff.UnitPrice.Currency)
			}
		}
		p.AutoPurchase.Enabled = params.Enabled
		p.AutoPurchase.Threshold = params.Threshold
		p.AutoPurchase.TopUpAmount = params.TopUpAmount
		p.AutoPurchase.MonthlySpendCap = params.MonthlySpendCap
		p.AutoPurchase.PaymentMethodRef = params.PaymentMethodRef
		if !params.Enabled {
			p.AutoPurchase.Triggered = false
		}
		return &store.Entry{Pool: nextEntry(p)}, nil
	})
	if err != nil {
		return nil, err
	}
	return entry.Pool, nil
}

// ClosePool closes a pool. Pools with outstanding reservations cannot
// close; settle or release them first.
func (e *Engine) ClosePool(ctx context.Context, poolID id.PoolID) (*pool.CreditPool, error) {
	active, err := e.store.CountActiveReservations(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, fmt.Errorf("%w: %d active reservations", ErrPoolHasHolds, active)
	}

	now := e.now()
	entry, err := e.commitWithRetry(ctx, poolID, func(p *pool.CreditPool) (*store.Entry, error) {
		if p.Status == pool.StatusClosed {
			return nil, ErrPoolClosed
		}
		if p.Reserved.IsPositive() {
			return nil, fmt.Errorf("%w: %s still reserved", ErrPoolHasHolds, p.Reserved)
		}
		p.Status = pool.StatusClosed
		p.ClosedAt = &now
		return &store.Entry{Pool: nextEntry(p)}, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("pool closed", "pool_id", poolID.String())
	return entry.Pool, nil
}
