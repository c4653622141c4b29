// Package memory provides an in-memory Store for tests and demos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	credits "github.com/radiant/credits"
	"github.com/radiant/credits/id"
	"github.com/radiant/credits/pool"
	"github.com/radiant/credits/purchase"
	"github.com/radiant/credits/reservation"
	"github.com/radiant/credits/store"
	"github.com/radiant/credits/txn"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	pools        map[string]*pool.CreditPool
	members      map[string]*pool.Member
	reservations map[string]*reservation.Reservation // keyed by request ID
	purchases    map[string]*purchase.CreditPurchase
	transactions map[string][]*txn.CreditTransaction // keyed by pool ID, append order
	usage        map[string][]*txn.Usage
}

func New() *Store {
	return &Store{
		pools:        make(map[string]*pool.CreditPool),
		members:      make(map[string]*pool.Member),
		reservations: make(map[string]*reservation.Reservation),
		purchases:    make(map[string]*purchase.CreditPurchase),
		transactions: make(map[string][]*txn.CreditTransaction),
		usage:        make(map[string][]*txn.Usage),
	}
}

// Pool store implementation

func (s *Store) CreatePool(_ context.Context, p *pool.CreditPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pools[p.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.pools[p.ID.String()] = p.Clone()
	return nil
}

func (s *Store) GetPool(_ context.Context, poolID id.PoolID) (*pool.CreditPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.pools[poolID.String()]; ok {
		return p.Clone(), nil
	}
	return nil, credits.ErrPoolNotFound
}

// Member store implementation

func (s *Store) CreateMember(_ context.Context, m *pool.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members[m.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.members[m.ID.String()] = m.Clone()
	return nil
}

func (s *Store) GetMember(_ context.Context, memberID id.MemberID) (*pool.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.members[memberID.String()]; ok {
		return m.Clone(), nil
	}
	return nil, credits.ErrMemberNotFound
}

func (s *Store) GetMemberByUser(_ context.Context, poolID id.PoolID, userID string) (*pool.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.members {
		if m.PoolID.String() == poolID.String() && m.UserID == userID && m.Status != pool.MemberRemoved {
			return m.Clone(), nil
		}
	}
	return nil, credits.ErrMemberNotFound
}

func (s *Store) FindMembership(_ context.Context, userID string) (*pool.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.members {
		if m.UserID == userID && m.Status == pool.MemberActive {
			return m.Clone(), nil
		}
	}
	return nil, credits.ErrMemberNotFound
}

func (s *Store) ListMembers(_ context.Context, poolID id.PoolID) ([]*pool.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*pool.Member, 0)
	for _, m := range s.members {
		if m.PoolID.String() == poolID.String() {
			result = append(result, m.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) UpdateMember(_ context.Context, m *pool.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members[m.ID.String()]; !exists {
		return credits.ErrMemberNotFound
	}
	s.members[m.ID.String()] = m.Clone()
	return nil
}

// Reservation store implementation

func (s *Store) GetReservation(_ context.Context, requestID string) (*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.reservations[requestID]; ok {
		return r.Clone(), nil
	}
	return nil, credits.ErrReservationNotFound
}

func (s *Store) ListExpiredReservations(_ context.Context, asOf time.Time, limit int) ([]*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*reservation.Reservation, 0)
	for _, r := range s.reservations {
		if r.Expired(asOf) {
			result = append(result, r.Clone())
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (s *Store) CountActiveReservations(_ context.Context, poolID id.PoolID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.reservations {
		if r.PoolID.String() == poolID.String() && r.Status == reservation.StatusActive {
			count++
		}
	}
	return count, nil
}

// Purchase store implementation

func (s *Store) CreatePurchase(_ context.Context, p *purchase.CreditPurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.purchases[p.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.purchases[p.ID.String()] = p.Clone()
	return nil
}

func (s *Store) GetPurchase(_ context.Context, purchaseID id.PurchaseID) (*purchase.CreditPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.purchases[purchaseID.String()]; ok {
		return p.Clone(), nil
	}
	return nil, credits.ErrPurchaseNotFound
}

func (s *Store) GetPurchaseByPaymentRef(_ context.Context, paymentRef string) (*purchase.CreditPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.purchases {
		if p.PaymentRef != "" && p.PaymentRef == paymentRef {
			return p.Clone(), nil
		}
	}
	return nil, credits.ErrPurchaseNotFound
}

func (s *Store) UpdatePurchase(_ context.Context, p *purchase.CreditPurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.purchases[p.ID.String()]; !exists {
		return credits.ErrPurchaseNotFound
	}
	s.purchases[p.ID.String()] = p.Clone()
	return nil
}

func (s *Store) ListPurchases(_ context.Context, poolID id.PoolID, opts purchase.ListOpts) ([]*purchase.CreditPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*purchase.CreditPurchase, 0)
	for _, p := range s.purchases {
		if p.PoolID.String() != poolID.String() {
			continue
		}
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		result = append(result, p.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (s *Store) ListStalledPurchases(_ context.Context, olderThan time.Time, limit int) ([]*purchase.CreditPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*purchase.CreditPurchase, 0)
	for _, p := range s.purchases {
		if p.Status == purchase.StatusProcessing && p.PaymentRef != "" && p.UpdatedAt.Before(olderThan) {
			result = append(result, p.Clone())
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Ledger reads

func (s *Store) ListTransactions(_ context.Context, poolID id.PoolID, opts txn.ListOpts) ([]*txn.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*txn.CreditTransaction, 0)
	for _, t := range s.transactions[poolID.String()] {
		if opts.Matches(t) {
			cp := *t
			result = append(result, &cp)
			if opts.Limit > 0 && len(result) >= opts.Limit {
				break
			}
		}
	}
	return result, nil
}

func (s *Store) ListUsage(_ context.Context, poolID id.PoolID, opts txn.ListOpts) ([]*txn.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*txn.Usage, 0)
	for _, u := range s.usage[poolID.String()] {
		if !opts.Start.IsZero() && u.CreatedAt.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && !u.CreatedAt.Before(opts.End) {
			continue
		}
		cp := *u
		result = append(result, &cp)
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}

// Commit applies an Entry under the store mutex, enforcing the optimistic
// version check, so the balance mutation and its appends are indivisible.
func (s *Store) Commit(_ context.Context, e *store.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Pool != nil {
		current, ok := s.pools[e.Pool.ID.String()]
		if !ok {
			return credits.ErrPoolNotFound
		}
		if current.Version != e.Pool.Version-1 {
			return credits.ErrVersionConflict
		}
	}

	// Version verified; everything below must succeed together.
	if e.Pool != nil {
		s.pools[e.Pool.ID.String()] = e.Pool.Clone()
	}
	if e.Member != nil {
		s.members[e.Member.ID.String()] = e.Member.Clone()
	}
	if e.Reservation != nil {
		s.reservations[e.Reservation.RequestID] = e.Reservation.Clone()
	}
	if e.Purchase != nil {
		s.purchases[e.Purchase.ID.String()] = e.Purchase.Clone()
	}
	for _, t := range e.Transactions {
		cp := *t
		s.transactions[t.PoolID.String()] = append(s.transactions[t.PoolID.String()], &cp)
	}
	for _, u := range e.Usage {
		cp := *u
		s.usage[u.PoolID.String()] = append(s.usage[u.PoolID.String()], &cp)
	}

	return nil
}

// Store management

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}
