// Package postgres implements the credit store on PostgreSQL via lib/pq.
// The production backend: concurrent engines on separate processes
// serialize per pool through the conditional version update.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // database/sql driver, registered as "postgres"

	credits "github.com/radiant/credits"
	"github.com/radiant/credits/id"
	"github.com/radiant/credits/pool"
	"github.com/radiant/credits/purchase"
	"github.com/radiant/credits/reservation"
	creditstore "github.com/radiant/credits/store"
	"github.com/radiant/credits/txn"
)

// compile-time interface check
var _ creditstore.Store = (*Store)(nil)

// Store implements store.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database at the given URL.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: %v", credits.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Pools ====================

func (s *Store) CreatePool(ctx context.Context, p *pool.CreditPool) error {
	ap, err := json.Marshal(p.AutoPurchase)
	if err != nil {
		return err
	}
	meta, err := marshalMeta(p.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO credit_pools
  (id, tenant_id, owner_id, kind, status, available, reserved,
   included_remaining, bonus_remaining, purchased_remaining,
   auto_purchase, version, closed_at, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		p.ID, p.TenantID, p.OwnerID, string(p.Kind), string(p.Status),
		p.Available.Milli(), p.Reserved.Milli(),
		p.IncludedRemaining.Milli(), p.BonusRemaining.Milli(), p.PurchasedRemaining.Milli(),
		ap, p.Version, p.ClosedAt, meta,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return err
}

func (s *Store) GetPool(ctx context.Context, poolID id.PoolID) (*pool.CreditPool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, tenant_id, owner_id, kind, status, available, reserved,
       included_remaining, bonus_remaining, purchased_remaining,
       auto_purchase, version, closed_at, metadata, created_at, updated_at
FROM credit_pools WHERE id = $1`, poolID)

	p, err := scanPool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrPoolNotFound
	}
	return p, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPool(row rowScanner) (*pool.CreditPool, error) {
	var (
		p                          pool.CreditPool
		kind, status               string
		avail, resv, inc, bon, pur int64
		ap, meta                   []byte
		closedAt                   sql.NullTime
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.OwnerID, &kind, &status,
		&avail, &resv, &inc, &bon, &pur,
		&ap, &p.Version, &closedAt, &meta, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Kind = pool.Kind(kind)
	p.Status = pool.Status(status)
	p.Available = credits.Milli(avail)
	p.Reserved = credits.Milli(resv)
	p.IncludedRemaining = credits.Milli(inc)
	p.BonusRemaining = credits.Milli(bon)
	p.PurchasedRemaining = credits.Milli(pur)
	if err := json.Unmarshal(ap, &p.AutoPurchase); err != nil {
		return nil, fmt.Errorf("postgres: decode auto_purchase: %w", err)
	}
	if err := json.Unmarshal(meta, &p.Metadata); err != nil {
		return nil, fmt.Errorf("postgres: decode metadata: %w", err)
	}
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return &p, nil
}

// ==================== Members ====================

const memberColumns = `id, pool_id, user_id, role, status, limits, counters,
       invited_at, accepted_at, created_at, updated_at`

func (s *Store) CreateMember(ctx context.Context, m *pool.Member) error {
	limits, counters, err := marshalMemberJSON(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO credit_members
  (id, pool_id, user_id, role, status, limits, counters,
   invited_at, accepted_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.PoolID, m.UserID, string(m.Role), string(m.Status),
		limits, counters, m.InvitedAt.UTC(), m.AcceptedAt,
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	return err
}

func (s *Store) GetMember(ctx context.Context, memberID id.MemberID) (*pool.Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM credit_members WHERE id = $1`, memberID)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrMemberNotFound
	}
	return m, err
}

func (s *Store) GetMemberByUser(ctx context.Context, poolID id.PoolID, userID string) (*pool.Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM credit_members WHERE pool_id = $1 AND user_id = $2`,
		poolID, userID)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrMemberNotFound
	}
	return m, err
}

func (s *Store) FindMembership(ctx context.Context, userID string) (*pool.Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM credit_members
		 WHERE user_id = $1 AND status = $2 ORDER BY created_at LIMIT 1`,
		userID, string(pool.MemberActive))
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrMemberNotFound
	}
	return m, err
}

func (s *Store) ListMembers(ctx context.Context, poolID id.PoolID) ([]*pool.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM credit_members WHERE pool_id = $1 ORDER BY created_at`,
		poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*pool.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) UpdateMember(ctx context.Context, m *pool.Member) error {
	limits, counters, err := marshalMemberJSON(m)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE credit_members
SET role = $1, status = $2, limits = $3, counters = $4, accepted_at = $5, updated_at = $6
WHERE id = $7`,
		string(m.Role), string(m.Status), limits, counters,
		m.AcceptedAt, m.UpdatedAt.UTC(), m.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, credits.ErrMemberNotFound)
}

func marshalMemberJSON(m *pool.Member) (limits, counters []byte, err error) {
	l, err := json.Marshal(m.Limits)
	if err != nil {
		return nil, nil, err
	}
	c, err := json.Marshal(m.Counters)
	if err != nil {
		return nil, nil, err
	}
	return l, c, nil
}

func scanMember(row rowScanner) (*pool.Member, error) {
	var (
		m                pool.Member
		role, status     string
		limits, counters []byte
		acceptedAt       sql.NullTime
	)
	err := row.Scan(&m.ID, &m.PoolID, &m.UserID, &role, &status,
		&limits, &counters, &m.InvitedAt, &acceptedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	m.Role = pool.Role(role)
	m.Status = pool.MemberStatus(status)
	if err := json.Unmarshal(limits, &m.Limits); err != nil {
		return nil, fmt.Errorf("postgres: decode limits: %w", err)
	}
	if err := json.Unmarshal(counters, &m.Counters); err != nil {
		return nil, fmt.Errorf("postgres: decode counters: %w", err)
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		m.AcceptedAt = &t
	}
	return &m, nil
}

// ==================== Reservations ====================

const reservationColumns = `request_id, id, pool_id, member_id, status,
       estimated_cost, settled_cost, shortfall_logged, created_at, expires_at, resolved_at`

func (s *Store) GetReservation(ctx context.Context, requestID string) (*reservation.Reservation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM credit_reservations WHERE request_id = $1`,
		requestID)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrReservationNotFound
	}
	return r, err
}

func (s *Store) ListExpiredReservations(ctx context.Context, asOf time.Time, limit int) ([]*reservation.Reservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM credit_reservations
		 WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2
		 ORDER BY expires_at LIMIT $3`,
		string(reservation.StatusActive), asOf.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*reservation.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) CountActiveReservations(ctx context.Context, poolID id.PoolID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credit_reservations WHERE pool_id = $1 AND status = $2`,
		poolID, string(reservation.StatusActive)).Scan(&n)
	return n, err
}

func scanReservation(row rowScanner) (*reservation.Reservation, error) {
	var (
		r                     reservation.Reservation
		status                string
		est, settled, short   int64
		expiresAt, resolvedAt sql.NullTime
	)
	err := row.Scan(&r.RequestID, &r.ID, &r.PoolID, &r.MemberID, &status,
		&est, &settled, &short, &r.CreatedAt, &expiresAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	r.Status = reservation.Status(status)
	r.EstimatedCost = credits.Milli(est)
	r.SettledCost = credits.Milli(settled)
	r.ShortfallLogged = credits.Milli(short)
	if expiresAt.Valid {
		r.ExpiresAt = expiresAt.Time
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		r.ResolvedAt = &t
	}
	return &r, nil
}

func upsertReservation(ctx context.Context, tx *sql.Tx, r *reservation.Reservation) error {
	var expiresAt any
	if !r.ExpiresAt.IsZero() {
		expiresAt = r.ExpiresAt.UTC()
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO credit_reservations
  (request_id, id, pool_id, member_id, status, estimated_cost,
   settled_cost, shortfall_logged, created_at, expires_at, resolved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (request_id) DO UPDATE SET
  status = excluded.status,
  settled_cost = excluded.settled_cost,
  shortfall_logged = excluded.shortfall_logged,
  resolved_at = excluded.resolved_at`,
		r.RequestID, r.ID, r.PoolID, r.MemberID, string(r.Status),
		r.EstimatedCost.Milli(), r.SettledCost.Milli(), r.ShortfallLogged.Milli(),
		r.CreatedAt.UTC(), expiresAt, r.ResolvedAt,
	)
	return err
}

// ==================== Purchases ====================

const purchaseColumns = `id, pool_id, user_id, tenant_id, status,
       requested_credits, bonus_credits, total_credits,
       base_price, discount, final_price, currency,
       payment_ref, payment_method_ref, failure_reason, auto_triggered,
       refunded_credits, completed_at, created_at, updated_at`

func (s *Store) CreatePurchase(ctx context.Context, p *purchase.CreditPurchase) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credit_purchases (`+purchaseColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		p.ID, p.PoolID, p.UserID, p.TenantID, string(p.Status),
		p.RequestedCredits.Milli(), p.BonusCredits.Milli(), p.TotalCredits.Milli(),
		p.BasePrice.Amount, p.Discount.Amount, p.FinalPrice.Amount, p.BasePrice.Currency,
		nullString(p.PaymentRef), p.PaymentMethodRef, p.FailureReason, p.AutoTriggered,
		p.RefundedCredits.Milli(), p.CompletedAt,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return err
}

func (s *Store) GetPurchase(ctx context.Context, purchaseID id.PurchaseID) (*purchase.CreditPurchase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM credit_purchases WHERE id = $1`, purchaseID)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrPurchaseNotFound
	}
	return p, err
}

func (s *Store) GetPurchaseByPaymentRef(ctx context.Context, paymentRef string) (*purchase.CreditPurchase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM credit_purchases WHERE payment_ref = $1`, paymentRef)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrPurchaseNotFound
	}
	return p, err
}

const purchaseUpdateSQL = `
UPDATE credit_purchases
SET status = $1, payment_ref = $2, failure_reason = $3, refunded_credits = $4,
    completed_at = $5, updated_at = $6
WHERE id = $7`

func purchaseUpdateArgs(p *purchase.CreditPurchase) []any {
	return []any{
		string(p.Status), nullString(p.PaymentRef), p.FailureReason,
		p.RefundedCredits.Milli(), p.CompletedAt, p.UpdatedAt.UTC(),
		p.ID,
	}
}

func (s *Store) UpdatePurchase(ctx context.Context, p *purchase.CreditPurchase) error {
	res, err := s.db.ExecContext(ctx, purchaseUpdateSQL, purchaseUpdateArgs(p)...)
	if err != nil {
		return err
	}
	return requireRow(res, credits.ErrPurchaseNotFound)
}

func (s *Store) ListPurchases(ctx context.Context, poolID id.PoolID, opts purchase.ListOpts) ([]*purchase.CreditPurchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM credit_purchases WHERE pool_id = $1`
	args := []any{poolID}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		q += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	q += ` ORDER BY created_at`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPurchases(rows)
}

func (s *Store) ListStalledPurchases(ctx context.Context, olderThan time.Time, limit int) ([]*purchase.CreditPurchase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+purchaseColumns+` FROM credit_purchases
		 WHERE status = $1 AND payment_ref IS NOT NULL AND updated_at < $2
		 ORDER BY updated_at LIMIT $3`,
		string(purchase.StatusProcessing), olderThan.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPurchases(rows)
}

func collectPurchases(rows *sql.Rows) ([]*purchase.CreditPurchase, error) {
	var result []*purchase.CreditPurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanPurchase(row rowScanner) (*purchase.CreditPurchase, error) {
	var (
		p                     purchase.CreditPurchase
		status, currency      string
		req, bonus, total     int64
		base, discount, final int64
		refunded              int64
		paymentRef            sql.NullString
		completedAt           sql.NullTime
	)
	err := row.Scan(&p.ID, &p.PoolID, &p.UserID, &p.TenantID, &status,
		&req, &bonus, &total, &base, &discount, &final, &currency,
		&paymentRef, &p.PaymentMethodRef, &p.FailureReason, &p.AutoTriggered,
		&refunded, &completedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = purchase.Status(status)
	p.RequestedCredits = credits.Milli(req)
	p.BonusCredits = credits.Milli(bonus)
	p.TotalCredits = credits.Milli(total)
	p.BasePrice = credits.Money{Amount: base, Currency: currency}
	p.Discount = credits.Money{Amount: discount, Currency: currency}
	p.FinalPrice = credits.Money{Amount: final, Currency: currency}
	p.PaymentRef = paymentRef.String
	p.RefundedCredits = credits.Milli(refunded)
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}

// ==================== Ledger reads ====================

func (s *Store) ListTransactions(ctx context.Context, poolID id.PoolID, opts txn.ListOpts) ([]*txn.CreditTransaction, error) {
	q := `
SELECT id, pool_id, member_id, type, amount,
       split_included, split_bonus, split_purchased,
       available_after, sequence, request_id, purchase_id, model, description, created_at
FROM credit_transactions WHERE pool_id = $1`
	args := []any{poolID}
	if len(opts.Types) > 0 {
		ph := make([]string, 0, len(opts.Types))
		for _, t := range opts.Types {
			args = append(args, string(t))
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		q += ` AND type IN (` + strings.Join(ph, ", ") + `)`
	}
	if !opts.Start.IsZero() {
		args = append(args, opts.Start.UTC())
		q += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if !opts.End.IsZero() {
		args = append(args, opts.End.UTC())
		q += fmt.Sprintf(` AND created_at < $%d`, len(args))
	}
	q += ` ORDER BY sequence, id`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*txn.CreditTransaction
	for rows.Next() {
		var (
			t             txn.CreditTransaction
			typ           string
			amount, after int64
			inc, bon, pur int64
		)
		err := rows.Scan(&t.ID, &t.PoolID, &t.MemberID, &typ, &amount,
			&inc, &bon, &pur, &after, &t.Sequence,
			&t.RequestID, &t.PurchaseID, &t.Model, &t.Description, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		t.Type = txn.Type(typ)
		t.Amount = credits.Milli(amount)
		t.Split = txn.SourceSplit{
			Included:  credits.Milli(inc),
			Bonus:     credits.Milli(bon),
			Purchased: credits.Milli(pur),
		}
		t.AvailableAfter = credits.Milli(after)
		result = append(result, &t)
	}
	return result, rows.Err()
}

func (s *Store) ListUsage(ctx context.Context, poolID id.PoolID, opts txn.ListOpts) ([]*txn.Usage, error) {
	q := `
SELECT id, pool_id, member_id, transaction_id, request_id, model,
       input_tokens, output_tokens, cost,
       split_included, split_bonus, split_purchased, created_at
FROM credit_usage WHERE pool_id = $1`
	args := []any{poolID}
	if !opts.Start.IsZero() {
		args = append(args, opts.Start.UTC())
		q += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if !opts.End.IsZero() {
		args = append(args, opts.End.UTC())
		q += fmt.Sprintf(` AND created_at < $%d`, len(args))
	}
	q += ` ORDER BY created_at, id`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*txn.Usage
	for rows.Next() {
		var (
			u             txn.Usage
			cost          int64
			inc, bon, pur int64
		)
		err := rows.Scan(&u.ID, &u.PoolID, &u.MemberID, &u.TransactionID,
			&u.RequestID, &u.Model, &u.InputTokens, &u.OutputTokens,
			&cost, &inc, &bon, &pur, &u.CreatedAt)
		if err != nil {
			return nil, err
		}
		u.Cost = credits.Milli(cost)
		u.Split = txn.SourceSplit{
			Included:  credits.Milli(inc),
			Bonus:     credits.Milli(bon),
			Purchased: credits.Milli(pur),
		}
		result = append(result, &u)
	}
	return result, rows.Err()
}

// ==================== Commit ====================

// Commit applies an Entry in one transaction. The pool row update is
// conditional on the prior version; zero rows affected means another
// commit won the race.
func (s *Store) Commit(ctx context.Context, e *creditstore.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if e.Pool != nil {
		ap, err := json.Marshal(e.Pool.AutoPurchase)
		if err != nil {
			return err
		}
		meta, err := marshalMeta(e.Pool.Metadata)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
UPDATE credit_pools
SET status = $1, available = $2, reserved = $3,
    included_remaining = $4, bonus_remaining = $5, purchased_remaining = $6,
    auto_purchase = $7, version = $8, closed_at = $9, metadata = $10, updated_at = $11
WHERE id = $12 AND version = $13`,
			string(e.Pool.Status),
			e.Pool.Available.Milli(), e.Pool.Reserved.Milli(),
			e.Pool.IncludedRemaining.Milli(), e.Pool.BonusRemaining.Milli(), e.Pool.PurchasedRemaining.Milli(),
			ap, e.Pool.Version, e.Pool.ClosedAt, meta,
			e.Pool.UpdatedAt.UTC(),
			e.Pool.ID, e.Pool.Version-1,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM credit_pools WHERE id = $1`, e.Pool.ID).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return credits.ErrPoolNotFound
			}
			return credits.ErrVersionConflict
		}
	}

	if e.Member != nil {
		limits, counters, err := marshalMemberJSON(e.Member)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE credit_members
SET role = $1, status = $2, limits = $3, counters = $4, accepted_at = $5, updated_at = $6
WHERE id = $7`,
			string(e.Member.Role), string(e.Member.Status), limits, counters,
			e.Member.AcceptedAt, e.Member.UpdatedAt.UTC(), e.Member.ID,
		); err != nil {
			return err
		}
	}

	if e.Reservation != nil {
		if err := upsertReservation(ctx, tx, e.Reservation); err != nil {
			return err
		}
	}

	if e.Purchase != nil {
		if _, err := tx.ExecContext(ctx, purchaseUpdateSQL, purchaseUpdateArgs(e.Purchase)...); err != nil {
			return err
		}
	}

	for _, t := range e.Transactions {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO credit_transactions
  (id, pool_id, member_id, type, amount,
   split_included, split_bonus, split_purchased,
   available_after, sequence, request_id, purchase_id, model, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			t.ID, t.PoolID, t.MemberID, string(t.Type), t.Amount.Milli(),
			t.Split.Included.Milli(), t.Split.Bonus.Milli(), t.Split.Purchased.Milli(),
			t.AvailableAfter.Milli(), t.Sequence, t.RequestID, t.PurchaseID,
			t.Model, t.Description, t.CreatedAt.UTC(),
		); err != nil {
			return err
		}
	}

	for _, u := range e.Usage {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO credit_usage
  (id, pool_id, member_id, transaction_id, request_id, model,
   input_tokens, output_tokens, cost,
   split_included, split_bonus, split_purchased, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			u.ID, u.PoolID, u.MemberID, u.TransactionID, u.RequestID, u.Model,
			u.InputTokens, u.OutputTokens, u.Cost.Milli(),
			u.Split.Included.Milli(), u.Split.Bonus.Milli(), u.Split.Purchased.Milli(),
			u.CreatedAt.UTC(),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ==================== Helpers ====================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalMeta(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
