// Package sqlite implements the credit store on SQLite via the pure-Go
// modernc.org driver. Suited to single-node deployments and tests that
// need durability without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // database/sql driver, registered as "sqlite"

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

// Store implements store.Store on SQLite.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) the database at path. SQLite serializes writers,
// so a single connection avoids SQLITE_BUSY under concurrent commits.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.OwnerID, string(p.Kind), string(p.Status),
		p.Available.Milli(), p.Reserved.Milli(),
		p.IncludedRemaining.Milli(), p.BonusRemaining.Milli(), p.PurchasedRemaining.Milli(),
		string(ap), p.Version, fmtTimePtr(p.ClosedAt), string(meta),
		fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	)
	return err
}

func (s *Store) GetPool(ctx context.Context, poolID id.PoolID) (*pool.CreditPool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, tenant_id, owner_id, kind, status, available, reserved,
       included_remaining, bonus_remaining, purchased_remaining,
       auto_purchase, version, closed_at, metadata, created_at, updated_at
FROM credit_pools WHERE id = ?`, poolID)

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
		kind, status, ap, meta     string
		avail, resv, inc, bon, pur int64
		closedAt                   sql.NullString
		createdAt, updatedAt       string
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.OwnerID, &kind, &status,
		&avail, &resv, &inc, &bon, &pur,
		&ap, &p.Version, &closedAt, &meta, &createdAt, &updatedAt)
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
	if err := json.Unmarshal([]byte(ap), &p.AutoPurchase); err != nil {
		return nil, fmt.Errorf("sqlite: decode auto_purchase: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &p.Metadata); err != nil {
		return nil, fmt.Errorf("sqlite: decode metadata: %w", err)
	}
	p.ClosedAt = parseTimePtr(closedAt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// ==================== Members ====================

func (s *Store) CreateMember(ctx context.Context, m *pool.Member) error {
	limits, counters, err := marshalMemberJSON(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO credit_members
  (id, pool_id, user_id, role, status, limits, counters,
   invited_at, accepted_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.PoolID, m.UserID, string(m.Role), string(m.Status),
		limits, counters, fmtTime(m.InvitedAt), fmtTimePtr(m.AcceptedAt),
		fmtTime(m.CreatedAt), fmtTime(m.UpdatedAt),
	)
	return err
}

const memberColumns = `id, pool_id, user_id, role, status, limits, counters,
       invited_at, accepted_at, created_at, updated_at`

func (s *Store) GetMember(ctx context.Context, memberID id.MemberID) (*pool.Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM credit_members WHERE id = ?`, memberID)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrMemberNotFound
	}
	return m, err
}

func (s *Store) GetMemberByUser(ctx context.Context, poolID id.PoolID, userID string) (*pool.Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM credit_members WHERE pool_id = ? AND user_id = ?`,
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
		 WHERE user_id = ? AND status = ? ORDER BY created_at LIMIT 1`,
		userID, string(pool.MemberActive))
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrMemberNotFound
	}
	return m, err
}

func (s *Store) ListMembers(ctx context.Context, poolID id.PoolID) ([]*pool.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM credit_members WHERE pool_id = ? ORDER BY created_at`,
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
SET role = ?, status = ?, limits = ?, counters = ?, accepted_at = ?, updated_at = ?
WHERE id = ?`,
		string(m.Role), string(m.Status), limits, counters,
		fmtTimePtr(m.AcceptedAt), fmtTime(m.UpdatedAt), m.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, credits.ErrMemberNotFound)
}

func marshalMemberJSON(m *pool.Member) (limits, counters string, err error) {
	l, err := json.Marshal(m.Limits)
	if err != nil {
		return "", "", err
	}
	c, err := json.Marshal(m.Counters)
	if err != nil {
		return "", "", err
	}
	return string(l), string(c), nil
}

func scanMember(row rowScanner) (*pool.Member, error) {
	var (
		m                    pool.Member
		role, status         string
		limits, counters     string
		invitedAt            string
		acceptedAt           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&m.ID, &m.PoolID, &m.UserID, &role, &status,
		&limits, &counters, &invitedAt, &acceptedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	m.Role = pool.Role(role)
	m.Status = pool.MemberStatus(status)
	if err := json.Unmarshal([]byte(limits), &m.Limits); err != nil {
		return nil, fmt.Errorf("sqlite: decode limits: %w", err)
	}
	if err := json.Unmarshal([]byte(counters), &m.Counters); err != nil {
		return nil, fmt.Errorf("sqlite: decode counters: %w", err)
	}
	m.InvitedAt = parseTime(invitedAt)
	m.AcceptedAt = parseTimePtr(acceptedAt)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

// ==================== Reservations ====================

const reservationColumns = `request_id, id, pool_id, member_id, status,
       estimated_cost, settled_cost, shortfall_logged, created_at, expires_at, resolved_at`

func (s *Store) GetReservation(ctx context.Context, requestID string) (*reservation.Reservation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM credit_reservations WHERE request_id = ?`,
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
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
		 ORDER BY expires_at LIMIT ?`,
		string(reservation.StatusActive), fmtTime(asOf), limit)
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
		`SELECT COUNT(*) FROM credit_reservations WHERE pool_id = ? AND status = ?`,
		poolID, string(reservation.StatusActive)).Scan(&n)
	return n, err
}

func scanReservation(row rowScanner) (*reservation.Reservation, error) {
	var (
		r                     reservation.Reservation
		status                string
		est, settled, short   int64
		createdAt             string
		expiresAt, resolvedAt sql.NullString
	)
	err := row.Scan(&r.RequestID, &r.ID, &r.PoolID, &r.MemberID, &status,
		&est, &settled, &short, &createdAt, &expiresAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	r.Status = reservation.Status(status)
	r.EstimatedCost = credits.Milli(est)
	r.SettledCost = credits.Milli(settled)
	r.ShortfallLogged = credits.Milli(short)
	r.CreatedAt = parseTime(createdAt)
	if expiresAt.Valid {
		r.ExpiresAt = parseTime(expiresAt.String)
	}
	r.ResolvedAt = parseTimePtr(resolvedAt)
	return &r, nil
}

func upsertReservation(ctx context.Context, tx *sql.Tx, r *reservation.Reservation) error {
	var expiresAt any
	if !r.ExpiresAt.IsZero() {
		expiresAt = fmtTime(r.ExpiresAt)
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO credit_reservations
  (request_id, id, pool_id, member_id, status, estimated_cost,
   settled_cost, shortfall_logged, created_at, expires_at, resolved_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (request_id) DO UPDATE SET
  status = excluded.status,
  settled_cost = excluded.settled_cost,
  shortfall_logged = excluded.shortfall_logged,
  resolved_at = excluded.resolved_at`,
		r.RequestID, r.ID, r.PoolID, r.MemberID, string(r.Status),
		r.EstimatedCost.Milli(), r.SettledCost.Milli(), r.ShortfallLogged.Milli(),
		fmtTime(r.CreatedAt), expiresAt, fmtTimePtr(r.ResolvedAt),
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		purchaseArgs(p)...)
	return err
}

func (s *Store) GetPurchase(ctx context.Context, purchaseID id.PurchaseID) (*purchase.CreditPurchase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM credit_purchases WHERE id = ?`, purchaseID)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrPurchaseNotFound
	}
	return p, err
}

func (s *Store) GetPurchaseByPaymentRef(ctx context.Context, paymentRef string) (*purchase.CreditPurchase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM credit_purchases WHERE payment_ref = ?`, paymentRef)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrPurchaseNotFound
	}
	return p, err
}

func (s *Store) UpdatePurchase(ctx context.Context, p *purchase.CreditPurchase) error {
	res, err := s.db.ExecContext(ctx, purchaseUpdateSQL, purchaseUpdateArgs(p)...)
	if err != nil {
		return err
	}
	return requireRow(res, credits.ErrPurchaseNotFound)
}

const purchaseUpdateSQL = `
UPDATE credit_purchases
SET status = ?, payment_ref = ?, failure_reason = ?, refunded_credits = ?,
    completed_at = ?, updated_at = ?
WHERE id = ?`

func purchaseUpdateArgs(p *purchase.CreditPurchase) []any {
	return []any{
		string(p.Status), nullString(p.PaymentRef), p.FailureReason,
		p.RefundedCredits.Milli(), fmtTimePtr(p.CompletedAt), fmtTime(p.UpdatedAt),
		p.ID,
	}
}

func (s *Store) ListPurchases(ctx context.Context, poolID id.PoolID, opts purchase.ListOpts) ([]*purchase.CreditPurchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM credit_purchases WHERE pool_id = ?`
	args := []any{poolID}
	if opts.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	q += ` ORDER BY created_at`
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
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
		 WHERE status = ? AND payment_ref IS NOT NULL AND updated_at < ?
		 ORDER BY updated_at LIMIT ?`,
		string(purchase.StatusProcessing), fmtTime(olderThan), limit)
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

func purchaseArgs(p *purchase.CreditPurchase) []any {
	return []any{
		p.ID, p.PoolID, p.UserID, p.TenantID, string(p.Status),
		p.RequestedCredits.Milli(), p.BonusCredits.Milli(), p.TotalCredits.Milli(),
		p.BasePrice.Amount, p.Discount.Amount, p.FinalPrice.Amount, p.BasePrice.Currency,
		nullString(p.PaymentRef), p.PaymentMethodRef, p.FailureReason, p.AutoTriggered,
		p.RefundedCredits.Milli(), fmtTimePtr(p.CompletedAt),
		fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	}
}

func scanPurchase(row rowScanner) (*purchase.CreditPurchase, error) {
	var (
		p                       purchase.CreditPurchase
		status, currency        string
		req, bonus, total       int64
		base, discount, final   int64
		refunded                int64
		paymentRef, completedAt sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(&p.ID, &p.PoolID, &p.UserID, &p.TenantID, &status,
		&req, &bonus, &total, &base, &discount, &final, &currency,
		&paymentRef, &p.PaymentMethodRef, &p.FailureReason, &p.AutoTriggered,
		&refunded, &completedAt, &createdAt, &updatedAt)
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
	p.CompletedAt = parseTimePtr(completedAt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// ==================== Ledger reads ====================

func (s *Store) ListTransactions(ctx context.Context, poolID id.PoolID, opts txn.ListOpts) ([]*txn.CreditTransaction, error) {
	q := `
SELECT id, pool_id, member_id, type, amount,
       split_included, split_bonus, split_purchased,
       available_after, sequence, request_id, purchase_id, model, description, created_at
FROM credit_transactions WHERE pool_id = ?`
	args := []any{poolID}
	if len(opts.Types) > 0 {
		q += ` AND type IN (` + placeholders(len(opts.Types)) + `)`
		for _, t := range opts.Types {
			args = append(args, string(t))
		}
	}
	if !opts.Start.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, fmtTime(opts.Start))
	}
	if !opts.End.IsZero() {
		q += ` AND created_at < ?`
		args = append(args, fmtTime(opts.End))
	}
	q += ` ORDER BY sequence, id`
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
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
			createdAt     string
		)
		err := rows.Scan(&t.ID, &t.PoolID, &t.MemberID, &typ, &amount,
			&inc, &bon, &pur, &after, &t.Sequence,
			&t.RequestID, &t.PurchaseID, &t.Model, &t.Description, &createdAt)
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
		t.CreatedAt = parseTime(createdAt)
		result = append(result, &t)
	}
	return result, rows.Err()
}

func (s *Store) ListUsage(ctx context.Context, poolID id.PoolID, opts txn.ListOpts) ([]*txn.Usage, error) {
	q := `
SELECT id, pool_id, member_id, transaction_id, request_id, model,
       input_tokens, output_tokens, cost,
       split_included, split_bonus, split_purchased, created_at
FROM credit_usage WHERE pool_id = ?`
	args := []any{poolID}
	if !opts.Start.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, fmtTime(opts.Start))
	}
	if !opts.End.IsZero() {
		q += ` AND created_at < ?`
		args = append(args, fmtTime(opts.End))
	}
	q += ` ORDER BY created_at, id`
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
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
			createdAt     string
		)
		err := rows.Scan(&u.ID, &u.PoolID, &u.MemberID, &u.TransactionID,
			&u.RequestID, &u.Model, &u.InputTokens, &u.OutputTokens,
			&cost, &inc, &bon, &pur, &createdAt)
		if err != nil {
			return nil, err
		}
		u.Cost = credits.Milli(cost)
		u.Split = txn.SourceSplit{
			Included:  credits.Milli(inc),
			Bonus:     credits.Milli(bon),
			Purchased: credits.Milli(pur),
		}
		u.CreatedAt = parseTime(createdAt)
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
SET status = ?, available = ?, reserved = ?,
    included_remaining = ?, bonus_remaining = ?, purchased_remaining = ?,
    auto_purchase = ?, version = ?, closed_at = ?, metadata = ?, updated_at = ?
WHERE id = ? AND version = ?`,
			string(e.Pool.Status),
			e.Pool.Available.Milli(), e.Pool.Reserved.Milli(),
			e.Pool.IncludedRemaining.Milli(), e.Pool.BonusRemaining.Milli(), e.Pool.PurchasedRemaining.Milli(),
			string(ap), e.Pool.Version, fmtTimePtr(e.Pool.ClosedAt), string(meta),
			fmtTime(e.Pool.UpdatedAt),
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
				`SELECT COUNT(*) FROM credit_pools WHERE id = ?`, e.Pool.ID).Scan(&exists); err != nil {
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
SET role = ?, status = ?, limits = ?, counters = ?, accepted_at = ?, updated_at = ?
WHERE id = ?`,
			string(e.Member.Role), string(e.Member.Status), limits, counters,
			fmtTimePtr(e.Member.AcceptedAt), fmtTime(e.Member.UpdatedAt), e.Member.ID,
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.PoolID, t.MemberID, string(t.Type), t.Amount.Milli(),
			t.Split.Included.Milli(), t.Split.Bonus.Milli(), t.Split.Purchased.Milli(),
			t.AvailableAfter.Milli(), t.Sequence, t.RequestID, t.PurchaseID,
			t.Model, t.Description, fmtTime(t.CreatedAt),
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.PoolID, u.MemberID, u.TransactionID, u.RequestID, u.Model,
			u.InputTokens, u.OutputTokens, u.Cost.Milli(),
			u.Split.Included.Milli(), u.Split.Bonus.Milli(), u.Split.Purchased.Milli(),
			fmtTime(u.CreatedAt),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ==================== Helpers ====================

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

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

func placeholders(n int) string {
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
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
