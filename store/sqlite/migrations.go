package sqlite

// schema is applied idempotently on Migrate. SQLite keeps timestamps as
// RFC 3339 text and JSON blobs for nested structures.
const schema = `
CREATE TABLE IF NOT EXISTS credit_pools (
    id                  TEXT PRIMARY KEY,
    tenant_id           TEXT NOT NULL DEFAULT '',
    owner_id            TEXT NOT NULL DEFAULT '',
    kind                TEXT NOT NULL DEFAULT 'individual',
    status              TEXT NOT NULL DEFAULT 'active',
    available           INTEGER NOT NULL DEFAULT 0,
    reserved            INTEGER NOT NULL DEFAULT 0,
    included_remaining  INTEGER NOT NULL DEFAULT 0,
    bonus_remaining     INTEGER NOT NULL DEFAULT 0,
    purchased_remaining INTEGER NOT NULL DEFAULT 0,
    auto_purchase       TEXT NOT NULL DEFAULT '{}',
    version             INTEGER NOT NULL DEFAULT 0,
    closed_at           TEXT,
    metadata            TEXT NOT NULL DEFAULT '{}',
    created_at          TEXT NOT NULL,
    updated_at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_pools_tenant ON credit_pools (tenant_id);
CREATE INDEX IF NOT EXISTS idx_credit_pools_owner ON credit_pools (owner_id);

CREATE TABLE IF NOT EXISTS credit_members (
    id          TEXT PRIMARY KEY,
    pool_id     TEXT NOT NULL,
    user_id     TEXT NOT NULL,
    role        TEXT NOT NULL DEFAULT 'member',
    status      TEXT NOT NULL DEFAULT 'invited',
    limits      TEXT NOT NULL DEFAULT '{}',
    counters    TEXT NOT NULL DEFAULT '{}',
    invited_at  TEXT NOT NULL,
    accepted_at TEXT,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_members_pool_user ON credit_members (pool_id, user_id);
CREATE INDEX IF NOT EXISTS idx_credit_members_user ON credit_members (user_id);

CREATE TABLE IF NOT EXISTS credit_reservations (
    request_id        TEXT PRIMARY KEY,
    id                TEXT NOT NULL,
    pool_id           TEXT NOT NULL,
    member_id         TEXT,
    status            TEXT NOT NULL DEFAULT 'active',
    estimated_cost    INTEGER NOT NULL DEFAULT 0,
    settled_cost      INTEGER NOT NULL DEFAULT 0,
    shortfall_logged  INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT NOT NULL,
    expires_at        TEXT,
    resolved_at       TEXT
);

CREATE INDEX IF NOT EXISTS idx_credit_reservations_expiry ON credit_reservations (status, expires_at);
CREATE INDEX IF NOT EXISTS idx_credit_reservations_pool ON credit_reservations (pool_id, status);

CREATE TABLE IF NOT EXISTS credit_purchases (
    id                  TEXT PRIMARY KEY,
    pool_id             TEXT NOT NULL,
    user_id             TEXT NOT NULL DEFAULT '',
    tenant_id           TEXT NOT NULL DEFAULT '',
    status              TEXT NOT NULL DEFAULT 'pending',
    requested_credits   INTEGER NOT NULL DEFAULT 0,
    bonus_credits       INTEGER NOT NULL DEFAULT 0,
    total_credits       INTEGER NOT NULL DEFAULT 0,
    base_price          INTEGER NOT NULL DEFAULT 0,
    discount            INTEGER NOT NULL DEFAULT 0,
    final_price         INTEGER NOT NULL DEFAULT 0,
    currency            TEXT NOT NULL DEFAULT 'usd',
    payment_ref         TEXT,
    payment_method_ref  TEXT NOT NULL DEFAULT '',
    failure_reason      TEXT NOT NULL DEFAULT '',
    auto_triggered      INTEGER NOT NULL DEFAULT 0,
    refunded_credits    INTEGER NOT NULL DEFAULT 0,
    completed_at        TEXT,
    created_at          TEXT NOT NULL,
    updated_at          TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_purchases_payment_ref ON credit_purchases (payment_ref) WHERE payment_ref IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_credit_purchases_pool ON credit_purchases (pool_id, created_at);
CREATE INDEX IF NOT EXISTS idx_credit_purchases_stalled ON credit_purchases (status, updated_at);

CREATE TABLE IF NOT EXISTS credit_transactions (
    id              TEXT PRIMARY KEY,
    pool_id         TEXT NOT NULL,
    member_id       TEXT,
    type            TEXT NOT NULL,
    amount          INTEGER NOT NULL DEFAULT 0,
    split_included  INTEGER NOT NULL DEFAULT 0,
    split_bonus     INTEGER NOT NULL DEFAULT 0,
    split_purchased INTEGER NOT NULL DEFAULT 0,
    available_after INTEGER NOT NULL DEFAULT 0,
    sequence        INTEGER NOT NULL DEFAULT 0,
    request_id      TEXT NOT NULL DEFAULT '',
    purchase_id     TEXT,
    model           TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_transactions_pool_seq ON credit_transactions (pool_id, sequence, id);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_type ON credit_transactions (pool_id, type);

CREATE TABLE IF NOT EXISTS credit_usage (
    id              TEXT PRIMARY KEY,
    pool_id         TEXT NOT NULL,
    member_id       TEXT,
    transaction_id  TEXT NOT NULL,
    request_id      TEXT NOT NULL DEFAULT '',
    model           TEXT NOT NULL DEFAULT '',
    input_tokens    INTEGER NOT NULL DEFAULT 0,
    output_tokens   INTEGER NOT NULL DEFAULT 0,
    cost            INTEGER NOT NULL DEFAULT 0,
    split_included  INTEGER NOT NULL DEFAULT 0,
    split_bonus     INTEGER NOT NULL DEFAULT 0,
    split_purchased INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_usage_pool ON credit_usage (pool_id, created_at);
CREATE INDEX IF NOT EXISTS idx_credit_usage_member ON credit_usage (member_id, created_at);
`
