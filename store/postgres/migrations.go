package postgres

// schema is applied idempotently on Migrate.
const schema = `
CREATE TABLE IF NOT EXISTS credit_pools (
    id                  TEXT PRIMARY KEY,
    tenant_id           TEXT NOT NULL DEFAULT '',
    owner_id            TEXT NOT NULL DEFAULT '',
    kind                TEXT NOT NULL DEFAULT 'individual',
    status              TEXT NOT NULL DEFAULT 'active',
    available           BIGINT NOT NULL DEFAULT 0,
    reserved            BIGINT NOT NULL DEFAULT 0,
    included_remaining  BIGINT NOT NULL DEFAULT 0,
    bonus_remaining     BIGINT NOT NULL DEFAULT 0,
    purchased_remaining BIGINT NOT NULL DEFAULT 0,
    auto_purchase       JSONB NOT NULL DEFAULT '{}',
    version             BIGINT NOT NULL DEFAULT 0,
    closed_at           TIMESTAMPTZ,
    metadata            JSONB NOT NULL DEFAULT '{}',
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_pools_tenant ON credit_pools (tenant_id);
CREATE INDEX IF NOT EXISTS idx_credit_pools_owner ON credit_pools (owner_id);

CREATE TABLE IF NOT EXISTS credit_members (
    id          TEXT PRIMARY KEY,
    pool_id     TEXT NOT NULL,
    user_id     TEXT NOT NULL,
    role        TEXT NOT NULL DEFAULT 'member',
    status      TEXT NOT NULL DEFAULT 'invited',
    limits      JSONB NOT NULL DEFAULT '{}',
    counters    JSONB NOT NULL DEFAULT '{}',
    invited_at  TIMESTAMPTZ NOT NULL,
    accepted_at TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_members_pool_user ON credit_members (pool_id, user_id);
CREATE INDEX IF NOT EXISTS idx_credit_members_user ON credit_members (user_id);

CREATE TABLE IF NOT EXISTS credit_reservations (
    request_id       TEXT PRIMARY KEY,
    id               TEXT NOT NULL,
    pool_id          TEXT NOT NULL,
    member_id        TEXT,
    status           TEXT NOT NULL DEFAULT 'active',
    estimated_cost   BIGINT NOT NULL DEFAULT 0,
    settled_cost     BIGINT NOT NULL DEFAULT 0,
    shortfall_logged BIGINT NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL,
    expires_at       TIMESTAMPTZ,
    resolved_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_credit_reservations_expiry ON credit_reservations (status, expires_at);
CREATE INDEX IF NOT EXISTS idx_credit_reservations_pool ON credit_reservations (pool_id, status);

CREATE TABLE IF NOT EXISTS credit_purchases (
    id                 TEXT PRIMARY KEY,
    pool_id            TEXT NOT NULL,
    user_id            TEXT NOT NULL DEFAULT '',
    tenant_id          TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'pending',
    requested_credits  BIGINT NOT NULL DEFAULT 0,
    bonus_credits      BIGINT NOT NULL DEFAULT 0,
    total_credits      BIGINT NOT NULL DEFAULT 0,
    base_price         BIGINT NOT NULL DEFAULT 0,
    discount           BIGINT NOT NULL DEFAULT 0,
    final_price        BIGINT NOT NULL DEFAULT 0,
    currency           TEXT NOT NULL DEFAULT 'usd',
    payment_ref        TEXT,
    payment_method_ref TEXT NOT NULL DEFAULT '',
    failure_reason     TEXT NOT NULL DEFAULT '',
    auto_triggered     BOOLEAN NOT NULL DEFAULT FALSE,
    refunded_credits   BIGINT NOT NULL DEFAULT 0,
    completed_at       TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_purchases_payment_ref ON credit_purchases (payment_ref) WHERE payment_ref IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_credit_purchases_pool ON credit_purchases (pool_id, created_at);
CREATE INDEX IF NOT EXISTS idx_credit_purchases_stalled ON credit_purchases (status, updated_at);

CREATE TABLE IF NOT EXISTS credit_transactions (
    id              TEXT PRIMARY KEY,
    pool_id         TEXT NOT NULL,
    member_id       TEXT,
    type            TEXT NOT NULL,
    amount          BIGINT NOT NULL DEFAULT 0,
    split_included  BIGINT NOT NULL DEFAULT 0,
    split_bonus     BIGINT NOT NULL DEFAULT 0,
    split_purchased BIGINT NOT NULL DEFAULT 0,
    available_after BIGINT NOT NULL DEFAULT 0,
    sequence        BIGINT NOT NULL DEFAULT 0,
    request_id      TEXT NOT NULL DEFAULT '',
    purchase_id     TEXT,
    model           TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL
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
    input_tokens    BIGINT NOT NULL DEFAULT 0,
    output_tokens   BIGINT NOT NULL DEFAULT 0,
    cost            BIGINT NOT NULL DEFAULT 0,
    split_included  BIGINT NOT NULL DEFAULT 0,
    split_bonus     BIGINT NOT NULL DEFAULT 0,
    split_purchased BIGINT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_usage_pool ON credit_usage (pool_id, created_at);
CREATE INDEX IF NOT EXISTS idx_credit_usage_member ON credit_usage (member_id, created_at);
`
