package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Tarif store (SQLite).
var Migrations = migrate.NewGroup("tarif")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tarif_catalog",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tarif_categories (
    id         TEXT PRIMARY KEY,
    parent_id  TEXT NOT NULL DEFAULT '',
    name       TEXT NOT NULL DEFAULT '',
    slug       TEXT NOT NULL DEFAULT '',
    is_single  INTEGER NOT NULL DEFAULT 0,
    metadata   TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tarif_categories_parent ON tarif_categories (parent_id);

CREATE TABLE IF NOT EXISTS tarif_plans (
    id          TEXT PRIMARY KEY,
    category_id TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL DEFAULT '',
    slug        TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'draft',
    price_cents INTEGER NOT NULL DEFAULT 0,
    currency    TEXT NOT NULL DEFAULT '',
    period      TEXT NOT NULL DEFAULT 'monthly',
    trial_days  INTEGER NOT NULL DEFAULT 0,
    token_grant INTEGER NOT NULL DEFAULT 0,
    features    TEXT,
    metadata    TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tarif_plans_slug ON tarif_plans (slug);
CREATE INDEX IF NOT EXISTS idx_tarif_plans_status ON tarif_plans (status);
CREATE INDEX IF NOT EXISTS idx_tarif_plans_category ON tarif_plans (category_id);

CREATE TABLE IF NOT EXISTS tarif_addons (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    slug        TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'draft',
    price_cents INTEGER NOT NULL DEFAULT 0,
    currency    TEXT NOT NULL DEFAULT '',
    period      TEXT NOT NULL DEFAULT 'monthly',
    token_grant INTEGER NOT NULL DEFAULT 0,
    plan_ids    TEXT NOT NULL DEFAULT '[]',
    metadata    TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tarif_addons_status ON tarif_addons (status);

CREATE TABLE IF NOT EXISTS tarif_token_bundles (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    slug        TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'draft',
    price_cents INTEGER NOT NULL DEFAULT 0,
    currency    TEXT NOT NULL DEFAULT '',
    tokens      INTEGER NOT NULL DEFAULT 0,
    metadata    TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tarif_bundles_status ON tarif_token_bundles (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS tarif_token_bundles;
DROP TABLE IF EXISTS tarif_addons;
DROP TABLE IF EXISTS tarif_plans;
DROP TABLE IF EXISTS tarif_categories;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tarif_subscriptions",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tarif_subscriptions (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL DEFAULT '',
    plan_id           TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'pending',
    exclusive_key     TEXT NOT NULL DEFAULT '',
    period_start      TEXT NOT NULL DEFAULT (datetime('now')),
    expires_at        TEXT NOT NULL DEFAULT (datetime('now')),
    trial_end         TEXT,
    paused_at         TEXT,
    cancelled_at      TEXT,
    ended_at          TEXT,
    pending_plan_id   TEXT NOT NULL DEFAULT '',
    scheduled_plan_id TEXT NOT NULL DEFAULT '',
    metadata          TEXT NOT NULL DEFAULT '{}',
    created_at        TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at        TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tarif_subs_user ON tarif_subscriptions (user_id);
CREATE INDEX IF NOT EXISTS idx_tarif_subs_status ON tarif_subscriptions (user_id, status);
CREATE INDEX IF NOT EXISTS idx_tarif_subs_expires ON tarif_subscriptions (status, expires_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tarif_subs_exclusive ON tarif_subscriptions (user_id, exclusive_key)
    WHERE status IN ('trialing', 'active', 'cancelled') AND exclusive_key != '';

CREATE TABLE IF NOT EXISTS tarif_addon_subscriptions (
    id              TEXT PRIMARY KEY,
    subscription_id TEXT NOT NULL DEFAULT '',
    addon_id        TEXT NOT NULL DEFAULT '',
    user_id         TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending',
    period_start    TEXT NOT NULL DEFAULT (datetime('now')),
    expires_at      TEXT NOT NULL DEFAULT (datetime('now')),
    cancelled_at    TEXT,
    ended_at        TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tarif_addon_subs_base ON tarif_addon_subscriptions (subscription_id);
CREATE INDEX IF NOT EXISTS idx_tarif_addon_subs_user ON tarif_addon_subscriptions (user_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS tarif_addon_subscriptions;
DROP TABLE IF EXISTS tarif_subscriptions;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tarif_invoices",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tarif_invoices (
    id              TEXT PRIMARY KEY,
    number          TEXT NOT NULL DEFAULT '',
    user_id         TEXT NOT NULL DEFAULT '',
    subscription_id TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending',
    currency        TEXT NOT NULL DEFAULT '',
    amount_cents    INTEGER NOT NULL DEFAULT 0,
    subtotal_cents  INTEGER NOT NULL DEFAULT 0,
    tax_cents       INTEGER NOT NULL DEFAULT 0,
    line_items      TEXT NOT NULL DEFAULT '[]',
    due_at          TEXT,
    paid_at         TEXT,
    failed_at       TEXT,
    refunded_at     TEXT,
    failure_reason  TEXT NOT NULL DEFAULT '',
    payment_ref     TEXT NOT NULL DEFAULT '',
    capture_source  TEXT NOT NULL DEFAULT '',
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tarif_invoices_number ON tarif_invoices (number);
CREATE INDEX IF NOT EXISTS idx_tarif_invoices_user ON tarif_invoices (user_id);
CREATE INDEX IF NOT EXISTS idx_tarif_invoices_status ON tarif_invoices (status, due_at);
CREATE INDEX IF NOT EXISTS idx_tarif_invoices_sub ON tarif_invoices (subscription_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tarif_invoices`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tarif_token_ledger",
			Version: "20240101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tarif_token_transactions (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL DEFAULT '',
    type       TEXT NOT NULL DEFAULT '',
    amount     INTEGER NOT NULL DEFAULT 0,
    ref_id     TEXT NOT NULL DEFAULT '',
    invoice_id TEXT NOT NULL DEFAULT '',
    note       TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tarif_txns_user ON tarif_token_transactions (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tarif_txns_invoice ON tarif_token_transactions (invoice_id);

CREATE TABLE IF NOT EXISTS tarif_bundle_purchases (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL DEFAULT '',
    bundle_id       TEXT NOT NULL DEFAULT '',
    invoice_id      TEXT NOT NULL DEFAULT '',
    tokens          INTEGER NOT NULL DEFAULT 0,
    price_cents     INTEGER NOT NULL DEFAULT 0,
    currency        TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'pending',
    tokens_credited INTEGER NOT NULL DEFAULT 0,
    completed_at    TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tarif_purchases_user ON tarif_bundle_purchases (user_id);
CREATE INDEX IF NOT EXISTS idx_tarif_purchases_invoice ON tarif_bundle_purchases (invoice_id);

CREATE TABLE IF NOT EXISTS tarif_token_balances (
    user_id    TEXT PRIMARY KEY,
    balance    INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS tarif_token_balances;
DROP TABLE IF EXISTS tarif_bundle_purchases;
DROP TABLE IF EXISTS tarif_token_transactions;
`)
				return err
			},
		},
	)
}
