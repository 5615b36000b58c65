package database

import (
	"database/sql"
)

// Schema for the newsstand core. ledger_entries is append-only; the unique
// constraint on (transaction_type, reference_id) is what makes
// at-most-one-write-per-reference hold even across concurrent webhook
// deliveries.
var schema = `
CREATE TABLE IF NOT EXISTS organizations(
	id				TEXT PRIMARY KEY,
	name			TEXT NOT NULL,
	commission_bps	BIGINT,
	status			VARCHAR(10) NOT NULL DEFAULT 'ACTIVE',
	created_at		TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS newspapers(
	id				TEXT PRIMARY KEY,
	organization_id	TEXT NOT NULL REFERENCES organizations(id),
	title			TEXT NOT NULL,
	price			BIGINT NOT NULL,
	currency		VARCHAR(3) NOT NULL,
	cover_url		TEXT NOT NULL DEFAULT '',
	published_at	TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders(
	id				TEXT PRIMARY KEY,
	user_id			TEXT NOT NULL,
	newspaper_id	TEXT NOT NULL REFERENCES newspapers(id),
	organization_id	TEXT NOT NULL REFERENCES organizations(id),
	amount			BIGINT NOT NULL,
	currency		VARCHAR(3) NOT NULL,
	status			VARCHAR(10) NOT NULL DEFAULT 'pending',
	payment_id		TEXT NOT NULL DEFAULT '',
	checkout_url	TEXT NOT NULL DEFAULT '',
	created_at		TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
	updated_at		TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
	paid_at			TIMESTAMP WITH TIME ZONE
);
CREATE INDEX IF NOT EXISTS idx_orders_payment_id ON orders(payment_id);
CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id);

CREATE TABLE IF NOT EXISTS ledger_entries(
	id					SERIAL PRIMARY KEY,
	organization_id		TEXT NOT NULL REFERENCES organizations(id),
	transaction_type	VARCHAR(10) NOT NULL,
	reference_id		TEXT NOT NULL,
	organization_amount	BIGINT NOT NULL,
	platform_amount		BIGINT NOT NULL,
	organization_balance_after	BIGINT NOT NULL,
	platform_balance_after		BIGINT NOT NULL,
	currency			VARCHAR(3) NOT NULL,
	created_at			TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
	UNIQUE (transaction_type, reference_id)
);

CREATE TABLE IF NOT EXISTS organization_balances(
	organization_id	TEXT PRIMARY KEY REFERENCES organizations(id),
	current_balance	BIGINT NOT NULL DEFAULT 0,
	currency		VARCHAR(3) NOT NULL,
	version			INTEGER NOT NULL DEFAULT 0,
	updated_at		TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS platform_balances(
	currency		VARCHAR(3) PRIMARY KEY,
	current_balance	BIGINT NOT NULL DEFAULT 0,
	version			INTEGER NOT NULL DEFAULT 0,
	updated_at		TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS withdrawals(
	id					TEXT PRIMARY KEY,
	organization_id		TEXT NOT NULL REFERENCES organizations(id),
	amount				BIGINT NOT NULL,
	currency			VARCHAR(3) NOT NULL,
	status				VARCHAR(10) NOT NULL DEFAULT 'pending',
	payment_method		TEXT NOT NULL DEFAULT 'bank_transfer',
	payment_details		TEXT NOT NULL DEFAULT '',
	external_reference	TEXT NOT NULL DEFAULT '',
	user_id				TEXT NOT NULL,
	notes				TEXT NOT NULL DEFAULT '',
	requested_at		TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
	updated_at			TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
	resolved_at			TIMESTAMP WITH TIME ZONE
);
CREATE INDEX IF NOT EXISTS idx_withdrawals_org_status ON withdrawals(organization_id, status);`

// ApplySchema creates missing tables. Statements are idempotent so startup
// can run it unconditionally.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
