package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS raffle_accounts (
	address    BYTEA PRIMARY KEY,
	balance    NUMERIC(78,0) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
