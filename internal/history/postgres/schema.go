package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS raffle_rounds (
	round_id     BYTEA PRIMARY KEY,
	request_id   BIGINT NOT NULL,
	winner       BYTEA NOT NULL,
	pot          NUMERIC(78,0) NOT NULL CHECK (pot >= 0),
	player_count INTEGER NOT NULL CHECK (player_count > 0),
	settled_at   TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS raffle_rounds_settled_at_idx ON raffle_rounds (settled_at DESC);
`
