package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openraffle/raffled/internal/history"
)

var ErrInvalidConfig = errors.New("history/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("history/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, r history.Round) (bool, error) {
	if r.RoundID == ([32]byte{}) || r.Pot == nil || r.Pot.Sign() < 0 || r.PlayerCount <= 0 {
		return false, history.ErrInvalidRound
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO raffle_rounds (round_id, request_id, winner, pot, player_count, settled_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		ON CONFLICT (round_id) DO NOTHING
	`, r.RoundID[:], int64(r.RequestID), r.Winner.Bytes(), r.Pot.String(), r.PlayerCount, r.SettledAt.UTC())
	if err != nil {
		return false, fmt.Errorf("history/postgres: insert: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	existing, err := s.Get(ctx, r.RoundID)
	if err != nil {
		return false, err
	}
	if existing.RequestID != r.RequestID ||
		existing.Winner != r.Winner ||
		existing.Pot.Cmp(r.Pot) != 0 ||
		existing.PlayerCount != r.PlayerCount ||
		!existing.SettledAt.Equal(r.SettledAt.UTC()) {
		return false, history.ErrRoundMismatch
	}
	return false, nil
}

func (s *Store) Get(ctx context.Context, roundID [32]byte) (history.Round, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT round_id, request_id, winner, pot::text, player_count, settled_at
		FROM raffle_rounds
		WHERE round_id = $1
	`, roundID[:])

	r, err := scanRound(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return history.Round{}, history.ErrNotFound
		}
		return history.Round{}, fmt.Errorf("history/postgres: get: %w", err)
	}
	return r, nil
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]history.Round, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT round_id, request_id, winner, pot::text, player_count, settled_at
		FROM raffle_rounds
		ORDER BY settled_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history/postgres: list recent: %w", err)
	}
	defer rows.Close()

	var out []history.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("history/postgres: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history/postgres: list recent: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (history.Round, error) {
	var (
		roundID     []byte
		requestID   int64
		winner      []byte
		potRaw      string
		playerCount int
		settledAt   time.Time
	)
	if err := row.Scan(&roundID, &requestID, &winner, &potRaw, &playerCount, &settledAt); err != nil {
		return history.Round{}, err
	}

	if len(roundID) != 32 {
		return history.Round{}, fmt.Errorf("malformed round id length %d", len(roundID))
	}
	pot, ok := new(big.Int).SetString(potRaw, 10)
	if !ok {
		return history.Round{}, fmt.Errorf("malformed pot %q", potRaw)
	}

	var r history.Round
	copy(r.RoundID[:], roundID)
	r.RequestID = uint64(requestID)
	r.Winner = common.BytesToAddress(winner)
	r.Pot = pot
	r.PlayerCount = playerCount
	r.SettledAt = settledAt.UTC()
	return r, nil
}
