// Package postgres implements the vault on a shared Postgres ledger.
//
// Balances are NUMERIC(78,0) wei. Amounts cross the wire as decimal strings
// so values beyond int64 survive intact.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openraffle/raffled/internal/vault"
)

var ErrInvalidConfig = errors.New("vault/postgres: invalid config")

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
		return fmt.Errorf("vault/postgres: ensure schema: %w", err)
	}
	// The pot row must exist so Deposit can credit it unconditionally.
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO raffle_accounts (address, balance)
		VALUES ($1, 0)
		ON CONFLICT (address) DO NOTHING
	`, vault.PotAccount.Bytes()); err != nil {
		return fmt.Errorf("vault/postgres: ensure pot account: %w", err)
	}
	return nil
}

func (s *Store) Deposit(ctx context.Context, from common.Address, amount *big.Int) error {
	if err := validate(from, amount); err != nil {
		return err
	}
	return s.move(ctx, from, vault.PotAccount, amount, vault.ErrInsufficientFunds)
}

func (s *Store) Payout(ctx context.Context, to common.Address, amount *big.Int) error {
	if err := validate(to, amount); err != nil {
		return err
	}
	return s.move(ctx, vault.PotAccount, to, amount, vault.ErrInsufficientPot)
}

// Credit funds an account. Bootstrap/ops helper, not part of vault.Vault.
func (s *Store) Credit(ctx context.Context, addr common.Address, amount *big.Int) error {
	if err := validate(addr, amount); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO raffle_accounts (address, balance)
		VALUES ($1, $2::numeric)
		ON CONFLICT (address) DO UPDATE
		SET balance = raffle_accounts.balance + EXCLUDED.balance,
			updated_at = now()
	`, addr.Bytes(), amount.String()); err != nil {
		return fmt.Errorf("vault/postgres: credit: %w", err)
	}
	return nil
}

// Balance reads the current account balance; zero for unknown accounts.
func (s *Store) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `
		SELECT balance::text FROM raffle_accounts WHERE address = $1
	`, addr.Bytes()).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("vault/postgres: balance: %w", err)
	}
	bal, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("vault/postgres: malformed balance %q", raw)
	}
	return bal, nil
}

func (s *Store) move(ctx context.Context, from, to common.Address, amount *big.Int, insufficient error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("vault/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE raffle_accounts
		SET balance = balance - $2::numeric, updated_at = now()
		WHERE address = $1 AND balance >= $2::numeric
	`, from.Bytes(), amount.String())
	if err != nil {
		return fmt.Errorf("vault/postgres: debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM raffle_accounts WHERE address = $1)
		`, from.Bytes()).Scan(&exists); err != nil {
			return fmt.Errorf("vault/postgres: debit check: %w", err)
		}
		if !exists {
			return vault.ErrUnknownAccount
		}
		return insufficient
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO raffle_accounts (address, balance)
		VALUES ($1, $2::numeric)
		ON CONFLICT (address) DO UPDATE
		SET balance = raffle_accounts.balance + EXCLUDED.balance,
			updated_at = now()
	`, to.Bytes(), amount.String()); err != nil {
		return fmt.Errorf("vault/postgres: credit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("vault/postgres: commit: %w", err)
	}
	return nil
}

func validate(addr common.Address, amount *big.Int) error {
	if addr == vault.PotAccount {
		return vault.ErrInvalidPotAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return vault.ErrInvalidAmount
	}
	return nil
}
