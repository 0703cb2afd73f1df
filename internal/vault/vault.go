// Package vault holds participant balances and the pooled pot. The raffle
// core moves funds only through the Vault interface; the state gate in the
// core decides when, the vault decides whether the funds exist.
package vault

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount     = errors.New("vault: invalid amount")
	ErrInsufficientFunds = errors.New("vault: insufficient funds")
	ErrInsufficientPot   = errors.New("vault: insufficient pot")
	ErrPayoutRejected    = errors.New("vault: payout rejected")
	ErrUnknownAccount    = errors.New("vault: unknown account")
	ErrInvalidPotAccount = errors.New("vault: pot account cannot transact")
)

// PotAccount is the reserved zero address holding the pooled balance.
var PotAccount = common.Address{}

// Vault moves funds between participant accounts and the pot.
//
// Deposit and Payout must each be atomic: either the full amount moves or
// nothing does.
type Vault interface {
	// Deposit moves amount from the participant's balance into the pot.
	Deposit(ctx context.Context, from common.Address, amount *big.Int) error
	// Payout moves amount from the pot to the recipient's balance.
	Payout(ctx context.Context, to common.Address, amount *big.Int) error
}

func validateMove(addr common.Address, amount *big.Int) error {
	if addr == PotAccount {
		return ErrInvalidPotAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
