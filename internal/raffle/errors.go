package raffle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidConfig = errors.New("raffle: invalid config")
	// ErrRaffleNotOpen rejects entry while a winner calculation is pending.
	ErrRaffleNotOpen = errors.New("raffle: not open")
	// ErrNoRandomWords rejects a fulfillment that carries no entropy.
	ErrNoRandomWords = errors.New("raffle: fulfillment carried no random words")
)

// NotEnoughFundsError rejects an entry below the entrance fee.
type NotEnoughFundsError struct {
	Sent     *big.Int
	Required *big.Int
}

func (e *NotEnoughFundsError) Error() string {
	return fmt.Sprintf("raffle: entry of %s below entrance fee %s", e.Sent, e.Required)
}

// UpkeepNotNeededError carries the diagnostic snapshot that explains why
// PerformUpkeep refused to transition, so redundant triggers can never no-op
// silently.
type UpkeepNotNeededError struct {
	Balance     *big.Int
	PlayerCount int
	State       State
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("raffle: upkeep not needed (balance=%s players=%d state=%s)", e.Balance, e.PlayerCount, e.State)
}

// UnknownRequestError rejects a fulfillment whose request id does not match
// the outstanding request.
type UnknownRequestError struct {
	RequestID uint64
}

func (e *UnknownRequestError) Error() string {
	return fmt.Sprintf("raffle: no outstanding request with id %d", e.RequestID)
}

// TransferFailedError aborts settlement when the winner payout fails. No
// round state has advanced when this error is returned.
type TransferFailedError struct {
	Winner common.Address
	Amount *big.Int
	Err    error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("raffle: payout of %s to %s failed: %v", e.Amount, e.Winner, e.Err)
}

func (e *TransferFailedError) Unwrap() error { return e.Err }
