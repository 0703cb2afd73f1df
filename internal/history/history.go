// Package history archives settled rounds. It sits outside the atomic core:
// the raffle notifies it after settlement and never depends on it.
package history

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound      = errors.New("history: not found")
	ErrRoundMismatch = errors.New("history: round mismatch")
	ErrInvalidRound  = errors.New("history: invalid round")
)

// Round is one settled round.
type Round struct {
	RoundID     [32]byte
	RequestID   uint64
	Winner      common.Address
	Pot         *big.Int
	PlayerCount int
	SettledAt   time.Time
}

// Store persists settled rounds.
//
// Insert is idempotent on RoundID: re-inserting an identical round reports
// inserted=false with no error, while a conflicting round for the same id is
// ErrRoundMismatch.
type Store interface {
	Insert(ctx context.Context, r Round) (inserted bool, err error)
	Get(ctx context.Context, roundID [32]byte) (Round, error)
	ListRecent(ctx context.Context, limit int) ([]Round, error)
}

func validateRound(r Round) error {
	if r.RoundID == ([32]byte{}) || r.Pot == nil || r.Pot.Sign() < 0 || r.PlayerCount <= 0 {
		return ErrInvalidRound
	}
	return nil
}

func sameRound(a, b Round) bool {
	return a.RoundID == b.RoundID &&
		a.RequestID == b.RequestID &&
		a.Winner == b.Winner &&
		a.Pot.Cmp(b.Pot) == 0 &&
		a.PlayerCount == b.PlayerCount &&
		a.SettledAt.Equal(b.SettledAt)
}
