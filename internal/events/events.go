package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Topics are keccak hashes of the canonical event signatures so downstream
// consumers can match against on-chain log topics bit for bit.
var (
	EnteredRaffleTopic         = crypto.Keccak256Hash([]byte("EnteredRaffle(address)"))
	RequestedRaffleWinnerTopic = crypto.Keccak256Hash([]byte("RequestedRaffleWinner(uint256)"))
	WinnerPickedTopic          = crypto.Keccak256Hash([]byte("WinnerPicked(address)"))
)

// Event is a single raffle observability record.
type Event interface {
	Name() string
	Topic() common.Hash
	// Data returns the ABI-encoded event payload (32-byte words).
	Data() []byte
}

type EnteredRaffle struct {
	Player common.Address
}

func (e EnteredRaffle) Name() string { return "EnteredRaffle" }

func (e EnteredRaffle) Topic() common.Hash { return EnteredRaffleTopic }

func (e EnteredRaffle) Data() []byte {
	return common.LeftPadBytes(e.Player.Bytes(), 32)
}

type RequestedRaffleWinner struct {
	RequestID uint64
}

func (e RequestedRaffleWinner) Name() string { return "RequestedRaffleWinner" }

func (e RequestedRaffleWinner) Topic() common.Hash { return RequestedRaffleWinnerTopic }

func (e RequestedRaffleWinner) Data() []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(e.RequestID).Bytes(), 32)
}

type WinnerPicked struct {
	Winner common.Address
}

func (e WinnerPicked) Name() string { return "WinnerPicked" }

func (e WinnerPicked) Topic() common.Hash { return WinnerPickedTopic }

func (e WinnerPicked) Data() []byte {
	return common.LeftPadBytes(e.Winner.Bytes(), 32)
}
