package raffle

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

const roundIDPrefixV1 = "raffle-round-v1"

// RoundIDV1 computes the canonical id of a round:
//
//	roundId = keccak256("raffle-round-v1" || roundNumberBE8)
//
// Round numbers start at 1 and increment on settlement, so the id is stable
// across retries of the same settlement and unique across rounds.
func RoundIDV1(roundNumber uint64) [32]byte {
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], roundNumber)

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(roundIDPrefixV1))
	_, _ = h.Write(num[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
