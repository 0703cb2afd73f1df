// Package vrf models the verifiable-randomness oracle boundary as an
// explicit two-phase protocol: a synchronous request that returns a request
// id, and an asynchronous fulfillment delivered to the consumer later.
package vrf

import (
	"context"
	"errors"
	"math/big"
)

var (
	ErrInvalidRequest = errors.New("vrf: invalid request")
	// ErrUnknownRequest rejects fulfillment of a request id that was never
	// issued (or was already fulfilled) before it can reach the consumer.
	ErrUnknownRequest = errors.New("vrf: unknown request")
)

// Request carries the oracle parameters fixed at raffle construction.
type Request struct {
	// KeyHash selects the gas lane.
	KeyHash              [32]byte
	SubscriptionID       uint64
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
}

// Coordinator issues randomness requests. The returned request id is
// delivered back to the consumer with the random words, once, at a time the
// caller does not control.
type Coordinator interface {
	RequestRandomWords(ctx context.Context, req Request) (uint64, error)
}

// Consumer receives fulfillments. Implementations must treat requestID as
// untrusted until matched against their own outstanding request.
type Consumer interface {
	FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error
}

func validateRequest(req Request) error {
	if req.NumWords == 0 {
		return ErrInvalidRequest
	}
	return nil
}
