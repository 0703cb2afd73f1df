package vrf

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"

	"golang.org/x/crypto/sha3"
)

// MockCoordinator is an in-process oracle for tests and single-node
// deployments. Request ids are assigned sequentially starting at 1.
//
// Fulfillment is at-most-once: a pending request is consumed only when the
// consumer callback succeeds, so a failed settlement can be retried with the
// same request id.
type MockCoordinator struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]Request
}

func NewMockCoordinator() *MockCoordinator {
	return &MockCoordinator{
		nextID:  1,
		pending: make(map[uint64]Request),
	}
}

func (c *MockCoordinator) RequestRandomWords(_ context.Context, req Request) (uint64, error) {
	if err := validateRequest(req); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.pending[id] = req
	return id, nil
}

// FulfillRequest delivers deterministic pseudo-random words for requestID to
// the consumer. Unknown or already-consumed ids are rejected before the
// consumer is invoked.
func (c *MockCoordinator) FulfillRequest(ctx context.Context, requestID uint64, consumer Consumer) error {
	c.mu.Lock()
	req, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownRequest
	}

	words := make([]*big.Int, req.NumWords)
	for i := range words {
		words[i] = deriveWord(requestID, uint64(i))
	}
	return c.fulfill(ctx, requestID, words, consumer)
}

// FulfillRequestWithWords delivers caller-chosen words, for tests that need
// a specific winner index.
func (c *MockCoordinator) FulfillRequestWithWords(ctx context.Context, requestID uint64, words []*big.Int, consumer Consumer) error {
	c.mu.Lock()
	_, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownRequest
	}
	return c.fulfill(ctx, requestID, words, consumer)
}

// PendingRequests reports how many issued requests have not been fulfilled.
func (c *MockCoordinator) PendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *MockCoordinator) fulfill(ctx context.Context, requestID uint64, words []*big.Int, consumer Consumer) error {
	if err := consumer.FulfillRandomWords(ctx, requestID, words); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
	return nil
}

func deriveWord(requestID, wordIndex uint64) *big.Int {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], requestID)
	binary.BigEndian.PutUint64(buf[8:16], wordIndex)

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(buf[:])
	return new(big.Int).SetBytes(h.Sum(nil))
}
