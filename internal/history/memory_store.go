package history

import (
	"context"
	"math/big"
	"sync"
)

// MemoryStore is an in-memory round archive for tests and single-process
// usage. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	rounds map[[32]byte]Round
	order  [][32]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds: make(map[[32]byte]Round),
	}
}

func (s *MemoryStore) Insert(_ context.Context, r Round) (bool, error) {
	if err := validateRound(r); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rounds[r.RoundID]; ok {
		if !sameRound(existing, r) {
			return false, ErrRoundMismatch
		}
		return false, nil
	}

	s.rounds[r.RoundID] = cloneRound(r)
	s.order = append(s.order, r.RoundID)
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, roundID [32]byte) (Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[roundID]
	if !ok {
		return Round{}, ErrNotFound
	}
	return cloneRound(r), nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}

	out := make([]Round, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneRound(s.rounds[s.order[i]]))
	}
	return out, nil
}

func cloneRound(r Round) Round {
	out := r
	out.Pot = new(big.Int).Set(r.Pot)
	return out
}
