package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/openraffle/raffled/internal/raffle"
)

var ErrInvalidRecorder = errors.New("history: invalid recorder")

// Recorder implements the raffle's settlement callback: it writes the round
// row and, when configured, the settlement receipt.
type Recorder struct {
	store    Store
	receipts ReceiptStore
}

func NewRecorder(store Store) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidRecorder)
	}
	return &Recorder{store: store}, nil
}

// WithReceipts configures optional receipt persistence.
func (r *Recorder) WithReceipts(receipts ReceiptStore) *Recorder {
	r.receipts = receipts
	return r
}

func (r *Recorder) RecordSettlement(ctx context.Context, s raffle.Settlement) error {
	if _, err := r.store.Insert(ctx, Round{
		RoundID:     s.RoundID,
		RequestID:   s.RequestID,
		Winner:      s.Winner,
		Pot:         s.Pot,
		PlayerCount: s.PlayerCount,
		SettledAt:   s.SettledAt,
	}); err != nil {
		return fmt.Errorf("history: insert round: %w", err)
	}

	if r.receipts == nil {
		return nil
	}
	if err := r.receipts.Put(ctx, s); err != nil {
		return fmt.Errorf("history: persist receipt: %w", err)
	}
	return nil
}
