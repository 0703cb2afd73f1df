package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Envelope versions, one per event type.
const (
	VersionEntered         = "raffle.entered.v1"
	VersionWinnerRequested = "raffle.winner_requested.v1"
	VersionWinnerPicked    = "raffle.winner_picked.v1"
)

// Envelope is the wire form of an emitted event. Topic and Data carry the
// log-compatible encoding; the named fields are for human consumers.
type Envelope struct {
	Version string `json:"version"`

	Topic string `json:"topic"`
	Data  string `json:"data"`

	Player    string `json:"player,omitempty"`
	RequestID uint64 `json:"requestId,omitempty"`
	Winner    string `json:"winner,omitempty"`

	EmittedAt time.Time `json:"emittedAt"`
}

// Publisher serializes events into versioned JSON envelopes and hands them
// to a Producer. It implements Sink.
type Publisher struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func NewPublisher(producer Producer, topic string, now func() time.Time) (*Publisher, error) {
	if producer == nil {
		return nil, errors.New("events: nil producer")
	}
	if topic == "" {
		return nil, errors.New("events: empty topic")
	}
	if now == nil {
		now = time.Now
	}
	return &Publisher{producer: producer, topic: topic, now: now}, nil
}

func (p *Publisher) Emit(ctx context.Context, ev Event) error {
	env := Envelope{
		Topic:     ev.Topic().Hex(),
		Data:      hexutil.Encode(ev.Data()),
		EmittedAt: p.now().UTC(),
	}

	switch e := ev.(type) {
	case EnteredRaffle:
		env.Version = VersionEntered
		env.Player = e.Player.Hex()
	case RequestedRaffleWinner:
		env.Version = VersionWinnerRequested
		env.RequestID = e.RequestID
	case WinnerPicked:
		env.Version = VersionWinnerPicked
		env.Winner = e.Winner.Hex()
	default:
		return fmt.Errorf("events: unsupported event type %T", ev)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	return p.producer.Publish(ctx, p.topic, ev.Topic().Bytes(), payload)
}
