// Package raffle implements the round state machine: entry, the upkeep
// predicate, the randomness request, and settlement.
//
// Every operation runs to completion under a single mutex, so the only
// asynchrony is the gap between requesting randomness and receiving it.
// While that gap is open the round is pinned in StateCalculating and rejects
// new entries; the state gate is the sole mutual-exclusion mechanism over
// the pooled balance.
package raffle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/openraffle/raffled/internal/events"
	"github.com/openraffle/raffled/internal/vault"
	"github.com/openraffle/raffled/internal/vrf"
)

// State is the round lifecycle state.
type State uint8

const (
	StateOpen State = iota
	StateCalculating
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCalculating:
		return "calculating"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Config fixes the raffle parameters at construction. It is never mutated
// afterwards.
type Config struct {
	// EntranceFee is the minimum deposit per entry, in wei.
	EntranceFee *big.Int
	// Interval is the minimum time between round settlements.
	Interval time.Duration

	// Oracle parameters, passed through on every randomness request.
	KeyHash              [32]byte
	SubscriptionID       uint64
	RequestConfirmations uint16
	CallbackGasLimit     uint32

	Now func() time.Time
}

// numWords is fixed: one random word decides one winner.
const numWords = 1

// UpkeepDiagnostic is the read-only snapshot returned by CheckUpkeep.
// Callers currently ignore it; it exists so the predicate can grow fields
// without changing shape.
type UpkeepDiagnostic struct {
	State       State
	Balance     *big.Int
	PlayerCount int
	Elapsed     time.Duration
}

// Settlement describes one settled round, handed to the Recorder after the
// round has advanced.
type Settlement struct {
	RoundID     [32]byte
	RequestID   uint64
	Winner      common.Address
	Pot         *big.Int
	PlayerCount int
	SettledAt   time.Time
}

// Recorder archives settled rounds. Recorder failures are logged and never
// undo a settlement; the payout has already happened.
type Recorder interface {
	RecordSettlement(ctx context.Context, s Settlement) error
}

// Raffle is the round singleton. Construct one per lottery; there are no
// package-level globals.
type Raffle struct {
	cfg Config

	funds vault.Vault
	coord vrf.Coordinator
	sink  events.Sink
	rec   Recorder

	log *slog.Logger

	mu            sync.Mutex
	state         State
	players       []common.Address
	pot           *big.Int
	lastTimestamp time.Time
	recentWinner  common.Address
	roundNumber   uint64
	requestID     uint64
}

func New(cfg Config, funds vault.Vault, coord vrf.Coordinator, sink events.Sink, log *slog.Logger) (*Raffle, error) {
	if funds == nil || coord == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.EntranceFee == nil || cfg.EntranceFee.Sign() <= 0 {
		return nil, fmt.Errorf("%w: EntranceFee must be > 0", ErrInvalidConfig)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: Interval must be > 0", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return &Raffle{
		cfg:           cfg,
		funds:         funds,
		coord:         coord,
		sink:          sink,
		log:           log,
		state:         StateOpen,
		pot:           new(big.Int),
		lastTimestamp: cfg.Now().UTC(),
		roundNumber:   1,
	}, nil
}

// WithRecorder configures optional settlement archiving.
func (r *Raffle) WithRecorder(rec Recorder) *Raffle {
	r.rec = rec
	return r
}

// Enter records one entry for sender. Overpayment above the entrance fee is
// retained in the pool; there is no refund path.
func (r *Raffle) Enter(ctx context.Context, sender common.Address, amount *big.Int) error {
	if amount == nil {
		amount = new(big.Int)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if amount.Cmp(r.cfg.EntranceFee) < 0 {
		return &NotEnoughFundsError{
			Sent:     new(big.Int).Set(amount),
			Required: new(big.Int).Set(r.cfg.EntranceFee),
		}
	}
	if r.state != StateOpen {
		return ErrRaffleNotOpen
	}

	if err := r.funds.Deposit(ctx, sender, amount); err != nil {
		return fmt.Errorf("raffle: deposit entry: %w", err)
	}

	r.players = append(r.players, sender)
	r.pot.Add(r.pot, amount)

	r.emit(ctx, events.EnteredRaffle{Player: sender})
	return nil
}

// CheckUpkeep reports whether a round transition is due. It never mutates
// state and is safe to call at any time.
func (r *Raffle) CheckUpkeep(_ context.Context) (bool, UpkeepDiagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upkeepNeededLocked()
}

func (r *Raffle) upkeepNeededLocked() (bool, UpkeepDiagnostic) {
	elapsed := r.cfg.Now().UTC().Sub(r.lastTimestamp)
	diag := UpkeepDiagnostic{
		State:       r.state,
		Balance:     new(big.Int).Set(r.pot),
		PlayerCount: len(r.players),
		Elapsed:     elapsed,
	}

	needed := r.state == StateOpen &&
		elapsed >= r.cfg.Interval &&
		len(r.players) > 0 &&
		r.pot.Sign() > 0
	return needed, diag
}

// PerformUpkeep closes entry and requests randomness. It re-evaluates the
// upkeep predicate internally, so an adversarial or redundant trigger can
// never force a transition. On success it returns the oracle request id.
func (r *Raffle) PerformUpkeep(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	needed, diag := r.upkeepNeededLocked()
	if !needed {
		return 0, &UpkeepNotNeededError{
			Balance:     diag.Balance,
			PlayerCount: diag.PlayerCount,
			State:       diag.State,
		}
	}

	requestID, err := r.coord.RequestRandomWords(ctx, vrf.Request{
		KeyHash:              r.cfg.KeyHash,
		SubscriptionID:       r.cfg.SubscriptionID,
		RequestConfirmations: r.cfg.RequestConfirmations,
		CallbackGasLimit:     r.cfg.CallbackGasLimit,
		NumWords:             numWords,
	})
	if err != nil {
		return 0, fmt.Errorf("raffle: request random words: %w", err)
	}

	r.state = StateCalculating
	r.requestID = requestID

	r.log.Info("winner calculation started",
		"round", r.roundNumber,
		"requestId", requestID,
		"players", len(r.players),
		"pot", r.pot.String(),
	)
	r.emit(ctx, events.RequestedRaffleWinner{RequestID: requestID})
	return requestID, nil
}

// FulfillRandomWords settles the round: picks the winner, pays the entire
// pool, resets the ledger, and reopens entry. It is invoked only by the
// oracle boundary; the coordinator has already filtered request ids it never
// issued, and the outstanding-id check here is the second line of defense.
//
// All effects are transactional: the payout is attempted before any round
// state changes, and it is the only fallible effect, so a failed transfer
// leaves the round exactly as it was.
func (r *Raffle) FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateCalculating || r.requestID != requestID {
		return &UnknownRequestError{RequestID: requestID}
	}
	if len(words) == 0 || words[0] == nil {
		return ErrNoRandomWords
	}

	idx := new(big.Int).Mod(words[0], big.NewInt(int64(len(r.players))))
	winner := r.players[idx.Int64()]
	prize := new(big.Int).Set(r.pot)

	if err := r.funds.Payout(ctx, winner, prize); err != nil {
		return &TransferFailedError{Winner: winner, Amount: prize, Err: err}
	}

	settledAt := r.cfg.Now().UTC()
	settlement := Settlement{
		RoundID:     RoundIDV1(r.roundNumber),
		RequestID:   requestID,
		Winner:      winner,
		Pot:         prize,
		PlayerCount: len(r.players),
		SettledAt:   settledAt,
	}

	r.recentWinner = winner
	r.players = nil
	r.pot = new(big.Int)
	r.lastTimestamp = settledAt
	r.requestID = 0
	r.state = StateOpen
	r.roundNumber++

	r.log.Info("winner picked",
		"round", r.roundNumber-1,
		"requestId", requestID,
		"winner", winner,
		"prize", prize.String(),
		"players", settlement.PlayerCount,
	)
	r.emit(ctx, events.WinnerPicked{Winner: winner})

	if r.rec != nil {
		if err := r.rec.RecordSettlement(ctx, settlement); err != nil {
			r.log.Warn("record settlement", "round", r.roundNumber-1, "err", err)
		}
	}
	return nil
}

func (r *Raffle) emit(ctx context.Context, ev events.Event) {
	if err := r.sink.Emit(ctx, ev); err != nil {
		r.log.Warn("emit event", "event", ev.Name(), "err", err)
	}
}

// Read accessors. All are side-effect-free snapshots.

func (r *Raffle) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Raffle) EntranceFee() *big.Int {
	return new(big.Int).Set(r.cfg.EntranceFee)
}

func (r *Raffle) Interval() time.Duration {
	return r.cfg.Interval
}

// Player returns the participant at index i in entry order.
func (r *Raffle) Player(i int) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.players) {
		return common.Address{}, fmt.Errorf("raffle: player index %d out of range [0,%d)", i, len(r.players))
	}
	return r.players[i], nil
}

func (r *Raffle) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Players returns a copy of the current entry list.
func (r *Raffle) Players() []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]common.Address, len(r.players))
	copy(out, r.players)
	return out
}

func (r *Raffle) Pot() *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return new(big.Int).Set(r.pot)
}

func (r *Raffle) LastTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTimestamp
}

func (r *Raffle) RecentWinner() common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recentWinner
}

// OutstandingRequestID returns the pending randomness request id, or zero
// when no request is outstanding.
func (r *Raffle) OutstandingRequestID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestID
}

// RoundNumber returns the 1-based number of the round currently accepting
// entries (or calculating).
func (r *Raffle) RoundNumber() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roundNumber
}
