package raffle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/openraffle/raffled/internal/events"
	"github.com/openraffle/raffled/internal/vault"
	"github.com/openraffle/raffled/internal/vrf"
)

var (
	testFee      = big.NewInt(1_000_000)
	testInterval = 30 * time.Second
)

type fixture struct {
	raffle *Raffle
	vault  *vault.MemoryVault
	coord  *vrf.MockCoordinator
	sink   *events.MemorySink
	now    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	v := vault.NewMemoryVault()
	coord := vrf.NewMockCoordinator()
	sink := &events.MemorySink{}

	r, err := New(Config{
		EntranceFee:          testFee,
		Interval:             testInterval,
		KeyHash:              [32]byte{0xaa},
		SubscriptionID:       7,
		RequestConfirmations: 3,
		CallbackGasLimit:     500_000,
		Now:                  func() time.Time { return now },
	}, v, coord, sink, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &fixture{raffle: r, vault: v, coord: coord, sink: sink, now: &now}
}

func (f *fixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

func (f *fixture) fund(t *testing.T, addr common.Address, amount *big.Int) {
	t.Helper()
	if err := f.vault.Credit(addr, amount); err != nil {
		t.Fatalf("Credit %s: %v", addr, err)
	}
}

func (f *fixture) enter(t *testing.T, addr common.Address, amount *big.Int) {
	t.Helper()
	f.fund(t, addr, amount)
	if err := f.raffle.Enter(context.Background(), addr, amount); err != nil {
		t.Fatalf("Enter %s: %v", addr, err)
	}
}

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func TestEnter_RejectsBelowFee(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	player := addr(0x01)
	f.fund(t, player, testFee)

	low := new(big.Int).Sub(testFee, big.NewInt(1))
	err := f.raffle.Enter(context.Background(), player, low)

	var notEnough *NotEnoughFundsError
	if !errors.As(err, &notEnough) {
		t.Fatalf("expected NotEnoughFundsError, got %v", err)
	}
	if notEnough.Sent.Cmp(low) != 0 || notEnough.Required.Cmp(testFee) != 0 {
		t.Fatalf("unexpected error payload: sent=%s required=%s", notEnough.Sent, notEnough.Required)
	}
	if f.raffle.PlayerCount() != 0 {
		t.Fatalf("expected no players, got %d", f.raffle.PlayerCount())
	}
	if f.raffle.Pot().Sign() != 0 {
		t.Fatalf("expected empty pot, got %s", f.raffle.Pot())
	}
	if got := f.vault.Balance(player); got.Cmp(testFee) != 0 {
		t.Fatalf("player balance changed: %s", got)
	}
}

func TestEnter_RecordsPlayersAndPot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p1 := addr(0x01)
	p2 := addr(0x02)

	f.enter(t, p1, testFee)

	// Overpayment is retained in full; duplicate entries are separate slots.
	over := new(big.Int).Mul(testFee, big.NewInt(3))
	f.enter(t, p1, over)
	f.enter(t, p2, testFee)

	if got := f.raffle.PlayerCount(); got != 3 {
		t.Fatalf("player count: got %d want 3", got)
	}
	for i, want := range []common.Address{p1, p1, p2} {
		got, err := f.raffle.Player(i)
		if err != nil {
			t.Fatalf("Player(%d): %v", i, err)
		}
		if got != want {
			t.Fatalf("Player(%d): got %s want %s", i, got, want)
		}
	}

	wantPot := new(big.Int).Add(new(big.Int).Mul(testFee, big.NewInt(2)), over)
	if got := f.raffle.Pot(); got.Cmp(wantPot) != 0 {
		t.Fatalf("pot: got %s want %s", got, wantPot)
	}

	if len(f.sink.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(f.sink.Events))
	}
	if ev, ok := f.sink.Events[0].(events.EnteredRaffle); !ok || ev.Player != p1 {
		t.Fatalf("unexpected first event: %#v", f.sink.Events[0])
	}
}

func TestEnter_PropagatesVaultRejection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	player := addr(0x01)
	// Funded below the attempted amount but above the fee.
	f.fund(t, player, testFee)

	amount := new(big.Int).Mul(testFee, big.NewInt(2))
	err := f.raffle.Enter(context.Background(), player, amount)
	if !errors.Is(err, vault.ErrInsufficientFunds) {
		t.Fatalf("expected vault.ErrInsufficientFunds, got %v", err)
	}
	if f.raffle.PlayerCount() != 0 || f.raffle.Pot().Sign() != 0 {
		t.Fatalf("state changed on failed deposit: players=%d pot=%s", f.raffle.PlayerCount(), f.raffle.Pot())
	}
}

func TestCheckUpkeep_Predicate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// No players, no balance.
	f.advance(testInterval)
	if needed, _ := f.raffle.CheckUpkeep(ctx); needed {
		t.Fatal("upkeep needed with no players")
	}

	// Players present but interval not yet elapsed.
	f2 := newFixture(t)
	f2.enter(t, addr(0x01), testFee)
	f2.advance(testInterval - time.Second)
	if needed, _ := f2.raffle.CheckUpkeep(ctx); needed {
		t.Fatal("upkeep needed before interval elapsed")
	}

	// All four conditions hold.
	f2.advance(time.Second)
	needed, diag := f2.raffle.CheckUpkeep(ctx)
	if !needed {
		t.Fatalf("upkeep not needed: %+v", diag)
	}
	if diag.State != StateOpen || diag.PlayerCount != 1 || diag.Balance.Cmp(testFee) != 0 {
		t.Fatalf("unexpected diagnostic: %+v", diag)
	}

	// Calculating pins the predicate false.
	if _, err := f2.raffle.PerformUpkeep(ctx); err != nil {
		t.Fatalf("PerformUpkeep: %v", err)
	}
	if needed, diag := f2.raffle.CheckUpkeep(ctx); needed || diag.State != StateCalculating {
		t.Fatalf("upkeep needed while calculating: needed=%v state=%s", needed, diag.State)
	}
}

func TestCheckUpkeep_HasNoSideEffects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if needed, _ := f.raffle.CheckUpkeep(ctx); needed {
			t.Fatal("upkeep needed on empty raffle")
		}
	}
	if f.raffle.State() != StateOpen || f.raffle.PlayerCount() != 0 {
		t.Fatal("CheckUpkeep mutated state")
	}
}

func TestPerformUpkeep_FailsWithDiagnosticSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.enter(t, addr(0x01), testFee)
	// Interval has not elapsed.

	_, err := f.raffle.PerformUpkeep(context.Background())
	var notNeeded *UpkeepNotNeededError
	if !errors.As(err, &notNeeded) {
		t.Fatalf("expected UpkeepNotNeededError, got %v", err)
	}
	if notNeeded.State != StateOpen || notNeeded.PlayerCount != 1 || notNeeded.Balance.Cmp(testFee) != 0 {
		t.Fatalf("unexpected snapshot: %+v", notNeeded)
	}

	if f.raffle.State() != StateOpen {
		t.Fatalf("state changed on failed upkeep: %s", f.raffle.State())
	}
	if f.raffle.OutstandingRequestID() != 0 {
		t.Fatal("request issued on failed upkeep")
	}
	if f.coord.PendingRequests() != 0 {
		t.Fatal("coordinator received a request on failed upkeep")
	}
}

func TestPerformUpkeep_TransitionsAndRequestsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.enter(t, addr(0x01), testFee)
	f.advance(testInterval)

	requestID, err := f.raffle.PerformUpkeep(ctx)
	if err != nil {
		t.Fatalf("PerformUpkeep: %v", err)
	}
	if requestID == 0 {
		t.Fatal("expected nonzero request id")
	}
	if f.raffle.State() != StateCalculating {
		t.Fatalf("state: got %s want calculating", f.raffle.State())
	}
	if got := f.raffle.OutstandingRequestID(); got != requestID {
		t.Fatalf("outstanding request id: got %d want %d", got, requestID)
	}
	if f.coord.PendingRequests() != 1 {
		t.Fatalf("pending requests: got %d want 1", f.coord.PendingRequests())
	}

	ev, ok := f.sink.Events[len(f.sink.Events)-1].(events.RequestedRaffleWinner)
	if !ok || ev.RequestID != requestID {
		t.Fatalf("unexpected last event: %#v", f.sink.Events[len(f.sink.Events)-1])
	}

	// A redundant trigger always fails via the precondition re-check.
	_, err = f.raffle.PerformUpkeep(ctx)
	var notNeeded *UpkeepNotNeededError
	if !errors.As(err, &notNeeded) {
		t.Fatalf("expected UpkeepNotNeededError on repeat, got %v", err)
	}
	if notNeeded.State != StateCalculating {
		t.Fatalf("snapshot state: got %s want calculating", notNeeded.State)
	}
	if f.coord.PendingRequests() != 1 {
		t.Fatal("redundant trigger issued a second request")
	}
}

func TestEnter_RejectedWhileCalculating(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.enter(t, addr(0x01), testFee)
	f.advance(testInterval)
	if _, err := f.raffle.PerformUpkeep(ctx); err != nil {
		t.Fatalf("PerformUpkeep: %v", err)
	}

	late := addr(0x02)
	generous := new(big.Int).Mul(testFee, big.NewInt(10))
	f.fund(t, late, generous)

	if err := f.raffle.Enter(ctx, late, generous); !errors.Is(err, ErrRaffleNotOpen) {
		t.Fatalf("expected ErrRaffleNotOpen, got %v", err)
	}
	if f.raffle.PlayerCount() != 1 {
		t.Fatalf("player count changed: %d", f.raffle.PlayerCount())
	}
}

func TestFulfill_RejectsUnknownRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.enter(t, addr(0x01), testFee)
	f.advance(testInterval)
	requestID, err := f.raffle.PerformUpkeep(ctx)
	if err != nil {
		t.Fatalf("PerformUpkeep: %v", err)
	}

	err = f.raffle.FulfillRandomWords(ctx, requestID+100, []*big.Int{big.NewInt(1)})
	var unknown *UnknownRequestError
	if !errors.As(err, &unknown) || unknown.RequestID != requestID+100 {
		t.Fatalf("expected UnknownRequestError, got %v", err)
	}
	if f.raffle.State() != StateCalculating || f.raffle.PlayerCount() != 1 || f.raffle.Pot().Cmp(testFee) != 0 {
		t.Fatal("state touched by unknown request")
	}

	// The coordinator filters unknown ids before the raffle sees them.
	if err := f.coord.FulfillRequest(ctx, requestID+100, f.raffle); !errors.Is(err, vrf.ErrUnknownRequest) {
		t.Fatalf("expected vrf.ErrUnknownRequest, got %v", err)
	}
}

func TestFulfill_RejectsEmptyWords(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.enter(t, addr(0x01), testFee)
	f.advance(testInterval)
	requestID, err := f.raffle.PerformUpkeep(ctx)
	if err != nil {
		t.Fatalf("PerformUpkeep: %v", err)
	}

	if err := f.raffle.FulfillRandomWords(ctx, requestID, nil); !errors.Is(err, ErrNoRandomWords) {
		t.Fatalf("expected ErrNoRandomWords, got %v", err)
	}
	if f.raffle.State() != StateCalculating {
		t.Fatal("state touched by empty fulfillment")
	}
}

func TestFulfill_SettlesRound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	players := []common.Address{addr(0x01), addr(0x02), addr(0x03)}
	for _, p := range players {
		f.enter(t, p, testFee)
	}
	pot := new(big.Int).Mul(testFee, big.NewInt(3))

	f.advance(testInterval)
	requestID, err := f.raffle.PerformUpkeep(ctx)
	if err != nil {
		t.Fatalf("PerformUpkeep: %v", err)
	}
	before := f.raffle.LastTimestamp()
	f.advance(5 * time.Second)

	// word % 3 == 1 selects the second entrant.
	word := big.NewInt(7)
	if err := f.coord.FulfillRequestWithWords(ctx, requestID, []*big.Int{word}, f.raffle); err != nil {
		t.Fatalf("FulfillRequestWithWords: %v", err)
	}
	winner := players[1]

	if f.raffle.State() != StateOpen {
		t.Fatalf("state: got %s want open", f.raffle.State())
	}
	if f.raffle.PlayerCount() != 0 {
		t.Fatalf("players not cleared: %d", f.raffle.PlayerCount())
	}
	if f.raffle.Pot().Sign() != 0 {
		t.Fatalf("pot not cleared: %s", f.raffle.Pot())
	}
	if f.raffle.RecentWinner() != winner {
		t.Fatalf("recent winner: got %s want %s", f.raffle.RecentWinner(), winner)
	}
	if f.raffle.OutstandingRequestID() != 0 {
		t.Fatal("request id still outstanding after settlement")
	}
	if !f.raffle.LastTimestamp().After(before) {
		t.Fatal("lastTimestamp did not advance")
	}

	// The winner already paid their own fee, so the net gain is pot - fee.
	if got := f.vault.Balance(winner); got.Cmp(pot) != 0 {
		t.Fatalf("winner balance: got %s want %s", got, pot)
	}
	for _, p := range []common.Address{players[0], players[2]} {
		if got := f.vault.Balance(p); got.Sign() != 0 {
			t.Fatalf("loser %s balance changed: %s", p, got)
		}
	}

	ev, ok := f.sink.Events[len(f.sink.Events)-1].(events.WinnerPicked)
	if !ok || ev.Winner != winner {
		t.Fatalf("unexpected last event: %#v", f.sink.Events[len(f.sink.Events)-1])
	}
}

func TestFulfill_TransferFailureRollsBackAtomically(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	player := addr(0x01)
	f.enter(t, player, testFee)
	f.advance(testInterval)
	requestID, err := f.raffle.PerformUpkeep(ctx)
	if err != nil {
		t.Fatalf("PerformUpkeep: %v", err)
	}

	f.vault.RejectPayoutsTo(player)

	err = f.raffle.FulfillRandomWords(ctx, requestID, []*big.Int{big.NewInt(0)})
	var transferErr *TransferFailedError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected TransferFailedError, got %v", err)
	}
	if !errors.Is(err, vault.ErrPayoutRejected) {
		t.Fatalf("expected wrapped vault.ErrPayoutRejected, got %v", err)
	}

	// No effect advanced: still calculating, ledger intact, no winner.
	if f.raffle.State() != StateCalculating {
		t.Fatalf("state: got %s want calculating", f.raffle.State())
	}
	if f.raffle.PlayerCount() != 1 || f.raffle.Pot().Cmp(testFee) != 0 {
		t.Fatal("ledger mutated by failed settlement")
	}
	if f.raffle.RecentWinner() != (common.Address{}) {
		t.Fatal("recentWinner set by failed settlement")
	}
	if f.raffle.OutstandingRequestID() != requestID {
		t.Fatal("request id cleared by failed settlement")
	}
	if f.vault.Pot().Cmp(testFee) != 0 {
		t.Fatalf("vault pot mutated: %s", f.vault.Pot())
	}
}

type settlementCapture struct {
	settlements []Settlement
	err         error
}

func (c *settlementCapture) RecordSettlement(_ context.Context, s Settlement) error {
	c.settlements = append(c.settlements, s)
	return c.err
}

func TestFulfill_NotifiesRecorder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	rec := &settlementCapture{}
	f.raffle.WithRecorder(rec)

	f.enter(t, addr(0x01), testFee)
	f.advance(testInterval)
	requestID, err := f.raffle.PerformUpkeep(ctx)
	if err != nil {
		t.Fatalf("PerformUpkeep: %v", err)
	}
	if err := f.coord.FulfillRequest(ctx, requestID, f.raffle); err != nil {
		t.Fatalf("FulfillRequest: %v", err)
	}

	if len(rec.settlements) != 1 {
		t.Fatalf("expected 1 settlement, got %d", len(rec.settlements))
	}
	s := rec.settlements[0]
	if s.RoundID != RoundIDV1(1) {
		t.Fatal("unexpected round id")
	}
	if s.RequestID != requestID || s.Winner != addr(0x01) || s.PlayerCount != 1 || s.Pot.Cmp(testFee) != 0 {
		t.Fatalf("unexpected settlement: %+v", s)
	}
}

func TestFulfill_RecorderFailureDoesNotUndoSettlement(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	rec := &settlementCapture{err: errors.New("archive down")}
	f.raffle.WithRecorder(rec)

	f.enter(t, addr(0x01), testFee)
	f.advance(testInterval)
	requestID, err := f.raffle.PerformUpkeep(ctx)
	if err != nil {
		t.Fatalf("PerformUpkeep: %v", err)
	}
	if err := f.coord.FulfillRequest(ctx, requestID, f.raffle); err != nil {
		t.Fatalf("FulfillRequest: %v", err)
	}

	if f.raffle.State() != StateOpen || f.raffle.RecentWinner() != addr(0x01) {
		t.Fatal("settlement undone by recorder failure")
	}
}

func TestEndToEnd_SingleEntrant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	player := addr(0x42)

	f.enter(t, player, testFee)
	f.advance(testInterval + time.Second)

	requestID, err := f.raffle.PerformUpkeep(ctx)
	if err != nil {
		t.Fatalf("PerformUpkeep: %v", err)
	}
	if requestID == 0 {
		t.Fatal("expected nonzero request id")
	}
	if err := f.coord.FulfillRequest(ctx, requestID, f.raffle); err != nil {
		t.Fatalf("FulfillRequest: %v", err)
	}

	if f.raffle.RecentWinner() != player {
		t.Fatalf("winner: got %s want %s", f.raffle.RecentWinner(), player)
	}
	if f.raffle.Pot().Sign() != 0 || f.raffle.PlayerCount() != 0 {
		t.Fatal("pool not emptied")
	}
	if got := f.vault.Balance(player); got.Cmp(testFee) != 0 {
		t.Fatalf("sole entrant should get their fee back: %s", got)
	}
}

func TestEndToEnd_SixEntrants(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	var players []common.Address
	for i := byte(1); i <= 6; i++ {
		p := addr(i)
		players = append(players, p)
		f.enter(t, p, testFee)
	}
	pot := new(big.Int).Mul(testFee, big.NewInt(6))
	if got := f.raffle.Pot(); got.Cmp(pot) != 0 {
		t.Fatalf("pot: got %s want %s", got, pot)
	}

	f.advance(testInterval)
	requestID, err := f.raffle.PerformUpkeep(ctx)
	if err != nil {
		t.Fatalf("PerformUpkeep: %v", err)
	}
	if err := f.coord.FulfillRequest(ctx, requestID, f.raffle); err != nil {
		t.Fatalf("FulfillRequest: %v", err)
	}

	winner := f.raffle.RecentWinner()
	winners := 0
	for _, p := range players {
		bal := f.vault.Balance(p)
		switch {
		case p == winner:
			winners++
			if bal.Cmp(pot) != 0 {
				t.Fatalf("winner balance: got %s want %s", bal, pot)
			}
		case bal.Sign() != 0:
			t.Fatalf("loser %s balance changed: %s", p, bal)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner among entrants, got %d", winners)
	}
	if f.raffle.PlayerCount() != 0 {
		t.Fatal("players list not emptied")
	}

	// The raffle reopens for the next round.
	f.enter(t, addr(0x10), testFee)
	if f.raffle.PlayerCount() != 1 {
		t.Fatal("raffle did not reopen")
	}
}
