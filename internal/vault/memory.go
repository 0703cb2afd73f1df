package vault

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryVault is an in-memory balance ledger for tests and single-process
// deployments. It is safe for concurrent use.
type MemoryVault struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	pot      *big.Int
	rejected map[common.Address]bool
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		balances: make(map[common.Address]*big.Int),
		pot:      new(big.Int),
		rejected: make(map[common.Address]bool),
	}
}

// Credit funds an account out of thin air. Test/bootstrap helper.
func (v *MemoryVault) Credit(addr common.Address, amount *big.Int) error {
	if err := validateMove(addr, amount); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal, ok := v.balances[addr]
	if !ok {
		bal = new(big.Int)
		v.balances[addr] = bal
	}
	bal.Add(bal, amount)
	return nil
}

// RejectPayoutsTo makes every payout to addr fail, simulating a recipient
// that refuses funds.
func (v *MemoryVault) RejectPayoutsTo(addr common.Address) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejected[addr] = true
}

func (v *MemoryVault) Deposit(_ context.Context, from common.Address, amount *big.Int) error {
	if err := validateMove(from, amount); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal, ok := v.balances[from]
	if !ok {
		return ErrUnknownAccount
	}
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	bal.Sub(bal, amount)
	v.pot.Add(v.pot, amount)
	return nil
}

func (v *MemoryVault) Payout(_ context.Context, to common.Address, amount *big.Int) error {
	if err := validateMove(to, amount); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.rejected[to] {
		return ErrPayoutRejected
	}
	if v.pot.Cmp(amount) < 0 {
		return ErrInsufficientPot
	}

	bal, ok := v.balances[to]
	if !ok {
		bal = new(big.Int)
		v.balances[to] = bal
	}
	v.pot.Sub(v.pot, amount)
	bal.Add(bal, amount)
	return nil
}

// Balance returns a copy of the account balance; zero for unknown accounts.
func (v *MemoryVault) Balance(addr common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	bal, ok := v.balances[addr]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

// Pot returns a copy of the pooled balance.
func (v *MemoryVault) Pot() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.pot)
}
