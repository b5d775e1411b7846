package custody

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"gobridgeledger/types"
)

type assetKey struct {
	chainID uint64
	token   common.Address
}

type accountKey struct {
	assetKey
	account common.Address
}

// Memory keeps balances in process. Used in dev mode and by tests.
type Memory struct {
	mu       sync.Mutex
	balances map[accountKey]*big.Int
	escrow   map[assetKey]*big.Int
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[accountKey]*big.Int),
		escrow:   make(map[assetKey]*big.Int),
	}
}

func get(m map[accountKey]*big.Int, k accountKey) *big.Int {
	v, ok := m[k]
	if !ok {
		v = new(big.Int)
		m[k] = v
	}
	return v
}

func (m *Memory) escrowOf(k assetKey) *big.Int {
	v, ok := m.escrow[k]
	if !ok {
		v = new(big.Int)
		m.escrow[k] = v
	}
	return v
}

// Credit gives account an initial balance
func (m *Memory) Credit(chainID uint64, token, account common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := get(m.balances, accountKey{assetKey{chainID, token}, account})
	bal.Add(bal, amount)
}

func (m *Memory) Balance(chainID uint64, token, account common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return new(big.Int).Set(get(m.balances, accountKey{assetKey{chainID, token}, account}))
}

func (m *Memory) Escrow(chainID uint64, token common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return new(big.Int).Set(m.escrowOf(assetKey{chainID, token}))
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return types.Errorf(types.ErrInvalidAmount, "custody amount must be positive")
	}
	return nil
}

func (m *Memory) Lock(ctx context.Context, chainID uint64, token, account common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := get(m.balances, accountKey{assetKey{chainID, token}, account})
	if bal.Cmp(amount) < 0 {
		return types.Errorf(types.ErrInsufficientBalance, "lock %s of %s on %d: balance %s", amount, token.Hex(), chainID, bal)
	}
	bal.Sub(bal, amount)
	esc := m.escrowOf(assetKey{chainID, token})
	esc.Add(esc, amount)
	return nil
}

func (m *Memory) Unlock(ctx context.Context, chainID uint64, token, account common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	esc := m.escrowOf(assetKey{chainID, token})
	if esc.Cmp(amount) < 0 {
		return types.Errorf(types.ErrInsufficientBalance, "unlock %s of %s on %d: escrow %s", amount, token.Hex(), chainID, esc)
	}
	esc.Sub(esc, amount)
	bal := get(m.balances, accountKey{assetKey{chainID, token}, account})
	bal.Add(bal, amount)
	return nil
}

func (m *Memory) Mint(ctx context.Context, chainID uint64, token, account common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := get(m.balances, accountKey{assetKey{chainID, token}, account})
	bal.Add(bal, amount)
	return nil
}

func (m *Memory) Burn(ctx context.Context, chainID uint64, token, account common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := get(m.balances, accountKey{assetKey{chainID, token}, account})
	if bal.Cmp(amount) < 0 {
		return types.Errorf(types.ErrInsufficientBalance, "burn %s of %s on %d: balance %s", amount, token.Hex(), chainID, bal)
	}
	bal.Sub(bal, amount)
	return nil
}

func (m *Memory) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return fmt.Sprintf("custody.Memory{%d balances, %d escrows}", len(m.balances), len(m.escrow))
}
