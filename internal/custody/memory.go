package custody

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/castlefield/tickbook/internal/domain"
)

// account is a free/locked balance pair. Balances never go negative.
type account struct {
	free   *big.Int
	locked *big.Int
}

func newAccount() *account {
	return &account{free: new(big.Int), locked: new(big.Int)}
}

// MemCollateralLedger is the in-memory domain.CollateralLedger. It is the
// reference custody implementation for the sim mode and tests; a chain-backed
// ledger would satisfy the same interface.
type MemCollateralLedger struct {
	mu       sync.Mutex
	accounts map[common.Address]*account
}

// NewMemCollateralLedger creates an empty in-memory collateral ledger.
func NewMemCollateralLedger() *MemCollateralLedger {
	return &MemCollateralLedger{accounts: make(map[common.Address]*account)}
}

func (l *MemCollateralLedger) account(owner common.Address) *account {
	a, ok := l.accounts[owner]
	if !ok {
		a = newAccount()
		l.accounts[owner] = a
	}
	return a
}

// Deposit funds an account. Test and sim setup only.
func (l *MemCollateralLedger) Deposit(owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account(owner)
	a.free.Add(a.free, amount)
}

func (l *MemCollateralLedger) Lock(_ context.Context, owner common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account(owner)
	if a.free.Cmp(amount) < 0 {
		return domain.ErrInsufficientFunds
	}
	a.free.Sub(a.free, amount)
	a.locked.Add(a.locked, amount)
	return nil
}

func (l *MemCollateralLedger) Unlock(_ context.Context, owner common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account(owner)
	if a.locked.Cmp(amount) < 0 {
		return fmt.Errorf("unlock exceeds escrow: %w", domain.ErrInsufficientFunds)
	}
	a.locked.Sub(a.locked, amount)
	a.free.Add(a.free, amount)
	return nil
}

func (l *MemCollateralLedger) SpendLocked(_ context.Context, owner common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account(owner)
	if a.locked.Cmp(amount) < 0 {
		return fmt.Errorf("spend exceeds escrow: %w", domain.ErrInsufficientFunds)
	}
	a.locked.Sub(a.locked, amount)
	return nil
}

func (l *MemCollateralLedger) Credit(_ context.Context, owner common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account(owner)
	a.free.Add(a.free, amount)
	return nil
}

func (l *MemCollateralLedger) Balance(_ context.Context, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.account(owner).free), nil
}

// LockedBalance returns the owner's escrowed collateral.
func (l *MemCollateralLedger) LockedBalance(owner common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.account(owner).locked)
}

// positionKey addresses one owner's holding of one outcome token.
type positionKey struct {
	owner    common.Address
	marketID string
	outcome  int
}

// MemPositionLedger is the in-memory domain.PositionLedger.
type MemPositionLedger struct {
	mu       sync.Mutex
	accounts map[positionKey]*account
}

// NewMemPositionLedger creates an empty in-memory position ledger.
func NewMemPositionLedger() *MemPositionLedger {
	return &MemPositionLedger{accounts: make(map[positionKey]*account)}
}

func (l *MemPositionLedger) account(k positionKey) *account {
	a, ok := l.accounts[k]
	if !ok {
		a = newAccount()
		l.accounts[k] = a
	}
	return a
}

// Mint credits outcome tokens outside of trading. Test and sim setup only.
func (l *MemPositionLedger) Mint(owner common.Address, marketID string, outcome int, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account(positionKey{owner, marketID, outcome})
	a.free.Add(a.free, amount)
}

func (l *MemPositionLedger) Lock(_ context.Context, owner common.Address, marketID string, outcome int, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account(positionKey{owner, marketID, outcome})
	if a.free.Cmp(amount) < 0 {
		return domain.ErrInsufficientFunds
	}
	a.free.Sub(a.free, amount)
	a.locked.Add(a.locked, amount)
	return nil
}

func (l *MemPositionLedger) Unlock(_ context.Context, owner common.Address, marketID string, outcome int, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account(positionKey{owner, marketID, outcome})
	if a.locked.Cmp(amount) < 0 {
		return fmt.Errorf("unlock exceeds escrow: %w", domain.ErrInsufficientFunds)
	}
	a.locked.Sub(a.locked, amount)
	a.free.Add(a.free, amount)
	return nil
}

func (l *MemPositionLedger) SpendLocked(_ context.Context, owner common.Address, marketID string, outcome int, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account(positionKey{owner, marketID, outcome})
	if a.locked.Cmp(amount) < 0 {
		return fmt.Errorf("spend exceeds escrow: %w", domain.ErrInsufficientFunds)
	}
	a.locked.Sub(a.locked, amount)
	return nil
}

func (l *MemPositionLedger) Credit(_ context.Context, owner common.Address, marketID string, outcome int, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account(positionKey{owner, marketID, outcome})
	a.free.Add(a.free, amount)
	return nil
}

func (l *MemPositionLedger) Balance(_ context.Context, owner common.Address, marketID string, outcome int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.account(positionKey{owner, marketID, outcome}).free), nil
}

// LockedBalance returns the owner's escrowed position amount.
func (l *MemPositionLedger) LockedBalance(owner common.Address, marketID string, outcome int) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.account(positionKey{owner, marketID, outcome}).locked)
}

// MemConditionLedger tracks the pool account's mergeable balance per
// condition, backing the split/merge coordinator in sim and tests.
type MemConditionLedger struct {
	mu       sync.Mutex
	balances map[string]*big.Int
}

// NewMemConditionLedger creates an empty in-memory condition ledger.
func NewMemConditionLedger() *MemConditionLedger {
	return &MemConditionLedger{balances: make(map[string]*big.Int)}
}

// Fund sets up a condition balance. Test and sim setup only.
func (l *MemConditionLedger) Fund(conditionID string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[conditionID]
	if !ok {
		b = new(big.Int)
		l.balances[conditionID] = b
	}
	b.Add(b, amount)
}

func (l *MemConditionLedger) ConditionBalance(_ context.Context, conditionID string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[conditionID]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(b), nil
}

func (l *MemConditionLedger) MergePositions(_ context.Context, conditionID string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[conditionID]
	if !ok || b.Cmp(amount) < 0 {
		return domain.ErrInsufficientPositionBalance
	}
	b.Sub(b, amount)
	return nil
}
