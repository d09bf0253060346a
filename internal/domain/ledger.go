package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralLedger is the custody primitive for the single fungible
// collateral asset. Implementations must make each call atomic: a failed
// lock or transfer leaves balances unchanged.
//
// Amounts are wad. Callers in a different native precision rescale before
// crossing this boundary, never inside the core.
type CollateralLedger interface {
	// Lock moves amount from the owner's free balance into escrow.
	Lock(ctx context.Context, owner common.Address, amount *big.Int) error
	// Unlock returns amount from escrow to the owner's free balance.
	Unlock(ctx context.Context, owner common.Address, amount *big.Int) error
	// SpendLocked consumes amount from the owner's escrow (delivered to the
	// pool as trade input).
	SpendLocked(ctx context.Context, owner common.Address, amount *big.Int) error
	// Credit adds amount to the owner's free balance (trade proceeds).
	Credit(ctx context.Context, owner common.Address, amount *big.Int) error
	// Balance returns the owner's free collateral balance.
	Balance(ctx context.Context, owner common.Address) (*big.Int, error)
}

// PositionLedger is the custody primitive for the per-outcome position
// tokens of one market. Same atomicity rules as CollateralLedger.
type PositionLedger interface {
	Lock(ctx context.Context, owner common.Address, marketID string, outcome int, amount *big.Int) error
	Unlock(ctx context.Context, owner common.Address, marketID string, outcome int, amount *big.Int) error
	SpendLocked(ctx context.Context, owner common.Address, marketID string, outcome int, amount *big.Int) error
	Credit(ctx context.Context, owner common.Address, marketID string, outcome int, amount *big.Int) error
	Balance(ctx context.Context, owner common.Address, marketID string, outcome int) (*big.Int, error)
}

// ConditionLedger exposes the split/merge primitives of the underlying
// conditional-token system for one pool account. MergePositions converts one
// unit of every outcome of a condition back into its parent collateral; it
// fails with ErrInsufficientPositionBalance when the account does not hold
// the full set.
type ConditionLedger interface {
	// ConditionBalance returns the pool's mergeable balance for a condition.
	ConditionBalance(ctx context.Context, conditionID string) (*big.Int, error)
	// MergePositions merges amount units of conditionID back toward
	// collateral. Partial merges must not occur.
	MergePositions(ctx context.Context, conditionID string, amount *big.Int) error
}
