package domain

import (
	"context"
	"math/big"
)

// AMM is the adapter contract for the market maker backing one market. The
// pool's pricing formula and balance accounting live behind this interface;
// the engine only observes marginal prices and executes trades.
//
// All prices and amounts are wad (18-decimal fixed point). MarginalPrice is
// always in the open interval (0, 1).
type AMM interface {
	// MarginalPrice returns the instantaneous price of one outcome token in
	// collateral units.
	MarginalPrice(ctx context.Context, outcome int) (*big.Int, error)

	// PoolBalances returns the pool's outcome-token balances, indexed by
	// outcome slot.
	PoolBalances(ctx context.Context) ([]*big.Int, error)

	// Buy spends investment collateral on outcome tokens. It fails with
	// ErrSlippageExceeded when fewer than minTokens would be received, in
	// which case the pool is untouched.
	Buy(ctx context.Context, investment *big.Int, outcome int, minTokens *big.Int) (*big.Int, error)

	// Sell swaps tokens of the given outcome back into collateral. It fails
	// with ErrSlippageExceeded when less than minCollateral would be
	// received, in which case the pool is untouched.
	Sell(ctx context.Context, tokens *big.Int, outcome int, minCollateral *big.Int) (*big.Int, error)
}

// TradeHook receives the synchronous post-trade notification an AMM adapter
// fires after every completed trade, including trades caused by the matching
// engine's own executions.
type TradeHook interface {
	OnTrade(ctx context.Context, marketID string, outcome int, oldTick, newTick int64)
}
