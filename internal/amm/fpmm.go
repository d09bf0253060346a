// Package amm provides the reference in-memory fixed-product market maker
// used by the sim mode and tests. It implements domain.AMM; the engine only
// depends on that interface, so a remote or on-chain adapter can replace
// this one without touching the core.
package amm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/castlefield/tickbook/internal/domain"
	"github.com/castlefield/tickbook/internal/tick"
)

// FPMM is a fixed-product market maker over N outcome-token balances: the
// product of the balances is preserved across trades. Marginal price of an
// outcome is its share of the sum of the products of the other balances.
type FPMM struct {
	mu       sync.Mutex
	marketID string
	balances []*big.Int
	hook     domain.TradeHook
	logger   *slog.Logger
}

// New creates an FPMM with equal funding in every outcome (uniform prices).
func New(marketID string, outcomes int, funding *big.Int, logger *slog.Logger) *FPMM {
	balances := make([]*big.Int, outcomes)
	for i := range balances {
		balances[i] = new(big.Int).Set(funding)
	}
	return &FPMM{
		marketID: marketID,
		balances: balances,
		logger:   logger.With(slog.String("component", "fpmm"), slog.String("market_id", marketID)),
	}
}

// SetHook attaches the post-trade callback. The hook fires synchronously
// after every completed trade, including trades the matching engine itself
// triggered.
func (f *FPMM) SetHook(h domain.TradeHook) {
	f.hook = h
}

// MarginalPrice implements domain.AMM.
func (f *FPMM) MarginalPrice(_ context.Context, outcome int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marginalPrice(outcome)
}

func (f *FPMM) marginalPrice(outcome int) (*big.Int, error) {
	if outcome < 0 || outcome >= len(f.balances) {
		return nil, fmt.Errorf("fpmm: outcome %d: %w", outcome, domain.ErrValidation)
	}
	// price_i = prod_{j != i} b_j / sum_k prod_{j != k} b_j
	sum := new(big.Int)
	var numerator *big.Int
	for k := range f.balances {
		p := big.NewInt(1)
		for j, b := range f.balances {
			if j != k {
				p.Mul(p, b)
			}
		}
		if k == outcome {
			numerator = p
		}
		sum.Add(sum, p)
	}
	price := new(big.Int).Mul(numerator, tick.Wad)
	price.Div(price, sum)
	return price, nil
}

// PoolBalances implements domain.AMM.
func (f *FPMM) PoolBalances(context.Context) ([]*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*big.Int, len(f.balances))
	for i, b := range f.balances {
		out[i] = new(big.Int).Set(b)
	}
	return out, nil
}

// Buy spends investment collateral on outcome tokens: the collateral splits
// into one unit of every outcome, then the fixed product dictates how many
// tokens of the bought outcome leave the pool.
func (f *FPMM) Buy(ctx context.Context, investment *big.Int, outcome int, minTokens *big.Int) (*big.Int, error) {
	f.mu.Lock()
	if outcome < 0 || outcome >= len(f.balances) {
		f.mu.Unlock()
		return nil, fmt.Errorf("fpmm: outcome %d: %w", outcome, domain.ErrValidation)
	}
	if investment == nil || investment.Sign() <= 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("fpmm: investment must be positive: %w", domain.ErrValidation)
	}

	oldTick := f.tickOf(outcome)
	k := f.product()

	// All balances grow by the investment, then the bought outcome's balance
	// shrinks back to keep the product at k. Ceiling division keeps the
	// rounding dust inside the pool.
	others := big.NewInt(1)
	for j, b := range f.balances {
		if j != outcome {
			others.Mul(others, new(big.Int).Add(b, investment))
		}
	}
	endBalance := ceilDiv(k, others)
	tokensOut := new(big.Int).Add(f.balances[outcome], investment)
	tokensOut.Sub(tokensOut, endBalance)

	if tokensOut.Sign() <= 0 || (minTokens != nil && tokensOut.Cmp(minTokens) < 0) {
		f.mu.Unlock()
		return nil, fmt.Errorf("fpmm: buy outcome %d: %w", outcome, domain.ErrSlippageExceeded)
	}

	for j := range f.balances {
		f.balances[j].Add(f.balances[j], investment)
	}
	f.balances[outcome].Sub(f.balances[outcome], tokensOut)
	newTick := f.tickOf(outcome)
	f.mu.Unlock()

	f.logger.DebugContext(ctx, "buy executed",
		slog.Int("outcome", outcome),
		slog.String("investment", investment.String()),
		slog.String("tokens_out", tokensOut.String()),
	)
	f.notify(ctx, outcome, oldTick, newTick)
	return tokensOut, nil
}

// Sell swaps outcome tokens back into collateral. The returned collateral c
// satisfies the fixed product after c units drain from every other balance;
// it is found by bisection since no closed form exists for N outcomes.
func (f *FPMM) Sell(ctx context.Context, tokens *big.Int, outcome int, minCollateral *big.Int) (*big.Int, error) {
	f.mu.Lock()
	if outcome < 0 || outcome >= len(f.balances) {
		f.mu.Unlock()
		return nil, fmt.Errorf("fpmm: outcome %d: %w", outcome, domain.ErrValidation)
	}
	if tokens == nil || tokens.Sign() <= 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("fpmm: tokens must be positive: %w", domain.ErrValidation)
	}

	oldTick := f.tickOf(outcome)
	k := f.product()

	// Upper bound: cannot drain any other balance to zero.
	hi := new(big.Int).Add(f.balances[outcome], tokens)
	for j, b := range f.balances {
		if j != outcome && b.Cmp(hi) <= 0 {
			hi = new(big.Int).Sub(b, big.NewInt(1))
		}
	}
	if hi.Sign() < 0 {
		hi = new(big.Int)
	}

	// Largest c with product(c) >= k.
	lo := new(big.Int)
	one := big.NewInt(1)
	for lo.Cmp(hi) < 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Add(mid, one)
		mid.Rsh(mid, 1)
		if f.productAfterSell(outcome, tokens, mid).Cmp(k) >= 0 {
			lo.Set(mid)
		} else {
			hi.Sub(mid, one)
		}
	}
	collateralOut := lo

	if collateralOut.Sign() <= 0 || (minCollateral != nil && collateralOut.Cmp(minCollateral) < 0) {
		f.mu.Unlock()
		return nil, fmt.Errorf("fpmm: sell outcome %d: %w", outcome, domain.ErrSlippageExceeded)
	}

	f.balances[outcome].Add(f.balances[outcome], tokens)
	for j := range f.balances {
		f.balances[j].Sub(f.balances[j], collateralOut)
	}
	newTick := f.tickOf(outcome)
	f.mu.Unlock()

	f.logger.DebugContext(ctx, "sell executed",
		slog.Int("outcome", outcome),
		slog.String("tokens", tokens.String()),
		slog.String("collateral_out", collateralOut.String()),
	)
	f.notify(ctx, outcome, oldTick, newTick)
	return collateralOut, nil
}

func (f *FPMM) product() *big.Int {
	p := big.NewInt(1)
	for _, b := range f.balances {
		p.Mul(p, b)
	}
	return p
}

func (f *FPMM) productAfterSell(outcome int, tokens, c *big.Int) *big.Int {
	p := big.NewInt(1)
	for j, b := range f.balances {
		adjusted := new(big.Int).Set(b)
		if j == outcome {
			adjusted.Add(adjusted, tokens)
		}
		adjusted.Sub(adjusted, c)
		if adjusted.Sign() <= 0 {
			return new(big.Int) // product collapsed, c is too large
		}
		p.Mul(p, adjusted)
	}
	return p
}

// tickOf maps the current marginal price to a tick, clamping prices that
// fall outside the aligned grid at the extremes.
func (f *FPMM) tickOf(outcome int) int64 {
	price, err := f.marginalPrice(outcome)
	if err != nil {
		return tick.MinTick
	}
	t, err := tick.PriceToTick(price)
	if err != nil {
		if price.Cmp(new(big.Int).Div(tick.Wad, big.NewInt(2))) > 0 {
			return tick.MaxTick
		}
		return tick.MinTick
	}
	return t
}

func (f *FPMM) notify(ctx context.Context, outcome int, oldTick, newTick int64) {
	if f.hook == nil {
		return
	}
	f.hook.OnTrade(ctx, f.marketID, outcome, oldTick, newTick)
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
