package amm

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlefield/tickbook/internal/domain"
	"github.com/castlefield/tickbook/internal/tick"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type hookRecorder struct {
	calls []hookCall
}

type hookCall struct {
	outcome          int
	oldTick, newTick int64
}

func (h *hookRecorder) OnTrade(_ context.Context, _ string, outcome int, oldTick, newTick int64) {
	h.calls = append(h.calls, hookCall{outcome, oldTick, newTick})
}

func TestMarginalPrices_SumToOne(t *testing.T) {
	for _, outcomes := range []int{2, 3, 5} {
		f := New("mkt", outcomes, wad(1_000), slog.Default())
		sum := new(big.Int)
		for i := 0; i < outcomes; i++ {
			p, err := f.MarginalPrice(context.Background(), i)
			require.NoError(t, err)
			assert.Equal(t, 1, p.Sign())
			assert.Equal(t, -1, p.Cmp(tick.Wad))
			sum.Add(sum, p)
		}
		// Integer division may lose at most one wei per outcome.
		diff := new(big.Int).Sub(tick.Wad, sum)
		assert.True(t, diff.Sign() >= 0 && diff.Cmp(big.NewInt(int64(outcomes))) <= 0,
			"prices for %d outcomes sum to %s", outcomes, sum)
	}
}

func TestBuy_MovesPriceUpAndNotifies(t *testing.T) {
	f := New("mkt", 2, wad(1_000), slog.Default())
	rec := &hookRecorder{}
	f.SetHook(rec)
	ctx := context.Background()

	before, err := f.MarginalPrice(ctx, 0)
	require.NoError(t, err)

	out, err := f.Buy(ctx, wad(100), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Sign())

	after, err := f.MarginalPrice(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Cmp(before), "buy must raise the outcome price")

	require.Len(t, rec.calls, 1)
	assert.Equal(t, 0, rec.calls[0].outcome)
	assert.Greater(t, rec.calls[0].newTick, rec.calls[0].oldTick)
}

func TestSell_MovesPriceDown(t *testing.T) {
	f := New("mkt", 3, wad(1_000), slog.Default())
	rec := &hookRecorder{}
	f.SetHook(rec)
	ctx := context.Background()

	before, err := f.MarginalPrice(ctx, 1)
	require.NoError(t, err)

	out, err := f.Sell(ctx, wad(100), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Sign())
	// Selling 100 tokens of a ~0.33 outcome returns well under 100 collateral.
	assert.Equal(t, -1, out.Cmp(wad(100)))

	after, err := f.MarginalPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, -1, after.Cmp(before), "sell must lower the outcome price")

	require.Len(t, rec.calls, 1)
	assert.Less(t, rec.calls[0].newTick, rec.calls[0].oldTick)
}

func TestBuy_SlippageLeavesPoolUntouched(t *testing.T) {
	f := New("mkt", 2, wad(1_000), slog.Default())
	ctx := context.Background()

	balancesBefore, err := f.PoolBalances(ctx)
	require.NoError(t, err)

	// Demand more tokens than any 100-collateral buy could return.
	_, err = f.Buy(ctx, wad(100), 0, wad(10_000))
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)

	balancesAfter, err := f.PoolBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, balancesBefore, balancesAfter)
}

func TestSell_SlippageLeavesPoolUntouched(t *testing.T) {
	f := New("mkt", 2, wad(1_000), slog.Default())
	ctx := context.Background()

	balancesBefore, err := f.PoolBalances(ctx)
	require.NoError(t, err)

	_, err = f.Sell(ctx, wad(10), 0, wad(10_000))
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)

	balancesAfter, err := f.PoolBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, balancesBefore, balancesAfter)
}

func TestProductInvariantNeverDecreases(t *testing.T) {
	f := New("mkt", 2, wad(1_000), slog.Default())
	ctx := context.Background()

	k0 := f.product()

	_, err := f.Buy(ctx, wad(250), 0, nil)
	require.NoError(t, err)
	_, err = f.Sell(ctx, wad(100), 0, nil)
	require.NoError(t, err)
	_, err = f.Buy(ctx, wad(50), 1, nil)
	require.NoError(t, err)

	// Rounding always favors the pool.
	assert.True(t, f.product().Cmp(k0) >= 0)
}
