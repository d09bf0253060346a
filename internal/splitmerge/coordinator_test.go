package splitmerge

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlefield/tickbook/internal/custody"
	"github.com/castlefield/tickbook/internal/domain"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func multiMarket() *domain.Market {
	return &domain.Market{
		ID:         "mkt-multi",
		Outcomes:   []string{"A", "B"},
		Conditions: []string{"cond-first", "cond-second", "cond-third"},
	}
}

// recordingLedger wraps the in-memory ledger and records merge order.
type recordingLedger struct {
	*custody.MemConditionLedger
	merged []string
}

func (r *recordingLedger) MergePositions(ctx context.Context, conditionID string, amount *big.Int) error {
	if err := r.MemConditionLedger.MergePositions(ctx, conditionID, amount); err != nil {
		return err
	}
	r.merged = append(r.merged, conditionID)
	return nil
}

func TestPrepareSell_SingleConditionNoop(t *testing.T) {
	ledger := &recordingLedger{MemConditionLedger: custody.NewMemConditionLedger()}
	c := New(ledger, slog.Default())

	m := &domain.Market{ID: "mkt-1", Outcomes: []string{"A", "B"}, Conditions: []string{"cond-only"}}
	require.NoError(t, c.PrepareSell(context.Background(), m, wad(10)))
	assert.Empty(t, ledger.merged)
}

func TestPrepareSell_MergesInReverseSplitOrder(t *testing.T) {
	ledger := &recordingLedger{MemConditionLedger: custody.NewMemConditionLedger()}
	for _, id := range []string{"cond-first", "cond-second", "cond-third"} {
		ledger.Fund(id, wad(100))
	}
	c := New(ledger, slog.Default())

	require.NoError(t, c.PrepareSell(context.Background(), multiMarket(), wad(40)))
	assert.Equal(t, []string{"cond-third", "cond-second", "cond-first"}, ledger.merged)

	// Each condition was drawn down by exactly the sell amount.
	for _, id := range []string{"cond-first", "cond-second", "cond-third"} {
		bal, err := ledger.ConditionBalance(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, wad(60), bal, "condition %s", id)
	}
}

func TestPrepareSell_InsufficientBalanceAbortsBeforeAnyMerge(t *testing.T) {
	ledger := &recordingLedger{MemConditionLedger: custody.NewMemConditionLedger()}
	ledger.Fund("cond-first", wad(100))
	ledger.Fund("cond-second", wad(5)) // too little
	ledger.Fund("cond-third", wad(100))
	c := New(ledger, slog.Default())

	err := c.PrepareSell(context.Background(), multiMarket(), wad(40))
	assert.ErrorIs(t, err, domain.ErrInsufficientPositionBalance)

	// No partial merge happened.
	assert.Empty(t, ledger.merged)
	for id, want := range map[string]*big.Int{
		"cond-first":  wad(100),
		"cond-second": wad(5),
		"cond-third":  wad(100),
	} {
		bal, err := ledger.ConditionBalance(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, bal, "condition %s", id)
	}
}

func TestPrepareSell_FailedSellDoesNotRemergeOnRetry(t *testing.T) {
	ledger := &recordingLedger{MemConditionLedger: custody.NewMemConditionLedger()}
	for _, id := range []string{"cond-first", "cond-second", "cond-third"} {
		ledger.Fund(id, wad(100))
	}
	c := New(ledger, slog.Default())
	m := multiMarket()
	ctx := context.Background()

	require.NoError(t, c.PrepareSell(ctx, m, wad(40)))
	require.Len(t, ledger.merged, 3)

	// The sell this prepared fails and is retried: the merged collateral is
	// still on account, so nothing more is drawn from the conditions.
	require.NoError(t, c.PrepareSell(ctx, m, wad(40)))
	assert.Len(t, ledger.merged, 3)

	// A larger retry merges only the shortfall.
	require.NoError(t, c.PrepareSell(ctx, m, wad(50)))
	assert.Len(t, ledger.merged, 6)
	for _, id := range []string{"cond-first", "cond-second", "cond-third"} {
		bal, err := ledger.ConditionBalance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, wad(50), bal, "condition %s", id)
	}

	// Settling consumes the preparation; the next sell draws fresh.
	c.SettleSell(m.ID, wad(50))
	require.NoError(t, c.PrepareSell(ctx, m, wad(20)))
	assert.Len(t, ledger.merged, 9)
	for _, id := range []string{"cond-first", "cond-second", "cond-third"} {
		bal, err := ledger.ConditionBalance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, wad(30), bal, "condition %s", id)
	}
}

// failingLedger passes the balance check but rejects the merge itself,
// exercising the merge-ordering failure path.
type failingLedger struct{}

func (failingLedger) ConditionBalance(context.Context, string) (*big.Int, error) {
	return wad(1_000), nil
}

func (failingLedger) MergePositions(context.Context, string, *big.Int) error {
	return errors.New("position not mergeable in this state")
}

func TestPrepareSell_MergeFailureIsMergeOrderingError(t *testing.T) {
	c := New(failingLedger{}, slog.Default())
	err := c.PrepareSell(context.Background(), multiMarket(), wad(1))
	assert.ErrorIs(t, err, domain.ErrMergeOrdering)
}
