package book

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlefield/tickbook/internal/custody"
	"github.com/castlefield/tickbook/internal/domain"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// priceWad builds a wad price from thousandths, e.g. priceWad(501) == 0.501.
func priceWad(thousandths int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(thousandths), new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil))
}

type fixture struct {
	book       *Book
	collateral *custody.MemCollateralLedger
	positions  *custody.MemPositionLedger
}

func newFixture(t *testing.T) *fixture {
	collateral := custody.NewMemCollateralLedger()
	positions := custody.NewMemPositionLedger()
	mgr := custody.NewManager(collateral, positions, slog.Default())
	b := New(mgr, slog.Default())
	require.NoError(t, b.AddMarket(&domain.Market{
		ID:         "mkt-1",
		Question:   "which outcome?",
		Outcomes:   []string{"A", "B", "C"},
		Conditions: []string{"cond-1"},
	}))
	collateral.Deposit(alice, wad(1_000))
	collateral.Deposit(bob, wad(1_000))
	positions.Mint(alice, "mkt-1", 0, wad(1_000))
	return &fixture{book: b, collateral: collateral, positions: positions}
}

func TestPlace_AssignsMonotonicIDsAndLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id1, err := f.book.Place(ctx, "mkt-1", alice, 0, domain.SideBuy, priceWad(500), wad(100), time.Time{})
	require.NoError(t, err)
	id2, err := f.book.Place(ctx, "mkt-1", alice, 0, domain.SideBuy, priceWad(500), wad(50), time.Time{})
	require.NoError(t, err)

	assert.Equal(t, id1+1, id2)
	assert.Equal(t, wad(150), f.collateral.LockedBalance(alice))

	o, err := f.book.Get(id1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusActive, o.Status)
	assert.Equal(t, int64(5000), o.LimitTick)
}

func TestPlace_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		market  string
		outcome int
		price   *big.Int
		amount  *big.Int
		expiry  time.Time
		want    error
	}{
		{"unknown market", "nope", 0, priceWad(500), wad(1), time.Time{}, domain.ErrNotFound},
		{"outcome out of range", "mkt-1", 3, priceWad(500), wad(1), time.Time{}, domain.ErrValidation},
		{"zero amount", "mkt-1", 0, priceWad(500), big.NewInt(0), time.Time{}, domain.ErrValidation},
		{"negative amount", "mkt-1", 0, priceWad(500), big.NewInt(-5), time.Time{}, domain.ErrValidation},
		{"price zero", "mkt-1", 0, big.NewInt(0), wad(1), time.Time{}, domain.ErrInvalidPrice},
		{"price one", "mkt-1", 0, wad(1), wad(1), time.Time{}, domain.ErrInvalidPrice},
		{"past expiry", "mkt-1", 0, priceWad(500), wad(1), time.Now().Add(-time.Hour), domain.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.book.Place(ctx, tc.market, alice, tc.outcome, domain.SideBuy, tc.price, tc.amount, tc.expiry)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// No locks leaked from rejected placements.
	assert.Equal(t, big.NewInt(0), f.collateral.LockedBalance(alice))
}

func TestPlace_InsufficientFundsLeavesBookUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.book.Place(ctx, "mkt-1", bob, 1, domain.SideSell, priceWad(400), wad(10), time.Time{})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds) // bob holds no outcome-1 tokens
	assert.Empty(t, f.book.OrdersAt("mkt-1", 1, domain.SideSell, 4000))
}

func TestOrdersAt_OldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.book.Place(ctx, "mkt-1", alice, 0, domain.SideBuy, priceWad(500), wad(10), time.Time{})
	require.NoError(t, err)
	b, err := f.book.Place(ctx, "mkt-1", bob, 0, domain.SideBuy, priceWad(500), wad(10), time.Time{})
	require.NoError(t, err)

	assert.Equal(t, []uint64{a, b}, f.book.OrdersAt("mkt-1", 0, domain.SideBuy, 5000))
}

func TestLevelsAreIsolatedByKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buy, err := f.book.Place(ctx, "mkt-1", alice, 0, domain.SideBuy, priceWad(500), wad(10), time.Time{})
	require.NoError(t, err)
	sell, err := f.book.Place(ctx, "mkt-1", alice, 0, domain.SideSell, priceWad(500), wad(10), time.Time{})
	require.NoError(t, err)
	other, err := f.book.Place(ctx, "mkt-1", alice, 1, domain.SideBuy, priceWad(500), wad(10), time.Time{})
	require.NoError(t, err)

	assert.Equal(t, []uint64{buy}, f.book.OrdersAt("mkt-1", 0, domain.SideBuy, 5000))
	assert.Equal(t, []uint64{sell}, f.book.OrdersAt("mkt-1", 0, domain.SideSell, 5000))
	assert.Equal(t, []uint64{other}, f.book.OrdersAt("mkt-1", 1, domain.SideBuy, 5000))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id1, err := f.book.Place(ctx, "mkt-1", alice, 0, domain.SideBuy, priceWad(500), wad(10), time.Time{})
	require.NoError(t, err)
	id2, err := f.book.Place(ctx, "mkt-1", alice, 0, domain.SideBuy, priceWad(500), wad(20), time.Time{})
	require.NoError(t, err)
	id3, err := f.book.Place(ctx, "mkt-1", alice, 0, domain.SideBuy, priceWad(500), wad(30), time.Time{})
	require.NoError(t, err)

	// Wrong caller.
	assert.ErrorIs(t, f.book.Cancel(ctx, id2, bob), domain.ErrUnauthorized)

	require.NoError(t, f.book.Cancel(ctx, id2, alice))
	o, err := f.book.Get(id2)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)

	// Remaining entries are intact: none skipped, none duplicated.
	rest := f.book.OrdersAt("mkt-1", 0, domain.SideBuy, 5000)
	assert.ElementsMatch(t, []uint64{id1, id3}, rest)
	assert.Len(t, rest, 2)

	// Double cancel.
	assert.ErrorIs(t, f.book.Cancel(ctx, id2, alice), domain.ErrInvalidState)

	// Refund: only id2's 20 returned so far.
	assert.Equal(t, wad(40), f.collateral.LockedBalance(alice))
}

func TestReapAndSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Now()
	f.book.WithClock(func() time.Time { return now })

	forever, err := f.book.Place(ctx, "mkt-1", alice, 0, domain.SideBuy, priceWad(500), wad(10), time.Time{})
	require.NoError(t, err)
	shortLived, err := f.book.Place(ctx, "mkt-1", alice, 0, domain.SideBuy, priceWad(500), wad(10), now.Add(time.Hour))
	require.NoError(t, err)

	// Reaping before expiry fails.
	assert.ErrorIs(t, f.book.Reap(ctx, shortLived), domain.ErrInvalidState)

	now = now.Add(2 * time.Hour)
	reaped := f.book.SweepExpired(ctx, "mkt-1")
	assert.Equal(t, []uint64{shortLived}, reaped)

	o, err := f.book.Get(shortLived)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, o.Status)

	// The never-expiring order still rests.
	assert.Equal(t, []uint64{forever}, f.book.OrdersAt("mkt-1", 0, domain.SideBuy, 5000))
}
