package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlefield/tickbook/internal/amm"
	"github.com/castlefield/tickbook/internal/book"
	"github.com/castlefield/tickbook/internal/crypto"
	"github.com/castlefield/tickbook/internal/custody"
	"github.com/castlefield/tickbook/internal/domain"
	"github.com/castlefield/tickbook/internal/engine"
	"github.com/castlefield/tickbook/internal/splitmerge"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func milli(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil))
}

// memOrders records mirror calls in-memory.
type memOrders struct {
	created []domain.Order
	updated []domain.Order
}

func (m *memOrders) Create(_ context.Context, o domain.Order) error {
	m.created = append(m.created, o)
	return nil
}

func (m *memOrders) UpdateStatus(_ context.Context, _ uint64, _ domain.OrderStatus, filled domain.Order) error {
	m.updated = append(m.updated, filled)
	return nil
}

func (m *memOrders) GetByID(context.Context, uint64) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}

func (m *memOrders) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

func (m *memOrders) ListByOwner(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

// denyAfter allows the first n requests and denies the rest.
type denyAfter struct {
	n     int
	calls int
}

func (d *denyAfter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	d.calls++
	return d.calls <= d.n, nil
}

type env struct {
	svc        *OrderService
	collateral *custody.MemCollateralLedger
	positions  *custody.MemPositionLedger
	orders     *memOrders
	clock      *time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	e := &env{
		collateral: custody.NewMemCollateralLedger(),
		positions:  custody.NewMemPositionLedger(),
		orders:     &memOrders{},
	}
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	e.clock = &now
	clock := func() time.Time { return *e.clock }

	mgr := custody.NewManager(e.collateral, e.positions, logger)
	bk := book.New(mgr, logger).WithClock(clock)
	require.NoError(t, bk.AddMarket(&domain.Market{
		ID:         "mkt",
		Outcomes:   []string{"YES", "NO"},
		Conditions: []string{"cond-a"},
	}))

	merges := splitmerge.New(custody.NewMemConditionLedger(), logger)
	eng := engine.New(engine.Config{SlippageToleranceBps: 50}, bk, mgr, merges, logger).WithClock(clock)
	pool := amm.New("mkt", 2, wad(1_000), logger)
	eng.RegisterAMM("mkt", pool)
	pool.SetHook(eng)

	e.svc = NewOrderService(bk, eng, logger).WithStores(e.orders, nil, nil)
	return e
}

var owner = common.HexToAddress("0xfeed000000000000000000000000000000000001")

func TestPlaceOrder_MirrorsToStore(t *testing.T) {
	e := newEnv(t)
	e.collateral.Deposit(owner, wad(100))

	id, err := e.svc.PlaceOrder(context.Background(), PlaceRequest{
		Owner:    owner,
		MarketID: "mkt",
		Outcome:  0,
		Side:     domain.SideBuy,
		Price:    milli(400),
		Amount:   wad(100),
	})
	require.NoError(t, err)

	require.Len(t, e.orders.created, 1)
	mirrored := e.orders.created[0]
	assert.Equal(t, id, mirrored.ID)
	assert.Equal(t, int64(4000), mirrored.LimitTick)
	assert.Equal(t, domain.OrderStatusActive, mirrored.Status)
}

func TestPlaceOrder_RateLimited(t *testing.T) {
	e := newEnv(t)
	e.collateral.Deposit(owner, wad(300))
	e.svc.WithRateLimiter(&denyAfter{n: 2}, 2)

	req := PlaceRequest{
		Owner: owner, MarketID: "mkt", Outcome: 0,
		Side: domain.SideBuy, Price: milli(400), Amount: wad(100),
	}
	ctx := context.Background()

	_, err := e.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	_, err = e.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	_, err = e.svc.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// The rejected request locked nothing.
	assert.Equal(t, wad(200), e.collateral.LockedBalance(owner))
}

func TestCancelOrder_MirrorsTransition(t *testing.T) {
	e := newEnv(t)
	e.collateral.Deposit(owner, wad(100))
	ctx := context.Background()

	id, err := e.svc.PlaceOrder(ctx, PlaceRequest{
		Owner: owner, MarketID: "mkt", Outcome: 0,
		Side: domain.SideBuy, Price: milli(400), Amount: wad(100),
	})
	require.NoError(t, err)

	require.NoError(t, e.svc.CancelOrder(ctx, id, owner, ""))

	require.Len(t, e.orders.updated, 1)
	assert.Equal(t, domain.OrderStatusCancelled, e.orders.updated[0].Status)

	bal, err := e.collateral.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, wad(100), bal)
}

func TestCancelOrder_SignatureRequired(t *testing.T) {
	e := newEnv(t)
	e.svc.RequireCancelSignature(true)
	ctx := context.Background()

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	e.collateral.Deposit(signer, wad(100))

	id, err := e.svc.PlaceOrder(ctx, PlaceRequest{
		Owner: signer, MarketID: "mkt", Outcome: 0,
		Side: domain.SideBuy, Price: milli(400), Amount: wad(100),
	})
	require.NoError(t, err)

	// Missing and forged signatures are rejected before touching the book.
	err = e.svc.CancelOrder(ctx, id, signer, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	forger, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	forged, err := crypto.SignCancel(id, forger)
	require.NoError(t, err)
	err = e.svc.CancelOrder(ctx, id, signer, forged)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	sig, err := crypto.SignCancel(id, key)
	require.NoError(t, err)
	require.NoError(t, e.svc.CancelOrder(ctx, id, signer, sig))

	o, err := e.svc.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
}

func TestSweepExpired_MirrorsAndCounts(t *testing.T) {
	e := newEnv(t)
	e.collateral.Deposit(owner, wad(200))
	ctx := context.Background()

	expiry := e.clock.Add(time.Hour)
	_, err := e.svc.PlaceOrder(ctx, PlaceRequest{
		Owner: owner, MarketID: "mkt", Outcome: 0,
		Side: domain.SideBuy, Price: milli(400), Amount: wad(100),
		Expiry: expiry,
	})
	require.NoError(t, err)
	_, err = e.svc.PlaceOrder(ctx, PlaceRequest{
		Owner: owner, MarketID: "mkt", Outcome: 0,
		Side: domain.SideBuy, Price: milli(400), Amount: wad(100),
	})
	require.NoError(t, err)

	*e.clock = e.clock.Add(2 * time.Hour)

	assert.Equal(t, 1, e.svc.SweepAll(ctx))
	require.Len(t, e.orders.updated, 1)
	assert.Equal(t, domain.OrderStatusExpired, e.orders.updated[0].Status)

	// The order without expiry stays resting.
	bal := e.collateral.LockedBalance(owner)
	assert.Equal(t, wad(100), bal)
}
