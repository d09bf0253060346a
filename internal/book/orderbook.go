// Package book keeps resting limit orders indexed by tick. Orders live in a
// flat arena addressed by id; tick levels are a single btree over the
// composite key (market, outcome, side, tick) holding insertion-ordered id
// slices, so orders at the same tick execute oldest first.
package book

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/btree"

	"github.com/castlefield/tickbook/internal/custody"
	"github.com/castlefield/tickbook/internal/domain"
	"github.com/castlefield/tickbook/internal/tick"
)

// levelKey addresses one tick level.
type levelKey struct {
	marketID string
	outcome  int
	side     domain.Side
	tick     int64
}

// level holds the resting order ids at one tick, oldest first.
type level struct {
	key    levelKey
	orders []uint64
}

func levelLess(a, b *level) bool {
	if a.key.marketID != b.key.marketID {
		return a.key.marketID < b.key.marketID
	}
	if a.key.outcome != b.key.outcome {
		return a.key.outcome < b.key.outcome
	}
	if a.key.side != b.key.side {
		return a.key.side < b.key.side
	}
	return a.key.tick < b.key.tick
}

// Book is the tick-indexed order book for all markets. Order records are
// retained in the arena after they leave Active (for queries and audit);
// only the tick-level index entry is removed, exactly once, at the moment
// the status transition commits.
type Book struct {
	markets map[string]*domain.Market
	arena   map[uint64]*domain.Order
	levels  *btree.BTreeG[*level]
	nextID  uint64

	custody *custody.Manager
	clock   func() time.Time
	logger  *slog.Logger
}

// New creates an empty Book using the given lifecycle manager for fund
// custody.
func New(mgr *custody.Manager, logger *slog.Logger) *Book {
	return &Book{
		markets: make(map[string]*domain.Market),
		arena:   make(map[uint64]*domain.Order),
		levels:  btree.NewBTreeG(levelLess),
		custody: mgr,
		clock:   time.Now,
		logger:  logger.With(slog.String("component", "book")),
	}
}

// WithClock overrides the time source. Tests only.
func (b *Book) WithClock(clock func() time.Time) *Book {
	b.clock = clock
	return b
}

// AddMarket registers a market. Markets are immutable once added.
func (b *Book) AddMarket(m *domain.Market) error {
	if m.OutcomeCount() < 2 {
		return fmt.Errorf("book: market %s: need at least 2 outcomes: %w", m.ID, domain.ErrValidation)
	}
	if _, ok := b.markets[m.ID]; ok {
		return fmt.Errorf("book: market %s: %w", m.ID, domain.ErrValidation)
	}
	b.markets[m.ID] = m
	return nil
}

// Market returns a registered market.
func (b *Book) Market(id string) (*domain.Market, error) {
	m, ok := b.markets[id]
	if !ok {
		return nil, fmt.Errorf("book: market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// Markets lists all registered markets.
func (b *Book) Markets() []*domain.Market {
	out := make([]*domain.Market, 0, len(b.markets))
	for _, m := range b.markets {
		out = append(out, m)
	}
	return out
}

// Place validates, locks funds, and rests a new limit order. The limit tick
// is the price snapped down to the tick grid. Validation failures surface
// before any state changes; a failed fund lock leaves the book untouched.
func (b *Book) Place(
	ctx context.Context,
	marketID string,
	owner common.Address,
	outcome int,
	side domain.Side,
	price *big.Int,
	amount *big.Int,
	expiry time.Time,
) (uint64, error) {
	m, err := b.Market(marketID)
	if err != nil {
		return 0, err
	}
	if outcome < 0 || outcome >= m.OutcomeCount() {
		return 0, fmt.Errorf("book: outcome %d: %w", outcome, domain.ErrValidation)
	}
	if side != domain.SideBuy && side != domain.SideSell {
		return 0, fmt.Errorf("book: side %q: %w", side, domain.ErrValidation)
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, fmt.Errorf("book: amount must be positive: %w", domain.ErrValidation)
	}
	if !expiry.IsZero() && !expiry.After(b.clock()) {
		return 0, fmt.Errorf("book: expiry not in the future: %w", domain.ErrValidation)
	}
	limitTick, err := tick.PriceToTick(price)
	if err != nil {
		return 0, err
	}

	order := &domain.Order{
		ID:        b.nextID + 1,
		Owner:     owner,
		MarketID:  marketID,
		Outcome:   outcome,
		Side:      side,
		LimitTick: limitTick,
		Amount:    new(big.Int).Set(amount),
		Filled:    new(big.Int),
		Expiry:    expiry,
		Status:    domain.OrderStatusActive,
		CreatedAt: b.clock(),
	}

	// Lock first: if custody rejects, the book has not mutated.
	if err := b.custody.LockForOrder(ctx, order); err != nil {
		return 0, err
	}

	b.nextID++
	b.arena[order.ID] = order
	b.appendToLevel(order)

	b.logger.InfoContext(ctx, "order placed",
		slog.Uint64("order_id", order.ID),
		slog.String("market_id", marketID),
		slog.Int("outcome", outcome),
		slog.String("side", string(side)),
		slog.Int64("limit_tick", limitTick),
	)
	return order.ID, nil
}

// Cancel removes an Active order owned by caller, refunding the unfilled
// remainder.
func (b *Book) Cancel(ctx context.Context, id uint64, caller common.Address) error {
	o, ok := b.arena[id]
	if !ok {
		return fmt.Errorf("book: order %d: %w", id, domain.ErrNotFound)
	}
	if o.Owner != caller {
		return fmt.Errorf("book: order %d: %w", id, domain.ErrUnauthorized)
	}
	if o.Status != domain.OrderStatusActive {
		return fmt.Errorf("book: order %d: %w", id, domain.ErrInvalidState)
	}

	if err := b.custody.Cancel(ctx, o, b.clock()); err != nil {
		return err
	}
	b.removeFromLevel(o)
	return nil
}

// Reap refunds and expires one expired Active order. Any caller may reap.
func (b *Book) Reap(ctx context.Context, id uint64) error {
	o, ok := b.arena[id]
	if !ok {
		return fmt.Errorf("book: order %d: %w", id, domain.ErrNotFound)
	}
	if err := b.custody.ReapExpired(ctx, o, b.clock()); err != nil {
		return err
	}
	b.removeFromLevel(o)
	return nil
}

// SweepExpired reaps every expired Active order in a market and returns the
// reaped ids.
func (b *Book) SweepExpired(ctx context.Context, marketID string) []uint64 {
	now := b.clock()
	var expired []uint64
	for id, o := range b.arena {
		if o.MarketID == marketID && o.Status == domain.OrderStatusActive && o.ExpiredAt(now) {
			expired = append(expired, id)
		}
	}
	var reaped []uint64
	for _, id := range expired {
		if err := b.Reap(ctx, id); err != nil {
			b.logger.ErrorContext(ctx, "sweep: reap failed",
				slog.Uint64("order_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		reaped = append(reaped, id)
	}
	return reaped
}

// OrdersAt returns the resting order ids at a tick, oldest first. The
// returned slice is a copy.
func (b *Book) OrdersAt(marketID string, outcome int, side domain.Side, t int64) []uint64 {
	lvl, ok := b.levels.Get(&level{key: levelKey{marketID, outcome, side, t}})
	if !ok {
		return nil
	}
	out := make([]uint64, len(lvl.orders))
	copy(out, lvl.orders)
	return out
}

// Order returns the live order record. The single-writer execution model
// means callers never see a half-applied transition.
func (b *Book) Order(id uint64) (*domain.Order, bool) {
	o, ok := b.arena[id]
	return o, ok
}

// Get returns a defensive copy for query APIs.
func (b *Book) Get(id uint64) (domain.Order, error) {
	o, ok := b.arena[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("book: order %d: %w", id, domain.ErrNotFound)
	}
	cp := *o
	cp.Amount = new(big.Int).Set(o.Amount)
	cp.Filled = new(big.Int).Set(o.Filled)
	return cp, nil
}

// Unindex removes a no-longer-Active order from its tick level. The engine
// calls this at the moment a fill commits; cancel and reap call it through
// their own paths. Removing twice is harmless.
func (b *Book) Unindex(o *domain.Order) {
	b.removeFromLevel(o)
}

func (b *Book) appendToLevel(o *domain.Order) {
	key := levelKey{o.MarketID, o.Outcome, o.Side, o.LimitTick}
	lvl, ok := b.levels.GetMut(&level{key: key})
	if ok {
		lvl.orders = append(lvl.orders, o.ID)
		return
	}
	b.levels.Set(&level{key: key, orders: []uint64{o.ID}})
}

func (b *Book) removeFromLevel(o *domain.Order) {
	key := levelKey{o.MarketID, o.Outcome, o.Side, o.LimitTick}
	lvl, ok := b.levels.GetMut(&level{key: key})
	if !ok {
		return
	}
	for i, id := range lvl.orders {
		if id == o.ID {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			break
		}
	}
	if len(lvl.orders) == 0 {
		b.levels.Delete(lvl)
	}
}
