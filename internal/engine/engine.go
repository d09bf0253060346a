// Package engine executes resting limit orders when AMM trades move the
// marginal price across their ticks. The walk over crossed ticks is
// iterative: re-entrant trade notifications from the engine's own executions
// extend a pending-interval worklist instead of recursing, and a per-trigger
// execution cap defers the remainder to the next touching trade or an
// explicit re-trigger.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/castlefield/tickbook/internal/book"
	"github.com/castlefield/tickbook/internal/custody"
	"github.com/castlefield/tickbook/internal/domain"
	"github.com/castlefield/tickbook/internal/splitmerge"
	"github.com/castlefield/tickbook/internal/tick"
)

const bpsDenominator = 10_000

// Config tunes execution behavior.
type Config struct {
	// SlippageToleranceBps bounds how far below the price observed at
	// eligibility-check time an execution may settle.
	SlippageToleranceBps int64

	// MaxExecutionsPerTrigger caps AMM executions per top-level trade
	// notification or explicit trigger. Work beyond the cap stays pending.
	MaxExecutionsPerTrigger int
}

// stateKey identifies one (market, outcome) price lane.
type stateKey struct {
	marketID string
	outcome  int
}

// laneState is the engine's per-(market, outcome) walk state. The pending
// intervals are inclusive aligned tick ranges still to be examined: up holds
// sell-side checks walked ascending, down holds buy-side checks walked
// descending. The retry intervals hold already-crossed ticks whose orders
// were skipped for a recoverable reason; an explicit trigger folds them back
// into the pending intervals so those orders can execute without the price
// re-crossing their tick.
type laneState struct {
	lastTick int64
	hasLast  bool
	walking  bool

	upLo, upHi int64
	hasUp      bool
	dnLo, dnHi int64
	hasDn      bool

	reUpLo, reUpHi int64
	hasReUp        bool
	reDnLo, reDnHi int64
	hasReDn        bool
}

func (s *laneState) extend(oldTick, newTick int64) {
	if newTick > oldTick {
		if !s.hasUp {
			s.upLo, s.upHi, s.hasUp = oldTick, newTick, true
		} else {
			s.upLo = min(s.upLo, oldTick)
			s.upHi = max(s.upHi, newTick)
		}
	} else if newTick < oldTick {
		if !s.hasDn {
			s.dnLo, s.dnHi, s.hasDn = newTick, oldTick, true
		} else {
			s.dnLo = min(s.dnLo, newTick)
			s.dnHi = max(s.dnHi, oldTick)
		}
	}
}

func (s *laneState) pending() bool {
	return s.hasUp || s.hasDn
}

// markRetry records a tick whose eligible order was skipped for a
// recoverable failure. Consumed by the next explicit trigger.
func (s *laneState) markRetry(side domain.Side, t int64) {
	if side == domain.SideSell {
		if !s.hasReUp {
			s.reUpLo, s.reUpHi, s.hasReUp = t, t, true
		} else {
			s.reUpLo = min(s.reUpLo, t)
			s.reUpHi = max(s.reUpHi, t)
		}
		return
	}
	if !s.hasReDn {
		s.reDnLo, s.reDnHi, s.hasReDn = t, t, true
	} else {
		s.reDnLo = min(s.reDnLo, t)
		s.reDnHi = max(s.reDnHi, t)
	}
}

// takeRetries folds the recorded retry ticks into the pending intervals.
func (s *laneState) takeRetries() {
	if s.hasReUp {
		if !s.hasUp {
			s.upLo, s.upHi, s.hasUp = s.reUpLo, s.reUpHi, true
		} else {
			s.upLo = min(s.upLo, s.reUpLo)
			s.upHi = max(s.upHi, s.reUpHi)
		}
		s.hasReUp = false
	}
	if s.hasReDn {
		if !s.hasDn {
			s.dnLo, s.dnHi, s.hasDn = s.reDnLo, s.reDnHi, true
		} else {
			s.dnLo = min(s.dnLo, s.reDnLo)
			s.dnHi = max(s.dnHi, s.reDnHi)
		}
		s.hasReDn = false
	}
}

// Engine is the matching engine. It assumes the strictly sequential
// execution model: one placement, cancellation, or trade-triggered walk
// completes before the next begins (the service layer serializes callers).
type Engine struct {
	cfg     Config
	book    *book.Book
	custody *custody.Manager
	merges  *splitmerge.Coordinator
	amms    map[string]domain.AMM
	lanes   map[stateKey]*laneState

	fills  domain.FillStore
	orders domain.OrderStore
	ticks  domain.TickCache
	bus    domain.SignalBus

	clock  func() time.Time
	logger *slog.Logger
}

// New creates an Engine. Optional collaborators (audit stores, tick cache,
// signal bus) attach via the With* methods.
func New(cfg Config, b *book.Book, mgr *custody.Manager, merges *splitmerge.Coordinator, logger *slog.Logger) *Engine {
	if cfg.MaxExecutionsPerTrigger <= 0 {
		cfg.MaxExecutionsPerTrigger = 64
	}
	return &Engine{
		cfg:     cfg,
		book:    b,
		custody: mgr,
		merges:  merges,
		amms:    make(map[string]domain.AMM),
		lanes:   make(map[stateKey]*laneState),
		clock:   time.Now,
		logger:  logger.With(slog.String("component", "engine")),
	}
}

// RegisterAMM binds a market to its AMM adapter.
func (e *Engine) RegisterAMM(marketID string, a domain.AMM) {
	e.amms[marketID] = a
}

// AMM returns the adapter registered for a market.
func (e *Engine) AMM(marketID string) (domain.AMM, bool) {
	a, ok := e.amms[marketID]
	return a, ok
}

// WithAudit attaches the durable order and fill mirrors.
func (e *Engine) WithAudit(orders domain.OrderStore, fills domain.FillStore) *Engine {
	e.orders = orders
	e.fills = fills
	return e
}

// WithTickCache mirrors last-observed ticks for external readers.
func (e *Engine) WithTickCache(c domain.TickCache) *Engine {
	e.ticks = c
	return e
}

// WithBus attaches the event signal bus.
func (e *Engine) WithBus(bus domain.SignalBus) *Engine {
	e.bus = bus
	return e
}

// WithClock overrides the time source. Tests only.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// LastTick returns the engine's last observed tick for a lane.
func (e *Engine) LastTick(marketID string, outcome int) (int64, bool) {
	st, ok := e.lanes[stateKey{marketID, outcome}]
	if !ok || !st.hasLast {
		return 0, false
	}
	return st.lastTick, true
}

// OnTrade is the synchronous post-trade notification from an AMM adapter.
// Equal ticks with no pending work is a no-op. A notification arriving while
// a walk is in progress (our own execution moved the price) only extends the
// pending intervals; the active walk drains them.
func (e *Engine) OnTrade(ctx context.Context, marketID string, outcome int, oldTick, newTick int64) {
	st := e.lane(marketID, outcome)
	st.extend(tick.Align(oldTick), tick.Align(newTick))

	if st.walking {
		return
	}
	if !st.pending() {
		st.lastTick, st.hasLast = tick.Align(newTick), true
		return
	}
	e.walk(ctx, marketID, outcome, st)
}

// TriggerMatching resumes deferred work, re-examines ticks whose orders
// were recoverably skipped, and picks up any drift between the engine's
// last observed tick and the adapter's current one. Exposed to callers so
// capped walks and skipped executions can be driven to completion without
// waiting for the next trade.
func (e *Engine) TriggerMatching(ctx context.Context, marketID string, outcome int) error {
	if _, ok := e.amms[marketID]; !ok {
		return fmt.Errorf("engine: market %s: %w", marketID, domain.ErrNotFound)
	}
	st := e.lane(marketID, outcome)
	if st.walking {
		return nil
	}

	cur, _, err := e.observe(ctx, marketID, outcome)
	if err != nil {
		return fmt.Errorf("engine: trigger %s/%d: %w", marketID, outcome, err)
	}
	if st.hasLast && cur != st.lastTick {
		st.extend(st.lastTick, cur)
	}
	st.takeRetries()
	if !st.pending() {
		st.lastTick, st.hasLast = cur, true
		return nil
	}
	e.walk(ctx, marketID, outcome, st)
	return nil
}

// walk drains the lane's pending intervals one tick at a time, re-deriving
// the marginal price before every order. It terminates when the intervals
// (including any extensions from re-entrant notifications) are empty or the
// execution cap is reached.
func (e *Engine) walk(ctx context.Context, marketID string, outcome int, st *laneState) {
	st.walking = true
	defer func() { st.walking = false }()

	executed := 0
	for st.pending() {
		if st.hasUp {
			t := st.upLo
			if t > st.upHi {
				st.hasUp = false
				continue
			}
			st.upLo = t + tick.Spacing
			if st.upLo > st.upHi {
				st.hasUp = false
			}
			if stop := e.processTick(ctx, marketID, outcome, domain.SideSell, t, &executed); stop != walkContinue {
				// Cap or adapter failure: keep this tick pending.
				st.upLo = t
				st.upHi = max(st.upHi, t)
				st.hasUp = true
				e.deferWalk(ctx, marketID, outcome, t, stop)
				return
			}
			continue
		}

		t := st.dnHi
		if t < st.dnLo {
			st.hasDn = false
			continue
		}
		st.dnHi = t - tick.Spacing
		if st.dnHi < st.dnLo {
			st.hasDn = false
		}
		if stop := e.processTick(ctx, marketID, outcome, domain.SideBuy, t, &executed); stop != walkContinue {
			st.dnHi = t
			st.dnLo = min(st.dnLo, t)
			st.hasDn = true
			e.deferWalk(ctx, marketID, outcome, t, stop)
			return
		}
	}

	cur, _, err := e.observe(ctx, marketID, outcome)
	if err != nil {
		e.logger.ErrorContext(ctx, "walk: final price observation failed",
			slog.String("market_id", marketID),
			slog.Int("outcome", outcome),
			slog.String("error", err.Error()),
		)
		return
	}
	st.lastTick, st.hasLast = cur, true
	if e.ticks != nil {
		if err := e.ticks.SetTick(ctx, marketID, outcome, cur, e.clock()); err != nil {
			e.logger.ErrorContext(ctx, "walk: tick cache update failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// walkStop is processTick's verdict on why a walk must pause with the
// current tick still pending.
type walkStop int

const (
	walkContinue walkStop = iota
	walkStopCap
	walkStopObserve
)

// processTick examines one tick's eligible side in price-time order. A
// non-walkContinue result stops the walk with this tick still pending (cap
// reached or the adapter became unobservable).
func (e *Engine) processTick(ctx context.Context, marketID string, outcome int, side domain.Side, t int64, executed *int) walkStop {
	market, err := e.book.Market(marketID)
	if err != nil {
		return walkContinue
	}

	for _, id := range e.book.OrdersAt(marketID, outcome, side, t) {
		o, ok := e.book.Order(id)
		if !ok || o.Status != domain.OrderStatusActive {
			continue
		}
		if o.ExpiredAt(e.clock()) {
			// Lazy expiry: ineligible here, reaped by an explicit sweep.
			continue
		}

		cur, curPrice, err := e.observe(ctx, marketID, outcome)
		if err != nil {
			e.logger.ErrorContext(ctx, "walk: price observation failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
			return walkStopObserve
		}
		if !eligible(side, o.LimitTick, cur) {
			// Price moved short of this order's limit. Later entries at this
			// tick have lower time priority, so stop here; the bucket stays
			// for a future trigger.
			return walkContinue
		}

		if *executed >= e.cfg.MaxExecutionsPerTrigger {
			return walkStopCap
		}
		*executed++

		if err := e.execute(ctx, market, o, curPrice, cur); err != nil {
			if recoverable(err) {
				e.lane(marketID, outcome).markRetry(side, t)
				e.publish(ctx, domain.EngineEvent{
					Type:     domain.EventExecutionSkipped,
					MarketID: marketID,
					Outcome:  outcome,
					OrderID:  o.ID,
					Tick:     cur,
					Reason:   err.Error(),
					At:       e.clock(),
				})
				continue
			}
			// Unexpected failure: report and move on, never abort the walk.
			e.logger.ErrorContext(ctx, "walk: execution failed",
				slog.Uint64("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			e.publish(ctx, domain.EngineEvent{
				Type:     domain.EventExecutionSkipped,
				MarketID: marketID,
				Outcome:  outcome,
				OrderID:  o.ID,
				Reason:   err.Error(),
				At:       e.clock(),
			})
			continue
		}
	}
	return walkContinue
}

// execute fills one order atomically for its full remaining amount, with the
// slippage bound derived from the price observed at eligibility check.
func (e *Engine) execute(ctx context.Context, market *domain.Market, o *domain.Order, obsPrice *big.Int, obsTick int64) error {
	adapter, ok := e.amms[market.ID]
	if !ok {
		return fmt.Errorf("engine: market %s has no adapter: %w", market.ID, domain.ErrNotFound)
	}

	remaining := o.Remaining()
	var amountOut *big.Int
	var err error

	switch o.Side {
	case domain.SideBuy:
		// remaining collateral buys ~remaining/price tokens.
		expect := new(big.Int).Mul(remaining, tick.Wad)
		expect.Div(expect, obsPrice)
		amountOut, err = adapter.Buy(ctx, remaining, o.Outcome, e.minOut(expect))
	case domain.SideSell:
		if err := e.merges.PrepareSell(ctx, market, remaining); err != nil {
			return err
		}
		expect := new(big.Int).Mul(remaining, obsPrice)
		expect.Div(expect, tick.Wad)
		amountOut, err = adapter.Sell(ctx, remaining, o.Outcome, e.minOut(expect))
	}
	if err != nil {
		return err
	}
	if o.Side == domain.SideSell {
		e.merges.SettleSell(market.ID, remaining)
	}

	now := e.clock()
	if err := e.custody.RecordFill(ctx, o, amountOut, now); err != nil {
		return err
	}
	e.book.Unindex(o)

	fill := domain.Fill{
		ID:         uuid.NewString(),
		OrderID:    o.ID,
		MarketID:   o.MarketID,
		Outcome:    o.Outcome,
		Side:       o.Side,
		Tick:       obsTick,
		AmountIn:   remaining,
		AmountOut:  amountOut,
		ExecutedAt: now,
	}
	if e.fills != nil {
		if err := e.fills.Insert(ctx, fill); err != nil {
			e.logger.ErrorContext(ctx, "fill audit insert failed",
				slog.String("fill_id", fill.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.orders != nil {
		if err := e.orders.UpdateStatus(ctx, o.ID, domain.OrderStatusFilled, *o); err != nil {
			e.logger.ErrorContext(ctx, "order audit update failed",
				slog.Uint64("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.publish(ctx, domain.EngineEvent{
		Type:     domain.EventOrderFilled,
		MarketID: o.MarketID,
		Outcome:  o.Outcome,
		OrderID:  o.ID,
		Tick:     obsTick,
		Amount:   amountOut,
		At:       now,
	})
	return nil
}

// observe re-derives the adapter's current marginal tick and price. Never
// cached across orders: each execution moves the price.
func (e *Engine) observe(ctx context.Context, marketID string, outcome int) (int64, *big.Int, error) {
	adapter, ok := e.amms[marketID]
	if !ok {
		return 0, nil, fmt.Errorf("engine: market %s has no adapter: %w", marketID, domain.ErrNotFound)
	}
	price, err := adapter.MarginalPrice(ctx, outcome)
	if err != nil {
		return 0, nil, err
	}
	t, err := tick.PriceToTick(price)
	if err != nil {
		return 0, nil, err
	}
	return t, price, nil
}

func (e *Engine) minOut(expect *big.Int) *big.Int {
	m := new(big.Int).Mul(expect, big.NewInt(bpsDenominator-e.cfg.SlippageToleranceBps))
	return m.Div(m, big.NewInt(bpsDenominator))
}

func (e *Engine) deferWalk(ctx context.Context, marketID string, outcome int, t int64, stop walkStop) {
	reason := "execution cap reached"
	if stop == walkStopObserve {
		reason = "price observation failed"
	}
	e.publish(ctx, domain.EngineEvent{
		Type:     domain.EventWalkDeferred,
		MarketID: marketID,
		Outcome:  outcome,
		Tick:     t,
		Reason:   reason,
		At:       e.clock(),
	})
}

func (e *Engine) publish(ctx context.Context, ev domain.EngineEvent) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, "events:engine", payload); err != nil {
		e.logger.ErrorContext(ctx, "event publish failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, "stream:events", payload); err != nil {
		e.logger.ErrorContext(ctx, "event stream append failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) lane(marketID string, outcome int) *laneState {
	key := stateKey{marketID, outcome}
	st, ok := e.lanes[key]
	if !ok {
		st = &laneState{}
		e.lanes[key] = st
	}
	return st
}

func eligible(side domain.Side, limitTick, currentTick int64) bool {
	if side == domain.SideSell {
		return currentTick >= limitTick
	}
	return currentTick <= limitTick
}

func recoverable(err error) bool {
	return errors.Is(err, domain.ErrSlippageExceeded) ||
		errors.Is(err, domain.ErrInsufficientPositionBalance) ||
		errors.Is(err, domain.ErrMergeOrdering)
}
