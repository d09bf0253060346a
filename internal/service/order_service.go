// Package service coordinates the order lifecycle across the book, the
// matching engine, and the durable side channels. All book- and
// engine-touching operations are serialized on one mutex: the engine relies
// on a strictly sequential execution model, so the service is the single
// place where concurrency is collapsed.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/castlefield/tickbook/internal/book"
	"github.com/castlefield/tickbook/internal/crypto"
	"github.com/castlefield/tickbook/internal/domain"
	"github.com/castlefield/tickbook/internal/engine"
)

// PlaceRequest carries a validated order placement.
type PlaceRequest struct {
	Owner    common.Address
	MarketID string
	Outcome  int
	Side     domain.Side
	Price    *big.Int
	Amount   *big.Int
	Expiry   time.Time
}

// OrderService is the transactional front door for order operations.
type OrderService struct {
	mu sync.Mutex

	book   *book.Book
	engine *engine.Engine

	orders     domain.OrderStore
	fills      domain.FillStore
	audit      domain.AuditStore
	limiter    domain.RateLimiter
	bus        domain.SignalBus
	collateral domain.CollateralLedger

	rateLimitPerMinute     int
	requireCancelSignature bool

	logger *slog.Logger
}

// NewOrderService creates an OrderService over the book and engine. Durable
// stores and the rate limiter attach via the With* methods; all are optional
// so the sim mode can run without external services.
func NewOrderService(b *book.Book, eng *engine.Engine, logger *slog.Logger) *OrderService {
	return &OrderService{
		book:   b,
		engine: eng,
		logger: logger.With(slog.String("component", "order_service")),
	}
}

// WithStores attaches the durable order, fill, and audit mirrors.
func (s *OrderService) WithStores(orders domain.OrderStore, fills domain.FillStore, audit domain.AuditStore) *OrderService {
	s.orders = orders
	s.fills = fills
	s.audit = audit
	return s
}

// WithRateLimiter attaches a per-owner placement rate limit.
func (s *OrderService) WithRateLimiter(limiter domain.RateLimiter, perMinute int) *OrderService {
	s.limiter = limiter
	s.rateLimitPerMinute = perMinute
	return s
}

// WithBus attaches the event signal bus.
func (s *OrderService) WithBus(bus domain.SignalBus) *OrderService {
	s.bus = bus
	return s
}

// WithCollateral attaches the collateral ledger for deposits and balance
// queries.
func (s *OrderService) WithCollateral(ledger domain.CollateralLedger) *OrderService {
	s.collateral = ledger
	return s
}

// RequireCancelSignature makes Cancel demand a valid owner signature.
func (s *OrderService) RequireCancelSignature(required bool) *OrderService {
	s.requireCancelSignature = required
	return s
}

// PlaceOrder rests a new limit order: rate limit, custody lock, book index,
// durable mirror, audit, event. The order waits for a price cross; placement
// never trades against the pool.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceRequest) (uint64, error) {
	if s.limiter != nil && s.rateLimitPerMinute > 0 {
		allowed, err := s.limiter.Allow(ctx, "orders:"+req.Owner.Hex(), s.rateLimitPerMinute, time.Minute)
		if err != nil {
			return 0, fmt.Errorf("order_service: rate limiter: %w", err)
		}
		if !allowed {
			return 0, fmt.Errorf("order_service: owner %s: %w", req.Owner.Hex(), domain.ErrRateLimited)
		}
	}

	s.mu.Lock()
	id, err := s.book.Place(ctx, req.MarketID, req.Owner, req.Outcome, req.Side, req.Price, req.Amount, req.Expiry)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	snapshot, _ := s.book.Get(id)
	s.mu.Unlock()

	if s.orders != nil {
		if err := s.orders.Create(ctx, snapshot); err != nil {
			s.logger.WarnContext(ctx, "order mirror create failed",
				slog.Uint64("order_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	s.auditLog(ctx, domain.EventOrderPlaced, map[string]any{
		"order_id":   id,
		"owner":      req.Owner.Hex(),
		"market_id":  req.MarketID,
		"outcome":    req.Outcome,
		"side":       string(req.Side),
		"limit_tick": snapshot.LimitTick,
		"amount":     snapshot.Amount.String(),
	})
	s.publish(ctx, domain.EngineEvent{
		Type:     domain.EventOrderPlaced,
		MarketID: req.MarketID,
		Outcome:  req.Outcome,
		OrderID:  id,
		Tick:     snapshot.LimitTick,
		Amount:   snapshot.Amount,
		At:       snapshot.CreatedAt,
	})
	return id, nil
}

// CancelOrder cancels an Active order owned by caller. When cancel signatures
// are required, signature must be the owner's personal-sign authorization for
// this order id.
func (s *OrderService) CancelOrder(ctx context.Context, id uint64, caller common.Address, signature string) error {
	if s.requireCancelSignature {
		if err := crypto.VerifyCancel(id, caller, signature); err != nil {
			return err
		}
	}

	s.mu.Lock()
	err := s.book.Cancel(ctx, id, caller)
	var snapshot domain.Order
	if err == nil {
		snapshot, _ = s.book.Get(id)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.mirrorStatus(ctx, snapshot)
	s.auditLog(ctx, domain.EventOrderCancelled, map[string]any{
		"order_id": id,
		"owner":    caller.Hex(),
	})
	s.publish(ctx, domain.EngineEvent{
		Type:     domain.EventOrderCancelled,
		MarketID: snapshot.MarketID,
		Outcome:  snapshot.Outcome,
		OrderID:  id,
		At:       derefOr(snapshot.ClosedAt, time.Now()),
	})
	return nil
}

// TriggerMatching resumes deferred matching work for one lane.
func (s *OrderService) TriggerMatching(ctx context.Context, marketID string, outcome int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.TriggerMatching(ctx, marketID, outcome)
}

// SweepExpired reaps expired orders in one market, mirroring and announcing
// each. Returns the reaped order ids.
func (s *OrderService) SweepExpired(ctx context.Context, marketID string) []uint64 {
	s.mu.Lock()
	reaped := s.book.SweepExpired(ctx, marketID)
	snapshots := make([]domain.Order, 0, len(reaped))
	for _, id := range reaped {
		if o, err := s.book.Get(id); err == nil {
			snapshots = append(snapshots, o)
		}
	}
	s.mu.Unlock()

	for _, o := range snapshots {
		s.mirrorStatus(ctx, o)
		s.auditLog(ctx, domain.EventOrderExpired, map[string]any{
			"order_id":  o.ID,
			"market_id": o.MarketID,
		})
		s.publish(ctx, domain.EngineEvent{
			Type:     domain.EventOrderExpired,
			MarketID: o.MarketID,
			Outcome:  o.Outcome,
			OrderID:  o.ID,
			At:       derefOr(o.ClosedAt, time.Now()),
		})
	}
	return reaped
}

// SweepAll reaps expired orders across every market.
func (s *OrderService) SweepAll(ctx context.Context) int {
	total := 0
	for _, m := range s.book.Markets() {
		total += len(s.SweepExpired(ctx, m.ID))
	}
	return total
}

// GetOrder returns one order from the live book.
func (s *OrderService) GetOrder(ctx context.Context, id uint64) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Get(id)
}

// Markets lists the registered markets.
func (s *OrderService) Markets() []*domain.Market {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Markets()
}

// Market returns one registered market.
func (s *OrderService) Market(id string) (*domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Market(id)
}

// LastTick returns the engine's last observed tick for a lane.
func (s *OrderService) LastTick(marketID string, outcome int) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.LastTick(marketID, outcome)
}

// Deposit credits free collateral to an owner.
func (s *OrderService) Deposit(ctx context.Context, owner common.Address, amount *big.Int) error {
	if s.collateral == nil {
		return fmt.Errorf("order_service: no collateral ledger configured: %w", domain.ErrInvalidState)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("order_service: deposit amount must be positive: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	err := s.collateral.Credit(ctx, owner, amount)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("order_service: deposit: %w", err)
	}

	s.auditLog(ctx, domain.EventCollateralDeposited, map[string]any{
		"owner":  owner.Hex(),
		"amount": amount.String(),
	})
	return nil
}

// CollateralBalance returns an owner's free collateral balance.
func (s *OrderService) CollateralBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	if s.collateral == nil {
		return nil, fmt.Errorf("order_service: no collateral ledger configured: %w", domain.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collateral.Balance(ctx, owner)
}

// PoolBalances returns the AMM pool's outcome-token balances for a market.
func (s *OrderService) PoolBalances(ctx context.Context, marketID string) ([]*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.engine.AMM(marketID)
	if !ok {
		return nil, fmt.Errorf("order_service: no amm for market %q: %w", marketID, domain.ErrNotFound)
	}
	return a.PoolBalances(ctx)
}

// ListOrdersByMarket reads the durable mirror with pagination.
func (s *OrderService) ListOrdersByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	if s.orders == nil {
		return nil, fmt.Errorf("order_service: no order store configured: %w", domain.ErrInvalidState)
	}
	orders, err := s.orders.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list by market %q: %w", marketID, err)
	}
	return orders, nil
}

// ListOrdersByOwner reads the durable mirror with pagination.
func (s *OrderService) ListOrdersByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Order, error) {
	if s.orders == nil {
		return nil, fmt.Errorf("order_service: no order store configured: %w", domain.ErrInvalidState)
	}
	orders, err := s.orders.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list by owner %q: %w", owner, err)
	}
	return orders, nil
}

// ListAudit reads the append-only audit trail, optionally narrowed to one
// event type via opts.Event.
func (s *OrderService) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return nil, fmt.Errorf("order_service: no audit store configured: %w", domain.ErrInvalidState)
	}
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list audit: %w", err)
	}
	return entries, nil
}

// ListFills reads executed fills for a market with pagination.
func (s *OrderService) ListFills(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	if s.fills == nil {
		return nil, fmt.Errorf("order_service: no fill store configured: %w", domain.ErrInvalidState)
	}
	fills, err := s.fills.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list fills %q: %w", marketID, err)
	}
	return fills, nil
}

func (s *OrderService) mirrorStatus(ctx context.Context, o domain.Order) {
	if s.orders == nil {
		return
	}
	if err := s.orders.UpdateStatus(ctx, o.ID, o.Status, o); err != nil {
		s.logger.WarnContext(ctx, "order mirror update failed",
			slog.Uint64("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OrderService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OrderService) publish(ctx context.Context, ev domain.EngineEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, "events:engine", payload); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

func derefOr(t *time.Time, fallback time.Time) time.Time {
	if t != nil {
		return *t
	}
	return fallback
}
