package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/castlefield/tickbook/internal/amm"
	"github.com/castlefield/tickbook/internal/book"
	"github.com/castlefield/tickbook/internal/crypto"
	"github.com/castlefield/tickbook/internal/custody"
	"github.com/castlefield/tickbook/internal/domain"
	"github.com/castlefield/tickbook/internal/engine"
	"github.com/castlefield/tickbook/internal/notify"
	"github.com/castlefield/tickbook/internal/server"
	"github.com/castlefield/tickbook/internal/server/handler"
	"github.com/castlefield/tickbook/internal/server/ws"
	"github.com/castlefield/tickbook/internal/service"
	"github.com/castlefield/tickbook/internal/splitmerge"
)

// defaultFunding seeds each pool outcome when a market omits its funding.
var defaultFunding = new(big.Int).Mul(big.NewInt(1_000), big.NewInt(1e18))

// core bundles the in-memory matching stack shared by both modes.
type core struct {
	collateral *custody.MemCollateralLedger
	positions  *custody.MemPositionLedger
	conditions *custody.MemConditionLedger
	book       *book.Book
	engine     *engine.Engine
	pools      map[string]*amm.FPMM
	svc        *service.OrderService
}

// buildCore wires custody, the book, the engine, one market maker per
// configured market, and the order service on top.
func (a *App) buildCore(deps *Dependencies) (*core, error) {
	c := &core{
		collateral: custody.NewMemCollateralLedger(),
		positions:  custody.NewMemPositionLedger(),
		conditions: custody.NewMemConditionLedger(),
		pools:      make(map[string]*amm.FPMM, len(a.cfg.Markets)),
	}

	mgr := custody.NewManager(c.collateral, c.positions, a.logger)
	c.book = book.New(mgr, a.logger)

	merges := splitmerge.New(c.conditions, a.logger)
	c.engine = engine.New(engine.Config{
		SlippageToleranceBps:    a.cfg.Engine.SlippageToleranceBps,
		MaxExecutionsPerTrigger: a.cfg.Engine.MaxExecutionsPerTrigger,
	}, c.book, mgr, merges, a.logger)

	if deps.OrderStore != nil {
		c.engine.WithAudit(deps.OrderStore, deps.FillStore)
	}
	if deps.TickCache != nil {
		c.engine.WithTickCache(deps.TickCache)
	}
	if deps.SignalBus != nil {
		c.engine.WithBus(deps.SignalBus)
	}

	for _, mc := range a.cfg.Markets {
		m := &domain.Market{
			ID:         mc.ID,
			Question:   mc.Question,
			Outcomes:   mc.Outcomes,
			Conditions: mc.Conditions,
			CreatedAt:  time.Now().UTC(),
		}
		if err := c.book.AddMarket(m); err != nil {
			return nil, fmt.Errorf("app: add market %q: %w", mc.ID, err)
		}

		funding := defaultFunding
		if mc.Funding != "" {
			f, ok := new(big.Int).SetString(mc.Funding, 10)
			if !ok || f.Sign() <= 0 {
				return nil, fmt.Errorf("app: market %q: funding must be a positive wad integer", mc.ID)
			}
			funding = f
		}
		pool := amm.New(mc.ID, len(mc.Outcomes), funding, a.logger)
		pool.SetHook(c.engine)
		c.engine.RegisterAMM(mc.ID, pool)
		c.pools[mc.ID] = pool

		// The pool account holds a mergeable balance per condition so
		// multi-condition sells can realize collateral.
		for _, cond := range mc.Conditions {
			c.conditions.Fund(cond, funding)
		}
	}

	c.svc = service.NewOrderService(c.book, c.engine, a.logger).
		WithCollateral(c.collateral).
		RequireCancelSignature(a.cfg.Auth.RequireCancelSignature)
	if deps.OrderStore != nil {
		c.svc.WithStores(deps.OrderStore, deps.FillStore, deps.AuditStore)
	}
	if deps.RateLimiter != nil && a.cfg.Auth.RateLimitPerMinute > 0 {
		c.svc.WithRateLimiter(deps.RateLimiter, a.cfg.Auth.RateLimitPerMinute)
	}
	if deps.SignalBus != nil {
		c.svc.WithBus(deps.SignalBus)
	}
	return c, nil
}

// ServeMode runs the HTTP API, the WebSocket hub, the expiry sweeper, the
// notifier, and the optional archive job until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}

	verifier, err := crypto.NewAPIKeyVerifier(a.cfg.Auth.APIKeyHash, a.cfg.Auth.APIKeySalt)
	if err != nil {
		return fmt.Errorf("app: api key verifier: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
		g.Go(func() error {
			hub.Run(ctx)
			return nil
		})
	}

	if len(deps.Senders) > 0 && deps.SignalBus != nil {
		notifier := notify.New(deps.Senders, a.cfg.Notify.Events, deps.SignalBus, a.logger)
		g.Go(func() error {
			return notifier.Run(ctx)
		})
	}

	// Expiry sweeper.
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Engine.SweepInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := c.svc.SweepAll(ctx); n > 0 {
					a.logger.InfoContext(ctx, "expired orders reaped", slog.Int("count", n))
				}
			}
		}
	})

	// Archive job.
	if deps.Archiver != nil {
		g.Go(func() error {
			ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
					n, err := deps.Archiver.ArchiveBefore(ctx, cutoff)
					if err != nil {
						a.logger.ErrorContext(ctx, "archive run failed",
							slog.String("error", err.Error()),
						)
						continue
					}
					if n > 0 {
						a.logger.InfoContext(ctx, "records archived",
							slog.Int("count", n),
							slog.Time("cutoff", cutoff),
						)
					}
				}
			}
		})
	}

	if a.cfg.Server.Enabled {
		srv := server.New(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
		}, server.Handlers{
			Health:   handler.NewHealthHandler(a.cfg.Mode),
			Markets:  handler.NewMarketHandler(c.svc),
			Orders:   handler.NewOrderHandler(c.svc),
			Matching: handler.NewMatchingHandler(c.svc),
			Accounts: handler.NewAccountHandler(c.svc),
			Audit:    handler.NewAuditHandler(c.svc),
			Hub:      hub,
		}, verifier, a.logger)

		g.Go(func() error {
			return srv.Start(ctx)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// simTraders is how many synthetic accounts the sim seeds.
const simTraders = 8

// SimMode drives the in-memory stack with scripted random flow: seeded
// traders place limit orders around the pool price and random AMM trades move
// it, exercising fills, deferrals, and expiry sweeps without any external
// service.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}
	if len(a.cfg.Markets) == 0 {
		return fmt.Errorf("app: sim mode needs at least one configured market")
	}

	rng := rand.New(rand.NewSource(1))

	traders := make([]common.Address, simTraders)
	bankroll := new(big.Int).Mul(big.NewInt(10_000), big.NewInt(1e18))
	for i := range traders {
		traders[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
		c.collateral.Deposit(traders[i], bankroll)
	}

	wad := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	placed, skipped := 0, 0

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for round := 0; ; round++ {
		select {
		case <-ctx.Done():
			a.logger.Info("sim finished",
				slog.Int("rounds", round),
				slog.Int("orders_placed", placed),
				slog.Int("placements_failed", skipped),
			)
			return nil
		case <-ticker.C:
		}

		mc := a.cfg.Markets[rng.Intn(len(a.cfg.Markets))]
		outcome := rng.Intn(len(mc.Outcomes))
		pool := c.pools[mc.ID]

		cur, err := pool.MarginalPrice(ctx, outcome)
		if err != nil {
			return fmt.Errorf("app: sim price: %w", err)
		}

		// Rest a limit order near the current price on a random side.
		trader := traders[rng.Intn(len(traders))]
		side := domain.SideBuy
		// Offset up to 2% away from the marginal price.
		offset := new(big.Int).Div(new(big.Int).Mul(cur, big.NewInt(int64(rng.Intn(200)))), big.NewInt(10_000))
		limit := new(big.Int).Sub(cur, offset)
		if rng.Intn(2) == 0 {
			side = domain.SideSell
			limit = new(big.Int).Add(cur, offset)
		}
		amount := new(big.Int).Mul(big.NewInt(int64(rng.Intn(40)+10)), wad)

		var expiry time.Time
		if rng.Intn(4) == 0 {
			expiry = time.Now().Add(time.Duration(rng.Intn(5)+1) * time.Second)
		}

		if side == domain.SideSell {
			// Sellers need tokens to escrow.
			c.positions.Mint(trader, mc.ID, outcome, amount)
		}
		if _, err := c.svc.PlaceOrder(ctx, service.PlaceRequest{
			Owner:    trader,
			MarketID: mc.ID,
			Outcome:  outcome,
			Side:     side,
			Price:    limit,
			Amount:   amount,
			Expiry:   expiry,
		}); err != nil {
			skipped++
		} else {
			placed++
		}

		// Random flow against the pool moves the price and triggers walks.
		flow := new(big.Int).Mul(big.NewInt(int64(rng.Intn(80)+20)), wad)
		if rng.Intn(2) == 0 {
			_, err = pool.Buy(ctx, flow, outcome, big.NewInt(0))
		} else {
			_, err = pool.Sell(ctx, flow, outcome, big.NewInt(0))
		}
		if err != nil {
			a.logger.Debug("sim pool trade rejected", slog.String("error", err.Error()))
		}

		if round%25 == 24 {
			c.svc.SweepAll(ctx)
		}
		if round%50 == 49 {
			for _, m := range a.cfg.Markets {
				for o := range m.Outcomes {
					if t, ok := c.svc.LastTick(m.ID, o); ok {
						a.logger.Info("sim lane state",
							slog.String("market_id", m.ID),
							slog.Int("outcome", o),
							slog.Int64("tick", t),
						)
					}
				}
			}
		}
	}
}
