// Package splitmerge sequences the merge calls a sell execution needs on
// markets that compose more than one underlying condition. Conditions must
// be merged in the reverse of their original split order; merging out of
// order strands an intermediate position that can no longer be merged.
package splitmerge

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/castlefield/tickbook/internal/domain"
)

// Coordinator bridges order execution and the conditional-token merge
// primitives. Merges are one-way, so collateral merged for a sell that then
// fails (slippage, for example) cannot be split back; the Coordinator keeps
// it on account per market and nets it against later preparations instead
// of drawing the conditions down again on every retry.
type Coordinator struct {
	conditions domain.ConditionLedger
	prepared   map[string]*big.Int
	logger     *slog.Logger
}

// New creates a Coordinator over the given condition ledger.
func New(conditions domain.ConditionLedger, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		conditions: conditions,
		prepared:   make(map[string]*big.Int),
		logger:     logger.With(slog.String("component", "splitmerge")),
	}
}

// PrepareSell runs the merge sequence required before the AMM sell primitive
// can realize collateral for the given market. Single-condition markets need
// no preparation. Only the shortfall beyond collateral already merged for an
// earlier failed sell is drawn; every condition balance is verified before
// the first merge executes, so a failed attempt leaves no partial merge
// behind. The caller treats the error as recoverable and keeps the order
// Active.
func (c *Coordinator) PrepareSell(ctx context.Context, market *domain.Market, amount *big.Int) error {
	if !market.MultiCondition() {
		return nil
	}

	need := new(big.Int).Set(amount)
	if p, ok := c.prepared[market.ID]; ok {
		need.Sub(need, p)
	}
	if need.Sign() <= 0 {
		return nil
	}

	// Reverse of split order.
	ordered := make([]string, len(market.Conditions))
	for i, id := range market.Conditions {
		ordered[len(market.Conditions)-1-i] = id
	}

	for _, conditionID := range ordered {
		balance, err := c.conditions.ConditionBalance(ctx, conditionID)
		if err != nil {
			return fmt.Errorf("splitmerge: balance of %s: %w", conditionID, err)
		}
		if balance.Cmp(need) < 0 {
			return fmt.Errorf("splitmerge: condition %s holds %s, need %s: %w",
				conditionID, balance, need, domain.ErrInsufficientPositionBalance)
		}
	}

	for _, conditionID := range ordered {
		if err := c.conditions.MergePositions(ctx, conditionID, need); err != nil {
			// Balances were verified above; a failure here means the merge
			// sequence itself is invalid for the current ledger state.
			return fmt.Errorf("splitmerge: merge %s: %w", conditionID, domain.ErrMergeOrdering)
		}
		c.logger.DebugContext(ctx, "condition merged",
			slog.String("market_id", market.ID),
			slog.String("condition_id", conditionID),
			slog.String("amount", need.String()),
		)
	}

	p, ok := c.prepared[market.ID]
	if !ok {
		p = new(big.Int)
		c.prepared[market.ID] = p
	}
	p.Add(p, need)
	return nil
}

// SettleSell consumes prepared collateral once the sell it backed succeeds.
func (c *Coordinator) SettleSell(marketID string, amount *big.Int) {
	p, ok := c.prepared[marketID]
	if !ok {
		return
	}
	p.Sub(p, amount)
	if p.Sign() <= 0 {
		delete(c.prepared, marketID)
	}
}
