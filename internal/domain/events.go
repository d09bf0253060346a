package domain

import (
	"math/big"
	"time"
)

// Event types published on the signal bus.
const (
	EventOrderPlaced      = "order_placed"
	EventOrderFilled      = "order_filled"
	EventOrderCancelled   = "order_cancelled"
	EventOrderExpired     = "order_expired"
	EventExecutionSkipped = "execution_skipped" // slippage or merge failure, order stays Active
	EventWalkDeferred     = "walk_deferred"     // cap hit or observation failure, range pending
)

// Audit-only event names. These appear in the audit trail but are never
// published on the signal bus.
const (
	EventCollateralDeposited = "collateral_deposited"
	EventFillsArchived       = "archive.fills"
)

// KnownEvent reports whether name belongs to the event taxonomy, bus-published
// or audit-only.
func KnownEvent(name string) bool {
	switch name {
	case EventOrderPlaced, EventOrderFilled, EventOrderCancelled,
		EventOrderExpired, EventExecutionSkipped, EventWalkDeferred,
		EventCollateralDeposited, EventFillsArchived:
		return true
	}
	return false
}

// EngineEvent is the wire shape for engine and lifecycle notifications.
// Failures during a matching walk are reported through these events rather
// than aborting the walk.
type EngineEvent struct {
	Type     string    `json:"type"`
	MarketID string    `json:"market_id"`
	Outcome  int       `json:"outcome"`
	OrderID  uint64    `json:"order_id,omitempty"`
	Tick     int64     `json:"tick,omitempty"`
	Amount   *big.Int  `json:"amount,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Fill is the audit record of one atomic order execution. AmountIn is what
// the order surrendered (collateral for buys, outcome tokens for sells) and
// AmountOut what the owner received.
type Fill struct {
	ID         string    `json:"id"` // uuid
	OrderID    uint64    `json:"order_id"`
	MarketID   string    `json:"market_id"`
	Outcome    int       `json:"outcome"`
	Side       Side      `json:"side"`
	Tick       int64     `json:"tick"` // marginal tick observed at eligibility check
	AmountIn   *big.Int  `json:"amount_in"`
	AmountOut  *big.Int  `json:"amount_out"`
	ExecutedAt time.Time `json:"executed_at"`
}
