package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side indicates whether an order buys or sells outcome tokens.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus tracks the order lifecycle. Once a status leaves Active it
// never returns to Active.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "active"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// Order is a resting limit order against the AMM. Amounts are 18-decimal
// fixed point (wad): for buy orders Amount is collateral to spend, for sell
// orders it is outcome tokens to sell. Fills are atomic, so Filled is either
// zero or equal to Amount.
type Order struct {
	ID        uint64         `json:"id"`
	Owner     common.Address `json:"owner"`
	MarketID  string         `json:"market_id"`
	Outcome   int            `json:"outcome"`
	Side      Side           `json:"side"`
	LimitTick int64          `json:"limit_tick"`
	Amount    *big.Int       `json:"amount"`
	Filled    *big.Int       `json:"filled"`
	Expiry    time.Time      `json:"expiry,omitzero"` // zero value means never
	Status    OrderStatus    `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ClosedAt  *time.Time     `json:"closed_at,omitempty"`
}

// Remaining returns Amount - Filled as a fresh big.Int.
func (o *Order) Remaining() *big.Int {
	return new(big.Int).Sub(o.Amount, o.Filled)
}

// Expires reports whether the order carries an expiry at all.
func (o *Order) Expires() bool {
	return !o.Expiry.IsZero()
}

// ExpiredAt reports whether the order has expired as of now.
func (o *Order) ExpiredAt(now time.Time) bool {
	return o.Expires() && !now.Before(o.Expiry)
}
