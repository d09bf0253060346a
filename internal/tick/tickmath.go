// Package tick converts between wad prices in the open interval (0, 1) and
// integer ticks. Exactly one mapping exists in the system: a linear grid of
// 1e14 wad per tick with spacing-aligned valid ticks. Every component that
// needs a price/tick conversion goes through this package.
package tick

import (
	"math/big"

	"github.com/castlefield/tickbook/internal/domain"
)

const (
	// Spacing is the distance between adjacent valid ticks. Valid ticks are
	// exact multiples of Spacing.
	Spacing int64 = 10

	// ticksPerUnit is the number of raw (unspaced) ticks in price 1.0.
	ticksPerUnit int64 = 10_000

	// MinTick and MaxTick bound the valid aligned tick range. The bounds
	// exclude 0 and ticksPerUnit so every valid tick maps to a price
	// strictly inside (0, 1).
	MinTick int64 = Spacing
	MaxTick int64 = ticksPerUnit - Spacing
)

// Wad is the 18-decimal fixed-point unit: 1e18 == 1.0.
var Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// tickSize is the wad width of one raw tick (1e14).
var tickSize = new(big.Int).Div(Wad, big.NewInt(ticksPerUnit))

// PriceToTick maps a wad price in (0, 1) to its tick, snapping DOWN to the
// next lower spacing-aligned tick. Snapping down is the documented policy:
// it is deterministic at exact midpoints, unlike nearest-rounding. Prices
// whose snapped tick falls outside [MinTick, MaxTick] are rejected, as are
// 0 and 1 exactly (their tick is undefined).
func PriceToTick(price *big.Int) (int64, error) {
	if price == nil || price.Sign() <= 0 || price.Cmp(Wad) >= 0 {
		return 0, domain.ErrInvalidPrice
	}
	t := new(big.Int).Div(price, tickSize).Int64()
	t -= t % Spacing
	if t < MinTick || t > MaxTick {
		return 0, domain.ErrInvalidPrice
	}
	return t, nil
}

// TickToPrice maps a valid aligned tick to its exact wad price. For every
// valid tick t, PriceToTick(TickToPrice(t)) == t.
func TickToPrice(t int64) (*big.Int, error) {
	if !Valid(t) {
		return nil, domain.ErrInvalidTick
	}
	return new(big.Int).Mul(big.NewInt(t), tickSize), nil
}

// Valid reports whether t is spacing-aligned and inside [MinTick, MaxTick].
func Valid(t int64) bool {
	return t%Spacing == 0 && t >= MinTick && t <= MaxTick
}

// Align snaps an arbitrary in-range tick down to its spacing boundary.
func Align(t int64) int64 {
	return t - t%Spacing
}
