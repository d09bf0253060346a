package tick

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlefield/tickbook/internal/domain"
)

func TestRoundTrip_AllValidTicks(t *testing.T) {
	for tk := MinTick; tk <= MaxTick; tk += Spacing {
		price, err := TickToPrice(tk)
		require.NoError(t, err)

		back, err := PriceToTick(price)
		require.NoError(t, err)
		assert.Equal(t, tk, back, "tick %d did not round-trip", tk)
	}
}

func TestTickToPrice_StrictlyIncreasing(t *testing.T) {
	prev, err := TickToPrice(MinTick)
	require.NoError(t, err)

	for tk := MinTick + Spacing; tk <= MaxTick; tk += Spacing {
		price, err := TickToPrice(tk)
		require.NoError(t, err)
		assert.Equal(t, 1, price.Cmp(prev), "price not increasing at tick %d", tk)
		prev = price
	}
}

func TestPriceToTick_SnapsDown(t *testing.T) {
	// 0.5015 lies between aligned ticks 5010 and 5020; it must snap to 5010,
	// never to the nearer 5020.
	price, _ := new(big.Int).SetString("501500000000000000", 10)
	tk, err := PriceToTick(price)
	require.NoError(t, err)
	assert.Equal(t, int64(5010), tk)

	// One wad above an exact boundary still snaps back to that boundary.
	boundary, err := TickToPrice(5010)
	require.NoError(t, err)
	tk, err = PriceToTick(new(big.Int).Add(boundary, big.NewInt(1)))
	require.NoError(t, err)
	assert.Equal(t, int64(5010), tk)
}

func TestPriceToTick_RejectsBounds(t *testing.T) {
	cases := []struct {
		name  string
		price *big.Int
	}{
		{"zero", big.NewInt(0)},
		{"one", new(big.Int).Set(Wad)},
		{"negative", big.NewInt(-1)},
		{"above one", new(big.Int).Add(Wad, big.NewInt(1))},
		// Below the lowest aligned tick: snaps to 0, which is invalid.
		{"dust", big.NewInt(1)},
		{"nil", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := PriceToTick(tc.price)
			assert.ErrorIs(t, err, domain.ErrInvalidPrice)
		})
	}
}

func TestTickToPrice_RejectsInvalid(t *testing.T) {
	for _, tk := range []int64{0, MinTick - Spacing, MaxTick + Spacing, 15, -10, ticksPerUnit} {
		_, err := TickToPrice(tk)
		assert.ErrorIs(t, err, domain.ErrInvalidTick, "tick %d", tk)
	}
}

func TestAlign(t *testing.T) {
	assert.Equal(t, int64(5010), Align(5017))
	assert.Equal(t, int64(5010), Align(5010))
}
