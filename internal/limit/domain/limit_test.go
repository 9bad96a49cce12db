package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTradingLimitCapacity(t *testing.T) {
	l := &TradingLimit{ShortSellLimit: d("10000"), ShortSellUsed: d("7000"), LongSellLimit: d("500")}

	assert.True(t, l.HasCapacity(SideShortSell, d("3000")), "exact remaining is enough")
	assert.False(t, l.HasCapacity(SideShortSell, d("3000.0001")))
	assert.True(t, l.Remaining(SideLongSell).Equal(d("500")))

	require.NoError(t, l.Consume(SideShortSell, d("3000"), time.Now()))
	assert.True(t, l.ShortSellUsed.Equal(d("10000")))
	assert.Equal(t, int64(1), l.Version)

	assert.ErrorIs(t, l.Consume(SideShortSell, d("1"), time.Now()), ErrInsufficientCapacity)
	assert.ErrorIs(t, l.Consume(Side("BUY"), d("1"), time.Now()), ErrInvalidSide)
	assert.Equal(t, int64(1), l.Version, "failed consume must not bump version")
}

func TestTradingLimitReleaseFloorsAtZero(t *testing.T) {
	l := &TradingLimit{LongSellLimit: d("100"), LongSellUsed: d("30")}
	l.Release(SideLongSell, d("50"), time.Now())
	assert.True(t, l.LongSellUsed.IsZero())
	assert.Equal(t, int64(1), l.Version)
}

func TestEffectiveRemaining(t *testing.T) {
	l := &TradingLimit{ShortSellLimit: d("1000")}
	adjustments := []Adjustment{
		PercentCarveOut{Market: "HK", Percent: d("10")},
		FixedCarveOut{Market: "*", Quantity: d("100")},
	}

	tests := []struct {
		name   string
		market string
		want   string
	}{
		{"hk applies both", "hk", "800"},
		{"us only wildcard", "US", "900"},
		{"empty market still hits wildcard", "", "900"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveRemaining(l, SideShortSell, tt.market, adjustments)
			assert.True(t, got.Equal(d(tt.want)), "got %s", got)
		})
	}

	t.Run("never negative", func(t *testing.T) {
		got := EffectiveRemaining(l, SideShortSell, "US", []Adjustment{FixedCarveOut{Quantity: d("5000")}})
		assert.True(t, got.IsZero())
	})
}
