package atrchannel

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedgegrid/internal/model"
)

func candle(o, h, l, c string) model.Candle {
	return model.Candle{
		OpenTime: time.Now(),
		Open:     decimal.RequireFromString(o),
		High:     decimal.RequireFromString(h),
		Low:      decimal.RequireFromString(l),
		Close:    decimal.RequireFromString(c),
	}
}

func flatCandles(n int, base string) []model.Candle {
	cs := make([]model.Candle, 0, n)
	for i := 0; i < n; i++ {
		cs = append(cs, candle(base, "101", "99", base))
	}
	return cs
}

func TestComputeChannelInvariant(t *testing.T) {
	cfg := Config{Length: 14, Multiplier: decimal.NewFromFloat(2.0), Lookback: 20}
	candles := flatCandles(25, "100")

	result, err := Compute(candles, cfg)
	require.NoError(t, err)
	assert.True(t, result.LowerBound.LessThan(result.UpperBound), "lower bound %s must be < upper bound %s", result.LowerBound, result.UpperBound)

	width := result.UpperBound.Sub(result.LowerBound)
	minWidth := result.ATR.Mul(cfg.Multiplier).Mul(decimal.NewFromInt(2))
	assert.False(t, width.LessThan(minWidth), "channel width %s must be >= 2*atr*k = %s", width, minWidth)
	assert.True(t, result.ATR.Sign() > 0, "ATR must be positive, got %s", result.ATR)
}

func TestComputeInsufficientCandles(t *testing.T) {
	cfg := DefaultConfig()
	_, err := Compute(flatCandles(5, "100"), cfg)
	assert.Error(t, err, "expected error for too few candles")
}

func TestWilderRMAKnownSequence(t *testing.T) {
	// Three candles with an obvious ramp so TR = high-low each bar and the
	// seed average is simple to hand-check.
	candles := []model.Candle{
		candle("100", "102", "98", "100"),
		candle("100", "104", "96", "101"),
		candle("101", "106", "95", "102"),
	}
	atr, err := wilderRMA(candles, 2)
	require.NoError(t, err)
	// TR1 = max(104-96, |104-100|, |96-100|) = 8
	// TR2 = max(106-95, |106-101|, |95-101|) = 11
	// seed = mean(8, 11) = 9.5, no smoothing bars remain after the seed.
	assert.True(t, atr.Equal(decimal.RequireFromString("9.5")), "expected ATR 9.5, got %s", atr)
}
