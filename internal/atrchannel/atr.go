// Package atrchannel computes Wilder's RMA-smoothed Average True Range and
// derives the price channel the rest of the engine treats as constant for
// one epoch (spec §4.3).
package atrchannel

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hedgegrid/internal/model"
)

// Config holds the parameters spec §6 enumerates for the ATR channel.
type Config struct {
	Length         int             // atr_length, default 14
	Multiplier     decimal.Decimal // atr_multiplier, default 2.0
	Lookback       int             // atr_lookback, default 20
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Length:     14,
		Multiplier: decimal.NewFromFloat(2.0),
		Lookback:   20,
	}
}

// Compute derives an ATRResult from a slice of candles ordered oldest
// first. It requires at least Length+1 candles to seed the RMA and at
// least Lookback candles to derive the channel's high/low.
//
// Candles crossing the order boundary are already exact decimals (parsed
// from exchange strings), so the RMA recurrence here stays in decimal
// rather than reaching for float64 — spec §9 permits floats in this layer
// but does not require them, and keeping one numeric representation across
// the whole module avoids a decimal<->float round trip at the channel
// boundary.
func Compute(candles []model.Candle, cfg Config) (model.ATRResult, error) {
	if cfg.Length <= 0 {
		return model.ATRResult{}, fmt.Errorf("atr length must be positive, got %d", cfg.Length)
	}
	if len(candles) < cfg.Length+1 {
		return model.ATRResult{}, fmt.Errorf("need at least %d candles to seed ATR(%d), got %d", cfg.Length+1, cfg.Length, len(candles))
	}
	if cfg.Lookback <= 0 || len(candles) < cfg.Lookback {
		return model.ATRResult{}, fmt.Errorf("need at least %d candles for the lookback window, got %d", cfg.Lookback, len(candles))
	}

	atr, err := wilderRMA(candles, cfg.Length)
	if err != nil {
		return model.ATRResult{}, err
	}

	window := candles[len(candles)-cfg.Lookback:]
	highest := window[0].High
	lowest := window[0].Low
	for _, c := range window[1:] {
		if c.High.GreaterThan(highest) {
			highest = c.High
		}
		if c.Low.LessThan(lowest) {
			lowest = c.Low
		}
	}

	half := atr.Mul(cfg.Multiplier)
	upper := highest.Add(half)
	lower := lowest.Sub(half)

	return model.ATRResult{
		ATR:        atr,
		UpperBound: upper,
		LowerBound: lower,
		ComputedAt: time.Now(),
	}, nil
}

// trueRange computes TR_i per spec §4.3.
func trueRange(cur model.Candle, prevClose decimal.Decimal) decimal.Decimal {
	hl := cur.High.Sub(cur.Low)
	hc := cur.High.Sub(prevClose).Abs()
	lc := cur.Low.Sub(prevClose).Abs()

	max := hl
	if hc.GreaterThan(max) {
		max = hc
	}
	if lc.GreaterThan(max) {
		max = lc
	}
	return max
}

// wilderRMA implements the seed-then-smooth recurrence from spec §4.3:
// ATR_p = mean(TR_1..TR_p), then ATR_i = ((p-1)*ATR_{i-1} + TR_i) / p.
func wilderRMA(candles []model.Candle, period int) (decimal.Decimal, error) {
	// candles[0] has no previous close, so TR series starts at candles[1].
	trs := make([]decimal.Decimal, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trs = append(trs, trueRange(candles[i], candles[i-1].Close))
	}
	if len(trs) < period {
		return decimal.Zero, fmt.Errorf("not enough true-range samples to seed ATR(%d): have %d", period, len(trs))
	}

	sum := decimal.Zero
	for _, tr := range trs[:period] {
		sum = sum.Add(tr)
	}
	atr := sum.Div(decimal.NewFromInt(int64(period)))

	p := decimal.NewFromInt(int64(period))
	pMinus1 := decimal.NewFromInt(int64(period - 1))
	for _, tr := range trs[period:] {
		atr = pMinus1.Mul(atr).Add(tr).Div(p)
	}

	if atr.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("computed non-positive ATR: %s", atr)
	}
	return atr, nil
}
