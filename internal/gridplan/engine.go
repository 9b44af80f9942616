// Package gridplan implements the SharedGridEngine (spec §4.4): the single
// source of truth that fuses the ATR channel, account balance, symbol rules
// and configuration into one immutable GridPlan consumed by both
// executors.
package gridplan

import (
	"github.com/shopspring/decimal"

	"hedgegrid/internal/model"
	"hedgegrid/pkg/apperrors"
	"hedgegrid/pkg/decimalutil"
)

// anti-degeneracy clamps and self-adaptation bounds, spec §4.4 steps 1 & 4.
var (
	minSpacingFraction = decimal.NewFromFloat(0.001)
	maxSpacingFraction = decimal.NewFromFloat(0.05)
	spacingGrowthFactor = decimal.NewFromFloat(1.1)
	maxSpacingMultiplier = decimal.NewFromFloat(5.0)
)

const maxAdaptationIterations = 10

// Config holds the SharedGridEngine's configuration knobs from spec §6.
type Config struct {
	SpacingMultiplier decimal.Decimal // default 0.26
	MaxOpenOrders     int             // default 4
	SafetyFactor      decimal.Decimal // default 0.8
	MaxLeverageLimit  int             // default 20
	UtilizationRatio  decimal.Decimal // default 0.8
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		SpacingMultiplier: decimal.NewFromFloat(0.26),
		MaxOpenOrders:     4,
		SafetyFactor:      decimal.NewFromFloat(0.8),
		MaxLeverageLimit:  20,
		UtilizationRatio:  decimal.NewFromFloat(0.8),
	}
}

// Build derives a GridPlan from its four inputs. It is a pure function:
// the same (atr, balance, rules, cfg, epochID) always
// produces the same GridPlan (spec §8 round-trip property).
//
// balance is the smaller of the two accounts' balances, so both sides can
// commit symmetrically (spec §4.2, §9 "Balance skew" scenario) — callers
// pass decimal.Min(longBalance, shortBalance).
func Build(atr model.ATRResult, balance decimal.Decimal, rules model.SymbolRules, cfg Config, epochID int64) (model.GridPlan, error) {
	if !atr.LowerBound.LessThan(atr.UpperBound) {
		return model.GridPlan{}, apperrors.ErrInfeasiblePlan
	}

	mid := atr.UpperBound.Add(atr.LowerBound).Div(decimal.NewFromInt(2))
	spacingMultiplier := cfg.SpacingMultiplier

	for iteration := 0; iteration < maxAdaptationIterations; iteration++ {
		if spacingMultiplier.GreaterThan(maxSpacingMultiplier) {
			return model.GridPlan{}, apperrors.ErrInfeasiblePlan
		}

		spacing := computeSpacing(atr.ATR, spacingMultiplier, mid, rules.TickSize)
		levels := computeLevelsCount(atr.UpperBound, atr.LowerBound, spacing, cfg.MaxOpenOrders)
		usableLeverage := computeUsableLeverage(mid, atr.LowerBound, rules, balance, cfg)

		totalNotional := balance.Mul(cfg.UtilizationRatio).Mul(decimal.NewFromInt(int64(usableLeverage)))
		notionalPerLevel := totalNotional.Div(decimal.NewFromInt(int64(levels)))

		if notionalPerLevel.GreaterThanOrEqual(rules.MinNotional) {
			return model.GridPlan{
				EpochID:          epochID,
				Upper:            atr.UpperBound,
				Lower:            atr.LowerBound,
				Spacing:          spacing,
				LevelsCount:      levels,
				NotionalPerLevel: notionalPerLevel,
				UsableLeverage:   usableLeverage,
				StopUpper:        atr.UpperBound,
				StopLower:        atr.LowerBound,
				ComputedAt:       atr.ComputedAt,
			}, nil
		}

		spacingMultiplier = spacingMultiplier.Mul(spacingGrowthFactor)
	}

	return model.GridPlan{}, apperrors.ErrInfeasiblePlan
}

// computeSpacing implements spec §4.4 step 1.
func computeSpacing(atr, spacingMultiplier, currentPrice, tick decimal.Decimal) decimal.Decimal {
	spacingRaw := atr.Mul(spacingMultiplier)
	spacing := decimalutil.RoundToTick(spacingRaw, tick)
	if spacing.LessThan(tick) {
		spacing = tick
	}

	floor := currentPrice.Mul(minSpacingFraction)
	ceil := currentPrice.Mul(maxSpacingFraction)
	if spacing.LessThan(floor) {
		spacing = floor
	}
	if spacing.GreaterThan(ceil) {
		spacing = ceil
	}
	return spacing
}

// computeLevelsCount implements spec §4.4 step 2.
func computeLevelsCount(upper, lower, spacing decimal.Decimal, maxOpenOrders int) int {
	if spacing.IsZero() {
		return 1
	}
	raw := upper.Sub(lower).Div(spacing).IntPart()
	max := int64(maxOpenOrders * 2)
	if raw > max {
		raw = max
	}
	if raw < 1 {
		raw = 1
	}
	return int(raw)
}

// computeUsableLeverage implements spec §4.4 step 3.
//
// The notional tier used to look up the maintenance margin ratio is, before
// usable_leverage itself is known, inherently a fixed point (the tier
// depends on the position notional, which depends on the leverage being
// solved for). This implementation resolves the circularity by tiering on
// the balance committed at the configured leverage ceiling
// (balance*utilization*max_leverage_limit) — the largest notional the plan
// could possibly produce — which is the conservative (never-undershoot)
// choice of bracket. See DESIGN.md for the recorded rationale.
func computeUsableLeverage(mid, lower decimal.Decimal, rules model.SymbolRules, balance decimal.Decimal, cfg Config) int {
	tieringNotional := balance.Mul(cfg.UtilizationRatio).Mul(decimal.NewFromInt(int64(cfg.MaxLeverageLimit)))
	bracket, ok := rules.BracketFor(tieringNotional)
	mmr := decimal.NewFromFloat(0.004)
	if ok {
		mmr = bracket.MaintenanceMarginRatio
	}

	one := decimal.NewFromInt(1)
	lowerOverMid := lower.Div(mid)
	denominator := one.Add(mmr).Sub(lowerOverMid)
	if denominator.LessThanOrEqual(decimal.Zero) {
		return 1
	}

	lMax := one.Div(denominator)
	usable := lMax.Mul(cfg.SafetyFactor).IntPart()

	limit := int64(cfg.MaxLeverageLimit)
	if ok && int64(bracket.MaxLeverage) < limit {
		limit = int64(bracket.MaxLeverage)
	}
	if usable > limit {
		usable = limit
	}
	if usable < 1 {
		usable = 1
	}
	return int(usable)
}
