package gridplan

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedgegrid/internal/model"
	"hedgegrid/pkg/apperrors"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseRules() model.SymbolRules {
	return model.SymbolRules{
		Symbol:           "DOGEUSDC",
		TickSize:         dec("0.00001"),
		LotSize:          dec("1"),
		MinNotional:      dec("5"),
		MaxLeverageLimit: 20,
		Brackets: []model.LeverageBracket{
			{NotionalFloor: dec("0"), NotionalCap: dec("50000"), MaintenanceMarginRatio: dec("0.004"), MaxLeverage: 20},
		},
	}
}

func baseATR() model.ATRResult {
	return model.ATRResult{
		ATR:        dec("0.01"),
		UpperBound: dec("1.05"),
		LowerBound: dec("0.95"),
		ComputedAt: time.Now(),
	}
}

func TestBuildIsPureFunction(t *testing.T) {
	atr, rules, cfg := baseATR(), baseRules(), DefaultConfig()
	p1, err := Build(atr, dec("1000"), rules, cfg, 7)
	require.NoError(t, err)
	p2, err := Build(atr, dec("1000"), rules, cfg, 7)
	require.NoError(t, err)
	assert.Equal(t, p1, p2, "Build is not pure")
}

func TestBuildRespectsMinNotionalAfterAdaptation(t *testing.T) {
	atr, rules, cfg := baseATR(), baseRules(), DefaultConfig()
	// A high max_open_orders leaves the level count unclamped (38 levels at
	// the initial 0.0026 spacing), and a balance of 10 gives only 112/38 per
	// level, so self-adaptation must widen spacing / shrink levels until
	// notional_per_level clears min_notional.
	cfg.MaxOpenOrders = 100
	p, err := Build(atr, dec("10"), rules, cfg, 1)
	require.NoError(t, err)
	assert.True(t, p.Spacing.GreaterThan(dec("0.0026")), "expected adaptation to widen spacing, got %s", p.Spacing)
	assert.False(t, p.NotionalPerLevel.LessThan(rules.MinNotional), "notional_per_level %s below min_notional %s", p.NotionalPerLevel, rules.MinNotional)
}

func TestBuildInfeasibleWhenBalanceTooSmall(t *testing.T) {
	atr, rules, cfg := baseATR(), baseRules(), DefaultConfig()
	_, err := Build(atr, dec("0.01"), rules, cfg, 1)
	require.Error(t, err, "expected InfeasiblePlan for a near-zero balance")
	assert.ErrorIs(t, err, apperrors.ErrInfeasiblePlan)
}

func TestBuildUsableLeverageAtLeastOne(t *testing.T) {
	atr, rules, cfg := baseATR(), baseRules(), DefaultConfig()
	p, err := Build(atr, dec("1000"), rules, cfg, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.UsableLeverage, 1)
}

func TestBuildCapsAtExchangeBracketLeverage(t *testing.T) {
	atr := baseATR()
	rules := baseRules()
	// Exchange caps this notional tier at 10x even though the configured
	// ceiling (max_leverage_limit) is 20x (spec §8 scenario 5).
	rules.Brackets = []model.LeverageBracket{
		{NotionalFloor: dec("0"), NotionalCap: dec("1000000"), MaintenanceMarginRatio: dec("0.004"), MaxLeverage: 10},
	}
	cfg := DefaultConfig()

	p, err := Build(atr, dec("1000"), rules, cfg, 1)
	require.NoError(t, err, "expected a feasible plan")
	assert.LessOrEqual(t, p.UsableLeverage, 10, "usable_leverage must not exceed the bracket's max_leverage 10")
	assert.False(t, p.NotionalPerLevel.LessThan(rules.MinNotional), "notional_per_level %s must still clear min_notional after the leverage cut", p.NotionalPerLevel)
}

func TestBuildLevelsCountClamp(t *testing.T) {
	atr := baseATR()
	rules := baseRules()
	cfg := DefaultConfig()
	cfg.MaxOpenOrders = 2

	p, err := Build(atr, dec("100000"), rules, cfg, 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, p.LevelsCount, cfg.MaxOpenOrders*2, "levels_count must be clamped to max_open_orders*2")
}

func TestBuildRejectsInvertedChannel(t *testing.T) {
	atr := baseATR()
	atr.UpperBound, atr.LowerBound = atr.LowerBound, atr.UpperBound
	_, err := Build(atr, dec("1000"), baseRules(), DefaultConfig(), 1)
	assert.ErrorIs(t, err, apperrors.ErrInfeasiblePlan)
}
