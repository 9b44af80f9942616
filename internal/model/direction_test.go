package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestOpenCloseSides(t *testing.T) {
	assert.Equal(t, Buy, OpenSide(Long), "LONG must open with BUY")
	assert.Equal(t, Sell, CloseSide(Long), "LONG must close with SELL")
	assert.Equal(t, Sell, OpenSide(Short), "SHORT must open with SELL")
	assert.Equal(t, Buy, CloseSide(Short), "SHORT must close with BUY")
}

func TestClosePrice(t *testing.T) {
	entry := dec("1.00000")
	spacing := dec("0.00260")

	long := ClosePrice(Long, entry, spacing)
	assert.True(t, long.Equal(dec("1.00260")), "LONG close price = %s, want 1.00260", long)

	short := ClosePrice(Short, entry, spacing)
	assert.True(t, short.Equal(dec("0.99740")), "SHORT close price = %s, want 0.99740", short)
}

func TestCrossingCheckPullsBackWhenCrossing(t *testing.T) {
	bid, ask := dec("1.00000"), dec("1.00010")
	nudge := dec("0.00005")

	// LONG candidate at or above the ask would cross; must pull under bid.
	got := CrossingCheck(Long, dec("1.00010"), bid, ask, nudge)
	assert.True(t, got.Equal(bid.Sub(nudge)), "expected pulled-back price %s, got %s", bid.Sub(nudge), got)

	// LONG candidate comfortably below the ask is untouched.
	got = CrossingCheck(Long, dec("0.99990"), bid, ask, nudge)
	assert.True(t, got.Equal(dec("0.99990")), "expected unchanged price, got %s", got)

	// SHORT candidate at or below the bid would cross; must push above ask.
	got = CrossingCheck(Short, dec("1.00000"), bid, ask, nudge)
	assert.True(t, got.Equal(ask.Add(nudge)), "expected pushed price %s, got %s", ask.Add(nudge), got)
}

func TestLeverageBracketFor(t *testing.T) {
	rules := SymbolRules{
		Brackets: []LeverageBracket{
			{NotionalFloor: dec("0"), NotionalCap: dec("10000"), MaintenanceMarginRatio: dec("0.004"), MaxLeverage: 20},
			{NotionalFloor: dec("10000"), NotionalCap: dec("50000"), MaintenanceMarginRatio: dec("0.01"), MaxLeverage: 10},
		},
	}

	b, ok := rules.BracketFor(dec("5000"))
	assert.True(t, ok)
	assert.Equal(t, 20, b.MaxLeverage)

	b, ok = rules.BracketFor(dec("20000"))
	assert.True(t, ok)
	assert.Equal(t, 10, b.MaxLeverage)

	b, ok = rules.BracketFor(dec("1000000"))
	assert.True(t, ok, "expected fallback to last bracket")
	assert.Equal(t, 10, b.MaxLeverage)
}
