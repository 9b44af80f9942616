package decimalutil

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSnapPriceDown(t *testing.T) {
	got := SnapPriceDown(d("1.23456"), d("0.00001"))
	assert.True(t, got.Equal(d("1.23456")), "expected exact tick to be unchanged, got %s", got)

	got = SnapPriceDown(d("1.234567"), d("0.00001"))
	assert.True(t, got.Equal(d("1.23456")), "expected floor to 1.23456, got %s", got)
}

func TestSnapPriceUp(t *testing.T) {
	got := SnapPriceUp(d("1.234561"), d("0.00001"))
	assert.True(t, got.Equal(d("1.23457")), "expected ceil to 1.23457, got %s", got)
}

func TestSnapIdempotent(t *testing.T) {
	once := SnapPriceDown(d("1.234567"), d("0.00001"))
	twice := SnapPriceDown(once, d("0.00001"))
	assert.True(t, once.Equal(twice), "snapping twice should equal snapping once: %s vs %s", once, twice)

	q1 := SnapQtyDown(d("10.7"), d("1"))
	q2 := SnapQtyDown(q1, d("1"))
	assert.True(t, q1.Equal(q2), "qty snap not idempotent: %s vs %s", q1, q2)
}

func TestQuantityForNotionalRespectsMinNotional(t *testing.T) {
	qty := QuantityForNotional(d("10"), d("1.00000"), d("1"), d("6"))
	assert.False(t, qty.LessThan(d("6")), "quantity %s should clear min notional", qty)

	notional := qty.Mul(d("1.00000"))
	assert.False(t, notional.LessThan(d("6")), "resulting notional %s below min_notional", notional)
}

func TestQuantityForNotionalZeroPrice(t *testing.T) {
	qty := QuantityForNotional(d("10"), decimal.Zero, d("1"), d("6"))
	assert.True(t, qty.IsZero(), "expected zero quantity for zero price, got %s", qty)
}
