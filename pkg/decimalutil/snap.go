// Package decimalutil holds the tick/lot snapping helpers every price and
// quantity crosses on its way to or from the order path. Nothing here uses
// binary floats; every value is a shopspring/decimal constructed from a
// string or another decimal.
package decimalutil

import "github.com/shopspring/decimal"

// SnapPriceDown rounds a price down to the nearest tick. Used for BUY limit
// prices, where rounding toward the conservative direction means never
// paying more than intended.
func SnapPriceDown(price, tick decimal.Decimal) decimal.Decimal {
	return snapToward(price, tick, decimal.Decimal.Floor)
}

// SnapPriceUp rounds a price up to the nearest tick. Used for SELL limit
// prices, where rounding toward the conservative direction means never
// selling for less than intended.
func SnapPriceUp(price, tick decimal.Decimal) decimal.Decimal {
	return snapToward(price, tick, decimal.Decimal.Ceil)
}

// SnapQtyDown rounds a quantity down to the nearest lot. Quantities always
// round down regardless of side: an exchange will reject an order sized
// above what the account can actually cover.
func SnapQtyDown(qty, lot decimal.Decimal) decimal.Decimal {
	return snapToward(qty, lot, decimal.Decimal.Floor)
}

func snapToward(value, step decimal.Decimal, round func(decimal.Decimal) decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	units := round(value.Div(step))
	return units.Mul(step)
}

// RoundToTick snaps a price to the nearest tick (not direction-biased);
// used for computed reference prices — the grid spacing and the ladder's
// level prices. A level price is snapped again with SnapPriceDown or
// SnapPriceUp before it is sent as an order price.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	units := price.DivRound(tick, 0)
	return units.Mul(tick)
}

// QuantityForNotional computes quantity = notional/price, snapped down to
// the lot size, and raised to at least minNotional/price if the snap would
// otherwise undercut the exchange's minimum order value.
func QuantityForNotional(notional, price, lot, minNotional decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	qty := SnapQtyDown(notional.Div(price), lot)
	floor := minNotional.Div(price)
	if qty.LessThan(floor) {
		// Round the floor UP to the nearest lot so the resulting notional
		// still clears the minimum after snapping.
		units := floor.Div(lot).Ceil()
		qty = units.Mul(lot)
	}
	return qty
}
