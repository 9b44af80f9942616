// Package model holds the data types shared by the grid engine, the
// executors and the exchange adapters. Nothing in this package talks to a
// network or a clock; it is pure data plus the small pure functions that
// keep the LONG/SHORT duality out of the state machine.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction identifies which side of the hedge an executor drives. The
// duality between LONG and SHORT is handled by a tag plus free functions,
// never by inheritance (spec-ordained: "compose, do not inherit").
type Direction int

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	if d == Long {
		return "LONG"
	}
	return "SHORT"
}

// OrderSide is the side sent to the exchange, independent of Direction.
type OrderSide int

const (
	Buy OrderSide = iota
	Sell
)

func (s OrderSide) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// PositionAction tells the exchange whether an order opens or closes a
// position, which matters in hedge mode where both can exist simultaneously.
type PositionAction int

const (
	Open PositionAction = iota
	Close
)

// OpenSide returns the side used to open a position for the given direction.
func OpenSide(dir Direction) OrderSide {
	if dir == Long {
		return Buy
	}
	return Sell
}

// CloseSide returns the side used to close a position for the given direction.
func CloseSide(dir Direction) OrderSide {
	if dir == Long {
		return Sell
	}
	return Buy
}

// ClosePrice computes the take-profit price for a filled entry, anchored on
// the actual average fill price rather than the nominal level price so
// realized spread equals the configured spacing regardless of slippage.
func ClosePrice(dir Direction, entryPrice, spacing decimal.Decimal) decimal.Decimal {
	if dir == Long {
		return entryPrice.Add(spacing)
	}
	return entryPrice.Sub(spacing)
}

// CrossingCheck nudges a candidate open price away from the book so a
// resting limit order does not immediately cross and fill as a taker. It
// returns the price to actually place the order at.
func CrossingCheck(dir Direction, candidate, bestBid, bestAsk, safeExtraSpread decimal.Decimal) decimal.Decimal {
	if dir == Long {
		// BUY must rest below the ask; if placing at candidate would cross
		// (candidate >= bestAsk), pull it back under the bid instead.
		if !bestAsk.IsZero() && candidate.GreaterThanOrEqual(bestAsk) {
			adjusted := bestBid.Sub(safeExtraSpread)
			if adjusted.LessThan(candidate) {
				return adjusted
			}
		}
		return candidate
	}
	// SHORT: SELL must rest above the bid.
	if !bestBid.IsZero() && candidate.LessThanOrEqual(bestBid) {
		adjusted := bestAsk.Add(safeExtraSpread)
		if adjusted.GreaterThan(candidate) {
			return adjusted
		}
	}
	return candidate
}

// LeverageBracket maps a notional tier to its maintenance margin ratio and
// the exchange's maximum allowed leverage for that tier.
type LeverageBracket struct {
	NotionalFloor          decimal.Decimal
	NotionalCap            decimal.Decimal
	MaintenanceMarginRatio decimal.Decimal
	MaxLeverage            int
}

// Contains reports whether a notional value falls within this bracket.
func (b LeverageBracket) Contains(notional decimal.Decimal) bool {
	return notional.GreaterThanOrEqual(b.NotionalFloor) && notional.LessThan(b.NotionalCap)
}

// SymbolRules are the immutable-per-run exchange filters for one symbol.
type SymbolRules struct {
	Symbol           string
	TickSize         decimal.Decimal
	LotSize          decimal.Decimal
	MinNotional      decimal.Decimal
	MaxLeverageLimit int
	Brackets         []LeverageBracket
}

// BracketFor returns the leverage bracket covering the given notional, or
// the last (highest) bracket if the notional exceeds every floor/cap pair.
func (r SymbolRules) BracketFor(notional decimal.Decimal) (LeverageBracket, bool) {
	for _, b := range r.Brackets {
		if b.Contains(notional) {
			return b, true
		}
	}
	if len(r.Brackets) > 0 {
		return r.Brackets[len(r.Brackets)-1], true
	}
	return LeverageBracket{}, false
}

// ATRResult is the output of the volatility channel computation.
type ATRResult struct {
	ATR         decimal.Decimal
	UpperBound  decimal.Decimal
	LowerBound  decimal.Decimal
	ComputedAt  time.Time
}

// GridPlan is the single immutable source of truth both executors read
// from within one epoch. It is published by value; replacing it is always
// a whole-executor reset, never an in-place edit.
type GridPlan struct {
	EpochID          int64
	Upper            decimal.Decimal
	Lower            decimal.Decimal
	Spacing          decimal.Decimal
	LevelsCount      int
	NotionalPerLevel decimal.Decimal
	UsableLeverage   int
	StopUpper        decimal.Decimal
	StopLower        decimal.Decimal
	ComputedAt       time.Time
}

// Mid returns the midpoint of the plan's channel.
func (p GridPlan) Mid() decimal.Decimal {
	return p.Upper.Add(p.Lower).Div(decimal.NewFromInt(2))
}

// LevelState is a GridLevel's position in its lifecycle state machine.
type LevelState int

const (
	NotActive LevelState = iota
	OpenOrderPlaced
	OpenOrderFilled
	CloseOrderPlaced
	Complete
	Failed
)

func (s LevelState) String() string {
	switch s {
	case NotActive:
		return "NOT_ACTIVE"
	case OpenOrderPlaced:
		return "OPEN_ORDER_PLACED"
	case OpenOrderFilled:
		return "OPEN_ORDER_FILLED"
	case CloseOrderPlaced:
		return "CLOSE_ORDER_PLACED"
	case Complete:
		return "COMPLETE"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// TrackedOrder mirrors one order the executor has placed and is following.
type TrackedOrder struct {
	ExchangeOrderID string
	ClientOrderID   string
	LevelID         int
	Side            OrderSide
	IntendedPrice   decimal.Decimal
	IntendedQty     decimal.Decimal
	FilledQty       decimal.Decimal
	AvgFillPrice    decimal.Decimal
	Status          OrderStatus
	PlacedAt        time.Time
}

// OrderStatus is the last-seen exchange status for a TrackedOrder.
type OrderStatus int

const (
	StatusNew OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
	StatusRejected
	StatusUnknown
)

// GridLevel is one discrete rung of the ladder.
type GridLevel struct {
	LevelID       int
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	SideAtLevel   Direction
	State         LevelState
	Generation    int
	OpenOrder     *TrackedOrder
	CloseOrder    *TrackedOrder
	FilledAtPrice decimal.Decimal
	FilledQty     decimal.Decimal
	FilledAtTime  time.Time
	LastError     error
	// OpenPlacedAt is the wall-clock time the current open order was
	// placed, used by the stale-order cancellation rule (order_timeout_s).
	OpenPlacedAt time.Time
}

// AccountStatus is a point-in-time snapshot of one exchange session.
type AccountStatus struct {
	Balance        decimal.Decimal
	OpenOrderCount int
	PositionSize   decimal.Decimal
	EntryPrice     decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	MarginRatio    decimal.Decimal
	Connected      bool
	LastHeartbeat  time.Time
}

// Candle is one OHLC bar used by the ATR channel.
type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
}

// BookTicker is a best-bid/best-ask snapshot from the public stream.
type BookTicker struct {
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	Time    time.Time
}

// Mid returns the midpoint of the book ticker.
func (t BookTicker) Mid() decimal.Decimal {
	return t.BestBid.Add(t.BestAsk).Div(decimal.NewFromInt(2))
}

// OrderUpdate is a fill/status change pushed by the private user stream.
type OrderUpdate struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            OrderSide
	Status          OrderStatus
	FilledQty       decimal.Decimal
	AvgFillPrice    decimal.Decimal
	UpdateTime      time.Time
}

// BalanceUpdate is a balance change pushed by the private user stream.
type BalanceUpdate struct {
	Asset   string
	Balance decimal.Decimal
	Time    time.Time
}

// PositionUpdate is a position change pushed by the private user stream.
type PositionUpdate struct {
	Symbol        string
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Time          time.Time
}

// Resync is a synthetic event the user stream emits after it reconnects,
// telling consumers to reconcile local state via a snapshot query rather
// than trust any buffered deltas.
type Resync struct {
	Time time.Time
}
