// Package exchange declares the uniform ExchangeSession API every account
// is driven through (spec §4.1). Concrete adapters (internal/exchange/binance,
// internal/exchange/mock) implement this interface; the rest of the engine
// never imports an adapter package directly.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"hedgegrid/internal/model"
)

// UserEvent is anything the private user stream can deliver.
type UserEvent interface{ isUserEvent() }

// OrderEvent wraps an OrderUpdate as a UserEvent.
type OrderEvent struct{ Update model.OrderUpdate }

func (OrderEvent) isUserEvent() {}

// BalanceEvent wraps a BalanceUpdate as a UserEvent.
type BalanceEvent struct{ Update model.BalanceUpdate }

func (BalanceEvent) isUserEvent() {}

// PositionEvent wraps a PositionUpdate as a UserEvent.
type PositionEvent struct{ Update model.PositionUpdate }

func (PositionEvent) isUserEvent() {}

// ResyncEvent is the synthetic event emitted after the user stream
// reconnects; consumers must reconcile via a snapshot query (spec §4.1,
// §7 StreamDisconnect, §8 scenario 4).
type ResyncEvent struct{ Resync model.Resync }

func (ResyncEvent) isUserEvent() {}

// Session is the uniform API over one exchange account (spec §4.1). All
// price/qty arguments must already be snapped to tick/lot by the caller;
// the session does not re-snap them. Implementations surface exchange
// rejections as *apperrors.ExchangeRejectedError and anything transient as
// apperrors.ErrTransient / apperrors.ErrTimeout.
type Session interface {
	// PlaceLimitOrder places a single resting limit order.
	PlaceLimitOrder(ctx context.Context, symbol string, side model.OrderSide, qty, price decimal.Decimal, action model.PositionAction, clientID string) (model.TrackedOrder, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAll(ctx context.Context, symbol string) error
	OpenOrders(ctx context.Context, symbol string) ([]model.TrackedOrder, error)
	Positions(ctx context.Context, symbol string) (model.AccountStatus, error)
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetPositionMode(ctx context.Context, hedge bool) error

	// SubscribeUserStream delivers order/balance/position updates and
	// Resync events. It is self-healing: on disconnect it reconnects with
	// exponential backoff and re-keys authentication, emitting a
	// ResyncEvent once the reconnect completes.
	SubscribeUserStream(ctx context.Context) (<-chan UserEvent, error)

	// SubscribeBookTicker streams best bid/ask for the symbol.
	SubscribeBookTicker(ctx context.Context, symbol string) (<-chan model.BookTicker, error)

	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error)
	SymbolRules(ctx context.Context, symbol string) (model.SymbolRules, error)

	// Name identifies the adapter for logging ("binance", "mock", ...).
	Name() string
}
