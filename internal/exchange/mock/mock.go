// Package mock implements exchange.Session in memory, for use by the
// executor/controller tests that need a Session double rather than a live
// Binance connection.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"hedgegrid/internal/exchange"
	"hedgegrid/internal/model"
	"hedgegrid/pkg/apperrors"
)

// Session is an in-memory exchange.Session. Every field access is guarded by
// mu so a test can drive it concurrently from the executor under test and
// from its own assertions.
type Session struct {
	mu sync.Mutex

	name    string
	balance decimal.Decimal
	rules   model.SymbolRules
	candles []model.Candle

	orders    map[string]*model.TrackedOrder // keyed by ClientOrderID
	orderSeq  int64
	positions model.AccountStatus

	userEvents chan exchange.UserEvent
	bookTicker chan model.BookTicker

	// RejectNext, when set, causes the next PlaceLimitOrder call to fail
	// with an ExchangeRejectedError instead of succeeding. Tests use this to
	// drive a GridLevel into FAILED.
	RejectNext bool

	closed int32
}

// New constructs a mock Session with the given starting balance and rules.
func New(name string, balance decimal.Decimal, rules model.SymbolRules) *Session {
	return &Session{
		name:       name,
		balance:    balance,
		rules:      rules,
		orders:     make(map[string]*model.TrackedOrder),
		userEvents: make(chan exchange.UserEvent, 256),
		bookTicker: make(chan model.BookTicker, 256),
	}
}

func (s *Session) Name() string { return s.name }

// SeedCandles lets a test control what FetchOHLCV returns.
func (s *Session) SeedCandles(candles []model.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = candles
}

func (s *Session) PlaceLimitOrder(ctx context.Context, symbol string, side model.OrderSide, qty, price decimal.Decimal, action model.PositionAction, clientID string) (model.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.RejectNext {
		s.RejectNext = false
		return model.TrackedOrder{}, &apperrors.ExchangeRejectedError{Code: "TEST", Message: "forced rejection"}
	}

	s.orderSeq++
	order := &model.TrackedOrder{
		ExchangeOrderID: fmt.Sprintf("mock-%d", s.orderSeq),
		ClientOrderID:   clientID,
		Side:            side,
		IntendedPrice:   price,
		IntendedQty:     qty,
		Status:          model.StatusNew,
		PlacedAt:        time.Now(),
	}
	s.orders[clientID] = order

	out := *order
	return out, nil
}

func (s *Session) CancelOrder(ctx context.Context, symbol, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.orders {
		if o.ClientOrderID == orderID || o.ExchangeOrderID == orderID {
			o.Status = model.StatusCanceled
			delete(s.orders, id)
			return nil
		}
	}
	return nil
}

func (s *Session) CancelAll(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[string]*model.TrackedOrder)
	return nil
}

func (s *Session) OpenOrders(ctx context.Context, symbol string) ([]model.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TrackedOrder, 0, len(s.orders))
	for _, o := range s.orders {
		if o.Status == model.StatusNew || o.Status == model.StatusPartiallyFilled {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *Session) Positions(ctx context.Context, symbol string) (model.AccountStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.positions
	status.Balance = s.balance
	status.Connected = true
	status.LastHeartbeat = time.Now()
	return status, nil
}

func (s *Session) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// SetBalance lets a test simulate a fill's effect on wallet balance.
func (s *Session) SetBalance(balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = balance
}

func (s *Session) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }

func (s *Session) SetPositionMode(ctx context.Context, hedge bool) error { return nil }

func (s *Session) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.candles) == 0 {
		return nil, fmt.Errorf("mock session has no seeded candles")
	}
	if limit > 0 && limit < len(s.candles) {
		return s.candles[len(s.candles)-limit:], nil
	}
	return s.candles, nil
}

func (s *Session) SymbolRules(ctx context.Context, symbol string) (model.SymbolRules, error) {
	return s.rules, nil
}

func (s *Session) SubscribeUserStream(ctx context.Context) (<-chan exchange.UserEvent, error) {
	return s.userEvents, nil
}

func (s *Session) SubscribeBookTicker(ctx context.Context, symbol string) (<-chan model.BookTicker, error) {
	return s.bookTicker, nil
}

// PushOrderFill lets a test simulate the user stream reporting a fill.
func (s *Session) PushOrderFill(clientID string, filledQty, avgPrice decimal.Decimal) {
	s.mu.Lock()
	order, ok := s.orders[clientID]
	if ok {
		order.Status = model.StatusFilled
		order.FilledQty = filledQty
		order.AvgFillPrice = avgPrice
	}
	s.mu.Unlock()

	if atomic.LoadInt32(&s.closed) == 1 {
		return
	}
	s.userEvents <- exchange.OrderEvent{Update: model.OrderUpdate{
		ClientOrderID: clientID,
		Status:        model.StatusFilled,
		FilledQty:     filledQty,
		AvgFillPrice:  avgPrice,
		UpdateTime:    time.Now(),
	}}
}

// PushBookTicker lets a test drive the public book stream directly.
func (s *Session) PushBookTicker(bid, ask decimal.Decimal) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return
	}
	s.bookTicker <- model.BookTicker{BestBid: bid, BestAsk: ask, Time: time.Now()}
}

// PushResync lets a test simulate a stream reconnect.
func (s *Session) PushResync() {
	if atomic.LoadInt32(&s.closed) == 1 {
		return
	}
	s.userEvents <- exchange.ResyncEvent{Resync: model.Resync{Time: time.Now()}}
}

// Close stops accepting pushes and closes the event channels.
func (s *Session) Close() {
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		close(s.userEvents)
		close(s.bookTicker)
	}
}

var _ exchange.Session = (*Session)(nil)
