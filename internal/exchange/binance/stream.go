package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"hedgegrid/internal/exchange"
	"hedgegrid/internal/model"
)

// reconnect bounds, spec §4.1 "self-healing user stream".
const (
	minReconnectBackoff = 1 * time.Second
	maxReconnectBackoff = 30 * time.Second
)

// SubscribeBookTicker streams best bid/ask, reconnecting with backoff on
// disconnect. It never emits a Resync event: book ticker is stateless, a
// fresh snapshot on reconnect is already the whole truth.
func (s *Session) SubscribeBookTicker(ctx context.Context, symbol string) (<-chan model.BookTicker, error) {
	out := make(chan model.BookTicker, 64)

	go func() {
		defer close(out)
		backoff := minReconnectBackoff
		for ctx.Err() == nil {
			stopC, errC, err := s.dialBookTicker(ctx, symbol, out)
			if err != nil {
				s.logger.Warn("book ticker dial failed", "error", err.Error())
				if !sleepBackoff(ctx, &backoff) {
					return
				}
				continue
			}
			backoff = minReconnectBackoff

			select {
			case <-ctx.Done():
				close(stopC)
				return
			case err := <-errC:
				s.logger.Warn("book ticker stream dropped", "error", errStr(err))
				if !sleepBackoff(ctx, &backoff) {
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *Session) dialBookTicker(ctx context.Context, symbol string, out chan<- model.BookTicker) (chan struct{}, chan error, error) {
	handler := func(event *futures.WsBookTickerEvent) {
		bid, errBid := decimal.NewFromString(event.BestBidPrice)
		ask, errAsk := decimal.NewFromString(event.BestAskPrice)
		if errBid != nil || errAsk != nil {
			return
		}
		select {
		case out <- model.BookTicker{BestBid: bid, BestAsk: ask, Time: time.Now()}:
		case <-ctx.Done():
		}
	}
	errHandler := func(err error) {}

	stopC, doneC, err := futures.WsBookTickerServe(symbol, handler, errHandler)
	if err != nil {
		return nil, nil, err
	}

	errC := make(chan error, 1)
	go func() {
		<-doneC
		errC <- fmt.Errorf("book ticker stream closed")
	}()
	return stopC, errC, nil
}

// SubscribeUserStream streams order/balance/position updates, re-keying the
// listen key and emitting a ResyncEvent after every reconnect so consumers
// reconcile local state via a snapshot query rather than trust any gap in
// the buffered deltas (spec §4.1, §7 StreamDisconnect).
func (s *Session) SubscribeUserStream(ctx context.Context) (<-chan exchange.UserEvent, error) {
	out := make(chan exchange.UserEvent, 256)

	go func() {
		defer close(out)
		backoff := minReconnectBackoff
		first := true
		for ctx.Err() == nil {
			listenKey, err := s.client.NewStartUserStreamService().Do(ctx)
			if err != nil {
				s.logger.Warn("listen key creation failed", "error", err.Error())
				if !sleepBackoff(ctx, &backoff) {
					return
				}
				continue
			}

			keepAlive, cancelKeepAlive := s.keepAliveListenKey(ctx, listenKey)

			stopC, errC, err := s.dialUserStream(ctx, listenKey, out)
			if err != nil {
				cancelKeepAlive()
				s.logger.Warn("user stream dial failed", "error", err.Error())
				if !sleepBackoff(ctx, &backoff) {
					return
				}
				continue
			}
			backoff = minReconnectBackoff

			if !first {
				select {
				case out <- exchange.ResyncEvent{Resync: model.Resync{Time: time.Now()}}:
				case <-ctx.Done():
				}
			}
			first = false

			select {
			case <-ctx.Done():
				close(stopC)
				cancelKeepAlive()
				<-keepAlive
				return
			case err := <-errC:
				s.logger.Warn("user stream dropped", "error", errStr(err))
				cancelKeepAlive()
				<-keepAlive
				if !sleepBackoff(ctx, &backoff) {
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *Session) keepAliveListenKey(ctx context.Context, listenKey string) (<-chan struct{}, context.CancelFunc) {
	keepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-keepCtx.Done():
				return
			case <-ticker.C:
				if err := s.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(keepCtx); err != nil {
					s.logger.Warn("listen key keepalive failed", "error", err.Error())
				}
			}
		}
	}()
	return done, cancel
}

func (s *Session) dialUserStream(ctx context.Context, listenKey string, out chan<- exchange.UserEvent) (chan struct{}, chan error, error) {
	handler := func(event *futures.WsUserDataEvent) {
		s.dispatchUserEvent(ctx, event, out)
	}
	errHandler := func(err error) {}

	stopC, doneC, err := futures.WsUserDataServe(listenKey, handler, errHandler)
	if err != nil {
		return nil, nil, err
	}

	errC := make(chan error, 1)
	go func() {
		<-doneC
		errC <- fmt.Errorf("user data stream closed")
	}()
	return stopC, errC, nil
}

func (s *Session) dispatchUserEvent(ctx context.Context, event *futures.WsUserDataEvent, out chan<- exchange.UserEvent) {
	send := func(ev exchange.UserEvent) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	switch event.Event {
	case futures.UserDataEventTypeOrderTradeUpdate:
		u := event.OrderTradeUpdate
		filled, _ := decimal.NewFromString(u.AccumulativeFilledQty)
		avg, _ := decimal.NewFromString(u.AveragePrice)
		send(exchange.OrderEvent{Update: model.OrderUpdate{
			ExchangeOrderID: fmt.Sprintf("%d", u.ID),
			ClientOrderID:   u.ClientOrderID,
			Symbol:          u.Symbol,
			Side:            sideFromBinance(futures.SideType(u.Side)),
			Status:          mapStatus(string(u.Status)),
			FilledQty:       filled,
			AvgFillPrice:    avg,
			UpdateTime:      time.Now(),
		}})
	case futures.UserDataEventTypeAccountUpdate:
		for _, b := range event.AccountUpdate.Balances {
			bal, _ := decimal.NewFromString(b.Balance)
			send(exchange.BalanceEvent{Update: model.BalanceUpdate{
				Asset:   b.Asset,
				Balance: bal,
				Time:    time.Now(),
			}})
		}
		for _, p := range event.AccountUpdate.Positions {
			amt, _ := decimal.NewFromString(p.Amount)
			entry, _ := decimal.NewFromString(p.EntryPrice)
			pnl, _ := decimal.NewFromString(p.UnrealizedPnL)
			send(exchange.PositionEvent{Update: model.PositionUpdate{
				Symbol:        p.Symbol,
				Size:          amt,
				EntryPrice:    entry,
				UnrealizedPnL: pnl,
				Time:          time.Now(),
			}})
		}
	}
}

func sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
	}
	next := *backoff * 2
	if next > maxReconnectBackoff {
		next = maxReconnectBackoff
	}
	*backoff = next
	return true
}

func errStr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
