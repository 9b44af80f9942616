// Package binance implements exchange.Session over Binance USDⓈ-M futures,
// using the same SDK the teacher pack reaches for (github.com/adshao/go-binance/v2)
// plus an internal rate limiter and retry wrapper so "callers may assume
// calls will eventually succeed or fail deterministically" (spec §4.1)
// holds in practice, not just by convention.
package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"hedgegrid/internal/exchange"
	"hedgegrid/internal/model"
	"hedgegrid/pkg/apperrors"
	"hedgegrid/pkg/logging"
	"hedgegrid/pkg/retry"
)

// Session is the Binance USDⓈ-M futures adapter.
type Session struct {
	client *futures.Client
	logger logging.Logger

	// Rate limiting is internal and transparent (spec §4.1): every REST
	// call acquires a token before it is sent.
	limiter *rate.Limiter

	retryPolicy *retry.Policy
	callTimeout time.Duration
}

// Config holds the credentials and tunables for one Binance session.
type Config struct {
	APIKey     string
	APISecret  string
	BaseURL    string // optional override, mainly for testnets
	RateLimit  float64
	RateBurst  int
	CallTimeout time.Duration
}

// New constructs a Session. It does not perform any network calls.
func New(cfg Config, logger logging.Logger) *Session {
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 20 // conservative default, well under Binance's weight budget
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 30
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second // spec §5: every exchange call has a bounded timeout, default 10s
	}

	return &Session{
		client:      client,
		logger:      logger.WithField("exchange", "binance"),
		limiter:     rate.NewLimiter(rate.Limit(limit), burst),
		retryPolicy: retry.New(retry.DefaultConfig, apperrors.IsTransient),
		callTimeout: timeout,
	}
}

func (s *Session) Name() string { return "binance" }

// call wraps one REST round trip with rate limiting, a bounded timeout and
// bounded retry of transient failures, per spec §4.1 and §7.
func (s *Session) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	return s.retryPolicy.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if callCtx.Err() != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		return classifyError(err)
	})
}

// classifyError maps a raw SDK error onto the taxonomy in spec §7. Binance
// returns a structured {code, msg} body on rejection; anything else (a
// transport error, a 5xx) is treated as transient and left to the retry
// wrapper in call().
func classifyError(err error) error {
	if apiErr, ok := err.(*futures.APIError); ok {
		switch {
		case apiErr.Code <= -1000 && apiErr.Code > -1100:
			// -1000..-1099: server/network-adjacent errors Binance itself
			// classifies as retryable.
			return fmt.Errorf("%w: %s", apperrors.ErrTransient, apiErr.Message)
		default:
			return &apperrors.ExchangeRejectedError{
				Code:    fmt.Sprintf("%d", apiErr.Code),
				Message: apiErr.Message,
			}
		}
	}
	return fmt.Errorf("%w: %v", apperrors.ErrTransient, err)
}

func sideToBinance(side model.OrderSide) futures.SideType {
	if side == model.Buy {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func positionSideFor(side model.OrderSide, action model.PositionAction) futures.PositionSideType {
	// Hedge mode: opening follows the order side; closing targets the
	// position the order side implies it is closing.
	isBuyOpen := side == model.Buy && action == model.Open
	isSellClose := side == model.Sell && action == model.Close
	if isBuyOpen || isSellClose {
		return futures.PositionSideTypeLong
	}
	return futures.PositionSideTypeShort
}

func (s *Session) PlaceLimitOrder(ctx context.Context, symbol string, side model.OrderSide, qty, price decimal.Decimal, action model.PositionAction, clientID string) (model.TrackedOrder, error) {
	var result *futures.CreateOrderResponse
	err := s.call(ctx, func(ctx context.Context) error {
		svc := s.client.NewCreateOrderService().
			Symbol(symbol).
			Side(sideToBinance(side)).
			PositionSide(positionSideFor(side, action)).
			Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Quantity(qty.String()).
			Price(price.String()).
			NewClientOrderID(clientID)
		resp, err := svc.Do(ctx)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})
	if err != nil {
		return model.TrackedOrder{}, err
	}

	return model.TrackedOrder{
		ExchangeOrderID: fmt.Sprintf("%d", result.OrderID),
		ClientOrderID:   result.ClientOrderID,
		Side:            side,
		IntendedPrice:   price,
		IntendedQty:     qty,
		Status:          mapStatus(string(result.Status)),
		PlacedAt:        time.Now(),
	}, nil
}

func (s *Session) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return s.call(ctx, func(ctx context.Context) error {
		_, err := s.client.NewCancelOrderService().Symbol(symbol).OrigClientOrderID(orderID).Do(ctx)
		return err
	})
}

func (s *Session) CancelAll(ctx context.Context, symbol string) error {
	return s.call(ctx, func(ctx context.Context) error {
		return s.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
	})
}

func (s *Session) OpenOrders(ctx context.Context, symbol string) ([]model.TrackedOrder, error) {
	var orders []*futures.Order
	err := s.call(ctx, func(ctx context.Context) error {
		o, err := s.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		orders = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.TrackedOrder, 0, len(orders))
	for _, o := range orders {
		price, _ := decimal.NewFromString(o.Price)
		qty, _ := decimal.NewFromString(o.OrigQuantity)
		filled, _ := decimal.NewFromString(o.ExecutedQuantity)
		avg, _ := decimal.NewFromString(o.AvgPrice)
		out = append(out, model.TrackedOrder{
			ExchangeOrderID: fmt.Sprintf("%d", o.OrderID),
			ClientOrderID:   o.ClientOrderID,
			Side:            sideFromBinance(o.Side),
			IntendedPrice:   price,
			IntendedQty:     qty,
			FilledQty:       filled,
			AvgFillPrice:    avg,
			Status:          mapStatus(string(o.Status)),
		})
	}
	return out, nil
}

func (s *Session) Positions(ctx context.Context, symbol string) (model.AccountStatus, error) {
	var account *futures.Account
	err := s.call(ctx, func(ctx context.Context) error {
		a, err := s.client.NewGetAccountService().Do(ctx)
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return model.AccountStatus{}, err
	}

	status := model.AccountStatus{Connected: true, LastHeartbeat: time.Now()}
	for _, pos := range account.Positions {
		if pos.Symbol != symbol {
			continue
		}
		amt, _ := decimal.NewFromString(pos.PositionAmt)
		entry, _ := decimal.NewFromString(pos.EntryPrice)
		upnl, _ := decimal.NewFromString(pos.UnrealizedProfit)
		status.PositionSize = status.PositionSize.Add(amt.Abs())
		status.EntryPrice = entry
		status.UnrealizedPnL = status.UnrealizedPnL.Add(upnl)
	}
	total, _ := decimal.NewFromString(account.TotalWalletBalance)
	maint, _ := decimal.NewFromString(account.TotalMaintMargin)
	status.Balance = total
	if !total.IsZero() {
		status.MarginRatio = maint.Div(total)
	}
	return status, nil
}

func (s *Session) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var balances []*futures.Balance
	err := s.call(ctx, func(ctx context.Context) error {
		b, err := s.client.NewGetBalanceService().Do(ctx)
		if err != nil {
			return err
		}
		balances = b
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return decimal.NewFromString(b.Balance)
		}
	}
	return decimal.Zero, fmt.Errorf("asset %s not found in balance response", asset)
}

func (s *Session) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return s.call(ctx, func(ctx context.Context) error {
		_, err := s.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		return err
	})
}

func (s *Session) SetPositionMode(ctx context.Context, hedge bool) error {
	return s.call(ctx, func(ctx context.Context) error {
		return s.client.NewChangePositionModeService().DualSide(hedge).Do(ctx)
	})
}

func (s *Session) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	var klines []*futures.Kline
	err := s.call(ctx, func(ctx context.Context) error {
		k, err := s.client.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
		if err != nil {
			return err
		}
		klines = k
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := decimal.NewFromString(k.Open)
		high, _ := decimal.NewFromString(k.High)
		low, _ := decimal.NewFromString(k.Low)
		closeP, _ := decimal.NewFromString(k.Close)
		out = append(out, model.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closeP,
		})
	}
	return out, nil
}

func (s *Session) SymbolRules(ctx context.Context, symbol string) (model.SymbolRules, error) {
	var info *futures.ExchangeInfo
	err := s.call(ctx, func(ctx context.Context) error {
		i, err := s.client.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return err
		}
		info = i
		return nil
	})
	if err != nil {
		return model.SymbolRules{}, err
	}

	var symInfo *futures.Symbol
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == symbol {
			symInfo = &info.Symbols[i]
			break
		}
	}
	if symInfo == nil {
		return model.SymbolRules{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
	}

	rules := model.SymbolRules{Symbol: symbol, MaxLeverageLimit: 125}
	for _, f := range symInfo.Filters {
		switch f["filterType"] {
		case "PRICE_FILTER":
			if tick, ok := f["tickSize"].(string); ok {
				rules.TickSize, _ = decimal.NewFromString(tick)
			}
		case "LOT_SIZE":
			if lot, ok := f["stepSize"].(string); ok {
				rules.LotSize, _ = decimal.NewFromString(lot)
			}
		case "MIN_NOTIONAL":
			if mn, ok := f["notional"].(string); ok {
				rules.MinNotional, _ = decimal.NewFromString(mn)
			}
		}
	}

	brackets, err := s.leverageBrackets(ctx, symbol)
	if err != nil {
		return model.SymbolRules{}, err
	}
	rules.Brackets = brackets
	return rules, nil
}

func (s *Session) leverageBrackets(ctx context.Context, symbol string) ([]model.LeverageBracket, error) {
	var resp []*futures.SymbolBrackets
	err := s.call(ctx, func(ctx context.Context) error {
		b, err := s.client.NewNotionalBracketService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		resp = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []model.LeverageBracket
	for _, sb := range resp {
		if sb.Symbol != symbol {
			continue
		}
		for _, b := range sb.Brackets {
			out = append(out, model.LeverageBracket{
				NotionalFloor:          decimal.NewFromInt(int64(b.NotionalFloor)),
				NotionalCap:            decimal.NewFromInt(int64(b.NotionalCap)),
				MaintenanceMarginRatio: decimal.NewFromFloat(b.MaintMarginRatio),
				MaxLeverage:            b.InitialLeverage,
			})
		}
	}
	return out, nil
}

func mapStatus(raw string) model.OrderStatus {
	switch raw {
	case "NEW":
		return model.StatusNew
	case "PARTIALLY_FILLED":
		return model.StatusPartiallyFilled
	case "FILLED":
		return model.StatusFilled
	case "CANCELED", "EXPIRED":
		return model.StatusCanceled
	case "REJECTED":
		return model.StatusRejected
	default:
		return model.StatusUnknown
	}
}

func sideFromBinance(side futures.SideType) model.OrderSide {
	if side == futures.SideTypeBuy {
		return model.Buy
	}
	return model.Sell
}

var _ exchange.Session = (*Session)(nil)
