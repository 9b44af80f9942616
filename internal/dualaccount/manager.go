// Package dualaccount implements the DualAccountManager (spec §4.2): the
// component that owns both exchange sessions during lifecycle transitions
// (initialize, pre-flight, unwind) and never touches them on the hot path.
package dualaccount

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"hedgegrid/internal/exchange"
	"hedgegrid/internal/model"
	"hedgegrid/pkg/apperrors"
	"hedgegrid/pkg/logging"
)

// Manager owns the long and short sessions for the lifecycle operations
// that span both accounts. GridExecutor owns each session on the hot path
// (spec §3 "Ownership"); Manager is only invoked at start/stop/unwind.
type Manager struct {
	Long  exchange.Session
	Short exchange.Session

	symbol string
	logger logging.Logger
}

func New(long, short exchange.Session, symbol string, logger logging.Logger) *Manager {
	return &Manager{Long: long, Short: short, symbol: symbol, logger: logger.WithField("component", "dualaccount")}
}

// Initialize validates connectivity, sets hedge position mode on both
// sessions, sets leverage per the plan, and confirms both sessions' symbol
// rules agree (spec §4.2).
func (m *Manager) Initialize(ctx context.Context, leverage int) (model.SymbolRules, error) {
	for _, s := range []exchange.Session{m.Long, m.Short} {
		if err := s.SetPositionMode(ctx, true); err != nil {
			return model.SymbolRules{}, fmt.Errorf("%s: set position mode: %w", s.Name(), err)
		}
		if err := s.SetLeverage(ctx, m.symbol, leverage); err != nil {
			return model.SymbolRules{}, fmt.Errorf("%s: set leverage: %w", s.Name(), err)
		}
	}

	longRules, err := m.Long.SymbolRules(ctx, m.symbol)
	if err != nil {
		return model.SymbolRules{}, fmt.Errorf("long: symbol rules: %w", err)
	}
	shortRules, err := m.Short.SymbolRules(ctx, m.symbol)
	if err != nil {
		return model.SymbolRules{}, fmt.Errorf("short: symbol rules: %w", err)
	}
	if !rulesMatch(longRules, shortRules) {
		return model.SymbolRules{}, fmt.Errorf("%w: symbol rules differ between long and short sessions", apperrors.ErrPreconditionFailed)
	}
	return longRules, nil
}

func rulesMatch(a, b model.SymbolRules) bool {
	return a.TickSize.Equal(b.TickSize) && a.LotSize.Equal(b.LotSize) && a.MinNotional.Equal(b.MinNotional)
}

// PreFlight requires both sessions to be flat (no position, no open
// orders) before the strategy may start. With forceFlatten it cancels and
// closes instead of refusing (spec §4.2).
func (m *Manager) PreFlight(ctx context.Context, forceFlatten bool) error {
	longFlat, err := m.isFlat(ctx, m.Long)
	if err != nil {
		return err
	}
	shortFlat, err := m.isFlat(ctx, m.Short)
	if err != nil {
		return err
	}

	if longFlat && shortFlat {
		return nil
	}
	if !forceFlatten {
		return fmt.Errorf("%w: account not flat at start", apperrors.ErrPreconditionFailed)
	}

	m.logger.Warn("force_flatten_on_start: account not flat, flattening before start")
	if err := m.CancelAll(ctx, m.Long); err != nil {
		return err
	}
	if err := m.CancelAll(ctx, m.Short); err != nil {
		return err
	}
	if err := m.CloseAll(ctx, m.Long); err != nil {
		return err
	}
	return m.CloseAll(ctx, m.Short)
}

func (m *Manager) isFlat(ctx context.Context, s exchange.Session) (bool, error) {
	status, err := s.Positions(ctx, m.symbol)
	if err != nil {
		return false, fmt.Errorf("%s: positions: %w", s.Name(), err)
	}
	if !status.PositionSize.IsZero() {
		return false, nil
	}
	orders, err := s.OpenOrders(ctx, m.symbol)
	if err != nil {
		return false, fmt.Errorf("%s: open orders: %w", s.Name(), err)
	}
	return len(orders) == 0, nil
}

// Balance returns one session's quote-asset balance.
func (m *Manager) Balance(ctx context.Context, s exchange.Session, asset string) (decimal.Decimal, error) {
	return s.Balance(ctx, asset)
}

// BalancesEqualWithin reports whether the two sessions' balances are within
// tolerancePct of each other.
func (m *Manager) BalancesEqualWithin(ctx context.Context, asset string, tolerancePct decimal.Decimal) (bool, error) {
	longBal, err := m.Long.Balance(ctx, asset)
	if err != nil {
		return false, err
	}
	shortBal, err := m.Short.Balance(ctx, asset)
	if err != nil {
		return false, err
	}
	if longBal.IsZero() && shortBal.IsZero() {
		return true, nil
	}
	larger := decimal.Max(longBal, shortBal)
	if larger.IsZero() {
		return true, nil
	}
	diff := longBal.Sub(shortBal).Abs().Div(larger)
	return diff.LessThanOrEqual(tolerancePct), nil
}

// CancelAll is a best-effort, idempotent cancel of every resting order on
// one session.
func (m *Manager) CancelAll(ctx context.Context, s exchange.Session) error {
	if err := s.CancelAll(ctx, m.symbol); err != nil {
		return fmt.Errorf("%s: cancel all: %w", s.Name(), err)
	}
	return nil
}

// CloseAll places a GTC limit order with the Close position action for the
// full residual position on one session, priced at the position's entry
// price. It is not a market order: the order may rest unfilled, and CloseAll
// does not wait for or check its fill. A flat account is a no-op.
func (m *Manager) CloseAll(ctx context.Context, s exchange.Session) error {
	status, err := s.Positions(ctx, m.symbol)
	if err != nil {
		return fmt.Errorf("%s: positions: %w", s.Name(), err)
	}
	if status.PositionSize.IsZero() {
		return nil
	}

	side := model.Sell
	if status.PositionSize.IsNegative() {
		side = model.Buy
	}
	qty := status.PositionSize.Abs()

	_, err = s.PlaceLimitOrder(ctx, m.symbol, side, qty, status.EntryPrice, model.Close, closeAllClientID(s.Name()))
	if err != nil {
		return fmt.Errorf("%s: close all: %w", s.Name(), err)
	}
	return nil
}

func closeAllClientID(sessionName string) string {
	return fmt.Sprintf("hg-closeall-%s", sessionName)
}
