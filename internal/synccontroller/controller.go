// Package synccontroller implements the SyncController (spec §4.6): the
// lifecycle owner and risk loop that supervises both GridExecutors. Its
// trip/reset state machine is grounded on the teacher pack's circuit
// breaker, generalized from a loss-count/drawdown-amount trigger to the
// channel-breakout / margin-ratio / drawdown / disconnect triggers this
// domain actually needs.
package synccontroller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"hedgegrid/internal/atrchannel"
	"hedgegrid/internal/dualaccount"
	"hedgegrid/internal/eventlog"
	"hedgegrid/internal/exchange"
	"hedgegrid/internal/gridexec"
	"hedgegrid/internal/gridplan"
	"hedgegrid/internal/metrics"
	"hedgegrid/internal/model"
	"hedgegrid/pkg/apperrors"
	"hedgegrid/pkg/logging"
)

// State is the controller's own lifecycle state, distinct from any single
// level's or order's state.
type State int

const (
	Stopped State = iota
	Running
	Draining
	Unwound
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	case Unwound:
		return "UNWOUND"
	default:
		return "UNKNOWN"
	}
}

// Config holds the risk loop's cadence and thresholds (spec §6).
type Config struct {
	RiskCheckInterval      time.Duration
	MaxMarginRatio         decimal.Decimal
	MaxDrawdownPct         decimal.Decimal
	BalanceTolerancePct    decimal.Decimal
	DisconnectGrace        time.Duration
	ForceFlattenOnStart    bool
	ResetOnChannelBreakout bool
}

// Controller owns both executors' lifecycle and the periodic risk loop. It
// holds only read-only views of executor state (spec §3 "weak views for
// monitoring only"); it never reaches into a GridLevel directly.
type Controller struct {
	accounts   *dualaccount.Manager
	long       *gridexec.Executor
	short      *gridexec.Executor
	symbol     string
	quoteAsset string
	cfg        Config
	logger     logging.Logger

	atrCfg     atrchannel.Config
	gridCfg    gridplan.Config
	timeframe  string
	ohlcvLimit int

	mu             sync.Mutex
	state          State
	epochID        int64
	plan           model.GridPlan
	initialBalance decimal.Decimal
	disconnectedAt map[model.Direction]time.Time

	// drainReason/drainSince track the intermediate drain-and-await-recovery
	// phase (spec §4.6) entered once a stream disconnect outlasts
	// disconnect_grace_s. A drain triggered by the operator's Stop instead
	// leaves drainReason empty, so checkDisconnectDrain never auto-resumes it.
	drainReason string
	drainSince  time.Time

	events *eventlog.Sink // optional audit sink, nil unless event_log_path is set
}

// SetEvents wires an audit sink for epoch starts, risk breaches and state
// transitions. Passing nil (the default) disables auditing.
func (c *Controller) SetEvents(sink *eventlog.Sink) {
	c.events = sink
}

func New(accounts *dualaccount.Manager, long, short *gridexec.Executor, symbol, quoteAsset string, cfg Config, atrCfg atrchannel.Config, gridCfg gridplan.Config, timeframe string, ohlcvLimit int, logger logging.Logger) *Controller {
	return &Controller{
		accounts:       accounts,
		long:           long,
		short:          short,
		symbol:         symbol,
		quoteAsset:     quoteAsset,
		cfg:            cfg,
		atrCfg:         atrCfg,
		gridCfg:        gridCfg,
		timeframe:      timeframe,
		ohlcvLimit:     ohlcvLimit,
		logger:         logger.WithField("component", "synccontroller"),
		state:          Stopped,
		disconnectedAt: make(map[model.Direction]time.Time),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start performs pre-flight, builds the initial GridPlan, resets both
// executors onto it, and runs them plus the risk loop concurrently until
// ctx is canceled or a fatal error occurs (spec §4.6 "Lifecycle").
func (c *Controller) Start(ctx context.Context) error {
	if err := c.accounts.PreFlight(ctx, c.cfg.ForceFlattenOnStart); err != nil {
		return fmt.Errorf("pre-flight: %w", err)
	}

	if err := c.newEpoch(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = Running
	c.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.long.Run(ctx) })
	g.Go(func() error { return c.short.Run(ctx) })
	g.Go(func() error { return c.riskLoop(ctx) })

	return g.Wait()
}

// newEpoch builds a fresh ATR channel and GridPlan and publishes it to both
// executors under a new epoch_id.
func (c *Controller) newEpoch(ctx context.Context) error {
	rules, err := c.accounts.Initialize(ctx, c.gridCfg.MaxLeverageLimit)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	candles, err := c.accounts.Long.FetchOHLCV(ctx, c.symbol, c.timeframe, c.ohlcvLimit)
	if err != nil {
		return fmt.Errorf("fetch ohlcv: %w", err)
	}
	atr, err := atrchannel.Compute(candles, c.atrCfg)
	if err != nil {
		return fmt.Errorf("compute atr channel: %w", err)
	}

	longBal, err := c.accounts.Long.Balance(ctx, c.quoteAsset)
	if err != nil {
		return fmt.Errorf("long balance: %w", err)
	}
	shortBal, err := c.accounts.Short.Balance(ctx, c.quoteAsset)
	if err != nil {
		return fmt.Errorf("short balance: %w", err)
	}

	if equalWithin, err := c.accounts.BalancesEqualWithin(ctx, c.quoteAsset, c.cfg.BalanceTolerancePct); err == nil && !equalWithin {
		c.logger.Warn("balances diverge beyond balance_tolerance_pct, proceeding with the minimum")
	}
	balance := decimal.Min(longBal, shortBal)

	c.mu.Lock()
	c.epochID++
	epochID := c.epochID
	c.initialBalance = balance
	c.mu.Unlock()

	plan, err := gridplan.Build(atr, balance, rules, c.gridCfg, epochID)
	if err != nil {
		return fmt.Errorf("build grid plan: %w", err)
	}

	c.mu.Lock()
	c.plan = plan
	c.mu.Unlock()

	c.long.ResetEpoch(plan)
	c.short.ResetEpoch(plan)
	metrics.EpochsTotal.Inc()
	c.logger.Info("new epoch started", "epoch_id", epochID, "levels_count", plan.LevelsCount, "usable_leverage", plan.UsableLeverage)
	c.events.Record(eventlog.Event{Kind: eventlog.KindEpochStarted, EpochID: epochID})
	return nil
}

// Stop signals both executors to drain: stop admitting new opens and let
// in-flight events settle (spec §5 "Cancellation semantics").
func (c *Controller) Stop() {
	c.mu.Lock()
	c.state = Draining
	c.mu.Unlock()
	c.long.Stop()
	c.short.Stop()
	c.events.Record(eventlog.Event{Kind: eventlog.KindStateChanged, Reason: Draining.String()})
}

// EmergencyUnwind cancels all orders on both sessions, places a closing
// limit order for any residual position (see dualaccount.Manager.CloseAll),
// and flips the controller to UNWOUND. It is idempotent: calling
// it again while already unwound is a no-op (spec §4.6).
func (c *Controller) EmergencyUnwind(ctx context.Context, reason string) error {
	c.mu.Lock()
	if c.state == Unwound {
		c.mu.Unlock()
		return nil
	}
	c.state = Unwound
	c.mu.Unlock()

	c.long.Stop()
	c.short.Stop()
	metrics.RiskBreachesTotal.WithLabelValues(reason).Inc()
	c.logger.Error("emergency unwind triggered", "reason", reason)
	c.events.Record(eventlog.Event{Kind: eventlog.KindRiskBreach, Reason: reason})
	c.events.Record(eventlog.Event{Kind: eventlog.KindStateChanged, Reason: Unwound.String()})

	var errs []error
	for _, s := range []exchange.Session{c.accounts.Long, c.accounts.Short} {
		if err := c.accounts.CancelAll(ctx, s); err != nil {
			errs = append(errs, err)
		}
		if err := c.accounts.CloseAll(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("unwind incomplete: %v: %w", errs, &apperrors.RiskBreachError{Reason: reason})
	}
	return nil
}

// riskLoop polls both sessions at risk_check_interval_s and trips an
// emergency unwind on channel breakout, excessive margin ratio, aggregate
// drawdown, or a stream disconnect outstanding past disconnect_grace (spec
// §4.6 "Risk loop"). It returns ctx.Err() when ctx is canceled and the
// unwind error when an unwind fails. After a clean unwind it returns nil, or
// ErrRestartRequested when the trigger was a channel breakout and
// reset_on_channel_breakout is set; either way the loop stops polling.
func (c *Controller) riskLoop(ctx context.Context) error {
	interval := c.cfg.RiskCheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if breached, reason := c.checkBreach(ctx); breached {
				if err := c.EmergencyUnwind(ctx, reason); err != nil {
					return err
				}
				if c.cfg.ResetOnChannelBreakout && reason == reasonChannelBreakout {
					return ErrRestartRequested
				}
				return nil
			}
			if c.checkDisconnectDrain() {
				if err := c.EmergencyUnwind(ctx, reasonStreamDisconnect); err != nil {
					return err
				}
				return nil
			}
		}
	}
}

// ErrRestartRequested is returned by Start when the risk loop unwound on a
// channel breakout with reset_on_channel_breakout enabled. Start does not
// build a new epoch or restart the executors itself, and cmd/hedgegrid
// handles this error like any other: it logs it and exits. No in-process
// restart takes place.
var ErrRestartRequested = fmt.Errorf("%w: restart requested after channel breakout unwind", apperrors.ErrTransient)

const (
	reasonChannelBreakout  = "channel_breakout"
	reasonMarginRatio      = "margin_ratio_exceeded"
	reasonDrawdown         = "drawdown_exceeded"
	reasonStreamDisconnect = "stream_disconnect_grace_exceeded"
)

// checkBreach evaluates the immediate-unwind triggers from spec §4.6 in
// order: channel breakout, margin ratio, aggregate drawdown. Stream
// disconnect is deliberately not checked here — it has its own intermediate
// drain/await-recovery phase, handled by checkDisconnectDrain.
func (c *Controller) checkBreach(ctx context.Context) (bool, string) {
	c.mu.Lock()
	plan := c.plan
	initialBalance := c.initialBalance
	c.mu.Unlock()

	longStatus := c.long.Status()
	shortStatus := c.short.Status()

	if !plan.StopUpper.IsZero() && !longStatus.Mid.IsZero() {
		if longStatus.Mid.GreaterThan(plan.StopUpper) || longStatus.Mid.LessThan(plan.StopLower) {
			return true, reasonChannelBreakout
		}
	}

	longAcct, err := c.accounts.Long.Positions(ctx, c.symbol)
	if err != nil {
		c.logger.Error("risk loop: long positions query failed", "error", err.Error())
		return false, ""
	}
	shortAcct, err := c.accounts.Short.Positions(ctx, c.symbol)
	if err != nil {
		c.logger.Error("risk loop: short positions query failed", "error", err.Error())
		return false, ""
	}

	longMR, _ := longAcct.MarginRatio.Float64()
	shortMR, _ := shortAcct.MarginRatio.Float64()
	metrics.MarginRatio.WithLabelValues(model.Long.String()).Set(longMR)
	metrics.MarginRatio.WithLabelValues(model.Short.String()).Set(shortMR)
	longBal, _ := longAcct.Balance.Float64()
	shortBal, _ := shortAcct.Balance.Float64()
	metrics.AccountBalance.WithLabelValues(model.Long.String()).Set(longBal)
	metrics.AccountBalance.WithLabelValues(model.Short.String()).Set(shortBal)

	if !c.cfg.MaxMarginRatio.IsZero() {
		if longAcct.MarginRatio.GreaterThan(c.cfg.MaxMarginRatio) || shortAcct.MarginRatio.GreaterThan(c.cfg.MaxMarginRatio) {
			return true, reasonMarginRatio
		}
	}

	if !initialBalance.IsZero() && !c.cfg.MaxDrawdownPct.IsZero() {
		pnl := longAcct.UnrealizedPnL.Add(shortAcct.UnrealizedPnL)
		drawdownPct := pnl.Div(initialBalance).Neg()
		metrics.Drawdown.Set(drawdownClampedFloat(drawdownPct))
		if drawdownPct.GreaterThan(c.cfg.MaxDrawdownPct) {
			return true, reasonDrawdown
		}
	}

	return false, ""
}

// checkDisconnectDrain implements spec §4.6's two-phase disconnect handling:
// "If either executor reports connected=false for longer than
// disconnect_grace_s → drain and await recovery; if recovery fails,
// emergency unwind." The first time either side has been disconnected past
// disconnect_grace_s, both executors are drained (admission of new opens
// stopped, nothing more) rather than unwound outright. If both sides
// reconnect before a second disconnect_grace_s window elapses, the drain is
// lifted and admission resumes; otherwise checkDisconnectDrain reports the
// breach and the caller escalates to EmergencyUnwind.
func (c *Controller) checkDisconnectDrain() bool {
	longStatus := c.long.Status()
	shortStatus := c.short.Status()
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	anyDisconnected := false
	for dir, status := range map[model.Direction]gridexec.Status{model.Long: longStatus, model.Short: shortStatus} {
		if status.Connected {
			delete(c.disconnectedAt, dir)
			continue
		}
		anyDisconnected = true
		if _, tracked := c.disconnectedAt[dir]; !tracked {
			c.disconnectedAt[dir] = now
		}
	}

	if !anyDisconnected {
		if c.state == Draining && c.drainReason == reasonStreamDisconnect {
			c.logger.Info("stream recovered within the drain window, resuming admission")
			c.state = Running
			c.drainReason = ""
			c.drainSince = time.Time{}
			c.long.Resume()
			c.short.Resume()
			c.events.Record(eventlog.Event{Kind: eventlog.KindStateChanged, Reason: Running.String()})
		}
		return false
	}

	var oldestDisconnect time.Time
	for _, since := range c.disconnectedAt {
		if oldestDisconnect.IsZero() || since.Before(oldestDisconnect) {
			oldestDisconnect = since
		}
	}
	if now.Sub(oldestDisconnect) <= c.cfg.DisconnectGrace {
		return false
	}

	if c.state != Draining || c.drainReason != reasonStreamDisconnect {
		c.state = Draining
		c.drainReason = reasonStreamDisconnect
		c.drainSince = now
		c.logger.Warn("disconnect_grace_s exceeded, draining and awaiting recovery", "since", oldestDisconnect)
		c.long.Stop()
		c.short.Stop()
		c.events.Record(eventlog.Event{Kind: eventlog.KindStateChanged, Reason: Draining.String()})
		return false
	}

	if now.Sub(c.drainSince) > c.cfg.DisconnectGrace {
		c.logger.Error("no reconnect within the drain window, escalating to emergency unwind")
		return true
	}
	return false
}

func drawdownClampedFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
