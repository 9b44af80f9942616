// Package gridexec implements the GridExecutor: one instance per direction,
// driving a fixed ladder of GridLevels through its lifecycle against a
// single ExchangeSession (spec §4.5). This is the part of the engine with
// the most moving pieces — the admission policy, the level state machine,
// and the reconciliation of exchange-reported fills all live here.
package gridexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"hedgegrid/internal/eventlog"
	"hedgegrid/internal/exchange"
	"hedgegrid/internal/model"
	"hedgegrid/pkg/decimalutil"
	"hedgegrid/pkg/logging"
)

// Config is the admission policy from spec §4.5/§6.
type Config struct {
	MaxOpenOrders       int
	MaxOrdersPerBatch   int
	OrderFrequency      time.Duration
	ActivationBoundsPct decimal.Decimal
	UpperLowerRatio     decimal.Decimal
	OrderTimeout        time.Duration
	SafeExtraSpread     decimal.Decimal
	TickInterval        time.Duration
}

// Executor drives one direction's ladder. Its GridLevels, TrackedOrders and
// ExchangeSession are exclusively owned here; nothing outside calls back
// into this state except through Status (a read-only snapshot) and the
// lifecycle methods (spec §3 "Ownership").
type Executor struct {
	dir     model.Direction
	session exchange.Session
	symbol  string
	rules   model.SymbolRules
	cfg     Config
	logger  logging.Logger

	mu          sync.Mutex
	plan        model.GridPlan
	levels      []model.GridLevel
	lastBatchTS time.Time
	mid         decimal.Decimal
	bestBid     decimal.Decimal
	bestAsk     decimal.Decimal
	connected   bool
	lastSeen    time.Time

	enabled chan struct{} // closed means execution disabled (stop/unwind)
	pending chan model.OrderUpdate

	events *eventlog.Sink // optional audit sink, nil unless event_log_path is set
}

// Status is the read-only view the SyncController polls (spec §3
// "weak views for monitoring only").
type Status struct {
	Direction      model.Direction
	OpenOrderCount int
	Connected      bool
	LastSeen       time.Time
	Mid            decimal.Decimal
}

func New(dir model.Direction, session exchange.Session, symbol string, rules model.SymbolRules, cfg Config, logger logging.Logger) *Executor {
	return &Executor{
		dir:     dir,
		session: session,
		symbol:  symbol,
		rules:   rules,
		cfg:     cfg,
		logger:  logger.WithField("direction", dir.String()),
		enabled: make(chan struct{}),
		pending: make(chan model.OrderUpdate, 1024),
	}
}

// ResetEpoch rebuilds the ladder from a freshly published GridPlan,
// discarding any prior-epoch levels. Generation per level starts at 0.
func (e *Executor) ResetEpoch(plan model.GridPlan) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.plan = plan
	e.levels = buildLadder(plan, e.rules, e.dir)
	e.lastBatchTS = time.Time{}
}

// buildLadder lays out levels_count rungs symmetrically around mid, half
// above and half below (spec §4.4 step 2's "upper and lower halves
// populated symmetrically"). Level ids are stable for the epoch: lower
// half gets 0..n-1 counting down from mid, upper half continues from there.
func buildLadder(plan model.GridPlan, rules model.SymbolRules, dir model.Direction) []model.GridLevel {
	lowerCount := plan.LevelsCount / 2
	upperCount := plan.LevelsCount - lowerCount
	mid := plan.Mid()

	levels := make([]model.GridLevel, 0, plan.LevelsCount)
	id := 0
	for i := 1; i <= lowerCount; i++ {
		price := decimalutil.RoundToTick(mid.Sub(plan.Spacing.Mul(decimal.NewFromInt(int64(i)))), rules.TickSize)
		qty := decimalutil.QuantityForNotional(plan.NotionalPerLevel, price, rules.LotSize, rules.MinNotional)
		levels = append(levels, model.GridLevel{LevelID: id, Price: price, Quantity: qty, SideAtLevel: dir, State: model.NotActive})
		id++
	}
	for i := 1; i <= upperCount; i++ {
		price := decimalutil.RoundToTick(mid.Add(plan.Spacing.Mul(decimal.NewFromInt(int64(i)))), rules.TickSize)
		qty := decimalutil.QuantityForNotional(plan.NotionalPerLevel, price, rules.LotSize, rules.MinNotional)
		levels = append(levels, model.GridLevel{LevelID: id, Price: price, Quantity: qty, SideAtLevel: dir, State: model.NotActive})
		id++
	}
	return levels
}

// Run starts the control loop, the user-stream reader and the book-ticker
// reader as an errgroup, mapping spec §5's three long-lived tasks per
// executor onto goroutines supervised together. Run blocks until ctx is
// canceled or one task returns an error.
func (e *Executor) Run(ctx context.Context) error {
	userEvents, err := e.session.SubscribeUserStream(ctx)
	if err != nil {
		return fmt.Errorf("subscribe user stream: %w", err)
	}
	bookTicker, err := e.session.SubscribeBookTicker(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("subscribe book ticker: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.userStreamReader(ctx, userEvents) })
	g.Go(func() error { return e.bookTickerReader(ctx, bookTicker) })
	g.Go(func() error { return e.controlLoop(ctx) })

	return g.Wait()
}

// Stop disables admission of new opens; in-flight calls are allowed to
// finish so local state stays consistent with the exchange (spec §5
// "Cancellation semantics").
func (e *Executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.enabled:
	default:
		close(e.enabled)
	}
}

// Resume re-enables admission of new opens after a drain that recovered
// before it escalated to an emergency unwind (spec §4.6 "drain and await
// recovery; if recovery fails, emergency unwind"). Calling it on an
// executor that was never stopped is a no-op.
func (e *Executor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.enabled:
		e.enabled = make(chan struct{})
	default:
	}
}

func (e *Executor) stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.enabled:
		return true
	default:
		return false
	}
}

// SetEvents wires an audit sink for order placements, fills, cancels and
// rejections. Passing nil (the default) disables auditing.
func (e *Executor) SetEvents(sink *eventlog.Sink) {
	e.events = sink
}

func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	open := 0
	for _, l := range e.levels {
		if l.State == model.OpenOrderPlaced {
			open++
		}
	}
	return Status{Direction: e.dir, OpenOrderCount: open, Connected: e.connected, LastSeen: e.lastSeen, Mid: e.mid}
}

func (e *Executor) userStreamReader(ctx context.Context, events <-chan exchange.UserEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch v := ev.(type) {
			case exchange.OrderEvent:
				e.mu.Lock()
				e.connected = true
				e.lastSeen = time.Now()
				e.mu.Unlock()
				select {
				case e.pending <- v.Update:
				case <-ctx.Done():
					return ctx.Err()
				}
			case exchange.ResyncEvent:
				e.logger.Warn("resync event received, reconciling via snapshot query")
				e.reconcileFromSnapshot(ctx)
			}
		}
	}
}

func (e *Executor) bookTickerReader(ctx context.Context, ticks <-chan model.BookTicker) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			e.applyBookTicker(t)
		}
	}
}

func (e *Executor) applyBookTicker(t model.BookTicker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bestBid = t.BestBid
	e.bestAsk = t.BestAsk
	e.mid = t.Mid()
}

// ApplyBookTicker feeds a book-ticker update without going through
// SubscribeBookTicker. SyncController's risk loop has no other way to drive
// mid price in a unit test, since Run (and its goroutines) is not started
// outside of the live control loop.
func (e *Executor) ApplyBookTicker(bestBid, bestAsk decimal.Decimal) {
	e.applyBookTicker(model.BookTicker{BestBid: bestBid, BestAsk: bestAsk, Time: time.Now()})
}

// MarkConnected sets the connected flag directly. SyncController's risk
// loop has no other way to simulate a stream reconnect in a unit test,
// since Run (and its user-stream reader) is not started outside the live
// control loop.
func (e *Executor) MarkConnected(connected bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = connected
	if connected {
		e.lastSeen = time.Now()
	}
}

func (e *Executor) controlLoop(ctx context.Context) error {
	interval := e.cfg.TickInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				e.logger.Error("control tick failed", "error", err.Error())
			}
		}
	}
}

// reconcileFromSnapshot reconciles local TrackedOrders against a fresh
// open_orders query after a stream resync, since buffered deltas during a
// disconnect cannot be trusted (spec §4.1, §7 StreamDisconnect).
func (e *Executor) reconcileFromSnapshot(ctx context.Context) {
	open, err := e.session.OpenOrders(ctx, e.symbol)
	if err != nil {
		e.logger.Error("resync snapshot query failed", "error", err.Error())
		return
	}
	stillOpen := make(map[string]bool, len(open))
	for _, o := range open {
		stillOpen[o.ClientOrderID] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.levels {
		l := &e.levels[i]
		if l.State == model.OpenOrderPlaced && l.OpenOrder != nil && !stillOpen[l.OpenOrder.ClientOrderID] {
			// The order is gone from the exchange's view but we never saw
			// the fill/cancel event; treat as filled, the conservative
			// assumption for a resting limit order that vanished.
			l.State = model.OpenOrderFilled
			l.FilledAtPrice = l.OpenOrder.IntendedPrice
			l.FilledQty = l.OpenOrder.IntendedQty
			l.FilledAtTime = time.Now()
		}
	}
}
