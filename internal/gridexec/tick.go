package gridexec

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hedgegrid/internal/eventlog"
	"hedgegrid/internal/metrics"
	"hedgegrid/internal/model"
	"hedgegrid/pkg/apperrors"
	"hedgegrid/pkg/decimalutil"
)

// tick runs the seven-step control algorithm from spec §4.5. Each step is
// its own method so the ordering stays legible and individually testable.
func (e *Executor) tick(ctx context.Context) error {
	e.reconcile()
	e.transitionCloseOrders(ctx)
	e.recycleCompleted()

	if !e.stopped() {
		e.admitNewOpens(ctx)
	}
	e.cancelStale(ctx)

	e.publishMetrics()
	return nil
}

// reconcile drains pending OrderUpdates and advances level state. A level
// only reaches OPEN_ORDER_FILLED/CLOSE fill once filled_qty matches
// intended_qty within lot-size tolerance — partial fills just accumulate.
func (e *Executor) reconcile() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		select {
		case u := <-e.pending:
			e.applyOrderUpdate(u)
		default:
			return
		}
	}
}

func (e *Executor) applyOrderUpdate(u model.OrderUpdate) {
	for i := range e.levels {
		l := &e.levels[i]

		if l.OpenOrder != nil && l.OpenOrder.ClientOrderID == u.ClientOrderID {
			l.OpenOrder.FilledQty = u.FilledQty
			l.OpenOrder.AvgFillPrice = u.AvgFillPrice
			l.OpenOrder.Status = u.Status
			if u.Status == model.StatusCanceled || u.Status == model.StatusRejected {
				l.State = model.NotActive
				l.OpenOrder = nil
				l.Generation++
				continue
			}
			if filledWithinTolerance(u.FilledQty, l.OpenOrder.IntendedQty, e.rules.LotSize) {
				l.State = model.OpenOrderFilled
				l.FilledAtPrice = u.AvgFillPrice
				l.FilledQty = u.FilledQty
				l.FilledAtTime = time.Now()
				e.events.Record(eventlog.Event{
					Kind: eventlog.KindOrderFilled, Direction: e.dir.String(),
					LevelID: l.LevelID, ClientID: u.ClientOrderID,
					Price: u.AvgFillPrice.String(), Quantity: u.FilledQty.String(),
				})
			}
			return
		}

		if l.CloseOrder != nil && l.CloseOrder.ClientOrderID == u.ClientOrderID {
			l.CloseOrder.FilledQty = u.FilledQty
			l.CloseOrder.AvgFillPrice = u.AvgFillPrice
			l.CloseOrder.Status = u.Status
			if u.Status == model.StatusCanceled || u.Status == model.StatusRejected {
				// A canceled close order leaves the level holding its
				// position; retry on the next tick from OPEN_ORDER_FILLED.
				l.State = model.OpenOrderFilled
				l.CloseOrder = nil
				continue
			}
			if filledWithinTolerance(u.FilledQty, l.CloseOrder.IntendedQty, e.rules.LotSize) {
				l.State = model.Complete
				e.events.Record(eventlog.Event{
					Kind: eventlog.KindOrderFilled, Direction: e.dir.String(),
					LevelID: l.LevelID, ClientID: u.ClientOrderID,
					Price: u.AvgFillPrice.String(), Quantity: u.FilledQty.String(),
				})
			}
			return
		}
	}
}

func filledWithinTolerance(filled, intended, lot decimal.Decimal) bool {
	if filled.GreaterThanOrEqual(intended) {
		return true
	}
	return intended.Sub(filled).LessThan(lot)
}

// transitionCloseOrders implements step 2: every OPEN_ORDER_FILLED level
// without an active close gets one, anchored on the actual fill price.
func (e *Executor) transitionCloseOrders(ctx context.Context) {
	e.mu.Lock()
	toPlace := make([]int, 0)
	for i := range e.levels {
		if e.levels[i].State == model.OpenOrderFilled && e.levels[i].CloseOrder == nil {
			toPlace = append(toPlace, i)
		}
	}
	e.mu.Unlock()

	for _, idx := range toPlace {
		e.placeCloseOrder(ctx, idx)
	}
}

func (e *Executor) placeCloseOrder(ctx context.Context, idx int) {
	e.mu.Lock()
	level := e.levels[idx]
	plan := e.plan
	e.mu.Unlock()

	closePrice := model.ClosePrice(e.dir, level.FilledAtPrice, plan.Spacing)
	side := model.CloseSide(e.dir)
	if side == model.Buy {
		closePrice = decimalutil.SnapPriceDown(closePrice, e.rules.TickSize)
	} else {
		closePrice = decimalutil.SnapPriceUp(closePrice, e.rules.TickSize)
	}
	clientID := clientOrderID(plan.EpochID, level.LevelID, level.Generation)

	order, err := e.session.PlaceLimitOrder(ctx, e.symbol, side, level.FilledQty, closePrice, model.Close, clientID)

	e.mu.Lock()
	defer e.mu.Unlock()
	l := &e.levels[idx]
	if err != nil {
		e.logger.Error("close order placement failed", "level_id", level.LevelID, "error", err.Error())
		if isRejection(err) {
			l.State = model.Failed
			l.LastError = err
			metrics.OrdersRejectedTotal.WithLabelValues(e.dir.String()).Inc()
			e.events.Record(eventlog.Event{
				Kind: eventlog.KindOrderRejected, Direction: e.dir.String(),
				LevelID: level.LevelID, Reason: err.Error(),
			})
		}
		return
	}
	order.LevelID = level.LevelID
	l.CloseOrder = &order
	l.State = model.CloseOrderPlaced
	metrics.OrdersPlacedTotal.WithLabelValues(e.dir.String(), "close").Inc()
	e.events.Record(eventlog.Event{
		Kind: eventlog.KindOrderPlaced, Direction: e.dir.String(),
		LevelID: level.LevelID, ClientID: clientID,
		Price: closePrice.String(), Quantity: level.FilledQty.String(),
	})
}

// recycleCompleted implements step 3.
func (e *Executor) recycleCompleted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.levels {
		l := &e.levels[i]
		if l.State == model.Complete {
			l.State = model.NotActive
			l.OpenOrder = nil
			l.CloseOrder = nil
			l.FilledAtPrice = decimal.Zero
			l.FilledQty = decimal.Zero
			l.Generation++
		}
	}
}

// admitNewOpens implements steps 4-6: admission throttle, candidate
// selection, and placement.
func (e *Executor) admitNewOpens(ctx context.Context) {
	e.mu.Lock()
	now := time.Now()
	freqOK := e.cfg.OrderFrequency <= 0 || now.Sub(e.lastBatchTS) >= e.cfg.OrderFrequency
	resting := e.countState(model.OpenOrderPlaced)
	if !freqOK || resting >= e.cfg.MaxOpenOrders {
		e.mu.Unlock()
		return
	}

	slots := e.cfg.MaxOpenOrders - resting
	if slots > e.cfg.MaxOrdersPerBatch {
		slots = e.cfg.MaxOrdersPerBatch
	}
	upperSlots := decimal.NewFromInt(int64(slots)).Mul(e.cfg.UpperLowerRatio).IntPart()
	lowerSlots := int64(slots) - upperSlots

	upperCandidates, lowerCandidates := e.selectCandidates(int(upperSlots), int(lowerSlots))
	candidates := append(upperCandidates, lowerCandidates...)
	plan := e.plan
	e.lastBatchTS = now
	e.mu.Unlock()

	if len(candidates) == 0 {
		return
	}
	for _, idx := range candidates {
		e.placeOpenOrder(ctx, idx, plan)
	}
}

func (e *Executor) countState(state model.LevelState) int {
	n := 0
	for _, l := range e.levels {
		if l.State == state {
			n++
		}
	}
	return n
}

// selectCandidates implements step 5. Caller holds e.mu.
func (e *Executor) selectCandidates(upperSlots, lowerSlots int) (upper []int, lower []int) {
	mid := e.mid
	if mid.IsZero() {
		mid = e.plan.Mid()
	}
	bounds := e.cfg.ActivationBoundsPct

	var upperIdx, lowerIdx []int
	for i, l := range e.levels {
		if l.State != model.NotActive {
			continue
		}
		dist := l.Price.Sub(mid).Abs().Div(mid)
		if dist.GreaterThan(bounds) {
			continue
		}
		if l.Price.GreaterThan(mid) {
			upperIdx = append(upperIdx, i)
		} else if l.Price.LessThan(mid) {
			lowerIdx = append(lowerIdx, i)
		}
	}

	sort.Slice(upperIdx, func(a, b int) bool { return closerToMid(e.levels[upperIdx[a]], e.levels[upperIdx[b]], mid) })
	sort.Slice(lowerIdx, func(a, b int) bool { return closerToMid(e.levels[lowerIdx[a]], e.levels[lowerIdx[b]], mid) })

	if len(upperIdx) > upperSlots {
		upperIdx = upperIdx[:upperSlots]
	}
	if len(lowerIdx) > lowerSlots {
		lowerIdx = lowerIdx[:lowerSlots]
	}
	return upperIdx, lowerIdx
}

// closerToMid implements the tie-break rule: ascending distance from mid,
// ties broken by ascending level_id (spec §4.5 "Determinism & tie-breaks").
func closerToMid(a, b model.GridLevel, mid decimal.Decimal) bool {
	da := a.Price.Sub(mid).Abs()
	db := b.Price.Sub(mid).Abs()
	if !da.Equal(db) {
		return da.LessThan(db)
	}
	return a.LevelID < b.LevelID
}

func (e *Executor) placeOpenOrder(ctx context.Context, idx int, plan model.GridPlan) {
	e.mu.Lock()
	level := e.levels[idx]
	bestBid, bestAsk := e.bestBid, e.bestAsk
	e.mu.Unlock()

	side := model.OpenSide(e.dir)
	price := model.CrossingCheck(e.dir, level.Price, bestBid, bestAsk, e.cfg.SafeExtraSpread)
	if side == model.Buy {
		price = decimalutil.SnapPriceDown(price, e.rules.TickSize)
	} else {
		price = decimalutil.SnapPriceUp(price, e.rules.TickSize)
	}

	clientID := clientOrderID(plan.EpochID, level.LevelID, level.Generation)
	order, err := e.session.PlaceLimitOrder(ctx, e.symbol, side, level.Quantity, price, model.Open, clientID)

	e.mu.Lock()
	defer e.mu.Unlock()
	l := &e.levels[idx]
	if err != nil {
		e.logger.Error("open order placement failed", "level_id", level.LevelID, "error", err.Error())
		if isRejection(err) {
			l.State = model.Failed
			l.LastError = err
			metrics.OrdersRejectedTotal.WithLabelValues(e.dir.String()).Inc()
			e.events.Record(eventlog.Event{
				Kind: eventlog.KindOrderRejected, Direction: e.dir.String(),
				LevelID: level.LevelID, Reason: err.Error(),
			})
		}
		return
	}
	order.LevelID = level.LevelID
	l.OpenOrder = &order
	l.State = model.OpenOrderPlaced
	l.OpenPlacedAt = time.Now()
	metrics.OrdersPlacedTotal.WithLabelValues(e.dir.String(), "open").Inc()
	e.events.Record(eventlog.Event{
		Kind: eventlog.KindOrderPlaced, Direction: e.dir.String(),
		LevelID: level.LevelID, ClientID: clientID,
		Price: price.String(), Quantity: level.Quantity.String(),
	})
}

// cancelStale implements step 7.
func (e *Executor) cancelStale(ctx context.Context) {
	e.mu.Lock()
	mid := e.mid
	if mid.IsZero() {
		mid = e.plan.Mid()
	}
	now := time.Now()
	var toCancel []int
	for i, l := range e.levels {
		if l.State != model.OpenOrderPlaced || l.OpenOrder == nil {
			continue
		}
		dist := l.Price.Sub(mid).Abs().Div(mid)
		stale := e.cfg.OrderTimeout > 0 && now.Sub(l.OpenPlacedAt) > e.cfg.OrderTimeout
		if dist.GreaterThan(e.cfg.ActivationBoundsPct) || stale {
			toCancel = append(toCancel, i)
		}
	}
	e.mu.Unlock()

	for _, idx := range toCancel {
		e.cancelOpenOrder(ctx, idx, "stale")
	}
}

func (e *Executor) cancelOpenOrder(ctx context.Context, idx int, reason string) {
	e.mu.Lock()
	level := e.levels[idx]
	e.mu.Unlock()
	if level.OpenOrder == nil {
		return
	}

	err := e.session.CancelOrder(ctx, e.symbol, level.OpenOrder.ClientOrderID)

	e.mu.Lock()
	defer e.mu.Unlock()
	l := &e.levels[idx]
	if err != nil {
		e.logger.Warn("cancel order failed", "level_id", level.LevelID, "error", err.Error())
		return
	}
	clientID := l.OpenOrder.ClientOrderID
	l.State = model.NotActive
	l.OpenOrder = nil
	l.Generation++
	metrics.OrdersCanceledTotal.WithLabelValues(e.dir.String(), reason).Inc()
	e.events.Record(eventlog.Event{
		Kind: eventlog.KindOrderCancelled, Direction: e.dir.String(),
		LevelID: level.LevelID, ClientID: clientID, Reason: reason,
	})
}

func isRejection(err error) bool {
	var rejected *apperrors.ExchangeRejectedError
	return err != nil && errors.As(err, &rejected)
}

func (e *Executor) publishMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := map[model.LevelState]int{}
	for _, l := range e.levels {
		counts[l.State]++
	}
	for _, st := range []model.LevelState{model.NotActive, model.OpenOrderPlaced, model.OpenOrderFilled, model.CloseOrderPlaced, model.Complete, model.Failed} {
		metrics.LevelsByState.WithLabelValues(e.dir.String(), st.String()).Set(float64(counts[st]))
	}
}

// clientOrderID embeds (epoch_id, level_id, generation) so the engine can
// reconcile resynced state by matching client ids and reject duplicate
// acks (spec §4.5 "Idempotence of order placement").
func clientOrderID(epochID int64, levelID, generation int) string {
	return fmt.Sprintf("hg-%d-%d-%d-%s", epochID, levelID, generation, uuid.New().String()[:8])
}
