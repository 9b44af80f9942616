package gridexec

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mockexchange "hedgegrid/internal/exchange/mock"
	"hedgegrid/internal/model"
	"hedgegrid/pkg/logging"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testRules() model.SymbolRules {
	return model.SymbolRules{
		Symbol:      "DOGEUSDC",
		TickSize:    dec("0.00001"),
		LotSize:     dec("1"),
		MinNotional: dec("5"),
	}
}

func testPlan() model.GridPlan {
	return model.GridPlan{
		EpochID:          1,
		Upper:            dec("1.05"),
		Lower:            dec("0.95"),
		Spacing:          dec("0.0026"),
		LevelsCount:      4,
		NotionalPerLevel: dec("10"),
		UsableLeverage:   5,
	}
}

func defaultCfg() Config {
	return Config{
		MaxOpenOrders:       4,
		MaxOrdersPerBatch:   2,
		OrderFrequency:      0,
		ActivationBoundsPct: dec("0.05"),
		UpperLowerRatio:     dec("0.5"),
		OrderTimeout:        600 * time.Second,
		SafeExtraSpread:     dec("0.00001"),
	}
}

func TestResetEpochBuildsSymmetricLadder(t *testing.T) {
	session := mockexchange.New("long", dec("1000"), testRules())
	e := New(model.Long, session, "DOGEUSDC", testRules(), defaultCfg(), logging.Nop())
	e.ResetEpoch(testPlan())

	require.Len(t, e.levels, 4)

	below, above := 0, 0
	mid := testPlan().Mid()
	for _, l := range e.levels {
		if l.Price.LessThan(mid) {
			below++
		} else if l.Price.GreaterThan(mid) {
			above++
		}
		assert.Equal(t, model.Long, l.SideAtLevel)
	}
	assert.Equal(t, 2, below, "expected a symmetric ladder")
	assert.Equal(t, 2, above, "expected a symmetric ladder")
}

func TestTickPlacesOpenOrderWithinActivationBounds(t *testing.T) {
	session := mockexchange.New("long", dec("1000"), testRules())
	e := New(model.Long, session, "DOGEUSDC", testRules(), defaultCfg(), logging.Nop())
	e.ResetEpoch(testPlan())
	e.mid = testPlan().Mid()
	e.bestBid = dec("0.9998")
	e.bestAsk = dec("1.0002")

	ctx := context.Background()
	require.NoError(t, e.tick(ctx))

	placed := e.countState(model.OpenOrderPlaced)
	assert.NotZero(t, placed, "expected at least one order to be placed on the first tick")
}

func TestTickRespectsMaxOrdersPerBatch(t *testing.T) {
	session := mockexchange.New("long", dec("1000"), testRules())
	cfg := defaultCfg()
	cfg.MaxOrdersPerBatch = 1
	e := New(model.Long, session, "DOGEUSDC", testRules(), cfg, logging.Nop())
	e.ResetEpoch(testPlan())
	e.mid = testPlan().Mid()

	ctx := context.Background()
	_ = e.tick(ctx)

	placed := e.countState(model.OpenOrderPlaced)
	assert.LessOrEqual(t, placed, 1, "expected at most 1 order placed per batch")
}

func TestFillTransitionsToCloseOrderAnchoredOnAvgFillPrice(t *testing.T) {
	session := mockexchange.New("long", dec("1000"), testRules())
	e := New(model.Long, session, "DOGEUSDC", testRules(), defaultCfg(), logging.Nop())
	e.ResetEpoch(testPlan())
	e.mid = testPlan().Mid()

	ctx := context.Background()
	_ = e.tick(ctx)

	e.mu.Lock()
	var filledIdx = -1
	for i, l := range e.levels {
		if l.State == model.OpenOrderPlaced {
			filledIdx = i
			break
		}
	}
	if filledIdx == -1 {
		e.mu.Unlock()
		require.FailNow(t, "expected an OPEN_ORDER_PLACED level after first tick")
	}
	clientID := e.levels[filledIdx].OpenOrder.ClientOrderID
	intendedQty := e.levels[filledIdx].OpenOrder.IntendedQty
	e.mu.Unlock()

	// Simulate a slightly-slipped fill delivered on the user-stream queue
	// (normally populated by userStreamReader; pushed directly here since
	// Run isn't started in this test).
	avgFill := dec("0.99741")
	e.pending <- model.OrderUpdate{ClientOrderID: clientID, Status: model.StatusFilled, FilledQty: intendedQty, AvgFillPrice: avgFill}
	_ = e.tick(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.levels[filledIdx]
	require.Equal(t, model.CloseOrderPlaced, l.State)
	expectedClose := model.ClosePrice(model.Long, avgFill, testPlan().Spacing)
	assert.True(t, l.CloseOrder.IntendedPrice.Equal(expectedClose), "expected close price %s, got %s", expectedClose, l.CloseOrder.IntendedPrice)
}

func TestRejectedOrderMarksLevelFailed(t *testing.T) {
	session := mockexchange.New("long", dec("1000"), testRules())
	session.RejectNext = true
	e := New(model.Long, session, "DOGEUSDC", testRules(), defaultCfg(), logging.Nop())
	e.ResetEpoch(testPlan())
	e.mid = testPlan().Mid()

	ctx := context.Background()
	_ = e.tick(ctx)

	assert.Equal(t, 1, e.countState(model.Failed), "expected exactly 1 FAILED level after a rejection")
}

func TestZeroMaxOpenOrdersNeverPlaces(t *testing.T) {
	session := mockexchange.New("long", dec("1000"), testRules())
	cfg := defaultCfg()
	cfg.MaxOpenOrders = 0
	e := New(model.Long, session, "DOGEUSDC", testRules(), cfg, logging.Nop())
	e.ResetEpoch(testPlan())
	e.mid = testPlan().Mid()

	ctx := context.Background()
	_ = e.tick(ctx)

	assert.Zero(t, e.countState(model.OpenOrderPlaced), "expected 0 placed with max_open_orders=0")
}

func TestZeroActivationBoundsNeverPlaces(t *testing.T) {
	session := mockexchange.New("long", dec("1000"), testRules())
	cfg := defaultCfg()
	cfg.ActivationBoundsPct = decimal.Zero
	e := New(model.Long, session, "DOGEUSDC", testRules(), cfg, logging.Nop())
	e.ResetEpoch(testPlan())
	e.mid = testPlan().Mid()

	ctx := context.Background()
	_ = e.tick(ctx)

	assert.Zero(t, e.countState(model.OpenOrderPlaced), "expected 0 placed with activation_bounds_pct=0")
}

func TestClientOrderIDIsUniquePerGeneration(t *testing.T) {
	a := clientOrderID(1, 2, 0)
	b := clientOrderID(1, 2, 1)
	assert.NotEqual(t, a, b, "client order ids for different generations must differ")
}
