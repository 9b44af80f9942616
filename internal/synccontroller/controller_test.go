package synccontroller

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedgegrid/internal/atrchannel"
	"hedgegrid/internal/dualaccount"
	"hedgegrid/internal/exchange/mock"
	"hedgegrid/internal/gridexec"
	"hedgegrid/internal/gridplan"
	"hedgegrid/internal/model"
	"hedgegrid/pkg/apperrors"
	"hedgegrid/pkg/logging"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testRules() model.SymbolRules {
	return model.SymbolRules{
		Symbol:           "DOGEUSDC",
		TickSize:         dec("0.00001"),
		LotSize:          dec("1"),
		MinNotional:      dec("5"),
		MaxLeverageLimit: 20,
		Brackets: []model.LeverageBracket{
			{NotionalFloor: dec("0"), NotionalCap: dec("50000"), MaintenanceMarginRatio: dec("0.004"), MaxLeverage: 20},
		},
	}
}

func flatCandles(n int, base string) []model.Candle {
	cs := make([]model.Candle, 0, n)
	for i := 0; i < n; i++ {
		cs = append(cs, model.Candle{OpenTime: time.Now(), Open: dec(base), High: dec("1.01"), Low: dec("0.99"), Close: dec(base)})
	}
	return cs
}

func newTestController(t *testing.T, riskCfg Config) (*Controller, *mock.Session, *mock.Session) {
	t.Helper()
	long := mock.New("long", dec("1000"), testRules())
	short := mock.New("short", dec("1000"), testRules())
	long.SeedCandles(flatCandles(30, "1.0"))
	short.SeedCandles(flatCandles(30, "1.0"))

	accounts := dualaccount.New(long, short, "DOGEUSDC", logging.Nop())
	execCfg := gridexec.Config{
		MaxOpenOrders:       4,
		MaxOrdersPerBatch:   2,
		ActivationBoundsPct: dec("0.05"),
		UpperLowerRatio:     dec("0.5"),
		OrderTimeout:        600 * time.Second,
		SafeExtraSpread:     dec("0.00001"),
		TickInterval:        10 * time.Millisecond,
	}
	longExec := gridexec.New(model.Long, long, "DOGEUSDC", testRules(), execCfg, logging.Nop())
	shortExec := gridexec.New(model.Short, short, "DOGEUSDC", testRules(), execCfg, logging.Nop())

	c := New(accounts, longExec, shortExec, "DOGEUSDC", "USDC", riskCfg, atrchannel.DefaultConfig(), gridplan.DefaultConfig(), "1h", 30, logging.Nop())
	return c, long, short
}

func TestNewEpochBuildsNonEmptyPlan(t *testing.T) {
	c, _, _ := newTestController(t, Config{RiskCheckInterval: time.Second})
	require.NoError(t, c.newEpoch(context.Background()))
	assert.NotZero(t, c.plan.LevelsCount, "expected a non-empty grid plan")
	assert.NotEmpty(t, c.long.Status().Direction.String(), "expected long executor status to be readable")
}

func TestEmergencyUnwindIsIdempotent(t *testing.T) {
	c, _, _ := newTestController(t, Config{RiskCheckInterval: time.Second})
	ctx := context.Background()

	require.NoError(t, c.EmergencyUnwind(ctx, "test_trigger"))
	assert.Equal(t, Unwound, c.State())

	assert.NoError(t, c.EmergencyUnwind(ctx, "test_trigger_again"), "second unwind call must be a no-op")
}

func TestCheckBreachNoBreachOnFlatMockAccounts(t *testing.T) {
	cfg := Config{RiskCheckInterval: time.Second, MaxMarginRatio: dec("0.5")}
	c, _, _ := newTestController(t, cfg)
	require.NoError(t, c.newEpoch(context.Background()))

	breached, reason := c.checkBreach(context.Background())
	assert.False(t, breached, "expected no breach with flat mock accounts, got reason %q", reason)
}

func TestCheckBreachTripsOnChannelBreakout(t *testing.T) {
	cfg := Config{RiskCheckInterval: time.Second}
	c, _, _ := newTestController(t, cfg)
	require.NoError(t, c.newEpoch(context.Background()))

	breakoutPrice := c.plan.StopUpper.Add(dec("10"))
	c.long.ApplyBookTicker(breakoutPrice, breakoutPrice)

	breached, reason := c.checkBreach(context.Background())
	assert.True(t, breached)
	assert.Equal(t, reasonChannelBreakout, reason)
}

func TestCheckDisconnectDrainEntersDrainThenEscalates(t *testing.T) {
	cfg := Config{RiskCheckInterval: time.Second, DisconnectGrace: 10 * time.Millisecond}
	c, _, _ := newTestController(t, cfg)
	require.NoError(t, c.newEpoch(context.Background()))

	// Run() is never started in this test, so both executors' Connected
	// flag stays false from the zero value, simulating a dropped stream.
	// The first poll that sees the disconnect starts the grace clock.
	require.False(t, c.checkDisconnectDrain(), "first observation of a disconnect only starts the grace clock")
	time.Sleep(15 * time.Millisecond)
	assert.False(t, c.checkDisconnectDrain(), "first trip past disconnect_grace_s should drain, not escalate")
	assert.Equal(t, Draining, c.State())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, c.checkDisconnectDrain(), "no reconnect within the drain window must escalate")
}

func TestCheckDisconnectDrainResumesOnReconnect(t *testing.T) {
	cfg := Config{RiskCheckInterval: time.Second, DisconnectGrace: 10 * time.Millisecond}
	c, _, _ := newTestController(t, cfg)
	require.NoError(t, c.newEpoch(context.Background()))

	require.False(t, c.checkDisconnectDrain(), "first observation of a disconnect only starts the grace clock")
	time.Sleep(15 * time.Millisecond)
	require.False(t, c.checkDisconnectDrain())
	require.Equal(t, Draining, c.State())

	c.long.MarkConnected(true)
	c.short.MarkConnected(true)

	assert.False(t, c.checkDisconnectDrain(), "reconnect within the drain window must not escalate")
	assert.Equal(t, Running, c.State(), "expected the controller to resume after reconnect")
}

func TestRiskBreachErrorMatchesSentinelClass(t *testing.T) {
	err := &apperrors.RiskBreachError{Reason: "channel_breakout"}
	assert.ErrorIs(t, err, apperrors.ErrRiskBreachClass)
}
