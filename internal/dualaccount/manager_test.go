package dualaccount

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mockexchange "hedgegrid/internal/exchange/mock"
	"hedgegrid/internal/model"
	"hedgegrid/pkg/apperrors"
	"hedgegrid/pkg/logging"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testRules() model.SymbolRules {
	return model.SymbolRules{TickSize: dec("0.00001"), LotSize: dec("1"), MinNotional: dec("5")}
}

func TestPreFlightPassesWhenFlat(t *testing.T) {
	long := mockexchange.New("long", dec("1000"), testRules())
	short := mockexchange.New("short", dec("1000"), testRules())
	m := New(long, short, "DOGEUSDC", logging.Nop())

	err := m.PreFlight(context.Background(), false)
	assert.NoError(t, err, "expected flat accounts to pass pre-flight")
}

func TestPreFlightFailsWhenNotFlatWithoutForceFlatten(t *testing.T) {
	long := mockexchange.New("long", dec("1000"), testRules())
	short := mockexchange.New("short", dec("1000"), testRules())
	m := New(long, short, "DOGEUSDC", logging.Nop())

	ctx := context.Background()
	_, err := long.PlaceLimitOrder(ctx, "DOGEUSDC", model.Buy, dec("10"), dec("1.0"), model.Open, "residual-order")
	require.NoError(t, err)

	err = m.PreFlight(ctx, false)
	require.Error(t, err, "expected PreconditionFailed when an account has a resting order")
	assert.ErrorIs(t, err, apperrors.ErrPreconditionFailed)
}

func TestBalancesEqualWithinTolerance(t *testing.T) {
	long := mockexchange.New("long", dec("1000"), testRules())
	short := mockexchange.New("short", dec("800"), testRules())
	m := New(long, short, "DOGEUSDC", logging.Nop())

	ok, err := m.BalancesEqualWithin(context.Background(), "USDC", dec("0.05"))
	require.NoError(t, err)
	assert.False(t, ok, "expected 800 vs 1000 (20%% skew) to exceed a 5%% tolerance")

	ok, err = m.BalancesEqualWithin(context.Background(), "USDC", dec("0.25"))
	require.NoError(t, err)
	assert.True(t, ok, "expected 800 vs 1000 (20%% skew) to be within a 25%% tolerance")
}
