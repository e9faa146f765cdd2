package position

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradebridge/internal/config"
	"github.com/ajitpratap0/tradebridge/internal/db"
)

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	return NewCalculator(config.DefaultSymbolRules(), zerolog.Nop())
}

func TestCalculateBuyMajor(t *testing.T) {
	calc := newTestCalculator(t)

	levels, err := calc.Calculate("EURUSD", db.SignalBuy, 1.1000, 0.0020)
	require.NoError(t, err)

	// BUY widens TP by 1.2 and tightens SL by 0.9 against the class profile.
	assert.InDelta(t, 1.1000+0.0020*2.0*1.2, levels.TP, 1e-9)
	assert.InDelta(t, 1.1000-0.0020*1.2*0.9, levels.SL, 1e-9)
	assert.Equal(t, "atr", levels.TPReason)
	assert.Equal(t, "atr", levels.SLReason)
	assert.GreaterOrEqual(t, levels.RiskReward, 2.0)
}

func TestCalculateSellMajor(t *testing.T) {
	calc := newTestCalculator(t)

	levels, err := calc.Calculate("EURUSD", db.SignalSell, 1.1000, 0.0020)
	require.NoError(t, err)

	assert.InDelta(t, 1.1000-0.0020*2.0, levels.TP, 1e-9)
	assert.InDelta(t, 1.1000+0.0020*1.2, levels.SL, 1e-9)
	assert.GreaterOrEqual(t, levels.RiskReward, 1.5)
	assert.Less(t, levels.RiskReward, 2.0)
}

func TestCalculateFallbackATR(t *testing.T) {
	calc := newTestCalculator(t)

	levels, err := calc.Calculate("EURUSD", db.SignalBuy, 1.1000, 0)
	require.NoError(t, err)

	// Synthetic ATR is tiny for majors, so the SL hits the class floor and
	// the TP is widened back out to the BUY R:R minimum.
	assert.Equal(t, "min_rr_widened", levels.TPReason)
	assert.Equal(t, "min_sl_floor", levels.SLReason)
	assert.InDelta(t, 1.1000-1.1000*0.15/100, levels.SL, 1e-9)
	assert.InDelta(t, 2.0, levels.RiskReward, 1e-9)
}

func TestCalculateRejectsTPBeyondClassCap(t *testing.T) {
	calc := newTestCalculator(t)

	// ATR large enough that TP distance exceeds the 1% major cap.
	_, err := calc.Calculate("EURUSD", db.SignalBuy, 1.1000, 0.0050)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds class cap")
}

func TestCalculateBrokerStopsLevelWidensSL(t *testing.T) {
	calc := newTestCalculator(t)
	broker := &db.BrokerSymbol{Digits: 5, StopsLevel: 300}

	levels, err := calc.CalculateWithBroker("EURUSD", db.SignalSell, 1.1000, 0.0020, broker)
	require.NoError(t, err)

	// 300 points at 5 digits is 0.003, wider than the ATR stop of 0.0024.
	assert.Equal(t, "broker_stops_level", levels.SLReason)
	assert.InDelta(t, 1.1030, levels.SL, 1e-9)
	assert.InDelta(t, 1.0960, levels.TP, 1e-9)
	assert.Equal(t, 300, levels.BrokerStopsLevel)
	assert.InDelta(t, 300, levels.SLDistancePoints, 1e-6)
}

func TestCalculateRoundsToBrokerDigits(t *testing.T) {
	calc := newTestCalculator(t)
	broker := &db.BrokerSymbol{Digits: 3, StopsLevel: 0}

	levels, err := calc.CalculateWithBroker("USDJPY", db.SignalBuy, 150.123, 0.250, broker)
	require.NoError(t, err)

	assert.InDelta(t, levels.TP, float64(int(levels.TP*1000+0.5))/1000, 1e-9)
	assert.InDelta(t, levels.SL, float64(int(levels.SL*1000+0.5))/1000, 1e-9)
}

func TestCalculateInvalidInput(t *testing.T) {
	calc := newTestCalculator(t)

	_, err := calc.Calculate("EURUSD", db.SignalBuy, 0, 0.001)
	assert.Error(t, err)

	_, err = calc.Calculate("EURUSD", db.SignalHold, 1.1, 0.001)
	assert.Error(t, err)
}

func TestCalculateUsesClassProfile(t *testing.T) {
	calc := newTestCalculator(t)

	// Crypto carries a 5% TP cap, so a proportionally huge ATR still passes.
	levels, err := calc.Calculate("BTCUSD", db.SignalSell, 50000, 800)
	require.NoError(t, err)
	assert.InDelta(t, 50000-800*1.8, levels.TP, 1e-6)
	assert.InDelta(t, 50000+800*1.0, levels.SL, 1e-6)
}
