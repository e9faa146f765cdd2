package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/market"
)

func TestPipSize(t *testing.T) {
	tests := []struct {
		symbol string
		digits int
		want   float64
	}{
		{"EURUSD", 5, 0.0001},
		{"USDJPY", 3, 0.01},
		{"EURUSD", 4, 0.0001},
		{"USDJPY", 2, 0.01},
		{"EURUSD", 0, 0.0001},
		{"USDJPY", 0, 0.01},
		{"gbpjpy", 0, 0.01},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.want, PipSize(tc.symbol, tc.digits), 1e-9, "%s/%d", tc.symbol, tc.digits)
	}
}

func TestComputeExitSnapshotBuy(t *testing.T) {
	open := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	closeTime := open.Add(90 * time.Minute)

	trade := &db.Trade{
		Symbol:    "EURUSD",
		Direction: db.SignalBuy,
		OpenPrice: 1.1000,
		InitialSL: 1.0975,
		OpenTime:  open,
	}

	snap := ComputeExitSnapshot(trade, 1.1050, closeTime, 5)
	assert.InDelta(t, 50, snap.PipsCaptured, 1e-6)
	assert.InDelta(t, 2.0, snap.RiskRewardRealized, 1e-9)
	assert.Equal(t, 90, snap.HoldMinutes)
	assert.Equal(t, market.SessionNY, snap.Session)
}

func TestComputeExitSnapshotSellLoss(t *testing.T) {
	open := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	trade := &db.Trade{
		Symbol:    "USDJPY",
		Direction: db.SignalSell,
		OpenPrice: 150.00,
		InitialSL: 150.50,
		OpenTime:  open,
	}

	snap := ComputeExitSnapshot(trade, 150.25, open.Add(30*time.Minute), 3)
	// Short losing 25 points against a 50-point risk.
	assert.InDelta(t, -25, snap.PipsCaptured, 1e-6)
	assert.InDelta(t, -0.5, snap.RiskRewardRealized, 1e-9)
	assert.Equal(t, market.SessionLondon, snap.Session)
}

func TestComputeExitSnapshotNoInitialSL(t *testing.T) {
	trade := &db.Trade{
		Symbol:    "EURUSD",
		Direction: db.SignalBuy,
		OpenPrice: 1.1000,
		OpenTime:  time.Now().Add(-time.Hour),
	}
	snap := ComputeExitSnapshot(trade, 1.1020, time.Now(), 5)
	assert.Zero(t, snap.RiskRewardRealized)
}
