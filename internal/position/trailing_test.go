package position

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/tradebridge/internal/db"
)

func buyTrade() *db.Trade {
	return &db.Trade{
		ID:        1,
		Direction: db.SignalBuy,
		OpenPrice: 1.1000,
		TP:        1.1100,
		SL:        1.0950,
	}
}

func sellTrade() *db.Trade {
	return &db.Trade{
		ID:        2,
		Direction: db.SignalSell,
		OpenPrice: 1.1000,
		TP:        1.0900,
		SL:        1.1050,
	}
}

func TestProfitPercentToTP(t *testing.T) {
	trade := buyTrade()

	assert.InDelta(t, 0, ProfitPercentToTP(trade, 1.1000), 1e-9)
	assert.InDelta(t, 50, ProfitPercentToTP(trade, 1.1050), 1e-9)
	assert.InDelta(t, 100, ProfitPercentToTP(trade, 1.1100), 1e-9)
	assert.InDelta(t, -20, ProfitPercentToTP(trade, 1.0980), 1e-9)

	short := sellTrade()
	assert.InDelta(t, 40, ProfitPercentToTP(short, 1.0960), 1e-9)
	assert.InDelta(t, -10, ProfitPercentToTP(short, 1.1010), 1e-9)
}

func TestTrailingSLStages(t *testing.T) {
	trade := buyTrade()
	spread := 0.0002

	tests := []struct {
		name      string
		price     float64
		wantStage string
		wantSL    float64
		wantOK    bool
	}{
		{"below first trigger", 1.1010, "", 0, false},
		{"break even at 20pct", 1.1020, "break_even", 1.1000 + spread*1.3, true},
		{"partial at 40pct", 1.1040, "partial", 1.1040 - 0.0060*0.30, true},
		{"aggressive at 60pct", 1.1060, "aggressive", 1.1060 - 0.0040*0.15, true},
		{"near tp lock at 80pct", 1.1080, "near_tp_lock", 1.1080 - 0.0020*0.10, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sl, stage, ok := TrailingSL(trade, tc.price, spread)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantStage, stage)
				assert.InDelta(t, tc.wantSL, sl, 1e-9)
			}
		})
	}
}

func TestTrailingSLSell(t *testing.T) {
	trade := sellTrade()

	sl, stage, ok := TrailingSL(trade, 1.0960, 0.0002)
	assert.True(t, ok)
	assert.Equal(t, "partial", stage)
	// Remaining distance 0.0060; short trails above price.
	assert.InDelta(t, 1.0960+0.0060*0.30, sl, 1e-9)

	sl, stage, ok = TrailingSL(trade, 1.0980, 0.0002)
	assert.True(t, ok)
	assert.Equal(t, "break_even", stage)
	assert.InDelta(t, 1.1000-0.0002*1.3, sl, 1e-9)
}

func TestTrailingSLUnderwater(t *testing.T) {
	_, _, ok := TrailingSL(buyTrade(), 1.0980, 0.0002)
	assert.False(t, ok)
}

func TestClampToStopsLevel(t *testing.T) {
	broker := &db.BrokerSymbol{Digits: 5, StopsLevel: 20} // 0.0002 min distance

	// Candidate too close to price gets pushed out.
	assert.InDelta(t, 1.1038, ClampToStopsLevel(1.1039, 1.1040, true, broker), 1e-9)
	assert.InDelta(t, 1.0962, ClampToStopsLevel(1.0961, 1.0960, false, broker), 1e-9)

	// Far enough, untouched.
	assert.InDelta(t, 1.1020, ClampToStopsLevel(1.1020, 1.1040, true, broker), 1e-9)

	// Missing metadata, untouched.
	assert.InDelta(t, 1.10399, ClampToStopsLevel(1.10399, 1.1040, true, nil), 1e-9)
}

func TestImprovesSL(t *testing.T) {
	long := buyTrade()
	assert.True(t, ImprovesSL(long, 1.0960))
	assert.False(t, ImprovesSL(long, 1.0950))
	assert.False(t, ImprovesSL(long, 1.0940))

	short := sellTrade()
	assert.True(t, ImprovesSL(short, 1.1040))
	assert.False(t, ImprovesSL(short, 1.1060))

	long.SL = 0
	assert.True(t, ImprovesSL(long, 1.0900))
}
