package position

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/tradebridge/internal/db"
)

func TestExtendedTPBuy(t *testing.T) {
	trade := buyTrade()
	trade.OriginalTP = trade.TP

	// 80% of the way to TP triggers the extension.
	newTP, ok := ExtendedTP(trade, 1.1080, 80, 0.5)
	assert.True(t, ok)
	assert.InDelta(t, 1.1100+0.5*0.0100, newTP, 1e-9)

	// Below the trigger, nothing.
	_, ok = ExtendedTP(trade, 1.1070, 80, 0.5)
	assert.False(t, ok)
}

func TestExtendedTPSell(t *testing.T) {
	trade := sellTrade()
	trade.OriginalTP = trade.TP

	newTP, ok := ExtendedTP(trade, 1.0920, 80, 0.5)
	assert.True(t, ok)
	// Short target extends downward.
	assert.InDelta(t, 1.0900-0.5*0.0100, newTP, 1e-9)
}

func TestExtendedTPBudgetSpent(t *testing.T) {
	trade := buyTrade()
	trade.OriginalTP = trade.TP
	trade.TPExtendedCount = MaxTPExtensions

	_, ok := ExtendedTP(trade, 1.1090, 80, 0.5)
	assert.False(t, ok)
}

func TestExtendedTPAnchorsOnOriginal(t *testing.T) {
	// After one extension the next one still adds half the original span,
	// not half the extended one.
	trade := buyTrade()
	trade.OriginalTP = 1.1100
	trade.TP = 1.1150
	trade.TPExtendedCount = 1

	newTP, ok := ExtendedTP(trade, 1.1145, 80, 0.5)
	assert.True(t, ok)
	assert.InDelta(t, 1.1150+0.0050, newTP, 1e-9)
}

func TestExtendedTPWrongSideOfPrice(t *testing.T) {
	// A small original span can leave the extended TP behind price; skip it.
	trade := &db.Trade{
		Direction:  db.SignalBuy,
		OpenPrice:  1.1000,
		TP:         1.1050,
		OriginalTP: 1.1050,
	}
	_, ok := ExtendedTP(trade, 1.1080, 80, 0.5)
	assert.False(t, ok)
}
