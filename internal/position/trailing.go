package position

import (
	"math"

	"github.com/ajitpratap0/tradebridge/internal/db"
)

// Trailing stages. Triggers are percent of the distance from entry to TP;
// each stage computes a tighter stop from the remaining distance. Stage
// transitions are monotonic per trade: a price pullback never demotes the
// stage already reached.
type trailingStage struct {
	name         string
	triggerPct   float64
	remainingPct float64 // new SL trails price by this share of remaining distance; 0 = break-even
}

var trailingStages = []trailingStage{
	{"break_even", 20, 0},
	{"partial", 40, 0.30},
	{"aggressive", 60, 0.15},
	{"near_tp_lock", 80, 0.10},
}

// Break-even stage places the stop just past entry by this spread multiple.
const breakEvenSpreadMult = 1.3

// ProfitPercentToTP returns how far price has travelled from entry toward
// TP, sign-adjusted for direction. Negative when the trade is under water.
func ProfitPercentToTP(trade *db.Trade, price float64) float64 {
	span := trade.TP - trade.OpenPrice
	if span == 0 {
		return 0
	}
	return (price - trade.OpenPrice) / span * 100
}

// stageIndexFor returns the highest stage whose trigger the profit percent
// has reached, or -1 below the first trigger.
func stageIndexFor(profitPct float64) int {
	idx := -1
	for i, stage := range trailingStages {
		if profitPct >= stage.triggerPct {
			idx = i
		}
	}
	return idx
}

// TrailingSL computes the candidate stop for a trade at the given price and
// spread. Returns the candidate and false when no stage has triggered yet.
// Monotonicity against the current SL is enforced by the storage layer's
// compare-and-set; this function only proposes.
func TrailingSL(trade *db.Trade, price, spread float64) (float64, string, bool) {
	profitPct := ProfitPercentToTP(trade, price)
	idx := stageIndexFor(profitPct)
	if idx < 0 {
		return 0, "", false
	}
	stage := trailingStages[idx]

	var candidate float64
	if stage.remainingPct == 0 {
		// Break-even: entry plus a spread cushion in the profit direction.
		if trade.IsBuy() {
			candidate = trade.OpenPrice + spread*breakEvenSpreadMult
		} else {
			candidate = trade.OpenPrice - spread*breakEvenSpreadMult
		}
	} else {
		remaining := math.Abs(trade.TP - price)
		if trade.IsBuy() {
			candidate = price - remaining*stage.remainingPct
		} else {
			candidate = price + remaining*stage.remainingPct
		}
	}

	return candidate, stage.name, true
}

// ClampToStopsLevel pulls a candidate SL back to the broker's minimum stop
// distance from price when it sits too close. Returns the clamped value.
func ClampToStopsLevel(candidate, price float64, isBuy bool, broker *db.BrokerSymbol) float64 {
	if broker == nil || broker.Digits <= 0 || broker.StopsLevel <= 0 {
		return candidate
	}
	minDist := float64(broker.StopsLevel) * math.Pow(10, -float64(broker.Digits))

	if isBuy {
		if price-candidate < minDist {
			candidate = price - minDist
		}
	} else {
		if candidate-price < minDist {
			candidate = price + minDist
		}
	}
	return candidate
}

// ImprovesSL reports whether the candidate moves the stop in the profit
// direction relative to the current one. A zero current SL always improves.
func ImprovesSL(trade *db.Trade, candidate float64) bool {
	if trade.SL == 0 {
		return true
	}
	if trade.IsBuy() {
		return candidate > trade.SL
	}
	return candidate < trade.SL
}
