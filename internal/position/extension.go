package position

import "github.com/ajitpratap0/tradebridge/internal/db"

// TP extension tuning. The trigger and multiplier come from global_settings;
// only the hard cap on moves lives here.
const (
	// MaxTPExtensions caps how many times one trade's TP may be pushed out.
	MaxTPExtensions = 5
)

// ExtendedTP computes the dynamic TP extension candidate for a trade at the
// given price. Returns false when no extension applies: trigger not reached,
// extension budget spent, or the new TP would land on the wrong side of the
// current price.
func ExtendedTP(trade *db.Trade, price, triggerPct, multiplier float64) (float64, bool) {
	if trade.TPExtendedCount >= MaxTPExtensions {
		return 0, false
	}
	if ProfitPercentToTP(trade, price) < triggerPct {
		return 0, false
	}

	// Anchor on the original TP so repeated extensions stay proportional to
	// the trade's initial target, not to the already-extended one.
	extension := multiplier * (trade.OriginalTP - trade.OpenPrice)
	newTP := trade.TP + extension

	if trade.IsBuy() {
		if newTP <= price {
			return 0, false
		}
	} else {
		if newTP >= price {
			return 0, false
		}
	}
	return newTP, true
}
