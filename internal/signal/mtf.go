package signal

import "github.com/ajitpratap0/tradebridge/internal/db"

// Higher timeframe consulted for confluence
const ConfluenceTimeframe = "H4"

// mtfIndicators are the trend indicators whose higher-timeframe agreement
// can veto a signal.
var mtfIndicators = []string{IndADX, IndEMA, IndSuperTrend}

// ConfirmsHigherTimeframe reports whether the higher-timeframe cohort lets a
// signal in the given direction pass. The veto fires only when the trend
// indicators agree against it: two or more voting the opposite direction.
func ConfirmsHigherTimeframe(higher *Snapshot, direction db.SignalType) bool {
	if higher == nil {
		return true // no higher-timeframe data, nothing to contradict
	}

	opposite := db.SignalSell
	if direction == db.SignalSell {
		opposite = db.SignalBuy
	}

	against := 0
	for _, name := range mtfIndicators {
		if r := higher.Result(name); r != nil && r.Vote == opposite {
			against++
		}
	}
	return against < 2
}
