// Package market holds the tick ingestion path and the market context
// services the trading pipeline reads: rolling spread statistics, the UTC
// session calendar and OHLC coverage checks.
package market

import "time"

// Trading sessions. Windows are fixed UTC hours; overlaps are resolved by
// priority NY > London > Asia > Sydney.
const (
	SessionLondon = "London"
	SessionNY     = "NY"
	SessionAsia   = "Asia"
	SessionSydney = "Sydney"
)

type sessionWindow struct {
	name  string
	start int // inclusive hour, UTC
	end   int // exclusive hour, UTC; end < start wraps midnight
}

// Priority order. The first window containing the hour wins.
var sessionWindows = []sessionWindow{
	{SessionNY, 12, 21},
	{SessionLondon, 7, 16},
	{SessionAsia, 23, 8},
	{SessionSydney, 21, 6},
}

func (w sessionWindow) contains(hour int) bool {
	if w.start <= w.end {
		return hour >= w.start && hour < w.end
	}
	return hour >= w.start || hour < w.end
}

// SessionAt returns the primary trading session for an instant
func SessionAt(t time.Time) string {
	hour := t.UTC().Hour()
	for _, w := range sessionWindows {
		if w.contains(hour) {
			return w.name
		}
	}
	// Unreachable with the configured windows: every hour is covered.
	return SessionSydney
}

// SessionsAt returns every session whose window contains the instant,
// primary first.
func SessionsAt(t time.Time) []string {
	hour := t.UTC().Hour()
	var active []string
	for _, w := range sessionWindows {
		if w.contains(hour) {
			active = append(active, w.name)
		}
	}
	return active
}
