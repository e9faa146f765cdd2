package signal

import (
	"math"

	"github.com/ajitpratap0/tradebridge/internal/db"
)

// Pattern is one detected candlestick formation on the latest bars
type Pattern struct {
	Name            string        `json:"name"`
	Direction       db.SignalType `json:"direction"`
	TrendConfirmed  bool          `json:"trend_confirmed"`
	VolumeConfirmed bool          `json:"volume_confirmed"`
}

// Confirmed reports whether both confirmation flags hold
func (p Pattern) Confirmed() bool {
	return p.TrendConfirmed && p.VolumeConfirmed
}

const (
	PatternBullishEngulfing = "bullish_engulfing"
	PatternBearishEngulfing = "bearish_engulfing"
	PatternHammer           = "hammer"
	PatternShootingStar     = "shooting_star"
	PatternDoji             = "doji"
	PatternMorningStar      = "morning_star"
	PatternEveningStar      = "evening_star"
)

func body(b db.OHLCBar) float64      { return math.Abs(b.Close - b.Open) }
func barRange(b db.OHLCBar) float64  { return b.High - b.Low }
func upperWick(b db.OHLCBar) float64 { return b.High - math.Max(b.Open, b.Close) }
func lowerWick(b db.OHLCBar) float64 { return math.Min(b.Open, b.Close) - b.Low }
func bullish(b db.OHLCBar) bool      { return b.Close > b.Open }
func bearish(b db.OHLCBar) bool      { return b.Close < b.Open }

// priorTrend classifies the run-up before the pattern bars by comparing the
// last pre-pattern close against the simple average of the lookback window.
func priorTrend(bars []db.OHLCBar, patternLen int) db.SignalType {
	const lookback = 10
	end := len(bars) - patternLen
	if end < lookback {
		return db.SignalHold
	}
	sum := 0.0
	for _, b := range bars[end-lookback : end] {
		sum += b.Close
	}
	avg := sum / lookback
	last := bars[end-1].Close
	switch {
	case last > avg*1.001:
		return db.SignalBuy // price was rising
	case last < avg*0.999:
		return db.SignalSell
	default:
		return db.SignalHold
	}
}

// volumeExpansion reports whether the final bar traded at least 1.2x the
// average of the preceding ten bars. Zero-volume feeds confirm nothing.
func volumeExpansion(bars []db.OHLCBar) bool {
	n := len(bars)
	if n < 11 {
		return false
	}
	sum := 0.0
	for _, b := range bars[n-11 : n-1] {
		sum += b.Volume
	}
	avg := sum / 10
	return avg > 0 && bars[n-1].Volume >= avg*1.2
}

// DetectPatterns scans the tail of the bar series for candlestick patterns.
// Reversal patterns are trend-confirmed when the preceding run moved against
// the pattern's direction.
func DetectPatterns(bars []db.OHLCBar) []Pattern {
	n := len(bars)
	if n < 3 {
		return nil
	}
	var patterns []Pattern
	volOK := volumeExpansion(bars)

	add := func(name string, direction db.SignalType, patternLen int) {
		trend := priorTrend(bars, patternLen)
		// Bullish reversal forms after a decline, bearish after a rise.
		// Doji carries no direction and never gets trend confirmation.
		trendOK := direction == db.SignalBuy && trend == db.SignalSell ||
			direction == db.SignalSell && trend == db.SignalBuy
		patterns = append(patterns, Pattern{
			Name:            name,
			Direction:       direction,
			TrendConfirmed:  trendOK,
			VolumeConfirmed: volOK,
		})
	}

	last := bars[n-1]
	prev := bars[n-2]

	// Engulfing: opposite-color body fully containing the previous body.
	if bearish(prev) && bullish(last) && last.Open <= prev.Close && last.Close >= prev.Open && body(last) > body(prev) {
		add(PatternBullishEngulfing, db.SignalBuy, 2)
	}
	if bullish(prev) && bearish(last) && last.Open >= prev.Close && last.Close <= prev.Open && body(last) > body(prev) {
		add(PatternBearishEngulfing, db.SignalSell, 2)
	}

	// Single-bar shapes on the latest candle.
	if r := barRange(last); r > 0 {
		b := body(last)
		switch {
		case b <= r*0.1:
			patterns = append(patterns, Pattern{Name: PatternDoji, Direction: db.SignalHold, VolumeConfirmed: volOK})
		case lowerWick(last) >= b*2 && upperWick(last) <= b*0.5:
			add(PatternHammer, db.SignalBuy, 1)
		case upperWick(last) >= b*2 && lowerWick(last) <= b*0.5:
			add(PatternShootingStar, db.SignalSell, 1)
		}
	}

	// Three-bar stars: big body, small-body gap candle, big opposite body
	// closing past the midpoint of the first.
	first := bars[n-3]
	if bearish(first) && body(bars[n-2]) <= body(first)*0.4 && bullish(last) &&
		last.Close > (first.Open+first.Close)/2 {
		add(PatternMorningStar, db.SignalBuy, 3)
	}
	if bullish(first) && body(bars[n-2]) <= body(first)*0.4 && bearish(last) &&
		last.Close < (first.Open+first.Close)/2 {
		add(PatternEveningStar, db.SignalSell, 3)
	}

	return patterns
}
