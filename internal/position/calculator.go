// Package position computes and maintains trade protection levels: initial
// TP/SL for new signals, the multi-stage trailing stop, dynamic TP extension
// and the exit snapshot recorded when a trade closes.
package position

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/config"
	"github.com/ajitpratap0/tradebridge/internal/db"
)

// Levels is the calculator output for one signal
type Levels struct {
	TP                  float64 `json:"tp"`
	SL                  float64 `json:"sl"`
	TPReason            string  `json:"tp_reason"`
	SLReason            string  `json:"sl_reason"`
	RiskReward          float64 `json:"risk_reward"`
	TrailingDistancePct float64 `json:"trailing_distance_pct"`
	TPDistancePoints    float64 `json:"tp_distance_points"`
	SLDistancePoints    float64 `json:"sl_distance_points"`
	BrokerStopsLevel    int     `json:"broker_stops_level"`
}

// Minimum realized risk:reward by direction. BUY carries the stricter floor
// together with its asymmetric multipliers.
const (
	minRRBuy  = 2.0
	minRRSell = 1.5
)

// Calculator derives TP/SL levels from ATR and the per-class profile
type Calculator struct {
	rules *config.SymbolRules
	log   zerolog.Logger
}

// NewCalculator creates a TP/SL calculator over the symbol rule set
func NewCalculator(rules *config.SymbolRules, logger zerolog.Logger) *Calculator {
	return &Calculator{rules: rules, log: logger}
}

// Calculate computes TP and SL for a prospective trade. A nil BrokerSymbol
// skips digit rounding and stops-level clamping (metadata not yet reported).
// Returns an error when the levels violate the class profile; the caller
// drops the signal.
func (c *Calculator) Calculate(symbol string, direction db.SignalType, entry, atr float64) (*Levels, error) {
	return c.CalculateWithBroker(symbol, direction, entry, atr, nil)
}

// CalculateWithBroker is Calculate with broker constraints applied
func (c *Calculator) CalculateWithBroker(symbol string, direction db.SignalType, entry, atr float64, broker *db.BrokerSymbol) (*Levels, error) {
	if entry <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %f", entry)
	}
	if direction != db.SignalBuy && direction != db.SignalSell {
		return nil, fmt.Errorf("direction must be BUY or SELL, got %s", direction)
	}

	params := c.rules.ParamsFor(symbol)

	tpReason := "atr"
	slReason := "atr"
	if atr <= 0 {
		atr = entry * params.FallbackATRPct / 100
		tpReason = "fallback_atr"
		slReason = "fallback_atr"
	}

	// Direction asymmetry: longs get a wider target and a tighter stop.
	tpMult := params.ATRTPMult
	slMult := params.ATRSLMult
	minRR := minRRSell
	if direction == db.SignalBuy {
		tpMult *= 1.2
		slMult *= 0.9
		minRR = minRRBuy
	}

	tpDist := atr * tpMult
	slDist := atr * slMult

	// SL distance floor from the class profile.
	minSLDist := entry * params.MinSLPct / 100
	if slDist < minSLDist {
		slDist = minSLDist
		slReason = "min_sl_floor"
	}

	// Widen TP toward the minimum R:R, bounded by the class TP cap.
	maxTPDist := entry * params.MaxTPPct / 100
	if tpDist/slDist < minRR {
		tpDist = slDist * minRR
		tpReason = "min_rr_widened"
	}
	if tpDist > maxTPDist {
		return nil, fmt.Errorf("%s %s: TP distance %.5f exceeds class cap %.5f (R:R floor %.1f unreachable)",
			symbol, direction, tpDist, maxTPDist, minRR)
	}

	point := 0.0
	if broker != nil && broker.Digits > 0 {
		point = math.Pow(10, -float64(broker.Digits))

		// Broker minimum stop distance; widen and log when violated.
		minBrokerDist := float64(broker.StopsLevel) * point
		if tpDist < minBrokerDist {
			c.log.Warn().Str("symbol", symbol).Float64("tp_dist", tpDist).
				Float64("broker_min", minBrokerDist).Msg("TP widened to broker stops level")
			tpDist = minBrokerDist
			tpReason = "broker_stops_level"
		}
		if slDist < minBrokerDist {
			c.log.Warn().Str("symbol", symbol).Float64("sl_dist", slDist).
				Float64("broker_min", minBrokerDist).Msg("SL widened to broker stops level")
			slDist = minBrokerDist
			slReason = "broker_stops_level"
		}

		if tpDist > maxTPDist {
			return nil, fmt.Errorf("%s %s: broker-widened TP distance %.5f exceeds class cap %.5f",
				symbol, direction, tpDist, maxTPDist)
		}
	}

	var tp, sl float64
	if direction == db.SignalBuy {
		tp = entry + tpDist
		sl = entry - slDist
	} else {
		tp = entry - tpDist
		sl = entry + slDist
	}

	if broker != nil && broker.Digits > 0 {
		tp = roundToDigits(tp, broker.Digits)
		sl = roundToDigits(sl, broker.Digits)
	}
	if sl <= 0 {
		return nil, fmt.Errorf("%s %s: SL %.5f not positive after adjustment", symbol, direction, sl)
	}

	levels := &Levels{
		TP:                  tp,
		SL:                  sl,
		TPReason:            tpReason,
		SLReason:            slReason,
		RiskReward:          tpDist / slDist,
		TrailingDistancePct: params.TrailingMult,
	}
	if broker != nil {
		levels.BrokerStopsLevel = broker.StopsLevel
		if point > 0 {
			levels.TPDistancePoints = tpDist / point
			levels.SLDistancePoints = slDist / point
		}
	}
	return levels, nil
}

func roundToDigits(value float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(value*scale) / scale
}
