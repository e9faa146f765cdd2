package signal

import "github.com/ajitpratap0/tradebridge/internal/db"

// Ensemble thresholds. BUY is held to stricter agreement than SELL and takes
// an empirical confidence correction.
const (
	buyMinAgree       = 3
	buyMinConfidence  = 65.0
	buyBiasCorrection = 5.0
	sellMinAgree      = 2
	sellMinConfidence = 60.0
)

// Drop reasons recorded when the ensemble yields no signal
const (
	DropInsufficientAgreement = "insufficient_agreement"
	DropLowConfidence         = "low_confidence"
	DropBuyBias               = "buy_bias_guard"
	DropMTFConflict           = "MTF_CONFLICT"
	DropNoLevels              = "no_levels"
	DropFinalConfidence       = "final_confidence"
)

// Ensemble is the aggregated vote over one indicator cohort
type Ensemble struct {
	Direction  db.SignalType `json:"direction"`
	Confidence float64       `json:"confidence"`
	BuyCount   int           `json:"buy_count"`
	SellCount  int           `json:"sell_count"`
	Agreeing   []string      `json:"agreeing,omitempty"`
	DropReason string        `json:"drop_reason,omitempty"`
}

// weightedConfidence is the weighted mean of the agreeing indicators'
// normalized strength. Unknown indicators weigh 1.
func weightedConfidence(results []IndicatorResult, direction db.SignalType, weights map[string]float64) (float64, []string) {
	var sum, weightSum float64
	var names []string
	for _, r := range results {
		if r.Vote != direction {
			continue
		}
		w, ok := weights[r.Name]
		if !ok {
			w = 1
		}
		if w <= 0 {
			continue
		}
		sum += r.Strength * w
		weightSum += w
		names = append(names, r.Name)
	}
	if weightSum == 0 {
		return 0, nil
	}
	return sum / weightSum, names
}

// EvaluateEnsemble reduces an indicator cohort to a directional vote under
// the per-class weights. A HOLD result carries the drop reason.
func EvaluateEnsemble(results []IndicatorResult, weights map[string]float64) Ensemble {
	e := Ensemble{Direction: db.SignalHold}
	for _, r := range results {
		switch r.Vote {
		case db.SignalBuy:
			e.BuyCount++
		case db.SignalSell:
			e.SellCount++
		}
	}

	buyConf, buyNames := weightedConfidence(results, db.SignalBuy, weights)
	sellConf, sellNames := weightedConfidence(results, db.SignalSell, weights)

	// BUY demands three agreeing votes and a two-vote margin over SELL;
	// SELL needs two votes and a simple majority. The margin rules make the
	// branches mutually exclusive.
	switch {
	case e.BuyCount >= buyMinAgree && e.BuyCount >= e.SellCount+2:
		if buyConf < buyMinConfidence {
			e.DropReason = DropLowConfidence
			return e
		}
		e.Direction = db.SignalBuy
		e.Confidence = buyConf - buyBiasCorrection
		e.Agreeing = buyNames
	case e.SellCount >= sellMinAgree && e.SellCount > e.BuyCount:
		if sellConf < sellMinConfidence {
			e.DropReason = DropLowConfidence
			return e
		}
		e.Direction = db.SignalSell
		e.Confidence = sellConf
		e.Agreeing = sellNames
	case e.BuyCount >= buyMinAgree && e.BuyCount > e.SellCount:
		// Enough BUY votes but not the required margin.
		e.DropReason = DropBuyBias
		return e
	default:
		e.DropReason = DropInsufficientAgreement
		return e
	}

	if e.Confidence < 0 {
		e.Confidence = 0
	}
	return e
}
