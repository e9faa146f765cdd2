package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/tradebridge/internal/db"
)

func votes(spec map[string]struct {
	vote     db.SignalType
	strength float64
}) []IndicatorResult {
	var out []IndicatorResult
	for name, v := range spec {
		out = append(out, IndicatorResult{Name: name, Vote: v.vote, Strength: v.strength})
	}
	return out
}

func flatWeights() map[string]float64 {
	return map[string]float64{
		IndRSI: 1, IndMACD: 1, IndBollinger: 1, IndEMA: 1, IndADX: 1,
		IndStochastic: 1, IndOBV: 1, IndIchimoku: 1, IndVWAP: 1, IndSuperTrend: 1,
	}
}

func TestEnsembleBuyRequiresMarginAndConfidence(t *testing.T) {
	// Three BUY at 80 against one SELL: margin 3 >= 1+2 holds.
	results := votes(map[string]struct {
		vote     db.SignalType
		strength float64
	}{
		IndRSI:  {db.SignalBuy, 80},
		IndMACD: {db.SignalBuy, 80},
		IndEMA:  {db.SignalBuy, 80},
		IndADX:  {db.SignalSell, 60},
		IndOBV:  {db.SignalHold, 0},
	})

	e := EvaluateEnsemble(results, flatWeights())
	assert.Equal(t, db.SignalBuy, e.Direction)
	assert.InDelta(t, 75, e.Confidence, 1e-9) // 80 mean minus the 5pp correction
	assert.Equal(t, 3, e.BuyCount)
	assert.Equal(t, 1, e.SellCount)
	assert.ElementsMatch(t, []string{IndRSI, IndMACD, IndEMA}, e.Agreeing)
}

func TestEnsembleBuyBlockedByMargin(t *testing.T) {
	// 3 BUY vs 2 SELL: enough agreement but not the two-vote margin.
	results := votes(map[string]struct {
		vote     db.SignalType
		strength float64
	}{
		IndRSI:        {db.SignalBuy, 90},
		IndMACD:       {db.SignalBuy, 90},
		IndEMA:        {db.SignalBuy, 90},
		IndADX:        {db.SignalSell, 70},
		IndSuperTrend: {db.SignalSell, 70},
	})

	e := EvaluateEnsemble(results, flatWeights())
	assert.Equal(t, db.SignalHold, e.Direction)
	assert.Equal(t, DropBuyBias, e.DropReason)
}

func TestEnsembleBuyLowConfidence(t *testing.T) {
	results := votes(map[string]struct {
		vote     db.SignalType
		strength float64
	}{
		IndRSI:  {db.SignalBuy, 60},
		IndMACD: {db.SignalBuy, 60},
		IndEMA:  {db.SignalBuy, 60},
	})

	e := EvaluateEnsemble(results, flatWeights())
	assert.Equal(t, db.SignalHold, e.Direction)
	assert.Equal(t, DropLowConfidence, e.DropReason)
}

func TestEnsembleSellSimpleMajority(t *testing.T) {
	results := votes(map[string]struct {
		vote     db.SignalType
		strength float64
	}{
		IndADX:        {db.SignalSell, 70},
		IndSuperTrend: {db.SignalSell, 60},
		IndRSI:        {db.SignalBuy, 90},
	})

	e := EvaluateEnsemble(results, flatWeights())
	assert.Equal(t, db.SignalSell, e.Direction)
	assert.InDelta(t, 65, e.Confidence, 1e-9) // no bias correction on SELL
}

func TestEnsembleSellBelowThreshold(t *testing.T) {
	results := votes(map[string]struct {
		vote     db.SignalType
		strength float64
	}{
		IndADX:        {db.SignalSell, 55},
		IndSuperTrend: {db.SignalSell, 55},
	})

	e := EvaluateEnsemble(results, flatWeights())
	assert.Equal(t, db.SignalHold, e.Direction)
	assert.Equal(t, DropLowConfidence, e.DropReason)
}

func TestEnsembleWeightsShiftConfidence(t *testing.T) {
	results := votes(map[string]struct {
		vote     db.SignalType
		strength float64
	}{
		IndADX:        {db.SignalSell, 90},
		IndSuperTrend: {db.SignalSell, 60},
	})

	weights := flatWeights()
	weights[IndADX] = 3

	e := EvaluateEnsemble(results, weights)
	assert.Equal(t, db.SignalSell, e.Direction)
	// (90*3 + 60*1) / 4 = 82.5
	assert.InDelta(t, 82.5, e.Confidence, 1e-9)
}

func TestEnsembleAllHold(t *testing.T) {
	results := votes(map[string]struct {
		vote     db.SignalType
		strength float64
	}{
		IndRSI:  {db.SignalHold, 0},
		IndMACD: {db.SignalHold, 0},
	})

	e := EvaluateEnsemble(results, flatWeights())
	assert.Equal(t, db.SignalHold, e.Direction)
	assert.Equal(t, DropInsufficientAgreement, e.DropReason)
}
