// Package signal evaluates the per-(account, symbol, timeframe) trading
// pipeline: indicator snapshot, candlestick patterns, weighted ensemble vote,
// multi-timeframe confluence, TP/SL attach and the atomic active-signal
// upsert.
package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"

	"github.com/ajitpratap0/tradebridge/internal/db"
)

// Indicator names. These key the per-class ensemble weights.
const (
	IndRSI        = "rsi"
	IndMACD       = "macd"
	IndBollinger  = "bollinger"
	IndEMA        = "ema"
	IndADX        = "adx"
	IndStochastic = "stochastic"
	IndOBV        = "obv"
	IndIchimoku   = "ichimoku"
	IndVWAP       = "vwap"
	IndSuperTrend = "supertrend"
)

// MinBars is the history depth one evaluation needs. Ichimoku's 52-bar span
// plus its 26-bar displacement dominates.
const MinBars = 80

// IndicatorResult is one indicator's vote with its normalized strength
type IndicatorResult struct {
	Name     string             `json:"name"`
	Vote     db.SignalType      `json:"vote"`
	Strength float64            `json:"strength"` // 0-100
	Values   map[string]float64 `json:"values,omitempty"`
}

// Snapshot is the full indicator cohort for one closing bar. All results
// reflect the same bar; the cache keys cohorts by BarCloseTime.
type Snapshot struct {
	Symbol       string            `json:"symbol"`
	Timeframe    string            `json:"timeframe"`
	BarCloseTime time.Time         `json:"bar_close_time"`
	LastClose    float64           `json:"last_close"`
	ATR          float64           `json:"atr"`
	Results      []IndicatorResult `json:"results"`
	Patterns     []Pattern         `json:"patterns,omitempty"`
	Failed       []string          `json:"failed,omitempty"`
}

// Result returns the named indicator's result, or nil
func (s *Snapshot) Result(name string) *IndicatorResult {
	for i := range s.Results {
		if s.Results[i].Name == name {
			return &s.Results[i]
		}
	}
	return nil
}

type series struct {
	open, high, low, closes, volume []float64
}

func newSeries(bars []db.OHLCBar) series {
	s := series{
		open:   make([]float64, len(bars)),
		high:   make([]float64, len(bars)),
		low:    make([]float64, len(bars)),
		closes: make([]float64, len(bars)),
		volume: make([]float64, len(bars)),
	}
	for i, b := range bars {
		s.open[i] = b.Open
		s.high[i] = b.High
		s.low[i] = b.Low
		s.closes[i] = b.Close
		s.volume[i] = b.Volume
	}
	return s
}

// toChan feeds a slice into a closed buffered channel, the input form the
// cinar v2 indicators consume.
func toChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func collect(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

func hold(name string) IndicatorResult {
	return IndicatorResult{Name: name, Vote: db.SignalHold}
}

func computeRSI(s series) (IndicatorResult, error) {
	if len(s.closes) < 15 {
		return hold(IndRSI), fmt.Errorf("need 15 closes, got %d", len(s.closes))
	}
	values := collect(momentum.NewRsiWithPeriod[float64](14).Compute(toChan(s.closes)))
	if len(values) == 0 {
		return hold(IndRSI), fmt.Errorf("no RSI values")
	}
	rsi := values[len(values)-1]

	res := IndicatorResult{Name: IndRSI, Vote: db.SignalHold, Values: map[string]float64{"rsi": rsi}}
	switch {
	case rsi < 30:
		res.Vote = db.SignalBuy
		res.Strength = 50 + (30-rsi)/30*50
	case rsi > 70:
		res.Vote = db.SignalSell
		res.Strength = 50 + (rsi-70)/30*50
	}
	res.Strength = clamp(res.Strength, 0, 100)
	return res, nil
}

func computeMACD(s series) (IndicatorResult, error) {
	if len(s.closes) < 35 {
		return hold(IndMACD), fmt.Errorf("need 35 closes, got %d", len(s.closes))
	}
	macdChan, signalChan := trend.NewMacdWithPeriod[float64](12, 26, 9).Compute(toChan(s.closes))

	var macdValues, signalValues []float64
	for {
		m, mok := <-macdChan
		sv, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, sv)
	}
	if len(macdValues) < 2 {
		return hold(IndMACD), fmt.Errorf("no MACD values")
	}

	last := len(macdValues) - 1
	histogram := macdValues[last] - signalValues[last]
	prevHistogram := macdValues[last-1] - signalValues[last-1]

	res := IndicatorResult{Name: IndMACD, Vote: db.SignalHold, Values: map[string]float64{
		"macd": macdValues[last], "signal": signalValues[last], "histogram": histogram,
	}}
	switch {
	case prevHistogram <= 0 && histogram > 0:
		res.Vote, res.Strength = db.SignalBuy, 80
	case prevHistogram >= 0 && histogram < 0:
		res.Vote, res.Strength = db.SignalSell, 80
	case histogram > 0:
		res.Vote, res.Strength = db.SignalBuy, 55
	case histogram < 0:
		res.Vote, res.Strength = db.SignalSell, 55
	}
	return res, nil
}

func computeBollinger(s series) (IndicatorResult, error) {
	if len(s.closes) < 20 {
		return hold(IndBollinger), fmt.Errorf("need 20 closes, got %d", len(s.closes))
	}
	lowerChan, middleChan, upperChan := volatility.NewBollingerBandsWithPeriod[float64](20).Compute(toChan(s.closes))

	var lower, middle, upper []float64
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower = append(lower, l)
		middle = append(middle, m)
		upper = append(upper, u)
	}
	if len(middle) == 0 {
		return hold(IndBollinger), fmt.Errorf("no Bollinger values")
	}

	last := len(middle) - 1
	price := s.closes[len(s.closes)-1]
	width := 0.0
	if middle[last] != 0 {
		width = (upper[last] - lower[last]) / middle[last] * 100
	}

	res := IndicatorResult{Name: IndBollinger, Vote: db.SignalHold, Values: map[string]float64{
		"upper": upper[last], "middle": middle[last], "lower": lower[last], "width": width,
	}}
	switch {
	case price <= lower[last]:
		res.Vote, res.Strength = db.SignalBuy, 70
	case price >= upper[last]:
		res.Vote, res.Strength = db.SignalSell, 70
	}
	return res, nil
}

func computeEMA(s series) (IndicatorResult, error) {
	if len(s.closes) < 60 {
		return hold(IndEMA), fmt.Errorf("need 60 closes, got %d", len(s.closes))
	}
	lastOf := func(period int) float64 {
		values := collect(trend.NewEmaWithPeriod[float64](period).Compute(toChan(s.closes)))
		if len(values) == 0 {
			return 0
		}
		return values[len(values)-1]
	}
	ema20, ema50 := lastOf(20), lastOf(50)
	ema200 := 0.0
	if len(s.closes) >= 200 {
		ema200 = lastOf(200)
	}
	price := s.closes[len(s.closes)-1]

	res := IndicatorResult{Name: IndEMA, Vote: db.SignalHold, Values: map[string]float64{
		"ema_20": ema20, "ema_50": ema50, "ema_200": ema200,
	}}
	switch {
	case price > ema20 && ema20 > ema50 && (ema200 == 0 || ema50 > ema200):
		res.Vote, res.Strength = db.SignalBuy, 75
	case price > ema20 && ema20 > ema50:
		res.Vote, res.Strength = db.SignalBuy, 60
	case price < ema20 && ema20 < ema50 && (ema200 == 0 || ema50 < ema200):
		res.Vote, res.Strength = db.SignalSell, 75
	case price < ema20 && ema20 < ema50:
		res.Vote, res.Strength = db.SignalSell, 60
	}
	return res, nil
}

// trueRanges returns the TR series; index 0 is the plain high-low range.
func trueRanges(s series) []float64 {
	tr := make([]float64, len(s.closes))
	for i := range s.closes {
		if i == 0 {
			tr[i] = s.high[i] - s.low[i]
			continue
		}
		tr[i] = math.Max(s.high[i]-s.low[i],
			math.Max(math.Abs(s.high[i]-s.closes[i-1]), math.Abs(s.low[i]-s.closes[i-1])))
	}
	return tr
}

// smoothWilder applies Wilder's smoothing: seed with the simple average of
// the first period values, then result = (prev*(p-1) + x) / p.
func smoothWilder(data []float64, period int) []float64 {
	n := len(data)
	result := make([]float64, n)
	if n < period {
		return result
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		result[i] = (result[i-1]*float64(period-1) + data[i]) / float64(period)
	}
	return result
}

func computeATR(s series) (float64, error) {
	if len(s.closes) < 15 {
		return 0, fmt.Errorf("need 15 bars, got %d", len(s.closes))
	}
	atr := smoothWilder(trueRanges(s), 14)
	return atr[len(atr)-1], nil
}

func computeADX(s series) (IndicatorResult, error) {
	n := len(s.closes)
	period := 14
	if n < period*2 {
		return hold(IndADX), fmt.Errorf("need %d bars, got %d", period*2, n)
	}

	tr := trueRanges(s)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := s.high[i] - s.high[i-1]
		downMove := s.low[i-1] - s.low[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	smoothTR := smoothWilder(tr, period)
	smoothPlusDM := smoothWilder(plusDM, period)
	smoothMinusDM := smoothWilder(minusDM, period)

	dx := make([]float64, n)
	var plusDI, minusDI float64
	for i := period; i < n; i++ {
		if smoothTR[i] == 0 {
			continue
		}
		pdi := 100 * smoothPlusDM[i] / smoothTR[i]
		mdi := 100 * smoothMinusDM[i] / smoothTR[i]
		if sum := pdi + mdi; sum != 0 {
			dx[i] = 100 * math.Abs(pdi-mdi) / sum
		}
		plusDI, minusDI = pdi, mdi
	}
	adx := smoothWilder(dx, period)[n-1]

	res := IndicatorResult{Name: IndADX, Vote: db.SignalHold, Values: map[string]float64{
		"adx": adx, "plus_di": plusDI, "minus_di": minusDI,
	}}
	if adx >= 25 {
		strength := clamp(adx+25, 0, 100)
		if plusDI > minusDI {
			res.Vote, res.Strength = db.SignalBuy, strength
		} else if minusDI > plusDI {
			res.Vote, res.Strength = db.SignalSell, strength
		}
	}
	return res, nil
}

func computeStochastic(s series) (IndicatorResult, error) {
	n := len(s.closes)
	kPeriod, dPeriod := 14, 3
	if n < kPeriod+dPeriod {
		return hold(IndStochastic), fmt.Errorf("need %d bars, got %d", kPeriod+dPeriod, n)
	}

	k := make([]float64, 0, n-kPeriod+1)
	for i := kPeriod - 1; i < n; i++ {
		lo, hi := s.low[i], s.high[i]
		for j := i - kPeriod + 1; j <= i; j++ {
			lo = math.Min(lo, s.low[j])
			hi = math.Max(hi, s.high[j])
		}
		if hi == lo {
			k = append(k, 50)
			continue
		}
		k = append(k, 100*(s.closes[i]-lo)/(hi-lo))
	}

	d := 0.0
	for _, v := range k[len(k)-dPeriod:] {
		d += v
	}
	d /= float64(dPeriod)
	lastK := k[len(k)-1]

	res := IndicatorResult{Name: IndStochastic, Vote: db.SignalHold, Values: map[string]float64{"k": lastK, "d": d}}
	switch {
	case lastK < 20 && lastK > d:
		res.Vote = db.SignalBuy
		res.Strength = clamp(50+(20-lastK)/20*50, 0, 100)
	case lastK > 80 && lastK < d:
		res.Vote = db.SignalSell
		res.Strength = clamp(50+(lastK-80)/20*50, 0, 100)
	}
	return res, nil
}

func computeOBV(s series) (IndicatorResult, error) {
	n := len(s.closes)
	if n < 11 {
		return hold(IndOBV), fmt.Errorf("need 11 bars, got %d", n)
	}

	obv := make([]float64, n)
	for i := 1; i < n; i++ {
		switch {
		case s.closes[i] > s.closes[i-1]:
			obv[i] = obv[i-1] + s.volume[i]
		case s.closes[i] < s.closes[i-1]:
			obv[i] = obv[i-1] - s.volume[i]
		default:
			obv[i] = obv[i-1]
		}
	}

	// Slope proxy: last OBV against its 10-bar average.
	avg := 0.0
	for _, v := range obv[n-10:] {
		avg += v
	}
	avg /= 10
	last := obv[n-1]

	res := IndicatorResult{Name: IndOBV, Vote: db.SignalHold, Values: map[string]float64{"obv": last, "obv_avg_10": avg}}
	switch {
	case last > avg:
		res.Vote, res.Strength = db.SignalBuy, 60
	case last < avg:
		res.Vote, res.Strength = db.SignalSell, 60
	}
	return res, nil
}

func midpointRange(s series, end, period int) float64 {
	lo, hi := s.low[end], s.high[end]
	for i := end - period + 1; i <= end; i++ {
		lo = math.Min(lo, s.low[i])
		hi = math.Max(hi, s.high[i])
	}
	return (hi + lo) / 2
}

func computeIchimoku(s series) (IndicatorResult, error) {
	n := len(s.closes)
	if n < 78 { // 52-bar span B computed 26 bars back
		return hold(IndIchimoku), fmt.Errorf("need 78 bars, got %d", n)
	}
	last := n - 1
	conversion := midpointRange(s, last, 9)
	base := midpointRange(s, last, 26)

	// Cloud under the current bar: spans computed 26 bars ago.
	displaced := last - 26
	spanA := (midpointRange(s, displaced, 9) + midpointRange(s, displaced, 26)) / 2
	spanB := midpointRange(s, displaced, 52)
	cloudTop := math.Max(spanA, spanB)
	cloudBottom := math.Min(spanA, spanB)
	price := s.closes[last]

	res := IndicatorResult{Name: IndIchimoku, Vote: db.SignalHold, Values: map[string]float64{
		"conversion": conversion, "base": base, "span_a": spanA, "span_b": spanB,
	}}
	switch {
	case price > cloudTop && conversion > base:
		res.Vote, res.Strength = db.SignalBuy, 70
	case price > cloudTop:
		res.Vote, res.Strength = db.SignalBuy, 55
	case price < cloudBottom && conversion < base:
		res.Vote, res.Strength = db.SignalSell, 70
	case price < cloudBottom:
		res.Vote, res.Strength = db.SignalSell, 55
	}
	return res, nil
}

func computeVWAP(s series) (IndicatorResult, error) {
	n := len(s.closes)
	window := 20
	if n < window {
		return hold(IndVWAP), fmt.Errorf("need %d bars, got %d", window, n)
	}

	var pv, vol float64
	for i := n - window; i < n; i++ {
		typical := (s.high[i] + s.low[i] + s.closes[i]) / 3
		pv += typical * s.volume[i]
		vol += s.volume[i]
	}
	if vol == 0 {
		return hold(IndVWAP), fmt.Errorf("zero volume over window")
	}
	vwap := pv / vol
	price := s.closes[n-1]
	devPct := math.Abs(price-vwap) / vwap * 100

	res := IndicatorResult{Name: IndVWAP, Vote: db.SignalHold, Values: map[string]float64{"vwap": vwap}}
	strength := clamp(55+devPct*10, 0, 80)
	if price > vwap {
		res.Vote, res.Strength = db.SignalBuy, strength
	} else if price < vwap {
		res.Vote, res.Strength = db.SignalSell, strength
	}
	return res, nil
}

func computeSuperTrend(s series) (IndicatorResult, error) {
	n := len(s.closes)
	period, mult := 10, 3.0
	if n < period*2 {
		return hold(IndSuperTrend), fmt.Errorf("need %d bars, got %d", period*2, n)
	}

	atr := smoothWilder(trueRanges(s), period)
	upper := make([]float64, n)
	lower := make([]float64, n)
	up := true // trend direction

	for i := period; i < n; i++ {
		mid := (s.high[i] + s.low[i]) / 2
		basicUpper := mid + mult*atr[i]
		basicLower := mid - mult*atr[i]

		// Final bands ratchet while the trend holds.
		if i == period || basicUpper < upper[i-1] || s.closes[i-1] > upper[i-1] {
			upper[i] = basicUpper
		} else {
			upper[i] = upper[i-1]
		}
		if i == period || basicLower > lower[i-1] || s.closes[i-1] < lower[i-1] {
			lower[i] = basicLower
		} else {
			lower[i] = lower[i-1]
		}

		if up && s.closes[i] < lower[i] {
			up = false
		} else if !up && s.closes[i] > upper[i] {
			up = true
		}
	}

	line := lower[n-1]
	if !up {
		line = upper[n-1]
	}
	res := IndicatorResult{Name: IndSuperTrend, Vote: db.SignalHold, Values: map[string]float64{"line": line}}
	if up {
		res.Vote, res.Strength = db.SignalBuy, 65
	} else {
		res.Vote, res.Strength = db.SignalSell, 65
	}
	return res, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
