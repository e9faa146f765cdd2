package signal

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradebridge/internal/db"
)

// trendBars builds n hourly bars walking from start by step per bar, with a
// small alternating wiggle so ranges are non-degenerate.
func trendBars(n int, start, step float64) []db.OHLCBar {
	bars := make([]db.OHLCBar, n)
	t := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < n; i++ {
		wiggle := 0.0001
		if i%2 == 0 {
			wiggle = -0.0001
		}
		open := price
		price += step + wiggle
		bars[i] = db.OHLCBar{
			Symbol:    "EURUSD",
			Timeframe: "H1",
			OpenTime:  t.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      math.Max(open, price) + 0.0003,
			Low:       math.Min(open, price) - 0.0003,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

func upBars(n int) []db.OHLCBar   { return trendBars(n, 1.0500, 0.0005) }
func downBars(n int) []db.OHLCBar { return trendBars(n, 1.1500, -0.0005) }

func TestSmoothWilder(t *testing.T) {
	data := []float64{2, 2, 2, 2, 4}
	out := smoothWilder(data, 4)
	assert.InDelta(t, 2, out[3], 1e-9) // seed is the simple average
	assert.InDelta(t, (2*3+4)/4.0, out[4], 1e-9)
	assert.Zero(t, out[0])
}

func TestComputeRSIDirections(t *testing.T) {
	up, err := computeRSI(newSeries(upBars(60)))
	require.NoError(t, err)
	assert.Equal(t, db.SignalSell, up.Vote, "persistent rally reads overbought")
	assert.Greater(t, up.Values["rsi"], 70.0)

	down, err := computeRSI(newSeries(downBars(60)))
	require.NoError(t, err)
	assert.Equal(t, db.SignalBuy, down.Vote)
	assert.Less(t, down.Values["rsi"], 30.0)
}

func TestComputeATR(t *testing.T) {
	atr, err := computeATR(newSeries(upBars(60)))
	require.NoError(t, err)
	assert.Greater(t, atr, 0.0)
	assert.Less(t, atr, 0.01)
}

func TestComputeADXTrending(t *testing.T) {
	res, err := computeADX(newSeries(downBars(80)))
	require.NoError(t, err)
	assert.Equal(t, db.SignalSell, res.Vote)
	assert.GreaterOrEqual(t, res.Values["adx"], 25.0)
	assert.Greater(t, res.Values["minus_di"], res.Values["plus_di"])
}

func TestComputeStochasticExtremes(t *testing.T) {
	res, err := computeStochastic(newSeries(downBars(80)))
	require.NoError(t, err)
	// Deep in a downtrend %K pins near zero; no BUY without a %K/%D cross.
	assert.Less(t, res.Values["k"], 20.0)

	res, err = computeStochastic(newSeries(upBars(80)))
	require.NoError(t, err)
	assert.Greater(t, res.Values["k"], 80.0)
}

func TestComputeOBV(t *testing.T) {
	res, err := computeOBV(newSeries(upBars(40)))
	require.NoError(t, err)
	assert.Equal(t, db.SignalBuy, res.Vote)

	res, err = computeOBV(newSeries(downBars(40)))
	require.NoError(t, err)
	assert.Equal(t, db.SignalSell, res.Vote)
}

func TestComputeSuperTrendFollowsTrend(t *testing.T) {
	res, err := computeSuperTrend(newSeries(upBars(80)))
	require.NoError(t, err)
	assert.Equal(t, db.SignalBuy, res.Vote)

	res, err = computeSuperTrend(newSeries(downBars(80)))
	require.NoError(t, err)
	assert.Equal(t, db.SignalSell, res.Vote)
}

func TestComputeIchimokuTrending(t *testing.T) {
	res, err := computeIchimoku(newSeries(upBars(100)))
	require.NoError(t, err)
	assert.Equal(t, db.SignalBuy, res.Vote)
}

func TestComputeVWAP(t *testing.T) {
	res, err := computeVWAP(newSeries(upBars(40)))
	require.NoError(t, err)
	assert.Equal(t, db.SignalBuy, res.Vote)
	assert.Greater(t, res.Values["vwap"], 0.0)
}

func TestComputeEMAAlignment(t *testing.T) {
	res, err := computeEMA(newSeries(upBars(120)))
	require.NoError(t, err)
	assert.Equal(t, db.SignalBuy, res.Vote)
	assert.Greater(t, res.Values["ema_20"], res.Values["ema_50"])
}

func TestComputeMACDTrending(t *testing.T) {
	res, err := computeMACD(newSeries(downBars(80)))
	require.NoError(t, err)
	assert.Equal(t, db.SignalSell, res.Vote)
	assert.Less(t, res.Values["histogram"], 0.0)
}

func TestIndicatorsInsufficientData(t *testing.T) {
	short := newSeries(upBars(5))

	_, err := computeRSI(short)
	assert.Error(t, err)
	_, err = computeADX(short)
	assert.Error(t, err)
	_, err = computeIchimoku(short)
	assert.Error(t, err)
	_, err = computeATR(short)
	assert.Error(t, err)
}

func TestSnapshotResultLookup(t *testing.T) {
	snap := &Snapshot{Results: []IndicatorResult{{Name: IndRSI, Vote: db.SignalBuy}}}
	require.NotNil(t, snap.Result(IndRSI))
	assert.Nil(t, snap.Result(IndMACD))
}
