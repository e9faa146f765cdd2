package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpreadStatsAverage(t *testing.T) {
	s := NewSpreadStats(time.Hour)
	now := time.Now().UTC()

	s.Observe("EURUSD", 2.0, now.Add(-30*time.Minute))
	s.Observe("EURUSD", 3.0, now.Add(-10*time.Minute))
	s.Observe("EURUSD", 4.0, now)

	avg, count := s.Average("EURUSD", now)
	assert.Equal(t, 3, count)
	assert.InDelta(t, 3.0, avg, 1e-9)
}

func TestSpreadStatsPrunesOldSamples(t *testing.T) {
	s := NewSpreadStats(time.Hour)
	now := time.Now().UTC()

	s.Observe("EURUSD", 100.0, now.Add(-2*time.Hour))
	s.Observe("EURUSD", 2.0, now)

	avg, count := s.Average("EURUSD", now)
	assert.Equal(t, 1, count)
	assert.InDelta(t, 2.0, avg, 1e-9)
}

func TestSpreadStatsColdSymbol(t *testing.T) {
	s := NewSpreadStats(time.Hour)

	avg, count := s.Average("GBPUSD", time.Now())
	assert.Zero(t, count)
	assert.Zero(t, avg)
}

func TestSpreadStatsSymbolsIndependent(t *testing.T) {
	s := NewSpreadStats(time.Hour)
	now := time.Now().UTC()

	s.Observe("EURUSD", 2.0, now)
	s.Observe("XAUUSD", 0.40, now)

	avg, _ := s.Average("XAUUSD", now)
	assert.InDelta(t, 0.40, avg, 1e-9)
}
