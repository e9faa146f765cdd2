package market

import (
	"sync"
	"time"

	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

// spreadSample is one observed spread with its arrival time
type spreadSample struct {
	spread float64
	at     time.Time
}

// SpreadStats keeps a rolling per-symbol spread window in memory so the
// pre-execution spread gate never needs a database round-trip on the hot
// path. Samples older than the window are pruned on write and read.
type SpreadStats struct {
	window time.Duration

	mu      sync.Mutex
	samples map[string][]spreadSample
}

// NewSpreadStats creates rolling statistics over the given window
// (60 minutes for the execution gate).
func NewSpreadStats(window time.Duration) *SpreadStats {
	if window <= 0 {
		window = time.Hour
	}
	return &SpreadStats{
		window:  window,
		samples: make(map[string][]spreadSample),
	}
}

// Observe records one spread sample. Wire it to the tick hub.
func (s *SpreadStats) Observe(symbol string, spread float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := at.Add(-s.window)
	kept := prune(s.samples[symbol], cutoff)
	s.samples[symbol] = append(kept, spreadSample{spread: spread, at: at})

	metrics.UpdateSpread(symbol, spread)
}

// Average returns the rolling mean spread and the sample count. A zero count
// means the gate has no basis for the 3x-average check and should fall back
// to the hard cap alone.
func (s *SpreadStats) Average(symbol string, now time.Time) (float64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := prune(s.samples[symbol], now.Add(-s.window))
	s.samples[symbol] = kept
	if len(kept) == 0 {
		return 0, 0
	}

	var sum float64
	for _, sample := range kept {
		sum += sample.spread
	}
	return sum / float64(len(kept)), len(kept)
}

func prune(samples []spreadSample, cutoff time.Time) []spreadSample {
	i := 0
	for i < len(samples) && samples[i].at.Before(cutoff) {
		i++
	}
	return samples[i:]
}
