package market

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/tradebridge/internal/db"
)

// BarStore is the OHLC read surface the coverage check uses
type BarStore interface {
	CountBarsSince(ctx context.Context, symbol, timeframe string, since time.Time) (int64, error)
	LatestBarTime(ctx context.Context, symbol, timeframe string) (time.Time, error)
	InsertOHLCBars(ctx context.Context, bars []db.OHLCBar) (int64, error)
}

// Coverage is the answer to an EA's "should I upload history" question
type Coverage struct {
	Symbol          string  `json:"symbol"`
	Timeframe       string  `json:"timeframe"`
	RequiredBars    int     `json:"required_bars"`
	StoredBars      int64   `json:"stored_bars"`
	CoveragePercent float64 `json:"coverage_percent"`
	NeedsUpdate     bool    `json:"needs_update"`
}

// A stored set covering at least this share of the requested depth, with a
// fresh head, does not need re-upload.
const coverageCompleteThreshold = 95.0

// CheckCoverage reports how much of the requested bar depth is already
// stored. needs_update is set when the depth is short or the newest bar is
// more than two bar lengths behind now.
func CheckCoverage(ctx context.Context, store BarStore, symbol, timeframe string, requiredBars int) (*Coverage, error) {
	d, err := TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}
	if requiredBars <= 0 {
		return nil, fmt.Errorf("required_bars must be positive, got %d", requiredBars)
	}

	now := time.Now().UTC()
	since := now.Add(-time.Duration(requiredBars) * d)

	stored, err := store.CountBarsSince(ctx, symbol, timeframe, since)
	if err != nil {
		return nil, err
	}

	percent := float64(stored) / float64(requiredBars) * 100
	if percent > 100 {
		percent = 100
	}

	stale := true
	latest, err := store.LatestBarTime(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if !latest.IsZero() {
		stale = now.Sub(latest) > 2*d
	}

	return &Coverage{
		Symbol:          symbol,
		Timeframe:       timeframe,
		RequiredBars:    requiredBars,
		StoredBars:      stored,
		CoveragePercent: percent,
		NeedsUpdate:     percent < coverageCompleteThreshold || stale,
	}, nil
}
