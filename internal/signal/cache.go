package signal

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

type cohortKey struct {
	symbol    string
	timeframe string
}

type cohortEntry struct {
	barClose time.Time
	snapshot *Snapshot
}

// SnapshotCache holds one indicator cohort per (symbol, timeframe), keyed by
// the closing bar so every evaluation inside the same bar reuses one
// snapshot. singleflight collapses concurrent computations of the same
// cohort; a new bar close replaces the previous entry.
type SnapshotCache struct {
	mu      sync.Mutex
	entries map[cohortKey]cohortEntry
	group   singleflight.Group
}

func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{entries: make(map[cohortKey]cohortEntry)}
}

// Get returns the cohort for (symbol, timeframe, barClose), computing it at
// most once per bar.
func (c *SnapshotCache) Get(symbol, timeframe string, barClose time.Time, compute func() (*Snapshot, error)) (*Snapshot, error) {
	key := cohortKey{symbol, timeframe}

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && entry.barClose.Equal(barClose) {
		metrics.RecordIndicatorCache(true)
		return entry.snapshot, nil
	}
	metrics.RecordIndicatorCache(false)

	flightKey := fmt.Sprintf("%s|%s|%d", symbol, timeframe, barClose.UnixNano())
	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		snap, err := compute()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cohortEntry{barClose: barClose, snapshot: snap}
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Invalidate drops the cached cohort for (symbol, timeframe)
func (c *SnapshotCache) Invalidate(symbol, timeframe string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cohortKey{symbol, timeframe})
}
