package decision

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

// Retention for ai_decisions rows
const retention = 30 * 24 * time.Hour

// CleanupStore deletes aged decision rows
type CleanupStore interface {
	DeleteDecisionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupWorker prunes decision rows past the retention window
type CleanupWorker struct {
	store    CleanupStore
	log      zerolog.Logger
	interval time.Duration
}

func NewCleanupWorker(store CleanupStore, logger zerolog.Logger) *CleanupWorker {
	return &CleanupWorker{store: store, log: logger, interval: time.Hour}
}

// Run loops until the context ends
func (w *CleanupWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	start := time.Now()
	deleted, err := w.store.DeleteDecisionsBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		w.log.Error().Err(err).Msg("Decision cleanup failed")
		return
	}
	if deleted > 0 {
		w.log.Info().Int64("deleted", deleted).Msg("Pruned aged decisions")
	}
	metrics.RecordWorkerRun("decision_cleanup", float64(time.Since(start).Milliseconds()))
}
