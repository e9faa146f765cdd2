package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

const (
	newsInterval = time.Minute
	// Pause runs from T-15m to T+5m around the event.
	newsPostEventPause = 5 * time.Minute
)

// NewsStore lists calendar events whose pause window is open
type NewsStore interface {
	ActiveNewsWindows(ctx context.Context, now time.Time) ([]*db.NewsEvent, error)
}

// NewsWorker pauses currencies around high-impact calendar events. Any
// symbol containing a paused currency is blocked at the auto-trade gate.
type NewsWorker struct {
	store    NewsStore
	pauses   *PauseRegistry
	log      zerolog.Logger
	interval time.Duration

	seen map[int64]struct{} // event ids already paused this process
}

func NewNewsWorker(store NewsStore, pauses *PauseRegistry, logger zerolog.Logger) *NewsWorker {
	return &NewsWorker{
		store:    store,
		pauses:   pauses,
		log:      logger,
		interval: newsInterval,
		seen:     make(map[int64]struct{}),
	}
}

// Run loops until the context ends
func (w *NewsWorker) Run(ctx context.Context) error {
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

func (w *NewsWorker) runOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerRun("news_pause", float64(time.Since(start).Milliseconds()))
	}()

	events, err := w.store.ActiveNewsWindows(ctx, time.Now())
	if err != nil {
		w.log.Error().Err(err).Msg("News worker failed to list events")
		return
	}
	for _, event := range events {
		until := event.EventTime.Add(newsPostEventPause)
		w.pauses.PauseCurrency(event.Currency, until,
			fmt.Sprintf("High-impact news: %s (%s)", event.Title, event.Currency))

		if _, done := w.seen[event.ID]; done {
			continue
		}
		w.seen[event.ID] = struct{}{}
		metrics.RecordSymbolPause("news")
		w.log.Info().Str("currency", event.Currency).Str("title", event.Title).
			Time("until", until).Msg("Currency paused for news event")
	}
}
