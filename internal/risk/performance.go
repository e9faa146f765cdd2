package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/decision"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

const (
	performanceInterval = 5 * time.Minute
	performanceWindow   = "24 hours"

	// Auto-disable a symbol under this win rate once the sample is large
	// enough to mean something.
	disableWinRate    = 30.0
	disableMinSamples = 5

	// Executed signals with no linked closed trade resolve as EXPIRED
	// after this long.
	outcomeExpiry = 48 * time.Hour

	outcomeBatch = 100
)

// PerformanceStore is the persistence surface of the performance worker
type PerformanceStore interface {
	ClosedSymbolsSince(ctx context.Context, cutoff string) ([]string, error)
	RefreshSymbolPerformance(ctx context.Context, symbol string) (*db.SymbolPerformance, error)
	SetSymbolStatus(ctx context.Context, symbol, status string, reason *string) error
	ExecutedSignalsWithoutOutcome(ctx context.Context, limit int) ([]*db.Signal, error)
	ClosedTradeBySignal(ctx context.Context, signalID uuid.UUID) (*db.Trade, error)
	SetSignalOutcome(ctx context.Context, id uuid.UUID, outcome db.SignalOutcome) error
	GetGlobalSettings(ctx context.Context) (*db.GlobalSettings, error)
	ExpireSignals(ctx context.Context, maxAge time.Duration) (int64, error)
}

// PerformanceWorker maintains the rolling 24h per-symbol stats, auto-disables
// chronically losing symbols, expires stale active signals and back-fills
// signal outcomes from closed trades.
type PerformanceWorker struct {
	store     PerformanceStore
	decisions DecisionSink
	notifier  Notifier
	log       zerolog.Logger
	interval  time.Duration
}

func NewPerformanceWorker(store PerformanceStore, decisions DecisionSink, notifier Notifier, logger zerolog.Logger) *PerformanceWorker {
	return &PerformanceWorker{
		store:     store,
		decisions: decisions,
		notifier:  notifier,
		log:       logger,
		interval:  performanceInterval,
	}
}

// Run loops until the context ends
func (w *PerformanceWorker) Run(ctx context.Context) error {
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

func (w *PerformanceWorker) runOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerRun("performance", float64(time.Since(start).Milliseconds()))
	}()

	w.expireStale(ctx)
	w.refreshSymbols(ctx)
	w.backfillOutcomes(ctx)
}

// expireStale buries active signals nobody executed within the freshness
// window from global settings. A zero window disables the sweep.
func (w *PerformanceWorker) expireStale(ctx context.Context) {
	settings, err := w.store.GetGlobalSettings(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Signal expiry failed to load settings")
		return
	}
	maxAge := time.Duration(settings.SignalMaxAgeMinutes) * time.Minute
	if maxAge <= 0 {
		return
	}
	expired, err := w.store.ExpireSignals(ctx, maxAge)
	if err != nil {
		w.log.Error().Err(err).Msg("Signal expiry sweep failed")
		return
	}
	if expired > 0 {
		w.log.Info().Int64("expired", expired).Dur("max_age", maxAge).Msg("Stale signals expired")
	}
}

func (w *PerformanceWorker) refreshSymbols(ctx context.Context) {
	symbols, err := w.store.ClosedSymbolsSince(ctx, performanceWindow)
	if err != nil {
		w.log.Error().Err(err).Msg("Performance worker failed to list symbols")
		return
	}
	for _, symbol := range symbols {
		perf, err := w.store.RefreshSymbolPerformance(ctx, symbol)
		if err != nil {
			w.log.Error().Err(err).Str("symbol", symbol).Msg("Performance refresh failed")
			continue
		}
		if err := w.maybeDisable(ctx, perf); err != nil {
			w.log.Error().Err(err).Str("symbol", symbol).Msg("Auto-disable failed")
		}
	}
}

func (w *PerformanceWorker) maybeDisable(ctx context.Context, perf *db.SymbolPerformance) error {
	if perf.Status != "active" || perf.SampleSize24h < disableMinSamples || perf.WinRate24h >= disableWinRate {
		return nil
	}

	reason := fmt.Sprintf("Win rate %.1f%% over %d trades in 24h, below %.0f%%",
		perf.WinRate24h, perf.SampleSize24h, disableWinRate)
	if err := w.store.SetSymbolStatus(ctx, perf.Symbol, "disabled", &reason); err != nil {
		return fmt.Errorf("failed to disable symbol: %w", err)
	}

	metrics.RecordSymbolPause("auto_disable")
	w.log.Warn().Str("symbol", perf.Symbol).Float64("win_rate", perf.WinRate24h).
		Int("samples", perf.SampleSize24h).Msg("Symbol auto-disabled")

	symbol := perf.Symbol
	w.decisions.Log(ctx, &db.AIDecision{
		DecisionType: decision.TypeRiskLimit,
		Symbol:       &symbol,
		Approved:     false,
		Reason:       reason,
		Details:      map[string]interface{}{"win_rate": perf.WinRate24h, "samples": perf.SampleSize24h},
		Impact:       db.ImpactHigh,
	})
	if w.notifier != nil {
		_ = w.notifier.SendWarning(ctx, "Symbol auto-disabled", reason,
			map[string]interface{}{"symbol": perf.Symbol})
	}
	return nil
}

func (w *PerformanceWorker) backfillOutcomes(ctx context.Context) {
	signals, err := w.store.ExecutedSignalsWithoutOutcome(ctx, outcomeBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("Outcome backfill failed to list signals")
		return
	}
	for _, sig := range signals {
		if err := w.resolveOutcome(ctx, sig); err != nil {
			w.log.Error().Err(err).Str("signal_id", sig.ID.String()).Msg("Outcome resolution failed")
		}
	}
}

func (w *PerformanceWorker) resolveOutcome(ctx context.Context, sig *db.Signal) error {
	trade, err := w.store.ClosedTradeBySignal(ctx, sig.ID)
	if err != nil {
		return err
	}
	if trade == nil {
		if time.Since(sig.CreatedAt) > outcomeExpiry {
			return w.store.SetSignalOutcome(ctx, sig.ID, db.OutcomeExpired)
		}
		return nil
	}

	outcome := db.OutcomeLoss
	if trade.Profit > 0 {
		outcome = db.OutcomeWin
	}
	return w.store.SetSignalOutcome(ctx, sig.ID, outcome)
}
