package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/bus"
	"github.com/ajitpratap0/tradebridge/internal/config"
	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/market"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
	"github.com/ajitpratap0/tradebridge/internal/position"
)

// MinGenerationConfidence is the floor a signal must clear after all
// corrections to be persisted at all. The auto-trader applies its own,
// higher execution floor.
const MinGenerationConfidence = 50.0

// Store is the persistence surface the engine reads and writes
type Store interface {
	RecentBars(ctx context.Context, symbol, timeframe string, n int) ([]db.OHLCBar, error)
	GetBrokerSymbol(ctx context.Context, accountID int64, symbol string) (*db.BrokerSymbol, error)
	UpsertActiveSignal(ctx context.Context, sig *db.Signal) (*db.Signal, error)
}

// TickSource yields the freshest tick for entry pricing; nil tick means no
// recent quote.
type TickSource interface {
	LatestTick(ctx context.Context, symbol string) (*db.Tick, error)
}

// Publisher emits domain events; the NATS bus implements it
type Publisher interface {
	Publish(subject string, evt *bus.Event)
}

// Evaluation is the pipeline outcome before persistence; validation mode
// returns it without writing anything.
type Evaluation struct {
	Direction  db.SignalType `json:"direction"`
	Confidence float64       `json:"confidence"`
	Ensemble   Ensemble      `json:"ensemble"`
	Snapshot   *Snapshot     `json:"-"`
	Patterns   []string      `json:"patterns,omitempty"`
	DropReason string        `json:"drop_reason,omitempty"`
}

// Engine runs the signal pipeline
type Engine struct {
	store Store
	ticks TickSource
	calc  *position.Calculator
	rules *config.SymbolRules
	pub   Publisher
	cache *SnapshotCache
	log   zerolog.Logger

	// MTFEnabled turns the higher-timeframe confluence veto on
	MTFEnabled bool
	// Timeframes evaluated on tick arrival
	Timeframes []string

	mu        sync.Mutex
	lastEval  map[string]time.Time
	throttle  time.Duration
	barsDepth int
}

// NewEngine builds the signal engine. pub may be nil in tests.
func NewEngine(store Store, ticks TickSource, calc *position.Calculator, rules *config.SymbolRules, pub Publisher, logger zerolog.Logger) *Engine {
	return &Engine{
		store:      store,
		ticks:      ticks,
		calc:       calc,
		rules:      rules,
		pub:        pub,
		cache:      NewSnapshotCache(),
		log:        logger,
		MTFEnabled: true,
		Timeframes: []string{"H1"},
		lastEval:   make(map[string]time.Time),
		throttle:   5 * time.Second,
		barsDepth:  220, // enough for EMA(200) plus warmup
	}
}

// EvaluateTick runs throttled evaluations for every configured timeframe of
// one account's symbol. Designed as a tick hub subscriber via the bridge.
func (e *Engine) EvaluateTick(ctx context.Context, accountID int64, tick *db.Tick) {
	for _, timeframe := range e.Timeframes {
		if !e.shouldEvaluate(accountID, tick.Symbol, timeframe) {
			continue
		}
		if _, err := e.Evaluate(ctx, accountID, tick.Symbol, timeframe); err != nil {
			e.log.Warn().Err(err).
				Int64("account_id", accountID).
				Str("symbol", tick.Symbol).
				Str("timeframe", timeframe).
				Msg("Signal evaluation failed")
		}
	}
}

func (e *Engine) shouldEvaluate(accountID int64, symbol, timeframe string) bool {
	key := fmt.Sprintf("%d|%s|%s", accountID, symbol, timeframe)
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastEval[key]; ok && now.Sub(last) < e.throttle {
		return false
	}
	e.lastEval[key] = now
	return true
}

// Evaluate runs the full pipeline and persists the resulting signal.
// A nil signal with nil error means the pipeline dropped the evaluation.
func (e *Engine) Evaluate(ctx context.Context, accountID int64, symbol, timeframe string) (*db.Signal, error) {
	start := time.Now()
	defer func() {
		metrics.RecordSignalEvaluation(timeframe, float64(time.Since(start).Milliseconds()))
	}()

	eval, err := e.run(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if eval.DropReason != "" {
		metrics.RecordSignalDropped(eval.DropReason)
		e.log.Debug().Str("symbol", symbol).Str("timeframe", timeframe).
			Str("reason", eval.DropReason).Msg("Signal dropped")
		return nil, nil
	}

	// Entry from the freshest quote: longs pay the ask, shorts the bid.
	// No recent tick falls back to the last close.
	entry := eval.Snapshot.LastClose
	tick, err := e.ticks.LatestTick(ctx, symbol)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("Latest tick unavailable")
	} else if tick != nil {
		if eval.Direction == db.SignalBuy {
			entry = tick.Ask
		} else {
			entry = tick.Bid
		}
	}

	broker, err := e.store.GetBrokerSymbol(ctx, accountID, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load broker symbol %s: %w", symbol, err)
	}

	levels, err := e.calc.CalculateWithBroker(symbol, eval.Direction, entry, eval.Snapshot.ATR, broker)
	if err != nil {
		metrics.RecordSignalDropped(DropNoLevels)
		e.log.Info().Err(err).Str("symbol", symbol).Str("direction", string(eval.Direction)).
			Msg("Signal dropped, no computable levels")
		return nil, nil
	}

	if eval.Confidence < MinGenerationConfidence {
		metrics.RecordSignalDropped(DropFinalConfidence)
		return nil, nil
	}

	sig := &db.Signal{
		AccountID:         accountID,
		Symbol:            symbol,
		Timeframe:         timeframe,
		Type:              eval.Direction,
		Confidence:        eval.Confidence,
		EntryPrice:        entry,
		SLPrice:           levels.SL,
		TPPrice:           levels.TP,
		IndicatorSnapshot: snapshotJSON(eval, levels),
		Status:            db.SignalStatusActive,
	}
	stored, err := e.store.UpsertActiveSignal(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert signal: %w", err)
	}
	if stored.ID != sig.ID {
		// The existing active signal won; nothing new to announce.
		return nil, nil
	}

	metrics.RecordSignalGenerated(string(stored.Type))
	e.log.Info().
		Str("signal_id", stored.ID.String()).
		Int64("account_id", accountID).
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Str("type", string(stored.Type)).
		Float64("confidence", stored.Confidence).
		Float64("tp", stored.TPPrice).
		Float64("sl", stored.SLPrice).
		Msg("Signal created")

	if e.pub != nil {
		e.pub.Publish(bus.SubjectSignalCreated, &bus.Event{
			AccountID: accountID,
			Symbol:    symbol,
			Payload: map[string]interface{}{
				"signal_id":  stored.ID.String(),
				"timeframe":  timeframe,
				"type":       string(stored.Type),
				"confidence": stored.Confidence,
			},
		})
	}
	return stored, nil
}

// Validate re-runs the pipeline without persistence or entry pricing, for
// the strategy-validation worker checking whether an open trade's premise
// still holds.
func (e *Engine) Validate(ctx context.Context, symbol, timeframe string) (*Evaluation, error) {
	return e.run(ctx, symbol, timeframe)
}

// run executes steps 1-6: cohort, patterns, ensemble, bias guard, MTF veto
func (e *Engine) run(ctx context.Context, symbol, timeframe string) (*Evaluation, error) {
	snap, err := e.snapshotFor(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}

	class := e.rules.ClassFor(symbol)
	ensemble := EvaluateEnsemble(snap.Results, e.rules.WeightsFor(class))

	eval := &Evaluation{
		Direction:  ensemble.Direction,
		Confidence: ensemble.Confidence,
		Ensemble:   ensemble,
		Snapshot:   snap,
		DropReason: ensemble.DropReason,
	}
	for _, p := range snap.Patterns {
		if p.Direction == ensemble.Direction && p.Confirmed() {
			eval.Patterns = append(eval.Patterns, p.Name)
		}
	}
	if eval.DropReason != "" {
		return eval, nil
	}

	if e.MTFEnabled && timeframe != ConfluenceTimeframe {
		higher, err := e.snapshotFor(ctx, symbol, ConfluenceTimeframe)
		if err != nil {
			// Missing higher-timeframe data never blocks the signal.
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("Higher-timeframe cohort unavailable")
		} else if !ConfirmsHigherTimeframe(higher, eval.Direction) {
			eval.DropReason = DropMTFConflict
			e.log.Info().Str("symbol", symbol).Str("timeframe", timeframe).
				Str("direction", string(eval.Direction)).Msg("Signal dropped on higher-timeframe conflict")
			return eval, nil
		}
	}
	return eval, nil
}

// snapshotFor loads bars and computes (or reuses) the bar-close cohort
func (e *Engine) snapshotFor(ctx context.Context, symbol, timeframe string) (*Snapshot, error) {
	bars, err := e.store.RecentBars(ctx, symbol, timeframe, e.barsDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to load bars: %w", err)
	}
	if len(bars) < MinBars {
		return nil, fmt.Errorf("insufficient history for %s %s: %d bars, need %d",
			symbol, timeframe, len(bars), MinBars)
	}

	barClose, err := market.BarCloseTime(bars[len(bars)-1].OpenTime, timeframe)
	if err != nil {
		return nil, err
	}

	return e.cache.Get(symbol, timeframe, barClose, func() (*Snapshot, error) {
		return e.computeSnapshot(symbol, timeframe, barClose, bars), nil
	})
}

// computeSnapshot runs every indicator over one bar cohort. A failing
// indicator degrades to a zero-weight HOLD vote; it never halts the cohort.
func (e *Engine) computeSnapshot(symbol, timeframe string, barClose time.Time, bars []db.OHLCBar) *Snapshot {
	s := newSeries(bars)
	snap := &Snapshot{
		Symbol:       symbol,
		Timeframe:    timeframe,
		BarCloseTime: barClose,
		LastClose:    s.closes[len(s.closes)-1],
	}

	computations := []func(series) (IndicatorResult, error){
		computeRSI, computeMACD, computeBollinger, computeEMA, computeADX,
		computeStochastic, computeOBV, computeIchimoku, computeVWAP, computeSuperTrend,
	}
	for _, compute := range computations {
		res, err := compute(s)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", timeframe).
				Str("indicator", res.Name).Msg("Indicator failed, downgraded to HOLD")
			snap.Failed = append(snap.Failed, res.Name)
			res = hold(res.Name)
		}
		snap.Results = append(snap.Results, res)
	}

	atr, err := computeATR(s)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("ATR unavailable, calculator will synthesize")
	}
	snap.ATR = atr
	snap.Patterns = DetectPatterns(bars)
	return snap
}

// snapshotJSON flattens the evaluation into the signals.indicator_snapshot
// JSONB payload.
func snapshotJSON(eval *Evaluation, levels *position.Levels) map[string]interface{} {
	indicators := make(map[string]interface{}, len(eval.Snapshot.Results))
	for _, r := range eval.Snapshot.Results {
		indicators[r.Name] = map[string]interface{}{
			"vote":     string(r.Vote),
			"strength": r.Strength,
			"values":   r.Values,
		}
	}
	out := map[string]interface{}{
		"bar_close_time": eval.Snapshot.BarCloseTime,
		"atr":            eval.Snapshot.ATR,
		"indicators":     indicators,
		"buy_count":      eval.Ensemble.BuyCount,
		"sell_count":     eval.Ensemble.SellCount,
		"agreeing":       eval.Ensemble.Agreeing,
		"tp_reason":      levels.TPReason,
		"sl_reason":      levels.SLReason,
		"risk_reward":    levels.RiskReward,
	}
	if len(eval.Patterns) > 0 {
		out["patterns"] = eval.Patterns
	}
	if len(eval.Snapshot.Failed) > 0 {
		out["failed_indicators"] = eval.Snapshot.Failed
	}
	return out
}
