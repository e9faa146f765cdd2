// Package autotrader turns fresh signals into OPEN_TRADE commands under the
// global and per-symbol guardrails. Every rejection writes a decision record
// naming the gate that failed.
package autotrader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/bus"
	"github.com/ajitpratap0/tradebridge/internal/config"
	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/decision"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
	"github.com/ajitpratap0/tradebridge/internal/position"
)

// Gate step identifiers, in evaluation order
const (
	GateCircuitBreaker = "circuit_breaker"
	GateConnection     = "connection"
	GateSignalAge      = "signal_age"
	GateSymbolCooldown = "symbol_cooldown"
	GateMaxPositions   = "max_positions"
	GateMaxPerSymbol   = "max_positions_symbol"
	GateCorrelation    = "correlation"
	GateDailyDrawdown  = "daily_drawdown"
	GateConfidence     = "confidence"
	GateSpread         = "spread"
	GateTickFreshness  = "tick_freshness"
	GateSizing         = "sizing"
)

const (
	tickMaxAge      = 60 * time.Second
	spreadAvgFactor = 3.0
)

// Store is the persistence surface the gates read
type Store interface {
	GetAccount(ctx context.Context, id int64) (*db.Account, error)
	GetGlobalSettings(ctx context.Context) (*db.GlobalSettings, error)
	GetSignal(ctx context.Context, id uuid.UUID) (*db.Signal, error)
	CountOpenTrades(ctx context.Context, accountID int64, symbol string) (total int, forSymbol int, err error)
	OpenDirectionCounts(ctx context.Context, accountID int64, symbols []string) (map[db.SignalType]int, error)
	GetBrokerSymbol(ctx context.Context, accountID int64, symbol string) (*db.BrokerSymbol, error)
	GetSymbolPerformance(ctx context.Context, symbol string) (*db.SymbolPerformance, error)
	UpdateSignalStatus(ctx context.Context, id uuid.UUID, status db.SignalStatus) error
}

// ConnectionHealth reports whether an account's EA link is usable; the
// bridge connection registry implements it.
type ConnectionHealth interface {
	Healthy(accountID int64) bool
}

// SymbolGuard answers whether a symbol is temporarily blocked (SL-hit
// cooldown, news pause). The risk pause registry implements it.
type SymbolGuard interface {
	Paused(symbol string) (bool, string)
}

// TickSource yields the freshest quote
type TickSource interface {
	LatestTick(ctx context.Context, symbol string) (*db.Tick, error)
}

// SpreadSource is the rolling average the spread gate compares against
type SpreadSource interface {
	Average(symbol string, now time.Time) (float64, int)
}

// CommandSender persists and enqueues one EA command
type CommandSender interface {
	Send(ctx context.Context, cmd *db.Command) (*db.Command, error)
}

// DecisionSink records gate verdicts
type DecisionSink interface {
	Log(ctx context.Context, d *db.AIDecision)
}

// Trader runs the gating pipeline
type Trader struct {
	store     Store
	conns     ConnectionHealth
	guard     SymbolGuard
	ticks     TickSource
	spreads   SpreadSource
	sender    CommandSender
	decisions DecisionSink
	rules     *config.SymbolRules
	log       zerolog.Logger
}

func New(store Store, conns ConnectionHealth, guard SymbolGuard, ticks TickSource,
	spreads SpreadSource, sender CommandSender, decisions DecisionSink,
	rules *config.SymbolRules, logger zerolog.Logger) *Trader {
	return &Trader{
		store:     store,
		conns:     conns,
		guard:     guard,
		ticks:     ticks,
		spreads:   spreads,
		sender:    sender,
		decisions: decisions,
		rules:     rules,
		log:       logger,
	}
}

// HandleSignalEvent is the signal.created subscriber entry point
func (t *Trader) HandleSignalEvent(ctx context.Context, evt *bus.Event) {
	raw, ok := evt.Payload["signal_id"].(string)
	if !ok {
		t.log.Warn().Msg("signal.created event without signal_id")
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		t.log.Warn().Str("signal_id", raw).Msg("Unparseable signal id")
		return
	}
	sig, err := t.store.GetSignal(ctx, id)
	if err != nil {
		t.log.Error().Err(err).Str("signal_id", raw).Msg("Failed to load signal")
		return
	}
	if sig == nil || sig.Status != db.SignalStatusActive {
		return
	}
	if _, err := t.Execute(ctx, sig); err != nil {
		t.log.Error().Err(err).Str("signal_id", raw).Msg("Signal execution failed")
	}
}

// reject records a gate failure and short-circuits the pipeline
func (t *Trader) reject(ctx context.Context, sig *db.Signal, gate, reason, impact string) {
	metrics.RecordGateFailure(gate)
	symbol := sig.Symbol
	t.decisions.Log(ctx, &db.AIDecision{
		DecisionType: decision.TypeSignalGating,
		AccountID:    sig.AccountID,
		Symbol:       &symbol,
		SignalID:     &sig.ID,
		Approved:     false,
		Reason:       reason,
		Details:      map[string]interface{}{"gate": gate, "confidence": sig.Confidence},
		Impact:       impact,
	})
}

// Execute runs the full gating order for one active signal. A nil command
// with nil error means a gate rejected the signal.
func (t *Trader) Execute(ctx context.Context, sig *db.Signal) (*db.Command, error) {
	account, err := t.store.GetAccount(ctx, sig.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", sig.AccountID, err)
	}
	if account == nil {
		return nil, fmt.Errorf("account %d not found", sig.AccountID)
	}
	settings, err := t.store.GetGlobalSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	// 1. Circuit breaker and the global/per-account kill switches.
	if account.BreakerTripped {
		t.reject(ctx, sig, GateCircuitBreaker, "Circuit breaker tripped", db.ImpactCritical)
		return nil, nil
	}
	if !settings.AutotradeEnabled || !account.AutotradingEnabled {
		t.reject(ctx, sig, GateCircuitBreaker, "Auto-trading disabled", db.ImpactLow)
		return nil, nil
	}

	// 2. EA connection.
	if !t.conns.Healthy(sig.AccountID) {
		t.reject(ctx, sig, GateConnection, "EA connection unhealthy", db.ImpactMedium)
		return nil, nil
	}

	// 3. Signal freshness.
	maxAge := time.Duration(settings.SignalMaxAgeMinutes) * time.Minute
	if age := time.Since(sig.CreatedAt); age > maxAge {
		t.reject(ctx, sig, GateSignalAge,
			fmt.Sprintf("Signal age %s exceeds limit %s", age.Round(time.Second), maxAge), db.ImpactLow)
		return nil, nil
	}

	// 4. Symbol cooldowns: SL-hit pause, news pause, auto-disable.
	if paused, why := t.guard.Paused(sig.Symbol); paused {
		t.reject(ctx, sig, GateSymbolCooldown, why, db.ImpactMedium)
		return nil, nil
	}
	perf, err := t.store.GetSymbolPerformance(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load symbol performance: %w", err)
	}
	if perf != nil && perf.Status == "disabled" {
		reason := "Symbol disabled"
		if perf.AutoDisabledReason != nil {
			reason = *perf.AutoDisabledReason
		}
		t.reject(ctx, sig, GateSymbolCooldown, reason, db.ImpactMedium)
		return nil, nil
	}

	// 5 & 6. Position count ceilings.
	total, forSymbol, err := t.store.CountOpenTrades(ctx, sig.AccountID, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to count open trades: %w", err)
	}
	if total >= settings.MaxPositions {
		t.reject(ctx, sig, GateMaxPositions,
			fmt.Sprintf("Open positions %d at global limit %d", total, settings.MaxPositions), db.ImpactMedium)
		return nil, nil
	}
	if forSymbol >= settings.MaxPositionsPerSymbol {
		t.reject(ctx, sig, GateMaxPerSymbol,
			fmt.Sprintf("%s positions %d at symbol limit %d", sig.Symbol, forSymbol, settings.MaxPositionsPerSymbol), db.ImpactMedium)
		return nil, nil
	}

	// 7. Correlation exposure across declared groups.
	for _, group := range t.rules.GroupsFor(sig.Symbol) {
		counts, err := t.store.OpenDirectionCounts(ctx, sig.AccountID, group.Symbols)
		if err != nil {
			return nil, fmt.Errorf("failed to load correlation exposure: %w", err)
		}
		if counts[sig.Type] >= group.MaxSameDirection {
			t.reject(ctx, sig, GateCorrelation,
				fmt.Sprintf("Correlation group %s already holds %d %s positions", group.Name, counts[sig.Type], sig.Type), db.ImpactMedium)
			return nil, nil
		}
	}

	// 8. Daily drawdown.
	if account.Balance > 0 {
		lossPct := account.ProfitToday / account.Balance * 100
		if lossPct <= -settings.MaxDailyLossPercent {
			t.reject(ctx, sig, GateDailyDrawdown,
				fmt.Sprintf("Daily loss %.2f%% at limit %.2f%%", -lossPct, settings.MaxDailyLossPercent), db.ImpactHigh)
			return nil, nil
		}
	}

	// 9. Execution confidence floor, per-symbol override aware.
	floor := t.rules.MinConfidenceFor(sig.Symbol, settings.MinAutotradeConfidence)
	if sig.Confidence < floor {
		t.reject(ctx, sig, GateConfidence,
			fmt.Sprintf("Confidence %.1f below floor %.1f", sig.Confidence, floor), db.ImpactLow)
		return nil, nil
	}

	// 10 & 11. Spread and tick freshness from the latest quote.
	tick, err := t.ticks.LatestTick(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest tick: %w", err)
	}
	if tick == nil || time.Since(tick.Time) > tickMaxAge {
		t.reject(ctx, sig, GateTickFreshness, "No fresh tick for symbol", db.ImpactMedium)
		return nil, nil
	}
	broker, err := t.store.GetBrokerSymbol(ctx, sig.AccountID, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load broker symbol: %w", err)
	}
	if reason := t.spreadGate(sig.Symbol, tick.Spread, broker); reason != "" {
		t.reject(ctx, sig, GateSpread, reason, db.ImpactMedium)
		return nil, nil
	}

	// 12. Position sizing.
	volume, err := ComputeVolume(account.Balance, settings.RiskPerTradePercent, sig.EntryPrice, sig.SLPrice, broker)
	if err != nil {
		t.reject(ctx, sig, GateSizing, fmt.Sprintf("Sizing failed: %v", err), db.ImpactMedium)
		return nil, nil
	}

	// 13. Emit.
	signalID := sig.ID
	cmd := &db.Command{
		AccountID:      sig.AccountID,
		Type:           db.CommandOpenTrade,
		Priority:       db.PriorityNormal,
		LinkedSignalID: &signalID,
		Payload: map[string]interface{}{
			"symbol":    sig.Symbol,
			"direction": string(sig.Type),
			"volume":    volume,
			"sl":        sig.SLPrice,
			"tp":        sig.TPPrice,
			"comment":   EntryReason(sig),
		},
	}
	sent, err := t.sender.Send(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to send OPEN_TRADE: %w", err)
	}
	if err := t.store.UpdateSignalStatus(ctx, sig.ID, db.SignalStatusExecuted); err != nil {
		t.log.Error().Err(err).Str("signal_id", sig.ID.String()).Msg("Failed to mark signal executed")
	}

	metrics.RecordAutotradeEmitted()
	symbol := sig.Symbol
	t.decisions.Log(ctx, &db.AIDecision{
		DecisionType: decision.TypeSignalGating,
		AccountID:    sig.AccountID,
		Symbol:       &symbol,
		SignalID:     &signalID,
		Approved:     true,
		Reason:       "All gates passed",
		Details: map[string]interface{}{
			"volume":     volume,
			"confidence": sig.Confidence,
			"command_id": sent.CommandID.String(),
		},
		Impact: db.ImpactHigh,
	})
	t.log.Info().
		Str("signal_id", sig.ID.String()).
		Str("symbol", sig.Symbol).
		Str("direction", string(sig.Type)).
		Float64("volume", volume).
		Str("command_id", sent.CommandID.String()).
		Msg("OPEN_TRADE emitted")

	return sent, nil
}

// spreadGate returns a rejection reason, or empty when the spread passes.
// Two tests: 3x the rolling 60-minute average, and the asset-class hard cap.
func (t *Trader) spreadGate(symbol string, spread float64, broker *db.BrokerSymbol) string {
	if avg, n := t.spreads.Average(symbol, time.Now()); n > 0 && spread > avg*spreadAvgFactor {
		return fmt.Sprintf("Spread %.5f above 3x rolling average %.5f", spread, avg)
	}
	if limit := t.classSpreadCap(symbol, broker); limit > 0 && spread > limit {
		return fmt.Sprintf("Spread %.5f above class cap %.5f", spread, limit)
	}
	return ""
}

// classSpreadCap returns the hard spread ceiling for a symbol's asset class.
// Forex caps are quoted in pips; the rest in quote units.
func (t *Trader) classSpreadCap(symbol string, broker *db.BrokerSymbol) float64 {
	digits := 0
	if broker != nil {
		digits = broker.Digits
	}
	pip := position.PipSize(symbol, digits)

	switch t.rules.ClassFor(symbol) {
	case config.ClassForexMajor:
		return 3 * pip
	case config.ClassForexMinor:
		return 5 * pip
	case config.ClassForexExotic:
		return 10 * pip
	case config.ClassMetals, config.ClassCommodities:
		return 0.50
	case config.ClassIndices:
		return 5.0
	case config.ClassCrypto:
		return 50.0
	default:
		return 0 // no hard cap declared for this class
	}
}

// EntryReason composes the trade comment recorded for autotrade fills
func EntryReason(sig *db.Signal) string {
	return fmt.Sprintf("auto %s %s conf=%.0f", sig.Type, sig.Timeframe, sig.Confidence)
}
