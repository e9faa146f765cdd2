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
	"github.com/ajitpratap0/tradebridge/internal/signal"
)

const (
	validationInterval = 5 * time.Minute
	// A confidence drop of this many points invalidates the entry thesis.
	confidenceDropLimit = 20.0
)

// ValidationStore is the persistence surface of the strategy validator
type ValidationStore interface {
	AllOpenTrades(ctx context.Context) ([]*db.Trade, error)
	GetSignal(ctx context.Context, id uuid.UUID) (*db.Signal, error)
	FindWorkerCloseCommand(ctx context.Context, accountID, ticket int64) (*db.Command, error)
}

// Validator re-runs the signal pipeline without persisting; the signal
// engine implements it.
type Validator interface {
	Validate(ctx context.Context, symbol, timeframe string) (*signal.Evaluation, error)
}

// ValidationWorker closes losing trades whose entry thesis no longer holds:
// the ensemble flipped direction, confidence collapsed, or the entry pattern
// vanished. Winning trades are never touched; the trailing manager owns
// those.
type ValidationWorker struct {
	store     ValidationStore
	validator Validator
	sender    CommandSender
	decisions DecisionSink
	log       zerolog.Logger
	interval  time.Duration
}

func NewValidationWorker(store ValidationStore, validator Validator, sender CommandSender, decisions DecisionSink, logger zerolog.Logger) *ValidationWorker {
	return &ValidationWorker{
		store:     store,
		validator: validator,
		sender:    sender,
		decisions: decisions,
		log:       logger,
		interval:  validationInterval,
	}
}

// Run loops until the context ends
func (w *ValidationWorker) Run(ctx context.Context) error {
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

func (w *ValidationWorker) runOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerRun("strategy_validation", float64(time.Since(start).Milliseconds()))
	}()

	trades, err := w.store.AllOpenTrades(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Validation worker failed to list trades")
		return
	}
	for _, trade := range trades {
		if trade.Profit >= 0 || trade.SignalID == nil {
			continue
		}
		if err := w.checkTrade(ctx, trade); err != nil {
			w.log.Error().Err(err).Int64("ticket", trade.Ticket).Msg("Strategy validation failed")
		}
	}
}

func (w *ValidationWorker) checkTrade(ctx context.Context, trade *db.Trade) error {
	sig, err := w.store.GetSignal(ctx, *trade.SignalID)
	if err != nil {
		return fmt.Errorf("failed to load entry signal: %w", err)
	}
	if sig == nil {
		return nil
	}

	eval, err := w.validator.Validate(ctx, trade.Symbol, sig.Timeframe)
	if err != nil {
		// Missing data is no grounds for closing a position.
		w.log.Warn().Err(err).Str("symbol", trade.Symbol).Msg("Validation run inconclusive")
		return nil
	}

	invalidReason := invalidated(trade, sig, eval)
	if invalidReason == "" {
		return nil
	}

	pending, err := w.store.FindWorkerCloseCommand(ctx, trade.AccountID, trade.Ticket)
	if err != nil {
		return fmt.Errorf("failed to check pending close: %w", err)
	}
	if pending != nil {
		return nil
	}

	if _, err := w.sender.Send(ctx, &db.Command{
		AccountID: trade.AccountID,
		Type:      db.CommandCloseTrade,
		Priority:  db.PriorityHigh,
		Payload: map[string]interface{}{
			"ticket": trade.Ticket,
			"reason": string(db.CloseStrategyInvalid),
		},
	}); err != nil {
		return fmt.Errorf("failed to send strategy-invalid close: %w", err)
	}

	symbol := trade.Symbol
	w.decisions.Log(ctx, &db.AIDecision{
		DecisionType: decision.TypeTradeProtection,
		AccountID:    trade.AccountID,
		Symbol:       &symbol,
		SignalID:     trade.SignalID,
		Approved:     true,
		Reason:       invalidReason,
		Details: map[string]interface{}{
			"ticket":            trade.Ticket,
			"entry_confidence":  sig.Confidence,
			"current_direction": string(eval.Direction),
			"profit":            trade.Profit,
		},
		Impact: db.ImpactHigh,
	})
	w.log.Warn().Int64("ticket", trade.Ticket).Str("reason", invalidReason).
		Msg("Losing trade closed, entry thesis invalidated")
	return nil
}

// invalidated returns the close reason, or empty when the thesis still holds
func invalidated(trade *db.Trade, sig *db.Signal, eval *signal.Evaluation) string {
	if eval.Direction != "" && eval.Direction != db.SignalHold && eval.Direction != trade.Direction {
		return fmt.Sprintf("Ensemble direction flipped from %s to %s", trade.Direction, eval.Direction)
	}
	if drop := sig.Confidence - eval.Confidence; drop >= confidenceDropLimit {
		return fmt.Sprintf("Confidence dropped %.1f points since entry (%.1f to %.1f)",
			drop, sig.Confidence, eval.Confidence)
	}
	entryPatterns := snapshotPatterns(sig.IndicatorSnapshot)
	if len(entryPatterns) > 0 && !anyPresent(entryPatterns, eval.Patterns) {
		return fmt.Sprintf("Entry pattern %v no longer present", entryPatterns)
	}
	return ""
}

// snapshotPatterns extracts the pattern names recorded at signal time. The
// snapshot travels through JSONB, so the list arrives as []interface{}.
func snapshotPatterns(snapshot map[string]interface{}) []string {
	raw, ok := snapshot["patterns"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		var names []string
		for _, item := range v {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
		return names
	}
	return nil
}

func anyPresent(wanted, current []string) bool {
	for _, w := range wanted {
		for _, c := range current {
			if w == c {
				return true
			}
		}
	}
	return false
}
