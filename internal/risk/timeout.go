package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/decision"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

const timeoutInterval = 5 * time.Minute

// Timeout actions from global settings
const (
	TimeoutActionClose  = "close"
	TimeoutActionAlert  = "alert"
	TimeoutActionIgnore = "ignore"
)

// TimeoutStore is the persistence surface of the trade timeout worker
type TimeoutStore interface {
	GetGlobalSettings(ctx context.Context) (*db.GlobalSettings, error)
	TimedOutTrades(ctx context.Context, maxAge time.Duration) ([]*db.Trade, error)
	FindWorkerCloseCommand(ctx context.Context, accountID, ticket int64) (*db.Command, error)
}

// TimeoutWorker handles positions held past the configured age. The action
// is configurable: close them, alert the operator, or leave them alone.
type TimeoutWorker struct {
	store     TimeoutStore
	sender    CommandSender
	decisions DecisionSink
	notifier  Notifier
	log       zerolog.Logger
	interval  time.Duration
	alerted   map[int64]struct{} // tickets already alerted in alert mode
}

func NewTimeoutWorker(store TimeoutStore, sender CommandSender, decisions DecisionSink, notifier Notifier, logger zerolog.Logger) *TimeoutWorker {
	return &TimeoutWorker{
		store:     store,
		sender:    sender,
		decisions: decisions,
		notifier:  notifier,
		log:       logger,
		interval:  timeoutInterval,
		alerted:   make(map[int64]struct{}),
	}
}

// Run loops until the context ends
func (w *TimeoutWorker) Run(ctx context.Context) error {
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

func (w *TimeoutWorker) runOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerRun("trade_timeout", float64(time.Since(start).Milliseconds()))
	}()

	settings, err := w.store.GetGlobalSettings(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Timeout worker failed to load settings")
		return
	}
	if settings.TradeTimeoutAction == TimeoutActionIgnore {
		return
	}
	maxAge := time.Duration(settings.TradeTimeoutHours) * time.Hour
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	trades, err := w.store.TimedOutTrades(ctx, maxAge)
	if err != nil {
		w.log.Error().Err(err).Msg("Timeout worker failed to list trades")
		return
	}
	for _, trade := range trades {
		if err := w.handle(ctx, trade, settings, maxAge); err != nil {
			w.log.Error().Err(err).Int64("ticket", trade.Ticket).Msg("Timeout handling failed")
		}
	}
}

func (w *TimeoutWorker) handle(ctx context.Context, trade *db.Trade, settings *db.GlobalSettings, maxAge time.Duration) error {
	age := time.Since(trade.OpenTime)
	reason := fmt.Sprintf("Trade %d open for %s, limit %s", trade.Ticket, age.Round(time.Minute), maxAge)

	switch settings.TradeTimeoutAction {
	case TimeoutActionClose:
		// One close command per trade; skip if one is already in flight.
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
				"reason": string(db.CloseTimeExit),
			},
		}); err != nil {
			return fmt.Errorf("failed to send timeout close: %w", err)
		}
		symbol := trade.Symbol
		w.decisions.Log(ctx, &db.AIDecision{
			DecisionType: decision.TypeTradeProtection,
			AccountID:    trade.AccountID,
			Symbol:       &symbol,
			Approved:     true,
			Reason:       reason,
			Details:      map[string]interface{}{"ticket": trade.Ticket, "action": TimeoutActionClose},
			Impact:       db.ImpactHigh,
		})
		w.log.Warn().Int64("ticket", trade.Ticket).Dur("age", age).Msg("Timed-out trade closing")

	case TimeoutActionAlert:
		if _, done := w.alerted[trade.Ticket]; done {
			return nil
		}
		w.alerted[trade.Ticket] = struct{}{}
		if w.notifier != nil {
			_ = w.notifier.SendWarning(ctx, "Trade exceeded holding time", reason,
				map[string]interface{}{"ticket": trade.Ticket, "symbol": trade.Symbol})
		}
	}
	return nil
}
