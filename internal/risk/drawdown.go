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
	drawdownInterval = time.Minute
	// Emergency close kicks in at this multiple of the daily loss limit.
	emergencyLossFactor = 1.5
)

// DrawdownStore is the persistence surface of the drawdown worker
type DrawdownStore interface {
	ListAccounts(ctx context.Context) ([]*db.Account, error)
	GetGlobalSettings(ctx context.Context) (*db.GlobalSettings, error)
	DailyClosedProfit(ctx context.Context, id int64) (float64, error)
	SetProfitToday(ctx context.Context, id int64, profit float64) error
	OpenTrades(ctx context.Context, accountID int64) ([]*db.Trade, error)
}

// CommandSender persists and enqueues one EA command
type CommandSender interface {
	Send(ctx context.Context, cmd *db.Command) (*db.Command, error)
}

// DrawdownWorker recomputes daily profit from closed trades every minute,
// trips the breaker at the loss limit and force-closes everything at 1.5x
// the limit. Recomputing from trades keeps the number honest after missed
// updates or restarts.
type DrawdownWorker struct {
	store    DrawdownStore
	breaker  *Breaker
	sender   CommandSender
	notifier Notifier
	log      zerolog.Logger
	interval time.Duration
}

func NewDrawdownWorker(store DrawdownStore, breaker *Breaker, sender CommandSender, notifier Notifier, logger zerolog.Logger) *DrawdownWorker {
	return &DrawdownWorker{
		store:    store,
		breaker:  breaker,
		sender:   sender,
		notifier: notifier,
		log:      logger,
		interval: drawdownInterval,
	}
}

// Run loops until the context ends
func (w *DrawdownWorker) Run(ctx context.Context) error {
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

func (w *DrawdownWorker) runOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerRun("drawdown", float64(time.Since(start).Milliseconds()))
	}()

	settings, err := w.store.GetGlobalSettings(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Drawdown worker failed to load settings")
		return
	}
	accounts, err := w.store.ListAccounts(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Drawdown worker failed to list accounts")
		return
	}

	for _, acct := range accounts {
		if err := w.checkAccount(ctx, acct, settings); err != nil {
			w.log.Error().Err(err).Int64("account_id", acct.ID).Msg("Drawdown check failed")
		}
	}
}

func (w *DrawdownWorker) checkAccount(ctx context.Context, acct *db.Account, settings *db.GlobalSettings) error {
	profit, err := w.store.DailyClosedProfit(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("failed to recompute daily profit: %w", err)
	}
	if err := w.store.SetProfitToday(ctx, acct.ID, profit); err != nil {
		return fmt.Errorf("failed to persist daily profit: %w", err)
	}

	if acct.Balance > 0 {
		lossPct := profit / acct.Balance * 100
		if lossPct <= -settings.MaxDailyLossPercent*emergencyLossFactor {
			return w.emergencyClose(ctx, acct, lossPct)
		}
	}
	return w.breaker.Evaluate(ctx, acct, settings, profit)
}

// emergencyClose trips the breaker and force-closes every open position at
// CRITICAL priority.
func (w *DrawdownWorker) emergencyClose(ctx context.Context, acct *db.Account, lossPct float64) error {
	reason := fmt.Sprintf("Daily loss %.2f%% reached emergency threshold", -lossPct)
	if err := w.breaker.Trip(ctx, acct.ID, reason); err != nil {
		return err
	}

	trades, err := w.store.OpenTrades(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("failed to list open trades for emergency close: %w", err)
	}
	for _, trade := range trades {
		_, err := w.sender.Send(ctx, &db.Command{
			AccountID: acct.ID,
			Type:      db.CommandCloseTrade,
			Priority:  db.PriorityCritical,
			Payload: map[string]interface{}{
				"ticket": trade.Ticket,
				"reason": string(db.CloseEmergency),
			},
		})
		if err != nil {
			w.log.Error().Err(err).Int64("ticket", trade.Ticket).Msg("Emergency close command failed")
			continue
		}
		metrics.RecordEmergencyClose()
	}

	w.log.Error().Int64("account_id", acct.ID).Int("positions", len(trades)).
		Float64("loss_pct", lossPct).Msg("Emergency close issued")
	if w.notifier != nil {
		_ = w.notifier.SendCritical(ctx, "Emergency close", reason,
			map[string]interface{}{"account_id": acct.ID, "positions": len(trades)})
	}
	return nil
}
