// Package risk holds the account circuit breaker, the protection workers
// that watch open trades, and the gobreaker guards around infrastructure
// calls. Workers are goroutine-per-loop with a ticker and context select;
// all persistent state lives in the database so a restart reconstructs the
// in-memory cells.
package risk

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/bus"
	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/decision"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

// Trip thresholds. Loss and drawdown limits come from global settings; the
// failed-command ceiling is fixed.
const maxFailedCommands = 3

// BreakerStore is the persistence surface of the account breaker
type BreakerStore interface {
	ListAccounts(ctx context.Context) ([]*db.Account, error)
	UpdateRiskState(ctx context.Context, id int64, enabled, tripped bool, reason string, failedCount int) error
}

// Notifier sends operator alerts; the alerts manager implements it
type Notifier interface {
	SendCritical(ctx context.Context, title, message string, metadata map[string]interface{}) error
	SendWarning(ctx context.Context, title, message string, metadata map[string]interface{}) error
	SendInfo(ctx context.Context, title, message string, metadata map[string]interface{}) error
}

// Publisher emits bus events
type Publisher interface {
	Publish(subject string, evt *bus.Event)
}

// DecisionSink records breaker verdicts
type DecisionSink interface {
	Log(ctx context.Context, d *db.AIDecision)
}

type cell struct {
	mu          sync.Mutex
	tripped     bool
	reason      string
	failedCount int
	autotrading bool
}

// Breaker is the per-account circuit breaker. Tripping blocks the auto-trade
// gate and stays latched until a manual reset; state persists in the account
// row so restarts keep tripped accounts tripped.
type Breaker struct {
	store     BreakerStore
	decisions DecisionSink
	notifier  Notifier
	pub       Publisher
	log       zerolog.Logger

	mu    sync.Mutex
	cells map[int64]*cell
}

func NewBreaker(store BreakerStore, decisions DecisionSink, notifier Notifier, pub Publisher, logger zerolog.Logger) *Breaker {
	return &Breaker{
		store:     store,
		decisions: decisions,
		notifier:  notifier,
		pub:       pub,
		log:       logger,
		cells:     make(map[int64]*cell),
	}
}

// Load reconstructs the in-memory cells from the persisted account rows
func (b *Breaker) Load(ctx context.Context) error {
	accounts, err := b.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load breaker state: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, acct := range accounts {
		b.cells[acct.ID] = &cell{
			tripped:     acct.BreakerTripped,
			reason:      acct.BreakerReason,
			failedCount: acct.FailedCommandCount,
			autotrading: acct.AutotradingEnabled,
		}
	}
	return nil
}

func (b *Breaker) cellFor(accountID int64) *cell {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cells[accountID]
	if !ok {
		c = &cell{autotrading: true}
		b.cells[accountID] = c
	}
	return c
}

// Tripped reports the breaker state for one account
func (b *Breaker) Tripped(accountID int64) (bool, string) {
	c := b.cellFor(accountID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tripped, c.reason
}

// Trip latches the breaker. Idempotent: a second trip with the same state
// only updates the reason.
func (b *Breaker) Trip(ctx context.Context, accountID int64, reason string) error {
	c := b.cellFor(accountID)
	c.mu.Lock()
	already := c.tripped
	c.tripped = true
	c.reason = reason
	failed := c.failedCount
	autotrading := c.autotrading
	c.mu.Unlock()

	if err := b.store.UpdateRiskState(ctx, accountID, autotrading, true, reason, failed); err != nil {
		return fmt.Errorf("failed to persist breaker trip: %w", err)
	}
	if already {
		return nil
	}

	metrics.RecordCircuitBreakerTrip("account", reason)
	b.log.Error().Int64("account_id", accountID).Str("reason", reason).Msg("Circuit breaker tripped")

	b.decisions.Log(ctx, &db.AIDecision{
		DecisionType:   decision.TypeCircuitBreaker,
		AccountID:      accountID,
		Approved:       false,
		Reason:         reason,
		Impact:         db.ImpactCritical,
		ActionRequired: true,
	})
	if b.notifier != nil {
		_ = b.notifier.SendCritical(ctx, "Circuit breaker tripped", reason,
			map[string]interface{}{"account_id": accountID})
	}
	if b.pub != nil {
		b.pub.Publish(bus.SubjectBreakerTripped, &bus.Event{
			AccountID: accountID,
			Payload:   map[string]interface{}{"reason": reason},
		})
	}
	return nil
}

// Reset clears the breaker and zeroes the failed-command count. Manual only;
// the ops endpoint is the single caller.
func (b *Breaker) Reset(ctx context.Context, accountID int64) error {
	c := b.cellFor(accountID)
	c.mu.Lock()
	c.tripped = false
	c.reason = ""
	c.failedCount = 0
	autotrading := c.autotrading
	c.mu.Unlock()

	if err := b.store.UpdateRiskState(ctx, accountID, autotrading, false, "", 0); err != nil {
		return fmt.Errorf("failed to persist breaker reset: %w", err)
	}

	b.log.Info().Int64("account_id", accountID).Msg("Circuit breaker reset")
	b.decisions.Log(ctx, &db.AIDecision{
		DecisionType: decision.TypeCircuitBreaker,
		AccountID:    accountID,
		Approved:     true,
		Reason:       "Manual breaker reset",
		Impact:       db.ImpactHigh,
	})
	if b.notifier != nil {
		_ = b.notifier.SendInfo(ctx, "Circuit breaker reset",
			fmt.Sprintf("Account %d breaker reset by operator", accountID), nil)
	}
	return nil
}

// RecordCommandFailure counts consecutive permanently failed OPEN_TRADE
// commands and trips at the ceiling. Other command types never advance the
// count: a dead CLOSE_TRADE or PING says nothing about order placement. The
// command dispatcher calls it on FAILED and TIMEOUT terminal states.
func (b *Breaker) RecordCommandFailure(ctx context.Context, accountID int64, cmdType db.CommandType) error {
	if cmdType != db.CommandOpenTrade {
		return nil
	}
	c := b.cellFor(accountID)
	c.mu.Lock()
	c.failedCount++
	failed := c.failedCount
	tripped := c.tripped
	reason := c.reason
	autotrading := c.autotrading
	c.mu.Unlock()

	if err := b.store.UpdateRiskState(ctx, accountID, autotrading, tripped, reason, failed); err != nil {
		return fmt.Errorf("failed to persist command failure count: %w", err)
	}
	if failed >= maxFailedCommands && !tripped {
		return b.Trip(ctx, accountID, fmt.Sprintf("%d consecutive command failures", failed))
	}
	return nil
}

// RecordCommandSuccess zeroes the consecutive-failure count when an
// OPEN_TRADE settles COMPLETED; the ceiling only counts uninterrupted runs.
func (b *Breaker) RecordCommandSuccess(ctx context.Context, accountID int64, cmdType db.CommandType) error {
	if cmdType != db.CommandOpenTrade {
		return nil
	}
	c := b.cellFor(accountID)
	c.mu.Lock()
	if c.failedCount == 0 {
		c.mu.Unlock()
		return nil
	}
	c.failedCount = 0
	tripped := c.tripped
	reason := c.reason
	autotrading := c.autotrading
	c.mu.Unlock()

	if err := b.store.UpdateRiskState(ctx, accountID, autotrading, tripped, reason, 0); err != nil {
		return fmt.Errorf("failed to persist command failure reset: %w", err)
	}
	return nil
}

// Evaluate checks loss thresholds for one account and trips when breached.
// profitToday is the recomputed closed profit for the current day.
func (b *Breaker) Evaluate(ctx context.Context, acct *db.Account, settings *db.GlobalSettings, profitToday float64) error {
	if tripped, _ := b.Tripped(acct.ID); tripped {
		return nil
	}
	if acct.Balance > 0 {
		lossPct := profitToday / acct.Balance * 100
		if lossPct <= -settings.MaxDailyLossPercent {
			return b.Trip(ctx, acct.ID,
				fmt.Sprintf("Daily loss %.2f%% breached limit %.2f%%", -lossPct, settings.MaxDailyLossPercent))
		}
	}
	if acct.InitialBalance > 0 {
		// Measured on realized balance. Floating equity dips are the
		// drawdown worker's territory, up to its emergency-close line.
		drawdownPct := (acct.InitialBalance - acct.Balance) / acct.InitialBalance * 100
		if drawdownPct >= settings.MaxTotalDrawdownPercent {
			return b.Trip(ctx, acct.ID,
				fmt.Sprintf("Total drawdown %.2f%% breached limit %.2f%%", drawdownPct, settings.MaxTotalDrawdownPercent))
		}
	}
	return nil
}
