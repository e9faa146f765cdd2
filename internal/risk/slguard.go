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

const (
	slHitWindow    = 4 * time.Hour
	slHitThreshold = 2
	slHitPause     = 60 * time.Minute
)

// SLGuardStore counts recent stop-loss exits
type SLGuardStore interface {
	CountSLHitsSince(ctx context.Context, symbol string, since time.Time) (int, error)
}

// SLGuard pauses a symbol after repeated stop-loss hits. The trade close
// path feeds it; pauses land in the shared registry the auto-trade gate
// consults.
type SLGuard struct {
	store     SLGuardStore
	pauses    *PauseRegistry
	decisions DecisionSink
	notifier  Notifier
	log       zerolog.Logger
}

func NewSLGuard(store SLGuardStore, pauses *PauseRegistry, decisions DecisionSink, notifier Notifier, logger zerolog.Logger) *SLGuard {
	return &SLGuard{
		store:     store,
		pauses:    pauses,
		decisions: decisions,
		notifier:  notifier,
		log:       logger,
	}
}

// OnTradeClosed inspects one closed trade and pauses the symbol once the
// SL-hit count inside the window reaches the threshold.
func (g *SLGuard) OnTradeClosed(ctx context.Context, trade *db.Trade) error {
	if trade.CloseReason == nil || *trade.CloseReason != db.CloseSLHit {
		return nil
	}
	hits, err := g.store.CountSLHitsSince(ctx, trade.Symbol, time.Now().Add(-slHitWindow))
	if err != nil {
		return fmt.Errorf("failed to count SL hits: %w", err)
	}
	if hits < slHitThreshold {
		return nil
	}

	until := time.Now().Add(slHitPause)
	reason := fmt.Sprintf("%d stop-loss hits on %s within %s, paused until %s",
		hits, trade.Symbol, slHitWindow, until.Format(time.RFC3339))
	g.pauses.PauseSymbol(trade.Symbol, until, reason)

	metrics.RecordSymbolPause("sl_hits")
	g.log.Warn().Str("symbol", trade.Symbol).Int("hits", hits).Time("until", until).
		Msg("Symbol paused after repeated SL hits")

	symbol := trade.Symbol
	g.decisions.Log(ctx, &db.AIDecision{
		DecisionType: decision.TypeRiskLimit,
		AccountID:    trade.AccountID,
		Symbol:       &symbol,
		Approved:     false,
		Reason:       reason,
		Impact:       db.ImpactHigh,
	})
	if g.notifier != nil {
		_ = g.notifier.SendWarning(ctx, "Symbol paused", reason,
			map[string]interface{}{"symbol": trade.Symbol, "hits": hits})
	}
	return nil
}
