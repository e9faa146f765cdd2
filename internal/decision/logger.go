// Package decision records every gating and protection verdict: a structured
// log line, an ai_decisions row, metrics, and an optional live broadcast to
// the ops websocket.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

// Decision types
const (
	TypeSignalGating    = "SIGNAL_GATING"
	TypeRiskLimit       = "RISK_LIMIT"
	TypeCircuitBreaker  = "CIRCUIT_BREAKER"
	TypeTradeProtection = "TRADE_PROTECTION"
)

// Store persists decision rows
type Store interface {
	InsertDecision(ctx context.Context, d *db.AIDecision) error
}

// Broadcaster pushes decisions to live ops clients. The websocket hub
// implements it; nil disables broadcasting.
type Broadcaster interface {
	BroadcastDecision(d *db.AIDecision)
}

// Logger writes decisions to the log, the database and the broadcast fan-out.
// Persistence failures are logged and counted, never propagated: a decision
// record must not fail the operation it describes.
type Logger struct {
	store       Store
	log         zerolog.Logger
	broadcaster Broadcaster
}

func NewLogger(store Store, logger zerolog.Logger) *Logger {
	return &Logger{store: store, log: logger}
}

// SetBroadcaster attaches the live fan-out after construction; the websocket
// hub comes up later in the wiring order.
func (l *Logger) SetBroadcaster(b Broadcaster) {
	l.broadcaster = b
}

// Log records one decision
func (l *Logger) Log(ctx context.Context, d *db.AIDecision) {
	start := time.Now()

	evt := l.log.Info()
	if d.Impact == db.ImpactCritical {
		evt = l.log.Warn()
	}
	logEvt := evt.
		Str("decision_type", d.DecisionType).
		Int64("account_id", d.AccountID).
		Bool("approved", d.Approved).
		Str("reason", d.Reason).
		Str("impact", d.Impact)
	if d.Symbol != nil {
		logEvt = logEvt.Str("symbol", *d.Symbol)
	}
	if d.SignalID != nil {
		logEvt = logEvt.Str("signal_id", d.SignalID.String())
	}
	logEvt.Msg("Decision")

	err := l.store.InsertDecision(ctx, d)
	if err != nil {
		l.log.Error().Err(err).Str("decision_type", d.DecisionType).Msg("Failed to persist decision")
		metrics.RecordDecisionLogFailure("db_insert", d.DecisionType)
	}
	metrics.RecordDecisionLog(d.DecisionType, err == nil, float64(time.Since(start).Milliseconds()))

	if l.broadcaster != nil {
		l.broadcaster.BroadcastDecision(d)
	}
}

// Reject is the shorthand every gate uses for a denied signal
func (l *Logger) Reject(ctx context.Context, decisionType string, accountID int64, symbol string, signalID *uuid.UUID, reason, impact string) {
	d := &db.AIDecision{
		DecisionType: decisionType,
		AccountID:    accountID,
		SignalID:     signalID,
		Approved:     false,
		Reason:       reason,
		Impact:       impact,
	}
	if symbol != "" {
		d.Symbol = &symbol
	}
	l.Log(ctx, d)
}
