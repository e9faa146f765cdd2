package db

import (
	"context"
	"fmt"
	"time"
)

// Decision types written by the auto-trader and the protection workers.
const (
	DecisionTradeExecution  = "TRADE_EXECUTION"
	DecisionRiskLimit       = "RISK_LIMIT"
	DecisionCircuitBreaker  = "CIRCUIT_BREAKER"
	DecisionSignalRejected  = "SIGNAL_REJECTED"
	DecisionEmergencyClose  = "EMERGENCY_CLOSE"
	DecisionTradeTimeout    = "TRADE_TIMEOUT"
	DecisionStrategyExit    = "STRATEGY_EXIT"
	DecisionSymbolDisabled  = "SYMBOL_DISABLED"
	DecisionNewsPause       = "NEWS_PAUSE"
	DecisionReconciliation  = "RECONCILIATION"
)

// InsertDecision appends one gating decision record
func (s *Store) InsertDecision(ctx context.Context, d *AIDecision) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO ai_decisions (
			decision_type, account_id, symbol, signal_id, approved, reason,
			details, impact, action_required
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.DecisionType, d.AccountID, d.Symbol, d.SignalID, d.Approved,
		d.Reason, d.Details, d.Impact, d.ActionRequired)
	if err != nil {
		return fmt.Errorf("failed to insert decision %s: %w", d.DecisionType, err)
	}
	return nil
}

// ListDecisions returns recent decisions for an account, newest first.
// accountID 0 returns decisions across all accounts.
func (s *Store) ListDecisions(ctx context.Context, accountID int64, limit int) ([]*AIDecision, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, decision_type, account_id, symbol, signal_id, approved,
		       reason, details, impact, action_required, created_at
		FROM ai_decisions
		WHERE ($1 = 0 OR account_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*AIDecision
	for rows.Next() {
		var d AIDecision
		err := rows.Scan(&d.ID, &d.DecisionType, &d.AccountID, &d.Symbol,
			&d.SignalID, &d.Approved, &d.Reason, &d.Details, &d.Impact,
			&d.ActionRequired, &d.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}

// DeleteDecisionsBefore enforces decision log retention; returns rows removed
func (s *Store) DeleteDecisionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM ai_decisions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old decisions: %w", err)
	}
	return tag.RowsAffected(), nil
}
