package db

import (
	"context"
	"fmt"
	"strings"
)

const settingsColumns = `
	risk_per_trade_percent, max_positions, max_positions_per_symbol,
	max_daily_loss_percent, max_total_drawdown_percent, min_signal_confidence,
	min_autotrade_confidence, signal_max_age_minutes, sl_cooldown_minutes,
	autotrade_enabled, dynamic_tp_enabled, tp_extension_trigger_percent,
	tp_extension_multiplier, trade_timeout_hours, trade_timeout_action,
	updated_at
`

// Recognized settings columns for patch updates. Free-form keys never reach
// the query builder.
var settingsFields = map[string]bool{
	"risk_per_trade_percent":       true,
	"max_positions":                true,
	"max_positions_per_symbol":     true,
	"max_daily_loss_percent":       true,
	"max_total_drawdown_percent":   true,
	"min_signal_confidence":        true,
	"min_autotrade_confidence":     true,
	"signal_max_age_minutes":       true,
	"sl_cooldown_minutes":          true,
	"autotrade_enabled":            true,
	"dynamic_tp_enabled":           true,
	"tp_extension_trigger_percent": true,
	"tp_extension_multiplier":      true,
	"trade_timeout_hours":          true,
	"trade_timeout_action":         true,
}

// GetGlobalSettings loads the singleton settings row
func (s *Store) GetGlobalSettings(ctx context.Context) (*GlobalSettings, error) {
	var gs GlobalSettings
	err := s.q.QueryRow(ctx, `SELECT`+settingsColumns+`FROM global_settings WHERE id = 1`).Scan(
		&gs.RiskPerTradePercent, &gs.MaxPositions, &gs.MaxPositionsPerSymbol,
		&gs.MaxDailyLossPercent, &gs.MaxTotalDrawdownPercent,
		&gs.MinSignalConfidence, &gs.MinAutotradeConfidence,
		&gs.SignalMaxAgeMinutes, &gs.SLCooldownMinutes, &gs.AutotradeEnabled,
		&gs.DynamicTPEnabled, &gs.TPExtensionTriggerPercent,
		&gs.TPExtensionMultiplier, &gs.TradeTimeoutHours,
		&gs.TradeTimeoutAction, &gs.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load global settings: %w", err)
	}
	return &gs, nil
}

// PatchGlobalSettings updates only the recognized keys present in the patch.
// Unknown keys are rejected so arbitrary input cannot shape the query.
func (s *Store) PatchGlobalSettings(ctx context.Context, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(patch)+1)
	args := make([]any, 0, len(patch))
	for key, value := range patch {
		if !settingsFields[key] {
			return fmt.Errorf("unrecognized setting %q", key)
		}
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", key, len(args)))
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	query := "UPDATE global_settings SET " + strings.Join(setClauses, ", ") + " WHERE id = 1"
	if _, err := s.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to patch global settings: %w", err)
	}
	return nil
}
