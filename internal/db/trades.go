package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

const tradeColumns = `
	id, ticket, account_id, symbol, direction, volume, open_price, open_time,
	close_price, close_time, sl, tp, initial_sl, initial_tp, original_tp,
	tp_extended_count, status, close_reason, source, command_id, signal_id,
	entry_reason, entry_bid, entry_ask, entry_spread, exit_bid, exit_ask,
	exit_spread, session, max_favorable_excursion, max_adverse_excursion,
	trailing_stop_active, trailing_stop_moves, pips_captured,
	risk_reward_realized, hold_duration_minutes, profit, commission, swap,
	created_at, updated_at
`

func scanTrade(row pgx.Row) (*Trade, error) {
	var t Trade
	err := row.Scan(
		&t.ID, &t.Ticket, &t.AccountID, &t.Symbol, &t.Direction, &t.Volume,
		&t.OpenPrice, &t.OpenTime, &t.ClosePrice, &t.CloseTime, &t.SL, &t.TP,
		&t.InitialSL, &t.InitialTP, &t.OriginalTP, &t.TPExtendedCount,
		&t.Status, &t.CloseReason, &t.Source, &t.CommandID, &t.SignalID,
		&t.EntryReason, &t.EntryBid, &t.EntryAsk, &t.EntrySpread, &t.ExitBid,
		&t.ExitAsk, &t.ExitSpread, &t.Session, &t.MaxFavorable, &t.MaxAdverse,
		&t.TrailingActive, &t.TrailingMoves, &t.PipsCaptured,
		&t.RiskRewardRealized, &t.HoldMinutes, &t.Profit, &t.Commission,
		&t.Swap, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTrades(rows pgx.Rows) ([]*Trade, error) {
	defer rows.Close()
	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertTrade persists a new trade. The initial SL/TP are recorded alongside
// the live values; original_tp anchors later TP extensions.
func (s *Store) InsertTrade(ctx context.Context, t *Trade) (*Trade, error) {
	if t.Status == "" {
		t.Status = TradeOpen
	}
	if t.OriginalTP == 0 {
		t.OriginalTP = t.TP
	}
	if t.InitialTP == 0 {
		t.InitialTP = t.TP
	}
	if t.InitialSL == 0 {
		t.InitialSL = t.SL
	}

	row := s.q.QueryRow(ctx, `
		INSERT INTO trades (
			ticket, account_id, symbol, direction, volume, open_price,
			open_time, sl, tp, initial_sl, initial_tp, original_tp, status,
			source, command_id, signal_id, entry_reason, entry_bid, entry_ask,
			entry_spread, profit, commission, swap
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		RETURNING`+tradeColumns,
		t.Ticket, t.AccountID, t.Symbol, t.Direction, t.Volume, t.OpenPrice,
		t.OpenTime, t.SL, t.TP, t.InitialSL, t.InitialTP, t.OriginalTP,
		t.Status, t.Source, t.CommandID, t.SignalID, t.EntryReason,
		t.EntryBid, t.EntryAsk, t.EntrySpread, t.Profit, t.Commission, t.Swap)

	stored, err := scanTrade(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert trade ticket %d: %w", t.Ticket, err)
	}

	log.Info().
		Int64("trade_id", stored.ID).
		Int64("ticket", stored.Ticket).
		Str("symbol", stored.Symbol).
		Str("direction", string(stored.Direction)).
		Float64("volume", stored.Volume).
		Str("source", string(stored.Source)).
		Msg("Trade recorded")

	return stored, nil
}

// GetTrade loads one trade by internal id
func (s *Store) GetTrade(ctx context.Context, id int64) (*Trade, error) {
	row := s.q.QueryRow(ctx, `SELECT`+tradeColumns+`FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %d: %w", id, err)
	}
	return t, nil
}

// GetTradeByTicket loads one trade by (account, broker ticket)
func (s *Store) GetTradeByTicket(ctx context.Context, accountID, ticket int64) (*Trade, error) {
	row := s.q.QueryRow(ctx,
		`SELECT`+tradeColumns+`FROM trades WHERE account_id = $1 AND ticket = $2`,
		accountID, ticket)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade ticket %d: %w", ticket, err)
	}
	return t, nil
}

// GetTradeByCommandID loads the trade created by a specific command
func (s *Store) GetTradeByCommandID(ctx context.Context, commandID uuid.UUID) (*Trade, error) {
	row := s.q.QueryRow(ctx,
		`SELECT`+tradeColumns+`FROM trades WHERE command_id = $1`, commandID)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade for command %s: %w", commandID, err)
	}
	return t, nil
}

// OpenTrades returns all open trades for an account
func (s *Store) OpenTrades(ctx context.Context, accountID int64) ([]*Trade, error) {
	rows, err := s.q.Query(ctx,
		`SELECT`+tradeColumns+`FROM trades WHERE account_id = $1 AND status = 'open' ORDER BY open_time`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open trades: %w", err)
	}
	return collectTrades(rows)
}

// OpenTradesBySymbol returns open trades across accounts for one symbol.
// The position monitor fans ticks out to these.
func (s *Store) OpenTradesBySymbol(ctx context.Context, symbol string) ([]*Trade, error) {
	rows, err := s.q.Query(ctx,
		`SELECT`+tradeColumns+`FROM trades WHERE symbol = $1 AND status = 'open' ORDER BY open_time`,
		symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to list open trades for %s: %w", symbol, err)
	}
	return collectTrades(rows)
}

// AllOpenTrades returns every open trade
func (s *Store) AllOpenTrades(ctx context.Context) ([]*Trade, error) {
	rows, err := s.q.Query(ctx, `SELECT`+tradeColumns+`FROM trades WHERE status = 'open' ORDER BY open_time`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all open trades: %w", err)
	}
	return collectTrades(rows)
}

// CountOpenTrades returns the number of open trades for the account, and for
// one symbol within it.
func (s *Store) CountOpenTrades(ctx context.Context, accountID int64, symbol string) (total int, forSymbol int, err error) {
	err = s.q.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE symbol = $2)
		FROM trades
		WHERE account_id = $1 AND status = 'open'`,
		accountID, symbol).Scan(&total, &forSymbol)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count open trades: %w", err)
	}
	return total, forSymbol, nil
}

// OpenDirectionCounts returns open-position counts per direction for a set
// of symbols. Correlation gating uses this.
func (s *Store) OpenDirectionCounts(ctx context.Context, accountID int64, symbols []string) (map[SignalType]int, error) {
	rows, err := s.q.Query(ctx, `
		SELECT direction, COUNT(*)
		FROM trades
		WHERE account_id = $1 AND status = 'open' AND symbol = ANY($2)
		GROUP BY direction`,
		accountID, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to count directions: %w", err)
	}
	defer rows.Close()

	counts := make(map[SignalType]int)
	for rows.Next() {
		var direction SignalType
		var count int
		if err := rows.Scan(&direction, &count); err != nil {
			return nil, fmt.Errorf("failed to scan direction count: %w", err)
		}
		counts[direction] = count
	}
	return counts, rows.Err()
}

// UpdateTradeSLTP overwrites the broker-reported SL/TP values
func (s *Store) UpdateTradeSLTP(ctx context.Context, id int64, sl, tp float64) error {
	_, err := s.q.Exec(ctx,
		`UPDATE trades SET sl = $2, tp = $3, updated_at = NOW() WHERE id = $1`,
		id, sl, tp)
	if err != nil {
		return fmt.Errorf("failed to update trade %d sl/tp: %w", id, err)
	}
	return nil
}

// AdvanceTradeSL moves the stop loss in the profit direction only. The
// compare-and-set in SQL makes concurrent trailing updates safe: for a BUY
// the new SL must exceed the stored one, for a SELL it must be lower.
// Returns true when the row moved.
func (s *Store) AdvanceTradeSL(ctx context.Context, id int64, newSL float64) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE trades
		SET sl = $2,
		    trailing_stop_active = TRUE,
		    trailing_stop_moves = trailing_stop_moves + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'open'
		  AND ((direction = 'BUY' AND $2 > sl) OR (direction = 'SELL' AND ($2 < sl OR sl = 0)))`,
		id, newSL)
	if err != nil {
		return false, fmt.Errorf("failed to advance trade %d SL: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExtendTradeTP applies a dynamic TP extension, bounded to five per trade.
// The guard on tp_extended_count keeps racing extensions from exceeding it.
func (s *Store) ExtendTradeTP(ctx context.Context, id int64, newTP float64) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE trades
		SET tp = $2,
		    tp_extended_count = tp_extended_count + 1,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'open' AND tp_extended_count < 5`,
		id, newTP)
	if err != nil {
		return false, fmt.Errorf("failed to extend trade %d TP: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateExcursions widens the recorded MFE/MAE watermarks
func (s *Store) UpdateExcursions(ctx context.Context, id int64, favorable, adverse float64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE trades
		SET max_favorable_excursion = GREATEST(max_favorable_excursion, $2),
		    max_adverse_excursion = GREATEST(max_adverse_excursion, $3),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'open'`,
		id, favorable, adverse)
	if err != nil {
		return fmt.Errorf("failed to update trade %d excursions: %w", id, err)
	}
	return nil
}

// CloseTrade records a broker-reported close with its exit snapshot
func (s *Store) CloseTrade(ctx context.Context, t *Trade) error {
	_, err := s.q.Exec(ctx, `
		UPDATE trades
		SET status = 'closed',
		    close_price = $2,
		    close_time = $3,
		    close_reason = $4,
		    exit_bid = $5,
		    exit_ask = $6,
		    exit_spread = $7,
		    session = $8,
		    pips_captured = $9,
		    risk_reward_realized = $10,
		    hold_duration_minutes = $11,
		    profit = $12,
		    commission = $13,
		    swap = $14,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'open'`,
		t.ID, t.ClosePrice, t.CloseTime, t.CloseReason, t.ExitBid, t.ExitAsk,
		t.ExitSpread, t.Session, t.PipsCaptured, t.RiskRewardRealized,
		t.HoldMinutes, t.Profit, t.Commission, t.Swap)
	if err != nil {
		return fmt.Errorf("failed to close trade %d: %w", t.ID, err)
	}
	return nil
}

// CloseMissingTrades force-closes DB-open trades the EA no longer reports.
// PnL is left untouched; the EA's last known values stand. Returns the
// affected trades.
func (s *Store) CloseMissingTrades(ctx context.Context, accountID int64, eaTickets []int64, now time.Time) ([]*Trade, error) {
	rows, err := s.q.Query(ctx, `
		UPDATE trades
		SET status = 'closed',
		    close_time = $3,
		    close_reason = 'SYNC_RECONCILIATION',
		    updated_at = NOW()
		WHERE account_id = $1 AND status = 'open' AND NOT (ticket = ANY($2))
		RETURNING`+tradeColumns,
		accountID, eaTickets, now)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile trades for account %d: %w", accountID, err)
	}
	return collectTrades(rows)
}

// OverrideCloseReason replaces a close reason after the fact, used when a
// generic MANUAL close matches a server-issued protective command.
func (s *Store) OverrideCloseReason(ctx context.Context, id int64, reason CloseReason) error {
	_, err := s.q.Exec(ctx,
		`UPDATE trades SET close_reason = $2, updated_at = NOW() WHERE id = $1`,
		id, reason)
	if err != nil {
		return fmt.Errorf("failed to override close reason for trade %d: %w", id, err)
	}
	return nil
}

// RecentTrades returns the latest trades for the ops surface
func (s *Store) RecentTrades(ctx context.Context, accountID int64, limit int) ([]*Trade, error) {
	rows, err := s.q.Query(ctx, `
		SELECT`+tradeColumns+`
		FROM trades
		WHERE account_id = $1
		ORDER BY open_time DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent trades: %w", err)
	}
	return collectTrades(rows)
}

// TimedOutTrades returns open trades older than the cutoff
func (s *Store) TimedOutTrades(ctx context.Context, maxAge time.Duration) ([]*Trade, error) {
	rows, err := s.q.Query(ctx,
		`SELECT`+tradeColumns+`FROM trades WHERE status = 'open' AND open_time < NOW() - $1::interval`,
		maxAge.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list timed-out trades: %w", err)
	}
	return collectTrades(rows)
}

// CountSLHitsSince counts SL_HIT closes for a symbol after the cutoff
func (s *Store) CountSLHitsSince(ctx context.Context, symbol string, since time.Time) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM trades
		WHERE symbol = $1 AND status = 'closed'
		  AND close_reason = 'SL_HIT' AND close_time > $2`,
		symbol, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count SL hits for %s: %w", symbol, err)
	}
	return count, nil
}

// ClosedTradeBySignal returns the closed trade linked to a signal, or nil
func (s *Store) ClosedTradeBySignal(ctx context.Context, signalID uuid.UUID) (*Trade, error) {
	row := s.q.QueryRow(ctx,
		`SELECT`+tradeColumns+`FROM trades WHERE signal_id = $1 AND status = 'closed' LIMIT 1`,
		signalID)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade for signal %s: %w", signalID, err)
	}
	return t, nil
}

// InsertTradeHistoryEvent appends one audit record for a trade modification
func (s *Store) InsertTradeHistoryEvent(ctx context.Context, e *TradeHistoryEvent) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO trade_history_events (
			trade_id, event_type, old_value, new_value, reason, source,
			price_at_change, spread_at_change
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.TradeID, e.EventType, e.OldValue, e.NewValue, e.Reason, e.Source,
		e.PriceAtChange, e.SpreadAtChange)
	if err != nil {
		return fmt.Errorf("failed to insert history event for trade %d: %w", e.TradeID, err)
	}
	return nil
}

// TradeHistory returns the audit trail for one trade in timestamp order
func (s *Store) TradeHistory(ctx context.Context, tradeID int64) ([]*TradeHistoryEvent, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, trade_id, event_type, old_value, new_value, reason, source,
		       price_at_change, spread_at_change, created_at
		FROM trade_history_events
		WHERE trade_id = $1
		ORDER BY created_at, id`,
		tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history for trade %d: %w", tradeID, err)
	}
	defer rows.Close()

	var events []*TradeHistoryEvent
	for rows.Next() {
		var e TradeHistoryEvent
		err := rows.Scan(&e.ID, &e.TradeID, &e.EventType, &e.OldValue,
			&e.NewValue, &e.Reason, &e.Source, &e.PriceAtChange,
			&e.SpreadAtChange, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
