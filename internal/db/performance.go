package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RefreshSymbolPerformance recomputes one symbol's rolling 24h win-rate and
// profit from closed trades and upserts the tracking row. Returns the
// refreshed record.
func (s *Store) RefreshSymbolPerformance(ctx context.Context, symbol string) (*SymbolPerformance, error) {
	row := s.q.QueryRow(ctx, `
		WITH rolling AS (
			SELECT
				COUNT(*) AS samples,
				COUNT(*) FILTER (WHERE profit > 0) AS wins,
				COALESCE(SUM(profit + commission + swap), 0) AS profit
			FROM trades
			WHERE symbol = $1
			  AND status = 'closed'
			  AND close_time > NOW() - INTERVAL '24 hours'
		)
		INSERT INTO symbol_performance_tracking (symbol, win_rate_24h, profit_24h, sample_size_24h, updated_at)
		SELECT $1,
		       CASE WHEN samples > 0 THEN wins::float / samples ELSE 0 END,
		       profit,
		       samples,
		       NOW()
		FROM rolling
		ON CONFLICT (symbol) DO UPDATE SET
			win_rate_24h = EXCLUDED.win_rate_24h,
			profit_24h = EXCLUDED.profit_24h,
			sample_size_24h = EXCLUDED.sample_size_24h,
			updated_at = NOW()
		RETURNING symbol, status, auto_disabled_reason, win_rate_24h,
		          profit_24h, sample_size_24h, updated_at`,
		symbol)

	var p SymbolPerformance
	err := row.Scan(&p.Symbol, &p.Status, &p.AutoDisabledReason, &p.WinRate24h,
		&p.Profit24h, &p.SampleSize24h, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh performance for %s: %w", symbol, err)
	}
	return &p, nil
}

// GetSymbolPerformance loads the tracking row for one symbol
func (s *Store) GetSymbolPerformance(ctx context.Context, symbol string) (*SymbolPerformance, error) {
	var p SymbolPerformance
	err := s.q.QueryRow(ctx, `
		SELECT symbol, status, auto_disabled_reason, win_rate_24h, profit_24h,
		       sample_size_24h, updated_at
		FROM symbol_performance_tracking
		WHERE symbol = $1`,
		symbol).Scan(&p.Symbol, &p.Status, &p.AutoDisabledReason, &p.WinRate24h,
		&p.Profit24h, &p.SampleSize24h, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get performance for %s: %w", symbol, err)
	}
	return &p, nil
}

// SetSymbolStatus flips a symbol between active and disabled
func (s *Store) SetSymbolStatus(ctx context.Context, symbol, status string, reason *string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO symbol_performance_tracking (symbol, status, auto_disabled_reason, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			status = EXCLUDED.status,
			auto_disabled_reason = EXCLUDED.auto_disabled_reason,
			updated_at = NOW()`,
		symbol, status, reason)
	if err != nil {
		return fmt.Errorf("failed to set status for %s: %w", symbol, err)
	}
	return nil
}

// ClosedSymbolsSince returns distinct symbols with trades closed after the
// cutoff; the performance worker refreshes only these.
func (s *Store) ClosedSymbolsSince(ctx context.Context, cutoff string) ([]string, error) {
	rows, err := s.q.Query(ctx, `
		SELECT DISTINCT symbol
		FROM trades
		WHERE status = 'closed' AND close_time > NOW() - $1::interval`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list recently closed symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	return symbols, rows.Err()
}
