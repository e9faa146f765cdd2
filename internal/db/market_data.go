package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertTicks batch-inserts a flushed ring buffer with one multi-row INSERT.
// Tick order within a symbol is preserved by insertion sequence.
func (s *Store) InsertTicks(ctx context.Context, ticks []Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ticks (symbol, bid, ask, spread, volume, tick_time) VALUES ")
	args := make([]any, 0, len(ticks)*6)
	for i, t := range ticks {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, t.Symbol, t.Bid, t.Ask, t.Spread, t.Volume, t.Time)
	}

	if _, err := s.q.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert %d ticks: %w", len(ticks), err)
	}
	return nil
}

// LatestTick returns the most recent stored tick for a symbol
func (s *Store) LatestTick(ctx context.Context, symbol string) (*Tick, error) {
	var t Tick
	err := s.q.QueryRow(ctx, `
		SELECT symbol, bid, ask, spread, volume, tick_time
		FROM ticks
		WHERE symbol = $1
		ORDER BY tick_time DESC
		LIMIT 1`,
		symbol).Scan(&t.Symbol, &t.Bid, &t.Ask, &t.Spread, &t.Volume, &t.Time)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest tick for %s: %w", symbol, err)
	}
	return &t, nil
}

// AverageSpread computes the rolling mean spread for a symbol over a window
func (s *Store) AverageSpread(ctx context.Context, symbol string, window time.Duration) (float64, int64, error) {
	var avg float64
	var count int64
	err := s.q.QueryRow(ctx, `
		SELECT COALESCE(AVG(spread), 0), COUNT(*)
		FROM ticks
		WHERE symbol = $1 AND tick_time > NOW() - $2::interval`,
		symbol, window.String()).Scan(&avg, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute average spread for %s: %w", symbol, err)
	}
	return avg, count, nil
}

// DeleteTicksBefore enforces tick retention; returns rows removed
func (s *Store) DeleteTicksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM ticks WHERE tick_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old ticks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertOHLCBars idempotently inserts historical bars: re-uploading the same
// payload has no effect. Returns the number of newly stored bars.
func (s *Store) InsertOHLCBars(ctx context.Context, bars []OHLCBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ohlc_bars (symbol, timeframe, open_time, open, high, low, close, volume) VALUES ")
	args := make([]any, 0, len(bars)*8)
	for i, b := range bars {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 8
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, b.Symbol, b.Timeframe, b.OpenTime, b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	sb.WriteString(" ON CONFLICT (symbol, timeframe, open_time) DO NOTHING")

	tag, err := s.q.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %d OHLC bars: %w", len(bars), err)
	}
	return tag.RowsAffected(), nil
}

// RecentBars returns the latest n bars for (symbol, timeframe) in ascending
// open_time order, ready for indicator computation.
func (s *Store) RecentBars(ctx context.Context, symbol, timeframe string, n int) ([]OHLCBar, error) {
	rows, err := s.q.Query(ctx, `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM (
			SELECT symbol, timeframe, open_time, open, high, low, close, volume
			FROM ohlc_bars
			WHERE symbol = $1 AND timeframe = $2
			ORDER BY open_time DESC
			LIMIT $3
		) latest
		ORDER BY open_time`,
		symbol, timeframe, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load bars for %s %s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	var bars []OHLCBar
	for rows.Next() {
		var b OHLCBar
		if err := rows.Scan(&b.Symbol, &b.Timeframe, &b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// CountBarsSince returns the bar count for (symbol, timeframe) newer than since
func (s *Store) CountBarsSince(ctx context.Context, symbol, timeframe string, since time.Time) (int64, error) {
	var count int64
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM ohlc_bars
		WHERE symbol = $1 AND timeframe = $2 AND open_time >= $3`,
		symbol, timeframe, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bars for %s %s: %w", symbol, timeframe, err)
	}
	return count, nil
}

// LatestBarTime returns the newest stored open_time, or zero when no bars exist
func (s *Store) LatestBarTime(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var t *time.Time
	err := s.q.QueryRow(ctx, `
		SELECT MAX(open_time) FROM ohlc_bars WHERE symbol = $1 AND timeframe = $2`,
		symbol, timeframe).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest bar time for %s %s: %w", symbol, timeframe, err)
	}
	if t == nil {
		return time.Time{}, nil
	}
	return *t, nil
}
