package db

import (
	"context"
	"fmt"
	"time"
)

// InsertNewsEvent stores one calendar entry from the external feed
func (s *Store) InsertNewsEvent(ctx context.Context, e *NewsEvent) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO news_events (currency, title, impact, event_time)
		VALUES ($1, $2, $3, $4)`,
		e.Currency, e.Title, e.Impact, e.EventTime)
	if err != nil {
		return fmt.Errorf("failed to insert news event %s: %w", e.Title, err)
	}
	return nil
}

// ActiveNewsWindows returns high-impact events whose pause window
// [event-15m, event+5m] contains the given instant.
func (s *Store) ActiveNewsWindows(ctx context.Context, now time.Time) ([]*NewsEvent, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, currency, title, impact, event_time, created_at
		FROM news_events
		WHERE impact = 'high'
		  AND event_time - INTERVAL '15 minutes' <= $1
		  AND event_time + INTERVAL '5 minutes' >= $1`,
		now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active news windows: %w", err)
	}
	defer rows.Close()

	var events []*NewsEvent
	for rows.Next() {
		var e NewsEvent
		if err := rows.Scan(&e.ID, &e.Currency, &e.Title, &e.Impact, &e.EventTime, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan news event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// DeleteNewsBefore trims stale calendar entries; returns rows removed
func (s *Store) DeleteNewsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM news_events WHERE event_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old news events: %w", err)
	}
	return tag.RowsAffected(), nil
}
