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

const signalColumns = `
	id, account_id, symbol, timeframe, type, confidence, entry_price,
	sl_price, tp_price, indicator_snapshot, status, outcome, created_at, updated_at
`

func scanSignal(row pgx.Row) (*Signal, error) {
	var sig Signal
	err := row.Scan(
		&sig.ID, &sig.AccountID, &sig.Symbol, &sig.Timeframe, &sig.Type,
		&sig.Confidence, &sig.EntryPrice, &sig.SLPrice, &sig.TPPrice,
		&sig.IndicatorSnapshot, &sig.Status, &sig.Outcome,
		&sig.CreatedAt, &sig.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

// UpsertActiveSignal inserts a signal or replaces the existing active one for
// the same (account, symbol, timeframe). The replacement condition runs
// inside the conflict clause: a new generation wins only when its confidence
// is higher or its direction differs; otherwise the old signal stays and only
// updated_at is bumped. Returns the surviving row.
func (s *Store) UpsertActiveSignal(ctx context.Context, sig *Signal) (*Signal, error) {
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	if sig.Status == "" {
		sig.Status = SignalStatusActive
	}

	row := s.q.QueryRow(ctx, `
		INSERT INTO signals (
			id, account_id, symbol, timeframe, type, confidence, entry_price,
			sl_price, tp_price, indicator_snapshot, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'active')
		ON CONFLICT (account_id, symbol, timeframe) WHERE status = 'active'
		DO UPDATE SET
			id = EXCLUDED.id,
			type = EXCLUDED.type,
			confidence = EXCLUDED.confidence,
			entry_price = EXCLUDED.entry_price,
			sl_price = EXCLUDED.sl_price,
			tp_price = EXCLUDED.tp_price,
			indicator_snapshot = EXCLUDED.indicator_snapshot,
			created_at = NOW(),
			updated_at = NOW()
		WHERE signals.confidence < EXCLUDED.confidence OR signals.type <> EXCLUDED.type
		RETURNING`+signalColumns,
		sig.ID, sig.AccountID, sig.Symbol, sig.Timeframe, sig.Type,
		sig.Confidence, sig.EntryPrice, sig.SLPrice, sig.TPPrice,
		sig.IndicatorSnapshot)

	stored, err := scanSignal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Existing signal won: bump its freshness and return it.
		row = s.q.QueryRow(ctx, `
			UPDATE signals SET updated_at = NOW()
			WHERE account_id = $1 AND symbol = $2 AND timeframe = $3 AND status = 'active'
			RETURNING`+signalColumns,
			sig.AccountID, sig.Symbol, sig.Timeframe)
		stored, err = scanSignal(row)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert signal %s %s %s: %w", sig.Symbol, sig.Timeframe, sig.Type, err)
	}

	log.Debug().
		Str("signal_id", stored.ID.String()).
		Str("symbol", stored.Symbol).
		Str("timeframe", stored.Timeframe).
		Str("type", string(stored.Type)).
		Float64("confidence", stored.Confidence).
		Msg("Signal upserted")

	return stored, nil
}

// GetSignal loads one signal by id
func (s *Store) GetSignal(ctx context.Context, id uuid.UUID) (*Signal, error) {
	row := s.q.QueryRow(ctx, `SELECT`+signalColumns+`FROM signals WHERE id = $1`, id)
	sig, err := scanSignal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal %s: %w", id, err)
	}
	return sig, nil
}

// GetActiveSignal loads the active signal for one (account, symbol, timeframe)
func (s *Store) GetActiveSignal(ctx context.Context, accountID int64, symbol, timeframe string) (*Signal, error) {
	row := s.q.QueryRow(ctx,
		`SELECT`+signalColumns+`FROM signals
		 WHERE account_id = $1 AND symbol = $2 AND timeframe = $3 AND status = 'active'`,
		accountID, symbol, timeframe)
	sig, err := scanSignal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active signal: %w", err)
	}
	return sig, nil
}

// ListActiveSignals returns all active signals for an account
func (s *Store) ListActiveSignals(ctx context.Context, accountID int64) ([]*Signal, error) {
	rows, err := s.q.Query(ctx,
		`SELECT`+signalColumns+`FROM signals
		 WHERE account_id = $1 AND status = 'active'
		 ORDER BY created_at DESC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active signals: %w", err)
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// UpdateSignalStatus transitions a signal out of the active state
func (s *Store) UpdateSignalStatus(ctx context.Context, id uuid.UUID, status SignalStatus) error {
	_, err := s.q.Exec(ctx,
		`UPDATE signals SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to update signal %s status: %w", id, err)
	}
	return nil
}

// ExpireSignals marks active signals older than maxAge as expired and
// returns how many were affected.
func (s *Store) ExpireSignals(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE signals
		SET status = 'expired', outcome = 'EXPIRED', updated_at = NOW()
		WHERE status = 'active' AND created_at < NOW() - $1::interval`,
		maxAge.String())
	if err != nil {
		return 0, fmt.Errorf("failed to expire signals: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetSignalOutcome back-fills the realized result of an executed signal
func (s *Store) SetSignalOutcome(ctx context.Context, id uuid.UUID, outcome SignalOutcome) error {
	_, err := s.q.Exec(ctx,
		`UPDATE signals SET outcome = $2, updated_at = NOW() WHERE id = $1`,
		id, outcome)
	if err != nil {
		return fmt.Errorf("failed to set outcome for signal %s: %w", id, err)
	}
	return nil
}

// ExecutedSignalsWithoutOutcome returns executed signals whose linked trade
// has closed but whose outcome is not yet recorded.
func (s *Store) ExecutedSignalsWithoutOutcome(ctx context.Context, limit int) ([]*Signal, error) {
	rows, err := s.q.Query(ctx, `
		SELECT`+signalColumns+`
		FROM signals
		WHERE status = 'executed' AND outcome IS NULL
		  AND EXISTS (
			SELECT 1 FROM trades
			WHERE trades.signal_id = signals.id AND trades.status = 'closed'
		  )
		ORDER BY updated_at
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals without outcome: %w", err)
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}
