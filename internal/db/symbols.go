package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertBrokerSymbol stores or refreshes the broker constraints for a symbol
func (s *Store) UpsertBrokerSymbol(ctx context.Context, b *BrokerSymbol) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO broker_symbols (
			account_id, symbol, digits, point_value, stops_level, freeze_level,
			volume_min, volume_max, volume_step, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (account_id, symbol) DO UPDATE SET
			digits = EXCLUDED.digits,
			point_value = EXCLUDED.point_value,
			stops_level = EXCLUDED.stops_level,
			freeze_level = EXCLUDED.freeze_level,
			volume_min = EXCLUDED.volume_min,
			volume_max = EXCLUDED.volume_max,
			volume_step = EXCLUDED.volume_step,
			updated_at = NOW()`,
		b.AccountID, b.Symbol, b.Digits, b.PointValue, b.StopsLevel,
		b.FreezeLevel, b.VolumeMin, b.VolumeMax, b.VolumeStep)
	if err != nil {
		return fmt.Errorf("failed to upsert broker symbol %s: %w", b.Symbol, err)
	}
	return nil
}

// GetBrokerSymbol returns broker constraints for (account, symbol), or nil
// when the EA has not reported them yet.
func (s *Store) GetBrokerSymbol(ctx context.Context, accountID int64, symbol string) (*BrokerSymbol, error) {
	var b BrokerSymbol
	err := s.q.QueryRow(ctx, `
		SELECT account_id, symbol, digits, point_value, stops_level,
		       freeze_level, volume_min, volume_max, volume_step, updated_at
		FROM broker_symbols
		WHERE account_id = $1 AND symbol = $2`,
		accountID, symbol).Scan(
		&b.AccountID, &b.Symbol, &b.Digits, &b.PointValue, &b.StopsLevel,
		&b.FreezeLevel, &b.VolumeMin, &b.VolumeMax, &b.VolumeStep, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get broker symbol %s: %w", symbol, err)
	}
	return &b, nil
}
