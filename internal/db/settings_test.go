package db

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPatchGlobalSettingsRejectsUnknownKey makes sure arbitrary keys never
// reach the query builder.
func TestPatchGlobalSettingsRejectsUnknownKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)

	err = store.PatchGlobalSettings(context.Background(), map[string]interface{}{
		"risk_per_trade_percent": 1.5,
		"id":                     999,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized setting")
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPatchGlobalSettingsSingleKey applies one recognized key
func TestPatchGlobalSettingsSingleKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)

	mock.ExpectExec("UPDATE global_settings").
		WithArgs(false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.PatchGlobalSettings(context.Background(), map[string]interface{}{
		"autotrade_enabled": false,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPatchGlobalSettingsEmptyIsNoop does not touch the database at all
func TestPatchGlobalSettingsEmptyIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)

	err = store.PatchGlobalSettings(context.Background(), nil)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
