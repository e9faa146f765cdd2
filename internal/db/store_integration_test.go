package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/db/testhelpers"
)

// setupStore spins up a PostgreSQL container with the full schema applied.
// Skipped with -short or when Docker is unavailable.
func setupStore(t *testing.T) *db.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pg := testhelpers.SetupTestDatabase(t)
	require.NoError(t, pg.ApplyMigrations("../../migrations"))
	return db.NewStore(pg.Pool)
}

func createTestAccount(t *testing.T, store *db.Store, number int64) *db.Account {
	t.Helper()
	acct, err := store.CreateAccount(context.Background(), "TestBroker", number, "USD", 10000)
	require.NoError(t, err)
	return acct
}

// TestSignalUniquenessInvariant drives the one-active-signal rule end to end
// against the real partial unique index.
func TestSignalUniquenessInvariant(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	acct := createTestAccount(t, store, 100001)

	first, err := store.UpsertActiveSignal(ctx, &db.Signal{
		AccountID:  acct.ID,
		Symbol:     "EURUSD",
		Timeframe:  "H1",
		Type:       db.SignalBuy,
		Confidence: 70,
		EntryPrice: 1.0850,
		SLPrice:    1.0820,
		TPPrice:    1.0910,
	})
	require.NoError(t, err)

	// Weaker same-direction generation: the first signal survives.
	surviving, err := store.UpsertActiveSignal(ctx, &db.Signal{
		AccountID:  acct.ID,
		Symbol:     "EURUSD",
		Timeframe:  "H1",
		Type:       db.SignalBuy,
		Confidence: 65,
		EntryPrice: 1.0851,
		SLPrice:    1.0821,
		TPPrice:    1.0911,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, surviving.ID)
	assert.Equal(t, 70.0, surviving.Confidence)
	assert.True(t, surviving.UpdatedAt.After(first.UpdatedAt) ||
		surviving.UpdatedAt.Equal(first.UpdatedAt))

	// Stronger generation replaces it.
	replaced, err := store.UpsertActiveSignal(ctx, &db.Signal{
		AccountID:  acct.ID,
		Symbol:     "EURUSD",
		Timeframe:  "H1",
		Type:       db.SignalBuy,
		Confidence: 80,
		EntryPrice: 1.0852,
		SLPrice:    1.0822,
		TPPrice:    1.0912,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, replaced.ID)
	assert.Equal(t, 80.0, replaced.Confidence)

	// Direction change replaces regardless of confidence.
	flipped, err := store.UpsertActiveSignal(ctx, &db.Signal{
		AccountID:  acct.ID,
		Symbol:     "EURUSD",
		Timeframe:  "H1",
		Type:       db.SignalSell,
		Confidence: 61,
		EntryPrice: 1.0853,
		SLPrice:    1.0883,
		TPPrice:    1.0793,
	})
	require.NoError(t, err)
	assert.Equal(t, db.SignalSell, flipped.Type)

	// Exactly one active row for the key throughout.
	active, err := store.ListActiveSignals(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, flipped.ID, active[0].ID)

	// A different timeframe is a different key.
	_, err = store.UpsertActiveSignal(ctx, &db.Signal{
		AccountID:  acct.ID,
		Symbol:     "EURUSD",
		Timeframe:  "M15",
		Type:       db.SignalBuy,
		Confidence: 66,
		EntryPrice: 1.0853,
		SLPrice:    1.0843,
		TPPrice:    1.0873,
	})
	require.NoError(t, err)
	active, err = store.ListActiveSignals(ctx, acct.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

// TestCommandLifecycle walks a command through PENDING -> EXECUTING ->
// COMPLETED and checks the at-most-once completion guard.
func TestCommandLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	acct := createTestAccount(t, store, 100002)

	cmd, err := store.InsertCommand(ctx, &db.Command{
		AccountID: acct.ID,
		Type:      db.CommandOpenTrade,
		Payload:   map[string]interface{}{"symbol": "EURUSD", "volume": 0.10},
		Priority:  db.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, db.CommandPending, cmd.Status)
	assert.Equal(t, 10, cmd.TimeoutSeconds)

	require.NoError(t, store.MarkCommandSent(ctx, cmd.ID))

	done, err := store.CompleteCommand(ctx, cmd.CommandID, db.CommandCompleted,
		map[string]interface{}{"ticket": float64(555001)}, "")
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, db.CommandCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	// Duplicate response: no-op.
	again, err := store.CompleteCommand(ctx, cmd.CommandID, db.CommandFailed,
		nil, "late duplicate")
	require.NoError(t, err)
	assert.Nil(t, again)

	stored, err := store.GetCommand(ctx, cmd.CommandID)
	require.NoError(t, err)
	assert.Equal(t, db.CommandCompleted, stored.Status)
}

// TestCommandRetryAndTimeout exercises requeue and the terminal TIMEOUT state
func TestCommandRetryAndTimeout(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	acct := createTestAccount(t, store, 100003)

	cmd, err := store.InsertCommand(ctx, &db.Command{
		AccountID: acct.ID,
		Type:      db.CommandModifyTrade,
		Payload:   map[string]interface{}{"ticket": float64(1)},
	})
	require.NoError(t, err)

	require.NoError(t, store.MarkCommandSent(ctx, cmd.ID))

	requeued, err := store.RequeueCommand(ctx, cmd.ID)
	require.NoError(t, err)
	require.NotNil(t, requeued)
	assert.Equal(t, db.CommandPending, requeued.Status)
	assert.Equal(t, 1, requeued.RetryCount)
	assert.Nil(t, requeued.SentAt)

	// Requeue only applies to EXECUTING rows.
	noop, err := store.RequeueCommand(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Nil(t, noop)

	require.NoError(t, store.MarkCommandSent(ctx, cmd.ID))
	timedOut, err := store.MarkCommandTimedOut(ctx, cmd.ID)
	require.NoError(t, err)
	require.NotNil(t, timedOut)
	assert.Equal(t, db.CommandTimeout, timedOut.Status)
}

// TestTradeTrailingAndReconciliation covers the SL compare-and-set, the TP
// extension bound and the EA-authoritative close of missing trades.
func TestTradeTrailingAndReconciliation(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	acct := createTestAccount(t, store, 100004)

	buy, err := store.InsertTrade(ctx, &db.Trade{
		Ticket:    777001,
		AccountID: acct.ID,
		Symbol:    "EURUSD",
		Direction: db.SignalBuy,
		Volume:    0.10,
		OpenPrice: 1.0850,
		OpenTime:  time.Now().UTC(),
		SL:        1.0820,
		TP:        1.0910,
		Source:    db.SourceAutotrade,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0910, buy.OriginalTP)
	assert.Equal(t, 1.0820, buy.InitialSL)

	// Forward move lands, backwards move does not.
	moved, err := store.AdvanceTradeSL(ctx, buy.ID, 1.0840)
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = store.AdvanceTradeSL(ctx, buy.ID, 1.0830)
	require.NoError(t, err)
	assert.False(t, moved)

	after, err := store.GetTrade(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0840, after.SL)
	assert.True(t, after.TrailingActive)
	assert.Equal(t, 1, after.TrailingMoves)

	// TP extensions stop after five.
	for i := 0; i < 5; i++ {
		extended, err := store.ExtendTradeTP(ctx, buy.ID, 1.0910+float64(i+1)*0.0030)
		require.NoError(t, err)
		assert.True(t, extended)
	}
	extended, err := store.ExtendTradeTP(ctx, buy.ID, 1.1200)
	require.NoError(t, err)
	assert.False(t, extended)

	// Second open trade, then a sync that no longer reports it.
	other, err := store.InsertTrade(ctx, &db.Trade{
		Ticket:    777002,
		AccountID: acct.ID,
		Symbol:    "GBPUSD",
		Direction: db.SignalSell,
		Volume:    0.10,
		OpenPrice: 1.2700,
		OpenTime:  time.Now().UTC(),
		SL:        1.2740,
		TP:        1.2620,
		Source:    db.SourceMT5,
	})
	require.NoError(t, err)

	closed, err := store.CloseMissingTrades(ctx, acct.ID, []int64{buy.Ticket}, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, other.ID, closed[0].ID)
	require.NotNil(t, closed[0].CloseReason)
	assert.Equal(t, db.CloseReconciliation, *closed[0].CloseReason)

	open, err := store.OpenTrades(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, buy.ID, open[0].ID)
}

// TestAccountRiskStateRoundTrip persists and reloads the per-account breaker
// state the risk manager reconstructs at startup.
func TestAccountRiskStateRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	acct := createTestAccount(t, store, 100005)
	assert.True(t, acct.AutotradingEnabled)
	assert.Equal(t, 10000.0, acct.InitialBalance)

	err := store.UpdateRiskState(ctx, acct.ID, false, true, "daily loss limit reached", 3)
	require.NoError(t, err)

	reloaded, err := store.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.AutotradingEnabled)
	assert.True(t, reloaded.BreakerTripped)
	assert.Equal(t, "daily loss limit reached", reloaded.BreakerReason)
	assert.Equal(t, 3, reloaded.FailedCommandCount)
}

// TestGlobalSettingsDefaults checks the seeded singleton row and patching
func TestGlobalSettingsDefaults(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	gs, err := store.GetGlobalSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, gs.RiskPerTradePercent)
	assert.Equal(t, 10, gs.MaxPositions)
	assert.Equal(t, 2, gs.MaxPositionsPerSymbol)
	assert.True(t, gs.AutotradeEnabled)

	require.NoError(t, store.PatchGlobalSettings(ctx, map[string]interface{}{
		"autotrade_enabled":      false,
		"risk_per_trade_percent": 0.5,
	}))

	gs, err = store.GetGlobalSettings(ctx)
	require.NoError(t, err)
	assert.False(t, gs.AutotradeEnabled)
	assert.Equal(t, 0.5, gs.RiskPerTradePercent)
}
