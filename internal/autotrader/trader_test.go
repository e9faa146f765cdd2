package autotrader

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradebridge/internal/bus"
	"github.com/ajitpratap0/tradebridge/internal/config"
	"github.com/ajitpratap0/tradebridge/internal/db"
)

type fakeGateStore struct {
	account    *db.Account
	settings   *db.GlobalSettings
	signal     *db.Signal
	openTotal  int
	openSymbol int
	direction  map[db.SignalType]int
	broker     *db.BrokerSymbol
	perf       *db.SymbolPerformance

	statusUpdates []db.SignalStatus
}

func (f *fakeGateStore) GetAccount(context.Context, int64) (*db.Account, error) {
	return f.account, nil
}

func (f *fakeGateStore) GetGlobalSettings(context.Context) (*db.GlobalSettings, error) {
	return f.settings, nil
}

func (f *fakeGateStore) GetSignal(context.Context, uuid.UUID) (*db.Signal, error) {
	return f.signal, nil
}

func (f *fakeGateStore) CountOpenTrades(context.Context, int64, string) (int, int, error) {
	return f.openTotal, f.openSymbol, nil
}

func (f *fakeGateStore) OpenDirectionCounts(context.Context, int64, []string) (map[db.SignalType]int, error) {
	return f.direction, nil
}

func (f *fakeGateStore) GetBrokerSymbol(context.Context, int64, string) (*db.BrokerSymbol, error) {
	return f.broker, nil
}

func (f *fakeGateStore) GetSymbolPerformance(context.Context, string) (*db.SymbolPerformance, error) {
	return f.perf, nil
}

func (f *fakeGateStore) UpdateSignalStatus(_ context.Context, _ uuid.UUID, status db.SignalStatus) error {
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

type fakeConns struct{ healthy bool }

func (f *fakeConns) Healthy(int64) bool { return f.healthy }

type fakeGuard struct {
	paused bool
	reason string
}

func (f *fakeGuard) Paused(string) (bool, string) { return f.paused, f.reason }

type fakeTickSource struct{ tick *db.Tick }

func (f *fakeTickSource) LatestTick(context.Context, string) (*db.Tick, error) {
	return f.tick, nil
}

type fakeSpreads struct {
	avg float64
	n   int
}

func (f *fakeSpreads) Average(string, time.Time) (float64, int) { return f.avg, f.n }

type fakeCommandSender struct {
	sent []*db.Command
}

func (f *fakeCommandSender) Send(_ context.Context, cmd *db.Command) (*db.Command, error) {
	cmd.CommandID = uuid.New()
	f.sent = append(f.sent, cmd)
	return cmd, nil
}

type fakeDecisions struct {
	logged []*db.AIDecision
}

func (f *fakeDecisions) Log(_ context.Context, d *db.AIDecision) {
	f.logged = append(f.logged, d)
}

func (f *fakeDecisions) last() *db.AIDecision {
	if len(f.logged) == 0 {
		return nil
	}
	return f.logged[len(f.logged)-1]
}

type traderFixture struct {
	trader    *Trader
	store     *fakeGateStore
	conns     *fakeConns
	guard     *fakeGuard
	ticks     *fakeTickSource
	spreads   *fakeSpreads
	sender    *fakeCommandSender
	decisions *fakeDecisions
	signal    *db.Signal
}

func newTraderFixture(t *testing.T) *traderFixture {
	t.Helper()

	sig := &db.Signal{
		ID:         uuid.New(),
		AccountID:  1,
		Symbol:     "EURUSD",
		Timeframe:  "H1",
		Type:       db.SignalBuy,
		Confidence: 72,
		EntryPrice: 1.1000,
		SLPrice:    1.0950,
		TPPrice:    1.1100,
		Status:     db.SignalStatusActive,
		CreatedAt:  time.Now().Add(-time.Minute),
	}
	store := &fakeGateStore{
		account: &db.Account{
			ID:                 1,
			Balance:            10000,
			AutotradingEnabled: true,
		},
		settings: &db.GlobalSettings{
			RiskPerTradePercent:    1.0,
			MaxPositions:           10,
			MaxPositionsPerSymbol:  2,
			MaxDailyLossPercent:    5.0,
			MinAutotradeConfidence: 65,
			SignalMaxAgeMinutes:    60,
			AutotradeEnabled:       true,
		},
		signal:    sig,
		direction: map[db.SignalType]int{},
		broker:    eurusdBroker(),
	}
	fx := &traderFixture{
		store:     store,
		conns:     &fakeConns{healthy: true},
		guard:     &fakeGuard{},
		ticks:     &fakeTickSource{tick: &db.Tick{Symbol: "EURUSD", Bid: 1.0999, Ask: 1.1000, Spread: 0.0001, Time: time.Now()}},
		spreads:   &fakeSpreads{avg: 0.0001, n: 30},
		sender:    &fakeCommandSender{},
		decisions: &fakeDecisions{},
		signal:    sig,
	}
	fx.trader = New(fx.store, fx.conns, fx.guard, fx.ticks, fx.spreads, fx.sender, fx.decisions,
		config.DefaultSymbolRules(), zerolog.Nop())
	return fx
}

func TestExecuteEmitsOpenTrade(t *testing.T) {
	fx := newTraderFixture(t)

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	require.NotNil(t, cmd)

	assert.Equal(t, db.CommandOpenTrade, cmd.Type)
	assert.Equal(t, db.PriorityNormal, cmd.Priority)
	require.NotNil(t, cmd.LinkedSignalID)
	assert.Equal(t, fx.signal.ID, *cmd.LinkedSignalID)
	assert.Equal(t, "BUY", cmd.Payload["direction"])
	assert.InDelta(t, 0.20, cmd.Payload["volume"].(float64), 1e-9)
	assert.InDelta(t, 1.0950, cmd.Payload["sl"].(float64), 1e-9)

	require.Equal(t, []db.SignalStatus{db.SignalStatusExecuted}, fx.store.statusUpdates)

	d := fx.decisions.last()
	require.NotNil(t, d)
	assert.True(t, d.Approved)
}

func TestExecuteRejectsWhenBreakerTripped(t *testing.T) {
	fx := newTraderFixture(t)
	fx.store.account.BreakerTripped = true

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Empty(t, fx.sender.sent)

	d := fx.decisions.last()
	require.NotNil(t, d)
	assert.False(t, d.Approved)
	assert.Equal(t, "Circuit breaker tripped", d.Reason)
	assert.Equal(t, db.ImpactCritical, d.Impact)
}

func TestExecuteRejectsWhenAutotradingDisabled(t *testing.T) {
	fx := newTraderFixture(t)
	fx.store.settings.AutotradeEnabled = false

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, "Auto-trading disabled", fx.decisions.last().Reason)
}

func TestExecuteRejectsUnhealthyConnection(t *testing.T) {
	fx := newTraderFixture(t)
	fx.conns.healthy = false

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, GateConnection, fx.decisions.last().Details["gate"])
}

func TestExecuteRejectsStaleSignal(t *testing.T) {
	fx := newTraderFixture(t)
	fx.signal.CreatedAt = time.Now().Add(-2 * time.Hour)

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, GateSignalAge, fx.decisions.last().Details["gate"])
}

func TestExecuteRejectsPausedSymbol(t *testing.T) {
	fx := newTraderFixture(t)
	fx.guard.paused = true
	fx.guard.reason = "SL-hit cooldown active"

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, "SL-hit cooldown active", fx.decisions.last().Reason)
}

func TestExecuteRejectsDisabledSymbol(t *testing.T) {
	fx := newTraderFixture(t)
	reason := "win rate below threshold"
	fx.store.perf = &db.SymbolPerformance{Symbol: "EURUSD", Status: "disabled", AutoDisabledReason: &reason}

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, reason, fx.decisions.last().Reason)
}

func TestExecuteRejectsPositionCeilings(t *testing.T) {
	fx := newTraderFixture(t)
	fx.store.openTotal = 10

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, GateMaxPositions, fx.decisions.last().Details["gate"])

	fx.store.openTotal = 4
	fx.store.openSymbol = 2
	cmd, err = fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, GateMaxPerSymbol, fx.decisions.last().Details["gate"])
}

func TestExecuteRejectsCorrelatedExposure(t *testing.T) {
	fx := newTraderFixture(t)
	// EURUSD belongs to correlation groups capped at 2 same-direction positions.
	fx.store.direction = map[db.SignalType]int{db.SignalBuy: 2}

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, GateCorrelation, fx.decisions.last().Details["gate"])
}

func TestExecuteRejectsDailyDrawdown(t *testing.T) {
	fx := newTraderFixture(t)
	fx.store.account.ProfitToday = -600 // 6% of 10000, limit is 5%

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, GateDailyDrawdown, fx.decisions.last().Details["gate"])
}

func TestExecuteRejectsLowConfidence(t *testing.T) {
	fx := newTraderFixture(t)
	fx.signal.Confidence = 60

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, GateConfidence, fx.decisions.last().Details["gate"])
}

func TestExecuteHonorsPerSymbolConfidenceFloor(t *testing.T) {
	fx := newTraderFixture(t)
	// Default rules raise XAUUSD's floor to 72; a 70 signal clears the global
	// floor but not the override.
	fx.signal.Symbol = "XAUUSD"
	fx.signal.Confidence = 70

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, GateConfidence, fx.decisions.last().Details["gate"])
}

func TestExecuteRejectsWideSpreadVsAverage(t *testing.T) {
	fx := newTraderFixture(t)
	fx.spreads.avg = 0.00005
	fx.ticks.tick.Spread = 0.00025 // above 3x average, below the 3-pip class cap

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, GateSpread, fx.decisions.last().Details["gate"])
	assert.Contains(t, fx.decisions.last().Reason, "rolling average")
}

func TestExecuteRejectsSpreadAboveClassCap(t *testing.T) {
	fx := newTraderFixture(t)
	fx.spreads.n = 0 // no rolling history yet, the hard cap still applies
	fx.ticks.tick.Spread = 0.0005

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Contains(t, fx.decisions.last().Reason, "class cap")
}

func TestExecuteRejectsStaleTick(t *testing.T) {
	fx := newTraderFixture(t)
	fx.ticks.tick.Time = time.Now().Add(-2 * time.Minute)

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, GateTickFreshness, fx.decisions.last().Details["gate"])
}

func TestExecuteRejectsSizingFailure(t *testing.T) {
	fx := newTraderFixture(t)
	fx.signal.SLPrice = fx.signal.EntryPrice

	cmd, err := fx.trader.Execute(context.Background(), fx.signal)
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, GateSizing, fx.decisions.last().Details["gate"])
}

func TestHandleSignalEventExecutes(t *testing.T) {
	fx := newTraderFixture(t)

	fx.trader.HandleSignalEvent(context.Background(), &bus.Event{
		Subject: "signal.created",
		Payload: map[string]interface{}{"signal_id": fx.signal.ID.String()},
	})

	require.Len(t, fx.sender.sent, 1)
}

func TestHandleSignalEventIgnoresInactive(t *testing.T) {
	fx := newTraderFixture(t)
	fx.signal.Status = db.SignalStatusExecuted

	fx.trader.HandleSignalEvent(context.Background(), &bus.Event{
		Subject: "signal.created",
		Payload: map[string]interface{}{"signal_id": fx.signal.ID.String()},
	})

	assert.Empty(t, fx.sender.sent)
}
