package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradebridge/internal/bus"
	"github.com/ajitpratap0/tradebridge/internal/db"
)

type fakeRiskStore struct {
	mu sync.Mutex

	accounts    []*db.Account
	settings    *db.GlobalSettings
	dailyProfit map[int64]float64
	openTrades  map[int64][]*db.Trade

	riskUpdates   []riskUpdate
	profitUpdates map[int64]float64
}

type riskUpdate struct {
	accountID int64
	tripped   bool
	reason    string
	failed    int
}

func newFakeRiskStore() *fakeRiskStore {
	return &fakeRiskStore{
		dailyProfit:   make(map[int64]float64),
		openTrades:    make(map[int64][]*db.Trade),
		profitUpdates: make(map[int64]float64),
		settings: &db.GlobalSettings{
			MaxDailyLossPercent:     5.0,
			MaxTotalDrawdownPercent: 20.0,
		},
	}
}

func (f *fakeRiskStore) ListAccounts(context.Context) ([]*db.Account, error) {
	return f.accounts, nil
}

func (f *fakeRiskStore) GetGlobalSettings(context.Context) (*db.GlobalSettings, error) {
	return f.settings, nil
}

func (f *fakeRiskStore) UpdateRiskState(_ context.Context, id int64, _, tripped bool, reason string, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.riskUpdates = append(f.riskUpdates, riskUpdate{accountID: id, tripped: tripped, reason: reason, failed: failed})
	return nil
}

func (f *fakeRiskStore) DailyClosedProfit(_ context.Context, id int64) (float64, error) {
	return f.dailyProfit[id], nil
}

func (f *fakeRiskStore) SetProfitToday(_ context.Context, id int64, profit float64) error {
	f.profitUpdates[id] = profit
	return nil
}

func (f *fakeRiskStore) OpenTrades(_ context.Context, accountID int64) ([]*db.Trade, error) {
	return f.openTrades[accountID], nil
}

type fakeNotifier struct {
	critical []string
	warning  []string
	info     []string
}

func (f *fakeNotifier) SendCritical(_ context.Context, title, _ string, _ map[string]interface{}) error {
	f.critical = append(f.critical, title)
	return nil
}

func (f *fakeNotifier) SendWarning(_ context.Context, title, _ string, _ map[string]interface{}) error {
	f.warning = append(f.warning, title)
	return nil
}

func (f *fakeNotifier) SendInfo(_ context.Context, title, _ string, _ map[string]interface{}) error {
	f.info = append(f.info, title)
	return nil
}

type fakeRiskDecisions struct {
	logged []*db.AIDecision
}

func (f *fakeRiskDecisions) Log(_ context.Context, d *db.AIDecision) {
	f.logged = append(f.logged, d)
}

type fakePublisher struct {
	events []*bus.Event
}

func (f *fakePublisher) Publish(subject string, evt *bus.Event) {
	evt.Subject = subject
	f.events = append(f.events, evt)
}

type fakeRiskSender struct {
	sent []*db.Command
}

func (f *fakeRiskSender) Send(_ context.Context, cmd *db.Command) (*db.Command, error) {
	f.sent = append(f.sent, cmd)
	return cmd, nil
}

func newTestBreaker(store *fakeRiskStore) (*Breaker, *fakeRiskDecisions, *fakeNotifier, *fakePublisher) {
	decisions := &fakeRiskDecisions{}
	notifier := &fakeNotifier{}
	pub := &fakePublisher{}
	return NewBreaker(store, decisions, notifier, pub, zerolog.Nop()), decisions, notifier, pub
}

func TestBreakerTripPersistsAndAnnounces(t *testing.T) {
	store := newFakeRiskStore()
	b, decisions, notifier, pub := newTestBreaker(store)

	require.NoError(t, b.Trip(context.Background(), 1, "Daily loss breached"))

	tripped, reason := b.Tripped(1)
	assert.True(t, tripped)
	assert.Equal(t, "Daily loss breached", reason)

	require.Len(t, store.riskUpdates, 1)
	assert.True(t, store.riskUpdates[0].tripped)

	require.Len(t, decisions.logged, 1)
	assert.Equal(t, db.ImpactCritical, decisions.logged[0].Impact)
	assert.True(t, decisions.logged[0].ActionRequired)

	assert.Len(t, notifier.critical, 1)
	require.Len(t, pub.events, 1)
	assert.Equal(t, bus.SubjectBreakerTripped, pub.events[0].Subject)
}

func TestBreakerTripIsIdempotent(t *testing.T) {
	store := newFakeRiskStore()
	b, decisions, notifier, _ := newTestBreaker(store)

	require.NoError(t, b.Trip(context.Background(), 1, "first"))
	require.NoError(t, b.Trip(context.Background(), 1, "second"))

	assert.Len(t, decisions.logged, 1)
	assert.Len(t, notifier.critical, 1)
}

func TestBreakerResetClearsFailedCount(t *testing.T) {
	store := newFakeRiskStore()
	b, _, _, _ := newTestBreaker(store)

	require.NoError(t, b.RecordCommandFailure(context.Background(), 1, db.CommandOpenTrade))
	require.NoError(t, b.RecordCommandFailure(context.Background(), 1, db.CommandOpenTrade))
	require.NoError(t, b.Trip(context.Background(), 1, "manual test"))

	require.NoError(t, b.Reset(context.Background(), 1))

	tripped, _ := b.Tripped(1)
	assert.False(t, tripped)
	last := store.riskUpdates[len(store.riskUpdates)-1]
	assert.Equal(t, 0, last.failed)
	assert.False(t, last.tripped)
}

func TestBreakerTripsOnThirdCommandFailure(t *testing.T) {
	store := newFakeRiskStore()
	b, _, _, _ := newTestBreaker(store)

	ctx := context.Background()
	require.NoError(t, b.RecordCommandFailure(ctx, 1, db.CommandOpenTrade))
	require.NoError(t, b.RecordCommandFailure(ctx, 1, db.CommandOpenTrade))
	tripped, _ := b.Tripped(1)
	assert.False(t, tripped)

	require.NoError(t, b.RecordCommandFailure(ctx, 1, db.CommandOpenTrade))
	tripped, reason := b.Tripped(1)
	assert.True(t, tripped)
	assert.Contains(t, reason, "command failures")
}

func TestBreakerIgnoresNonOpenCommandFailures(t *testing.T) {
	store := newFakeRiskStore()
	b, _, _, _ := newTestBreaker(store)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordCommandFailure(ctx, 1, db.CommandCloseTrade))
	}

	tripped, _ := b.Tripped(1)
	assert.False(t, tripped)
	assert.Empty(t, store.riskUpdates)
}

func TestBreakerOpenSuccessResetsFailureRun(t *testing.T) {
	store := newFakeRiskStore()
	b, _, _, _ := newTestBreaker(store)

	ctx := context.Background()
	require.NoError(t, b.RecordCommandFailure(ctx, 1, db.CommandOpenTrade))
	require.NoError(t, b.RecordCommandFailure(ctx, 1, db.CommandOpenTrade))
	require.NoError(t, b.RecordCommandSuccess(ctx, 1, db.CommandOpenTrade))

	last := store.riskUpdates[len(store.riskUpdates)-1]
	assert.Equal(t, 0, last.failed)

	// The run starts over: two more failures still sit below the ceiling.
	require.NoError(t, b.RecordCommandFailure(ctx, 1, db.CommandOpenTrade))
	require.NoError(t, b.RecordCommandFailure(ctx, 1, db.CommandOpenTrade))
	tripped, _ := b.Tripped(1)
	assert.False(t, tripped)

	require.NoError(t, b.RecordCommandFailure(ctx, 1, db.CommandOpenTrade))
	tripped, _ = b.Tripped(1)
	assert.True(t, tripped)
}

func TestBreakerSuccessOfOtherTypesLeavesRunAlone(t *testing.T) {
	store := newFakeRiskStore()
	b, _, _, _ := newTestBreaker(store)

	ctx := context.Background()
	require.NoError(t, b.RecordCommandFailure(ctx, 1, db.CommandOpenTrade))
	require.NoError(t, b.RecordCommandFailure(ctx, 1, db.CommandOpenTrade))
	require.NoError(t, b.RecordCommandSuccess(ctx, 1, db.CommandCloseTrade))

	require.NoError(t, b.RecordCommandFailure(ctx, 1, db.CommandOpenTrade))
	tripped, _ := b.Tripped(1)
	assert.True(t, tripped)
}

func TestBreakerEvaluateDailyLoss(t *testing.T) {
	store := newFakeRiskStore()
	b, _, _, _ := newTestBreaker(store)

	acct := &db.Account{ID: 1, Balance: 10000, InitialBalance: 10000, Equity: 9400}
	// -6% of balance, limit 5%.
	require.NoError(t, b.Evaluate(context.Background(), acct, store.settings, -600))

	tripped, reason := b.Tripped(1)
	assert.True(t, tripped)
	assert.Contains(t, reason, "Daily loss")
}

func TestBreakerEvaluateTotalDrawdown(t *testing.T) {
	store := newFakeRiskStore()
	b, _, _, _ := newTestBreaker(store)

	// Realized balance down 25% against a 20% limit; equity back above
	// water must not save the account.
	acct := &db.Account{ID: 1, Balance: 7500, InitialBalance: 10000, Equity: 9800}
	require.NoError(t, b.Evaluate(context.Background(), acct, store.settings, -100))

	tripped, reason := b.Tripped(1)
	assert.True(t, tripped)
	assert.Contains(t, reason, "drawdown")
}

func TestBreakerEvaluateFloatingLossDoesNotTrip(t *testing.T) {
	store := newFakeRiskStore()
	b, _, _, _ := newTestBreaker(store)

	// Balance nearly intact, equity deep under water from open positions.
	// The drawdown worker owns that case; the breaker stays quiet.
	acct := &db.Account{ID: 1, Balance: 9900, InitialBalance: 10000, Equity: 7000}
	require.NoError(t, b.Evaluate(context.Background(), acct, store.settings, -100))

	tripped, _ := b.Tripped(1)
	assert.False(t, tripped)
}

func TestBreakerLoadRestoresState(t *testing.T) {
	store := newFakeRiskStore()
	store.accounts = []*db.Account{
		{ID: 1, BreakerTripped: true, BreakerReason: "persisted", FailedCommandCount: 2},
		{ID: 2},
	}
	b, _, _, _ := newTestBreaker(store)

	require.NoError(t, b.Load(context.Background()))

	tripped, reason := b.Tripped(1)
	assert.True(t, tripped)
	assert.Equal(t, "persisted", reason)
	tripped, _ = b.Tripped(2)
	assert.False(t, tripped)
}

func TestPauseRegistrySymbolAndCurrency(t *testing.T) {
	r := NewPauseRegistry()

	r.PauseSymbol("XAUUSD", time.Now().Add(time.Hour), "SL hits")
	paused, reason := r.Paused("xauusd")
	assert.True(t, paused)
	assert.Equal(t, "SL hits", reason)

	r.PauseCurrency("USD", time.Now().Add(time.Minute), "NFP")
	paused, reason = r.Paused("EURUSD")
	assert.True(t, paused)
	assert.Equal(t, "NFP", reason)

	paused, _ = r.Paused("EURGBP")
	assert.False(t, paused)
}

func TestPauseRegistryExpires(t *testing.T) {
	r := NewPauseRegistry()
	current := time.Now()
	r.now = func() time.Time { return current }

	r.PauseSymbol("EURUSD", current.Add(time.Minute), "short pause")
	paused, _ := r.Paused("EURUSD")
	assert.True(t, paused)

	current = current.Add(2 * time.Minute)
	paused, _ = r.Paused("EURUSD")
	assert.False(t, paused)
}

func TestPauseRegistryKeepsLaterDeadline(t *testing.T) {
	r := NewPauseRegistry()
	later := time.Now().Add(time.Hour)

	r.PauseSymbol("EURUSD", later, "long")
	r.PauseSymbol("EURUSD", time.Now().Add(time.Minute), "short")

	paused, reason := r.Paused("EURUSD")
	assert.True(t, paused)
	assert.Equal(t, "long", reason)
}
