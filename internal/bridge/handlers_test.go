package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradebridge/internal/config"
	"github.com/ajitpratap0/tradebridge/internal/db"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doJSON(t *testing.T, handler gin.HandlerFunc, method string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	data, err := json.Marshal(body)
	require.NoError(t, err)
	c.Request = httptest.NewRequest(method, "/", bytes.NewReader(data))
	c.Request.Header.Set("Content-Type", "application/json")

	handler(c)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

// --- control port ---

type fakeControlStore struct {
	nextID       int64
	accounts     map[int64]*db.Account
	specs        []*db.BrokerSymbol
	profitResets []int64
}

func newFakeControlStore() *fakeControlStore {
	return &fakeControlStore{accounts: make(map[int64]*db.Account)}
}

func (f *fakeControlStore) GetAccount(_ context.Context, id int64) (*db.Account, error) {
	return f.accounts[id], nil
}

func (f *fakeControlStore) GetAccountByNumber(_ context.Context, broker string, number int64) (*db.Account, error) {
	for _, a := range f.accounts {
		if a.BrokerName == broker && a.BrokerAccountNumber == number {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeControlStore) CreateAccount(_ context.Context, broker string, number int64, currency string, balance float64) (*db.Account, error) {
	f.nextID++
	a := &db.Account{
		ID:                  f.nextID,
		BrokerAccountNumber: number,
		BrokerName:          broker,
		Currency:            currency,
		Balance:             balance,
		Equity:              balance,
		InitialBalance:      balance,
		AutotradingEnabled:  true,
		ProfitDate:          time.Now().UTC(),
	}
	f.accounts[a.ID] = a
	return a, nil
}

func (f *fakeControlStore) UpdateAccountState(_ context.Context, id int64, balance, equity, margin, freeMargin float64) error {
	if a, ok := f.accounts[id]; ok {
		a.Balance, a.Equity, a.Margin, a.FreeMargin = balance, equity, margin, freeMargin
	}
	return nil
}

func (f *fakeControlStore) SetProfitToday(_ context.Context, id int64, profit float64) error {
	f.profitResets = append(f.profitResets, id)
	if a, ok := f.accounts[id]; ok {
		a.ProfitToday = profit
		a.ProfitDate = time.Now().UTC()
	}
	return nil
}

func (f *fakeControlStore) UpsertBrokerSymbol(_ context.Context, b *db.BrokerSymbol) error {
	f.specs = append(f.specs, b)
	return nil
}

type controlFixture struct {
	h     *ControlHandlers
	store *fakeControlStore
	disp  *dispatcherFixture
	reg   *Registry
}

func newControlFixture(minEAVersion string) *controlFixture {
	store := newFakeControlStore()
	disp := newDispatcherFixture()
	reg := NewRegistry(90*time.Second, time.Hour, nil, zerolog.Nop())
	cfg := config.BridgeConfig{
		HeartbeatIntervalSeconds: 30,
		MaxCommandsPerPoll:       10,
		MinEAVersion:             minEAVersion,
	}
	return &controlFixture{
		h:     NewControlHandlers(store, reg, disp.d, cfg, zerolog.Nop()),
		store: store,
		disp:  disp,
		reg:   reg,
	}
}

func TestConnectCreatesAccountAndStoresSpecs(t *testing.T) {
	f := newControlFixture("")

	w, body := doJSON(t, f.h.Connect, http.MethodPost, gin.H{
		"broker_name":    "TestBroker",
		"account_number": 555001,
		"ea_version":     "1.2.0",
		"currency":       "USD",
		"balance":        10000.0,
		"symbol_specs": []gin.H{
			{"symbol": "EURUSD", "digits": 5, "point_value": 1.0, "volume_min": 0.01, "volume_max": 5.0, "volume_step": 0.01},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(30), body["heartbeat_interval_seconds"])

	accountID := int64(body["account_id"].(float64))
	account := f.store.accounts[accountID]
	require.NotNil(t, account)
	assert.Equal(t, 10000.0, account.InitialBalance)
	require.Len(t, f.store.specs, 1)
	assert.Equal(t, "EURUSD", f.store.specs[0].Symbol)
	assert.True(t, f.reg.Healthy(accountID) || f.reg.Snapshot()[0].State == StateConnecting)
}

func TestConnectReusesExistingAccount(t *testing.T) {
	f := newControlFixture("")
	existing, err := f.store.CreateAccount(context.Background(), "TestBroker", 555001, "USD", 8000)
	require.NoError(t, err)

	w, body := doJSON(t, f.h.Connect, http.MethodPost, gin.H{
		"broker_name":    "TestBroker",
		"account_number": 555001,
		"ea_version":     "1.2.0",
		"balance":        9500.0,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(existing.ID), body["account_id"])
	// Initial balance was captured on first connect, not overwritten.
	assert.Equal(t, 8000.0, f.store.accounts[existing.ID].InitialBalance)
}

func TestConnectRejectsOldEAVersion(t *testing.T) {
	f := newControlFixture("2.0.0")

	w, body := doJSON(t, f.h.Connect, http.MethodPost, gin.H{
		"broker_name":    "TestBroker",
		"account_number": 555001,
		"ea_version":     "1.9.3",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "below the required minimum")
	assert.Empty(t, f.store.accounts)
}

func TestHeartbeatUpdatesStateAndDeliversCommands(t *testing.T) {
	f := newControlFixture("")
	account, err := f.store.CreateAccount(context.Background(), "TestBroker", 555001, "USD", 10000)
	require.NoError(t, err)
	f.reg.Register(account.ID, "TestBroker", "1.2.0")

	cmd := openTradeCommand()
	cmd.AccountID = account.ID
	_, err = f.disp.d.Send(context.Background(), cmd)
	require.NoError(t, err)

	w, body := doJSON(t, f.h.Heartbeat, http.MethodPost, gin.H{
		"account_id": account.ID,
		"balance":    10100.0,
		"equity":     10080.0,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["autotrading_enabled"])

	commands := body["commands"].([]interface{})
	require.Len(t, commands, 1)
	first := commands[0].(map[string]interface{})
	assert.Equal(t, "OPEN_TRADE", first["type"])

	assert.Equal(t, 10100.0, f.store.accounts[account.ID].Balance)
	assert.True(t, f.reg.Healthy(account.ID))
}

func TestHeartbeatRollsProfitOverAtMidnight(t *testing.T) {
	f := newControlFixture("")
	account, err := f.store.CreateAccount(context.Background(), "TestBroker", 555001, "USD", 10000)
	require.NoError(t, err)
	account.ProfitDate = time.Now().UTC().AddDate(0, 0, -1)
	account.ProfitToday = -120

	_, _ = doJSON(t, f.h.Heartbeat, http.MethodPost, gin.H{
		"account_id": account.ID,
		"balance":    10000.0,
	})
	require.Len(t, f.store.profitResets, 1)
	assert.Zero(t, account.ProfitToday)
}

func TestHeartbeatUnknownAccount(t *testing.T) {
	f := newControlFixture("")
	w, body := doJSON(t, f.h.Heartbeat, http.MethodPost, gin.H{"account_id": 99, "balance": 1.0})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, body["error"], "reconnect required")
}

func TestCommandResponseSettles(t *testing.T) {
	f := newControlFixture("")
	account, err := f.store.CreateAccount(context.Background(), "TestBroker", 555001, "USD", 10000)
	require.NoError(t, err)

	cmd := openTradeCommand()
	cmd.AccountID = account.ID
	stored, err := f.disp.d.Send(context.Background(), cmd)
	require.NoError(t, err)
	_, err = f.disp.d.Drain(context.Background(), account.ID, 10)
	require.NoError(t, err)

	w, body := doJSON(t, f.h.CommandResponse, http.MethodPost, gin.H{
		"command_id": stored.CommandID.String(),
		"success":    true,
		"response":   gin.H{"ticket": 4242, "open_price": 1.1, "volume": 0.2},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "COMPLETED", body["command_status"])
	assert.Len(t, f.disp.store.trades, 1)
}

// --- auth middleware ---

func TestAPIKeyAuth(t *testing.T) {
	router := gin.New()
	router.Use(APIKeyAuth([]string{"secret-key"}))
	router.POST("/api/heartbeat", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Missing key.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/heartbeat", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong key.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/heartbeat", nil)
	req.Header.Set(apiKeyHeader, "wrong")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid key.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/heartbeat", nil)
	req.Header.Set(apiKeyHeader, "secret-key")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

// --- trade port ---

type fakeBridgeTradeStore struct {
	nextID    int64
	byTicket  map[int64]*db.Trade
	events    []*db.TradeHistoryEvent
	closed    []*db.Trade
	openCmd   *db.Command
	closeCmd  *db.Command
	slUpdates []int64
}

func newFakeBridgeTradeStore() *fakeBridgeTradeStore {
	return &fakeBridgeTradeStore{byTicket: make(map[int64]*db.Trade)}
}

func (f *fakeBridgeTradeStore) GetTradeByTicket(_ context.Context, _ int64, ticket int64) (*db.Trade, error) {
	return f.byTicket[ticket], nil
}

func (f *fakeBridgeTradeStore) InsertTrade(_ context.Context, t *db.Trade) (*db.Trade, error) {
	f.nextID++
	stored := *t
	stored.ID = f.nextID
	f.byTicket[stored.Ticket] = &stored
	return &stored, nil
}

func (f *fakeBridgeTradeStore) UpdateTradeSLTP(_ context.Context, id int64, sl, tp float64) error {
	f.slUpdates = append(f.slUpdates, id)
	for _, t := range f.byTicket {
		if t.ID == id {
			t.SL, t.TP = sl, tp
		}
	}
	return nil
}

func (f *fakeBridgeTradeStore) CloseTrade(_ context.Context, t *db.Trade) error {
	f.closed = append(f.closed, t)
	t.Status = db.TradeClosed
	return nil
}

func (f *fakeBridgeTradeStore) CloseMissingTrades(_ context.Context, accountID int64, eaTickets []int64, now time.Time) ([]*db.Trade, error) {
	reported := make(map[int64]struct{}, len(eaTickets))
	for _, ticket := range eaTickets {
		reported[ticket] = struct{}{}
	}
	reason := db.CloseReconciliation
	var missing []*db.Trade
	for _, t := range f.byTicket {
		if t.AccountID != accountID || t.Status != db.TradeOpen {
			continue
		}
		if _, ok := reported[t.Ticket]; !ok {
			t.Status = db.TradeClosed
			t.CloseReason = &reason
			t.CloseTime = &now
			missing = append(missing, t)
		}
	}
	return missing, nil
}

func (f *fakeBridgeTradeStore) OverrideCloseReason(_ context.Context, id int64, reason db.CloseReason) error {
	for _, t := range f.byTicket {
		if t.ID == id {
			t.CloseReason = &reason
		}
	}
	return nil
}

func (f *fakeBridgeTradeStore) InsertTradeHistoryEvent(_ context.Context, e *db.TradeHistoryEvent) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeBridgeTradeStore) FindOpenCommandByTicket(_ context.Context, _ int64, ticket int64) (*db.Command, error) {
	if f.openCmd != nil && asInt64(f.openCmd.Response["ticket"]) == ticket {
		return f.openCmd, nil
	}
	return nil, nil
}

func (f *fakeBridgeTradeStore) FindWorkerCloseCommand(_ context.Context, _ int64, _ int64) (*db.Command, error) {
	return f.closeCmd, nil
}

func (f *fakeBridgeTradeStore) GetBrokerSymbol(_ context.Context, _ int64, _ string) (*db.BrokerSymbol, error) {
	return &db.BrokerSymbol{Digits: 5, PointValue: 1.0}, nil
}

type fakeTickReader struct {
	tick *db.Tick
}

func (f *fakeTickReader) LatestTick(_ context.Context, _ string) (*db.Tick, error) {
	return f.tick, nil
}

type fakeCloseHook struct {
	trades []*db.Trade
}

func (f *fakeCloseHook) OnTradeClosed(_ context.Context, trade *db.Trade) error {
	f.trades = append(f.trades, trade)
	return nil
}

type tradeFixture struct {
	h         *TradeHandlers
	store     *fakeBridgeTradeStore
	hook      *fakeCloseHook
	pub       *fakeAnnouncer
	positions *fakePositionCache
}

func newTradeFixture() *tradeFixture {
	store := newFakeBridgeTradeStore()
	hook := &fakeCloseHook{}
	pub := &fakeAnnouncer{}
	positions := &fakePositionCache{}
	ticks := &fakeTickReader{tick: &db.Tick{Symbol: "EURUSD", Bid: 1.1049, Ask: 1.1050, Spread: 0.0001, Time: time.Now()}}
	return &tradeFixture{
		h:         NewTradeHandlers(store, ticks, hook, positions, pub, zerolog.Nop()),
		store:     store,
		hook:      hook,
		pub:       pub,
		positions: positions,
	}
}

func openDBTrade(ticket int64, symbol string) *db.Trade {
	return &db.Trade{
		Ticket:    ticket,
		AccountID: 7,
		Symbol:    symbol,
		Direction: db.SignalBuy,
		Volume:    0.2,
		OpenPrice: 1.1000,
		OpenTime:  time.Now().Add(-2 * time.Hour),
		SL:        1.0950,
		TP:        1.1100,
		InitialSL: 1.0950,
		InitialTP: 1.1100,
		Status:    db.TradeOpen,
		Source:    db.SourceAutotrade,
	}
}

func TestSyncClosesMissingTrades(t *testing.T) {
	f := newTradeFixture()
	ctx := context.Background()
	for _, ticket := range []int64{101, 102, 103} {
		_, err := f.store.InsertTrade(ctx, openDBTrade(ticket, "EURUSD"))
		require.NoError(t, err)
	}

	// The EA reports only 101 and 102; 103 must close as SYNC_RECONCILIATION.
	w, body := doJSON(t, f.h.Sync, http.MethodPost, gin.H{
		"account_id": 7,
		"positions": []gin.H{
			{"ticket": 101, "symbol": "EURUSD", "direction": "BUY", "sl": 1.0950, "tp": 1.1100},
			{"ticket": 102, "symbol": "EURUSD", "direction": "BUY", "sl": 1.0950, "tp": 1.1100},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["closed"])

	gone := f.store.byTicket[103]
	assert.Equal(t, db.TradeClosed, gone.Status)
	require.NotNil(t, gone.CloseReason)
	assert.Equal(t, db.CloseReconciliation, *gone.CloseReason)
	// Survivors untouched; the monitor's cached open set is dropped.
	assert.Equal(t, db.TradeOpen, f.store.byTicket[101].Status)
	assert.Contains(t, f.positions.symbols, "EURUSD")
}

func TestSyncAdoptsManualPosition(t *testing.T) {
	f := newTradeFixture()

	w, body := doJSON(t, f.h.Sync, http.MethodPost, gin.H{
		"account_id": 7,
		"positions": []gin.H{
			{"ticket": 900, "symbol": "GBPUSD", "direction": "SELL", "volume": 0.1, "open_price": 1.2700},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["adopted"])

	adopted := f.store.byTicket[900]
	require.NotNil(t, adopted)
	assert.Equal(t, db.SourceMT5, adopted.Source)
	assert.Equal(t, "Manual (MT5)", adopted.EntryReason)
}

func TestSyncLinksAdoptedPositionToCommand(t *testing.T) {
	f := newTradeFixture()
	sigID := uuid.New()
	f.store.openCmd = &db.Command{
		CommandID:      uuid.New(),
		LinkedSignalID: &sigID,
		Payload:        map[string]interface{}{"comment": "auto BUY H1 conf=72"},
		Response:       map[string]interface{}{"ticket": float64(901)},
	}

	_, body := doJSON(t, f.h.Sync, http.MethodPost, gin.H{
		"account_id": 7,
		"positions": []gin.H{
			{"ticket": 901, "symbol": "EURUSD", "direction": "BUY", "volume": 0.2, "open_price": 1.1000},
		},
	})
	assert.Equal(t, float64(1), body["adopted"])

	adopted := f.store.byTicket[901]
	assert.Equal(t, db.SourceAutotrade, adopted.Source)
	require.NotNil(t, adopted.SignalID)
	assert.Equal(t, sigID, *adopted.SignalID)
}

func TestSyncRecordsTerminalLevelChanges(t *testing.T) {
	f := newTradeFixture()
	_, err := f.store.InsertTrade(context.Background(), openDBTrade(101, "EURUSD"))
	require.NoError(t, err)

	_, body := doJSON(t, f.h.Sync, http.MethodPost, gin.H{
		"account_id": 7,
		"positions": []gin.H{
			{"ticket": 101, "symbol": "EURUSD", "direction": "BUY", "sl": 1.0980, "tp": 1.1100},
		},
	})
	assert.Equal(t, float64(1), body["updated"])
	require.Len(t, f.store.events, 1)
	assert.Equal(t, db.EventSLModified, f.store.events[0].EventType)
	assert.Equal(t, 1.0950, f.store.events[0].OldValue)
	assert.Equal(t, 1.0980, f.store.events[0].NewValue)
	assert.Equal(t, 1.0980, f.store.byTicket[101].SL)
}

func TestUpdateCloseDerivesExitMetrics(t *testing.T) {
	f := newTradeFixture()
	_, err := f.store.InsertTrade(context.Background(), openDBTrade(101, "EURUSD"))
	require.NoError(t, err)

	w, _ := doJSON(t, f.h.Update, http.MethodPost, gin.H{
		"account_id":   7,
		"ticket":       101,
		"closed":       true,
		"close_price":  1.1050,
		"close_reason": "TP_HIT",
		"profit":       100.0,
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, f.store.closed, 1)
	trade := f.store.closed[0]
	require.NotNil(t, trade.PipsCaptured)
	assert.InDelta(t, 50.0, *trade.PipsCaptured, 0.01) // 50 pips on a 5-digit pair
	require.NotNil(t, trade.RiskRewardRealized)
	assert.InDelta(t, 1.0, *trade.RiskRewardRealized, 0.01) // 50 gained vs 50 risked
	require.NotNil(t, trade.HoldMinutes)
	assert.InDelta(t, 120, *trade.HoldMinutes, 2)
	require.NotNil(t, trade.ExitBid)
	assert.Equal(t, 1.1049, *trade.ExitBid)

	// Close hook fired, bus event published, open-set cache dropped.
	assert.Len(t, f.hook.trades, 1)
	require.NotEmpty(t, f.pub.events)
	assert.Contains(t, f.positions.symbols, "EURUSD")
}

func TestUpdateCloseOverridesManualReason(t *testing.T) {
	f := newTradeFixture()
	_, err := f.store.InsertTrade(context.Background(), openDBTrade(101, "EURUSD"))
	require.NoError(t, err)
	f.store.closeCmd = &db.Command{
		Type:    db.CommandCloseTrade,
		Payload: map[string]interface{}{"ticket": float64(101), "reason": "TIME_EXIT"},
	}

	_, _ = doJSON(t, f.h.Update, http.MethodPost, gin.H{
		"account_id":   7,
		"ticket":       101,
		"closed":       true,
		"close_price":  1.1010,
		"close_reason": "MANUAL",
		"profit":       20.0,
	})

	require.Len(t, f.store.closed, 1)
	require.NotNil(t, f.store.closed[0].CloseReason)
	assert.Equal(t, db.CloseTimeExit, *f.store.closed[0].CloseReason)
}

func TestUpdateCloseUnknownTicket(t *testing.T) {
	f := newTradeFixture()
	w, _ := doJSON(t, f.h.Update, http.MethodPost, gin.H{
		"account_id": 7, "ticket": 999, "closed": true, "close_price": 1.0,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateCloseIdempotent(t *testing.T) {
	f := newTradeFixture()
	trade := openDBTrade(101, "EURUSD")
	trade.Status = db.TradeClosed
	_, err := f.store.InsertTrade(context.Background(), trade)
	require.NoError(t, err)

	w, body := doJSON(t, f.h.Update, http.MethodPost, gin.H{
		"account_id": 7, "ticket": 101, "closed": true, "close_price": 1.0,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["already_closed"])
	assert.Empty(t, f.store.closed)
}

// --- log port ---

func TestLogRateLimitDropsExcess(t *testing.T) {
	h := NewLogHandlers(1, zerolog.Nop()) // 1 line/s, burst 2

	var dropped int
	for i := 0; i < 5; i++ {
		_, body := doJSON(t, h.Log, http.MethodPost, gin.H{
			"account_id": 7, "level": "info", "message": "tick",
		})
		if body["dropped"] == true {
			dropped++
		}
	}
	assert.Equal(t, 3, dropped) // burst of 2 admitted, rest dropped
}
