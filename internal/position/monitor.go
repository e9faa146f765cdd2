package position

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

// TradeStore is the persistence surface the monitor drives
type TradeStore interface {
	OpenTradesBySymbol(ctx context.Context, symbol string) ([]*db.Trade, error)
	AdvanceTradeSL(ctx context.Context, id int64, newSL float64) (bool, error)
	ExtendTradeTP(ctx context.Context, id int64, newTP float64) (bool, error)
	UpdateExcursions(ctx context.Context, id int64, favorable, adverse float64) error
	InsertTradeHistoryEvent(ctx context.Context, e *db.TradeHistoryEvent) error
	GetBrokerSymbol(ctx context.Context, accountID int64, symbol string) (*db.BrokerSymbol, error)
	GetGlobalSettings(ctx context.Context) (*db.GlobalSettings, error)
}

// CommandSender persists and enqueues one EA command. The bridge dispatcher
// implements it.
type CommandSender interface {
	Send(ctx context.Context, cmd *db.Command) (*db.Command, error)
}

// SLRateLimiter bounds SL modification frequency per trade
type SLRateLimiter interface {
	TrySLMove(ctx context.Context, tradeID int64, cooldown time.Duration) (bool, error)
	ClearSLMove(ctx context.Context, tradeID int64) error
}

const (
	openTradesRefresh = 5 * time.Second
	settingsRefresh   = 30 * time.Second
	slMoveCooldown    = 10 * time.Second

	historySourceTrailing  = "trailing_stop_manager"
	historySourceExtension = "tp_extension"
)

type symbolTrades struct {
	trades    []*db.Trade
	refreshed time.Time
}

// Monitor drives trailing stops, TP extension and excursion watermarks from
// the live tick stream. The database compare-and-set on each mutation makes
// concurrent updates (EA sync, other replicas) safe; the monitor's in-memory
// view is a throttling cache, not a source of truth.
type Monitor struct {
	store   TradeStore
	sender  CommandSender
	limiter SLRateLimiter
	log     zerolog.Logger

	mu        sync.Mutex
	bySymbol  map[string]*symbolTrades
	settings  *db.GlobalSettings
	settingAt time.Time
	// highest profit percent observed per trade, to cut excursion writes
	excursion map[int64]float64
}

// NewMonitor creates the open-trade monitor. Subscribe OnTick to the tick hub.
func NewMonitor(store TradeStore, sender CommandSender, limiter SLRateLimiter, logger zerolog.Logger) *Monitor {
	return &Monitor{
		store:     store,
		sender:    sender,
		limiter:   limiter,
		log:       logger,
		bySymbol:  make(map[string]*symbolTrades),
		excursion: make(map[int64]float64),
	}
}

// OnTick evaluates every open trade on the tick's symbol
func (m *Monitor) OnTick(ctx context.Context, tick *db.Tick) {
	trades, err := m.openTrades(ctx, tick.Symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", tick.Symbol).Msg("Failed to load open trades")
		return
	}
	if len(trades) == 0 {
		return
	}

	settings := m.globalSettings(ctx)

	for _, trade := range trades {
		// A long closes at bid, a short at ask.
		price := tick.Bid
		if !trade.IsBuy() {
			price = tick.Ask
		}

		m.trackExcursions(ctx, trade, price)
		m.maybeTrail(ctx, trade, price, tick.Spread)
		if settings != nil && settings.DynamicTPEnabled {
			m.maybeExtendTP(ctx, trade, price, settings)
		}
	}
}

// Invalidate drops the cached open-trade set for a symbol, called by the
// bridge when a trade opens or closes so the monitor picks the change up
// without waiting out the refresh interval.
func (m *Monitor) Invalidate(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bySymbol, symbol)
}

func (m *Monitor) openTrades(ctx context.Context, symbol string) ([]*db.Trade, error) {
	m.mu.Lock()
	cached, ok := m.bySymbol[symbol]
	if ok && time.Since(cached.refreshed) < openTradesRefresh {
		trades := cached.trades
		m.mu.Unlock()
		return trades, nil
	}
	m.mu.Unlock()

	trades, err := m.store.OpenTradesBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.bySymbol[symbol] = &symbolTrades{trades: trades, refreshed: time.Now()}
	m.mu.Unlock()
	return trades, nil
}

func (m *Monitor) globalSettings(ctx context.Context) *db.GlobalSettings {
	m.mu.Lock()
	if m.settings != nil && time.Since(m.settingAt) < settingsRefresh {
		s := m.settings
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()

	settings, err := m.store.GetGlobalSettings(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to load global settings")
		return nil
	}

	m.mu.Lock()
	m.settings = settings
	m.settingAt = time.Now()
	m.mu.Unlock()
	return settings
}

// trackExcursions widens the MFE/MAE watermarks, writing only when the
// favorable watermark improves by a full point to keep tick-path writes rare.
func (m *Monitor) trackExcursions(ctx context.Context, trade *db.Trade, price float64) {
	profitPct := ProfitPercentToTP(trade, price)

	m.mu.Lock()
	last, seen := m.excursion[trade.ID]
	improved := !seen || profitPct > last+1 || profitPct < -1 && profitPct < last-1
	if improved {
		m.excursion[trade.ID] = profitPct
	}
	m.mu.Unlock()
	if !improved {
		return
	}

	favorable := profitPct
	adverse := -profitPct
	if favorable < 0 {
		favorable = 0
	}
	if adverse < 0 {
		adverse = 0
	}
	if err := m.store.UpdateExcursions(ctx, trade.ID, favorable, adverse); err != nil {
		m.log.Warn().Err(err).Int64("trade_id", trade.ID).Msg("Failed to update excursions")
	}
}

func (m *Monitor) maybeTrail(ctx context.Context, trade *db.Trade, price, spread float64) {
	candidate, stage, ok := TrailingSL(trade, price, spread)
	if !ok {
		return
	}

	broker, err := m.store.GetBrokerSymbol(ctx, trade.AccountID, trade.Symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", trade.Symbol).Msg("Failed to load broker symbol")
		return
	}
	candidate = ClampToStopsLevel(candidate, price, trade.IsBuy(), broker)
	if broker != nil && broker.Digits > 0 {
		candidate = roundToDigits(candidate, broker.Digits)
	}
	if !ImprovesSL(trade, candidate) {
		return
	}

	allowed, err := m.limiter.TrySLMove(ctx, trade.ID, slMoveCooldown)
	if err != nil {
		m.log.Warn().Err(err).Int64("trade_id", trade.ID).Msg("SL rate limit check failed")
		return
	}
	if !allowed {
		return
	}

	oldSL := trade.SL
	moved, err := m.store.AdvanceTradeSL(ctx, trade.ID, candidate)
	if err != nil {
		m.log.Error().Err(err).Int64("trade_id", trade.ID).Msg("Failed to advance SL")
		return
	}
	if !moved {
		// Lost the race or the stored SL is already better; release the
		// window so the next genuine move is not blocked.
		if clearErr := m.limiter.ClearSLMove(ctx, trade.ID); clearErr != nil {
			m.log.Warn().Err(clearErr).Int64("trade_id", trade.ID).Msg("Failed to release SL window")
		}
		return
	}
	trade.SL = candidate
	trade.TrailingActive = true

	event := &db.TradeHistoryEvent{
		TradeID:        trade.ID,
		EventType:      db.EventSLModified,
		OldValue:       oldSL,
		NewValue:       candidate,
		Reason:         stage,
		Source:         historySourceTrailing,
		PriceAtChange:  price,
		SpreadAtChange: spread,
	}
	if err := m.store.InsertTradeHistoryEvent(ctx, event); err != nil {
		m.log.Warn().Err(err).Int64("trade_id", trade.ID).Msg("Failed to record SL history event")
	}

	metrics.RecordTrailingMove()
	m.log.Info().
		Int64("trade_id", trade.ID).
		Int64("ticket", trade.Ticket).
		Str("stage", stage).
		Float64("old_sl", oldSL).
		Float64("new_sl", candidate).
		Msg("Trailing stop advanced")

	m.sendModify(ctx, trade, candidate, trade.TP)
}

func (m *Monitor) maybeExtendTP(ctx context.Context, trade *db.Trade, price float64, settings *db.GlobalSettings) {
	newTP, ok := ExtendedTP(trade, price, settings.TPExtensionTriggerPercent, settings.TPExtensionMultiplier)
	if !ok {
		return
	}

	extended, err := m.store.ExtendTradeTP(ctx, trade.ID, newTP)
	if err != nil {
		m.log.Error().Err(err).Int64("trade_id", trade.ID).Msg("Failed to extend TP")
		return
	}
	if !extended {
		return
	}
	oldTP := trade.TP
	trade.TP = newTP
	trade.TPExtendedCount++

	event := &db.TradeHistoryEvent{
		TradeID:       trade.ID,
		EventType:     db.EventTPModified,
		OldValue:      oldTP,
		NewValue:      newTP,
		Reason:        "dynamic_extension",
		Source:        historySourceExtension,
		PriceAtChange: price,
	}
	if err := m.store.InsertTradeHistoryEvent(ctx, event); err != nil {
		m.log.Warn().Err(err).Int64("trade_id", trade.ID).Msg("Failed to record TP history event")
	}

	metrics.RecordTPExtension()
	m.log.Info().
		Int64("trade_id", trade.ID).
		Int64("ticket", trade.Ticket).
		Float64("old_tp", oldTP).
		Float64("new_tp", newTP).
		Int("extensions", trade.TPExtendedCount).
		Msg("TP extended")

	m.sendModify(ctx, trade, trade.SL, newTP)
}

// sendModify emits the MODIFY_TRADE command carrying the full (sl, tp) pair.
// The EA's next trades/update remains authoritative; if the broker rejects
// the modify, reported values overwrite the optimistic row.
func (m *Monitor) sendModify(ctx context.Context, trade *db.Trade, sl, tp float64) {
	cmd := &db.Command{
		AccountID: trade.AccountID,
		Type:      db.CommandModifyTrade,
		Priority:  db.PriorityHigh,
		Payload: map[string]interface{}{
			"ticket": trade.Ticket,
			"symbol": trade.Symbol,
			"sl":     sl,
			"tp":     tp,
		},
	}
	if _, err := m.sender.Send(ctx, cmd); err != nil {
		m.log.Error().Err(err).Int64("ticket", trade.Ticket).Msg("Failed to send MODIFY_TRADE")
	}
}
