package bridge

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/bus"
	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/errs"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
	"github.com/ajitpratap0/tradebridge/internal/position"
)

// TradeStore is the trade persistence behind the trade port
type TradeStore interface {
	GetTradeByTicket(ctx context.Context, accountID, ticket int64) (*db.Trade, error)
	InsertTrade(ctx context.Context, t *db.Trade) (*db.Trade, error)
	UpdateTradeSLTP(ctx context.Context, id int64, sl, tp float64) error
	CloseTrade(ctx context.Context, t *db.Trade) error
	CloseMissingTrades(ctx context.Context, accountID int64, eaTickets []int64, now time.Time) ([]*db.Trade, error)
	OverrideCloseReason(ctx context.Context, id int64, reason db.CloseReason) error
	InsertTradeHistoryEvent(ctx context.Context, e *db.TradeHistoryEvent) error
	FindOpenCommandByTicket(ctx context.Context, accountID, ticket int64) (*db.Command, error)
	FindWorkerCloseCommand(ctx context.Context, accountID, ticket int64) (*db.Command, error)
	GetBrokerSymbol(ctx context.Context, accountID int64, symbol string) (*db.BrokerSymbol, error)
}

// LatestTickSource reads the cached latest quote for exit snapshots
type LatestTickSource interface {
	LatestTick(ctx context.Context, symbol string) (*db.Tick, error)
}

// CloseHook observes every confirmed close; the SL-hit guard hangs off it
type CloseHook interface {
	OnTradeClosed(ctx context.Context, trade *db.Trade) error
}

// TradeHandlers owns the trade port: full-state reconciliation and single
// position updates.
type TradeHandlers struct {
	store     TradeStore
	ticks     LatestTickSource
	hook      CloseHook
	positions PositionCache
	pub       Publisher
	log       zerolog.Logger
	now       func() time.Time
}

func NewTradeHandlers(store TradeStore, ticks LatestTickSource, hook CloseHook, positions PositionCache, pub Publisher, logger zerolog.Logger) *TradeHandlers {
	return &TradeHandlers{
		store:     store,
		ticks:     ticks,
		hook:      hook,
		positions: positions,
		pub:       pub,
		log:       logger,
		now:       time.Now,
	}
}

func (h *TradeHandlers) RegisterRoutes(r gin.IRoutes) {
	r.POST("/api/trades/sync", h.Sync)
	r.POST("/api/trades/update", h.Update)
}

type eaPosition struct {
	Ticket     int64   `json:"ticket" binding:"required"`
	Symbol     string  `json:"symbol" binding:"required"`
	Direction  string  `json:"direction" binding:"required"`
	Volume     float64 `json:"volume"`
	OpenPrice  float64 `json:"open_price"`
	OpenTime   int64   `json:"open_time"` // unix seconds
	SL         float64 `json:"sl"`
	TP         float64 `json:"tp"`
	Profit     float64 `json:"profit"`
	Commission float64 `json:"commission"`
	Swap       float64 `json:"swap"`
	Comment    string  `json:"comment"`
}

type syncRequest struct {
	AccountID int64        `json:"account_id" binding:"required"`
	Positions []eaPosition `json:"positions"`
}

// Sync reconciles the database against the EA's full open-position report.
// The terminal is authoritative: trades it no longer reports are closed as
// SYNC_RECONCILIATION, trades it reports that we never saw are adopted.
func (h *TradeHandlers) Sync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid sync payload", err))
		return
	}
	ctx := c.Request.Context()
	now := h.now().UTC()

	tickets := make([]int64, 0, len(req.Positions))
	var adopted, updated int
	for i := range req.Positions {
		pos := &req.Positions[i]
		tickets = append(tickets, pos.Ticket)

		trade, err := h.store.GetTradeByTicket(ctx, req.AccountID, pos.Ticket)
		if err != nil {
			respondError(c, err)
			return
		}
		if trade == nil {
			if err := h.adoptPosition(ctx, req.AccountID, pos, now); err != nil {
				h.log.Error().Err(err).Int64("ticket", pos.Ticket).Msg("Failed to adopt EA position")
				continue
			}
			adopted++
			continue
		}
		if trade.Status != db.TradeOpen {
			// The EA still holds a position we recorded as closed; rare, but
			// worth surfacing rather than silently resurrecting the row.
			h.log.Warn().Int64("ticket", pos.Ticket).
				Str("status", string(trade.Status)).Msg("EA reports a position recorded as closed")
			continue
		}
		if h.recordLevelChanges(ctx, trade, pos) {
			updated++
		}
	}

	missing, err := h.store.CloseMissingTrades(ctx, req.AccountID, tickets, now)
	if err != nil {
		respondError(c, err)
		return
	}
	for _, trade := range missing {
		if h.positions != nil {
			h.positions.Invalidate(trade.Symbol)
		}
		metrics.RecordTrade(trade.Profit)
		h.announceClose(trade)
		h.log.Warn().
			Int64("ticket", trade.Ticket).
			Str("symbol", trade.Symbol).
			Msg("Trade closed by reconciliation, EA no longer reports it")
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"adopted": adopted,
		"updated": updated,
		"closed":  len(missing),
	})
}

// adoptPosition records a position the EA reports but the database lacks. A
// recently completed OPEN_TRADE whose response carried this ticket links the
// trade to its signal; otherwise the position was opened manually in the
// terminal.
func (h *TradeHandlers) adoptPosition(ctx context.Context, accountID int64, pos *eaPosition, now time.Time) error {
	openTime := now
	if pos.OpenTime > 0 {
		openTime = time.Unix(pos.OpenTime, 0).UTC()
	}

	trade := &db.Trade{
		Ticket:      pos.Ticket,
		AccountID:   accountID,
		Symbol:      pos.Symbol,
		Direction:   db.SignalType(pos.Direction),
		Volume:      pos.Volume,
		OpenPrice:   pos.OpenPrice,
		OpenTime:    openTime,
		SL:          pos.SL,
		TP:          pos.TP,
		InitialSL:   pos.SL,
		InitialTP:   pos.TP,
		Status:      db.TradeOpen,
		Source:      db.SourceMT5,
		EntryReason: "Manual (MT5)",
		Profit:      pos.Profit,
	}

	cmd, err := h.store.FindOpenCommandByTicket(ctx, accountID, pos.Ticket)
	if err != nil {
		return err
	}
	if cmd != nil {
		trade.Source = db.SourceAutotrade
		trade.CommandID = &cmd.CommandID
		trade.SignalID = cmd.LinkedSignalID
		trade.EntryReason = asString(cmd.Payload["comment"])
	}

	stored, err := h.store.InsertTrade(ctx, trade)
	if err != nil {
		return err
	}

	if h.positions != nil {
		h.positions.Invalidate(stored.Symbol)
	}
	if h.pub != nil {
		h.pub.Publish(bus.SubjectTradeOpened, &bus.Event{
			AccountID: stored.AccountID,
			Symbol:    stored.Symbol,
			Payload: map[string]interface{}{
				"ticket":    stored.Ticket,
				"direction": string(stored.Direction),
				"volume":    stored.Volume,
				"source":    string(stored.Source),
			},
		})
	}
	h.log.Info().
		Int64("ticket", stored.Ticket).
		Str("symbol", stored.Symbol).
		Str("source", string(stored.Source)).
		Msg("Adopted EA-reported position")
	return nil
}

// recordLevelChanges appends history events for SL/TP moved in the terminal
// and stores the new levels.
func (h *TradeHandlers) recordLevelChanges(ctx context.Context, trade *db.Trade, pos *eaPosition) bool {
	slChanged := pos.SL != 0 && pos.SL != trade.SL
	tpChanged := pos.TP != 0 && pos.TP != trade.TP
	if !slChanged && !tpChanged {
		return false
	}

	if slChanged {
		h.appendEvent(ctx, trade.ID, db.EventSLModified, trade.SL, pos.SL)
	}
	if tpChanged {
		h.appendEvent(ctx, trade.ID, db.EventTPModified, trade.TP, pos.TP)
	}

	sl, tp := trade.SL, trade.TP
	if slChanged {
		sl = pos.SL
	}
	if tpChanged {
		tp = pos.TP
	}
	if err := h.store.UpdateTradeSLTP(ctx, trade.ID, sl, tp); err != nil {
		h.log.Error().Err(err).Int64("ticket", trade.Ticket).Msg("Failed to store terminal SL/TP change")
		return false
	}
	return true
}

func (h *TradeHandlers) appendEvent(ctx context.Context, tradeID int64, eventType string, oldValue, newValue float64) {
	err := h.store.InsertTradeHistoryEvent(ctx, &db.TradeHistoryEvent{
		TradeID:   tradeID,
		EventType: eventType,
		OldValue:  oldValue,
		NewValue:  newValue,
		Reason:    "terminal_change",
		Source:    "ea_sync",
	})
	if err != nil {
		h.log.Error().Err(err).Int64("trade_id", tradeID).Msg("Failed to append trade history event")
	}
}

type tradeUpdateRequest struct {
	AccountID   int64   `json:"account_id" binding:"required"`
	Ticket      int64   `json:"ticket" binding:"required"`
	Closed      bool    `json:"closed"`
	ClosePrice  float64 `json:"close_price"`
	CloseTime   int64   `json:"close_time"` // unix seconds
	CloseReason string  `json:"close_reason"`
	SL          float64 `json:"sl"`
	TP          float64 `json:"tp"`
	Profit      float64 `json:"profit"`
	Commission  float64 `json:"commission"`
	Swap        float64 `json:"swap"`
}

// Update applies one position change from the EA. A close report derives the
// exit snapshot (pips, realized R:R, hold time, session, exit spread) and may
// upgrade a generic close reason to the protective command that caused it.
func (h *TradeHandlers) Update(c *gin.Context) {
	var req tradeUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid trade update", err))
		return
	}
	ctx := c.Request.Context()

	trade, err := h.store.GetTradeByTicket(ctx, req.AccountID, req.Ticket)
	if err != nil {
		respondError(c, err)
		return
	}
	if trade == nil {
		respondError(c, errs.Ef(errs.KindNotFound, "unknown trade ticket %d", req.Ticket))
		return
	}

	if !req.Closed {
		if h.recordLevelChanges(ctx, trade, &eaPosition{Ticket: req.Ticket, SL: req.SL, TP: req.TP}) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "updated": true})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "updated": false})
		return
	}

	if trade.Status != db.TradeOpen {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "already_closed": true})
		return
	}

	if err := h.closeTrade(ctx, trade, &req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "closed": true})
}

func (h *TradeHandlers) closeTrade(ctx context.Context, trade *db.Trade, req *tradeUpdateRequest) error {
	closeTime := h.now().UTC()
	if req.CloseTime > 0 {
		closeTime = time.Unix(req.CloseTime, 0).UTC()
	}

	reason := normalizeCloseReason(req.CloseReason)
	// A MANUAL close that matches a server-issued protective command gets
	// the command's reason instead.
	if reason == db.CloseManual || reason == db.CloseUnknown {
		if cmd, err := h.store.FindWorkerCloseCommand(ctx, trade.AccountID, trade.Ticket); err == nil && cmd != nil {
			if override := normalizeCloseReason(asString(cmd.Payload["reason"])); override != db.CloseUnknown {
				reason = override
			}
		}
	}

	digits := 0
	if broker, err := h.store.GetBrokerSymbol(ctx, trade.AccountID, trade.Symbol); err == nil && broker != nil {
		digits = broker.Digits
	}
	snapshot := position.ComputeExitSnapshot(trade, req.ClosePrice, closeTime, digits)

	trade.ClosePrice = &req.ClosePrice
	trade.CloseTime = &closeTime
	trade.CloseReason = &reason
	trade.Profit = req.Profit
	trade.Commission = req.Commission
	trade.Swap = req.Swap
	trade.PipsCaptured = &snapshot.PipsCaptured
	trade.RiskRewardRealized = &snapshot.RiskRewardRealized
	trade.HoldMinutes = &snapshot.HoldMinutes
	trade.Session = &snapshot.Session

	if tick, err := h.ticks.LatestTick(ctx, trade.Symbol); err == nil && tick != nil {
		trade.ExitBid = &tick.Bid
		trade.ExitAsk = &tick.Ask
		trade.ExitSpread = &tick.Spread
	}

	if err := h.store.CloseTrade(ctx, trade); err != nil {
		return err
	}
	trade.Status = db.TradeClosed

	if h.positions != nil {
		h.positions.Invalidate(trade.Symbol)
	}
	metrics.RecordTrade(trade.Profit)
	h.announceClose(trade)
	h.log.Info().
		Int64("ticket", trade.Ticket).
		Str("symbol", trade.Symbol).
		Str("reason", string(reason)).
		Float64("profit", trade.Profit).
		Float64("pips", snapshot.PipsCaptured).
		Msg("Trade closed")

	if h.hook != nil {
		if err := h.hook.OnTradeClosed(ctx, trade); err != nil {
			h.log.Error().Err(err).Int64("ticket", trade.Ticket).Msg("Trade close hook failed")
		}
	}
	return nil
}

func (h *TradeHandlers) announceClose(trade *db.Trade) {
	if h.pub == nil {
		return
	}
	payload := map[string]interface{}{
		"ticket": trade.Ticket,
		"profit": trade.Profit,
	}
	if trade.CloseReason != nil {
		payload["close_reason"] = string(*trade.CloseReason)
	}
	h.pub.Publish(bus.SubjectTradeClosed, &bus.Event{
		AccountID: trade.AccountID,
		Symbol:    trade.Symbol,
		Payload:   payload,
	})
}

func normalizeCloseReason(raw string) db.CloseReason {
	switch db.CloseReason(raw) {
	case db.CloseTPHit, db.CloseSLHit, db.CloseTrailingStop, db.CloseTimeExit,
		db.CloseStrategyInvalid, db.CloseEmergency, db.CloseReconciliation,
		db.CloseManual:
		return db.CloseReason(raw)
	}
	return db.CloseUnknown
}
