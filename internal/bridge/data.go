package bridge

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/errs"
	"github.com/ajitpratap0/tradebridge/internal/market"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
	"github.com/ajitpratap0/tradebridge/internal/validation"
)

// maxTickBatch bounds one EA upload; the EA splits larger backlogs
const maxTickBatch = 5000

// TickCache is the latest-quote write surface (Redis)
type TickCache interface {
	SetLatestTick(ctx context.Context, tick *db.Tick) error
}

// DataHandlers owns the market-data port: tick batches and OHLC history
type DataHandlers struct {
	batcher *market.Batcher
	cache   TickCache
	spreads *market.SpreadStats
	bars    market.BarStore
	log     zerolog.Logger
	now     func() time.Time
}

func NewDataHandlers(batcher *market.Batcher, cache TickCache, spreads *market.SpreadStats, bars market.BarStore, logger zerolog.Logger) *DataHandlers {
	return &DataHandlers{
		batcher: batcher,
		cache:   cache,
		spreads: spreads,
		bars:    bars,
		log:     logger,
		now:     time.Now,
	}
}

func (h *DataHandlers) RegisterRoutes(r gin.IRoutes) {
	r.POST("/api/ticks/batch", h.TickBatch)
	r.GET("/api/ohlc/coverage", h.Coverage)
	r.POST("/api/ohlc/historical", h.HistoricalBars)
}

type tickBatchRequest struct {
	Ticks []db.Tick `json:"ticks" binding:"required"`
}

// TickBatch ingests one EA tick upload. Persistence is asynchronous through
// the batcher ring; the hot path only updates the latest-quote cache and the
// rolling spread window.
func (h *DataHandlers) TickBatch(c *gin.Context) {
	var req tickBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid tick batch", err))
		return
	}

	sizeCheck := validation.NewTickValidator()
	sizeCheck.ValidateBatchSize(len(req.Ticks), maxTickBatch)
	if sizeCheck.HasErrors() {
		respondError(c, errs.E(errs.KindValidation, "invalid tick batch", sizeCheck.Errors()))
		return
	}

	now := h.now().UTC()
	accepted := make([]db.Tick, 0, len(req.Ticks))
	counts := make(map[string]int)
	latest := make(map[string]*db.Tick)

	for i := range req.Ticks {
		tick := req.Ticks[i]
		tick.Symbol = validation.SanitizeSymbol(tick.Symbol)
		check := validation.NewTickValidator()
		check.Symbol("symbol", tick.Symbol)
		check.ValidateQuote(tick.Bid, tick.Ask)
		if check.HasErrors() || tick.Ask < tick.Bid {
			metrics.RecordTicksDropped("malformed", 1)
			continue
		}
		if tick.Spread == 0 {
			tick.Spread = tick.Ask - tick.Bid
		}
		if tick.Time.IsZero() {
			tick.Time = now
		}
		accepted = append(accepted, tick)
		counts[tick.Symbol]++
		prev, ok := latest[tick.Symbol]
		if !ok || tick.Time.After(prev.Time) {
			t := tick
			latest[tick.Symbol] = &t
		}
	}

	h.batcher.Add(accepted)
	for _, tick := range latest {
		h.spreads.Observe(tick.Symbol, tick.Spread, tick.Time)
		if err := h.cache.SetLatestTick(c.Request.Context(), tick); err != nil {
			h.log.Warn().Err(err).Str("symbol", tick.Symbol).Msg("Failed to cache latest tick")
		}
	}
	metrics.RecordTickBatch(counts)

	c.JSON(http.StatusOK, gin.H{"status": "ok", "accepted": len(accepted)})
}

// Coverage answers the EA's "should I upload history" question for one
// (symbol, timeframe) pair.
func (h *DataHandlers) Coverage(c *gin.Context) {
	symbol := c.Query("symbol")
	timeframe := c.Query("timeframe")
	required, err := strconv.Atoi(c.DefaultQuery("required_bars", "200"))
	if symbol == "" || timeframe == "" || err != nil {
		respondError(c, errs.Ef(errs.KindValidation, "symbol, timeframe and required_bars are required"))
		return
	}

	coverage, err := market.CheckCoverage(c.Request.Context(), h.bars, symbol, timeframe, required)
	if err != nil {
		respondError(c, errs.E(errs.KindValidation, "coverage check failed", err))
		return
	}
	c.JSON(http.StatusOK, coverage)
}

type historicalBarsRequest struct {
	Symbol    string      `json:"symbol" binding:"required"`
	Timeframe string      `json:"timeframe" binding:"required"`
	Bars      []db.OHLCBar `json:"bars" binding:"required"`
}

// HistoricalBars stores an EA history upload. The insert is idempotent per
// (symbol, timeframe, open_time), so overlapping uploads are safe.
func (h *DataHandlers) HistoricalBars(c *gin.Context) {
	var req historicalBarsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid history payload", err))
		return
	}
	if !market.ValidTimeframe(req.Timeframe) {
		respondError(c, errs.Ef(errs.KindValidation, "unknown timeframe %q", req.Timeframe))
		return
	}

	symbol := validation.SanitizeSymbol(req.Symbol)
	bars := make([]db.OHLCBar, 0, len(req.Bars))
	for _, bar := range req.Bars {
		bar.Symbol = symbol
		bar.Timeframe = req.Timeframe
		if bar.OpenTime.IsZero() {
			continue
		}
		check := validation.NewOHLCValidator()
		check.ValidateBar(bar.Open, bar.High, bar.Low, bar.Close)
		if check.HasErrors() {
			continue
		}
		bars = append(bars, bar)
	}

	inserted, err := h.bars.InsertOHLCBars(c.Request.Context(), bars)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.RecordOHLCInserted(req.Timeframe, int(inserted))

	h.log.Debug().
		Str("symbol", req.Symbol).
		Str("timeframe", req.Timeframe).
		Int64("inserted", inserted).
		Int("received", len(req.Bars)).
		Msg("Historical bars stored")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "inserted": inserted})
}
