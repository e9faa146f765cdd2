package bridge

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tradebridge/internal/errs"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

// LogHandlers relays EA-side log lines into the server log. Each account
// gets its own token bucket so one chatty terminal cannot drown the rest.
type LogHandlers struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	perSec   rate.Limit
	burst    int
	log      zerolog.Logger
}

func NewLogHandlers(linesPerSecond int, logger zerolog.Logger) *LogHandlers {
	if linesPerSecond <= 0 {
		linesPerSecond = 10
	}
	return &LogHandlers{
		limiters: make(map[int64]*rate.Limiter),
		perSec:   rate.Limit(linesPerSecond),
		burst:    linesPerSecond * 2,
		log:      logger,
	}
}

func (h *LogHandlers) RegisterRoutes(r gin.IRoutes) {
	r.POST("/api/log", h.Log)
}

func (h *LogHandlers) limiterFor(accountID int64) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	limiter, ok := h.limiters[accountID]
	if !ok {
		limiter = rate.NewLimiter(h.perSec, h.burst)
		h.limiters[accountID] = limiter
	}
	return limiter
}

type eaLogRequest struct {
	AccountID int64  `json:"account_id" binding:"required"`
	Level     string `json:"level"`
	Message   string `json:"message" binding:"required"`
	Source    string `json:"source"`
}

// Log records one EA log line. Over-limit lines are acknowledged but
// dropped; the EA must not retry log delivery.
func (h *LogHandlers) Log(c *gin.Context) {
	var req eaLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid log payload", err))
		return
	}

	if !h.limiterFor(req.AccountID).Allow() {
		metrics.RecordEALogDropped()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "dropped": true})
		return
	}

	level := strings.ToLower(req.Level)
	event := h.log.Info()
	switch level {
	case "error", "critical":
		event = h.log.Error()
	case "warn", "warning":
		event = h.log.Warn()
	case "debug":
		event = h.log.Debug()
	default:
		level = "info"
	}
	event.
		Int64("account_id", req.AccountID).
		Str("ea_source", req.Source).
		Msg(req.Message)
	metrics.RecordEALogLine(level)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
