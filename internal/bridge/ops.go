package bridge

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/errs"
)

// OpsStore is the read/admin persistence behind the ops port
type OpsStore interface {
	ListAccounts(ctx context.Context) ([]*db.Account, error)
	ListActiveSignals(ctx context.Context, accountID int64) ([]*db.Signal, error)
	RecentTrades(ctx context.Context, accountID int64, limit int) ([]*db.Trade, error)
	GetCommand(ctx context.Context, commandID uuid.UUID) (*db.Command, error)
	CountCommands(ctx context.Context) (map[string]int64, error)
	GetGlobalSettings(ctx context.Context) (*db.GlobalSettings, error)
	PatchGlobalSettings(ctx context.Context, patch map[string]interface{}) error
	ListDecisions(ctx context.Context, accountID int64, limit int) ([]*db.AIDecision, error)
	InsertNewsEvent(ctx context.Context, e *db.NewsEvent) error
}

// BreakerAdmin is the manual circuit-breaker control surface
type BreakerAdmin interface {
	Tripped(accountID int64) (bool, string)
	Reset(ctx context.Context, accountID int64) error
}

// Health probes for the dependencies the status endpoint reports on
type Health struct {
	Database func(ctx context.Context) error
	Redis    func(ctx context.Context) error
	Bus      func() bool
}

// OpsHandlers owns the operator port: status, entity listings, settings,
// admin actions and the live stream.
type OpsHandlers struct {
	store    OpsStore
	registry *Registry
	breaker  BreakerAdmin
	hub      *WSHub
	health   Health
	started  time.Time
	version  string
	log      zerolog.Logger
}

func NewOpsHandlers(store OpsStore, registry *Registry, breaker BreakerAdmin, hub *WSHub, health Health, version string, logger zerolog.Logger) *OpsHandlers {
	return &OpsHandlers{
		store:    store,
		registry: registry,
		breaker:  breaker,
		hub:      hub,
		health:   health,
		started:  time.Now(),
		version:  version,
		log:      logger,
	}
}

// RegisterRoutes wires the authenticated ops surface. /health and /metrics
// stay outside so probes and scrapers need no key.
func (h *OpsHandlers) RegisterRoutes(r gin.IRoutes) {
	r.GET("/api/system/status", h.SystemStatus)
	r.GET("/api/accounts", h.Accounts)
	r.GET("/api/signals", h.Signals)
	r.GET("/api/trades", h.Trades)
	r.GET("/api/decisions", h.Decisions)
	r.GET("/api/commands/:id", h.Command)
	r.GET("/api/settings", h.Settings)
	r.PATCH("/api/settings", h.PatchSettings)
	r.POST("/api/breaker/reset", h.ResetBreaker)
	r.POST("/api/news", h.AddNews)
}

// HealthCheck is the unauthenticated liveness probe
func (h *OpsHandlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// SystemStatus reports dependency health, the connection snapshot and the
// command backlog in one call.
func (h *OpsHandlers) SystemStatus(c *gin.Context) {
	ctx := c.Request.Context()

	deps := gin.H{}
	healthy := true
	if h.health.Database != nil {
		if err := h.health.Database(ctx); err != nil {
			deps["database"] = "down"
			healthy = false
		} else {
			deps["database"] = "ok"
		}
	}
	if h.health.Redis != nil {
		if err := h.health.Redis(ctx); err != nil {
			deps["redis"] = "down"
			healthy = false
		} else {
			deps["redis"] = "ok"
		}
	}
	if h.health.Bus != nil {
		if h.health.Bus() {
			deps["bus"] = "ok"
		} else {
			deps["bus"] = "down"
			healthy = false
		}
	}

	commands, err := h.store.CountCommands(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	status := "ok"
	if !healthy {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"version":      h.version,
		"dependencies": deps,
		"connections":  h.registry.Snapshot(),
		"commands":     commands,
	})
}

func (h *OpsHandlers) Accounts(c *gin.Context) {
	accounts, err := h.store.ListAccounts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]gin.H, 0, len(accounts))
	for _, a := range accounts {
		tripped, reason := a.BreakerTripped, a.BreakerReason
		if h.breaker != nil {
			tripped, reason = h.breaker.Tripped(a.ID)
		}
		out = append(out, gin.H{
			"account_id":          a.ID,
			"broker_name":         a.BrokerName,
			"broker_account":      a.BrokerAccountNumber,
			"currency":            a.Currency,
			"balance":             a.Balance,
			"equity":              a.Equity,
			"initial_balance":     a.InitialBalance,
			"profit_today":        a.ProfitToday,
			"autotrading_enabled": a.AutotradingEnabled,
			"breaker_tripped":     tripped,
			"breaker_reason":      reason,
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

func (h *OpsHandlers) Signals(c *gin.Context) {
	accountID, err := queryInt64(c, "account_id")
	if err != nil {
		respondError(c, err)
		return
	}
	signals, err := h.store.ListActiveSignals(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (h *OpsHandlers) Trades(c *gin.Context) {
	accountID, err := queryInt64(c, "account_id")
	if err != nil {
		respondError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	trades, err := h.store.RecentTrades(c.Request.Context(), accountID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (h *OpsHandlers) Decisions(c *gin.Context) {
	accountID, _ := queryInt64(c, "account_id") // zero means all accounts
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	decisions, err := h.store.ListDecisions(c.Request.Context(), accountID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (h *OpsHandlers) Command(c *gin.Context) {
	commandID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errs.Ef(errs.KindValidation, "malformed command id %q", c.Param("id")))
		return
	}
	cmd, err := h.store.GetCommand(c.Request.Context(), commandID)
	if err != nil {
		respondError(c, err)
		return
	}
	if cmd == nil {
		respondError(c, errs.Ef(errs.KindNotFound, "unknown command %s", commandID))
		return
	}
	c.JSON(http.StatusOK, cmd)
}

func (h *OpsHandlers) Settings(c *gin.Context) {
	settings, err := h.store.GetGlobalSettings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// PatchSettings updates the recognized settings keys present in the body.
// The store rejects unknown keys.
func (h *OpsHandlers) PatchSettings(c *gin.Context) {
	var patch map[string]interface{}
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid settings patch", err))
		return
	}
	if err := h.store.PatchGlobalSettings(c.Request.Context(), patch); err != nil {
		respondError(c, errs.E(errs.KindValidation, "settings patch rejected", err))
		return
	}
	h.log.Info().Interface("patch", patch).Msg("Global settings updated")

	settings, err := h.store.GetGlobalSettings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

type breakerResetRequest struct {
	AccountID int64 `json:"account_id" binding:"required"`
}

// ResetBreaker is the operator's manual breaker reset; trips never clear on
// their own.
func (h *OpsHandlers) ResetBreaker(c *gin.Context) {
	var req breakerResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid payload", err))
		return
	}
	if err := h.breaker.Reset(c.Request.Context(), req.AccountID); err != nil {
		respondError(c, err)
		return
	}
	h.log.Info().Int64("account_id", req.AccountID).Msg("Circuit breaker manually reset")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type newsRequest struct {
	Currency  string    `json:"currency" binding:"required"`
	Title     string    `json:"title" binding:"required"`
	Impact    string    `json:"impact" binding:"required"`
	EventTime time.Time `json:"event_time" binding:"required"`
}

// AddNews inserts one calendar event; the news worker picks it up on its
// next pass.
func (h *OpsHandlers) AddNews(c *gin.Context) {
	var req newsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid news event", err))
		return
	}
	switch req.Impact {
	case db.ImpactLow, db.ImpactMedium, db.ImpactHigh, db.ImpactCritical:
	default:
		respondError(c, errs.Ef(errs.KindValidation, "unknown impact %q", req.Impact))
		return
	}

	err := h.store.InsertNewsEvent(c.Request.Context(), &db.NewsEvent{
		Currency:  req.Currency,
		Title:     req.Title,
		Impact:    req.Impact,
		EventTime: req.EventTime,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok"})
}

// ServeWS upgrades an ops client onto the live stream
func (h *OpsHandlers) ServeWS(c *gin.Context) {
	h.hub.Serve(c)
}

func queryInt64(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errs.Ef(errs.KindValidation, "invalid %s %q", name, raw)
	}
	return value, nil
}
