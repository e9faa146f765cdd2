package bridge

import (
	"context"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/config"
	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/errs"
)

// ControlStore is the account persistence behind the control port
type ControlStore interface {
	GetAccount(ctx context.Context, id int64) (*db.Account, error)
	GetAccountByNumber(ctx context.Context, broker string, number int64) (*db.Account, error)
	CreateAccount(ctx context.Context, broker string, number int64, currency string, balance float64) (*db.Account, error)
	UpdateAccountState(ctx context.Context, id int64, balance, equity, margin, freeMargin float64) error
	SetProfitToday(ctx context.Context, id int64, profit float64) error
	UpsertBrokerSymbol(ctx context.Context, b *db.BrokerSymbol) error
}

// ControlHandlers owns the EA lifecycle endpoints: connect, heartbeat,
// command polling, command responses, disconnect.
type ControlHandlers struct {
	store      ControlStore
	registry   *Registry
	dispatcher *Dispatcher
	cfg        config.BridgeConfig
	log        zerolog.Logger
	now        func() time.Time
}

func NewControlHandlers(store ControlStore, registry *Registry, dispatcher *Dispatcher, cfg config.BridgeConfig, logger zerolog.Logger) *ControlHandlers {
	return &ControlHandlers{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        logger,
		now:        time.Now,
	}
}

func (h *ControlHandlers) RegisterRoutes(r gin.IRoutes) {
	r.POST("/api/connect", h.Connect)
	r.POST("/api/heartbeat", h.Heartbeat)
	r.POST("/api/get_commands", h.GetCommands)
	r.POST("/api/command_response", h.CommandResponse)
	r.POST("/api/disconnect", h.Disconnect)
}

type symbolSpec struct {
	Symbol      string  `json:"symbol" binding:"required"`
	Digits      int     `json:"digits"`
	PointValue  float64 `json:"point_value"`
	StopsLevel  int     `json:"stops_level"`
	FreezeLevel int     `json:"freeze_level"`
	VolumeMin   float64 `json:"volume_min"`
	VolumeMax   float64 `json:"volume_max"`
	VolumeStep  float64 `json:"volume_step"`
}

type connectRequest struct {
	BrokerName    string       `json:"broker_name" binding:"required"`
	AccountNumber int64        `json:"account_number" binding:"required"`
	EAVersion     string       `json:"ea_version" binding:"required"`
	Currency      string       `json:"currency"`
	Balance       float64      `json:"balance"`
	Equity        float64      `json:"equity"`
	SymbolSpecs   []symbolSpec `json:"symbol_specs"`
}

// Connect is the EA handshake. The first connect for a broker account
// creates the account row and captures the initial balance the drawdown
// limits are measured against.
func (h *ControlHandlers) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid connect payload", err))
		return
	}

	if err := h.checkEAVersion(req.EAVersion); err != nil {
		respondError(c, err)
		return
	}

	account, err := h.store.GetAccountByNumber(c.Request.Context(), req.BrokerName, req.AccountNumber)
	if err != nil {
		respondError(c, err)
		return
	}
	if account == nil {
		currency := req.Currency
		if currency == "" {
			currency = "USD"
		}
		account, err = h.store.CreateAccount(c.Request.Context(), req.BrokerName, req.AccountNumber, currency, req.Balance)
		if err != nil {
			respondError(c, err)
			return
		}
		h.log.Info().
			Int64("account_id", account.ID).
			Str("broker", req.BrokerName).
			Float64("initial_balance", account.InitialBalance).
			Msg("Account created on first connect")
	}

	// Broker constraints ride along with the handshake; sizing and SL/TP
	// math are wrong without them, so store them before the EA starts polling.
	for _, spec := range req.SymbolSpecs {
		err := h.store.UpsertBrokerSymbol(c.Request.Context(), &db.BrokerSymbol{
			AccountID:   account.ID,
			Symbol:      spec.Symbol,
			Digits:      spec.Digits,
			PointValue:  spec.PointValue,
			StopsLevel:  spec.StopsLevel,
			FreezeLevel: spec.FreezeLevel,
			VolumeMin:   spec.VolumeMin,
			VolumeMax:   spec.VolumeMax,
			VolumeStep:  spec.VolumeStep,
		})
		if err != nil {
			h.log.Error().Err(err).Str("symbol", spec.Symbol).Msg("Failed to store broker symbol spec")
		}
	}

	h.registry.Register(account.ID, req.BrokerName, req.EAVersion)

	c.JSON(http.StatusOK, gin.H{
		"status":                     "ok",
		"account_id":                 account.ID,
		"heartbeat_interval_seconds": h.cfg.HeartbeatIntervalSeconds,
	})
}

func (h *ControlHandlers) checkEAVersion(version string) error {
	if h.cfg.MinEAVersion == "" {
		return nil
	}
	minimum, err := semver.NewVersion(h.cfg.MinEAVersion)
	if err != nil {
		h.log.Error().Err(err).Str("min_ea_version", h.cfg.MinEAVersion).
			Msg("Invalid min_ea_version setting, version gate disabled")
		return nil
	}
	presented, err := semver.NewVersion(version)
	if err != nil {
		return errs.Ef(errs.KindValidation, "unparseable EA version %q", version)
	}
	if presented.LessThan(minimum) {
		return errs.Ef(errs.KindValidation,
			"EA version %s is below the required minimum %s, please update", version, minimum)
	}
	return nil
}

type heartbeatRequest struct {
	AccountID  int64   `json:"account_id" binding:"required"`
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	FreeMargin float64 `json:"free_margin"`
}

// Heartbeat refreshes the account snapshot and piggybacks pending commands
// on the response so the EA needs only one poll per interval.
func (h *ControlHandlers) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid heartbeat payload", err))
		return
	}
	ctx := c.Request.Context()

	account, err := h.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		respondError(c, err)
		return
	}
	if account == nil {
		respondError(c, errs.Ef(errs.KindNotFound, "unknown account %d, reconnect required", req.AccountID))
		return
	}

	if err := h.store.UpdateAccountState(ctx, account.ID, req.Balance, req.Equity, req.Margin, req.FreeMargin); err != nil {
		respondError(c, err)
		return
	}

	// Daily profit resets when the first heartbeat of a new day arrives.
	// Days roll at UTC midnight for every account, regardless of broker
	// server time.
	now := h.now().UTC()
	if !sameDay(account.ProfitDate, now) {
		if err := h.store.SetProfitToday(ctx, account.ID, 0); err != nil {
			h.log.Error().Err(err).Int64("account_id", account.ID).Msg("Failed to roll profit_today over")
		}
	}

	h.registry.Heartbeat(account.ID)

	commands, err := h.drain(ctx, account.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":              "ok",
		"autotrading_enabled": account.AutotradingEnabled && !account.BreakerTripped,
		"commands":            commands,
	})
}

type accountIDRequest struct {
	AccountID int64 `json:"account_id" binding:"required"`
}

// GetCommands drains the queue without the account-state side effects of a
// heartbeat. EAs poll it between heartbeats when the queue was full.
func (h *ControlHandlers) GetCommands(c *gin.Context) {
	var req accountIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid payload", err))
		return
	}

	commands, err := h.drain(c.Request.Context(), req.AccountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "commands": commands})
}

func (h *ControlHandlers) drain(ctx context.Context, accountID int64) ([]gin.H, error) {
	limit := h.cfg.MaxCommandsPerPoll
	if limit <= 0 {
		limit = 10
	}
	delivered, err := h.dispatcher.Drain(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]gin.H, 0, len(delivered))
	for _, cmd := range delivered {
		out = append(out, gin.H{
			"command_id":      cmd.CommandID.String(),
			"type":            string(cmd.Type),
			"payload":         cmd.Payload,
			"priority":        cmd.Priority,
			"timeout_seconds": cmd.TimeoutSeconds,
		})
	}
	return out, nil
}

type commandResponseRequest struct {
	CommandID    string                 `json:"command_id" binding:"required"`
	Success      bool                   `json:"success"`
	Response     map[string]interface{} `json:"response"`
	ErrorMessage string                 `json:"error_message"`
}

// CommandResponse settles one command execution report from the EA
func (h *ControlHandlers) CommandResponse(c *gin.Context) {
	var req commandResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid command response payload", err))
		return
	}
	commandID, err := uuid.Parse(req.CommandID)
	if err != nil {
		respondError(c, errs.Ef(errs.KindValidation, "malformed command_id %q", req.CommandID))
		return
	}

	cmd, err := h.dispatcher.HandleResponse(c.Request.Context(), commandID, req.Success, req.Response, req.ErrorMessage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "command_status": string(cmd.Status)})
}

// Disconnect drops the connection; the account row persists
func (h *ControlHandlers) Disconnect(c *gin.Context) {
	var req accountIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.E(errs.KindValidation, "invalid payload", err))
		return
	}
	h.registry.Unregister(req.AccountID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
