package db

import (
	"time"

	"github.com/google/uuid"
)

// SignalType represents the direction a signal recommends (database enum)
type SignalType string

const (
	SignalBuy   SignalType = "BUY"
	SignalSell  SignalType = "SELL"
	SignalHold  SignalType = "HOLD"
	SignalClose SignalType = "CLOSE"
)

// SignalStatus represents a signal's lifecycle state (database enum)
type SignalStatus string

const (
	SignalStatusActive   SignalStatus = "active"
	SignalStatusExecuted SignalStatus = "executed"
	SignalStatusExpired  SignalStatus = "expired"
	SignalStatusReplaced SignalStatus = "replaced"
)

// SignalOutcome records how an executed signal resolved
type SignalOutcome string

const (
	OutcomeWin     SignalOutcome = "WIN"
	OutcomeLoss    SignalOutcome = "LOSS"
	OutcomeExpired SignalOutcome = "EXPIRED"
)

// CommandType represents the commands the EA understands (database enum)
type CommandType string

const (
	CommandOpenTrade      CommandType = "OPEN_TRADE"
	CommandModifyTrade    CommandType = "MODIFY_TRADE"
	CommandCloseTrade     CommandType = "CLOSE_TRADE"
	CommandCloseAll       CommandType = "CLOSE_ALL"
	CommandRequestHistory CommandType = "REQUEST_HISTORICAL_DATA"
	CommandAccountInfo    CommandType = "GET_ACCOUNT_INFO"
	CommandPing           CommandType = "PING"
)

// CommandStatus represents a command's lifecycle state (database enum)
type CommandStatus string

const (
	CommandPending   CommandStatus = "PENDING"
	CommandExecuting CommandStatus = "EXECUTING"
	CommandCompleted CommandStatus = "COMPLETED"
	CommandFailed    CommandStatus = "FAILED"
	CommandTimeout   CommandStatus = "TIMEOUT"
)

// Command priorities. Queue order is (priority desc, enqueue sequence asc).
const (
	PriorityLow      = 1
	PriorityNormal   = 5
	PriorityHigh     = 10
	PriorityCritical = 99
)

// TimeoutForPriority returns the command timeout in seconds: critical and
// high-priority commands get tighter deadlines.
func TimeoutForPriority(priority int) int {
	switch {
	case priority >= PriorityCritical:
		return 5
	case priority >= PriorityHigh:
		return 10
	default:
		return 30
	}
}

// TradeStatus represents a trade's lifecycle state (database enum)
type TradeStatus string

const (
	TradeOpen      TradeStatus = "open"
	TradeClosed    TradeStatus = "closed"
	TradePending   TradeStatus = "pending"
	TradeCancelled TradeStatus = "cancelled"
)

// CloseReason enumerates why a trade closed (database enum)
type CloseReason string

const (
	CloseTPHit           CloseReason = "TP_HIT"
	CloseSLHit           CloseReason = "SL_HIT"
	CloseTrailingStop    CloseReason = "TRAILING_STOP"
	CloseTimeExit        CloseReason = "TIME_EXIT"
	CloseStrategyInvalid CloseReason = "STRATEGY_INVALID"
	CloseEmergency       CloseReason = "EMERGENCY_CLOSE"
	CloseReconciliation  CloseReason = "SYNC_RECONCILIATION"
	CloseManual          CloseReason = "MANUAL"
	CloseUnknown         CloseReason = "UNKNOWN"
)

// TradeSource identifies what originated a trade (database enum)
type TradeSource string

const (
	SourceAutotrade TradeSource = "autotrade"
	SourceEACommand TradeSource = "ea_command"
	SourceMT5       TradeSource = "MT5"
)

// Trade history event types (database enum)
const (
	EventSLModified     = "SL_MODIFIED"
	EventTPModified     = "TP_MODIFIED"
	EventVolumeModified = "VOLUME_MODIFIED"
)

// Decision impact levels (database enum)
const (
	ImpactLow      = "LOW"
	ImpactMedium   = "MEDIUM"
	ImpactHigh     = "HIGH"
	ImpactCritical = "CRITICAL"
)

// Account represents an authenticated brokerage account. Created on first
// connect, mutated by heartbeats, never destroyed. The risk-state columns
// mirror the in-memory per-account cell so a restart reconstructs it.
type Account struct {
	ID                  int64
	BrokerAccountNumber int64
	BrokerName          string
	Currency            string
	Balance             float64
	Equity              float64
	Margin              float64
	FreeMargin          float64
	InitialBalance      float64
	ProfitToday         float64
	ProfitDate          time.Time
	AutotradingEnabled  bool
	BreakerTripped      bool
	BreakerReason       string
	FailedCommandCount  int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Tick is a single quote observation for a symbol
type Tick struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Spread float64   `json:"spread"`
	Volume float64   `json:"volume"`
	Time   time.Time `json:"time"`
}

// OHLCBar is one aggregate bar for (symbol, timeframe). Bars are global,
// shared across accounts.
type OHLCBar struct {
	Symbol   string    `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Signal is one trading recommendation for (account, symbol, timeframe).
// At most one signal per key is active at a time; the partial unique index
// idx_signals_one_active enforces it.
type Signal struct {
	ID                uuid.UUID
	AccountID         int64
	Symbol            string
	Timeframe         string
	Type              SignalType
	Confidence        float64
	EntryPrice        float64
	SLPrice           float64
	TPPrice           float64
	IndicatorSnapshot map[string]interface{}
	Status            SignalStatus
	Outcome           *SignalOutcome
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Command is one instruction queued for an EA. The serial row id provides
// FIFO ordering inside a priority band; CommandID is the external identity.
type Command struct {
	ID             int64
	CommandID      uuid.UUID
	AccountID      int64
	Type           CommandType
	Payload        map[string]interface{}
	Priority       int
	Status         CommandStatus
	RetryCount     int
	MaxRetries     int
	TimeoutSeconds int
	LinkedSignalID *uuid.UUID
	Response       map[string]interface{}
	ErrorMessage   *string
	CreatedAt      time.Time
	SentAt         *time.Time
	CompletedAt    *time.Time
}

// Trade mirrors one broker position. The EA is the source of truth for the
// open set; reconciliation closes anything the EA no longer reports.
type Trade struct {
	ID                 int64
	Ticket             int64
	AccountID          int64
	Symbol             string
	Direction          SignalType // BUY or SELL
	Volume             float64
	OpenPrice          float64
	OpenTime           time.Time
	ClosePrice         *float64
	CloseTime          *time.Time
	SL                 float64
	TP                 float64
	InitialSL          float64
	InitialTP          float64
	OriginalTP         float64
	TPExtendedCount    int
	Status             TradeStatus
	CloseReason        *CloseReason
	Source             TradeSource
	CommandID          *uuid.UUID
	SignalID           *uuid.UUID
	EntryReason        string
	EntryBid           float64
	EntryAsk           float64
	EntrySpread        float64
	ExitBid            *float64
	ExitAsk            *float64
	ExitSpread         *float64
	Session            *string
	MaxFavorable       float64
	MaxAdverse         float64
	TrailingActive     bool
	TrailingMoves      int
	PipsCaptured       *float64
	RiskRewardRealized *float64
	HoldMinutes        *int
	Profit             float64
	Commission         float64
	Swap               float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsBuy reports whether the trade is long
func (t *Trade) IsBuy() bool {
	return t.Direction == SignalBuy
}

// TradeHistoryEvent is one append-only audit record of a trade modification
type TradeHistoryEvent struct {
	ID             int64
	TradeID        int64
	EventType      string
	OldValue       float64
	NewValue       float64
	Reason         string
	Source         string
	PriceAtChange  float64
	SpreadAtChange float64
	CreatedAt      time.Time
}

// BrokerSymbol carries broker-imposed constraints used during TP/SL and
// volume calculation.
type BrokerSymbol struct {
	AccountID  int64
	Symbol     string
	Digits     int
	PointValue float64
	StopsLevel int
	FreezeLevel int
	VolumeMin  float64
	VolumeMax  float64
	VolumeStep float64
	UpdatedAt  time.Time
}

// GlobalSettings is the singleton risk and behavior configuration row
type GlobalSettings struct {
	RiskPerTradePercent       float64
	MaxPositions              int
	MaxPositionsPerSymbol     int
	MaxDailyLossPercent       float64
	MaxTotalDrawdownPercent   float64
	MinSignalConfidence       float64
	MinAutotradeConfidence    float64
	SignalMaxAgeMinutes       int
	SLCooldownMinutes         int
	AutotradeEnabled          bool
	DynamicTPEnabled          bool
	TPExtensionTriggerPercent float64
	TPExtensionMultiplier     float64
	TradeTimeoutHours         int
	TradeTimeoutAction        string
	UpdatedAt                 time.Time
}

// AIDecision is one append-only record of a gating decision
type AIDecision struct {
	ID             int64
	DecisionType   string
	AccountID      int64
	Symbol         *string
	SignalID       *uuid.UUID
	Approved       bool
	Reason         string
	Details        map[string]interface{}
	Impact         string
	ActionRequired bool
	CreatedAt      time.Time
}

// SymbolPerformance is the rolling 24h result tracking row for one symbol
type SymbolPerformance struct {
	Symbol             string
	Status             string // active or disabled
	AutoDisabledReason *string
	WinRate24h         float64
	Profit24h          float64
	SampleSize24h      int
	UpdatedAt          time.Time
}

// NewsEvent is one externally-populated economic calendar entry
type NewsEvent struct {
	ID        int64
	Currency  string
	Title     string
	Impact    string
	EventTime time.Time
	CreatedAt time.Time
}
