package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Circuit breaker trip reasons (bounded set)
	ReasonDailyLoss      = "daily_loss"
	ReasonDrawdown       = "drawdown"
	ReasonFailedCommands = "failed_commands"
	ReasonManual         = "manual"
	ReasonOther          = "other"

	// Command error categories (bounded set)
	CommandErrorTimeout    = "timeout"
	CommandErrorConnection = "connection"
	CommandErrorNetwork    = "network"
	CommandErrorTemporary  = "temporary"
	CommandErrorBroker     = "broker_rejected"
	CommandErrorOther      = "other"

	// Signal drop reasons (bounded set)
	DropReasonMTFConflict   = "mtf_conflict"
	DropReasonLowConfidence = "low_confidence"
	DropReasonEnsemble      = "ensemble_insufficient"
	DropReasonNoPattern     = "no_pattern"
	DropReasonTPSLRejected  = "tp_sl_rejected"
	DropReasonDuplicate     = "duplicate"
	DropReasonOther         = "other"

	// Auto-trader gate steps (bounded set, one per gating stage)
	GateCircuitBreaker     = "circuit_breaker"
	GateAutotradingOff     = "autotrading_disabled"
	GateSignalAge          = "signal_age"
	GateSymbolCooldown     = "symbol_cooldown"
	GateMaxPositions       = "max_positions"
	GateMaxPositionsSymbol = "max_positions_symbol"
	GateCorrelation        = "correlation"
	GateDailyDrawdown      = "daily_drawdown"
	GateConfidence         = "confidence"
	GateSpread             = "spread"
	GateTickFreshness      = "tick_freshness"
	GateSizing             = "sizing"

	// Symbol pause reasons (bounded set)
	PauseReasonSLHit       = "sl_hit"
	PauseReasonNews        = "news"
	PauseReasonPerformance = "performance"
)

// NormalizeBreakerReason maps arbitrary trip reasons to the bounded set
func NormalizeBreakerReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "daily") || strings.Contains(lower, "loss"):
		return ReasonDailyLoss
	case strings.Contains(lower, "drawdown"):
		return ReasonDrawdown
	case strings.Contains(lower, "command") || strings.Contains(lower, "failed"):
		return ReasonFailedCommands
	case strings.Contains(lower, "manual") || strings.Contains(lower, "operator"):
		return ReasonManual
	default:
		return ReasonOther
	}
}

// NormalizeCommandError maps broker error text to the bounded category set
func NormalizeCommandError(errText string) string {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return CommandErrorTimeout
	case strings.Contains(lower, "connection"):
		return CommandErrorConnection
	case strings.Contains(lower, "network"):
		return CommandErrorNetwork
	case strings.Contains(lower, "temporary") || strings.Contains(lower, "try again"):
		return CommandErrorTemporary
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "reject") ||
		strings.Contains(lower, "stops") || strings.Contains(lower, "price") ||
		strings.Contains(lower, "volume") || strings.Contains(lower, "margin"):
		return CommandErrorBroker
	default:
		return CommandErrorOther
	}
}

// EA Connection Metrics
var (
	// Connected EA terminals
	ConnectedEAs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebridge_connected_eas",
		Help: "Number of EA terminals currently in CONNECTED state",
	})

	// Connection health score per account
	ConnectionHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradebridge_connection_health",
		Help: "Connection health score (0-100) by account",
	}, []string{"account"})

	// Heartbeats received
	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_heartbeats_total",
		Help: "Total number of EA heartbeats received",
	})

	// Authentication failures
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_auth_failures_total",
		Help: "Total number of rejected EA authentication attempts",
	})

	// Reconnects
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_ea_reconnects_total",
		Help: "Total number of EA reconnections",
	})

	// EA log lines accepted
	EALogLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_ea_log_lines_total",
		Help: "Total number of EA log lines accepted by level",
	}, []string{"level"})

	// EA log lines dropped by the rate limiter
	EALogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_ea_log_dropped_total",
		Help: "Total number of EA log lines dropped by the per-account rate limit",
	})
)

// Command Queue Metrics
var (
	// Commands enqueued
	CommandsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_commands_enqueued_total",
		Help: "Total number of commands enqueued by type and priority",
	}, []string{"type", "priority"})

	// Commands finished (terminal states)
	CommandsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_commands_completed_total",
		Help: "Total number of commands reaching a terminal state by type and status",
	}, []string{"type", "status"})

	// Command round-trip latency (enqueue to response)
	CommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradebridge_command_latency_ms",
		Help:    "Command round-trip latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	}, []string{"type"})

	// Command retries
	CommandRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_command_retries_total",
		Help: "Total number of command redeliveries after timeout",
	})

	// Command errors by category
	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_command_errors_total",
		Help: "Total number of command failures by normalized error category",
	}, []string{"category"})

	// Pending commands across all accounts
	CommandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebridge_command_queue_depth",
		Help: "Number of commands currently pending across all accounts",
	})
)

// Market Data Metrics
var (
	// Ticks received
	TicksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_ticks_received_total",
		Help: "Total number of ticks received by symbol",
	}, []string{"symbol"})

	// Tick batches
	TickBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_tick_batches_total",
		Help: "Total number of tick batches received",
	})

	// Ticks rejected
	TicksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_ticks_dropped_total",
		Help: "Total number of ticks dropped by reason",
	}, []string{"reason"})

	// Tick flush duration
	TickFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradebridge_tick_flush_duration_ms",
		Help:    "Tick buffer flush duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	// OHLC bars stored
	OHLCBarsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_ohlc_bars_inserted_total",
		Help: "Total number of OHLC bars inserted by timeframe",
	}, []string{"timeframe"})

	// Current spread by symbol
	CurrentSpread = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradebridge_current_spread",
		Help: "Most recent spread by symbol, in quote units",
	}, []string{"symbol"})
)

// Signal Engine Metrics
var (
	// Evaluations run
	SignalEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_signal_evaluations_total",
		Help: "Total number of signal pipeline evaluations by timeframe",
	}, []string{"timeframe"})

	// Signals generated
	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_signals_generated_total",
		Help: "Total number of signals generated by type",
	}, []string{"type"})

	// Signals dropped
	SignalsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_signals_dropped_total",
		Help: "Total number of candidate signals dropped by reason",
	}, []string{"reason"})

	// Pipeline duration
	SignalGenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradebridge_signal_generation_duration_ms",
		Help:    "Signal pipeline evaluation duration in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
	})

	// Indicator cache
	IndicatorCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_indicator_cache_hits_total",
		Help: "Total number of indicator cache hits",
	})

	IndicatorCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_indicator_cache_misses_total",
		Help: "Total number of indicator cache misses",
	})
)

// Auto-Trader Metrics
var (
	// Gate failures by step
	GateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_gate_failures_total",
		Help: "Total number of auto-trade gate failures by gating step",
	}, []string{"step"})

	// Auto-trades emitted
	AutotradesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_autotrades_emitted_total",
		Help: "Total number of OPEN_TRADE commands emitted by the auto-trader",
	})
)

// Position Manager Metrics
var (
	// Open positions
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebridge_open_positions",
		Help: "Number of currently open positions",
	})

	// Open volume by symbol
	OpenVolumeBySymbol = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradebridge_open_volume_by_symbol",
		Help: "Open volume in lots by symbol",
	}, []string{"symbol"})

	// Trailing stop moves
	TrailingMoves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_trailing_moves_total",
		Help: "Total number of trailing stop adjustments emitted",
	})

	// TP extensions
	TPExtensions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_tp_extensions_total",
		Help: "Total number of dynamic take-profit extensions emitted",
	})

	// Partial closes
	PartialCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_partial_closes_total",
		Help: "Total number of partial close commands emitted",
	})

	// Total trades
	TotalTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_trades_total",
		Help: "Total number of trades recorded as closed",
	})

	// Winning trades value
	WinningTradesValue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_winning_trades_value",
		Help: "Total value of winning trades in account currency",
	})

	// Losing trades value
	LosingTradesValue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_losing_trades_value",
		Help: "Total value (absolute) of losing trades in account currency",
	})
)

// Trading Performance Metrics (updated from the database)
var (
	// Total P&L
	TotalProfit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebridge_total_profit",
		Help: "Total realized profit and loss in account currency",
	})

	// Today's P&L
	ProfitToday = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebridge_profit_today",
		Help: "Realized profit and loss for the current UTC day",
	})

	// Win rate (0.0 to 1.0)
	WinRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebridge_win_rate",
		Help: "Win rate as a ratio (0.0 to 1.0)",
	})

	// Current drawdown
	CurrentDrawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebridge_current_drawdown",
		Help: "Current drawdown as a ratio (0.0 to 1.0)",
	})

	// Average realized risk/reward
	RiskRewardRealized = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebridge_risk_reward_realized",
		Help: "Average realized risk/reward ratio over closed trades",
	})
)

// Risk Worker Metrics
var (
	// Circuit breaker status (1 = tripped, 0 = inactive)
	CircuitBreakerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradebridge_circuit_breaker_status",
		Help: "Circuit breaker status (1 = active/tripped, 0 = inactive)",
	}, []string{"breaker_type"})

	// Circuit breaker trips
	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips",
	}, []string{"breaker_type", "reason"})

	// Emergency closes
	EmergencyCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_emergency_closes_total",
		Help: "Total number of emergency close commands emitted",
	})

	// Symbol pauses
	SymbolPauses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_symbol_pauses_total",
		Help: "Total number of symbol trading pauses by reason",
	}, []string{"reason"})

	// Worker runs
	WorkerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_worker_runs_total",
		Help: "Total number of protection worker runs by worker",
	}, []string{"worker"})

	// Worker run duration
	WorkerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradebridge_worker_duration_ms",
		Help:    "Protection worker run duration in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"worker"})
)

// System Health Metrics
var (
	// Database connections
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebridge_database_connections_active",
		Help: "Number of active database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebridge_database_connections_idle",
		Help: "Number of idle database connections",
	})

	// Database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradebridge_database_query_duration_ms",
		Help:    "Database query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"query_type"})

	// Redis cache hit rate
	RedisCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebridge_redis_cache_hit_rate",
		Help: "Redis cache hit rate as a ratio (0.0 to 1.0)",
	})

	// Redis operations
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_redis_operations_total",
		Help: "Total number of Redis operations by type",
	}, []string{"operation"})

	// API request duration
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradebridge_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method", "path", "status_code"})

	// HTTP requests
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	// Errors
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_errors_total",
		Help: "Total number of errors by type",
	}, []string{"type", "component"})

	// NATS messages
	NATSMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_nats_messages_published_total",
		Help: "Total number of NATS messages published",
	})

	NATSMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_nats_messages_received_total",
		Help: "Total number of NATS messages received",
	})
)

// Decision Log Metrics
var (
	// Decision log operations
	DecisionLogOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_decision_log_operations_total",
		Help: "Total number of decision log operations by decision type and status",
	}, []string{"decision_type", "status"})

	// Decision log failures
	DecisionLogFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_decision_log_failures_total",
		Help: "Total number of decision log failures by error type",
	}, []string{"error_type", "decision_type"})

	// Decision log latency
	DecisionLogLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradebridge_decision_log_latency_ms",
		Help:    "Decision log operation latency in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})
)

// Operator Surface Metrics
var (
	// Connected WebSocket clients
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebridge_ws_clients",
		Help: "Number of connected WebSocket clients",
	})

	// WebSocket broadcasts
	WSBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_ws_broadcasts_total",
		Help: "Total number of WebSocket broadcast messages",
	})

	// Alerts sent
	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebridge_alerts_sent_total",
		Help: "Total number of operator alerts sent by severity",
	}, []string{"severity"})

	// Alerts dropped by the rate limiter
	AlertsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebridge_alerts_dropped_total",
		Help: "Total number of operator alerts dropped by rate limiting",
	})
)

// Helper functions to update metrics

// UpdateDatabaseConnections updates database connection metrics
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordAPIRequest records an API request with duration
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// RecordDatabaseQuery records a database query
func RecordDatabaseQuery(queryType string, durationMs float64) {
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(durationMs)
}

// RecordRedisOperation records a Redis operation
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// UpdateConnectedEAs sets the connected terminal count
func UpdateConnectedEAs(count int) {
	ConnectedEAs.Set(float64(count))
}

// UpdateConnectionHealth sets the health score gauge for one account
func UpdateConnectionHealth(account string, health int) {
	ConnectionHealth.WithLabelValues(account).Set(float64(health))
}

// RecordHeartbeat records one EA heartbeat
func RecordHeartbeat() {
	Heartbeats.Inc()
}

// RecordAuthFailure records a rejected authentication attempt
func RecordAuthFailure() {
	AuthFailures.Inc()
}

// RecordReconnect records an EA reconnection
func RecordReconnect() {
	Reconnects.Inc()
}

// RecordEALogLine records an accepted EA log line
func RecordEALogLine(level string) {
	EALogLines.WithLabelValues(level).Inc()
}

// RecordEALogDropped records a rate-limited EA log line
func RecordEALogDropped() {
	EALogDropped.Inc()
}

// RecordCommandEnqueued records a command entering the queue
func RecordCommandEnqueued(commandType, priority string) {
	CommandsEnqueued.WithLabelValues(commandType, priority).Inc()
}

// RecordCommandCompleted records a command reaching a terminal state
func RecordCommandCompleted(commandType, status string, latencyMs float64) {
	CommandsCompleted.WithLabelValues(commandType, status).Inc()
	if latencyMs > 0 {
		CommandLatency.WithLabelValues(commandType).Observe(latencyMs)
	}
}

// RecordCommandRetry records a command redelivery
func RecordCommandRetry() {
	CommandRetries.Inc()
}

// RecordCommandError records a command failure with normalized category
func RecordCommandError(errText string) {
	CommandErrors.WithLabelValues(NormalizeCommandError(errText)).Inc()
}

// UpdateCommandQueueDepth sets the pending command count
func UpdateCommandQueueDepth(depth int) {
	CommandQueueDepth.Set(float64(depth))
}

// RecordTickBatch records one tick batch and its per-symbol tick counts
func RecordTickBatch(symbolCounts map[string]int) {
	TickBatches.Inc()
	for symbol, count := range symbolCounts {
		TicksReceived.WithLabelValues(symbol).Add(float64(count))
	}
}

// RecordTicksDropped records dropped ticks
func RecordTicksDropped(reason string, count int) {
	TicksDropped.WithLabelValues(reason).Add(float64(count))
}

// RecordTickFlush records a tick buffer flush
func RecordTickFlush(durationMs float64) {
	TickFlushDuration.Observe(durationMs)
}

// RecordOHLCInserted records stored OHLC bars
func RecordOHLCInserted(timeframe string, count int) {
	OHLCBarsInserted.WithLabelValues(timeframe).Add(float64(count))
}

// UpdateSpread sets the latest observed spread for a symbol
func UpdateSpread(symbol string, spread float64) {
	CurrentSpread.WithLabelValues(symbol).Set(spread)
}

// RecordSignalEvaluation records one pipeline run
func RecordSignalEvaluation(timeframe string, durationMs float64) {
	SignalEvaluations.WithLabelValues(timeframe).Inc()
	SignalGenerationDuration.Observe(durationMs)
}

// RecordSignalGenerated records an emitted signal
func RecordSignalGenerated(signalType string) {
	SignalsGenerated.WithLabelValues(signalType).Inc()
}

// RecordSignalDropped records a dropped candidate signal
func RecordSignalDropped(reason string) {
	SignalsDropped.WithLabelValues(reason).Inc()
}

// RecordIndicatorCache records an indicator cache lookup
func RecordIndicatorCache(hit bool) {
	if hit {
		IndicatorCacheHits.Inc()
	} else {
		IndicatorCacheMisses.Inc()
	}
}

// RecordGateFailure records an auto-trade gate failure
func RecordGateFailure(step string) {
	GateFailures.WithLabelValues(step).Inc()
}

// RecordAutotradeEmitted records an OPEN_TRADE command emitted by the auto-trader
func RecordAutotradeEmitted() {
	AutotradesEmitted.Inc()
}

// RecordTrailingMove records a trailing stop adjustment
func RecordTrailingMove() {
	TrailingMoves.Inc()
}

// RecordTPExtension records a take-profit extension
func RecordTPExtension() {
	TPExtensions.Inc()
}

// RecordPartialClose records a partial close command
func RecordPartialClose() {
	PartialCloses.Inc()
}

// RecordTrade records a completed trade
func RecordTrade(profit float64) {
	TotalTrades.Inc()
	if profit > 0 {
		WinningTradesValue.Add(profit)
	} else {
		LosingTradesValue.Add(-profit) // Store absolute value
	}
}

// UpdateOpenVolume updates open volume for a symbol
func UpdateOpenVolume(symbol string, lots float64) {
	OpenVolumeBySymbol.WithLabelValues(symbol).Set(lots)
}

// UpdateCircuitBreaker updates circuit breaker status
func UpdateCircuitBreaker(breakerType string, active bool) {
	status := 0.0
	if active {
		status = 1.0
	}
	CircuitBreakerStatus.WithLabelValues(breakerType).Set(status)
}

// RecordCircuitBreakerTrip records a circuit breaker trip with normalized reason
func RecordCircuitBreakerTrip(breakerType, reason string) {
	normalizedReason := NormalizeBreakerReason(reason)
	CircuitBreakerTrips.WithLabelValues(breakerType, normalizedReason).Inc()
}

// RecordEmergencyClose records an emergency close command
func RecordEmergencyClose() {
	EmergencyCloses.Inc()
}

// RecordSymbolPause records a symbol trading pause
func RecordSymbolPause(reason string) {
	SymbolPauses.WithLabelValues(reason).Inc()
}

// RecordWorkerRun records a protection worker run
func RecordWorkerRun(worker string, durationMs float64) {
	WorkerRuns.WithLabelValues(worker).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(durationMs)
}

// RecordDecisionLog records a decision log operation
func RecordDecisionLog(decisionType string, success bool, durationMs float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	DecisionLogOperations.WithLabelValues(decisionType, status).Inc()
	DecisionLogLatency.Observe(durationMs)
}

// RecordDecisionLogFailure records a decision log failure with error type
func RecordDecisionLogFailure(errorType, decisionType string) {
	DecisionLogFailures.WithLabelValues(errorType, decisionType).Inc()
}

// UpdateWSClients sets the connected WebSocket client count
func UpdateWSClients(count int) {
	WSClients.Set(float64(count))
}

// RecordWSBroadcast records one WebSocket broadcast
func RecordWSBroadcast() {
	WSBroadcasts.Inc()
}

// RecordAlertSent records an operator alert delivery
func RecordAlertSent(severity string) {
	AlertsSent.WithLabelValues(severity).Inc()
}

// RecordAlertDropped records an alert suppressed by rate limiting
func RecordAlertDropped() {
	AlertsDropped.Inc()
}
