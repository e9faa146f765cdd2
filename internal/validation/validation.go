// Package validation provides input validation for EA-facing payloads.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator provides validation utilities
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// Errors returns all validation errors
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Required validates that a string is not empty
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
}

// MinLength validates minimum string length
func (v *Validator) MinLength(field, value string, min int) {
	if len(value) < min {
		v.AddError(field, fmt.Sprintf("must be at least %d characters", min))
	}
}

// MaxLength validates maximum string length
func (v *Validator) MaxLength(field, value string, max int) {
	if len(value) > max {
		v.AddError(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// MinValue validates minimum numeric value
func (v *Validator) MinValue(field string, value, min float64) {
	if value < min {
		v.AddError(field, fmt.Sprintf("must be at least %v", min))
	}
}

// MaxValue validates maximum numeric value
func (v *Validator) MaxValue(field string, value, max float64) {
	if value > max {
		v.AddError(field, fmt.Sprintf("must be at most %v", max))
	}
}

// Positive validates that a number is positive
func (v *Validator) Positive(field string, value float64) {
	if value <= 0 {
		v.AddError(field, "must be positive")
	}
}

// NonNegative validates that a number is non-negative
func (v *Validator) NonNegative(field string, value float64) {
	if value < 0 {
		v.AddError(field, "must be non-negative")
	}
}

// OneOf validates that a value is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// UUID validates UUID format
func (v *Validator) UUID(field, value string) {
	if _, err := uuid.Parse(value); err != nil {
		v.AddError(field, "must be a valid UUID")
	}
}

// MT-style symbol: compact root like EURUSD or XAUUSD, optionally decorated
// with a broker suffix ("EURUSD.m", "XAUUSD_i", "GER40#").
var symbolRegex = regexp.MustCompile(`^[A-Za-z0-9]{3,12}([._#-][A-Za-z0-9]{0,8})?$`)

// Symbol validates a broker symbol name
func (v *Validator) Symbol(field, value string) {
	if !symbolRegex.MatchString(value) {
		v.AddError(field, "must be a valid broker symbol (e.g., EURUSD, XAUUSD.m)")
	}
}

// Timeframes recognized across the EA protocol and the signal engine.
var validTimeframes = []string{"M1", "M5", "M15", "M30", "H1", "H4", "D1", "W1", "MN1"}

// Timeframe validates a chart timeframe name
func (v *Validator) Timeframe(field, value string) {
	v.OneOf(field, strings.ToUpper(value), validTimeframes)
}

// Direction validates a trade direction
func (v *Validator) Direction(field, value string) {
	v.OneOf(field, value, []string{"BUY", "SELL"})
}

// ConnectValidator validates the EA connect handshake
type ConnectValidator struct {
	*Validator
}

// NewConnectValidator creates a validator for connect requests
func NewConnectValidator() *ConnectValidator {
	return &ConnectValidator{Validator: NewValidator()}
}

// ValidateAPIKey validates the EA API key field
func (v *ConnectValidator) ValidateAPIKey(apiKey string) {
	v.Required("api_key", apiKey)
	if apiKey != "" {
		v.MinLength("api_key", apiKey, 16)
		v.MaxLength("api_key", apiKey, 128)
	}
}

// ValidateAccountNumber validates the broker account number
func (v *ConnectValidator) ValidateAccountNumber(accountNumber int64) {
	if accountNumber <= 0 {
		v.AddError("account_number", "must be positive")
	}
}

// ValidateBroker validates the broker name
func (v *ConnectValidator) ValidateBroker(broker string) {
	v.Required("broker", broker)
	if broker != "" {
		v.MaxLength("broker", broker, 100)
	}
}

// CommandValidator validates command enqueue requests
type CommandValidator struct {
	*Validator
}

// NewCommandValidator creates a validator for commands
func NewCommandValidator() *CommandValidator {
	return &CommandValidator{Validator: NewValidator()}
}

// ValidateType validates the command type
func (v *CommandValidator) ValidateType(commandType string) {
	v.Required("type", commandType)
	if v.HasErrors() {
		return
	}
	v.OneOf("type", commandType, []string{
		"OPEN_TRADE", "MODIFY_TRADE", "CLOSE_TRADE", "CLOSE_ALL",
		"REQUEST_HISTORICAL_DATA", "GET_ACCOUNT_INFO", "PING",
	})
}

// ValidatePriority validates the command priority level
func (v *CommandValidator) ValidatePriority(priority int) {
	switch priority {
	case 1, 5, 10, 99: // LOW, NORMAL, HIGH, CRITICAL
	default:
		v.AddError("priority", "must be one of: 1 (LOW), 5 (NORMAL), 10 (HIGH), 99 (CRITICAL)")
	}
}

// ValidateVolume validates an order volume in lots
func (v *CommandValidator) ValidateVolume(volume float64) {
	v.Positive("volume", volume)
	v.MaxValue("volume", volume, 10000)
}

// ValidateTicket validates a broker ticket reference
func (v *CommandValidator) ValidateTicket(ticket int64) {
	if ticket <= 0 {
		v.AddError("ticket", "must be positive")
	}
}

// TickValidator validates tick batch entries
type TickValidator struct {
	*Validator
}

// NewTickValidator creates a validator for tick payloads
func NewTickValidator() *TickValidator {
	return &TickValidator{Validator: NewValidator()}
}

// ValidateQuote validates one bid/ask pair. Crossed quotes (bid > ask) occur
// on thin books and are accepted; only non-positive prices are rejected.
func (v *TickValidator) ValidateQuote(bid, ask float64) {
	v.Positive("bid", bid)
	v.Positive("ask", ask)
}

// ValidateBatchSize bounds a tick batch
func (v *TickValidator) ValidateBatchSize(size, max int) {
	if size == 0 {
		v.AddError("ticks", "batch cannot be empty")
	}
	if size > max {
		v.AddError("ticks", fmt.Sprintf("batch exceeds maximum of %d entries", max))
	}
}

// TradeUpdateValidator validates EA trade update payloads
type TradeUpdateValidator struct {
	*Validator
}

// NewTradeUpdateValidator creates a validator for trade updates
func NewTradeUpdateValidator() *TradeUpdateValidator {
	return &TradeUpdateValidator{Validator: NewValidator()}
}

// ValidateStatus validates the reported trade status
func (v *TradeUpdateValidator) ValidateStatus(status string) {
	v.Required("status", status)
	if v.HasErrors() {
		return
	}
	v.OneOf("status", status, []string{"open", "closed", "pending", "cancelled"})
}

// ValidateCloseReason validates the reported close reason when present
func (v *TradeUpdateValidator) ValidateCloseReason(reason string) {
	if reason == "" {
		return
	}
	v.OneOf("close_reason", reason, []string{
		"TP_HIT", "SL_HIT", "TRAILING_STOP", "TIME_EXIT", "STRATEGY_INVALID",
		"EMERGENCY_CLOSE", "SYNC_RECONCILIATION", "MANUAL", "UNKNOWN",
	})
}

// ValidateTrade validates the core numeric fields of a trade update
func (v *TradeUpdateValidator) ValidateTrade(ticket int64, volume, openPrice float64) {
	if ticket <= 0 {
		v.AddError("ticket", "must be positive")
	}
	v.Positive("volume", volume)
	v.Positive("open_price", openPrice)
}

// OHLCValidator validates historical bar uploads
type OHLCValidator struct {
	*Validator
}

// NewOHLCValidator creates a validator for OHLC bars
func NewOHLCValidator() *OHLCValidator {
	return &OHLCValidator{Validator: NewValidator()}
}

// ValidateBar checks OHLC ordering: high is the maximum and low the minimum
// of the four prices.
func (v *OHLCValidator) ValidateBar(open, high, low, closePrice float64) {
	v.Positive("open", open)
	v.Positive("high", high)
	v.Positive("low", low)
	v.Positive("close", closePrice)
	if v.HasErrors() {
		return
	}
	if high < open || high < closePrice || high < low {
		v.AddError("high", "must be the highest of open/high/low/close")
	}
	if low > open || low > closePrice {
		v.AddError("low", "must be the lowest of open/high/low/close")
	}
}

// SanitizeInput sanitizes user input to prevent injection attacks
func SanitizeInput(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Trim whitespace
	input = strings.TrimSpace(input)

	// Limit length to prevent DoS
	if len(input) > 10000 {
		input = input[:10000]
	}

	return input
}

// SanitizeSymbol normalizes a broker symbol for storage: uppercase, no
// whitespace. Broker suffix decoration is preserved; class resolution strips
// it later.
func SanitizeSymbol(symbol string) string {
	symbol = strings.ToUpper(symbol)
	symbol = strings.ReplaceAll(symbol, " ", "")
	return symbol
}
