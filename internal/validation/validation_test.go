package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_Required(t *testing.T) {
	v := NewValidator()

	v.Required("field", "")
	assert.True(t, v.HasErrors())
	assert.Equal(t, "field", v.Errors()[0].Field)
	assert.Contains(t, v.Errors()[0].Message, "required")

	v = NewValidator()
	v.Required("field", "  ")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.Required("field", "value")
	assert.False(t, v.HasErrors())
}

func TestValidator_OneOf(t *testing.T) {
	v := NewValidator()

	v.OneOf("field", "BUY", []string{"BUY", "SELL"})
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.OneOf("field", "HOLD", []string{"BUY", "SELL"})
	assert.True(t, v.HasErrors())
	assert.Contains(t, v.Errors()[0].Message, "must be one of")
}

func TestValidator_Symbol(t *testing.T) {
	valid := []string{"EURUSD", "XAUUSD", "BTCUSD", "US30", "EURUSD.m", "XAUUSD_i", "GER40#", "eurusd"}
	for _, s := range valid {
		v := NewValidator()
		v.Symbol("symbol", s)
		assert.False(t, v.HasErrors(), "expected %q to be valid", s)
	}

	invalid := []string{"", "EU", "EUR/USD", "EURUSD!!", "THIS_SYMBOL_IS_WAY_TOO_LONG_FOR_ANY_BROKER"}
	for _, s := range invalid {
		v := NewValidator()
		v.Symbol("symbol", s)
		assert.True(t, v.HasErrors(), "expected %q to be invalid", s)
	}
}

func TestValidator_Timeframe(t *testing.T) {
	for _, tf := range []string{"M1", "M5", "M15", "M30", "H1", "H4", "D1", "W1", "MN1", "h1"} {
		v := NewValidator()
		v.Timeframe("timeframe", tf)
		assert.False(t, v.HasErrors(), "expected %q to be valid", tf)
	}

	v := NewValidator()
	v.Timeframe("timeframe", "H2")
	assert.True(t, v.HasErrors())
}

func TestValidator_Direction(t *testing.T) {
	v := NewValidator()
	v.Direction("direction", "BUY")
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.Direction("direction", "buy")
	assert.True(t, v.HasErrors())
}

func TestValidator_UUID(t *testing.T) {
	v := NewValidator()
	v.UUID("command_id", "b3e1c9a4-8f4e-4f7b-9a64-2f9c1c6a7d21")
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.UUID("command_id", "not-a-uuid")
	assert.True(t, v.HasErrors())
}

func TestConnectValidator(t *testing.T) {
	v := NewConnectValidator()
	v.ValidateAPIKey("ea-key-0123456789abcdef")
	v.ValidateAccountNumber(1234567)
	v.ValidateBroker("IC Markets")
	assert.False(t, v.HasErrors())

	v = NewConnectValidator()
	v.ValidateAPIKey("short")
	assert.True(t, v.HasErrors())

	v = NewConnectValidator()
	v.ValidateAccountNumber(0)
	assert.True(t, v.HasErrors())

	v = NewConnectValidator()
	v.ValidateBroker("")
	assert.True(t, v.HasErrors())
}

func TestCommandValidator_Type(t *testing.T) {
	for _, ct := range []string{"OPEN_TRADE", "MODIFY_TRADE", "CLOSE_TRADE", "CLOSE_ALL", "REQUEST_HISTORICAL_DATA", "GET_ACCOUNT_INFO", "PING"} {
		v := NewCommandValidator()
		v.ValidateType(ct)
		assert.False(t, v.HasErrors(), "expected %q to be valid", ct)
	}

	v := NewCommandValidator()
	v.ValidateType("DELETE_ACCOUNT")
	assert.True(t, v.HasErrors())
}

func TestCommandValidator_Priority(t *testing.T) {
	for _, p := range []int{1, 5, 10, 99} {
		v := NewCommandValidator()
		v.ValidatePriority(p)
		assert.False(t, v.HasErrors(), "expected priority %d to be valid", p)
	}

	for _, p := range []int{0, 2, 50, 100} {
		v := NewCommandValidator()
		v.ValidatePriority(p)
		assert.True(t, v.HasErrors(), "expected priority %d to be invalid", p)
	}
}

func TestCommandValidator_Volume(t *testing.T) {
	v := NewCommandValidator()
	v.ValidateVolume(0.12)
	assert.False(t, v.HasErrors())

	v = NewCommandValidator()
	v.ValidateVolume(0)
	assert.True(t, v.HasErrors())

	v = NewCommandValidator()
	v.ValidateVolume(20000)
	assert.True(t, v.HasErrors())
}

func TestTickValidator(t *testing.T) {
	v := NewTickValidator()
	v.ValidateQuote(1.08520, 1.08536)
	assert.False(t, v.HasErrors())

	// Crossed quotes pass; the spread worker handles them downstream.
	v = NewTickValidator()
	v.ValidateQuote(1.08540, 1.08536)
	assert.False(t, v.HasErrors())

	v = NewTickValidator()
	v.ValidateQuote(0, 1.08536)
	assert.True(t, v.HasErrors())

	v = NewTickValidator()
	v.ValidateBatchSize(0, 500)
	assert.True(t, v.HasErrors())

	v = NewTickValidator()
	v.ValidateBatchSize(501, 500)
	assert.True(t, v.HasErrors())

	v = NewTickValidator()
	v.ValidateBatchSize(200, 500)
	assert.False(t, v.HasErrors())
}

func TestTradeUpdateValidator(t *testing.T) {
	v := NewTradeUpdateValidator()
	v.ValidateStatus("open")
	v.ValidateTrade(10001, 0.12, 1.08460)
	assert.False(t, v.HasErrors())

	v = NewTradeUpdateValidator()
	v.ValidateStatus("halted")
	assert.True(t, v.HasErrors())

	v = NewTradeUpdateValidator()
	v.ValidateCloseReason("")
	assert.False(t, v.HasErrors())

	v = NewTradeUpdateValidator()
	v.ValidateCloseReason("SYNC_RECONCILIATION")
	assert.False(t, v.HasErrors())

	v = NewTradeUpdateValidator()
	v.ValidateCloseReason("BECAUSE")
	assert.True(t, v.HasErrors())

	v = NewTradeUpdateValidator()
	v.ValidateTrade(0, 0.12, 1.08460)
	assert.True(t, v.HasErrors())
}

func TestOHLCValidator(t *testing.T) {
	v := NewOHLCValidator()
	v.ValidateBar(1.0850, 1.0870, 1.0840, 1.0860)
	assert.False(t, v.HasErrors())

	v = NewOHLCValidator()
	v.ValidateBar(1.0850, 1.0845, 1.0840, 1.0860) // high below close
	assert.True(t, v.HasErrors())

	v = NewOHLCValidator()
	v.ValidateBar(1.0850, 1.0870, 1.0855, 1.0860) // low above open
	assert.True(t, v.HasErrors())

	v = NewOHLCValidator()
	v.ValidateBar(0, 1.0870, 1.0840, 1.0860)
	assert.True(t, v.HasErrors())
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{}
	assert.Equal(t, "", errs.Error())

	errs = ValidationErrors{{Field: "a", Message: "bad"}}
	assert.Equal(t, "a: bad", errs.Error())

	errs = append(errs, ValidationError{Field: "b", Message: "worse"})
	assert.Contains(t, errs.Error(), "validation errors:")
	assert.Contains(t, errs.Error(), "a: bad")
	assert.Contains(t, errs.Error(), "b: worse")
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "hello", SanitizeInput("  hello  "))
	assert.Equal(t, "ab", SanitizeInput("a\x00b"))

	long := make([]byte, 20000)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, SanitizeInput(string(long)), 10000)
}

func TestSanitizeSymbol(t *testing.T) {
	assert.Equal(t, "EURUSD", SanitizeSymbol("eurusd"))
	assert.Equal(t, "XAUUSD.M", SanitizeSymbol(" xauusd.m "))
	assert.Equal(t, "EURUSD", SanitizeSymbol("EUR USD"))
}
