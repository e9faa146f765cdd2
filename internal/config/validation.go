package config

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateBridge()...)
	errors = append(errors, c.validateTicks()...)
	errors = append(errors, c.validateEngine()...)
	errors = append(errors, c.validateTelegram()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	switch c.App.Environment {
	case "development", "staging", "production":
	default:
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("must be development, staging, or production (got %q)", c.App.Environment),
		})
	}

	switch c.App.LogFormat {
	case "json", "console":
	default:
		errors = append(errors, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("must be json or console (got %q)", c.App.LogFormat),
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{Field: "database.host", Message: "cannot be empty"})
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("must be between 1 and 65535 (got %d)", c.Database.Port),
		})
	}
	if c.Database.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: fmt.Sprintf("must be at least 1 (got %d)", c.Database.PoolSize),
		})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{Field: "redis.host", Message: "cannot be empty"})
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("must be between 1 and 65535 (got %d)", c.Redis.Port),
		})
	}

	return errors
}

func (c *Config) validateBridge() ValidationErrors {
	var errors ValidationErrors

	ports := []struct {
		field string
		port  int
	}{
		{"bridge.control_port", c.Bridge.ControlPort},
		{"bridge.tick_port", c.Bridge.TickPort},
		{"bridge.trade_port", c.Bridge.TradePort},
		{"bridge.log_port", c.Bridge.LogPort},
		{"bridge.ops_port", c.Bridge.OpsPort},
	}
	seen := make(map[int]string, len(ports))
	for _, p := range ports {
		if p.port < 1 || p.port > 65535 {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Message: fmt.Sprintf("must be between 1 and 65535 (got %d)", p.port),
			})
			continue
		}
		if other, dup := seen[p.port]; dup {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Message: fmt.Sprintf("port %d already assigned to %s", p.port, other),
			})
		}
		seen[p.port] = p.field
	}

	if c.Bridge.HeartbeatIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "bridge.heartbeat_interval_seconds",
			Message: fmt.Sprintf("must be at least 1 (got %d)", c.Bridge.HeartbeatIntervalSeconds),
		})
	}
	if c.Bridge.HeartbeatTimeoutSeconds <= c.Bridge.HeartbeatIntervalSeconds {
		errors = append(errors, ValidationError{
			Field:   "bridge.heartbeat_timeout_seconds",
			Message: "must exceed the heartbeat interval",
		})
	}
	if c.Bridge.MaxCommandsPerPoll < 1 {
		errors = append(errors, ValidationError{
			Field:   "bridge.max_commands_per_poll",
			Message: fmt.Sprintf("must be at least 1 (got %d)", c.Bridge.MaxCommandsPerPoll),
		})
	}
	if c.Bridge.MinEAVersion != "" {
		if _, err := semver.NewVersion(c.Bridge.MinEAVersion); err != nil {
			errors = append(errors, ValidationError{
				Field:   "bridge.min_ea_version",
				Message: fmt.Sprintf("not a valid semantic version: %v", err),
			})
		}
	}

	return errors
}

func (c *Config) validateTicks() ValidationErrors {
	var errors ValidationErrors

	if c.Ticks.RingCapacity < 1 {
		errors = append(errors, ValidationError{
			Field:   "ticks.ring_capacity",
			Message: fmt.Sprintf("must be at least 1 (got %d)", c.Ticks.RingCapacity),
		})
	}
	if c.Ticks.FlushThreshold > c.Ticks.RingCapacity {
		errors = append(errors, ValidationError{
			Field:   "ticks.flush_threshold",
			Message: "cannot exceed ring capacity",
		})
	}
	if c.Ticks.FlushSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "ticks.flush_seconds",
			Message: fmt.Sprintf("must be at least 1 (got %d)", c.Ticks.FlushSeconds),
		})
	}

	return errors
}

func (c *Config) validateEngine() ValidationErrors {
	var errors ValidationErrors

	validTimeframes := map[string]bool{
		"M1": true, "M5": true, "M15": true, "M30": true,
		"H1": true, "H4": true, "D1": true, "W1": true, "MN1": true,
	}
	for _, tf := range c.Engine.Timeframes {
		if !validTimeframes[tf] {
			errors = append(errors, ValidationError{
				Field:   "engine.timeframes",
				Message: fmt.Sprintf("unknown timeframe %q", tf),
			})
		}
	}
	if c.Engine.MTFConfluenceEnabled && !validTimeframes[c.Engine.ConfluenceTimeframe] {
		errors = append(errors, ValidationError{
			Field:   "engine.confluence_timeframe",
			Message: fmt.Sprintf("unknown timeframe %q", c.Engine.ConfluenceTimeframe),
		})
	}
	if c.Engine.MinGenerationConfidence < 0 || c.Engine.MinGenerationConfidence > 100 {
		errors = append(errors, ValidationError{
			Field:   "engine.min_generation_confidence",
			Message: fmt.Sprintf("must be within [0,100] (got %.1f)", c.Engine.MinGenerationConfidence),
		})
	}

	return errors
}

func (c *Config) validateTelegram() ValidationErrors {
	var errors ValidationErrors

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			errors = append(errors, ValidationError{
				Field:   "telegram.bot_token",
				Message: "required when telegram alerts are enabled",
			})
		}
		if len(c.Telegram.ChatIDs) == 0 {
			errors = append(errors, ValidationError{
				Field:   "telegram.chat_ids",
				Message: "at least one chat id required when telegram alerts are enabled",
			})
		}
	}

	return errors
}
