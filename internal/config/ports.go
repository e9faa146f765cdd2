// Package config provides configuration management for TradeBridge.
// This file centralizes all port constants to avoid duplication and ensure
// consistency between the server, the EA installer templates, and ops tooling.
package config

// ============================================================================
// CENTRALIZED PORT CONFIGURATION
// ============================================================================
//
// The bridge listens on several TCP ports, one per logical EA channel. The
// split keeps high-volume tick traffic from head-of-line-blocking the
// command/control channel the EA polls on.
//
// Port Allocation Strategy:
//   9900-9904: EA-facing channels
//   9905:      operator surface (health, metrics, system status, WebSocket)
//
// ============================================================================

// EA-facing channel ports
const (
	// ControlPort carries connect/disconnect, heartbeats, command polling,
	// and command responses.
	ControlPort = 9900

	// TickPort carries tick batches and OHLC history uploads.
	TickPort = 9901

	// TradePort carries authoritative position syncs and single-trade updates.
	TradePort = 9902

	// LogPort carries EA-side log lines.
	LogPort = 9903

	// OpsPort carries the operator surface: health, metrics, system status,
	// settings, and the live WebSocket event stream.
	OpsPort = 9905
)

// Infrastructure service ports
const (
	// PostgresPort is the default port for PostgreSQL.
	PostgresPort = 5432

	// RedisPort is the default port for Redis.
	RedisPort = 6379

	// NATSPort is the default port for NATS messaging.
	NATSPort = 4222
)

// ChannelPorts maps logical channel names to their default ports. Useful for
// status output and the EA installer template.
var ChannelPorts = map[string]int{
	"control": ControlPort,
	"ticks":   TickPort,
	"trades":  TradePort,
	"logs":    LogPort,
	"ops":     OpsPort,
}

// GetChannelPort returns the default port for a logical channel name.
// Returns 0 if the channel is not known.
func GetChannelPort(channel string) int {
	if port, ok := ChannelPorts[channel]; ok {
		return port
	}
	return 0
}
