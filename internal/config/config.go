package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Ticks      TickConfig       `mapstructure:"ticks"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Rules      RulesConfig      `mapstructure:"rules"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// BridgeConfig contains the EA-facing listener and protocol settings.
// Each logical channel gets its own port; see ports.go for the canonical
// assignments.
type BridgeConfig struct {
	Host                     string `mapstructure:"host"`
	ControlPort              int    `mapstructure:"control_port"`
	TickPort                 int    `mapstructure:"tick_port"`
	TradePort                int    `mapstructure:"trade_port"`
	LogPort                  int    `mapstructure:"log_port"`
	OpsPort                  int    `mapstructure:"ops_port"`
	HeartbeatIntervalSeconds int    `mapstructure:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int    `mapstructure:"heartbeat_timeout_seconds"`
	CommandPollIntervalMS    int    `mapstructure:"command_poll_interval_ms"`
	MaxCommandsPerPoll       int    `mapstructure:"max_commands_per_poll"`
	MinEAVersion             string `mapstructure:"min_ea_version"` // semver; empty disables the gate
	IdleConnectionMinutes    int    `mapstructure:"idle_connection_minutes"`
	LogLinesPerSecond        int    `mapstructure:"log_lines_per_second"` // per-account EA log rate limit
}

// AuthConfig contains EA authentication settings
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// TickConfig contains tick ingestion settings
type TickConfig struct {
	RingCapacity   int `mapstructure:"ring_capacity"`
	FlushThreshold int `mapstructure:"flush_threshold"`
	FlushSeconds   int `mapstructure:"flush_seconds"`
}

// EngineConfig contains signal engine settings
type EngineConfig struct {
	Timeframes              []string `mapstructure:"timeframes"`
	EvalThrottleSeconds     int      `mapstructure:"eval_throttle_seconds"`
	BarsLookback            int      `mapstructure:"bars_lookback"`
	MTFConfluenceEnabled    bool     `mapstructure:"mtf_confluence_enabled"`
	ConfluenceTimeframe     string   `mapstructure:"confluence_timeframe"`
	MinGenerationConfidence float64  `mapstructure:"min_generation_confidence"`
}

// TelegramConfig contains operator alerting settings
type TelegramConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	BotToken         string  `mapstructure:"bot_token"`
	ChatIDs          []int64 `mapstructure:"chat_ids"`
	AlertsPerMinute  int     `mapstructure:"alerts_per_minute"`
	MinAlertSeverity string  `mapstructure:"min_alert_severity"` // INFO, WARNING, CRITICAL
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// RulesConfig points at the symbol rules file (asset classes, per-symbol
// overrides, correlation groups, ensemble weights).
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("TRADEBRIDGE")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "TradeBridge")
	v.SetDefault("app.version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "tradebridge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.prefix", "bridge.")

	// Bridge defaults
	v.SetDefault("bridge.host", "0.0.0.0")
	v.SetDefault("bridge.control_port", ControlPort)
	v.SetDefault("bridge.tick_port", TickPort)
	v.SetDefault("bridge.trade_port", TradePort)
	v.SetDefault("bridge.log_port", LogPort)
	v.SetDefault("bridge.ops_port", OpsPort)
	v.SetDefault("bridge.heartbeat_interval_seconds", 10)
	v.SetDefault("bridge.heartbeat_timeout_seconds", 30)
	v.SetDefault("bridge.command_poll_interval_ms", 500)
	v.SetDefault("bridge.max_commands_per_poll", 10)
	v.SetDefault("bridge.min_ea_version", "")
	v.SetDefault("bridge.idle_connection_minutes", 30)
	v.SetDefault("bridge.log_lines_per_second", 20)

	// Tick ingestion defaults
	v.SetDefault("ticks.ring_capacity", 4096)
	v.SetDefault("ticks.flush_threshold", 1000)
	v.SetDefault("ticks.flush_seconds", 1)

	// Engine defaults
	v.SetDefault("engine.timeframes", []string{"M15", "H1"})
	v.SetDefault("engine.eval_throttle_seconds", 5)
	v.SetDefault("engine.bars_lookback", 300)
	v.SetDefault("engine.mtf_confluence_enabled", true)
	v.SetDefault("engine.confluence_timeframe", "H4")
	v.SetDefault("engine.min_generation_confidence", 50.0)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.alerts_per_minute", 20)
	v.SetDefault("telegram.min_alert_severity", "WARNING")

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", true)

	// Rules defaults
	v.SetDefault("rules.path", "./configs/symbol_rules.yaml")
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HeartbeatInterval returns the EA heartbeat cadence as a Duration
func (c *BridgeConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// HeartbeatTimeout returns the staleness cutoff for connection health
func (c *BridgeConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

// IdleTimeout returns how long an idle connection survives before eviction
func (c *BridgeConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleConnectionMinutes) * time.Minute
}

// Addr formats host:port for one of the bridge listeners
func (c *BridgeConfig) Addr(port int) string {
	return fmt.Sprintf("%s:%d", c.Host, port)
}
