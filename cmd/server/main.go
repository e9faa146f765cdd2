// TradeBridge server: the EA-facing bridge, signal engine, auto-trader and
// risk workers in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdsignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradebridge/internal/alerts"
	"github.com/ajitpratap0/tradebridge/internal/autotrader"
	"github.com/ajitpratap0/tradebridge/internal/bridge"
	"github.com/ajitpratap0/tradebridge/internal/bus"
	"github.com/ajitpratap0/tradebridge/internal/cache"
	"github.com/ajitpratap0/tradebridge/internal/config"
	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/decision"
	"github.com/ajitpratap0/tradebridge/internal/market"
	"github.com/ajitpratap0/tradebridge/internal/position"
	"github.com/ajitpratap0/tradebridge/internal/risk"
	"github.com/ajitpratap0/tradebridge/internal/signal"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Server exited with error")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Msg("TradeBridge starting")

	ctx, stop := stdsignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Secrets from Vault override the file/env values when enabled.
	if err := config.LoadSecretsFromVault(ctx, cfg, config.GetVaultConfigFromEnv()); err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	rules, err := config.LoadSymbolRules(cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("failed to load symbol rules: %w", err)
	}

	guards := risk.NewInfraGuards()

	database, err := db.New(ctx, cfg.Database.GetDSN(), cfg.Database.PoolSize)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	store := database.Store()

	redisClient, err := cache.New(cfg.Redis, guards.Redis())
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()

	eventBus, err := bus.Connect(cfg.NATS.URL, cfg.NATS.Prefix)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer eventBus.Close()

	// Alerting. The log alerter is always on; Telegram joins when configured.
	alerters := []alerts.Alerter{alerts.NewLogAlerter()}
	if cfg.Telegram.Enabled {
		tg, err := alerts.NewTelegramAlerter(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatIDs,
			alerts.Severity(cfg.Telegram.MinAlertSeverity),
			guards.Telegram(),
		)
		if err != nil {
			log.Error().Err(err).Msg("Telegram alerter unavailable, continuing without it")
		} else {
			alerters = append(alerters, tg)
		}
	}
	notifier := alerts.NewManager(alerters...)

	// Decision audit trail.
	decisions := decision.NewLogger(store, config.NewWorkerLogger("decisions"))

	// Risk core: breaker state loads before anything can route commands.
	breaker := risk.NewBreaker(store, decisions, notifier, eventBus, config.NewWorkerLogger("breaker"))
	if err := breaker.Load(ctx); err != nil {
		return fmt.Errorf("failed to load breaker state: %w", err)
	}
	pauses := risk.NewPauseRegistry()
	slGuard := risk.NewSLGuard(store, pauses, decisions, notifier, config.NewWorkerLogger("sl_guard"))

	// EA connection registry and command dispatcher.
	registry := bridge.NewRegistry(
		time.Duration(cfg.Bridge.HeartbeatTimeoutSeconds)*time.Second,
		time.Duration(cfg.Bridge.IdleConnectionMinutes)*time.Minute,
		eventBus,
		config.NewLogger("registry"),
	)
	dispatcher := bridge.NewDispatcher(store, redisClient, breaker, registry, eventBus, config.NewLogger("dispatcher"))
	if err := dispatcher.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover command queues: %w", err)
	}

	// Market data pipeline: batcher -> tick hub -> engine / monitor / spreads.
	tickHub := market.NewTickHub()
	batcher := market.NewBatcher(
		store,
		tickHub,
		cfg.Ticks.RingCapacity,
		time.Duration(cfg.Ticks.FlushSeconds)*time.Second,
		cfg.Ticks.FlushThreshold,
		config.NewLogger("batcher"),
	)
	spreads := market.NewSpreadStats(time.Hour)

	calc := position.NewCalculator(rules, config.NewLogger("calculator"))
	engine := signal.NewEngine(store, redisClient, calc, rules, eventBus, config.NewLogger("signal_engine"))
	engine.MTFEnabled = cfg.Engine.MTFConfluenceEnabled
	if len(cfg.Engine.Timeframes) > 0 {
		engine.Timeframes = cfg.Engine.Timeframes
	}

	monitor := position.NewMonitor(store, dispatcher, redisClient, config.NewLogger("position_monitor"))
	dispatcher.SetPositionCache(monitor)
	trader := autotrader.New(store, registry, pauses, redisClient, spreads, dispatcher, decisions, rules, config.NewLogger("autotrader"))

	// Live ticks drive the open-position monitor, spread statistics and the
	// signal engine (once per connected account; the engine throttles itself).
	tickHub.Subscribe(func(tick *db.Tick) {
		spreads.Observe(tick.Symbol, tick.Spread, tick.Time)
		monitor.OnTick(ctx, tick)
		for _, conn := range registry.Snapshot() {
			engine.EvaluateTick(ctx, conn.AccountID, tick)
		}
	})

	// Fresh signals flow to the auto-trader over the bus.
	if _, err := eventBus.Subscribe(bus.SubjectSignalCreated, func(evt *bus.Event) {
		trader.HandleSignalEvent(ctx, evt)
	}); err != nil {
		return fmt.Errorf("failed to subscribe auto-trader: %w", err)
	}

	// Live stream to ops dashboards.
	wsHub := bridge.NewWSHub(config.NewLogger("ws_hub"))
	decisions.SetBroadcaster(wsHub)
	if _, err := eventBus.Subscribe("*", wsHub.HandleBusEvent); err != nil {
		return fmt.Errorf("failed to subscribe ops stream: %w", err)
	}

	handlers := bridge.Handlers{
		Control: bridge.NewControlHandlers(store, registry, dispatcher, cfg.Bridge, config.NewLogger("control")),
		Data:    bridge.NewDataHandlers(batcher, redisClient, spreads, store, config.NewLogger("data")),
		Trade:   bridge.NewTradeHandlers(store, redisClient, slGuard, monitor, eventBus, config.NewLogger("trade")),
		Logs:    bridge.NewLogHandlers(cfg.Bridge.LogLinesPerSecond, config.NewLogger("ea_log")),
		Ops: bridge.NewOpsHandlers(store, registry, breaker, wsHub, bridge.Health{
			Database: database.Health,
			Redis:    redisClient.Health,
			Bus:      eventBus.Connected,
		}, cfg.App.Version, config.NewLogger("ops")),
	}
	servers := bridge.NewServers(cfg.Bridge, cfg.Auth, handlers, config.NewLogger("bridge"))

	// Background workers.
	drawdown := risk.NewDrawdownWorker(store, breaker, dispatcher, notifier, config.NewWorkerLogger("drawdown"))
	timeout := risk.NewTimeoutWorker(store, dispatcher, decisions, notifier, config.NewWorkerLogger("trade_timeout"))
	validation := risk.NewValidationWorker(store, engine, dispatcher, decisions, config.NewWorkerLogger("validation"))
	news := risk.NewNewsWorker(store, pauses, config.NewWorkerLogger("news"))
	performance := risk.NewPerformanceWorker(store, decisions, notifier, config.NewWorkerLogger("performance"))
	cleanup := decision.NewCleanupWorker(store, config.NewWorkerLogger("decision_cleanup"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return servers.Run(ctx) })
	g.Go(func() error { return registry.Run(ctx) })
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return batcher.Run(ctx) })
	g.Go(func() error { return wsHub.Run(ctx) })
	g.Go(func() error { return drawdown.Run(ctx) })
	g.Go(func() error { return timeout.Run(ctx) })
	g.Go(func() error { return validation.Run(ctx) })
	g.Go(func() error { return news.Run(ctx) })
	g.Go(func() error { return performance.Run(ctx) })
	g.Go(func() error { return cleanup.Run(ctx) })

	log.Info().
		Int("control_port", cfg.Bridge.ControlPort).
		Int("ops_port", cfg.Bridge.OpsPort).
		Msg("TradeBridge running")

	err = g.Wait()

	// Flush whatever the batcher still holds before the pool closes.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	batcher.Flush(flushCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("TradeBridge stopped")
	return nil
}
