package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradebridge/internal/config"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

const shutdownGrace = 10 * time.Second

// Handlers bundles the per-port handler groups the servers mount
type Handlers struct {
	Control *ControlHandlers
	Data    *DataHandlers
	Trade   *TradeHandlers
	Logs    *LogHandlers
	Ops     *OpsHandlers
}

// Servers is the five-listener EA surface: control, ticks, trades, logs and
// ops each get their own port so a flood on one cannot starve the others.
type Servers struct {
	listeners []*http.Server
	log       zerolog.Logger
}

// NewServers builds the listeners. All EA-facing ports require an API key;
// on the ops port /health and /metrics stay open for probes and scrapers.
func NewServers(cfg config.BridgeConfig, auth config.AuthConfig, h Handlers, logger zerolog.Logger) *Servers {
	gin.SetMode(gin.ReleaseMode)
	guard := APIKeyAuth(auth.APIKeys)

	control := newRouter(true)
	h.Control.RegisterRoutes(control.Group("", guard))

	// The tick port skips the request logger: one line per EA per second
	// would dominate the log for no benefit.
	ticks := newRouter(false)
	h.Data.RegisterRoutes(ticks.Group("", guard))

	trades := newRouter(true)
	h.Trade.RegisterRoutes(trades.Group("", guard))

	logs := newRouter(false)
	h.Logs.RegisterRoutes(logs.Group("", guard))

	// Ops serves browser dashboards, so it needs CORS; the EA ports never do.
	ops := newRouter(true)
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, apiKeyHeader)
	ops.Use(cors.New(corsCfg))
	ops.GET("/health", h.Ops.HealthCheck)
	ops.GET("/metrics", gin.WrapH(promhttp.Handler()))
	ops.GET("/ws", h.Ops.ServeWS)
	h.Ops.RegisterRoutes(ops.Group("", guard))

	build := func(port int, router *gin.Engine) *http.Server {
		return &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}

	return &Servers{
		listeners: []*http.Server{
			build(cfg.ControlPort, control),
			build(cfg.TickPort, ticks),
			build(cfg.TradePort, trades),
			build(cfg.LogPort, logs),
			build(cfg.OpsPort, ops),
		},
		log: logger,
	}
}

func newRouter(logged bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.GinMiddleware())
	if logged {
		router.Use(requestLogger())
	}
	return router
}

// Run starts every listener and blocks until the context is cancelled or a
// listener fails. Shutdown is graceful with a bounded grace period.
func (s *Servers) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range s.listeners {
		g.Go(func() error {
			s.log.Info().Str("addr", srv.Addr).Msg("Listener starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listener %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		for _, srv := range s.listeners {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.log.Warn().Err(err).Str("addr", srv.Addr).Msg("Listener shutdown failed")
			}
		}
		return ctx.Err()
	})

	return g.Wait()
}
