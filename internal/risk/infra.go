package risk

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Infra guard tuning. Redis sits on the hot command path so it recovers
// fast; Telegram tolerates longer outages without consequence.
const (
	dbGuardMinRequests   = 10
	dbGuardFailureRatio  = 0.6
	dbGuardOpenTimeout   = 15 * time.Second
	dbGuardHalfOpenReqs  = 5
	dbGuardCountInterval = 10 * time.Second

	redisGuardMinRequests   = 5
	redisGuardFailureRatio  = 0.6
	redisGuardOpenTimeout   = 10 * time.Second
	redisGuardHalfOpenReqs  = 3
	redisGuardCountInterval = 10 * time.Second

	telegramGuardMinRequests   = 3
	telegramGuardFailureRatio  = 0.6
	telegramGuardOpenTimeout   = 60 * time.Second
	telegramGuardHalfOpenReqs  = 2
	telegramGuardCountInterval = 30 * time.Second
)

// GuardSettings tunes one infrastructure circuit breaker
type GuardSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// InfraGuards wraps outbound infrastructure calls in circuit breakers:
// the database pool, the Redis command queue, and Telegram sends. A tripped
// guard fails fast instead of stacking timeouts on a dead dependency.
type InfraGuards struct {
	database *gobreaker.CircuitBreaker
	redis    *gobreaker.CircuitBreaker
	telegram *gobreaker.CircuitBreaker
}

var (
	guardStateGauge *prometheus.GaugeVec
	guardMetricOnce sync.Once
)

func initGuardMetrics() {
	guardMetricOnce.Do(func() {
		guardStateGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "infra_breaker_state",
				Help: "Infrastructure circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"service"},
		)
	})
}

func newGuard(name string, s GuardSettings) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenMaxReqs,
		Interval:    s.CountInterval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && ratio >= s.FailureRatio
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			recordGuardState(name, to)
		},
	})
}

func recordGuardState(service string, state gobreaker.State) {
	var value float64
	switch state {
	case gobreaker.StateClosed:
		value = 0
	case gobreaker.StateOpen:
		value = 1
	case gobreaker.StateHalfOpen:
		value = 2
	}
	guardStateGauge.WithLabelValues(service).Set(value)
}

// NewInfraGuards builds the guards with production tuning
func NewInfraGuards() *InfraGuards {
	initGuardMetrics()

	g := &InfraGuards{
		database: newGuard("database", GuardSettings{
			MinRequests:     dbGuardMinRequests,
			FailureRatio:    dbGuardFailureRatio,
			OpenTimeout:     dbGuardOpenTimeout,
			HalfOpenMaxReqs: dbGuardHalfOpenReqs,
			CountInterval:   dbGuardCountInterval,
		}),
		redis: newGuard("redis", GuardSettings{
			MinRequests:     redisGuardMinRequests,
			FailureRatio:    redisGuardFailureRatio,
			OpenTimeout:     redisGuardOpenTimeout,
			HalfOpenMaxReqs: redisGuardHalfOpenReqs,
			CountInterval:   redisGuardCountInterval,
		}),
		telegram: newGuard("telegram", GuardSettings{
			MinRequests:     telegramGuardMinRequests,
			FailureRatio:    telegramGuardFailureRatio,
			OpenTimeout:     telegramGuardOpenTimeout,
			HalfOpenMaxReqs: telegramGuardHalfOpenReqs,
			CountInterval:   telegramGuardCountInterval,
		}),
	}
	recordGuardState("database", g.database.State())
	recordGuardState("redis", g.redis.State())
	recordGuardState("telegram", g.telegram.State())
	return g
}

// NewPassthroughGuards returns guards that never trip, for tests
func NewPassthroughGuards() *InfraGuards {
	initGuardMetrics()

	neverTrip := func(gobreaker.Counts) bool { return false }
	passthrough := func(name string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1000,
			Timeout:     time.Millisecond,
			ReadyToTrip: neverTrip,
		})
	}
	return &InfraGuards{
		database: passthrough("database_passthrough"),
		redis:    passthrough("redis_passthrough"),
		telegram: passthrough("telegram_passthrough"),
	}
}

// Database returns the database guard
func (g *InfraGuards) Database() *gobreaker.CircuitBreaker { return g.database }

// Redis returns the Redis queue guard
func (g *InfraGuards) Redis() *gobreaker.CircuitBreaker { return g.redis }

// Telegram returns the Telegram send guard
func (g *InfraGuards) Telegram() *gobreaker.CircuitBreaker { return g.telegram }
