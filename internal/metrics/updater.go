package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Querier is the database surface the updater needs. Satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Updater periodically refreshes database-derived gauges: realized P&L,
// win rate, open exposure, queue depth, and connection pool stats.
type Updater struct {
	db       Querier
	pool     *pgxpool.Pool // optional; enables pool stat gauges
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates a new metrics updater
func NewUpdater(db Querier, interval time.Duration) *Updater {
	return &Updater{
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// WithPool attaches the concrete pool so connection stats are exported
func (u *Updater) WithPool(pool *pgxpool.Pool) *Updater {
	u.pool = pool
	return u
}

// Start begins the metrics update loop
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	// Update immediately on start
	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater
func (u *Updater) Stop() {
	close(u.stopCh)
}

// update fetches and updates all database-derived metrics
func (u *Updater) update(ctx context.Context) {
	log.Debug().Msg("Updating metrics from database")

	u.updateTradeMetrics(ctx)
	u.updateOpenPositionMetrics(ctx)
	u.updateQueueMetrics(ctx)
	u.updateDrawdownMetrics(ctx)
	u.updatePoolMetrics()
}

// updateTradeMetrics refreshes realized P&L, win rate and average R:R
func (u *Updater) updateTradeMetrics(ctx context.Context) {
	var totalProfit, profitToday, avgRR float64
	var closedTrades, winningTrades int64

	query := `
		SELECT
			COALESCE(SUM(profit + commission + swap), 0) AS total_profit,
			COALESCE(SUM(profit + commission + swap) FILTER (WHERE close_time >= date_trunc('day', NOW())), 0) AS profit_today,
			COUNT(*) AS closed_trades,
			COUNT(*) FILTER (WHERE profit > 0) AS winning_trades,
			COALESCE(AVG(risk_reward_realized) FILTER (WHERE risk_reward_realized <> 0), 0) AS avg_rr
		FROM trades
		WHERE status = 'closed' AND close_time IS NOT NULL
	`

	err := u.db.QueryRow(ctx, query).Scan(&totalProfit, &profitToday, &closedTrades, &winningTrades, &avgRR)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch trade metrics")
		return
	}

	TotalProfit.Set(totalProfit)
	ProfitToday.Set(profitToday)
	RiskRewardRealized.Set(avgRR)

	if closedTrades > 0 {
		WinRate.Set(float64(winningTrades) / float64(closedTrades))
	} else {
		WinRate.Set(0)
	}
}

// updateOpenPositionMetrics refreshes the open position count and per-symbol volume
func (u *Updater) updateOpenPositionMetrics(ctx context.Context) {
	query := `
		SELECT symbol, COUNT(*), COALESCE(SUM(volume), 0)
		FROM trades
		WHERE status = 'open'
		GROUP BY symbol
	`

	rows, err := u.db.Query(ctx, query)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch open position metrics")
		return
	}
	defer rows.Close()

	var total int64
	for rows.Next() {
		var symbol string
		var count int64
		var volume float64
		if err := rows.Scan(&symbol, &count, &volume); err != nil {
			log.Error().Err(err).Msg("Failed to scan open position row")
			return
		}
		total += count
		OpenVolumeBySymbol.WithLabelValues(symbol).Set(volume)
	}
	if rows.Err() != nil {
		log.Error().Err(rows.Err()).Msg("Open position metrics iteration failed")
		return
	}

	OpenPositions.Set(float64(total))
}

// updateQueueMetrics refreshes the pending command gauge
func (u *Updater) updateQueueMetrics(ctx context.Context) {
	var pending int64
	err := u.db.QueryRow(ctx, `SELECT COUNT(*) FROM commands WHERE status = 'PENDING'`).Scan(&pending)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch queue depth")
		return
	}
	CommandQueueDepth.Set(float64(pending))
}

// updateDrawdownMetrics computes current drawdown from the cumulative
// realized P&L curve
func (u *Updater) updateDrawdownMetrics(ctx context.Context) {
	query := `
		WITH cumulative AS (
			SELECT
				close_time,
				SUM(profit + commission + swap) OVER (ORDER BY close_time) AS cum_profit
			FROM trades
			WHERE status = 'closed' AND close_time IS NOT NULL
		),
		peaks AS (
			SELECT
				cum_profit,
				MAX(cum_profit) OVER (ORDER BY close_time) AS peak
			FROM cumulative
		)
		SELECT COALESCE(
			CASE
				WHEN MAX(peak) > 0 THEN (MAX(peak) - MIN(cum_profit)) / MAX(peak)
				ELSE 0
			END,
			0
		)
		FROM peaks
	`

	var drawdown float64
	if err := u.db.QueryRow(ctx, query).Scan(&drawdown); err != nil {
		log.Error().Err(err).Msg("Failed to compute drawdown")
		return
	}
	CurrentDrawdown.Set(drawdown)
}

// updatePoolMetrics exports connection pool stats when a pool is attached
func (u *Updater) updatePoolMetrics() {
	if u.pool == nil {
		return
	}
	stat := u.pool.Stat()
	UpdateDatabaseConnections(stat.AcquiredConns(), stat.IdleConns())
}
