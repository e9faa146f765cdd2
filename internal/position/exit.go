package position

import (
	"math"
	"strings"
	"time"

	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/market"
)

// PipSize returns the pip unit for a symbol. With broker digits available,
// fractional quotes (3 or 5 digits) count ten points per pip; without them
// the symbol name decides (JPY crosses quote to two decimals).
func PipSize(symbol string, digits int) float64 {
	if digits > 0 {
		point := math.Pow(10, -float64(digits))
		if digits == 3 || digits == 5 {
			return point * 10
		}
		return point
	}
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		return 0.01
	}
	return 0.0001
}

// ExitSnapshot carries the derived metrics recorded at trade close
type ExitSnapshot struct {
	PipsCaptured       float64
	RiskRewardRealized float64
	HoldMinutes        int
	Session            string
}

// ComputeExitSnapshot derives the close-time metrics for a trade. digits may
// be zero when broker metadata is missing.
func ComputeExitSnapshot(trade *db.Trade, closePrice float64, closeTime time.Time, digits int) ExitSnapshot {
	pip := PipSize(trade.Symbol, digits)

	move := closePrice - trade.OpenPrice
	if !trade.IsBuy() {
		move = -move
	}

	// Realized R:R against the initial stop distance; zero when the trade
	// never had a stop.
	rr := 0.0
	risk := trade.OpenPrice - trade.InitialSL
	if !trade.IsBuy() {
		risk = trade.InitialSL - trade.OpenPrice
	}
	if risk > 0 {
		rr = move / risk
	}

	return ExitSnapshot{
		PipsCaptured:       move / pip,
		RiskRewardRealized: rr,
		HoldMinutes:        int(closeTime.Sub(trade.OpenTime).Minutes()),
		Session:            market.SessionAt(closeTime),
	}
}
