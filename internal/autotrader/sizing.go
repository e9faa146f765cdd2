package autotrader

import (
	"fmt"
	"math"

	"github.com/ajitpratap0/tradebridge/internal/db"
)

// ComputeVolume sizes a position from the account risk budget: the risk
// amount divided by the stop distance expressed in account currency, clamped
// to broker volume bounds and snapped down to the volume step.
func ComputeVolume(balance, riskPercent, entry, sl float64, broker *db.BrokerSymbol) (float64, error) {
	if broker == nil {
		return 0, fmt.Errorf("broker metadata missing")
	}
	if broker.Digits <= 0 || broker.PointValue <= 0 {
		return 0, fmt.Errorf("broker metadata incomplete: digits=%d point_value=%f", broker.Digits, broker.PointValue)
	}
	if broker.VolumeMin <= 0 || broker.VolumeStep <= 0 || broker.VolumeMax < broker.VolumeMin {
		return 0, fmt.Errorf("broker volume bounds invalid: min=%f max=%f step=%f",
			broker.VolumeMin, broker.VolumeMax, broker.VolumeStep)
	}
	slDistance := math.Abs(entry - sl)
	if slDistance == 0 {
		return 0, fmt.Errorf("zero stop distance")
	}
	if balance <= 0 || riskPercent <= 0 {
		return 0, fmt.Errorf("non-positive risk budget: balance=%f risk=%f%%", balance, riskPercent)
	}

	point := math.Pow(10, -float64(broker.Digits))
	slCurrencyPerLot := slDistance / point * broker.PointValue
	riskAmount := balance * riskPercent / 100

	volume := riskAmount / slCurrencyPerLot
	volume = math.Min(math.Max(volume, broker.VolumeMin), broker.VolumeMax)

	// Snap down so the step never rounds risk upward. The epsilon absorbs
	// float dust from the division.
	volume = math.Floor(volume/broker.VolumeStep+1e-9) * broker.VolumeStep

	if volume+1e-9 < broker.VolumeMin || volume > broker.VolumeMax+1e-9 {
		return 0, fmt.Errorf("volume %f outside bounds [%f, %f] after snapping",
			volume, broker.VolumeMin, broker.VolumeMax)
	}
	return volume, nil
}
