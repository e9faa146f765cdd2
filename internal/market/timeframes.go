package market

import (
	"fmt"
	"time"
)

// Supported chart timeframes in MT-style notation
var timeframeDurations = map[string]time.Duration{
	"M1":  time.Minute,
	"M5":  5 * time.Minute,
	"M15": 15 * time.Minute,
	"M30": 30 * time.Minute,
	"H1":  time.Hour,
	"H4":  4 * time.Hour,
	"D1":  24 * time.Hour,
	"W1":  7 * 24 * time.Hour,
}

// TimeframeDuration returns the bar length for a timeframe code
func TimeframeDuration(timeframe string) (time.Duration, error) {
	d, ok := timeframeDurations[timeframe]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", timeframe)
	}
	return d, nil
}

// ValidTimeframe reports whether the code is supported
func ValidTimeframe(timeframe string) bool {
	_, ok := timeframeDurations[timeframe]
	return ok
}

// BarCloseTime returns the close time of the bar containing the instant,
// used as the indicator cache key so one evaluation reads one cohort.
func BarCloseTime(t time.Time, timeframe string) (time.Time, error) {
	d, err := TimeframeDuration(timeframe)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(d).Add(d), nil
}
