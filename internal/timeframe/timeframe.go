// Package timeframe converts bar timeframe codes ("1m", "1H", "1D", ...) into
// durations and annualisation constants.
package timeframe

import (
	"math"
	"time"
)

// Default is used when a timeframe code is unknown.
const Default = "1H"

const day = 24 * time.Hour

var durations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1H":  time.Hour,
	"2H":  2 * time.Hour,
	"4H":  4 * time.Hour,
	"6H":  6 * time.Hour,
	"12H": 12 * time.Hour,
	"1D":  day,
	"1W":  7 * day,
	"1M":  30 * day, // approximated
}

// Weekly and monthly keep the conventional 52/12 instead of 365/7 and 365/30.
var periodsPerYear = map[string]float64{
	"1m":  365 * 24 * 60,
	"3m":  365 * 24 * 20,
	"5m":  365 * 24 * 12,
	"15m": 365 * 24 * 4,
	"30m": 365 * 24 * 2,
	"1H":  365 * 24,
	"2H":  365 * 12,
	"4H":  365 * 6,
	"6H":  365 * 4,
	"12H": 365 * 2,
	"1D":  365,
	"1W":  52,
	"1M":  12,
}

// Known reports whether tf is a recognised code.
func Known(tf string) bool {
	_, ok := durations[tf]
	return ok
}

// Duration returns the bar length of tf, falling back to Default.
func Duration(tf string) time.Duration {
	if d, ok := durations[tf]; ok {
		return d
	}
	return durations[Default]
}

// PeriodsPerYear is the number of bars per year used to annualise
// per-bar statistics. Unknown codes count as daily bars.
func PeriodsPerYear(tf string) float64 {
	if n, ok := periodsPerYear[tf]; ok {
		return n
	}
	return 365
}

// BarsPerDay estimates how many bars of tf fit in a day.
func BarsPerDay(tf string) float64 {
	return float64(day) / float64(Duration(tf))
}

// BarCount estimates how many bars cover days, never fewer than minBars so
// indicators have enough history to warm up.
func BarCount(tf string, days, minBars int) int {
	if days < 1 {
		days = 1
	}
	n := int(math.Floor(float64(days) * BarsPerDay(tf)))
	if n < minBars {
		return minBars
	}
	return n
}
