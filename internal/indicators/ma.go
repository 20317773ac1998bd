// Package indicators holds pure series functions. Positions without enough
// history are NaN.
package indicators

import "math"

// SMA is the simple moving average of values over period.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is the exponential moving average seeded with the SMA of the first
// period values.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	k := 2 / float64(period+1)
	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	out[period-1] = seed / float64(period)
	for i := period; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// At returns series[i] and false when i is out of range or NaN.
func At(series []float64, i int) (float64, bool) {
	if i < 0 || i >= len(series) || math.IsNaN(series[i]) {
		return 0, false
	}
	return series[i], true
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
