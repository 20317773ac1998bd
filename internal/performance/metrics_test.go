package performance

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

func curve(step time.Duration, equities ...float64) []types.AccountSnapshot {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.AccountSnapshot, len(equities))
	for i, eq := range equities {
		out[i] = types.NewSnapshot(start.Add(time.Duration(i)*step), eq, 0, 0, 0)
	}
	return out
}

func TestMaxDrawdownEpisode(t *testing.T) {
	dd, dur := MaxDrawdown([]float64{100, 120, 90, 95, 130})
	assert.InDelta(t, 25.0, dd, 1e-9)
	// opens at index 2, closes at index 4
	assert.Equal(t, 2, dur)
}

func TestMaxDrawdownUnterminatedEpisode(t *testing.T) {
	dd, dur := MaxDrawdown([]float64{100, 110, 100, 99, 105})
	assert.InDelta(t, 10.0, dd, 1e-9)
	assert.Equal(t, 3, dur)
}

func TestMaxDrawdownFlat(t *testing.T) {
	dd, dur := MaxDrawdown([]float64{100, 100, 100})
	assert.Zero(t, dd)
	assert.Zero(t, dur)
}

func TestSortinoAllPositiveIsClampedToSentinel(t *testing.T) {
	returns := []float64{0.01, 0.02, 0.015}
	assert.True(t, math.IsInf(Sortino(returns, 365), 1))

	m := Compute(Input{
		Curve:          curve(time.Hour, 100, 101, 103, 104),
		InitialCapital: 100,
		Timeframe:      "1H",
	})
	assert.Equal(t, Sentinel, m.SortinoRatio)
	assert.False(t, math.IsInf(m.SharpeRatio, 0))
}

func TestSortinoUsesFullSampleCount(t *testing.T) {
	returns := []float64{0.02, -0.01, 0.03, -0.02}
	mean := 0.005
	dd := math.Sqrt((0.01*0.01 + 0.02*0.02) / 4)
	want := mean * 365 / (dd * math.Sqrt(365))
	assert.InDelta(t, want, Sortino(returns, 365), 1e-9)
}

func TestSharpeUsesTimeframePeriods(t *testing.T) {
	equities := []float64{100, 101, 100.5, 102, 101.7}
	in := Input{Curve: curve(time.Hour, equities...), InitialCapital: 100}

	in.Timeframe = "1H"
	hourly := Compute(in).SharpeRatio
	in.Timeframe = "1D"
	daily := Compute(in).SharpeRatio

	assert.InDelta(t, math.Sqrt(24), hourly/daily, 1e-9)
}

func TestCalmarZeroDrawdown(t *testing.T) {
	assert.Zero(t, Calmar(50, 0))
	assert.InDelta(t, 2.0, Calmar(50, 25), 1e-12)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(math.NaN()))
	assert.Equal(t, Sentinel, Clamp(math.Inf(1)))
	assert.Equal(t, -Sentinel, Clamp(math.Inf(-1)))
	assert.Equal(t, 1.5, Clamp(1.5))
}

func TestAnnualReturnUsesElapsedTime(t *testing.T) {
	// two points a year apart
	c := curve(365*24*time.Hour, 100, 121)
	m := Compute(Input{Curve: c, InitialCapital: 100, Timeframe: "1W"})
	assert.InDelta(t, 365.0, m.ElapsedDays, 1e-9)
	assert.InDelta(t, 21.0, m.TotalReturn, 1e-9)
	assert.InDelta(t, 21.0, m.AnnualReturn, 1e-9)

	assert.Equal(t, -100.0, AnnualReturn(-100, 10))
}

func TestTradeStatsCountExitsOnly(t *testing.T) {
	trades := []types.Trade{
		{Side: types.SideBuy, Commission: 1},
		{Side: types.SideSell, Commission: 1, RealizedPnL: 30},
		{Side: types.SideBuy, Commission: 1},
		{Side: types.SideSell, Commission: 1, RealizedPnL: -10},
		{Side: types.SideBuy, Commission: 1},
		{Side: types.SideSell, Commission: 1, RealizedPnL: 10},
	}
	m := Compute(Input{Curve: curve(time.Hour, 100, 100, 100, 100, 100, 100), Trades: trades, InitialCapital: 100, Timeframe: "1H"})

	require.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 200.0/3, m.WinRate, 1e-9)
	assert.InDelta(t, 4.0, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 20.0, m.AvgProfit, 1e-9)
	assert.InDelta(t, 10.0, m.AvgLoss, 1e-9)
	assert.InDelta(t, 30.0, m.LargestProfit, 1e-9)
	assert.InDelta(t, 10.0, m.LargestLoss, 1e-9)
	assert.InDelta(t, 6.0, m.TotalCommission, 1e-9)
	assert.InDelta(t, 2.0, m.AvgHoldingPeriod, 1e-9)
}

func TestProfitFactorWithoutLossesIsSentinel(t *testing.T) {
	trades := []types.Trade{{Side: types.SideSell, RealizedPnL: 5}}
	m := Compute(Input{Curve: curve(time.Hour, 100, 105), Trades: trades, InitialCapital: 100})
	assert.Equal(t, Sentinel, m.ProfitFactor)
}

func TestComputeEmptyCurve(t *testing.T) {
	m := Compute(Input{InitialCapital: 500})
	assert.Equal(t, 500.0, m.FinalCapital)
	assert.Zero(t, m.TotalReturn)
}
