// Package performance derives return, risk and trade statistics from an
// equity curve and a trade ledger. Every function is pure.
package performance

import (
	"math"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/timeframe"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

// Sentinel replaces ±Inf in reported metrics so infinite ratios stay
// visibly anomalous and still serialize.
const Sentinel = 9999.99

type Input struct {
	Curve          []types.AccountSnapshot
	Trades         []types.Trade
	InitialCapital float64
	Timeframe      string
}

type Metrics struct {
	InitialCapital      float64 `json:"initial_capital"`
	FinalCapital        float64 `json:"final_capital"`
	ElapsedDays         float64 `json:"elapsed_days"`
	TotalReturn         float64 `json:"total_return"`
	AnnualReturn        float64 `json:"annual_return"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	CalmarRatio         float64 `json:"calmar_ratio"`
	WinRate             float64 `json:"win_rate"`
	ProfitFactor        float64 `json:"profit_factor"`
	TotalTrades         int     `json:"total_trades"`
	WinningTrades       int     `json:"winning_trades"`
	LosingTrades        int     `json:"losing_trades"`
	AvgProfit           float64 `json:"avg_profit"`
	AvgLoss             float64 `json:"avg_loss"`
	LargestProfit       float64 `json:"largest_profit"`
	LargestLoss         float64 `json:"largest_loss"`
	AvgHoldingPeriod    float64 `json:"avg_holding_period"`
	TotalCommission     float64 `json:"total_commission"`
}

// Compute derives every metric from in. All returned floats are finite.
func Compute(in Input) Metrics {
	m := Metrics{InitialCapital: in.InitialCapital, FinalCapital: in.InitialCapital}
	if len(in.Curve) == 0 {
		return m
	}

	equities := make([]float64, len(in.Curve))
	for i, s := range in.Curve {
		equities[i] = s.TotalEquity
	}

	m.ElapsedDays = ElapsedDays(in.Curve)
	m.FinalCapital = equities[len(equities)-1]
	m.TotalReturn = TotalReturn(in.InitialCapital, m.FinalCapital)
	m.AnnualReturn = AnnualReturn(m.TotalReturn, m.ElapsedDays)
	m.MaxDrawdown, m.MaxDrawdownDuration = MaxDrawdown(equities)

	ppy := timeframe.PeriodsPerYear(in.Timeframe)
	returns := Returns(equities)
	m.SharpeRatio = Sharpe(returns, ppy)
	m.SortinoRatio = Sortino(returns, ppy)
	m.CalmarRatio = Calmar(m.AnnualReturn, m.MaxDrawdown)

	tradeStats(&m, in.Trades, len(in.Curve))
	return m.clamped()
}

// ElapsedDays is the wall-clock span of the curve in days, at least 1.
func ElapsedDays(curve []types.AccountSnapshot) float64 {
	if len(curve) < 2 {
		return 1
	}
	days := curve[len(curve)-1].Time.Sub(curve[0].Time).Hours() / 24
	return math.Max(1, days)
}

func TotalReturn(initial, final float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (final - initial) / initial * 100
}

// AnnualReturn compounds a total return in percent over days.
func AnnualReturn(totalReturn, days float64) float64 {
	if days <= 0 {
		return 0
	}
	ratio := 1 + totalReturn/100
	if ratio <= 0 {
		return -100
	}
	return (math.Pow(ratio, 365/days) - 1) * 100
}

// Returns are simple per-period changes, skipping non-positive bases.
func Returns(equities []float64) []float64 {
	if len(equities) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equities)-1)
	for i := 1; i < len(equities); i++ {
		if equities[i-1] > 0 {
			out = append(out, (equities[i]-equities[i-1])/equities[i-1])
		}
	}
	return out
}

// MaxDrawdown returns the deepest peak-to-trough decline in percent and the
// longest drawdown episode in bars. An episode opens on the first point below
// the running peak and closes when a new peak is set; an episode still open
// at the end counts up to the last point.
func MaxDrawdown(equities []float64) (float64, int) {
	if len(equities) == 0 {
		return 0, 0
	}
	peak := equities[0]
	var maxDD float64
	var maxDur, start int
	in := false

	for i, eq := range equities {
		if eq > peak {
			peak = eq
			if in {
				maxDur = max(maxDur, i-start)
				in = false
			}
			continue
		}
		// equal-to-peak points do not open an episode, so a flat curve has
		// duration 0 rather than its length
		if eq < peak {
			if !in {
				start = i
				in = true
			}
			if peak > 0 {
				maxDD = math.Max(maxDD, (peak-eq)/peak*100)
			}
		}
	}
	if in {
		maxDur = max(maxDur, len(equities)-start)
	}
	return maxDD, maxDur
}

// Sharpe annualizes mean/stddev of returns with periodsPerYear. Zero
// volatility yields 0.
func Sharpe(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := meanOf(returns)
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std == 0 {
		return 0
	}
	return mean * periodsPerYear / (std * math.Sqrt(periodsPerYear))
}

// Sortino is Sharpe with downside deviation over the full sample. With no
// losing period it is +Inf for a positive mean and 0 otherwise.
func Sortino(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := meanOf(returns)
	var downside float64
	var negatives int
	for _, r := range returns {
		if r < 0 {
			downside += r * r
			negatives++
		}
	}
	if negatives == 0 {
		if mean > 0 {
			return math.Inf(1)
		}
		return 0
	}
	dd := math.Sqrt(downside / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return mean * periodsPerYear / (dd * math.Sqrt(periodsPerYear))
}

// Calmar is annual return over max drawdown; 0 when there was no drawdown.
func Calmar(annualReturn, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		return 0
	}
	return annualReturn / maxDrawdown
}

// Clamp maps NaN to 0 and ±Inf to ±Sentinel.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return Sentinel
	case math.IsInf(v, -1):
		return -Sentinel
	}
	return v
}

// WinRate is the share of exit trades with positive realized P&L, in percent.
func WinRate(trades []types.Trade) float64 {
	var exits, wins int
	for _, t := range trades {
		if t.Side != types.SideSell {
			continue
		}
		exits++
		if t.RealizedPnL > 0 {
			wins++
		}
	}
	if exits == 0 {
		return 0
	}
	return float64(wins) / float64(exits) * 100
}

func tradeStats(m *Metrics, trades []types.Trade, curveLen int) {
	var grossProfit, grossLoss float64
	for _, t := range trades {
		m.TotalCommission += t.Commission
		if t.Side != types.SideSell {
			continue
		}
		m.TotalTrades++
		switch {
		case t.RealizedPnL > 0:
			m.WinningTrades++
			grossProfit += t.RealizedPnL
			m.LargestProfit = math.Max(m.LargestProfit, t.RealizedPnL)
		case t.RealizedPnL < 0:
			m.LosingTrades++
			grossLoss += -t.RealizedPnL
			m.LargestLoss = math.Max(m.LargestLoss, -t.RealizedPnL)
		}
	}
	if m.TotalTrades == 0 {
		return
	}
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	if m.WinningTrades > 0 {
		m.AvgProfit = grossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	} else {
		m.ProfitFactor = math.Inf(1)
	}
	m.AvgHoldingPeriod = float64(curveLen) / float64(m.TotalTrades)
}

func (m Metrics) clamped() Metrics {
	for _, f := range []*float64{
		&m.FinalCapital, &m.ElapsedDays, &m.TotalReturn, &m.AnnualReturn, &m.MaxDrawdown,
		&m.SharpeRatio, &m.SortinoRatio, &m.CalmarRatio, &m.WinRate, &m.ProfitFactor,
		&m.AvgProfit, &m.AvgLoss, &m.LargestProfit, &m.LargestLoss, &m.AvgHoldingPeriod,
		&m.TotalCommission,
	} {
		*f = Clamp(*f)
	}
	return m
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
