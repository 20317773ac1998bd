package backtest

import (
	"time"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/performance"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/strategies"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

// Result is the outcome of one Run. Treat it as read-only.
type Result struct {
	StrategyID   string
	StrategyName string
	Symbol       string
	Timeframe    string
	StartTime    time.Time
	EndTime      time.Time
	// DurationDays counts calendar days covered, both ends included.
	DurationDays int

	Curve  []types.AccountSnapshot
	Trades []types.Trade

	performance.Metrics
}

func newResult(s strategies.Strategy, bars []types.Bar, curve []types.AccountSnapshot, trades []types.Trade) *Result {
	cfg := s.Config()
	first, last := bars[0].Time, bars[len(bars)-1].Time
	days := 1
	if len(bars) > 1 {
		days = max(1, int(last.Sub(first).Hours()/24)+1)
	}
	return &Result{
		StrategyID:   s.ID(),
		StrategyName: s.Name(),
		Symbol:       cfg.Symbol,
		Timeframe:    cfg.Timeframe,
		StartTime:    first,
		EndTime:      last,
		DurationDays: days,
		Curve:        curve,
		Trades:       trades,
		Metrics: performance.Compute(performance.Input{
			Curve:          curve,
			Trades:         trades,
			InitialCapital: cfg.InitialCapital,
			Timeframe:      cfg.Timeframe,
		}),
	}
}
