package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/performance"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

// MaxCurvePoints bounds the serialized equity curve.
const MaxCurvePoints = 500

// Report is the serialized form of a Result: the curve is downsampled, money
// is rounded to 2 places, quantities to 6 and prices to 4.
type Report struct {
	StrategyID   string              `json:"strategy_id"`
	StrategyName string              `json:"strategy_name"`
	Symbol       string              `json:"symbol"`
	Timeframe    string              `json:"timeframe"`
	StartTime    time.Time           `json:"start_time"`
	EndTime      time.Time           `json:"end_time"`
	DurationDays int                 `json:"duration_days"`
	Metrics      performance.Metrics `json:"metrics"`
	EquityCurve  []EquityPoint       `json:"equity_curve"`
	Trades       []TradeRow          `json:"trades"`
}

type EquityPoint struct {
	Time          time.Time `json:"time"`
	Equity        float64   `json:"equity"`
	Cash          float64   `json:"cash"`
	PositionValue float64   `json:"position_value"`
}

type TradeRow struct {
	Time        time.Time  `json:"time"`
	Side        types.Side `json:"side"`
	Price       float64    `json:"price"`
	Quantity    float64    `json:"quantity"`
	Value       float64    `json:"value"`
	Commission  float64    `json:"commission"`
	RealizedPnL float64    `json:"realized_pnl"`
}

func NewReport(r *Result) Report {
	m := r.Metrics
	for _, f := range []*float64{
		&m.InitialCapital, &m.FinalCapital, &m.ElapsedDays, &m.TotalReturn, &m.AnnualReturn,
		&m.MaxDrawdown, &m.SharpeRatio, &m.SortinoRatio, &m.CalmarRatio, &m.WinRate,
		&m.ProfitFactor, &m.AvgProfit, &m.AvgLoss, &m.LargestProfit, &m.LargestLoss,
		&m.AvgHoldingPeriod, &m.TotalCommission,
	} {
		*f = round(*f, 2)
	}

	rep := Report{
		StrategyID:   r.StrategyID,
		StrategyName: r.StrategyName,
		Symbol:       r.Symbol,
		Timeframe:    r.Timeframe,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		DurationDays: r.DurationDays,
		Metrics:      m,
		EquityCurve:  make([]EquityPoint, 0, min(len(r.Curve), MaxCurvePoints)),
		Trades:       make([]TradeRow, 0, len(r.Trades)),
	}

	step := 1
	if len(r.Curve) > MaxCurvePoints {
		step = (len(r.Curve) + MaxCurvePoints - 1) / MaxCurvePoints
	}
	for i := 0; i < len(r.Curve); i += step {
		s := r.Curve[i]
		rep.EquityCurve = append(rep.EquityCurve, EquityPoint{
			Time:          s.Time,
			Equity:        round(s.TotalEquity, 2),
			Cash:          round(s.Cash, 2),
			PositionValue: round(s.PositionValue, 2),
		})
	}

	for _, t := range r.Trades {
		rep.Trades = append(rep.Trades, TradeRow{
			Time:        t.Time,
			Side:        t.Side,
			Price:       round(t.Price, 4),
			Quantity:    round(t.Quantity, 6),
			Value:       round(t.Value(), 2),
			Commission:  round(t.Commission, 4),
			RealizedPnL: round(t.RealizedPnL, 2),
		})
	}
	return rep
}

func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
