package strategies

import (
	"fmt"
	"math"
	"time"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/indicators"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

type DualMAParams struct {
	ShortPeriod    int     `yaml:"short_period"`
	LongPeriod     int     `yaml:"long_period"`
	UseEMA         bool    `yaml:"use_ema"`
	MinVolumeRatio float64 `yaml:"min_volume_ratio"`
	TrendFilter    bool    `yaml:"trend_filter"`
}

func (p DualMAParams) Validate() error {
	if p.ShortPeriod < 2 || p.ShortPeriod > 50 {
		return fmt.Errorf("short_period must be in [2,50], got %d", p.ShortPeriod)
	}
	if p.LongPeriod < 5 || p.LongPeriod > 200 {
		return fmt.Errorf("long_period must be in [5,200], got %d", p.LongPeriod)
	}
	if p.ShortPeriod >= p.LongPeriod {
		return fmt.Errorf("short_period must be below long_period")
	}
	if p.MinVolumeRatio < 0 || p.MinVolumeRatio > 10 {
		return fmt.Errorf("min_volume_ratio must be in [0,10]")
	}
	return nil
}

const (
	volumePeriod = 20
	trendPeriod  = 60
)

// DualMA goes long on a golden cross and exits on a death cross or the
// configured stop-loss/take-profit.
type DualMA struct {
	Base
	params DualMAParams

	maShort []float64
	maLong  []float64
	volMA   []float64
	trend   []float64
}

func NewDualMA(cfg Config, params DualMAParams) (*DualMA, error) {
	if params.ShortPeriod == 0 {
		params.ShortPeriod = 5
	}
	if params.LongPeriod == 0 {
		params.LongPeriod = 20
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "Dual MA"
	}
	return &DualMA{Base: NewBase(cfg), params: params}, nil
}

func (s *DualMA) ID() string { return "dual_ma" }

func (s *DualMA) Params() DualMAParams { return s.params }

func (s *DualMA) Init(bars []types.Bar) {
	s.ResetTrades()
	s.Refresh(bars)
}

func (s *DualMA) Refresh(bars []types.Bar) {
	s.SetBars(bars)
	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}
	ma := indicators.SMA
	if s.params.UseEMA {
		ma = indicators.EMA
	}
	s.maShort = ma(closes, s.params.ShortPeriod)
	s.maLong = ma(closes, s.params.LongPeriod)
	s.volMA = indicators.SMA(volumes, volumePeriod)
	s.trend = nil
	if s.params.TrendFilter {
		s.trend = indicators.SMA(closes, trendPeriod)
	}
}

func (s *DualMA) OnBar(i int) types.Signal {
	if sig, ok := s.CheckExits(i); ok {
		return sig
	}
	bar, ok := s.Bar(i)
	if !ok {
		return types.Hold(0, time.Time{}, "no bar")
	}

	short, ok1 := indicators.At(s.maShort, i)
	shortPrev, ok2 := indicators.At(s.maShort, i-1)
	long, ok3 := indicators.At(s.maLong, i)
	longPrev, ok4 := indicators.At(s.maLong, i-1)
	if !(ok1 && ok2 && ok3 && ok4) {
		return types.Hold(bar.Close, bar.Time, "not enough history")
	}

	if s.params.MinVolumeRatio > 0 {
		if vol, ok := indicators.At(s.volMA, i); ok && vol > 0 && bar.Volume < vol*s.params.MinVolumeRatio {
			return types.Hold(bar.Close, bar.Time, "volume too low")
		}
	}
	flat := s.Position().IsFlat()
	if s.params.TrendFilter && flat {
		if trend, ok := indicators.At(s.trend, i); ok && bar.Close < trend {
			return types.Hold(bar.Close, bar.Time, "below trend")
		}
	}

	if shortPrev <= longPrev && short > long && flat {
		return types.Signal{
			Kind:     types.SignalBuy,
			Price:    bar.Close,
			Time:     bar.Time,
			Strength: math.Min((short-long)/long*100, 1),
			Reason:   fmt.Sprintf("golden cross MA%d/MA%d", s.params.ShortPeriod, s.params.LongPeriod),
		}
	}
	if shortPrev >= longPrev && short < long && !flat {
		return types.Signal{
			Kind:     types.SignalSell,
			Price:    bar.Close,
			Time:     bar.Time,
			Strength: math.Min((long-short)/long*100, 1),
			Reason:   fmt.Sprintf("death cross MA%d/MA%d", s.params.ShortPeriod, s.params.LongPeriod),
		}
	}
	return types.Hold(bar.Close, bar.Time, "waiting for cross")
}
