// Package backtest replays historical bars through a strategy against a
// simulated account with slippage and commission.
package backtest

import (
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/strategies"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

var ErrNoBars = errors.New("backtest: no bars")

type Config struct {
	CommissionRate float64
	Slippage       float64
	// Fractional allows non-integer quantities. When false buys are
	// truncated to whole units.
	Fractional bool
}

// ConfigFor takes the trading costs from the strategy config.
func ConfigFor(c strategies.Config) Config {
	return Config{CommissionRate: c.CommissionRate, Slippage: c.Slippage, Fractional: true}
}

// Engine is stateless between runs and safe for concurrent use.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Run replays bars through s and returns the ledger, equity curve and
// metrics. Identical inputs always produce identical results.
func (e *Engine) Run(s strategies.Strategy, bars []types.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	scfg := s.Config()
	r := &run{
		cfg:   e.cfg,
		strat: s,
		pos:   types.NewPosition(scfg.Symbol),
		cash:  scfg.InitialCapital,
		curve: make([]types.AccountSnapshot, 0, len(bars)),
	}

	// The strategy must see the fills booked here.
	s.BindPosition(r.pos)
	s.Init(bars)

	log.Debug().
		Str("strategy", s.ID()).
		Str("symbol", scfg.Symbol).
		Int("bars", len(bars)).
		Msg("Backtest started")

	for i, bar := range bars {
		r.bar = bar
		r.pos.MarkToMarket(bar.Close)

		sig := s.OnBar(i)
		switch sig.Kind {
		case types.SignalBuy:
			r.buy(sig)
		case types.SignalSell:
			r.sell(sig)
		}

		view := r.pos.View()
		r.curve = append(r.curve, types.NewSnapshot(bar.Time, r.cash, view.Quantity, bar.Close, view.UnrealizedPnL))
	}
	s.Finish()

	res := newResult(s, bars, r.curve, r.trades)
	log.Debug().
		Str("strategy", s.ID()).
		Int("trades", len(r.trades)).
		Float64("final_capital", res.FinalCapital).
		Msg("Backtest finished")
	return res, nil
}

type run struct {
	cfg    Config
	strat  strategies.Strategy
	pos    *types.Position
	cash   float64
	bar    types.Bar
	trades []types.Trade
	curve  []types.AccountSnapshot
}

func (r *run) buy(sig types.Signal) {
	price := sig.Price * (1 + r.cfg.Slippage)
	if price <= 0 {
		return
	}
	rate := r.cfg.CommissionRate

	var qty, value, commission, cost float64
	if sig.Hint.HasQuantity() {
		qty = sig.Hint.Quantity
		value = qty * price
		commission = value * rate
		cost = value + commission
		if cost > r.cash {
			// spend what is left
			cost = r.cash
			value = cost / (1 + rate)
			commission = cost - value
			qty = value / price
		}
	} else {
		held := r.pos.Quantity() * price
		ratio := 0.0
		if equity := r.cash + held; equity > 0 {
			ratio = held / equity
		}
		maxPos := r.strat.Config().MaxPosition
		if ratio >= maxPos {
			return
		}
		target := math.Min(r.strat.Config().PositionSize, maxPos-ratio)
		cost = r.cash * target
		commission = cost * rate
		value = cost - commission
		qty = value / price
	}

	if !r.cfg.Fractional {
		qty = math.Floor(qty)
		value = qty * price
		commission = value * rate
		cost = value + commission
	}
	if qty <= 0 || value <= 0 {
		return
	}

	r.pos.AddFill(qty, price, commission)
	r.cash -= cost
	r.pos.MarkToMarket(r.bar.Close)
	r.record(types.Trade{
		Time:       r.tradeTime(sig),
		Side:       types.SideBuy,
		Price:      price,
		Quantity:   qty,
		Commission: commission,
		Hint:       sig.Hint,
		Payload:    sig.Payload,
	})
}

func (r *run) sell(sig types.Signal) {
	held := r.pos.Quantity()
	if held <= 0 {
		return
	}
	price := sig.Price * (1 - r.cfg.Slippage)
	qty := held
	if sig.Hint.HasQuantity() {
		qty = math.Min(sig.Hint.Quantity, held)
	}
	value := qty * price
	commission := value * r.cfg.CommissionRate

	filled, realized := r.pos.Reduce(qty, price, commission)
	if filled <= 0 {
		return
	}
	r.cash += value - commission
	r.pos.MarkToMarket(r.bar.Close)
	r.record(types.Trade{
		Time:        r.tradeTime(sig),
		Side:        types.SideSell,
		Price:       price,
		Quantity:    filled,
		Commission:  commission,
		RealizedPnL: realized,
		Hint:        sig.Hint,
		Payload:     sig.Payload,
	})
}

// record appends to the ledger, then notifies the strategy so it observes
// post-trade state.
func (r *run) record(t types.Trade) {
	r.trades = append(r.trades, t)
	r.strat.OnTrade(t)
}

func (r *run) tradeTime(sig types.Signal) time.Time {
	if sig.Time.IsZero() {
		return r.bar.Time
	}
	return sig.Time
}
