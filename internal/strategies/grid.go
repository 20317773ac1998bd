package strategies

import (
	"fmt"
	"math"
	"time"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

const (
	GridArithmetic = "arithmetic"
	GridGeometric  = "geometric"
)

// Remainders below the venue's 6-decimal size precision cannot be sold and
// would otherwise pin a level as held forever.
const gridDust = 1e-6

type GridParams struct {
	UpperPrice float64 `yaml:"upper_price"`
	LowerPrice float64 `yaml:"lower_price"`
	GridCount  int     `yaml:"grid_count"`
	GridType   string  `yaml:"grid_type"`
}

func (p GridParams) Validate() error {
	if p.UpperPrice <= 0 || p.LowerPrice <= 0 {
		return fmt.Errorf("upper_price and lower_price must be positive")
	}
	if p.UpperPrice <= p.LowerPrice {
		return fmt.Errorf("upper_price %.4f must be above lower_price %.4f", p.UpperPrice, p.LowerPrice)
	}
	if (p.UpperPrice-p.LowerPrice)/p.LowerPrice < 0.01 {
		return fmt.Errorf("grid range must be at least 1%% of lower_price")
	}
	if p.GridCount < 2 || p.GridCount > 100 {
		return fmt.Errorf("grid_count must be in [2,100], got %d", p.GridCount)
	}
	if p.GridType != GridArithmetic && p.GridType != GridGeometric {
		return fmt.Errorf("unknown grid_type %q", p.GridType)
	}
	return nil
}

// GridLevel is one price line. Holding state changes only in OnTrade.
type GridLevel struct {
	Index    int     `json:"index"`
	Price    float64 `json:"price"`
	BuyPrice float64 `json:"buy_price"`
	Quantity float64 `json:"quantity"`
	Holding  bool    `json:"is_holding"`
}

// gridTag rides on Signal.Payload and comes back on the Trade.
type gridTag struct {
	Level    int
	BuyLevel int // -1 on buys
}

// Grid buys each line crossed on the way down and sells the nearest held
// level below each line crossed on the way up.
type Grid struct {
	Base
	params         GridParams
	levels         []GridLevel
	capitalPerGrid float64
	lastPrice      float64
	pending        []types.Signal
}

func NewGrid(cfg Config, params GridParams) (*Grid, error) {
	if params.GridCount == 0 {
		params.GridCount = 10
	}
	if params.GridType == "" {
		params.GridType = GridArithmetic
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "Grid"
	}
	// levels carry their own exits
	cfg.StopLoss = 0
	cfg.TakeProfit = 0

	g := &Grid{Base: NewBase(cfg), params: params}
	g.buildLevels()
	return g, nil
}

func (g *Grid) ID() string { return "grid" }

func (g *Grid) Params() GridParams { return g.params }

func (g *Grid) buildLevels() {
	upper, lower, n := g.params.UpperPrice, g.params.LowerPrice, g.params.GridCount
	g.levels = make([]GridLevel, n+1)
	if g.params.GridType == GridGeometric {
		ratio := math.Pow(upper/lower, 1/float64(n))
		for i := range g.levels {
			g.levels[i] = GridLevel{Index: i, Price: lower * math.Pow(ratio, float64(i))}
		}
	} else {
		step := (upper - lower) / float64(n)
		for i := range g.levels {
			g.levels[i] = GridLevel{Index: i, Price: lower + step*float64(i)}
		}
	}
	g.capitalPerGrid = g.cfg.InitialCapital * g.cfg.PositionSize / float64(n)
}

func (g *Grid) Init(bars []types.Bar) {
	g.SetBars(bars)
	g.ResetTrades()
	for i := range g.levels {
		g.levels[i].BuyPrice = 0
		g.levels[i].Quantity = 0
		g.levels[i].Holding = false
	}
	g.pending = nil
	g.lastPrice = 0
	if len(bars) > 0 {
		g.lastPrice = bars[0].Close
	}
}

func (g *Grid) Refresh(bars []types.Bar) { g.SetBars(bars) }

func (g *Grid) OnBar(i int) types.Signal {
	if sig, ok := g.CheckExits(i); ok {
		return sig
	}
	bar, ok := g.Bar(i)
	if !ok {
		return types.Hold(0, time.Time{}, "no bar")
	}
	if len(g.pending) > 0 {
		sig := g.pending[0]
		g.pending = g.pending[1:]
		return sig
	}

	price := bar.Close
	switch {
	case price > g.params.UpperPrice:
		g.lastPrice = price
		return types.Hold(price, bar.Time, "price above grid")
	case price < g.params.LowerPrice:
		g.lastPrice = price
		return types.Hold(price, bar.Time, "price below grid")
	}

	signals := g.crossings(price, bar.Time)
	g.lastPrice = price
	if len(signals) == 0 {
		return types.Hold(price, bar.Time, "waiting for grid cross")
	}
	g.pending = append(g.pending, signals[1:]...)
	return signals[0]
}

func (g *Grid) crossings(price float64, t time.Time) []types.Signal {
	var out []types.Signal
	switch {
	case price < g.lastPrice:
		for i := len(g.levels) - 1; i >= 0; i-- {
			lvl := g.levels[i]
			if g.lastPrice >= lvl.Price && lvl.Price > price && !lvl.Holding {
				out = append(out, types.Signal{
					Kind:     types.SignalBuy,
					Price:    price,
					Time:     t,
					Strength: 1,
					Reason:   fmt.Sprintf("buy grid #%d (%.2f)", lvl.Index+1, lvl.Price),
					Hint:     types.ExecHint{Quantity: g.capitalPerGrid / price},
					Payload:  gridTag{Level: lvl.Index, BuyLevel: -1},
				})
			}
		}
	case price > g.lastPrice:
		// one exit per held level even when several lines are crossed
		claimed := make(map[int]bool)
		for _, lvl := range g.levels {
			if !(g.lastPrice <= lvl.Price && lvl.Price < price) {
				continue
			}
			held := g.holdingBelow(lvl.Index, claimed)
			if held == nil || held.Quantity <= 0 {
				continue
			}
			claimed[held.Index] = true
			out = append(out, types.Signal{
				Kind:     types.SignalSell,
				Price:    price,
				Time:     t,
				Strength: 1,
				Reason:   fmt.Sprintf("sell grid #%d (level #%d)", lvl.Index+1, held.Index+1),
				Hint:     types.ExecHint{Quantity: held.Quantity},
				Payload:  gridTag{Level: lvl.Index, BuyLevel: held.Index},
			})
		}
	}
	return out
}

func (g *Grid) holdingBelow(index int, claimed map[int]bool) *GridLevel {
	for i := index - 1; i >= 0; i-- {
		if g.levels[i].Holding && !claimed[i] {
			return &g.levels[i]
		}
	}
	return nil
}

// OnTrade books the confirmed fill against the level that asked for it.
func (g *Grid) OnTrade(t types.Trade) {
	g.Base.OnTrade(t)
	tag, ok := t.Payload.(gridTag)
	if !ok {
		return
	}
	switch t.Side {
	case types.SideBuy:
		if tag.Level < 0 || tag.Level >= len(g.levels) {
			return
		}
		lvl := &g.levels[tag.Level]
		lvl.Holding = true
		lvl.Quantity = t.Quantity
		lvl.BuyPrice = t.Price
	case types.SideSell:
		if tag.BuyLevel < 0 || tag.BuyLevel >= len(g.levels) {
			return
		}
		lvl := &g.levels[tag.BuyLevel]
		lvl.Quantity -= t.Quantity
		if lvl.Quantity <= gridDust {
			lvl.Holding = false
			lvl.Quantity = 0
			lvl.BuyPrice = 0
		}
	}
}

// Levels returns a copy of the grid state.
func (g *Grid) Levels() []GridLevel {
	out := make([]GridLevel, len(g.levels))
	copy(out, g.levels)
	return out
}

func (g *Grid) HoldingCount() int {
	n := 0
	for _, lvl := range g.levels {
		if lvl.Holding {
			n++
		}
	}
	return n
}

func (g *Grid) CapitalPerGrid() float64 { return g.capitalPerGrid }

// GridStatus summarizes the grid for the live status view.
type GridStatus struct {
	UpperPrice     float64     `json:"upper_price"`
	LowerPrice     float64     `json:"lower_price"`
	GridCount      int         `json:"grid_count"`
	GridType       string      `json:"grid_type"`
	CapitalPerGrid float64     `json:"capital_per_grid"`
	HoldingCount   int         `json:"holding_count"`
	Levels         []GridLevel `json:"levels"`
}

func (g *Grid) GridStatus() GridStatus {
	return GridStatus{
		UpperPrice:     g.params.UpperPrice,
		LowerPrice:     g.params.LowerPrice,
		GridCount:      g.params.GridCount,
		GridType:       g.params.GridType,
		CapitalPerGrid: g.capitalPerGrid,
		HoldingCount:   g.HoldingCount(),
		Levels:         g.Levels(),
	}
}
