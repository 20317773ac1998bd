package strategies

import (
	"fmt"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

// Config is shared by every strategy. Fractions are in [0,1].
type Config struct {
	Name           string  `yaml:"name" json:"name"`
	Symbol         string  `yaml:"symbol" json:"symbol"`
	Timeframe      string  `yaml:"timeframe" json:"timeframe"`
	InstType       string  `yaml:"inst_type" json:"inst_type"`
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital"`
	PositionSize   float64 `yaml:"position_size" json:"position_size"`
	MaxPosition    float64 `yaml:"max_position" json:"max_position"`
	StopLoss       float64 `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit     float64 `yaml:"take_profit" json:"take_profit"`
	CommissionRate float64 `yaml:"commission_rate" json:"commission_rate"`
	Slippage       float64 `yaml:"slippage" json:"slippage"`
}

func DefaultConfig() Config {
	return Config{
		Symbol:         "BTC-USDT",
		Timeframe:      "1H",
		InstType:       "SPOT",
		InitialCapital: 10000,
		PositionSize:   0.5,
		MaxPosition:    1.0,
		StopLoss:       0.05,
		TakeProfit:     0.10,
		CommissionRate: 0.001,
		Slippage:       0.0005,
	}
}

func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %v", c.InitialCapital)
	}
	if c.PositionSize <= 0 || c.PositionSize > 1 {
		return fmt.Errorf("position_size must be in (0,1], got %v", c.PositionSize)
	}
	if c.MaxPosition <= 0 || c.MaxPosition > 1 {
		return fmt.Errorf("max_position must be in (0,1], got %v", c.MaxPosition)
	}
	if c.CommissionRate < 0 || c.Slippage < 0 {
		return fmt.Errorf("commission_rate and slippage must not be negative")
	}
	return nil
}

// Strategy is driven bar by bar by the backtest and live engines.
//
// The engine binds one *types.Position before Init and is its only writer.
// Strategies read it for decisions and learn about fills through OnTrade.
type Strategy interface {
	ID() string
	Name() string
	Config() Config
	BindPosition(p *types.Position)
	Position() *types.Position
	// Init receives the full history before the first OnBar call and resets
	// any per-run state.
	Init(bars []types.Bar)
	// Refresh replaces the bar window between live ticks without resetting
	// per-run state.
	Refresh(bars []types.Bar)
	OnBar(i int) types.Signal
	OnTrade(t types.Trade)
	Finish()
}

// Base carries the state every strategy needs. Embed it and implement
// ID, Init, Refresh and OnBar.
type Base struct {
	cfg    Config
	pos    *types.Position
	bars   []types.Bar
	trades []types.Trade
}

func NewBase(cfg Config) Base {
	return Base{cfg: cfg, pos: types.NewPosition(cfg.Symbol)}
}

func (b *Base) Name() string   { return b.cfg.Name }
func (b *Base) Config() Config { return b.cfg }

func (b *Base) BindPosition(p *types.Position) { b.pos = p }
func (b *Base) Position() *types.Position      { return b.pos }

func (b *Base) SetBars(bars []types.Bar) { b.bars = bars }
func (b *Base) Bars() []types.Bar        { return b.bars }

// Bar returns the bar at i and whether it exists.
func (b *Base) Bar(i int) (types.Bar, bool) {
	if i < 0 || i >= len(b.bars) {
		return types.Bar{}, false
	}
	return b.bars[i], true
}

func (b *Base) OnTrade(t types.Trade) { b.trades = append(b.trades, t) }

// Trades returns the fills seen by this strategy in the current run.
func (b *Base) Trades() []types.Trade { return b.trades }

func (b *Base) ResetTrades() { b.trades = nil }

func (b *Base) Finish() {}

// CheckExits returns a SELL when the open position has hit its stop-loss or
// take-profit threshold at bar i. A zero avg price never triggers.
func (b *Base) CheckExits(i int) (types.Signal, bool) {
	bar, ok := b.Bar(i)
	if !ok || b.pos == nil {
		return types.Signal{}, false
	}
	view := b.pos.View()
	if view.Quantity <= 0 || view.AvgPrice <= 0 {
		return types.Signal{}, false
	}
	price := bar.Close
	if b.cfg.StopLoss > 0 && (view.AvgPrice-price)/view.AvgPrice >= b.cfg.StopLoss {
		return types.Signal{Kind: types.SignalSell, Price: price, Time: bar.Time, Strength: 1, Reason: "stop loss"}, true
	}
	if b.cfg.TakeProfit > 0 && (price-view.AvgPrice)/view.AvgPrice >= b.cfg.TakeProfit {
		return types.Signal{Kind: types.SignalSell, Price: price, Time: bar.Time, Strength: 1, Reason: "take profit"}, true
	}
	return types.Signal{}, false
}
