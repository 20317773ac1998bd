package types

import "sync"

// Position is the single open spot position of a run.
//
// One *Position is shared between the engine that owns the run and the
// strategy it drives. The engine is the only writer (AddFill, Reduce,
// MarkToMarket); strategies only read. The lock lets status readers observe
// a live run from other goroutines.
type Position struct {
	mu            sync.RWMutex
	symbol        string
	quantity      float64
	avgPrice      float64
	unrealizedPnL float64
	realizedPnL   float64
}

// PositionView is a point-in-time copy of a Position.
type PositionView struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

// NewPosition returns a flat position for symbol.
func NewPosition(symbol string) *Position {
	return &Position{symbol: symbol}
}

func (p *Position) Symbol() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.symbol
}

func (p *Position) Quantity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.quantity
}

func (p *Position) AvgPrice() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.avgPrice
}

// IsFlat reports whether nothing is held.
func (p *Position) IsFlat() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.quantity <= 0
}

// View copies the current state.
func (p *Position) View() PositionView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PositionView{
		Symbol:        p.symbol,
		Quantity:      p.quantity,
		AvgPrice:      p.avgPrice,
		UnrealizedPnL: p.unrealizedPnL,
		RealizedPnL:   p.realizedPnL,
	}
}

// MarkToMarket refreshes unrealized P&L at price. No-op while flat.
func (p *Position) MarkToMarket(price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quantity > 0 {
		p.unrealizedPnL = (price - p.avgPrice) * p.quantity
	}
}

// AddFill books a buy of qty at price. Commission is capitalised into the
// weighted-average cost basis.
func (p *Position) AddFill(qty, price, commission float64) {
	if qty <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cost := p.avgPrice*p.quantity + qty*price + commission
	p.quantity += qty
	p.avgPrice = cost / p.quantity
}

// Reduce books a sell of up to qty at price and returns the quantity actually
// removed and the realized P&L net of commission. The cost basis is cleared
// when the position goes flat.
func (p *Position) Reduce(qty, price, commission float64) (filled, realized float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quantity <= 0 || qty <= 0 {
		return 0, 0
	}
	filled = qty
	if filled > p.quantity {
		filled = p.quantity
	}
	realized = filled*price - commission - p.avgPrice*filled
	p.realizedPnL += realized
	p.quantity -= filled
	if p.quantity <= 0 {
		p.quantity = 0
		p.avgPrice = 0
		p.unrealizedPnL = 0
	}
	return filled, realized
}
