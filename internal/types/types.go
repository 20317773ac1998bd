package types

import "time"

// Bar is one OHLCV candle.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// SignalKind is the decision carried by a Signal.
type SignalKind string

const (
	SignalBuy  SignalKind = "buy"
	SignalSell SignalKind = "sell"
	SignalHold SignalKind = "hold"
)

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ExecHint carries execution instructions the engines understand without
// knowing anything about the strategy that produced them.
type ExecHint struct {
	// Quantity asks the engine to execute exactly this many units
	// (possibly reduced for cash or holdings). Zero means "size it yourself".
	Quantity float64 `json:"quantity,omitempty"`
}

// HasQuantity reports whether the hint pins an exact quantity.
func (h ExecHint) HasQuantity() bool { return h.Quantity > 0 }

// Signal is a strategy's decision for one bar. Treat it as immutable.
type Signal struct {
	Kind     SignalKind `json:"kind"`
	Price    float64    `json:"price"`
	Time     time.Time  `json:"time"`
	Strength float64    `json:"strength"`
	Reason   string     `json:"reason,omitempty"`
	Hint     ExecHint   `json:"hint"`
	// Payload is owned by the emitting strategy and echoed back untouched on
	// the Trade produced from this signal.
	Payload any `json:"-"`
}

// Hold builds a HOLD signal.
func Hold(price float64, t time.Time, reason string) Signal {
	return Signal{Kind: SignalHold, Price: price, Time: t, Strength: 1, Reason: reason}
}

// IsActionable reports whether the signal asks for an order.
func (s Signal) IsActionable() bool {
	return s.Kind == SignalBuy || s.Kind == SignalSell
}

// Side maps an actionable signal to a trade side.
func (s Signal) Side() Side {
	if s.Kind == SignalSell {
		return SideSell
	}
	return SideBuy
}

// Trade is one executed fill. Appended to a ledger and never mutated.
type Trade struct {
	Time        time.Time `json:"time"`
	Side        Side      `json:"side"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Commission  float64   `json:"commission"`
	RealizedPnL float64   `json:"realized_pnl"`
	Hint        ExecHint  `json:"hint"`
	Payload     any       `json:"-"`
}

// Value is the notional of the fill.
func (t Trade) Value() float64 { return t.Price * t.Quantity }

// AccountSnapshot is the account state after one processed bar.
type AccountSnapshot struct {
	Time             time.Time `json:"time"`
	Cash             float64   `json:"cash"`
	PositionValue    float64   `json:"position_value"`
	TotalEquity      float64   `json:"total_equity"`
	PositionQuantity float64   `json:"position_quantity"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
}

// NewSnapshot values the position at mark and derives total equity, so
// TotalEquity == Cash + PositionValue always holds.
func NewSnapshot(t time.Time, cash, quantity, mark, unrealized float64) AccountSnapshot {
	value := quantity * mark
	return AccountSnapshot{
		Time:             t,
		Cash:             cash,
		PositionValue:    value,
		TotalEquity:      cash + value,
		PositionQuantity: quantity,
		UnrealizedPnL:    unrealized,
	}
}

// Event is what the engine publishes on the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`   // signal, order, state
	Source    string                 `json:"source"` // strategy id
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}
