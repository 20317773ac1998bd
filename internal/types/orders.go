package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is a market order sent to a venue.
type OrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Type          string          `json:"type"` // market
	Size          decimal.Decimal `json:"size"`
	TdMode        string          `json:"td_mode"` // cash
}

// OrderAck is the venue's answer to an order submission. Success only means
// the order was accepted, not that it filled.
type OrderAck struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id"`
	Error   string `json:"error,omitempty"`
}

// OrderDetail is what the venue knows about an accepted order.
type OrderDetail struct {
	OrderID    string  `json:"order_id"`
	FilledSize float64 `json:"filled_size"`
	AvgPrice   float64 `json:"avg_price"`
	State      string  `json:"state"`
}

// MaxSize is the largest order the account can place right now.
type MaxSize struct {
	MaxBuy  float64 `json:"max_buy"`
	MaxSell float64 `json:"max_sell"`
}

// OrderRecord is one live order attempt, successful or not.
type OrderRecord struct {
	ID           string    `json:"id"`
	Time         time.Time `json:"time"`
	StrategyID   string    `json:"strategy_id"`
	StrategyName string    `json:"strategy_name"`
	Symbol       string    `json:"symbol"`
	SignalType   string    `json:"signal_type"`
	OrderID      string    `json:"order_id"`
	Side         Side      `json:"side"`
	Size         float64   `json:"size"`
	Price        float64   `json:"price"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
