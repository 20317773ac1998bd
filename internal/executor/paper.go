package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

// Paper is a dry-run venue and account. Orders fill immediately at the
// last marked price adjusted for slippage, and the fee is charged in the
// quote currency.
type Paper struct {
	mu       sync.Mutex
	balance  decimal.Decimal
	holdings map[string]decimal.Decimal
	marks    map[string]decimal.Decimal
	orders   map[string]types.OrderDetail
	feeRate  decimal.Decimal
	slippage decimal.Decimal
}

func NewPaper(balance, feeRate, slippage float64) *Paper {
	return &Paper{
		balance:  decimal.NewFromFloat(balance),
		holdings: make(map[string]decimal.Decimal),
		marks:    make(map[string]decimal.Decimal),
		orders:   make(map[string]types.OrderDetail),
		feeRate:  decimal.NewFromFloat(feeRate),
		slippage: decimal.NewFromFloat(slippage),
	}
}

func (p *Paper) Available() bool { return true }

// Mark sets the price the next order on symbol fills at.
func (p *Paper) Mark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = decimal.NewFromFloat(price)
}

// Balance returns the free quote balance and the base holding of symbol.
func (p *Paper) Balance(symbol string) (quote, base float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance.InexactFloat64(), p.holdings[symbol].InexactFloat64()
}

// MaxAvailableSize also marks symbol at lastPrice.
func (p *Paper) MaxAvailableSize(_ context.Context, symbol string, lastPrice float64) (types.MaxSize, error) {
	p.Mark(symbol, lastPrice)

	p.mu.Lock()
	defer p.mu.Unlock()

	out := types.MaxSize{MaxSell: p.holdings[symbol].InexactFloat64()}
	mark, ok := p.marks[symbol]
	if !ok {
		return out, nil
	}
	unit := p.buyPrice(mark).Mul(decimal.NewFromInt(1).Add(p.feeRate))
	if unit.IsPositive() {
		out.MaxBuy = p.balance.Div(unit).Truncate(maxBuyPlaces).InexactFloat64()
	}
	return out, nil
}

func (p *Paper) PlaceOrder(_ context.Context, req types.OrderRequest) (types.OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mark, ok := p.marks[req.Symbol]
	if !ok {
		return types.OrderAck{Error: fmt.Sprintf("no price for %s", req.Symbol)}, nil
	}
	if !req.Size.IsPositive() {
		return types.OrderAck{Error: "size must be positive"}, nil
	}

	var price decimal.Decimal
	switch req.Side {
	case types.SideBuy:
		price = p.buyPrice(mark)
		cost := req.Size.Mul(price)
		fee := cost.Mul(p.feeRate)
		if cost.Add(fee).GreaterThan(p.balance) {
			return types.OrderAck{Error: "insufficient balance"}, nil
		}
		p.balance = p.balance.Sub(cost).Sub(fee)
		p.holdings[req.Symbol] = p.holdings[req.Symbol].Add(req.Size)
	case types.SideSell:
		held := p.holdings[req.Symbol]
		if req.Size.GreaterThan(held) {
			return types.OrderAck{Error: "insufficient holdings"}, nil
		}
		price = mark.Mul(decimal.NewFromInt(1).Sub(p.slippage))
		proceeds := req.Size.Mul(price)
		p.balance = p.balance.Add(proceeds).Sub(proceeds.Mul(p.feeRate))
		p.holdings[req.Symbol] = held.Sub(req.Size)
	default:
		return types.OrderAck{Error: fmt.Sprintf("unknown side %q", req.Side)}, nil
	}

	id := uuid.NewString()
	p.orders[id] = types.OrderDetail{
		OrderID:    id,
		FilledSize: req.Size.InexactFloat64(),
		AvgPrice:   price.InexactFloat64(),
		State:      "filled",
	}

	log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("size", req.Size.String()).
		Str("price", price.String()).
		Msg("Paper order filled")

	return types.OrderAck{Success: true, OrderID: id}, nil
}

// CancelOrder always fails: paper orders fill on submission.
func (p *Paper) CancelOrder(_ context.Context, _, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[orderID]; !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	return fmt.Errorf("order %s already filled", orderID)
}

func (p *Paper) OrderDetail(_ context.Context, _, orderID string) (*types.OrderDetail, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (p *Paper) buyPrice(mark decimal.Decimal) decimal.Decimal {
	return mark.Mul(decimal.NewFromInt(1).Add(p.slippage))
}
