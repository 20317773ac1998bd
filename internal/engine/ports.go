package engine

import (
	"context"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

// MarketData returns the most recent bars, oldest first.
type MarketData interface {
	RecentBars(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error)
}

// Venue places and inspects orders. PlaceOrder returns an error only when
// the venue could not be reached; rejections come back in the ack.
type Venue interface {
	Available() bool
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// OrderDetail returns nil, nil when the venue has nothing on the order.
	OrderDetail(ctx context.Context, symbol, orderID string) (*types.OrderDetail, error)
}

type Account interface {
	Available() bool
	MaxAvailableSize(ctx context.Context, symbol string, lastPrice float64) (types.MaxSize, error)
}

type OrderStore interface {
	AppendOrderRecord(ctx context.Context, rec types.OrderRecord) error
}

// Publisher fans engine events out to other services.
type Publisher interface {
	Publish(ctx context.Context, stream string, event types.Event) error
}

// Deps are the collaborators of a live run. Events is optional.
type Deps struct {
	Venue      Venue
	Account    Account
	MarketData MarketData
	Store      OrderStore
	Events     Publisher
}
