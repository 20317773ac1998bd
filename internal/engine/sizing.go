package engine

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

// sizePlaces is the quantity precision accepted by venues.
const sizePlaces = 6

// orderSize bounds a signal's quantity by what the venue allows. A sell
// never exceeds held, the quantity the strategy itself tracks. The result
// is truncated, never rounded up past a venue maximum.
func orderSize(sig types.Signal, max types.MaxSize, held, positionSize float64) decimal.Decimal {
	var q float64
	switch sig.Kind {
	case types.SignalBuy:
		q = max.MaxBuy * positionSize
		if sig.Hint.HasQuantity() {
			q = math.Min(sig.Hint.Quantity, max.MaxBuy)
		}
	case types.SignalSell:
		q = math.Min(max.MaxSell, held)
		if sig.Hint.HasQuantity() {
			q = math.Min(sig.Hint.Quantity, q)
		}
	}
	if q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(q).Truncate(sizePlaces)
}
