// Package engine settles admitted opportunities: the two-leg buy/sell swap,
// either against real venue order APIs or as a paper simulation.
package engine

import (
	"context"

	"github.com/helioslabs/helios/internal/domain"
)

// Side is an order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderRequest is a single-leg order against one venue.
type OrderRequest struct {
	TradeID  string
	Venue    string
	Symbol   string
	Side     Side
	Price    float64
	Quantity float64
}

// OrderResult is the venue's fill report for one leg.
type OrderResult struct {
	OrderID        string
	FilledPrice    float64
	FilledQuantity float64
	Fee            float64
}

// OrderPlacer submits one order to one venue and reports the fill.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// Notional returns the quote-currency value of the fill.
func (r OrderResult) Notional() float64 {
	return r.FilledPrice * r.FilledQuantity
}

var _ domain.ExecutionEngine = (*LiveEngine)(nil)
var _ domain.ExecutionEngine = (*PaperEngine)(nil)
