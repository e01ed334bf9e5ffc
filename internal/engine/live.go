package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helioslabs/helios/internal/domain"
)

// LiveEngine settles a trade by placing the buy leg, then the sell leg, each
// through the venue's order placer. If the sell leg fails after the buy leg
// filled, the position is unwound by selling back on the buy venue and the
// trade is reported as rolled back.
type LiveEngine struct {
	placers map[string]OrderPlacer
	logger  *slog.Logger
}

// NewLiveEngine creates an engine routing orders by venue name.
func NewLiveEngine(placers map[string]OrderPlacer, logger *slog.Logger) *LiveEngine {
	return &LiveEngine{
		placers: placers,
		logger:  logger.With(slog.String("component", "live_engine")),
	}
}

// Execute runs both legs in sequence. The returned result is always
// terminal; errors describe why the trade could not complete.
func (e *LiveEngine) Execute(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error) {
	buyer, ok := e.placers[req.BuyVenue]
	if !ok {
		return failed(), fmt.Errorf("engine: no order placer for venue %q", req.BuyVenue)
	}
	seller, ok := e.placers[req.SellVenue]
	if !ok {
		return failed(), fmt.Errorf("engine: no order placer for venue %q", req.SellVenue)
	}

	buyFill, err := buyer.PlaceOrder(ctx, OrderRequest{
		TradeID:  req.TradeID,
		Venue:    req.BuyVenue,
		Symbol:   req.Symbol,
		Side:     SideBuy,
		Price:    req.BuyPrice,
		Quantity: req.Quantity,
	})
	if err != nil {
		// Nothing filled, nothing to unwind.
		return failed(), fmt.Errorf("engine: buy leg on %s: %w", req.BuyVenue, err)
	}

	sellFill, err := seller.PlaceOrder(ctx, OrderRequest{
		TradeID:  req.TradeID,
		Venue:    req.SellVenue,
		Symbol:   req.Symbol,
		Side:     SideSell,
		Price:    req.SellPrice,
		Quantity: buyFill.FilledQuantity,
	})
	if err != nil {
		return e.unwind(ctx, req, buyFill, err)
	}

	return domain.ExecutionResult{
		Status:       domain.TradeStatusExecuted,
		ActualProfit: sellFill.Notional() - buyFill.Notional() - buyFill.Fee - sellFill.Fee,
		Fees:         buyFill.Fee + sellFill.Fee,
	}, nil
}

// unwind sells the already-bought quantity back on the buy venue. A
// successful unwind turns the trade into a rolled-back loss of the round
// trip's fees and slippage; a failed unwind leaves an open position and is
// reported as a plain failure for the operator to resolve.
func (e *LiveEngine) unwind(ctx context.Context, req domain.ExecutionRequest, buyFill OrderResult, sellErr error) (domain.ExecutionResult, error) {
	e.logger.Warn("sell leg failed, unwinding buy leg",
		slog.String("trade_id", req.TradeID),
		slog.String("venue", req.BuyVenue),
		slog.String("error", sellErr.Error()),
	)

	unwindFill, err := e.placers[req.BuyVenue].PlaceOrder(ctx, OrderRequest{
		TradeID:  req.TradeID,
		Venue:    req.BuyVenue,
		Symbol:   req.Symbol,
		Side:     SideSell,
		Price:    buyFill.FilledPrice,
		Quantity: buyFill.FilledQuantity,
	})
	if err != nil {
		e.logger.Error("unwind failed, position left open",
			slog.String("trade_id", req.TradeID),
			slog.String("error", err.Error()),
		)
		return failed(), fmt.Errorf("engine: sell leg: %v; unwind: %w", sellErr, err)
	}

	loss := unwindFill.Notional() - buyFill.Notional() - buyFill.Fee - unwindFill.Fee
	return domain.ExecutionResult{
		Status:       domain.TradeStatusRolledBack,
		ActualProfit: loss,
		Fees:         buyFill.Fee + unwindFill.Fee,
	}, nil
}

func failed() domain.ExecutionResult {
	return domain.ExecutionResult{Status: domain.TradeStatusFailed}
}
