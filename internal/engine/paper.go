package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/helioslabs/helios/internal/domain"
)

// PaperConfig tunes the simulated fill model.
type PaperConfig struct {
	// FillFailureRate is the probability a sell leg fails and forces a
	// rollback, in [0,1).
	FillFailureRate float64
	// MaxAdversePercent is the worst-case adverse fill move applied
	// randomly to each leg, as a percent of the leg price.
	MaxAdversePercent float64
	// FeeRate is charged on the notional of each filled leg.
	FeeRate float64
	// Latency delays each Execute call to mimic venue round trips.
	Latency time.Duration
	// Seed makes the fill sequence reproducible.
	Seed int64
}

// PaperEngine settles trades against a random fill model instead of real
// venues. Unlike pure simulation mode it produces realistic outcome
// variance: adverse fills, occasional rollbacks, and fee drag.
type PaperEngine struct {
	cfg    PaperConfig
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPaperEngine creates a paper trading engine.
func NewPaperEngine(cfg PaperConfig, logger *slog.Logger) *PaperEngine {
	if cfg.MaxAdversePercent <= 0 {
		cfg.MaxAdversePercent = 0.05
	}
	return &PaperEngine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "paper_engine")),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Execute simulates both legs. It never returns an error: every outcome is a
// terminal result, the way a real settlement ends in a fill report.
func (e *PaperEngine) Execute(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error) {
	if e.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return failed(), ctx.Err()
		case <-time.After(e.cfg.Latency):
		}
	}

	e.mu.Lock()
	buyAdverse := e.rng.Float64() * e.cfg.MaxAdversePercent / 100
	sellAdverse := e.rng.Float64() * e.cfg.MaxAdversePercent / 100
	sellFails := e.rng.Float64() < e.cfg.FillFailureRate
	e.mu.Unlock()

	buyPrice := req.BuyPrice * (1 + buyAdverse)
	buyCost := buyPrice * req.Quantity
	buyFee := buyCost * e.cfg.FeeRate

	if sellFails {
		// Sell leg rejected: unwind at the adverse buy price, eating the
		// round trip's fees.
		unwindProceeds := buyPrice * req.Quantity
		unwindFee := unwindProceeds * e.cfg.FeeRate
		loss := unwindProceeds - buyCost - buyFee - unwindFee
		e.logger.Warn("paper sell leg failed, rolled back",
			slog.String("trade_id", req.TradeID),
			slog.Float64("loss", loss),
		)
		return domain.ExecutionResult{
			Status:       domain.TradeStatusRolledBack,
			ActualProfit: loss,
			Fees:         buyFee + unwindFee,
		}, nil
	}

	sellPrice := req.SellPrice * (1 - sellAdverse)
	sellProceeds := sellPrice * req.Quantity
	sellFee := sellProceeds * e.cfg.FeeRate

	return domain.ExecutionResult{
		Status:       domain.TradeStatusExecuted,
		ActualProfit: sellProceeds - buyCost - buyFee - sellFee,
		Fees:         buyFee + sellFee,
	}, nil
}
