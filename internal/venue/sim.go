package venue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/helioslabs/helios/internal/domain"
)

// SimConfig configures a SimSource.
type SimConfig struct {
	// Name is the venue identifier carried on every quote.
	Name string
	// BasePrices seeds the walk with a starting price per symbol.
	BasePrices map[string]float64
	// DriftPercent biases this venue's prices relative to base, so two
	// simulated venues produce persistent spreads. May be negative.
	DriftPercent float64
	// VolatilityPercent is the per-fetch random step size.
	VolatilityPercent float64
	// Seed makes the walk reproducible.
	Seed int64
}

// SimSource synthesizes prices with a bounded random walk per symbol. Two
// SimSources with different drift settings reliably produce spreads, which
// makes the whole pipeline exercisable with no external venue at all.
type SimSource struct {
	cfg SimConfig

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	clock  domain.Clock
}

var _ domain.MarketDataSource = (*SimSource)(nil)

// NewSimSource creates a simulated venue.
func NewSimSource(cfg SimConfig, clk domain.Clock) *SimSource {
	if cfg.VolatilityPercent <= 0 {
		cfg.VolatilityPercent = 0.2
	}
	prices := make(map[string]float64, len(cfg.BasePrices))
	for sym, base := range cfg.BasePrices {
		prices[sym] = base * (1 + cfg.DriftPercent/100)
	}
	return &SimSource{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		prices: prices,
		clock:  clk,
	}
}

// Name returns the venue identifier.
func (s *SimSource) Name() string { return s.cfg.Name }

// FetchPrices advances the walk one step for each requested symbol and
// returns the resulting quotes. Unknown symbols are an error: a simulator
// asked for a symbol it was never seeded with is a configuration mistake.
func (s *SimSource) FetchPrices(_ context.Context, symbols []string) ([]domain.PriceQuote, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	quotes := make([]domain.PriceQuote, 0, len(symbols))
	for _, sym := range symbols {
		price, ok := s.prices[sym]
		if !ok {
			return nil, fmt.Errorf("venue %s: symbol %q not seeded", s.cfg.Name, sym)
		}

		// Step within +/- VolatilityPercent, pulled gently back toward the
		// drifted base so the walk cannot run away.
		step := (s.rng.Float64()*2 - 1) * s.cfg.VolatilityPercent / 100
		base := s.cfg.BasePrices[sym] * (1 + s.cfg.DriftPercent/100)
		price = price*(1+step)*0.99 + base*0.01
		s.prices[sym] = price

		quotes = append(quotes, domain.PriceQuote{
			Venue:      s.cfg.Name,
			Symbol:     sym,
			Price:      price,
			ObservedAt: now,
		})
	}
	return quotes, nil
}
