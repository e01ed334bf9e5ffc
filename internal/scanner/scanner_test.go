package scanner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helioslabs/helios/internal/clock"
	"github.com/helioslabs/helios/internal/domain"
)

// stubSource serves canned quotes, optionally failing or blocking.
type stubSource struct {
	name    string
	prices  map[string]float64
	err     error
	delay   time.Duration
	fetches atomic.Int64
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchPrices(ctx context.Context, symbols []string) ([]domain.PriceQuote, error) {
	s.fetches.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	var quotes []domain.PriceQuote
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			quotes = append(quotes, domain.PriceQuote{Symbol: sym, Price: p})
		}
	}
	return quotes, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestScanner(cfg Config, sources ...domain.MarketDataSource) *Scanner {
	return New(cfg, sources, clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)), testLogger())
}

func TestScan_IsolatesVenueFailure(t *testing.T) {
	good := &stubSource{name: "alpha", prices: map[string]float64{"BTC/USDT": 100}}
	bad := &stubSource{name: "beta", err: errors.New("boom")}
	slow := &stubSource{name: "gamma", prices: map[string]float64{"BTC/USDT": 101}, delay: time.Second}

	s := newTestScanner(Config{
		Symbols:      []string{"BTC/USDT"},
		VenueTimeout: 50 * time.Millisecond,
	}, good, bad, slow)

	results, errs := s.Scan(context.Background(), []string{"BTC/USDT"})

	require.Len(t, results["alpha"], 1)
	assert.Equal(t, "alpha", results["alpha"][0].Venue)
	assert.Error(t, errs["beta"])
	assert.ErrorIs(t, errs["gamma"], context.DeadlineExceeded)
	assert.NotContains(t, results, "gamma")
}

func TestScan_SkipsInFlightVenue(t *testing.T) {
	src := &stubSource{name: "alpha", prices: map[string]float64{"BTC/USDT": 100}}
	s := newTestScanner(Config{Symbols: []string{"BTC/USDT"}}, src)

	require.True(t, s.markInFlight("alpha"))

	// The venue is still settling a previous fetch; this cycle must not
	// stack another request on it.
	results, errs := s.Scan(context.Background(), []string{"BTC/USDT"})
	assert.Empty(t, results)
	assert.Empty(t, errs)
	assert.Equal(t, int64(0), src.fetches.Load())

	s.clearInFlight("alpha")
	results, _ = s.Scan(context.Background(), []string{"BTC/USDT"})
	assert.Len(t, results["alpha"], 1)
}

// flakyMirror fails a fixed number of writes, then succeeds, recording every
// quote it was offered.
type flakyMirror struct {
	mu       sync.Mutex
	failures int
	offered  []domain.PriceQuote
}

func (m *flakyMirror) SetQuote(_ context.Context, q domain.PriceQuote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offered = append(m.offered, q)
	if m.failures > 0 {
		m.failures--
		return errors.New("mirror unavailable")
	}
	return nil
}

func (m *flakyMirror) GetQuote(context.Context, string, string) (domain.PriceQuote, error) {
	return domain.PriceQuote{}, nil
}

func TestUpdateCache_MirrorFailureDoesNotAbandonTick(t *testing.T) {
	s := newTestScanner(Config{Symbols: []string{"BTC/USDT", "ETH/USDT"}})
	mirror := &flakyMirror{failures: 1}
	s.SetQuoteMirror(mirror)

	s.updateCache(context.Background(), map[string][]domain.PriceQuote{
		"alpha": {
			{Venue: "alpha", Symbol: "BTC/USDT", Price: 100},
			{Venue: "alpha", Symbol: "ETH/USDT", Price: 10},
		},
		"beta": {
			{Venue: "beta", Symbol: "BTC/USDT", Price: 101},
			{Venue: "beta", Symbol: "ETH/USDT", Price: 11},
		},
	})

	// One failed write must not stop the remaining quotes from being
	// offered to the mirror.
	assert.Len(t, mirror.offered, 4)
}

func TestComputeSpreads_MinMaxPair(t *testing.T) {
	s := newTestScanner(Config{Symbols: []string{"ETH/USDT"}, MinSpreadPercent: 0.5},
		&stubSource{name: "alpha"}, &stubSource{name: "beta"}, &stubSource{name: "gamma"})

	results := map[string][]domain.PriceQuote{
		"alpha": {{Venue: "alpha", Symbol: "ETH/USDT", Price: 2010}},
		"beta":  {{Venue: "beta", Symbol: "ETH/USDT", Price: 2000}},
		"gamma": {{Venue: "gamma", Symbol: "ETH/USDT", Price: 2040}},
	}

	spreads := s.ComputeSpreads(results)
	require.Len(t, spreads, 1)

	sp := spreads[0]
	assert.Equal(t, "beta", sp.LowVenue)
	assert.Equal(t, "gamma", sp.HighVenue)
	assert.Equal(t, 2000.0, sp.LowPrice)
	assert.Equal(t, 2040.0, sp.HighPrice)
	assert.InDelta(t, 2.0, sp.SpreadPercent, 1e-9)
	assert.GreaterOrEqual(t, sp.HighPrice, sp.LowPrice)
}

func TestComputeSpreads_SignificanceFloor(t *testing.T) {
	s := newTestScanner(Config{Symbols: []string{"BTC/USDT"}, MinSpreadPercent: 0.5},
		&stubSource{name: "alpha"}, &stubSource{name: "beta"})

	results := map[string][]domain.PriceQuote{
		"alpha": {{Venue: "alpha", Symbol: "BTC/USDT", Price: 100.0}},
		"beta":  {{Venue: "beta", Symbol: "BTC/USDT", Price: 100.4}},
	}
	assert.Empty(t, s.ComputeSpreads(results), "0.4%% spread is below the floor")

	results["beta"][0].Price = 100.6
	assert.Len(t, s.ComputeSpreads(results), 1)
}

func TestComputeSpreads_TieBreakFirstSeen(t *testing.T) {
	// alpha and beta quote the identical low price; the first source in
	// config order must carry the buy leg.
	s := newTestScanner(Config{Symbols: []string{"BTC/USDT"}, MinSpreadPercent: 0.5},
		&stubSource{name: "alpha"}, &stubSource{name: "beta"}, &stubSource{name: "gamma"})

	results := map[string][]domain.PriceQuote{
		"alpha": {{Venue: "alpha", Symbol: "BTC/USDT", Price: 100}},
		"beta":  {{Venue: "beta", Symbol: "BTC/USDT", Price: 100}},
		"gamma": {{Venue: "gamma", Symbol: "BTC/USDT", Price: 102}},
	}

	spreads := s.ComputeSpreads(results)
	require.Len(t, spreads, 1)
	assert.Equal(t, "alpha", spreads[0].LowVenue)
}

func TestComputeSpreads_SingleVenueNoSpread(t *testing.T) {
	s := newTestScanner(Config{Symbols: []string{"BTC/USDT"}},
		&stubSource{name: "alpha"}, &stubSource{name: "beta"})

	results := map[string][]domain.PriceQuote{
		"alpha": {{Venue: "alpha", Symbol: "BTC/USDT", Price: 100}},
	}
	assert.Empty(t, s.ComputeSpreads(results))
}

func TestRun_EmitsBatchPerTick(t *testing.T) {
	alpha := &stubSource{name: "alpha", prices: map[string]float64{"BTC/USDT": 100, "ETH/USDT": 2000}}
	beta := &stubSource{name: "beta", prices: map[string]float64{"BTC/USDT": 102, "ETH/USDT": 2050}}

	s := New(Config{
		Symbols:          []string{"BTC/USDT", "ETH/USDT"},
		Interval:         10 * time.Millisecond,
		MinSpreadPercent: 0.5,
	}, []domain.MarketDataSource{alpha, beta}, clock.Real{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan []domain.Spread, 8)
	go func() { _ = s.Run(ctx, out) }()

	select {
	case batch := <-out:
		// Both symbols arrive in one atomic tick.
		require.Len(t, batch, 2)
		assert.Equal(t, "BTC/USDT", batch[0].Symbol)
		assert.Equal(t, "ETH/USDT", batch[1].Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("no spread batch emitted")
	}
}
