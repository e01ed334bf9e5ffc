// Package scanner implements the price aggregator: it polls every configured
// venue concurrently on a fixed cadence, isolates per-venue failures, keeps a
// short-lived per-venue quote cache, and emits one batch of significant
// cross-venue spreads per scan tick.
package scanner

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/helioslabs/helios/internal/domain"
)

// Config holds scanner tuning parameters.
type Config struct {
	// Symbols is the tracked symbol set.
	Symbols []string
	// Interval is the scan cadence.
	Interval time.Duration
	// VenueTimeout bounds each venue fetch independently.
	VenueTimeout time.Duration
	// MinSpreadPercent is the significance floor; narrower spreads are not
	// emitted.
	MinSpreadPercent float64
}

// Scanner polls venues and computes spreads. One fetch per venue runs
// concurrently per cycle; a venue still in flight from a previous cycle is
// skipped until its fetch settles, so cycles never overlap per venue.
type Scanner struct {
	cfg     Config
	sources []domain.MarketDataSource
	clock   domain.Clock
	logger  *slog.Logger

	// mirror is an optional write-through of the latest quotes for external
	// consumers. Failures are logged, never fatal.
	mirror domain.QuoteCache

	mu       sync.Mutex
	cache    map[string]map[string]domain.PriceQuote // venue -> symbol -> quote
	inFlight map[string]bool
}

// New creates a Scanner over the given venues. Source order is significant:
// it decides the tie-break when several venues share an extreme price.
func New(cfg Config, sources []domain.MarketDataSource, clk domain.Clock, logger *slog.Logger) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = 2 * time.Second
	}
	if cfg.MinSpreadPercent <= 0 {
		cfg.MinSpreadPercent = 0.5
	}
	return &Scanner{
		cfg:      cfg,
		sources:  sources,
		clock:    clk,
		logger:   logger.With(slog.String("component", "scanner")),
		cache:    make(map[string]map[string]domain.PriceQuote, len(sources)),
		inFlight: make(map[string]bool, len(sources)),
	}
}

// SetQuoteMirror enables best-effort mirroring of fetched quotes to an
// external cache. Must be called before Run.
func (s *Scanner) SetQuoteMirror(mirror domain.QuoteCache) {
	s.mirror = mirror
}

// Scan fans out one fetch per venue with an independent timeout, fans in
// after all settle, and returns the fresh quotes plus per-venue errors. One
// venue failing or timing out never blocks or fails the others.
func (s *Scanner) Scan(ctx context.Context, symbols []string) (map[string][]domain.PriceQuote, map[string]error) {
	results := make(map[string][]domain.PriceQuote, len(s.sources))
	errs := make(map[string]error)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, src := range s.sources {
		venue := src.Name()
		if !s.markInFlight(venue) {
			// Previous cycle's fetch has not settled yet; skip this venue
			// for this tick rather than stacking requests on it.
			continue
		}

		wg.Add(1)
		go func(src domain.MarketDataSource, venue string) {
			defer wg.Done()
			defer s.clearInFlight(venue)

			fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.VenueTimeout)
			defer cancel()

			started := s.clock.Now()
			quotes, err := src.FetchPrices(fetchCtx, symbols)
			latency := s.clock.Now().Sub(started)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[venue] = err
				return
			}
			for i := range quotes {
				quotes[i].Venue = venue
				quotes[i].Latency = latency
				if quotes[i].ObservedAt.IsZero() {
					quotes[i].ObservedAt = started
				}
			}
			results[venue] = quotes
		}(src, venue)
	}
	wg.Wait()

	s.updateCache(ctx, results)
	return results, errs
}

func (s *Scanner) markInFlight(venue string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[venue] {
		return false
	}
	s.inFlight[venue] = true
	return true
}

func (s *Scanner) clearInFlight(venue string) {
	s.mu.Lock()
	s.inFlight[venue] = false
	s.mu.Unlock()
}

// updateCache overwrites each responding venue's cached quotes and mirrors
// them externally when a mirror is configured.
func (s *Scanner) updateCache(ctx context.Context, results map[string][]domain.PriceQuote) {
	s.mu.Lock()
	for venue, quotes := range results {
		bySymbol := s.cache[venue]
		if bySymbol == nil {
			bySymbol = make(map[string]domain.PriceQuote, len(quotes))
			s.cache[venue] = bySymbol
		}
		for _, q := range quotes {
			bySymbol[q.Symbol] = q
		}
	}
	s.mu.Unlock()

	if s.mirror == nil {
		return
	}
	// The mirror is best-effort per quote: one failed write must not
	// abandon the rest of the tick.
	for _, quotes := range results {
		for _, q := range quotes {
			if err := s.mirror.SetQuote(ctx, q); err != nil {
				s.logger.Warn("quote mirror write failed",
					slog.String("venue", q.Venue),
					slog.String("symbol", q.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// ComputeSpreads reduces one cycle's fresh quotes to at most one spread per
// symbol: always the (min, max) pair, because only the widest gap is
// economically actionable per tick. Spreads below the significance floor are
// dropped.
func (s *Scanner) ComputeSpreads(results map[string][]domain.PriceQuote) []domain.Spread {
	bySymbol := make(map[string][]domain.PriceQuote)
	// Walk venues in source order so the tie-break below is deterministic.
	for _, src := range s.sources {
		for _, q := range results[src.Name()] {
			if q.Price > 0 {
				bySymbol[q.Symbol] = append(bySymbol[q.Symbol], q)
			}
		}
	}

	now := s.clock.Now()
	var spreads []domain.Spread
	for _, symbol := range s.cfg.Symbols {
		quotes := bySymbol[symbol]
		if len(quotes) < 2 {
			continue
		}
		// Stable sort ascending by price. Venues tied at an extreme resolve
		// first-seen-in-sort order; this is a documented design choice with
		// no correctness impact, it only picks which venue nominally carries
		// the leg.
		sort.SliceStable(quotes, func(i, j int) bool {
			return quotes[i].Price < quotes[j].Price
		})
		low, high := quotes[0], quotes[len(quotes)-1]

		spreadPercent := (high.Price - low.Price) / low.Price * 100
		if spreadPercent <= s.cfg.MinSpreadPercent {
			continue
		}
		spreads = append(spreads, domain.Spread{
			Symbol:        symbol,
			LowVenue:      low.Venue,
			HighVenue:     high.Venue,
			LowPrice:      low.Price,
			HighPrice:     high.Price,
			SpreadPercent: spreadPercent,
			ObservedAt:    now,
		})
	}
	return spreads
}

// Run executes scan cycles on the configured cadence and sends each cycle's
// spread batch to out as one atomic tick. A slow cycle does not delay the
// next scheduled tick; the per-venue in-flight guard prevents overlap where
// it matters. Run blocks until ctx is cancelled and never closes out.
func (s *Scanner) Run(ctx context.Context, out chan<- []domain.Spread) error {
	s.logger.Info("scanner started",
		slog.Int("venues", len(s.sources)),
		slog.Int("symbols", len(s.cfg.Symbols)),
		slog.Duration("interval", s.cfg.Interval),
	)
	defer s.logger.Info("scanner stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			go s.cycle(ctx, out)
		}
	}
}

func (s *Scanner) cycle(ctx context.Context, out chan<- []domain.Spread) {
	results, errs := s.Scan(ctx, s.cfg.Symbols)
	for venue, err := range errs {
		// Recoverable-isolated: record and continue, never abort the loop.
		// Persistent failures surface through venue health metrics upstream.
		s.logger.Warn("venue fetch failed",
			slog.String("venue", venue),
			slog.String("error", err.Error()),
		)
	}

	spreads := s.ComputeSpreads(results)
	if len(spreads) == 0 {
		return
	}
	select {
	case out <- spreads:
	case <-ctx.Done():
	}
}

// Snapshot returns a copy of the cached quotes for one venue. Used by status
// handlers; the scanner itself only writes the cache.
func (s *Scanner) Snapshot(venue string) []domain.PriceQuote {
	s.mu.Lock()
	defer s.mu.Unlock()
	quotes := make([]domain.PriceQuote, 0, len(s.cache[venue]))
	for _, q := range s.cache[venue] {
		quotes = append(quotes, q)
	}
	return quotes
}
