// Package venue provides the market data source implementations: REST
// polling, websocket streaming, and a deterministic simulator.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helioslabs/helios/internal/domain"
)

// RESTConfig configures a RESTSource.
type RESTConfig struct {
	// Name is the venue identifier carried on every quote.
	Name string
	// BaseURL is the API root, e.g. "https://api.venue.example/v1".
	BaseURL string
	// APIKey, when set, is sent as the X-API-Key header.
	APIKey string
	// Timeout bounds a single HTTP round trip. The scanner applies its own
	// per-fetch deadline on top.
	Timeout time.Duration
}

// RESTSource fetches spot prices from a venue's ticker endpoint.
type RESTSource struct {
	cfg        RESTConfig
	httpClient *http.Client
	clock      domain.Clock
}

var _ domain.MarketDataSource = (*RESTSource)(nil)

// NewRESTSource creates a REST polling source.
func NewRESTSource(cfg RESTConfig, clk domain.Clock) *RESTSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RESTSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		clock:      clk,
	}
}

// Name returns the venue identifier.
func (s *RESTSource) Name() string { return s.cfg.Name }

type tickerEntry struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

type tickersResponse struct {
	Tickers []tickerEntry `json:"tickers"`
}

// FetchPrices requests all symbols in one call against
// GET {base}/tickers?symbols=a,b. Symbols the venue does not list are
// simply absent from the result.
func (s *RESTSource) FetchPrices(ctx context.Context, symbols []string) ([]domain.PriceQuote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))

	body, err := s.doRequest(ctx, http.MethodGet, "/tickers?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("venue %s: fetch prices: %w", s.cfg.Name, err)
	}

	var resp tickersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("venue %s: decode tickers: %w", s.cfg.Name, err)
	}

	now := s.clock.Now()
	quotes := make([]domain.PriceQuote, 0, len(resp.Tickers))
	for _, t := range resp.Tickers {
		if t.Price <= 0 {
			continue
		}
		quotes = append(quotes, domain.PriceQuote{
			Venue:      s.cfg.Name,
			Symbol:     t.Symbol,
			Price:      t.Price,
			ObservedAt: now,
		})
	}
	return quotes, nil
}

func (s *RESTSource) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
