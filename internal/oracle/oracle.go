// Package oracle consults an external predictive risk service before capital
// is committed to an opportunity.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/helioslabs/helios/internal/domain"
)

// Config configures the HTTP oracle client.
type Config struct {
	// BaseURL is the risk service root, e.g. "http://risk.internal:9090".
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client asks a remote risk service whether an opportunity should proceed.
// Callers are expected to treat transport errors as a veto.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ domain.RiskOracle = (*Client)(nil)

// NewClient creates an oracle client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type assessRequest struct {
	Symbol         string  `json:"symbol"`
	BuyPrice       float64 `json:"buy_price"`
	SellPrice      float64 `json:"sell_price"`
	ExpectedProfit float64 `json:"expected_profit"`
	WindowMs       int64   `json:"window_ms"`
}

type assessResponse struct {
	Proceed   bool   `json:"proceed"`
	Rationale string `json:"rationale"`
}

// Evaluate posts the check to POST {base}/assess and returns the verdict.
func (c *Client) Evaluate(ctx context.Context, check domain.RiskCheck) (domain.RiskVerdict, error) {
	payload, err := json.Marshal(assessRequest{
		Symbol:         check.Symbol,
		BuyPrice:       check.BuyPrice,
		SellPrice:      check.SellPrice,
		ExpectedProfit: check.ExpectedProfit,
		WindowMs:       check.Window.Milliseconds(),
	})
	if err != nil {
		return domain.RiskVerdict{}, fmt.Errorf("oracle: encode check: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/assess", bytes.NewReader(payload))
	if err != nil {
		return domain.RiskVerdict{}, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.RiskVerdict{}, fmt.Errorf("oracle: assess: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.RiskVerdict{}, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.RiskVerdict{}, fmt.Errorf("oracle: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out assessResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.RiskVerdict{}, fmt.Errorf("oracle: decode verdict: %w", err)
	}
	return domain.RiskVerdict{Proceed: out.Proceed, Rationale: out.Rationale}, nil
}

// Permissive approves every check. It stands in when no risk service is
// configured, keeping the pipeline's oracle step uniform.
type Permissive struct{}

var _ domain.RiskOracle = Permissive{}

// Evaluate always proceeds.
func (Permissive) Evaluate(context.Context, domain.RiskCheck) (domain.RiskVerdict, error) {
	return domain.RiskVerdict{Proceed: true, Rationale: "no risk service configured"}, nil
}
