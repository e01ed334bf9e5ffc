package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TraderConfig configures an HTTP order placer for one venue.
type TraderConfig struct {
	Venue   string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RESTTrader places orders against a venue's HTTP order API.
type RESTTrader struct {
	cfg        TraderConfig
	httpClient *http.Client
}

var _ OrderPlacer = (*RESTTrader)(nil)

// NewRESTTrader creates an HTTP order placer.
func NewRESTTrader(cfg TraderConfig) *RESTTrader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RESTTrader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type orderPayload struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Price         float64 `json:"price"`
	Quantity      float64 `json:"quantity"`
}

type fillResponse struct {
	OrderID        string  `json:"order_id"`
	FilledPrice    float64 `json:"filled_price"`
	FilledQuantity float64 `json:"filled_quantity"`
	Fee            float64 `json:"fee"`
}

// PlaceOrder submits POST {base}/orders and returns the reported fill. The
// trade ID doubles as the client order ID so retries are idempotent on the
// venue side.
func (t *RESTTrader) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	payload, err := json.Marshal(orderPayload{
		ClientOrderID: req.TradeID + ":" + string(req.Side),
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Price:         req.Price,
		Quantity:      req.Quantity,
	})
	if err != nil {
		return OrderResult{}, fmt.Errorf("trader %s: encode order: %w", t.cfg.Venue, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return OrderResult{}, fmt.Errorf("trader %s: build request: %w", t.cfg.Venue, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		httpReq.Header.Set("X-API-Key", t.cfg.APIKey)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return OrderResult{}, fmt.Errorf("trader %s: place order: %w", t.cfg.Venue, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return OrderResult{}, fmt.Errorf("trader %s: read response: %w", t.cfg.Venue, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return OrderResult{}, fmt.Errorf("trader %s: status %d: %s",
			t.cfg.Venue, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var fill fillResponse
	if err := json.Unmarshal(body, &fill); err != nil {
		return OrderResult{}, fmt.Errorf("trader %s: decode fill: %w", t.cfg.Venue, err)
	}
	if fill.FilledQuantity <= 0 || fill.FilledPrice <= 0 {
		return OrderResult{}, fmt.Errorf("trader %s: order %s not filled", t.cfg.Venue, fill.OrderID)
	}

	return OrderResult{
		OrderID:        fill.OrderID,
		FilledPrice:    fill.FilledPrice,
		FilledQuantity: fill.FilledQuantity,
		Fee:            fill.Fee,
	}, nil
}
