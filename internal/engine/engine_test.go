package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helioslabs/helios/internal/domain"
)

type scriptedPlacer struct {
	fills []OrderResult
	errs  []error
	calls []OrderRequest
}

func (p *scriptedPlacer) PlaceOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	i := len(p.calls)
	p.calls = append(p.calls, req)
	var fill OrderResult
	var err error
	if i < len(p.fills) {
		fill = p.fills[i]
	}
	if i < len(p.errs) {
		err = p.errs[i]
	}
	return fill, err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest() domain.ExecutionRequest {
	return domain.ExecutionRequest{
		TradeID:   "t-1",
		Symbol:    "SOL/USDC",
		BuyVenue:  "alpha",
		SellVenue: "beta",
		BuyPrice:  100,
		SellPrice: 102,
		Quantity:  10,
	}
}

func TestLiveEngineBothLegsFill(t *testing.T) {
	buyer := &scriptedPlacer{fills: []OrderResult{
		{OrderID: "b1", FilledPrice: 100.1, FilledQuantity: 10, Fee: 1.001},
	}}
	seller := &scriptedPlacer{fills: []OrderResult{
		{OrderID: "s1", FilledPrice: 101.9, FilledQuantity: 10, Fee: 1.019},
	}}
	eng := NewLiveEngine(map[string]OrderPlacer{"alpha": buyer, "beta": seller}, discard())

	res, err := eng.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusExecuted, res.Status)
	// 1019 - 1001 - 1.001 - 1.019
	assert.InDelta(t, 15.98, res.ActualProfit, 1e-9)
	assert.InDelta(t, 2.02, res.Fees, 1e-9)

	// Sell leg quantity follows the buy fill, not the request.
	require.Len(t, seller.calls, 1)
	assert.Equal(t, SideSell, seller.calls[0].Side)
	assert.Equal(t, 10.0, seller.calls[0].Quantity)
}

func TestLiveEngineBuyLegFails(t *testing.T) {
	buyer := &scriptedPlacer{errs: []error{errors.New("insufficient balance")}}
	seller := &scriptedPlacer{}
	eng := NewLiveEngine(map[string]OrderPlacer{"alpha": buyer, "beta": seller}, discard())

	res, err := eng.Execute(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, domain.TradeStatusFailed, res.Status)
	assert.Empty(t, seller.calls, "sell leg must not run after a failed buy")
}

func TestLiveEngineSellLegFailsRollsBack(t *testing.T) {
	buyer := &scriptedPlacer{fills: []OrderResult{
		{OrderID: "b1", FilledPrice: 100, FilledQuantity: 10, Fee: 1},
		{OrderID: "u1", FilledPrice: 99.8, FilledQuantity: 10, Fee: 0.998},
	}}
	seller := &scriptedPlacer{errs: []error{errors.New("market halted")}}
	eng := NewLiveEngine(map[string]OrderPlacer{"alpha": buyer, "beta": seller}, discard())

	res, err := eng.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusRolledBack, res.Status)
	// Unwind at 99.8: 998 - 1000 - 1 - 0.998
	assert.InDelta(t, -3.998, res.ActualProfit, 1e-9)

	// Second buyer call is the unwind sell.
	require.Len(t, buyer.calls, 2)
	assert.Equal(t, SideBuy, buyer.calls[0].Side)
	assert.Equal(t, SideSell, buyer.calls[1].Side)
}

func TestLiveEngineUnwindFails(t *testing.T) {
	buyer := &scriptedPlacer{
		fills: []OrderResult{{OrderID: "b1", FilledPrice: 100, FilledQuantity: 10, Fee: 1}},
		errs:  []error{nil, errors.New("venue unreachable")},
	}
	seller := &scriptedPlacer{errs: []error{errors.New("market halted")}}
	eng := NewLiveEngine(map[string]OrderPlacer{"alpha": buyer, "beta": seller}, discard())

	res, err := eng.Execute(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, domain.TradeStatusFailed, res.Status)
	assert.Contains(t, err.Error(), "unwind")
}

func TestLiveEngineUnknownVenue(t *testing.T) {
	eng := NewLiveEngine(map[string]OrderPlacer{}, discard())
	res, err := eng.Execute(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, domain.TradeStatusFailed, res.Status)
}

func TestPaperEngineAlwaysTerminal(t *testing.T) {
	eng := NewPaperEngine(PaperConfig{
		FillFailureRate:   0.3,
		MaxAdversePercent: 0.05,
		FeeRate:           0.001,
		Seed:              99,
	}, discard())

	var executed, rolledBack int
	for i := 0; i < 200; i++ {
		res, err := eng.Execute(context.Background(), testRequest())
		require.NoError(t, err)
		require.True(t, res.Status.Terminal())
		switch res.Status {
		case domain.TradeStatusExecuted:
			executed++
			// Adverse fills shave at most a few units off the ideal 20.
			assert.Less(t, res.ActualProfit, 20.0)
			assert.Greater(t, res.ActualProfit, 15.0)
		case domain.TradeStatusRolledBack:
			rolledBack++
			assert.Negative(t, res.ActualProfit)
		}
	}
	assert.Positive(t, executed)
	assert.Positive(t, rolledBack)
}

func TestPaperEngineDeterministic(t *testing.T) {
	cfg := PaperConfig{FillFailureRate: 0.2, FeeRate: 0.001, Seed: 7}
	a := NewPaperEngine(cfg, discard())
	b := NewPaperEngine(cfg, discard())

	for i := 0; i < 20; i++ {
		ra, err := a.Execute(context.Background(), testRequest())
		require.NoError(t, err)
		rb, err := b.Execute(context.Background(), testRequest())
		require.NoError(t, err)
		require.Equal(t, ra, rb, "step %d diverged", i)
	}
}

func TestRESTTraderPlaceOrder(t *testing.T) {
	var gotBody orderPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders", r.URL.Path)
		require.NoError(t, jsonDecode(r, &gotBody))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"order_id":"o-1","filled_price":100.05,"filled_quantity":10,"fee":1.0005}`)
	}))
	defer srv.Close()

	trader := NewRESTTrader(TraderConfig{Venue: "alpha", BaseURL: srv.URL})
	fill, err := trader.PlaceOrder(context.Background(), OrderRequest{
		TradeID: "t-1", Venue: "alpha", Symbol: "SOL/USDC", Side: SideBuy, Price: 100, Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "o-1", fill.OrderID)
	assert.Equal(t, 100.05, fill.FilledPrice)
	assert.Equal(t, "t-1:buy", gotBody.ClientOrderID)
	assert.Equal(t, "buy", gotBody.Side)
}

func TestRESTTraderRejectsUnfilled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"order_id":"o-2","filled_price":0,"filled_quantity":0}`)
	}))
	defer srv.Close()

	trader := NewRESTTrader(TraderConfig{Venue: "alpha", BaseURL: srv.URL})
	_, err := trader.PlaceOrder(context.Background(), OrderRequest{
		TradeID: "t-2", Symbol: "SOL/USDC", Side: SideSell, Price: 100, Quantity: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not filled")
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
