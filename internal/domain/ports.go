package domain

import (
	"context"
	"time"
)

// MarketDataSource fetches current prices from one venue. Implementations may
// poll a REST API, read from a websocket feed, or synthesize prices.
type MarketDataSource interface {
	// Name returns the venue identifier used in quotes and spreads.
	Name() string
	// FetchPrices returns one quote per requested symbol. A partial result
	// with no error is valid when the venue does not list every symbol.
	FetchPrices(ctx context.Context, symbols []string) ([]PriceQuote, error)
}

// ExecutionRequest describes the two-leg swap the engine should settle.
type ExecutionRequest struct {
	TradeID        string
	Symbol         string
	BuyVenue       string
	SellVenue      string
	BuyPrice       float64
	SellPrice      float64
	Quantity       float64
	ExpectedProfit float64
}

// ExecutionResult is the engine's settlement outcome. Status is one of
// executed, failed, or rolled_back.
type ExecutionResult struct {
	Status       TradeStatus
	ActualProfit float64
	Fees         float64
}

// ExecutionEngine performs the actual buy/sell settlement. The call may block
// for an arbitrarily long time; callers must keep capital accounting correct
// regardless of how long settlement takes.
type ExecutionEngine interface {
	Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
}

// RiskCheck is the input to an independent predictive risk evaluation.
type RiskCheck struct {
	Symbol         string
	BuyPrice       float64
	SellPrice      float64
	ExpectedProfit float64
	Window         time.Duration
}

// RiskVerdict is the oracle's answer. Proceed=false vetoes the opportunity
// before any capital is reserved.
type RiskVerdict struct {
	Proceed   bool
	Rationale string
}

// RiskOracle is an independent predictive check consulted before execution.
type RiskOracle interface {
	Evaluate(ctx context.Context, check RiskCheck) (RiskVerdict, error)
}

// Clock abstracts wall time so rate-limit and loss windows are
// deterministically testable.
type Clock interface {
	Now() time.Time
}

// TradeStore persists trade records and serves history queries.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	Update(ctx context.Context, rec TradeRecord) error
	ListRecent(ctx context.Context, limit int) ([]TradeRecord, error)
	// ListSettledBefore returns terminal records older than cutoff, for
	// cold-storage archival.
	ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]TradeRecord, error)
	DailyStats(ctx context.Context, day time.Time) (DailyStats, error)
}

// QuoteCache mirrors the scanner's latest per-venue quotes for external
// consumers (dashboards, the risk oracle). The scanner itself never reads it.
type QuoteCache interface {
	SetQuote(ctx context.Context, q PriceQuote) error
	GetQuote(ctx context.Context, venue, symbol string) (PriceQuote, error)
}

// BusMessage is one event bus delivery. Channel is the concrete channel the
// payload arrived on, which matters when the subscription was a pattern.
type BusMessage struct {
	Channel string
	Payload []byte
}

// RateLimiter bounds request volume per key over a sliding window. A false
// result means the limit is reached and the request was not counted.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// EventBus publishes pipeline events to out-of-process subscribers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan BusMessage, error)
}

// BlobWriter stores archived payloads in object storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
