package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helioslabs/helios/internal/domain"
)

// quoteTTL expires mirrored quotes that stop being refreshed, so external
// readers never act on a venue that silently went away.
const quoteTTL = 30 * time.Second

// QuoteCache mirrors the scanner's latest quotes into Redis hashes so
// dashboards and the risk service can read them without touching the
// pipeline. Each quote lives at "quote:{venue}:{symbol}" with fields
// "price", "ts" (Unix nanoseconds) and "latency_ms".
type QuoteCache struct {
	rdb *redis.Client
}

var _ domain.QuoteCache = (*QuoteCache)(nil)

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(venue, symbol string) string {
	return "quote:" + venue + ":" + symbol
}

// SetQuote stores the latest quote for a venue/symbol pair.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	key := quoteKey(q.Venue, q.Symbol)
	fields := map[string]interface{}{
		"price":      strconv.FormatFloat(q.Price, 'f', -1, 64),
		"ts":         strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
		"latency_ms": strconv.FormatInt(q.Latency.Milliseconds(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", q.Venue, q.Symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a venue/symbol pair. It returns
// domain.ErrNotFound when no quote is mirrored.
func (qc *QuoteCache) GetQuote(ctx context.Context, venue, symbol string) (domain.PriceQuote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(venue, symbol)).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s/%s: %w", venue, symbol, err)
	}
	if len(vals) == 0 {
		return domain.PriceQuote{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse quote price %s/%s: %w", venue, symbol, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse quote ts %s/%s: %w", venue, symbol, err)
	}
	latencyMs, _ := strconv.ParseInt(vals["latency_ms"], 10, 64)

	return domain.PriceQuote{
		Venue:      venue,
		Symbol:     symbol,
		Price:      price,
		ObservedAt: time.Unix(0, tsNano).UTC(),
		Latency:    time.Duration(latencyMs) * time.Millisecond,
	}, nil
}
