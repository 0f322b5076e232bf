package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// quoteTTL bounds how long a cached quote is served. Stale quotes are worse
// than a broker round trip for risk decisions.
const quoteTTL = 5 * time.Second

// QuoteCache implements domain.QuoteCache using Redis hashes. Each symbol's
// quote is stored as a hash at key "quote:{symbol}" with fields "bid", "ask",
// "last", and "ts" (Unix nanosecond timestamp), expiring after quoteTTL.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

// SetQuote stores the latest quote for a symbol with a short TTL.
func (qc *QuoteCache) SetQuote(ctx context.Context, symbol string, q domain.Quote, ts time.Time) error {
	key := quoteKey(symbol)
	fields := map[string]interface{}{
		"bid":  strconv.FormatFloat(q.Bid, 'f', -1, 64),
		"ask":  strconv.FormatFloat(q.Ask, 'f', -1, 64),
		"last": strconv.FormatFloat(q.Last, 'f', -1, 64),
		"ts":   strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest cached quote for a symbol. It returns
// domain.ErrNotFound when no quote is cached or the entry has expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (domain.Quote, time.Time, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(symbol)).Result()
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}

	var q domain.Quote
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"bid", &q.Bid},
		{"ask", &q.Ask},
		{"last", &q.Last},
	} {
		raw, ok := vals[f.name]
		if !ok {
			return domain.Quote{}, time.Time{}, domain.ErrNotFound
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse quote %s field %s: %w", symbol, f.name, err)
		}
		*f.dst = v
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse quote ts %s: %w", symbol, err)
	}

	return q, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
