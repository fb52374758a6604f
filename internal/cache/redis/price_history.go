package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// PriceHistory records each cycle's market snapshot into a capped Redis list
// per market and serves those lists back as price series. It lets the bot
// run against a gateway that has no history endpoint.
//
// Each market's series lives at "{prefix}:prices:{marketID}", oldest first.
type PriceHistory struct {
	rdb       *redis.Client
	prefix    string
	maxLength int64
}

// NewPriceHistory creates a PriceHistory keeping at most maxLength prices
// per market.
func NewPriceHistory(c *Client, maxLength int) *PriceHistory {
	if maxLength < 2 {
		maxLength = 2
	}
	return &PriceHistory{rdb: c.Underlying(), prefix: c.prefix, maxLength: int64(maxLength)}
}

func (ph *PriceHistory) key(marketID string) string {
	return joinKey(ph.prefix, "prices", marketID)
}

// Record appends the latest price of every snapshot and trims each list to
// the configured length in a single pipeline. Unpriced snapshots are skipped.
func (ph *PriceHistory) Record(ctx context.Context, snaps []domain.MarketSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	pipe := ph.rdb.Pipeline()
	for _, s := range snaps {
		if !s.LastPrice.IsPositive() {
			continue
		}
		k := ph.key(s.MarketID)
		pipe.RPush(ctx, k, formatPrice(s.LastPrice.InexactFloat64()))
		pipe.LTrim(ctx, k, -ph.maxLength, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: record prices: %w", err)
	}
	return nil
}

// FetchPriceHistory returns the most recent minLength recorded prices, oldest
// first. A market with a shorter record returns what exists.
func (ph *PriceHistory) FetchPriceHistory(ctx context.Context, marketID string, minLength int) ([]float64, error) {
	if minLength < 1 {
		minLength = 1
	}
	raw, err := ph.rdb.LRange(ctx, ph.key(marketID), -int64(minLength), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: price history %s: %w: %w", marketID, domain.ErrDataUnavailable, err)
	}
	prices, err := parsePrices(raw)
	if err != nil {
		return nil, fmt.Errorf("redis: price history %s: %w: %w", marketID, domain.ErrDataUnavailable, err)
	}
	return prices, nil
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func parsePrices(raw []string) ([]float64, error) {
	out := make([]float64, 0, len(raw))
	for _, s := range raw {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", s, err)
		}
		out = append(out, f)
	}
	return out, nil
}

var (
	_ domain.PriceRecorder = (*PriceHistory)(nil)
	_ domain.PriceHistory  = (*PriceHistory)(nil)
)
