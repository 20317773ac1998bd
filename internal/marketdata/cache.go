package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

const keyPrefix = "marketdata:bars"

// Cache is a Redis read-through cache in front of a Source. A nil client
// disables caching. Redis failures are logged and the source is used.
type Cache struct {
	client *redis.Client
	source Source
	ttl    time.Duration
}

func NewCache(client *redis.Client, source Source, ttl time.Duration) *Cache {
	return &Cache{client: client, source: source, ttl: ttl}
}

func (c *Cache) RecentBars(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error) {
	if c.client == nil || c.ttl <= 0 {
		return c.source.RecentBars(ctx, symbol, timeframe, count)
	}

	key := cacheKey(symbol, timeframe, count)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if bars, err := decodeBars(raw); err == nil {
			return bars, nil
		}
		log.Warn().Str("key", key).Msg("Discarding unreadable cache entry")
	case err != redis.Nil:
		log.Warn().Err(err).Str("key", key).Msg("Failed to read bar cache")
	}

	bars, err := c.source.RecentBars(ctx, symbol, timeframe, count)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return bars, nil
	}

	data, err := json.Marshal(bars)
	if err != nil {
		return bars, nil
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to write bar cache")
	}
	return bars, nil
}

func cacheKey(symbol, timeframe string, count int) string {
	return fmt.Sprintf("%s:%s:%s:%d", keyPrefix, symbol, timeframe, count)
}

func decodeBars(raw []byte) ([]types.Bar, error) {
	var bars []types.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("empty cache entry")
	}
	return bars, nil
}
