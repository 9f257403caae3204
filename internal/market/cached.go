package market

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"RiskPilot-Chain/pkg/logger"
)

const defaultCacheTTL = 5 * time.Minute

// CachedSentiment memoizes a SentimentSource per set of terms. Cache errors
// are logged and bypassed.
type CachedSentiment struct {
	inner SentimentSource
	cache Cache
	ttl   time.Duration
	log   *slog.Logger
}

// NewCachedSentiment wraps inner. ttl <= 0 uses five minutes.
func NewCachedSentiment(inner SentimentSource, cache Cache, ttl time.Duration) *CachedSentiment {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedSentiment{inner: inner, cache: cache, ttl: ttl, log: logger.Named("market.cache")}
}

// FetchSentimentAndNews implements SentimentSource.
func (c *CachedSentiment) FetchSentimentAndNews(ctx context.Context, terms []string) (SentimentReport, error) {
	key := "sentiment:" + termsKey(terms)
	var report SentimentReport
	if c.lookup(ctx, key, &report) {
		return report, nil
	}
	report, err := c.inner.FetchSentimentAndNews(ctx, terms)
	if err != nil {
		return SentimentReport{}, err
	}
	c.store(ctx, key, report)
	return report, nil
}

func (c *CachedSentiment) lookup(ctx context.Context, key string, out any) bool {
	return lookup(ctx, c.cache, c.log, key, out)
}

func (c *CachedSentiment) store(ctx context.Context, key string, v any) {
	store(ctx, c.cache, c.log, key, v, c.ttl)
}

// CachedPrices memoizes a PriceSource per token and timeframe.
type CachedPrices struct {
	inner PriceSource
	cache Cache
	ttl   time.Duration
	log   *slog.Logger
}

// NewCachedPrices wraps inner. ttl <= 0 uses five minutes.
func NewCachedPrices(inner PriceSource, cache Cache, ttl time.Duration) *CachedPrices {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedPrices{inner: inner, cache: cache, ttl: ttl, log: logger.Named("market.cache")}
}

// PriceHistory implements PriceSource.
func (c *CachedPrices) PriceHistory(ctx context.Context, token, timeframe string) ([]PricePoint, error) {
	key := "prices:" + strings.ToUpper(token) + ":" + strings.ToLower(timeframe)
	var points []PricePoint
	if lookup(ctx, c.cache, c.log, key, &points) {
		return points, nil
	}
	points, err := c.inner.PriceHistory(ctx, token, timeframe)
	if err != nil {
		return nil, err
	}
	store(ctx, c.cache, c.log, key, points, c.ttl)
	return points, nil
}

func termsKey(terms []string) string {
	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		normalized = append(normalized, strings.ToUpper(strings.TrimSpace(t)))
	}
	sort.Strings(normalized)
	return strings.Join(normalized, ",")
}

func lookup(ctx context.Context, cache Cache, log *slog.Logger, key string, out any) bool {
	if cache == nil {
		return false
	}
	raw, ok, err := cache.Get(ctx, key)
	if err != nil {
		log.Warn("cache read failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Warn("cache entry corrupt", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}

func store(ctx context.Context, cache Cache, log *slog.Logger, key string, v any, ttl time.Duration) {
	if cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := cache.Set(ctx, key, raw, ttl); err != nil {
		log.Warn("cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}
