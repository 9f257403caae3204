// Package market defines the market-data collaborators: a news and
// sentiment source and a price history source, with HTTP clients, demo
// implementations and cache decorators.
package market

import (
	"context"
	"strings"
	"time"

	"RiskPilot-Chain/internal/bus"
)

// Article is one news item about a token.
type Article struct {
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitempty"`
	Positive    int       `json:"positive,omitempty"`
	Negative    int       `json:"negative,omitempty"`
}

// SentimentReport is the combined news and sentiment digest for a set of
// search terms. Sentiment is free text such as "bullish" or "neutral".
type SentimentReport struct {
	Terms     []string  `json:"terms"`
	Sentiment string    `json:"sentiment"`
	Score     float64   `json:"score"`
	Articles  []Article `json:"articles"`
	Trends    []string  `json:"trends"`
}

// SentimentSource fetches news and sentiment for search terms.
type SentimentSource interface {
	FetchSentimentAndNews(ctx context.Context, terms []string) (SentimentReport, error)
}

// PricePoint is one sample of a token's market history.
type PricePoint struct {
	Time      time.Time `json:"time"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	MarketCap float64   `json:"marketCap"`
}

// PriceSource fetches price history for a token over a timeframe such as
// "24h" or "14d".
type PriceSource interface {
	PriceHistory(ctx context.Context, token, timeframe string) ([]PricePoint, error)
}

// Cache is the byte cache the Cached decorators store responses in.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NeutralReport is what callers fall back to when the source failed.
func NeutralReport(terms []string) SentimentReport {
	return SentimentReport{Terms: terms, Sentiment: "neutral", Articles: []Article{}, Trends: []string{}}
}

// Normalize maps free-text sentiment onto the bus vocabulary.
func Normalize(sentiment string) bus.Sentiment {
	s := strings.ToLower(sentiment)
	switch {
	case strings.Contains(s, "bearish"), strings.Contains(s, "negative"):
		return bus.SentimentNegative
	case strings.Contains(s, "bullish"), strings.Contains(s, "positive"):
		return bus.SentimentPositive
	default:
		return bus.SentimentNeutral
	}
}

// Label turns a score in [-1, 1] into bullish, bearish or neutral.
func Label(score float64) string {
	switch {
	case score > 0.2:
		return "bullish"
	case score < -0.2:
		return "bearish"
	default:
		return "neutral"
	}
}
