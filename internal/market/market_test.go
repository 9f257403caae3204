package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"RiskPilot-Chain/internal/bus"
	xerrors "RiskPilot-Chain/internal/errors"
	cachestore "RiskPilot-Chain/internal/storage/redis"
)

func TestNewsClientDerivesSentimentFromVotes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/posts/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("currencies"); got != "HBAR,SAUCE" {
			t.Errorf("unexpected currencies %q", got)
		}
		if r.URL.Query().Get("auth_token") != "secret" {
			t.Errorf("api key not forwarded")
		}
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Hedera council adds member","url":"https://x/1","published_at":"2024-05-01T10:00:00Z","source":{"title":"wire"},"votes":{"positive":8,"negative":1}},
			{"title":"SaucerSwap volume up","votes":{"positive":2,"negative":1}}
		]}`))
	}))
	defer server.Close()

	client := NewNewsClient(NewsConfig{BaseURL: server.URL, APIKey: "secret"})
	report, err := client.FetchSentimentAndNews(context.Background(), []string{"HBAR", "SAUCE"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if report.Sentiment != "bullish" || len(report.Articles) != 2 || len(report.Trends) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Articles[0].Source != "wire" {
		t.Fatalf("source not decoded: %+v", report.Articles[0])
	}
}

func TestNewsClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewNewsClient(NewsConfig{BaseURL: server.URL})
	if _, err := client.FetchSentimentAndNews(context.Background(), []string{"HBAR"}); !xerrors.IsCode(err, xerrors.CodeUpstreamFailure) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if _, err := client.FetchSentimentAndNews(context.Background(), nil); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestPriceClientHistory(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/coins/hedera-hashgraph/market_chart" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("days") != "14" {
			t.Errorf("unexpected days %q", r.URL.Query().Get("days"))
		}
		var prices, volumes []string
		for i := 0; i < 3; i++ {
			ms := base.Add(time.Duration(i) * 24 * time.Hour).UnixMilli()
			prices = append(prices, fmt.Sprintf("[%d,%f]", ms, 0.05+float64(i)/100))
			volumes = append(volumes, fmt.Sprintf("[%d,%d]", ms, 1000*(i+1)))
		}
		fmt.Fprintf(w, `{"prices":[%s],"total_volumes":[%s],"market_caps":[]}`, strings.Join(prices, ","), strings.Join(volumes, ","))
	}))
	defer server.Close()

	client := NewPriceClient(PriceConfig{BaseURL: server.URL})
	points, err := client.PriceHistory(context.Background(), "hbar", "14d")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(points) != 3 || points[2].Volume != 3000 || !points[0].Time.Equal(base) {
		t.Fatalf("unexpected points %+v", points)
	}

	if _, err := client.PriceHistory(context.Background(), "0.0.123456", "24h"); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found for unmapped token, got %v", err)
	}
}

type countingSentiment struct {
	calls atomic.Int32
}

func (c *countingSentiment) FetchSentimentAndNews(_ context.Context, terms []string) (SentimentReport, error) {
	c.calls.Add(1)
	return SentimentReport{Terms: terms, Sentiment: "bearish"}, nil
}

func TestCachedSentimentIgnoresTermOrder(t *testing.T) {
	inner := &countingSentiment{}
	cached := NewCachedSentiment(inner, cachestore.NewMemoryCache(), time.Minute)
	ctx := context.Background()

	first, err := cached.FetchSentimentAndNews(ctx, []string{"HBAR", "sauce"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, _ := cached.FetchSentimentAndNews(ctx, []string{"SAUCE", "hbar"})
	if inner.calls.Load() != 1 {
		t.Fatalf("expected a single upstream call, got %d", inner.calls.Load())
	}
	if first.Sentiment != second.Sentiment {
		t.Fatalf("cached report differs")
	}
}

func TestCachedPrices(t *testing.T) {
	var calls atomic.Int32
	inner := priceFunc(func(ctx context.Context, token, timeframe string) ([]PricePoint, error) {
		calls.Add(1)
		return SyntheticPrices{}.PriceHistory(ctx, token, timeframe)
	})
	cached := NewCachedPrices(inner, cachestore.NewMemoryCache(), time.Minute)
	for i := 0; i < 3; i++ {
		points, err := cached.PriceHistory(context.Background(), "HBAR", "24h")
		if err != nil || len(points) != 24 {
			t.Fatalf("unexpected result: %d points, err %v", len(points), err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", calls.Load())
	}
}

type priceFunc func(ctx context.Context, token, timeframe string) ([]PricePoint, error)

func (f priceFunc) PriceHistory(ctx context.Context, token, timeframe string) ([]PricePoint, error) {
	return f(ctx, token, timeframe)
}

func TestNormalizeAndLabel(t *testing.T) {
	cases := map[string]bus.Sentiment{
		"Bearish":         bus.SentimentNegative,
		"mildly positive": bus.SentimentPositive,
		"neutral":         bus.SentimentNeutral,
		"":                bus.SentimentNeutral,
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("%q: got %s want %s", in, got, want)
		}
	}
	if Label(0.5) != "bullish" || Label(-0.5) != "bearish" || Label(0) != "neutral" {
		t.Fatalf("unexpected labels")
	}
}

func TestSyntheticPricesDaily(t *testing.T) {
	now := time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC)
	points, err := SyntheticPrices{Now: func() time.Time { return now }}.PriceHistory(context.Background(), "SAUCE", "14d")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(points) != 14 {
		t.Fatalf("expected 14 daily samples, got %d", len(points))
	}
	if !points[13].Time.Equal(now.Truncate(24 * time.Hour)) {
		t.Fatalf("last sample should be today, got %v", points[13].Time)
	}
}
