package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "RiskPilot-Chain/internal/errors"
)

const (
	defaultNewsBaseURL = "https://cryptopanic.com"
	defaultHTTPTimeout = 10 * time.Second
	maxTrends          = 3
)

// NewsConfig describes a CryptoPanic-style news API.
type NewsConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewsClient derives sentiment from the community votes on recent posts.
type NewsClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewNewsClient creates a news client.
func NewNewsClient(cfg NewsConfig) *NewsClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultNewsBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &NewsClient{baseURL: baseURL, apiKey: strings.TrimSpace(cfg.APIKey), httpClient: &http.Client{Timeout: timeout}}
}

type postsResponse struct {
	Results []struct {
		Title       string    `json:"title"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"published_at"`
		Source      struct {
			Title string `json:"title"`
		} `json:"source"`
		Votes struct {
			Positive int `json:"positive"`
			Negative int `json:"negative"`
		} `json:"votes"`
	} `json:"results"`
}

// FetchSentimentAndNews implements SentimentSource.
func (c *NewsClient) FetchSentimentAndNews(ctx context.Context, terms []string) (SentimentReport, error) {
	if len(terms) == 0 {
		return SentimentReport{}, xerrors.New(xerrors.CodeInvalidArgument, "at least one search term is required")
	}

	query := url.Values{}
	if c.apiKey != "" {
		query.Set("auth_token", c.apiKey)
	}
	query.Set("currencies", strings.Join(terms, ","))
	query.Set("kind", "news")
	query.Set("public", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/posts/?"+query.Encode(), nil)
	if err != nil {
		return SentimentReport{}, fmt.Errorf("build news request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SentimentReport{}, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "news request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return SentimentReport{}, xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("news API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded postsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return SentimentReport{}, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "decode news response")
	}

	report := SentimentReport{Terms: terms, Articles: make([]Article, 0, len(decoded.Results)), Trends: []string{}}
	positive, negative := 0, 0
	for _, post := range decoded.Results {
		positive += post.Votes.Positive
		negative += post.Votes.Negative
		report.Articles = append(report.Articles, Article{
			Title:       post.Title,
			URL:         post.URL,
			Source:      post.Source.Title,
			PublishedAt: post.PublishedAt,
			Positive:    post.Votes.Positive,
			Negative:    post.Votes.Negative,
		})
		if len(report.Trends) < maxTrends && post.Title != "" {
			report.Trends = append(report.Trends, post.Title)
		}
	}
	if total := positive + negative; total > 0 {
		report.Score = float64(positive-negative) / float64(total)
	}
	report.Sentiment = Label(report.Score)
	return report, nil
}
