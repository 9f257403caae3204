package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "RiskPilot-Chain/internal/errors"
	"RiskPilot-Chain/internal/intent"
)

const defaultPriceBaseURL = "https://api.coingecko.com"

// coinIDs maps token symbols to CoinGecko coin ids.
var coinIDs = map[string]string{
	"HBAR":   "hedera-hashgraph",
	"SAUCE":  "saucerswap",
	"XSAUCE": "xsauce",
	"USDC":   "usd-coin",
	"HST":    "headstarter",
	"PACK":   "hashpack",
	"KARATE": "karate-combat",
	"DOVU":   "dovu-2",
	"GRELF":  "grelf",
	"HBARX":  "stader-hbarx",
}

// PriceConfig describes a CoinGecko-style market chart API.
type PriceConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// PriceClient reads price, volume and market cap history.
type PriceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewPriceClient creates a price client.
func NewPriceClient(cfg PriceConfig) *PriceClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultPriceBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &PriceClient{baseURL: baseURL, apiKey: strings.TrimSpace(cfg.APIKey), httpClient: &http.Client{Timeout: timeout}}
}

// CoinID resolves a symbol, case-insensitively.
func CoinID(token string) (string, bool) {
	id, ok := coinIDs[strings.ToUpper(strings.TrimSpace(token))]
	return id, ok
}

type marketChartResponse struct {
	Prices       [][2]float64 `json:"prices"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
	MarketCaps   [][2]float64 `json:"market_caps"`
}

// PriceHistory implements PriceSource.
func (c *PriceClient) PriceHistory(ctx context.Context, token, timeframe string) ([]PricePoint, error) {
	coin, ok := CoinID(token)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("no market data for token %s", token))
	}
	hours := intent.TimeframeDuration(timeframe)
	days := (hours + 23) / 24

	query := url.Values{"vs_currency": []string{"usd"}, "days": []string{strconv.Itoa(days)}}
	endpoint := fmt.Sprintf("%s/api/v3/coins/%s/market_chart?%s", c.baseURL, url.PathEscape(coin), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "price request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("price API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded marketChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "decode price response")
	}

	cutoff := time.Time{}
	if hours < days*24 && len(decoded.Prices) > 0 {
		last := time.UnixMilli(int64(decoded.Prices[len(decoded.Prices)-1][0]))
		cutoff = last.Add(-time.Duration(hours) * time.Hour)
	}
	points := make([]PricePoint, 0, len(decoded.Prices))
	for i, sample := range decoded.Prices {
		ts := time.UnixMilli(int64(sample[0])).UTC()
		if ts.Before(cutoff) {
			continue
		}
		point := PricePoint{Time: ts, Price: sample[1]}
		if i < len(decoded.TotalVolumes) {
			point.Volume = decoded.TotalVolumes[i][1]
		}
		if i < len(decoded.MarketCaps) {
			point.MarketCap = decoded.MarketCaps[i][1]
		}
		points = append(points, point)
	}
	return points, nil
}
