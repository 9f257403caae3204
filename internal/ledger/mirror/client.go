package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	xerrors "RiskPilot-Chain/internal/errors"
	"RiskPilot-Chain/internal/ledger"
)

const (
	defaultBaseURL  = "https://mainnet-public.mirrornode.hedera.com"
	defaultTimeout  = 10 * time.Second
	tinybarsPerHbar = 100_000_000
)

// Config describes a Hedera mirror node endpoint.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client reads account balances from the mirror node REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	tokens map[string]tokenInfo
}

type tokenInfo struct {
	Symbol   string
	Decimals int
}

// NewClient creates a mirror node client.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     make(map[string]tokenInfo),
	}
}

type balancesResponse struct {
	Balances []struct {
		Account string `json:"account"`
		Balance int64  `json:"balance"`
		Tokens  []struct {
			TokenID string `json:"token_id"`
			Balance int64  `json:"balance"`
		} `json:"tokens"`
	} `json:"balances"`
}

type tokenResponse struct {
	TokenID  string `json:"token_id"`
	Symbol   string `json:"symbol"`
	Decimals string `json:"decimals"`
}

// FetchHoldings implements ledger.HoldingsFetcher.
func (c *Client) FetchHoldings(ctx context.Context, account string) (ledger.Holdings, error) {
	if _, err := ledger.ParseAccountID(account); err != nil {
		return ledger.Holdings{}, err
	}

	var decoded balancesResponse
	query := url.Values{"account.id": []string{account}}
	if err := c.getJSON(ctx, "/api/v1/balances?"+query.Encode(), &decoded); err != nil {
		return ledger.Holdings{}, err
	}
	if len(decoded.Balances) == 0 {
		return ledger.Holdings{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("account %s not found on mirror node", account))
	}

	entry := decoded.Balances[0]
	holdings := ledger.Holdings{
		Account: account,
		HBAR:    float64(entry.Balance) / tinybarsPerHbar,
		Tokens:  make([]ledger.TokenBalance, 0, len(entry.Tokens)),
	}
	for _, tok := range entry.Tokens {
		info, err := c.tokenInfo(ctx, tok.TokenID)
		if err != nil {
			// 代币元数据缺失时仍然保留余额，只是没有符号。
			info = tokenInfo{}
		}
		holdings.Tokens = append(holdings.Tokens, ledger.TokenBalance{
			TokenID:  tok.TokenID,
			Symbol:   info.Symbol,
			Balance:  float64(tok.Balance) / math.Pow10(info.Decimals),
			Decimals: info.Decimals,
		})
	}
	return holdings, nil
}

func (c *Client) tokenInfo(ctx context.Context, tokenID string) (tokenInfo, error) {
	c.mu.RLock()
	info, ok := c.tokens[tokenID]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	var decoded tokenResponse
	if err := c.getJSON(ctx, "/api/v1/tokens/"+url.PathEscape(tokenID), &decoded); err != nil {
		return tokenInfo{}, err
	}
	decimals, err := strconv.Atoi(strings.TrimSpace(decoded.Decimals))
	if err != nil {
		decimals = 0
	}
	info = tokenInfo{Symbol: strings.ToUpper(strings.TrimSpace(decoded.Symbol)), Decimals: decimals}

	c.mu.Lock()
	c.tokens[tokenID] = info
	c.mu.Unlock()
	return info, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build mirror node request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "mirror node request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return xerrors.New(xerrors.CodeNotFound, "mirror node resource not found: "+path)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("mirror node returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "decode mirror node response")
	}
	return nil
}
