package scanner

import (
	"context"
	"log/slog"
	"time"

	"RiskPilot-Chain/internal/ledger"
	"RiskPilot-Chain/internal/market"
	"RiskPilot-Chain/pkg/logger"
)

// Balance is the holdings part of an Analysis.
type Balance struct {
	HBAR   float64               `json:"hbars"`
	Tokens []ledger.TokenBalance `json:"tokens"`
}

// MarketData is the sentiment part of an Analysis.
type MarketData struct {
	Terms     []string         `json:"terms"`
	Sentiment string           `json:"sentiment"`
	Score     float64          `json:"score"`
	Trends    []string         `json:"trends"`
	Articles  []market.Article `json:"articles,omitempty"`
}

// Stage records how long one collaborator call took.
type Stage struct {
	Name    string        `json:"name"`
	Latency time.Duration `json:"latencyNs"`
	Error   string        `json:"error,omitempty"`
}

// Analysis is the scanner result. Balance is nil when holdings could not be
// fetched; callers tell partial from full results by field presence.
type Analysis struct {
	Address         string      `json:"address"`
	Balance         *Balance    `json:"balance,omitempty"`
	MarketData      *MarketData `json:"marketData,omitempty"`
	RiskScore       *int        `json:"riskScore,omitempty"`
	Warnings        []string    `json:"warnings"`
	Recommendations []string    `json:"recommendations"`
	Stages          []Stage     `json:"stages,omitempty"`
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock replaces time.Now for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator fans a scan out to the holdings and sentiment collaborators.
type Coordinator struct {
	holdings  ledger.HoldingsFetcher
	sentiment market.SentimentSource
	log       *slog.Logger
	now       func() time.Time
}

// New creates a Coordinator. Either collaborator may be nil, in which case
// its stage is treated as failed.
func New(holdings ledger.HoldingsFetcher, sentiment market.SentimentSource, opts ...Option) *Coordinator {
	c := &Coordinator{holdings: holdings, sentiment: sentiment, log: logger.Named("scanner"), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Analyze scans address on behalf of userID. It always returns an Analysis.
func (c *Coordinator) Analyze(ctx context.Context, address, userID string) Analysis {
	if address == "" {
		address = userID
	}
	result := Analysis{Address: address}
	log := c.log.With(slog.String("address", address), slog.String("user", userID))

	// 1. 获取持仓，失败时 Balance 保持为空。
	var holdings ledger.Holdings
	var balance *float64
	var stageErr error
	started := c.now()
	if c.holdings == nil {
		stageErr = errNoHoldingsSource
	} else {
		holdings, stageErr = c.holdings.FetchHoldings(ctx, address)
	}
	result.Stages = append(result.Stages, c.stage("holdings", started, stageErr))
	if stageErr != nil {
		log.Warn("holdings fetch failed", slog.Any("error", stageErr))
	} else {
		hbar := holdings.HBAR
		balance = &hbar
		tokens := holdings.Tokens
		if tokens == nil {
			tokens = []ledger.TokenBalance{}
		}
		result.Balance = &Balance{HBAR: hbar, Tokens: tokens}
	}

	// 2. 由持仓推导搜索词。
	terms := SearchTerms(holdings.Tokens)

	// 3. 获取新闻与情绪，失败时回退为 neutral。
	report := market.NeutralReport(terms)
	started = c.now()
	stageErr = nil
	if c.sentiment == nil {
		stageErr = errNoSentimentSource
	} else if fetched, err := c.sentiment.FetchSentimentAndNews(ctx, terms); err != nil {
		stageErr = err
	} else {
		report = fetched
	}
	result.Stages = append(result.Stages, c.stage("sentiment", started, stageErr))
	if stageErr != nil {
		log.Warn("sentiment fetch failed", slog.Any("error", stageErr))
	}
	trends := report.Trends
	if trends == nil {
		trends = []string{}
	}
	result.MarketData = &MarketData{
		Terms:     terms,
		Sentiment: report.Sentiment,
		Score:     report.Score,
		Trends:    trends,
		Articles:  report.Articles,
	}

	// 4. 计算风险分数并生成提示。
	score := RiskScore(balance, len(holdings.Tokens), report.Sentiment)
	result.RiskScore = &score
	result.Warnings, result.Recommendations = Insights(balance, len(holdings.Tokens), report.Sentiment, score)

	log.Debug("scan finished", slog.Int("risk_score", score), slog.Int("warnings", len(result.Warnings)))
	return result
}

func (c *Coordinator) stage(name string, started time.Time, err error) Stage {
	s := Stage{Name: name, Latency: c.now().Sub(started)}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}
