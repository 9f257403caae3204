package agents

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"RiskPilot-Chain/internal/bus"
	"RiskPilot-Chain/internal/ledger"
	"RiskPilot-Chain/internal/market"
	"RiskPilot-Chain/internal/scanner"
	"RiskPilot-Chain/pkg/logger"
)

const (
	// mentionBaseline 是一个词条在正常行情下的文章数，用来折算 VolumeSpike。
	mentionBaseline = 10
	maxTopMentions  = 3
	defaultFanout   = 4
)

// SentimentMonitor answers scan requests with one sentiment alert per
// search term.
type SentimentMonitor struct {
	source   market.SentimentSource
	holdings ledger.HoldingsFetcher
	sender   Sender
	target   string
	fanout   int
	log      *slog.Logger
}

// SentimentOption customizes a SentimentMonitor.
type SentimentOption func(*SentimentMonitor)

// WithSentimentLogger sets the logger.
func WithSentimentLogger(l *slog.Logger) SentimentOption {
	return func(m *SentimentMonitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithTermHoldings lets the monitor derive search terms from the account's
// holdings instead of the requested token.
func WithTermHoldings(f ledger.HoldingsFetcher) SentimentOption {
	return func(m *SentimentMonitor) { m.holdings = f }
}

// WithFanout limits how many terms are fetched at once.
func WithFanout(n int) SentimentOption {
	return func(m *SentimentMonitor) {
		if n > 0 {
			m.fanout = n
		}
	}
}

// WithSentimentTarget changes the agent the reports go to.
func WithSentimentTarget(name string) SentimentOption {
	return func(m *SentimentMonitor) {
		if name != "" {
			m.target = name
		}
	}
}

// NewSentimentMonitor creates a monitor backed by source.
func NewSentimentMonitor(source market.SentimentSource, sender Sender, opts ...SentimentOption) *SentimentMonitor {
	m := &SentimentMonitor{
		source: source,
		sender: sender,
		target: AggregatorName,
		fanout: defaultFanout,
		log:    logger.Named(SentimentMonitorName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// HandleMessage implements bus.Handler.
func (m *SentimentMonitor) HandleMessage(ctx context.Context, msg bus.Message) {
	if msg.Kind != bus.KindScanRequest {
		return
	}
	req, ok := msg.Payload.(bus.ScanRequest)
	if !ok {
		return
	}
	terms := m.terms(ctx, req)
	alerts := m.fetch(ctx, terms)
	forward(ctx, m.sender, m.log, msg, m.target, bus.SentimentReport{UserID: req.UserID, Alerts: alerts})
}

func (m *SentimentMonitor) terms(ctx context.Context, req bus.ScanRequest) []string {
	if m.holdings != nil {
		account := req.Account
		if account == "" {
			account = req.UserID
		}
		h, err := m.holdings.FetchHoldings(ctx, account)
		if err == nil {
			return scanner.SearchTerms(h.Tokens)
		}
		m.log.Debug("holdings unavailable, using requested token", slog.String("account", account), slog.Any("error", err))
	}
	terms := []string{"HBAR"}
	if token := strings.ToUpper(strings.TrimSpace(req.Token)); token != "" && token != "HBAR" {
		terms = []string{token, "HBAR"}
	}
	return terms
}

// fetch 并发查询每个词条。单个词条失败时记为 NEUTRAL，不影响其他词条。
func (m *SentimentMonitor) fetch(ctx context.Context, terms []string) []bus.SentimentAlert {
	alerts := make([]bus.SentimentAlert, len(terms))
	var g errgroup.Group
	g.SetLimit(m.fanout)
	for i, term := range terms {
		g.Go(func() error {
			alerts[i] = m.alert(ctx, term)
			return nil
		})
	}
	_ = g.Wait()
	return alerts
}

func (m *SentimentMonitor) alert(ctx context.Context, term string) bus.SentimentAlert {
	alert := bus.SentimentAlert{Token: term, Sentiment: bus.SentimentNeutral}
	if m.source == nil {
		return alert
	}
	report, err := m.source.FetchSentimentAndNews(ctx, []string{term})
	if err != nil {
		m.log.Warn("sentiment fetch failed", slog.String("term", term), slog.Any("error", err))
		return alert
	}
	alert.Sentiment = market.Normalize(report.Sentiment)
	alert.VolumeSpike = math.Min(1, float64(len(report.Articles))/mentionBaseline)
	mentions := report.Trends
	if len(mentions) > maxTopMentions {
		mentions = mentions[:maxTopMentions]
	}
	if len(mentions) > 0 {
		alert.TopMentions = append([]string(nil), mentions...)
	}
	return alert
}
