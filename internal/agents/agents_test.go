package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"RiskPilot-Chain/internal/aggregator"
	"RiskPilot-Chain/internal/bus"
	"RiskPilot-Chain/internal/ledger"
	"RiskPilot-Chain/internal/market"
	"RiskPilot-Chain/pkg/logger"
)

type captureSender struct {
	mu   sync.Mutex
	sent []bus.Message
}

func (c *captureSender) Send(_ context.Context, msg bus.Message) (bus.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return msg, nil
}

func (c *captureSender) last(t *testing.T) bus.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatalf("nothing was sent")
	}
	return c.sent[len(c.sent)-1]
}

type termSentiment struct {
	moods map[string]string
	fail  map[string]bool
}

func (s termSentiment) FetchSentimentAndNews(_ context.Context, terms []string) (market.SentimentReport, error) {
	term := terms[0]
	if s.fail[term] {
		return market.SentimentReport{}, errors.New("provider down")
	}
	return market.SentimentReport{
		Terms:     terms,
		Sentiment: s.moods[term],
		Articles:  []market.Article{{Title: "a"}, {Title: "b"}},
		Trends:    []string{term + " one", term + " two", term + " three", term + " four"},
	}, nil
}

func scanMessage(corr string) bus.Message {
	return bus.Message{
		Kind:          bus.KindScanRequest,
		From:          OrchestratorName,
		To:            BalanceMonitorName,
		CorrelationID: corr,
		Payload:       bus.ScanRequest{UserID: "0.0.500", Account: "0.0.500", Token: "HBAR"},
	}
}

func TestBalanceMonitorReportsDeltas(t *testing.T) {
	store := ledger.NewStatic(map[string]ledger.Holdings{"0.0.500": {
		HBAR:   10000,
		Tokens: []ledger.TokenBalance{{TokenID: "0.0.731861", Symbol: "SAUCE", Balance: 50}},
	}})
	sender := &captureSender{}
	m := NewBalanceMonitor(store, sender, WithBalanceLogger(logger.Discard()))

	m.HandleMessage(context.Background(), scanMessage("c1"))
	first := sender.last(t)
	if first.To != AggregatorName || first.Kind != bus.KindBalanceUpdate || first.CorrelationID != "c1" {
		t.Fatalf("unexpected envelope %+v", first)
	}
	if first.ReplyTo != OrchestratorName {
		t.Fatalf("reply target not propagated: %q", first.ReplyTo)
	}
	report := first.Payload.(bus.BalanceReport)
	if len(report.Updates) != 2 || report.Updates[0].Token != "HBAR" || report.Updates[0].Delta != 0 {
		t.Fatalf("unexpected first report %+v", report)
	}

	store.Set("0.0.500", ledger.Holdings{HBAR: 8800})
	m.HandleMessage(context.Background(), scanMessage("c2"))
	report = sender.last(t).Payload.(bus.BalanceReport)
	if report.Updates[0].Delta != -1200 {
		t.Fatalf("expected -1200 delta, got %+v", report.Updates)
	}
}

func TestBalanceMonitorSilentOnFetchFailure(t *testing.T) {
	sender := &captureSender{}
	m := NewBalanceMonitor(ledger.NewStatic(nil), sender, WithBalanceLogger(logger.Discard()))
	m.HandleMessage(context.Background(), scanMessage("c1"))
	if len(sender.sent) != 0 {
		t.Fatalf("fetch failure must not produce a report")
	}
}

func TestSentimentMonitorFanOut(t *testing.T) {
	store := ledger.NewStatic(map[string]ledger.Holdings{"0.0.500": {
		Tokens: []ledger.TokenBalance{{Symbol: "SAUCE"}, {Symbol: "USDC"}},
	}})
	source := termSentiment{
		moods: map[string]string{"HBAR": "bearish", "SAUCE": "bullish"},
		fail:  map[string]bool{"USDC": true},
	}
	sender := &captureSender{}
	m := NewSentimentMonitor(source, sender, WithTermHoldings(store), WithSentimentLogger(logger.Discard()))

	msg := scanMessage("c1")
	msg.To = SentimentMonitorName
	m.HandleMessage(context.Background(), msg)

	report := sender.last(t).Payload.(bus.SentimentReport)
	want := []struct {
		token     string
		sentiment bus.Sentiment
	}{
		{"HBAR", bus.SentimentNegative},
		{"SAUCE", bus.SentimentPositive},
		{"USDC", bus.SentimentNeutral},
	}
	if len(report.Alerts) != len(want) {
		t.Fatalf("unexpected alerts %+v", report.Alerts)
	}
	for i, w := range want {
		got := report.Alerts[i]
		if got.Token != w.token || got.Sentiment != w.sentiment {
			t.Fatalf("alert %d: got %+v want %s/%s", i, got, w.token, w.sentiment)
		}
	}
	if len(report.Alerts[0].TopMentions) != maxTopMentions || report.Alerts[0].VolumeSpike != 0.2 {
		t.Fatalf("unexpected mention data %+v", report.Alerts[0])
	}
}

func TestSentimentMonitorTermsWithoutLedger(t *testing.T) {
	sender := &captureSender{}
	m := NewSentimentMonitor(market.StaticSentiment{Sentiment: "neutral"}, sender, WithSentimentLogger(logger.Discard()))
	msg := scanMessage("c1")
	msg.Payload = bus.ScanRequest{UserID: "0.0.500", Token: "sauce"}
	m.HandleMessage(context.Background(), msg)

	report := sender.last(t).Payload.(bus.SentimentReport)
	if len(report.Alerts) != 2 || report.Alerts[0].Token != "SAUCE" || report.Alerts[1].Token != "HBAR" {
		t.Fatalf("unexpected terms %+v", report.Alerts)
	}
}

func TestScanFlowOverBus(t *testing.T) {
	b := bus.New(bus.WithLogger(logger.Discard()))
	t.Cleanup(b.Close)

	store := ledger.NewStatic(map[string]ledger.Holdings{"0.0.500": {HBAR: 10000}})
	set := Set{
		Balance:    NewBalanceMonitor(store, b, WithBalanceLogger(logger.Discard())),
		Sentiment:  NewSentimentMonitor(market.StaticSentiment{Sentiment: "bearish"}, b, WithSentimentLogger(logger.Discard())),
		Aggregator: NewAggregatorAgent(b, aggregator.WithLogger(logger.Discard()), aggregator.WithAuditLogger(logger.Discard())),
	}
	t.Cleanup(set.Aggregator.Close)
	if err := set.Register(b); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := b.Register(OrchestratorName, nil); err != nil {
		t.Fatalf("register orchestrator: %v", err)
	}

	scan := func() bus.RiskSummary {
		t.Helper()
		corr := bus.NewCorrelationID()
		p, err := b.Expect(OrchestratorName, corr, bus.KindRiskSummary)
		if err != nil {
			t.Fatalf("expect: %v", err)
		}
		for _, to := range []string{BalanceMonitorName, SentimentMonitorName} {
			msg := scanMessage(corr)
			msg.To = to
			if _, err := b.Send(context.Background(), msg); err != nil {
				t.Fatalf("send: %v", err)
			}
		}
		msgs, err := p.Wait(context.Background(), 2*time.Second)
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		return msgs[0].Payload.(bus.RiskSummary)
	}

	first := scan()
	if first.Partial || first.Tokens["HBAR"].Risk != bus.RiskHigh {
		t.Fatalf("unexpected first summary %+v", first)
	}

	store.Set("0.0.500", ledger.Holdings{HBAR: 8800})
	second := scan()
	if second.Tokens["HBAR"].Risk != bus.RiskCritical || second.Tokens["HBAR"].WalletDelta != -1200 {
		t.Fatalf("unexpected second summary %+v", second)
	}
	if second.ProofReference == "" || second.ProofReference == first.ProofReference {
		t.Fatalf("expected distinct proof references")
	}
}

func TestGraphAgentPortfolio(t *testing.T) {
	store := ledger.NewStatic(map[string]ledger.Holdings{"0.0.9": {
		HBAR:   120,
		Tokens: []ledger.TokenBalance{{TokenID: "0.0.1", Symbol: "SAUCE", Balance: 30}, {TokenID: "0.0.2", Balance: 4}},
	}})
	sender := &captureSender{}
	g := NewGraphAgent(store, nil, sender, WithGraphLogger(logger.Discard()))

	g.HandleMessage(context.Background(), bus.Message{
		Kind: bus.KindGraphRequest, From: OrchestratorName, To: GraphAgentName, CorrelationID: "g1",
		Payload: bus.GraphRequest{UserID: "0.0.9", Timeframe: "7d"},
	})
	msg := sender.last(t)
	if msg.To != OrchestratorName || msg.CorrelationID != "g1" || msg.Kind != bus.KindGraphConfig {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	cfg := msg.Payload.(bus.GraphConfig)
	if cfg.Error != "" || len(cfg.Chart.Labels) != 3 || cfg.Chart.Labels[2] != "0.0.2" || cfg.Chart.Datasets[0].Data[0] != 120 {
		t.Fatalf("unexpected chart %+v", cfg)
	}

	g.HandleMessage(context.Background(), bus.Message{
		Kind: bus.KindGraphRequest, From: OrchestratorName, To: GraphAgentName, CorrelationID: "g2",
		Payload: bus.GraphRequest{UserID: "0.0.404", Timeframe: "7d"},
	})
	if cfg := sender.last(t).Payload.(bus.GraphConfig); cfg.Error == "" {
		t.Fatalf("expected an error config for an unknown account")
	}
}

func TestGraphAgentTokenCharts(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	prices := market.SyntheticPrices{Now: func() time.Time { return now }}
	sender := &captureSender{}
	g := NewGraphAgent(nil, prices, sender, WithGraphLogger(logger.Discard()))

	cases := []struct {
		chartType string
		render    string
		datasets  int
	}{
		{"price", "line", 1},
		{"volume", "bar", 1},
		{"market_cap", "line", 1},
		{"candlestick", "candlestick", 4},
	}
	for _, tc := range cases {
		g.HandleMessage(context.Background(), bus.Message{
			Kind: bus.KindTokenChartRequest, From: OrchestratorName, To: GraphAgentName, CorrelationID: tc.chartType,
			Payload: bus.TokenChartRequest{Token: "HBAR", Timeframe: "24h", ChartType: tc.chartType},
		})
		cfg := sender.last(t).Payload.(bus.TokenChartConfig)
		if cfg.Error != "" || cfg.Chart.Type != tc.render || len(cfg.Chart.Datasets) != tc.datasets {
			t.Fatalf("%s: unexpected chart %+v", tc.chartType, cfg.Chart)
		}
		if len(cfg.Chart.Labels) != 24 {
			t.Fatalf("%s: expected 24 hourly labels, got %d", tc.chartType, len(cfg.Chart.Labels))
		}
	}
}
