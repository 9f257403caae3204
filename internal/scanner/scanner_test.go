package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"RiskPilot-Chain/internal/ledger"
	"RiskPilot-Chain/internal/market"
	"RiskPilot-Chain/pkg/logger"
)

type stubSentiment struct {
	report market.SentimentReport
	err    error
	terms  []string
}

func (s *stubSentiment) FetchSentimentAndNews(_ context.Context, terms []string) (market.SentimentReport, error) {
	s.terms = terms
	if s.err != nil {
		return market.SentimentReport{}, s.err
	}
	return s.report, nil
}

func contains(list []string, fragment string) bool {
	for _, item := range list {
		if strings.Contains(item, fragment) {
			return true
		}
	}
	return false
}

func TestAnalyzeZeroBalanceNoTokens(t *testing.T) {
	holdings := ledger.NewStatic(map[string]ledger.Holdings{"0.0.500": {HBAR: 0}})
	sentiment := &stubSentiment{report: market.SentimentReport{Sentiment: "neutral"}}
	c := New(holdings, sentiment, WithLogger(logger.Discard()))

	a := c.Analyze(context.Background(), "0.0.500", "0.0.500")
	if a.RiskScore == nil || *a.RiskScore != 6 {
		t.Fatalf("expected risk score 6, got %v", a.RiskScore)
	}
	if !contains(a.Warnings, "no diversification") || !contains(a.Recommendations, "no diversification") {
		t.Fatalf("expected no diversification insight: %+v", a)
	}
	if contains(a.Warnings, "low balance") {
		t.Fatalf("zero balance must not count as low balance")
	}
	if a.Balance == nil || a.Balance.Tokens == nil {
		t.Fatalf("balance should be present with an empty token list")
	}
	if len(a.Stages) != 2 {
		t.Fatalf("expected two stage timings, got %d", len(a.Stages))
	}
}

func TestAnalyzeLowBalanceBearish(t *testing.T) {
	holdings := ledger.NewStatic(map[string]ledger.Holdings{"0.0.7": {HBAR: 4, Tokens: []ledger.TokenBalance{{Symbol: "SAUCE", Balance: 10}}}})
	sentiment := &stubSentiment{report: market.SentimentReport{Sentiment: "bearish"}}
	a := New(holdings, sentiment, WithLogger(logger.Discard())).Analyze(context.Background(), "0.0.7", "u")

	if *a.RiskScore != 9 {
		t.Fatalf("expected 5+2+2=9, got %d", *a.RiskScore)
	}
	for _, want := range []string{"low balance", "bearish", "high risk profile"} {
		if !contains(a.Warnings, want) {
			t.Fatalf("missing warning %q in %v", want, a.Warnings)
		}
	}
	if !contains(a.Recommendations, "maintain buffer") {
		t.Fatalf("missing buffer recommendation: %v", a.Recommendations)
	}
	if len(sentiment.terms) != 2 || sentiment.terms[0] != "HBAR" || sentiment.terms[1] != "SAUCE" {
		t.Fatalf("unexpected search terms %v", sentiment.terms)
	}
}

func TestAnalyzeCollaboratorFailures(t *testing.T) {
	failing := ledger.FetcherFunc(func(context.Context, string) (ledger.Holdings, error) {
		return ledger.Holdings{}, errors.New("mirror down")
	})
	sentiment := &stubSentiment{err: errors.New("news down")}
	a := New(failing, sentiment, WithLogger(logger.Discard())).Analyze(context.Background(), "0.0.9", "0.0.9")

	if a.Balance != nil {
		t.Fatalf("balance must be absent when holdings fail")
	}
	if a.MarketData == nil || a.MarketData.Sentiment != "neutral" || len(a.MarketData.Trends) != 0 {
		t.Fatalf("expected neutral fallback, got %+v", a.MarketData)
	}
	if *a.RiskScore != 5 {
		t.Fatalf("balance rules must be skipped when holdings are unknown, got %d", *a.RiskScore)
	}
	if a.Stages[0].Error == "" || a.Stages[1].Error == "" {
		t.Fatalf("stage errors should be recorded: %+v", a.Stages)
	}

	raw, _ := json.Marshal(a)
	if strings.Contains(string(raw), `"balance"`) {
		t.Fatalf("balance should be omitted from JSON: %s", raw)
	}
}

func TestAnalyzeWithoutCollaborators(t *testing.T) {
	a := New(nil, nil, WithLogger(logger.Discard())).Analyze(context.Background(), "", "0.0.3")
	if a.Address != "0.0.3" || a.RiskScore == nil {
		t.Fatalf("unexpected analysis %+v", a)
	}
}

func TestRiskScoreAlwaysInRange(t *testing.T) {
	balances := []*float64{nil, ptr(0), ptr(5), ptr(50), ptr(5000)}
	sentiments := []string{"", "neutral", "bearish", "very negative", "bullish", "positive"}
	for _, b := range balances {
		for tokens := 0; tokens <= 8; tokens++ {
			for _, s := range sentiments {
				got := RiskScore(b, tokens, s)
				if got < 1 || got > 10 {
					t.Fatalf("score %d out of range for %v/%d/%s", got, b, tokens, s)
				}
			}
		}
	}
	if RiskScore(ptr(5000), 8, "bullish") != 2 {
		t.Fatalf("expected 5-1-1-1=2")
	}
}

func TestSearchTerms(t *testing.T) {
	tokens := []ledger.TokenBalance{
		{Symbol: "SAUCE"}, {Symbol: "sauce"}, {Symbol: "hbar"}, {Symbol: ""},
		{Symbol: "USDC"}, {Symbol: "PACK"}, {Symbol: "DOVU"}, {Symbol: "GRELF"},
	}
	got := SearchTerms(tokens)
	want := []string{"HBAR", "SAUCE", "USDC", "PACK", "DOVU"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestInsightsHealthyAndStaking(t *testing.T) {
	_, recs := Insights(ptr(5000), 6, "bullish", 2)
	for _, want := range []string{"healthy", "staking", "well diversified"} {
		if !contains(recs, want) {
			t.Fatalf("missing %q in %v", want, recs)
		}
	}
}

func ptr(v float64) *float64 { return &v }
