package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"RiskPilot-Chain/internal/bus"
	xerrors "RiskPilot-Chain/internal/errors"
	"RiskPilot-Chain/internal/intent"
	"RiskPilot-Chain/internal/llm"
	"RiskPilot-Chain/internal/market"
	"RiskPilot-Chain/internal/scanner"
)

const helpText = "I can scan a Hedera account for risk (\"scan 0.0.1234\" or \"how is my wallet doing\"), " +
	"chart a portfolio (\"chart holdings of 0.0.1234 this month\"), chart a token " +
	"(\"candlestick chart for SAUCE over 2 weeks\") or summarize market news (\"any news on hedera?\")."

var (
	errNoMonitors   = xerrors.New(xerrors.CodeUpstreamFailure, "no monitor accepted the scan request")
	errNoGraphAgent = xerrors.New(xerrors.CodeUpstreamFailure, "graph agent is not registered")
)

// riskOrder 决定 token 行的排列顺序，风险高的在前。
var riskOrder = map[bus.RiskLevel]int{
	bus.RiskCritical: 0,
	bus.RiskHigh:     1,
	bus.RiskMedium:   2,
	bus.RiskLow:      3,
	bus.RiskSafe:     4,
}

// formatScan renders the plain-text scan report. The same text is the LLM
// input when refinement is enabled.
func formatScan(in intent.ScanUser, a *scanner.Analysis, s *bus.RiskSummary, warnings []string) string {
	overview := []string{fmt.Sprintf("Account: %s", in.UserID)}
	if in.Token != "" && in.Token != intent.DefaultToken {
		overview = append(overview, fmt.Sprintf("Focus token: %s", in.Token))
	}
	if a != nil {
		if a.RiskScore != nil {
			overview = append(overview, fmt.Sprintf("Risk score: %d/10", *a.RiskScore))
		}
		if a.Balance != nil {
			overview = append(overview, fmt.Sprintf("HBAR balance: %.4f (%d other tokens)", a.Balance.HBAR, len(a.Balance.Tokens)))
		} else {
			overview = append(overview, "HBAR balance: unavailable")
		}
		if a.MarketData != nil {
			overview = append(overview, fmt.Sprintf("Market sentiment: %s (%.2f)", a.MarketData.Sentiment, a.MarketData.Score))
		}
	}

	var tokens []string
	if s != nil {
		tokens = tokenLines(s)
		overview = append(overview, fmt.Sprintf("Portfolio value: $%.2f (%+.2f%% in 24h)", s.TotalValue, s.ChangePercent24h))
		if s.Partial {
			overview = append(overview, "Note: summary built from a single data stream")
		}
	}

	var recs []string
	if a != nil {
		recs = a.Recommendations
	}
	var proof []string
	if s != nil && s.ProofReference != "" {
		proof = []string{s.ProofReference}
	}

	return strings.TrimSpace(llm.BuildPrompt(
		llm.Section{Title: "Overview", Lines: overview},
		llm.Section{Title: "Token risk", Lines: tokens},
		llm.Section{Title: "Warnings", Lines: bullets(warnings)},
		llm.Section{Title: "Recommendations", Lines: bullets(recs)},
		llm.Section{Title: "Proof", Lines: proof},
	))
}

func tokenLines(s *bus.RiskSummary) []string {
	symbols := make([]string, 0, len(s.Tokens))
	for symbol := range s.Tokens {
		symbols = append(symbols, symbol)
	}
	sort.Slice(symbols, func(i, j int) bool {
		ri, rj := riskOrder[s.Tokens[symbols[i]].Risk], riskOrder[s.Tokens[symbols[j]].Risk]
		if ri != rj {
			return ri < rj
		}
		return symbols[i] < symbols[j]
	})
	lines := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		t := s.Tokens[symbol]
		line := fmt.Sprintf("- %s: %s (delta %+.4f, volume spike %.2f)", symbol, t.Risk, t.WalletDelta, t.VolumeSpike)
		if len(t.TopMentions) > 0 {
			line += "; mentions: " + strings.Join(t.TopMentions, " | ")
		}
		lines = append(lines, line)
	}
	return lines
}

// formatNews renders the plain-text market digest.
func formatNews(r market.SentimentReport) string {
	overview := []string{
		fmt.Sprintf("Terms: %s", strings.Join(r.Terms, ", ")),
		fmt.Sprintf("Sentiment: %s (%.2f)", r.Sentiment, r.Score),
	}
	headlines := make([]string, 0, len(r.Articles))
	for i, article := range r.Articles {
		if i == 5 {
			break
		}
		line := "- " + article.Title
		if article.Source != "" {
			line += " (" + article.Source + ")"
		}
		headlines = append(headlines, line)
	}
	if len(headlines) == 0 {
		headlines = []string{"- no recent headlines"}
	}
	return strings.TrimSpace(llm.BuildPrompt(
		llm.Section{Title: "Market", Lines: overview},
		llm.Section{Title: "Headlines", Lines: headlines},
		llm.Section{Title: "Trends", Lines: bullets(r.Trends)},
	))
}

func bullets(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, "- "+item)
		}
	}
	return out
}
