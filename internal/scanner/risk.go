package scanner

import (
	"fmt"
	"math"
	"strings"

	"RiskPilot-Chain/internal/ledger"
)

const (
	baseScore      = 5
	minScore       = 1
	maxScore       = 10
	lowBalance     = 10
	largeBalance   = 1000
	maxSearchTerms = 5
)

// SearchTerms derives up to five news search terms from holdings: HBAR
// first, then token symbols in holding order, deduplicated case-insensitively.
func SearchTerms(tokens []ledger.TokenBalance) []string {
	terms := []string{"HBAR"}
	seen := map[string]bool{"HBAR": true}
	for _, t := range tokens {
		if len(terms) == maxSearchTerms {
			break
		}
		symbol := strings.TrimSpace(t.Symbol)
		if symbol == "" {
			continue
		}
		key := strings.ToUpper(symbol)
		if seen[key] {
			continue
		}
		seen[key] = true
		terms = append(terms, symbol)
	}
	return terms
}

// RiskScore 从 5 分开始按余额、持仓数量与市场情绪加减，结果限制在 [1,10]。
// balance 为 nil 表示持仓未知，此时跳过余额与持仓数量相关的规则。
func RiskScore(balance *float64, tokens int, sentiment string) int {
	score := float64(baseScore)
	if balance != nil {
		b := *balance
		if b > 0 && b < lowBalance {
			score += 2
		}
		if b > largeBalance {
			score--
		}
		if tokens == 0 {
			score++
		}
		if tokens > 5 {
			score--
		}
	}
	s := strings.ToLower(sentiment)
	switch {
	case strings.Contains(s, "bearish"), strings.Contains(s, "negative"):
		score += 2
	case strings.Contains(s, "bullish"), strings.Contains(s, "positive"):
		score--
	}
	score = math.Max(minScore, math.Min(maxScore, score))
	return int(math.Round(score))
}

type insightInput struct {
	balance   *float64
	tokens    int
	sentiment string
	score     int
}

// insightRule adds a warning and/or a recommendation when it applies.
type insightRule struct {
	name           string
	applies        func(in insightInput) bool
	warning        func(in insightInput) string
	recommendation func(in insightInput) string
}

var insightRules = []insightRule{
	{
		name:    "holdings-unknown",
		applies: func(in insightInput) bool { return in.balance == nil },
		warning: func(insightInput) string { return "holdings unavailable: balance could not be fetched" },
	},
	{
		name:           "low-balance",
		applies:        func(in insightInput) bool { return in.balance != nil && *in.balance > 0 && *in.balance < lowBalance },
		warning:        func(in insightInput) string { return fmt.Sprintf("low balance: %.2f HBAR left for fees", *in.balance) },
		recommendation: func(insightInput) string { return "maintain buffer of at least 10 HBAR for transaction fees" },
	},
	{
		name:           "no-tokens",
		applies:        func(in insightInput) bool { return in.balance != nil && in.tokens == 0 },
		warning:        func(insightInput) string { return "no diversification: account holds no tokens besides HBAR" },
		recommendation: func(insightInput) string { return "no diversification: consider spreading into established Hedera tokens" },
	},
	{
		name: "bearish",
		applies: func(in insightInput) bool {
			s := strings.ToLower(in.sentiment)
			return strings.Contains(s, "bearish") || strings.Contains(s, "negative")
		},
		warning:        func(insightInput) string { return "bearish market sentiment around your holdings" },
		recommendation: func(insightInput) string { return "review exposure before adding new positions" },
	},
	{
		name:           "high-risk",
		applies:        func(in insightInput) bool { return in.score > 7 },
		warning:        func(in insightInput) string { return fmt.Sprintf("high risk profile: score %d/10", in.score) },
		recommendation: func(insightInput) string { return "reduce concentration and keep part of the portfolio in stable assets" },
	},
	{
		name:           "healthy",
		applies:        func(in insightInput) bool { return in.score <= 3 },
		recommendation: func(insightInput) string { return "portfolio looks healthy, keep monitoring" },
	},
	{
		name:           "large-balance",
		applies:        func(in insightInput) bool { return in.balance != nil && *in.balance > largeBalance },
		recommendation: func(insightInput) string { return "consider staking idle HBAR to earn network rewards" },
	},
	{
		name:           "diversified",
		applies:        func(in insightInput) bool { return in.balance != nil && in.tokens > 5 },
		recommendation: func(in insightInput) string { return fmt.Sprintf("well diversified across %d tokens", in.tokens) },
	},
}

// Insights runs the fixed rule table. Both slices are non-nil.
func Insights(balance *float64, tokens int, sentiment string, score int) (warnings, recommendations []string) {
	in := insightInput{balance: balance, tokens: tokens, sentiment: sentiment, score: score}
	warnings, recommendations = []string{}, []string{}
	for _, rule := range insightRules {
		if !rule.applies(in) {
			continue
		}
		if rule.warning != nil {
			warnings = append(warnings, rule.warning(in))
		}
		if rule.recommendation != nil {
			recommendations = append(recommendations, rule.recommendation(in))
		}
	}
	return warnings, recommendations
}
