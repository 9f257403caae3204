package intent

import (
	"regexp"
	"strings"
)

// Rule is one entry of the ordered classification table.
type Rule struct {
	Name  string
	Match func(in Input) (Intent, bool)
}

// Input is what every rule sees: the original text, its lower-cased form and
// the account of the user who is chatting.
type Input struct {
	Text          string
	Lower         string
	ContextUserID string
}

var (
	accountIDPattern  = regexp.MustCompile(`\b\d+\.\d+\.\d+\b`)
	legacyUserPattern = regexp.MustCompile(`\buser(\d+)\b`)
	chartPattern      = regexp.MustCompile(`\b(chart|charts|graph|graphs|plot|visuali[sz]e|candlestick|ohlc)\b`)
	portfolioPattern  = regexp.MustCompile(`\b(portfolio|wallet|holdings|balance|balances|account)\b`)
	newsPattern       = regexp.MustCompile(`\b(news|headlines?|sentiment|market trends?|trending|market mood|what'?s happening)\b`)
	genericPattern    = regexp.MustCompile(`\b(scan|analy[sz]e|check|risk|balance|balances)\b`)
	selfPhrases       = []string{
		"my wallet", "myself", "i have", "my account", "my portfolio", "my holdings",
		"my balance", "my tokens", "my coins", "i own", "do i hold",
	}
)

// rules 的顺序即优先级：
//  1. empty           空输入直接返回 Unknown
//  2. chart           图表类请求，组合措辞生成账户图，否则生成代币图
//  3. news            新闻、情绪、市场趋势
//  4. account-id      文本中显式出现 0.0.N 账户
//  5. legacy-user     旧式 user<digits> 写法
//  6. self-reference  "my wallet"、"i have" 等自指措辞，需要上下文账户
//  7. generic-verb    scan/analyze/check 等动词且没有显式目标，需要上下文账户
//
// 图表与新闻规则排在账户规则之前，所以 "chart account 0.0.5" 是图表请求，
// 而不是扫描请求。
var rules = []Rule{
	{Name: "empty", Match: matchEmpty},
	{Name: "chart", Match: matchChart},
	{Name: "news", Match: matchNews},
	{Name: "account-id", Match: matchAccountID},
	{Name: "legacy-user", Match: matchLegacyUser},
	{Name: "self-reference", Match: matchSelfReference},
	{Name: "generic-verb", Match: matchGenericVerb},
}

// Rules returns a copy of the ordered rule table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Classify runs the rule table against text; the first match wins.
func Classify(text, contextUserID string) Intent {
	intent, _ := ClassifyWithRule(text, contextUserID)
	return intent
}

// ClassifyWithRule is Classify that also reports the name of the matching
// rule, or "" when the text fell through to Unknown.
func ClassifyWithRule(text, contextUserID string) (Intent, string) {
	in := Input{
		Text:          text,
		Lower:         strings.ToLower(strings.TrimSpace(text)),
		ContextUserID: strings.TrimSpace(contextUserID),
	}
	for _, r := range rules {
		if intent, ok := r.Match(in); ok {
			return intent, r.Name
		}
	}
	return Unknown{}, ""
}

func matchEmpty(in Input) (Intent, bool) {
	if in.Lower == "" {
		return Unknown{}, true
	}
	return nil, false
}

func matchChart(in Input) (Intent, bool) {
	if !chartPattern.MatchString(in.Lower) {
		return nil, false
	}
	timeframe := ExtractTimeframe(in.Lower)
	if portfolioPattern.MatchString(in.Lower) {
		return GenerateGraph{UserID: targetUser(in), Timeframe: timeframe}, true
	}
	return GenerateTokenChart{
		Token:     ExtractChartToken(in.Lower),
		Timeframe: timeframe,
		ChartType: ExtractChartType(in.Lower),
	}, true
}

func matchNews(in Input) (Intent, bool) {
	if !newsPattern.MatchString(in.Lower) {
		return nil, false
	}
	return SummaryOnly{UserID: in.ContextUserID}, true
}

func matchAccountID(in Input) (Intent, bool) {
	id := accountIDPattern.FindString(in.Lower)
	if id == "" {
		return nil, false
	}
	return ScanUser{UserID: id, Token: ExtractToken(in.Lower)}, true
}

func matchLegacyUser(in Input) (Intent, bool) {
	m := legacyUserPattern.FindStringSubmatch(in.Lower)
	if m == nil {
		return nil, false
	}
	return ScanUser{UserID: "0.0." + m[1], Token: ExtractToken(in.Lower)}, true
}

func matchSelfReference(in Input) (Intent, bool) {
	if in.ContextUserID == "" || !selfReferential(in.Lower) {
		return nil, false
	}
	return ScanUser{UserID: in.ContextUserID, Token: ExtractToken(in.Lower), SelfScan: true}, true
}

func matchGenericVerb(in Input) (Intent, bool) {
	if in.ContextUserID == "" || !genericPattern.MatchString(in.Lower) {
		return nil, false
	}
	return ScanUser{UserID: in.ContextUserID, Token: ExtractToken(in.Lower), SelfScan: true}, true
}

func selfReferential(lower string) bool {
	ws := words(lower)
	normalized := " " + strings.Join(ws, " ") + " "
	for _, phrase := range selfPhrases {
		if strings.Contains(normalized, " "+phrase+" ") {
			return true
		}
	}
	for i := 0; i+1 < len(ws); i++ {
		if ws[i] != "my" {
			continue
		}
		if _, ok := tokenAliases[ws[i+1]]; ok {
			return true
		}
	}
	return false
}

// targetUser 在图表请求中确定账户：显式账户 > 旧式 user 写法 > 上下文账户。
func targetUser(in Input) string {
	if id := accountIDPattern.FindString(in.Lower); id != "" {
		return id
	}
	if m := legacyUserPattern.FindStringSubmatch(in.Lower); m != nil {
		return "0.0." + m[1]
	}
	return in.ContextUserID
}
