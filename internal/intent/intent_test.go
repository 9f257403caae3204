package intent

import (
	"reflect"
	"testing"
)

func TestClassifyExamples(t *testing.T) {
	got := Classify("what's my HBAR balance", "0.0.500")
	want := ScanUser{UserID: "0.0.500", Token: "HBAR", SelfScan: true}
	if got != want {
		t.Fatalf("unexpected intent: %#v", got)
	}

	got = Classify("chart for token 0.0.123456 over 2 weeks", "")
	wantChart := GenerateTokenChart{Token: "0.0.123456", Timeframe: "14d", ChartType: "price"}
	if got != wantChart {
		t.Fatalf("unexpected intent: %#v", got)
	}
}

func TestRuleEmpty(t *testing.T) {
	got, rule := ClassifyWithRule("   ", "0.0.1")
	if _, ok := got.(Unknown); !ok || rule != "empty" {
		t.Fatalf("expected empty rule, got %#v via %q", got, rule)
	}
}

func TestRuleChart(t *testing.T) {
	cases := []struct {
		text string
		ctx  string
		want Intent
	}{
		{"plot my portfolio for the last month", "0.0.9", GenerateGraph{UserID: "0.0.9", Timeframe: "30d"}},
		{"graph wallet 0.0.42 over three days", "0.0.9", GenerateGraph{UserID: "0.0.42", Timeframe: "3d"}},
		{"chart holdings of user77", "", GenerateGraph{UserID: "0.0.77", Timeframe: "24h"}},
		{"show a candlestick chart for sauce this week", "", GenerateTokenChart{Token: "SAUCE", Timeframe: "7d", ChartType: "candlestick"}},
		{"visualize hbar volume over 6 hours", "", GenerateTokenChart{Token: "HBAR", Timeframe: "6h", ChartType: "volume"}},
		{"chart usdc market cap for a year", "", GenerateTokenChart{Token: "USDC", Timeframe: "365d", ChartType: "market_cap"}},
	}
	for _, tc := range cases {
		got, rule := ClassifyWithRule(tc.text, tc.ctx)
		if rule != "chart" || got != tc.want {
			t.Fatalf("%q: got %#v via %q, want %#v", tc.text, got, rule, tc.want)
		}
	}
}

func TestRuleNews(t *testing.T) {
	got, rule := ClassifyWithRule("any news on hedera?", "0.0.3")
	if rule != "news" || got != (SummaryOnly{UserID: "0.0.3"}) {
		t.Fatalf("got %#v via %q", got, rule)
	}
	got, rule = ClassifyWithRule("what are the market trends", "")
	if rule != "news" || got != (SummaryOnly{}) {
		t.Fatalf("got %#v via %q", got, rule)
	}
}

func TestRuleAccountID(t *testing.T) {
	got, rule := ClassifyWithRule("scan 0.0.1234 for sauce exposure", "0.0.500")
	want := ScanUser{UserID: "0.0.1234", Token: "SAUCE"}
	if rule != "account-id" || got != want {
		t.Fatalf("got %#v via %q", got, rule)
	}
}

func TestRuleLegacyUser(t *testing.T) {
	got, rule := ClassifyWithRule("how risky is user42", "")
	if rule != "legacy-user" || got != (ScanUser{UserID: "0.0.42", Token: "HBAR"}) {
		t.Fatalf("got %#v via %q", got, rule)
	}
}

func TestRuleSelfReference(t *testing.T) {
	for _, text := range []string{"how is my wallet doing", "tell me about myself", "what do i have", "is my sauce safe"} {
		got, rule := ClassifyWithRule(text, "0.0.8")
		if rule != "self-reference" {
			t.Fatalf("%q: expected self-reference, got %q", text, rule)
		}
		if s := got.(ScanUser); s.UserID != "0.0.8" || !s.SelfScan {
			t.Fatalf("%q: unexpected intent %#v", text, got)
		}
	}
	if _, rule := ClassifyWithRule("how is my wallet doing", ""); rule == "self-reference" {
		t.Fatalf("self-reference needs a context user")
	}
}

func TestRuleGenericVerb(t *testing.T) {
	got, rule := ClassifyWithRule("please analyze", "0.0.8")
	if rule != "generic-verb" || got != (ScanUser{UserID: "0.0.8", Token: "HBAR", SelfScan: true}) {
		t.Fatalf("got %#v via %q", got, rule)
	}
	if got := Classify("please analyze", ""); got != (Unknown{}) {
		t.Fatalf("generic verbs without context fall through, got %#v", got)
	}
}

func TestFallThroughUnknown(t *testing.T) {
	got, rule := ClassifyWithRule("hello there", "0.0.1")
	if got != (Unknown{}) || rule != "" {
		t.Fatalf("got %#v via %q", got, rule)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	inputs := []string{"what's my HBAR balance", "chart sauce", "news", "scan 0.0.5", "", "??"}
	for _, text := range inputs {
		first := Classify(text, "0.0.500")
		for i := 0; i < 5; i++ {
			if again := Classify(text, "0.0.500"); !reflect.DeepEqual(first, again) {
				t.Fatalf("%q classified differently: %#v vs %#v", text, first, again)
			}
		}
	}
}

func TestRulesOrder(t *testing.T) {
	want := []string{"empty", "chart", "news", "account-id", "legacy-user", "self-reference", "generic-verb"}
	got := Rules()
	if len(got) != len(want) {
		t.Fatalf("unexpected rule count %d", len(got))
	}
	for i, r := range got {
		if r.Name != want[i] {
			t.Fatalf("rule %d: got %s want %s", i, r.Name, want[i])
		}
	}
}

func TestExtractTimeframe(t *testing.T) {
	cases := map[string]string{
		"over 2 weeks":        "14d",
		"for two weeks":       "14d",
		"last 12 hours":       "12h",
		"past 3 months":       "90d",
		"one year":            "365d",
		"7d":                  "7d",
		"monthly":             "30d",
		"today":               "24h",
		"account 0.0.3 trend": "24h",
		"nothing":             "24h",
		"15m chart":           "1h",
		"90 minutes":          "2h",
		"6mo":                 "180d",
		"10 years":            "3650d",
	}
	for in, want := range cases {
		if got := ExtractTimeframe(in); got != want {
			t.Fatalf("%q: got %s want %s", in, got, want)
		}
	}
}

func TestExtractToken(t *testing.T) {
	cases := map[string]string{
		"ℏ price":          "HBAR",
		"saucerswap stuff": "SAUCE",
		"hbarx staking":    "HBARX",
		"karate combat":    "KARATE",
		"nothing here":     "HBAR",
	}
	for in, want := range cases {
		if got := ExtractToken(in); got != want {
			t.Fatalf("%q: got %s want %s", in, got, want)
		}
	}
}

func TestTimeframeDuration(t *testing.T) {
	if TimeframeDuration("14d") != 336 || TimeframeDuration("6h") != 6 || TimeframeDuration("junk") != 24 {
		t.Fatalf("unexpected durations")
	}
	if got := TimeframeDuration("3650d"); got != 3650*24 {
		t.Fatalf("ten years should be allowed, got %d", got)
	}
	for _, tf := range []string{"999999999999999999d", "3651d", "99999999999h", "99999999999999999999d"} {
		if got := TimeframeDuration(tf); got != 24 {
			t.Fatalf("%s: expected fallback 24, got %d", tf, got)
		}
	}
}

func TestExtractTimeframeRejectsHugeCounts(t *testing.T) {
	for _, in := range []string{
		"for 99999999999999999 years",
		"over 9223372036854775807 weeks",
		"11 years",
		"3651 days",
		"99999999999999999999d",
		"1000000000h",
		"999999999999m",
	} {
		if got := ExtractTimeframe(in); got != DefaultTimeframe {
			t.Fatalf("%q: expected %s, got %s", in, DefaultTimeframe, got)
		}
	}

	got, rule := ClassifyWithRule("hbar chart for 99999999999999999 years", "0.0.500")
	want := GenerateTokenChart{Token: "HBAR", Timeframe: DefaultTimeframe, ChartType: "price"}
	if got != want {
		t.Fatalf("rule %s: got %#v want %#v", rule, got, want)
	}
}
