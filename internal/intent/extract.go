package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// tokenAliases maps lower-case words to token symbols.
var tokenAliases = map[string]string{
	"hbar":        "HBAR",
	"hbars":       "HBAR",
	"hedera":      "HBAR",
	"ℏ":           "HBAR",
	"sauce":       "SAUCE",
	"saucerswap":  "SAUCE",
	"xsauce":      "XSAUCE",
	"usdc":        "USDC",
	"hst":         "HST",
	"headstarter": "HST",
	"pack":        "PACK",
	"hashpack":    "PACK",
	"karate":      "KARATE",
	"dovu":        "DOVU",
	"grelf":       "GRELF",
	"hbarx":       "HBARX",
	"stader":      "HBARX",
}

var wordNumbers = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11,
	"twelve": 12, "fourteen": 14, "thirty": 30, "ninety": 90,
}

var (
	durationPattern  = regexp.MustCompile(`\b(\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fourteen|thirty|ninety)[\s-]*(minutes?|mins?|hours?|hrs?|days?|weeks?|months?|years?)\b`)
	shortPattern     = regexp.MustCompile(`\b(\d+)(mo|m|h|d|w|y)\b`)
	candlePattern    = regexp.MustCompile(`\b(candlestick|candlesticks|candles?|ohlc)\b`)
	volumePattern    = regexp.MustCompile(`\bvolume\b`)
	marketCapPattern = regexp.MustCompile(`\b(market[\s_-]?cap|mcap)\b`)
)

// keywordTimeframes are checked, in order, when no explicit duration exists.
var keywordTimeframes = []struct {
	pattern   *regexp.Regexp
	timeframe string
}{
	{regexp.MustCompile(`\b(today|daily|24 ?h)\b`), "24h"},
	{regexp.MustCompile(`\b(this week|weekly|last week|past week)\b`), "7d"},
	{regexp.MustCompile(`\b(this month|monthly|last month|past month)\b`), "30d"},
	{regexp.MustCompile(`\b(this year|yearly|annual|last year|past year|ytd)\b`), "365d"},
}

// words splits on anything that is not a letter or a digit.
func words(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ExtractToken returns the first token symbol mentioned in lower, or HBAR.
func ExtractToken(lower string) string {
	for _, w := range words(lower) {
		if symbol, ok := tokenAliases[w]; ok {
			return symbol
		}
	}
	if strings.Contains(lower, "ℏ") {
		return "HBAR"
	}
	return DefaultToken
}

// ExtractChartToken prefers an explicit 0.0.N token id over symbol aliases.
func ExtractChartToken(lower string) string {
	if id := accountIDPattern.FindString(lower); id != "" {
		return id
	}
	return ExtractToken(lower)
}

// MaxTimeframeDays bounds every extracted or parsed timeframe (ten years).
const MaxTimeframeDays = 3650

// ExtractTimeframe turns "2 weeks", "three days" or "monthly" into 14d, 3d
// or 30d. Account ids are removed first so 0.0.7 is never read as a number.
// Minutes round up to whole hours ("15m" is 1h). A duration longer than
// MaxTimeframeDays yields DefaultTimeframe.
func ExtractTimeframe(lower string) string {
	cleaned := accountIDPattern.ReplaceAllString(lower, " ")

	if m := durationPattern.FindStringSubmatch(cleaned); m != nil {
		if n, ok := parseCount(m[1]); ok {
			return formatTimeframe(n, m[2])
		}
		return DefaultTimeframe
	}
	if m := shortPattern.FindStringSubmatch(cleaned); m != nil {
		if n, ok := parseCount(m[1]); ok {
			return formatTimeframe(n, m[2])
		}
		return DefaultTimeframe
	}
	for _, kw := range keywordTimeframes {
		if kw.pattern.MatchString(cleaned) {
			return kw.timeframe
		}
	}
	return DefaultTimeframe
}

func parseCount(s string) (int, bool) {
	if n, ok := wordNumbers[s]; ok {
		return n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// formatTimeframe 把数量和单位换算成 Nh 或 Nd。先比较上限再做乘法，避免溢出。
func formatTimeframe(n int, unit string) string {
	const maxHours = MaxTimeframeDays * 24
	switch {
	case strings.HasPrefix(unit, "mo"):
		return dayTimeframe(n, 30)
	case strings.HasPrefix(unit, "m"):
		if n > maxHours*60 {
			return DefaultTimeframe
		}
		return fmt.Sprintf("%dh", (n+59)/60)
	case strings.HasPrefix(unit, "h"):
		if n > maxHours {
			return DefaultTimeframe
		}
		return fmt.Sprintf("%dh", n)
	case strings.HasPrefix(unit, "w"):
		return dayTimeframe(n, 7)
	case strings.HasPrefix(unit, "y"):
		return dayTimeframe(n, 365)
	default:
		return dayTimeframe(n, 1)
	}
}

func dayTimeframe(n, per int) string {
	if n > MaxTimeframeDays/per {
		return DefaultTimeframe
	}
	return fmt.Sprintf("%dd", n*per)
}

// ExtractChartType recognizes candlestick, volume and market cap charts.
func ExtractChartType(lower string) string {
	switch {
	case candlePattern.MatchString(lower):
		return "candlestick"
	case marketCapPattern.MatchString(lower):
		return "market_cap"
	case volumePattern.MatchString(lower):
		return "volume"
	default:
		return DefaultChartType
	}
}

// TimeframeDuration converts "14d" or "6h" to hours. Unparseable input and
// timeframes beyond MaxTimeframeDays yield 24.
func TimeframeDuration(timeframe string) int {
	timeframe = strings.TrimSpace(strings.ToLower(timeframe))
	if len(timeframe) < 2 {
		return 24
	}
	n, err := strconv.Atoi(timeframe[:len(timeframe)-1])
	if err != nil || n <= 0 {
		return 24
	}
	switch timeframe[len(timeframe)-1] {
	case 'h':
		if n > MaxTimeframeDays*24 {
			return 24
		}
		return n
	case 'd':
		if n > MaxTimeframeDays {
			return 24
		}
		return n * 24
	default:
		return 24
	}
}
