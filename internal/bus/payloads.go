package bus

import "time"

// ScanRequest asks a monitor to look at one account.
type ScanRequest struct {
	UserID  string `json:"userId"`
	Account string `json:"account"`
	Token   string `json:"token,omitempty"`
}

func (ScanRequest) PayloadKind() Kind { return KindScanRequest }

// BalanceUpdate is the latest balance of one token and its change since
// the previous snapshot of the same account.
type BalanceUpdate struct {
	Token   string  `json:"token"`
	Balance float64 `json:"balance"`
	Delta   float64 `json:"delta"`
}

// BalanceReport carries every balance update of a single scan.
type BalanceReport struct {
	UserID  string          `json:"userId"`
	Updates []BalanceUpdate `json:"updates"`
}

func (BalanceReport) PayloadKind() Kind { return KindBalanceUpdate }

// Sentiment is the normalized market mood for a token.
type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNegative Sentiment = "NEGATIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
)

// SentimentAlert describes the market mood around one token.
type SentimentAlert struct {
	Token       string    `json:"token"`
	Sentiment   Sentiment `json:"sentiment"`
	VolumeSpike float64   `json:"volumeSpike"`
	TopMentions []string  `json:"topMentions,omitempty"`
}

// SentimentReport carries every sentiment alert of a single scan.
type SentimentReport struct {
	UserID string           `json:"userId"`
	Alerts []SentimentAlert `json:"alerts"`
}

func (SentimentReport) PayloadKind() Kind { return KindSentimentAlert }

// RiskLevel is the per-token verdict of the aggregator.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
	RiskSafe     RiskLevel = "SAFE"
)

// TokenRisk is one row of a risk summary.
type TokenRisk struct {
	WalletDelta float64   `json:"walletDelta"`
	VolumeSpike float64   `json:"volumeSpike"`
	Risk        RiskLevel `json:"risk"`
	TopMentions []string  `json:"topMentions,omitempty"`
}

// RiskSummary merges the balance and sentiment streams of one scan.
type RiskSummary struct {
	UserID           string               `json:"userId"`
	CorrelationID    string               `json:"correlationId,omitempty"`
	Tokens           map[string]TokenRisk `json:"tokens"`
	TotalValue       float64              `json:"totalValue"`
	ChangePercent24h float64              `json:"changePercent24h"`
	ProofReference   string               `json:"proofReference,omitempty"`
	Partial          bool                 `json:"partial,omitempty"`
	FinalizedAt      time.Time            `json:"finalizedAt"`
}

func (RiskSummary) PayloadKind() Kind { return KindRiskSummary }

// GraphRequest asks for a portfolio allocation chart.
type GraphRequest struct {
	UserID    string `json:"userId"`
	Timeframe string `json:"timeframe"`
}

func (GraphRequest) PayloadKind() Kind { return KindGraphRequest }

// TokenChartRequest asks for a price history chart of one token.
type TokenChartRequest struct {
	Token     string `json:"token"`
	Timeframe string `json:"timeframe"`
	ChartType string `json:"chartType"`
}

func (TokenChartRequest) PayloadKind() Kind { return KindTokenChartRequest }

// Dataset is one series of a chart.
type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// ChartConfig is a renderer-agnostic chart description.
type ChartConfig struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Labels   []string          `json:"labels"`
	Datasets []Dataset         `json:"datasets"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// GraphConfig answers a GraphRequest.
type GraphConfig struct {
	UserID    string      `json:"userId"`
	Timeframe string      `json:"timeframe"`
	Chart     ChartConfig `json:"chart"`
	Error     string      `json:"error,omitempty"`
}

func (GraphConfig) PayloadKind() Kind { return KindGraphConfig }

// TokenChartConfig answers a TokenChartRequest.
type TokenChartConfig struct {
	Token     string      `json:"token"`
	Timeframe string      `json:"timeframe"`
	ChartType string      `json:"chartType"`
	Chart     ChartConfig `json:"chart"`
	Error     string      `json:"error,omitempty"`
}

func (TokenChartConfig) PayloadKind() Kind { return KindTokenChartConfig }
