// Package intent turns a free-text chat message into a typed action.
package intent

// Intent is one classified chat request. The set of variants is closed.
type Intent interface {
	// Name is the stable identifier used in progress steps and logs.
	Name() string
	isIntent()
}

// ScanUser asks for a risk scan of one account.
type ScanUser struct {
	UserID   string `json:"userId"`
	Token    string `json:"token"`
	SelfScan bool   `json:"selfScan"`
}

// GenerateGraph asks for a portfolio chart of one account.
type GenerateGraph struct {
	UserID    string `json:"userId"`
	Timeframe string `json:"timeframe"`
}

// GenerateTokenChart asks for a market chart of one token.
type GenerateTokenChart struct {
	Token     string `json:"token"`
	Timeframe string `json:"timeframe"`
	ChartType string `json:"chartType"`
}

// SummaryOnly asks for a market news and sentiment digest.
type SummaryOnly struct {
	UserID string `json:"userId"`
}

// Unknown means no rule matched.
type Unknown struct{}

func (ScanUser) Name() string           { return "scan_user" }
func (GenerateGraph) Name() string      { return "generate_graph" }
func (GenerateTokenChart) Name() string { return "generate_token_chart" }
func (SummaryOnly) Name() string        { return "summary_only" }
func (Unknown) Name() string            { return "unknown" }

func (ScanUser) isIntent()           {}
func (GenerateGraph) isIntent()      {}
func (GenerateTokenChart) isIntent() {}
func (SummaryOnly) isIntent()        {}
func (Unknown) isIntent()            {}

const (
	DefaultToken     = "HBAR"
	DefaultTimeframe = "24h"
	DefaultChartType = "price"
)
