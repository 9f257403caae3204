package orchestrator

import (
	"time"

	"RiskPilot-Chain/internal/bus"
	"RiskPilot-Chain/internal/market"
	"RiskPilot-Chain/internal/scanner"
)

// Request is one chat message.
type Request struct {
	Text   string `json:"text"`
	UserID string `json:"userId,omitempty"`
}

// Graph wraps one chart config produced by the graph agent.
type Graph struct {
	Kind      string          `json:"kind"`
	Subject   string          `json:"subject"`
	Timeframe string          `json:"timeframe"`
	ChartType string          `json:"chartType,omitempty"`
	Chart     bus.ChartConfig `json:"chart"`
}

// Response is the assembled answer to a chat message.
type Response struct {
	Intent        string                  `json:"intent"`
	UserID        string                  `json:"userId,omitempty"`
	Text          string                  `json:"text"`
	CorrelationID string                  `json:"correlationId,omitempty"`
	Analysis      *scanner.Analysis       `json:"analysis,omitempty"`
	Summary       *bus.RiskSummary        `json:"summary,omitempty"`
	News          *market.SentimentReport `json:"news,omitempty"`
	Graphs        []Graph                 `json:"graphs,omitempty"`
	Warnings      []string                `json:"warnings,omitempty"`
	Refined       bool                    `json:"refined,omitempty"`
	LatencyMS     int64                   `json:"latencyMs"`
}

// 进度步骤名称。
const (
	StepIntent             = "intent"
	StepScannerStart       = "scanner_start"
	StepScannerComplete    = "scanner_complete"
	StepAggregatorStart    = "aggregator_start"
	StepAggregatorComplete = "aggregator_complete"
	StepAggregatorTimeout  = "aggregator_timeout"
	StepNewsStart          = "news_start"
	StepNewsComplete       = "news_complete"
	StepGraphStart         = "graph_start"
	StepGraphComplete      = "graph_complete"
	StepGraphTimeout       = "graph_timeout"
	StepLLMStart           = "llm_start"
	StepLLMComplete        = "llm_complete"
	StepLLMError           = "llm_error"
	StepComplete           = "complete"
	StepError              = "error"
)

// Step is one progress event of Stream.
type Step struct {
	Name   string    `json:"step"`
	Detail string    `json:"detail,omitempty"`
	Data   any       `json:"data,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Completion is the Data of the terminal complete step.
type Completion struct {
	Response  *Response `json:"response"`
	Graphs    []Graph   `json:"graphs"`
	LatencyMS int64     `json:"latency_ms"`
}

// Sink receives progress steps in order. It must not block for long.
type Sink func(Step)
