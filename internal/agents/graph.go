package agents

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"RiskPilot-Chain/internal/bus"
	"RiskPilot-Chain/internal/ledger"
	"RiskPilot-Chain/internal/market"
	"RiskPilot-Chain/pkg/logger"
)

// GraphAgent builds chart configs: a portfolio allocation chart from
// holdings and a history chart from market prices.
type GraphAgent struct {
	holdings ledger.HoldingsFetcher
	prices   market.PriceSource
	sender   Sender
	log      *slog.Logger
}

// GraphOption customizes a GraphAgent.
type GraphOption func(*GraphAgent)

// WithGraphLogger sets the logger.
func WithGraphLogger(l *slog.Logger) GraphOption {
	return func(g *GraphAgent) {
		if l != nil {
			g.log = l
		}
	}
}

// NewGraphAgent creates a graph agent. Either source may be nil; requests
// that need it are answered with an error config.
func NewGraphAgent(holdings ledger.HoldingsFetcher, prices market.PriceSource, sender Sender, opts ...GraphOption) *GraphAgent {
	g := &GraphAgent{holdings: holdings, prices: prices, sender: sender, log: logger.Named(GraphAgentName)}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// HandleMessage implements bus.Handler.
func (g *GraphAgent) HandleMessage(ctx context.Context, msg bus.Message) {
	switch msg.Kind {
	case bus.KindGraphRequest:
		req, ok := msg.Payload.(bus.GraphRequest)
		if !ok {
			return
		}
		reply(ctx, g.sender, g.log, msg, g.portfolio(ctx, req))
	case bus.KindTokenChartRequest:
		req, ok := msg.Payload.(bus.TokenChartRequest)
		if !ok {
			return
		}
		reply(ctx, g.sender, g.log, msg, g.tokenChart(ctx, req))
	}
}

func (g *GraphAgent) portfolio(ctx context.Context, req bus.GraphRequest) bus.GraphConfig {
	out := bus.GraphConfig{UserID: req.UserID, Timeframe: req.Timeframe}
	if g.holdings == nil {
		out.Error = "no holdings source configured"
		return out
	}
	h, err := g.holdings.FetchHoldings(ctx, req.UserID)
	if err != nil {
		g.log.Warn("portfolio chart failed", slog.String("user", req.UserID), slog.Any("error", err))
		out.Error = err.Error()
		return out
	}

	labels := []string{"HBAR"}
	data := []float64{h.HBAR}
	for i, sym := range h.Symbols() {
		labels = append(labels, sym)
		data = append(data, h.Tokens[i].Balance)
	}
	out.Chart = bus.ChartConfig{
		Type:     "doughnut",
		Title:    fmt.Sprintf("Portfolio allocation for %s", req.UserID),
		Labels:   labels,
		Datasets: []bus.Dataset{{Label: "Balance", Data: data}},
		Meta: map[string]string{
			"account":   h.Account,
			"timeframe": req.Timeframe,
		},
	}
	return out
}

// chartKinds 把请求的图表类型映射为渲染类型与数据列。
var chartKinds = map[string]struct {
	render string
	label  string
	value  func(market.PricePoint) float64
}{
	"price":      {"line", "Price (USD)", func(p market.PricePoint) float64 { return p.Price }},
	"volume":     {"bar", "Volume (USD)", func(p market.PricePoint) float64 { return p.Volume }},
	"market_cap": {"line", "Market cap (USD)", func(p market.PricePoint) float64 { return p.MarketCap }},
}

func (g *GraphAgent) tokenChart(ctx context.Context, req bus.TokenChartRequest) bus.TokenChartConfig {
	out := bus.TokenChartConfig{Token: req.Token, Timeframe: req.Timeframe, ChartType: req.ChartType}
	if out.ChartType == "" {
		out.ChartType = "price"
	}
	if g.prices == nil {
		out.Error = "no price source configured"
		return out
	}
	points, err := g.prices.PriceHistory(ctx, req.Token, req.Timeframe)
	if err != nil {
		g.log.Warn("token chart failed", slog.String("token", req.Token), slog.Any("error", err))
		out.Error = err.Error()
		return out
	}
	if len(points) == 0 {
		out.Error = "no price data"
		return out
	}

	labels := make([]string, len(points))
	layout := "2006-01-02 15:04"
	if points[len(points)-1].Time.Sub(points[0].Time) > 72*time.Hour {
		layout = "2006-01-02"
	}
	for i, p := range points {
		labels[i] = p.Time.UTC().Format(layout)
	}

	title := fmt.Sprintf("%s %s (%s)", strings.ToUpper(req.Token), strings.ReplaceAll(out.ChartType, "_", " "), req.Timeframe)
	out.Chart = bus.ChartConfig{Title: title, Labels: labels, Meta: map[string]string{"token": req.Token, "points": fmt.Sprint(len(points))}}

	if out.ChartType == "candlestick" {
		out.Chart.Type = "candlestick"
		out.Chart.Datasets = candles(points)
		return out
	}
	kind, ok := chartKinds[out.ChartType]
	if !ok {
		kind = chartKinds["price"]
		out.ChartType = "price"
	}
	data := make([]float64, len(points))
	for i, p := range points {
		data[i] = kind.value(p)
	}
	out.Chart.Type = kind.render
	out.Chart.Datasets = []bus.Dataset{{Label: kind.label, Data: data}}
	return out
}

// candles 用相邻两个价格样本近似每根 K 线：开盘取上一个样本，收盘取当前样本。
func candles(points []market.PricePoint) []bus.Dataset {
	open := make([]float64, len(points))
	high := make([]float64, len(points))
	low := make([]float64, len(points))
	closing := make([]float64, len(points))
	for i, p := range points {
		o := p.Price
		if i > 0 {
			o = points[i-1].Price
		}
		open[i] = o
		closing[i] = p.Price
		high[i] = math.Max(o, p.Price)
		low[i] = math.Min(o, p.Price)
	}
	return []bus.Dataset{
		{Label: "open", Data: open},
		{Label: "high", Data: high},
		{Label: "low", Data: low},
		{Label: "close", Data: closing},
	}
}
