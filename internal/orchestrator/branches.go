package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"RiskPilot-Chain/internal/agents"
	"RiskPilot-Chain/internal/bus"
	"RiskPilot-Chain/internal/intent"
	"RiskPilot-Chain/internal/llm"
	"RiskPilot-Chain/internal/market"
	"RiskPilot-Chain/internal/scanner"
)

// scan 同时驱动同步扫描器与总线上的聚合流程。
func (p *pipeline) scan(ctx context.Context, in intent.ScanUser, resp *Response) error {
	o := p.o
	corr := bus.NewCorrelationID()
	resp.CorrelationID = corr
	resp.UserID = in.UserID

	// 等待器必须在发送前登记，否则快速的回复会丢失。
	pending, err := o.bus.Expect(o.name, corr, bus.KindRiskSummary)
	if err != nil {
		return err
	}
	defer pending.Cancel()

	req := bus.ScanRequest{UserID: in.UserID, Account: in.UserID, Token: in.Token}
	dispatched := 0
	for _, to := range []string{agents.BalanceMonitorName, agents.SentimentMonitorName} {
		// 总线会静默丢弃发往未登记 agent 的消息。
		if !o.bus.Registered(to) {
			o.log.Warn("monitor not registered", slog.String("agent", to))
			continue
		}
		_, err := o.bus.Send(ctx, bus.Message{
			Kind:          bus.KindScanRequest,
			From:          o.name,
			To:            to,
			CorrelationID: corr,
			ReplyTo:       o.name,
			Payload:       req,
		})
		if err != nil {
			o.log.Warn("scan request not delivered", slog.String("to", to), slog.Any("error", err))
			continue
		}
		dispatched++
	}

	var (
		analysis *scanner.Analysis
		summary  *bus.RiskSummary
		waitErr  error
	)
	runScanner := func(ctx context.Context) {
		if o.scanner == nil {
			return
		}
		p.emit(StepScannerStart, in.UserID, nil)
		a := o.scanner.Analyze(ctx, in.UserID, in.UserID)
		analysis = &a
		p.emit(StepScannerComplete, "", a)
	}
	awaitSummary := func(ctx context.Context) error {
		p.emit(StepAggregatorStart, corr, nil)
		if dispatched == 0 {
			waitErr = errNoMonitors
			return nil
		}
		msgs, err := pending.Wait(ctx, o.timeouts.Scan)
		if err != nil {
			if isTimeout(err) {
				waitErr = err
				return nil
			}
			return err
		}
		for _, m := range msgs {
			if s, ok := m.Payload.(bus.RiskSummary); ok {
				summary = &s
			}
		}
		return nil
	}

	if p.parallel {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { runScanner(gctx); return nil })
		g.Go(func() error { return awaitSummary(gctx) })
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		runScanner(ctx)
		if err := awaitSummary(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	resp.Analysis = analysis
	resp.Summary = summary
	if summary != nil {
		p.emit(StepAggregatorComplete, summary.ProofReference, *summary)
		o.alertHighRisk(ctx, *summary)
	} else {
		if waitErr == nil {
			waitErr = errNoMonitors
		}
		p.emitErr(StepAggregatorTimeout, waitErr)
		resp.Warnings = append(resp.Warnings, "risk summary unavailable: "+waitErr.Error())
	}
	if analysis != nil {
		resp.Warnings = append(resp.Warnings, analysis.Warnings...)
	}

	plain := formatScan(in, analysis, summary, resp.Warnings)
	resp.Text = p.refine(ctx, llm.RiskAnalystPrompt, plain, resp)
	return nil
}

// graph 请求账户分布图。
func (p *pipeline) graph(ctx context.Context, in intent.GenerateGraph, resp *Response) error {
	resp.UserID = in.UserID
	if in.UserID == "" {
		resp.Text = "Tell me which account to chart, for example \"chart holdings of 0.0.1234\"."
		return nil
	}
	msg, err := p.askGraphAgent(ctx, bus.KindGraphRequest, bus.GraphRequest{UserID: in.UserID, Timeframe: in.Timeframe}, bus.KindGraphConfig, resp)
	if err != nil || msg == nil {
		return err
	}
	cfg, _ := msg.Payload.(bus.GraphConfig)
	if cfg.Error != "" {
		resp.Warnings = append(resp.Warnings, cfg.Error)
		resp.Text = fmt.Sprintf("I could not build a portfolio chart for %s: %s", in.UserID, cfg.Error)
		return nil
	}
	resp.Graphs = append(resp.Graphs, Graph{Kind: "portfolio", Subject: in.UserID, Timeframe: in.Timeframe, Chart: cfg.Chart})
	resp.Text = fmt.Sprintf("Here is the portfolio allocation of %s (%s).", in.UserID, in.Timeframe)
	return nil
}

// tokenChart 请求单个代币的行情图。
func (p *pipeline) tokenChart(ctx context.Context, in intent.GenerateTokenChart, resp *Response) error {
	msg, err := p.askGraphAgent(ctx, bus.KindTokenChartRequest,
		bus.TokenChartRequest{Token: in.Token, Timeframe: in.Timeframe, ChartType: in.ChartType}, bus.KindTokenChartConfig, resp)
	if err != nil || msg == nil {
		return err
	}
	cfg, _ := msg.Payload.(bus.TokenChartConfig)
	if cfg.Error != "" {
		resp.Warnings = append(resp.Warnings, cfg.Error)
		resp.Text = fmt.Sprintf("I could not build a %s chart for %s: %s", in.ChartType, in.Token, cfg.Error)
		return nil
	}
	resp.Graphs = append(resp.Graphs, Graph{Kind: "token", Subject: in.Token, Timeframe: in.Timeframe, ChartType: in.ChartType, Chart: cfg.Chart})
	resp.Text = fmt.Sprintf("Here is the %s chart of %s over %s.", strings.ReplaceAll(in.ChartType, "_", " "), in.Token, in.Timeframe)
	return nil
}

// askGraphAgent sends one request and waits for one typed reply. A nil
// message with a nil error means the stage timed out and resp carries the
// warning.
func (p *pipeline) askGraphAgent(ctx context.Context, kind bus.Kind, payload bus.Payload, want bus.Kind, resp *Response) (*bus.Message, error) {
	o := p.o
	corr := bus.NewCorrelationID()
	resp.CorrelationID = corr
	pending, err := o.bus.Expect(o.name, corr, want)
	if err != nil {
		return nil, err
	}
	defer pending.Cancel()

	p.emit(StepGraphStart, string(kind), payload)
	if !o.bus.Registered(agents.GraphAgentName) {
		err = errNoGraphAgent
	} else {
		_, err = o.bus.Send(ctx, bus.Message{
			Kind:          kind,
			From:          o.name,
			To:            agents.GraphAgentName,
			CorrelationID: corr,
			ReplyTo:       o.name,
			Payload:       payload,
		})
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		p.emitErr(StepGraphTimeout, err)
		resp.Warnings = append(resp.Warnings, "chart unavailable: "+err.Error())
		resp.Text = "The chart service is not available right now."
		return nil, nil
	}
	msgs, err := pending.Wait(ctx, o.timeouts.Graph)
	if err != nil {
		if !isTimeout(err) {
			return nil, err
		}
		p.emitErr(StepGraphTimeout, err)
		resp.Warnings = append(resp.Warnings, "chart unavailable: "+err.Error())
		resp.Text = "The chart took too long to build, please try again."
		return nil, nil
	}
	p.emit(StepGraphComplete, string(want), msgs[0].Payload)
	return &msgs[0], nil
}

// summary 汇总市场新闻与情绪。
func (p *pipeline) summary(ctx context.Context, in intent.SummaryOnly, resp *Response) error {
	o := p.o
	terms := p.newsTerms(ctx, in.UserID)
	p.emit(StepNewsStart, strings.Join(terms, ","), terms)

	report := market.NeutralReport(terms)
	if o.sentiment == nil {
		resp.Warnings = append(resp.Warnings, "news source not configured")
	} else {
		r, err := o.sentiment.FetchSentimentAndNews(ctx, terms)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.log.Warn("news fetch failed", slog.Any("error", err))
			resp.Warnings = append(resp.Warnings, "news unavailable: "+err.Error())
		} else {
			report = r
		}
	}
	resp.News = &report
	p.emit(StepNewsComplete, report.Sentiment, report)

	plain := formatNews(report)
	resp.Text = p.refine(ctx, llm.NewsAnalystPrompt, plain, resp)
	return nil
}

// newsTerms 优先使用用户持仓中的代币作为搜索词。
func (p *pipeline) newsTerms(ctx context.Context, userID string) []string {
	if p.o.holdings != nil && userID != "" {
		h, err := p.o.holdings.FetchHoldings(ctx, userID)
		if err == nil {
			if terms := scanner.SearchTerms(h.Tokens); len(terms) > 0 {
				return terms
			}
		}
	}
	return []string{"HBAR", "Hedera"}
}
