package agents

import (
	"context"
	"log/slog"

	"RiskPilot-Chain/internal/aggregator"
	"RiskPilot-Chain/internal/bus"
	"RiskPilot-Chain/pkg/logger"
)

// AggregatorAgent feeds monitor reports into an aggregator.Aggregator and
// sends each finalized summary back over the bus.
type AggregatorAgent struct {
	agg    *aggregator.Aggregator
	sender Sender
	log    *slog.Logger
}

// NewAggregatorAgent builds the aggregator with opts and wires its emitter
// to sender.
func NewAggregatorAgent(sender Sender, opts ...aggregator.Option) *AggregatorAgent {
	a := &AggregatorAgent{sender: sender, log: logger.Named(AggregatorName)}
	a.agg = aggregator.New(a.emit, opts...)
	return a
}

// Aggregator exposes the underlying state machine.
func (a *AggregatorAgent) Aggregator() *aggregator.Aggregator { return a.agg }

// HandleMessage implements bus.Handler.
func (a *AggregatorAgent) HandleMessage(ctx context.Context, msg bus.Message) {
	replyTo := msg.ReplyTo
	if replyTo == "" {
		replyTo = OrchestratorName
	}
	switch msg.Kind {
	case bus.KindBalanceUpdate:
		if report, ok := msg.Payload.(bus.BalanceReport); ok {
			a.agg.AddBalance(ctx, msg.CorrelationID, replyTo, report)
		}
	case bus.KindSentimentAlert:
		if report, ok := msg.Payload.(bus.SentimentReport); ok {
			a.agg.AddSentiment(ctx, msg.CorrelationID, replyTo, report)
		}
	}
}

func (a *AggregatorAgent) emit(ctx context.Context, replyTo string, summary bus.RiskSummary) {
	msg := bus.Message{
		Kind:          bus.KindRiskSummary,
		From:          AggregatorName,
		To:            replyTo,
		CorrelationID: summary.CorrelationID,
		Payload:       summary,
	}
	if _, err := a.sender.Send(ctx, msg); err != nil {
		a.log.Warn("risk summary not delivered", slog.String("to", replyTo), slog.Any("error", err))
	}
}

// Close stops pending sweeps.
func (a *AggregatorAgent) Close() { a.agg.Close() }
