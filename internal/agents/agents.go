package agents

import (
	"context"
	"log/slog"

	"RiskPilot-Chain/internal/bus"
)

// 总线上各 agent 的固定名称。
const (
	BalanceMonitorName   = "balance-monitor"
	SentimentMonitorName = "sentiment-monitor"
	AggregatorName       = "aggregator"
	GraphAgentName       = "graph-agent"
	OrchestratorName     = "orchestrator"
)

// Sender is the part of the bus an agent needs to answer.
type Sender interface {
	Send(ctx context.Context, msg bus.Message) (bus.Message, error)
}

// Registrar is the part of the bus Register needs.
type Registrar interface {
	Register(name string, handler bus.Handler) error
}

// Set groups the workers so main can register them in one call.
type Set struct {
	Balance    *BalanceMonitor
	Sentiment  *SentimentMonitor
	Aggregator *AggregatorAgent
	Graph      *GraphAgent
}

// Register puts every non-nil worker of the set on the bus under its
// fixed name.
func (s Set) Register(r Registrar) error {
	entries := []struct {
		name    string
		handler bus.Handler
		present bool
	}{
		{BalanceMonitorName, s.Balance, s.Balance != nil},
		{SentimentMonitorName, s.Sentiment, s.Sentiment != nil},
		{AggregatorName, s.Aggregator, s.Aggregator != nil},
		{GraphAgentName, s.Graph, s.Graph != nil},
	}
	for _, e := range entries {
		if !e.present {
			continue
		}
		if err := r.Register(e.name, e.handler); err != nil {
			return err
		}
	}
	return nil
}

// forward sends a message produced while handling in, keeping in's reply
// target so the aggregator knows where the summary must go.
func forward(ctx context.Context, sender Sender, log *slog.Logger, in bus.Message, to string, payload bus.Payload) {
	out := bus.Message{
		Kind:          payload.PayloadKind(),
		From:          in.To,
		To:            to,
		CorrelationID: in.CorrelationID,
		ReplyTo:       in.ReplyTo,
		Payload:       payload,
	}
	if out.ReplyTo == "" {
		out.ReplyTo = in.From
	}
	if _, err := sender.Send(ctx, out); err != nil {
		log.Warn("forward failed", slog.String("kind", string(out.Kind)), slog.String("to", to), slog.Any("error", err))
	}
}

func reply(ctx context.Context, sender Sender, log *slog.Logger, in bus.Message, payload bus.Payload) {
	if _, err := sender.Send(ctx, in.Reply(payload.PayloadKind(), payload)); err != nil {
		log.Warn("reply failed", slog.String("kind", string(payload.PayloadKind())), slog.Any("error", err))
	}
}
