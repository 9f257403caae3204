package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"RiskPilot-Chain/internal/bus"
	xerrors "RiskPilot-Chain/internal/errors"
	"RiskPilot-Chain/internal/observability/alerting"
)

// alertHighRisk 在汇总中出现 HIGH 或 CRITICAL 代币时发出告警。通知失败只记日志。
func (o *Orchestrator) alertHighRisk(ctx context.Context, summary bus.RiskSummary) {
	if o.alerts == nil {
		return
	}
	high := highRiskTokens(summary)
	if len(high) == 0 {
		return
	}
	severity := xerrors.SeverityWarning
	lines := make([]string, 0, len(high))
	for _, symbol := range high {
		r := summary.Tokens[symbol]
		if r.Risk == bus.RiskCritical {
			severity = xerrors.SeverityCritical
		}
		lines = append(lines, fmt.Sprintf("%s: %s delta %+.4f, volume spike %.2f", symbol, r.Risk, r.WalletDelta, r.VolumeSpike))
	}
	event := alerting.Event{
		Kind:     alerting.KindHighRisk,
		Message:  strings.Join(lines, "\n"),
		Severity: severity,
		Subject:  summary.UserID,
		Metadata: map[string]string{
			"correlation_id": summary.CorrelationID,
			"proof":          summary.ProofReference,
			"total_value":    fmt.Sprintf("%.2f", summary.TotalValue),
		},
		OccurredAt: o.now(),
	}
	if err := o.alerts.Notify(context.WithoutCancel(ctx), event); err != nil {
		o.log.Warn("high risk alert failed", slog.String("user", summary.UserID), slog.Any("error", err))
	}
}

func highRiskTokens(summary bus.RiskSummary) []string {
	var out []string
	for symbol, r := range summary.Tokens {
		if r.Risk == bus.RiskHigh || r.Risk == bus.RiskCritical {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}
