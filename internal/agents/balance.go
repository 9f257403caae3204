package agents

import (
	"context"
	"log/slog"
	"sync"

	"RiskPilot-Chain/internal/bus"
	"RiskPilot-Chain/internal/ledger"
	"RiskPilot-Chain/pkg/logger"
)

// BalanceMonitor answers scan requests with the account's balances and how
// each changed since the monitor last saw the account.
type BalanceMonitor struct {
	holdings ledger.HoldingsFetcher
	sender   Sender
	target   string
	log      *slog.Logger

	mu        sync.Mutex
	snapshots map[string]map[string]float64
}

// BalanceOption customizes a BalanceMonitor.
type BalanceOption func(*BalanceMonitor)

// WithBalanceLogger sets the logger.
func WithBalanceLogger(l *slog.Logger) BalanceOption {
	return func(m *BalanceMonitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithBalanceTarget changes the agent the reports go to.
func WithBalanceTarget(name string) BalanceOption {
	return func(m *BalanceMonitor) {
		if name != "" {
			m.target = name
		}
	}
}

// NewBalanceMonitor creates a monitor reading holdings from fetcher.
func NewBalanceMonitor(fetcher ledger.HoldingsFetcher, sender Sender, opts ...BalanceOption) *BalanceMonitor {
	m := &BalanceMonitor{
		holdings:  fetcher,
		sender:    sender,
		target:    AggregatorName,
		log:       logger.Named(BalanceMonitorName),
		snapshots: make(map[string]map[string]float64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// HandleMessage implements bus.Handler.
func (m *BalanceMonitor) HandleMessage(ctx context.Context, msg bus.Message) {
	if msg.Kind != bus.KindScanRequest {
		return
	}
	req, ok := msg.Payload.(bus.ScanRequest)
	if !ok {
		return
	}
	account := req.Account
	if account == "" {
		account = req.UserID
	}
	if m.holdings == nil {
		m.log.Warn("no holdings source configured", slog.String("account", account))
		return
	}
	holdings, err := m.holdings.FetchHoldings(ctx, account)
	if err != nil {
		// 不发送任何消息，聚合器会按超时生成部分结果。
		m.log.Warn("holdings fetch failed", slog.String("account", account), slog.Any("error", err))
		return
	}

	report := bus.BalanceReport{UserID: req.UserID, Updates: m.diff(account, holdings)}
	forward(ctx, m.sender, m.log, msg, m.target, report)
}

// diff 计算与上一次快照的差值并替换快照。首次出现的账户差值为 0。
func (m *BalanceMonitor) diff(account string, h ledger.Holdings) []bus.BalanceUpdate {
	current := map[string]float64{"HBAR": h.HBAR}
	order := []string{"HBAR"}
	symbols := h.Symbols()
	for i, t := range h.Tokens {
		sym := symbols[i]
		if _, dup := current[sym]; !dup {
			order = append(order, sym)
		}
		current[sym] += t.Balance
	}

	m.mu.Lock()
	previous, seen := m.snapshots[account]
	m.snapshots[account] = current
	m.mu.Unlock()

	updates := make([]bus.BalanceUpdate, 0, len(order))
	for _, sym := range order {
		u := bus.BalanceUpdate{Token: sym, Balance: current[sym]}
		if seen {
			u.Delta = current[sym] - previous[sym]
		}
		updates = append(updates, u)
	}
	return updates
}
