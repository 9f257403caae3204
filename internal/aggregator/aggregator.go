// Package aggregator merges the balance and sentiment streams of a scan
// into one risk summary.
//
// Each bucket, keyed by user and correlation id, moves Empty -> Collecting
// -> finalized. It finalizes as soon as both streams are present, when an
// event arrives after the timeout, or when its scheduled sweep fires. A
// finalized key is tombstoned for one timeout window so late events for it
// are dropped instead of opening a second bucket.
package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"RiskPilot-Chain/internal/bus"
	"RiskPilot-Chain/internal/clock"
	xerrors "RiskPilot-Chain/internal/errors"
	"RiskPilot-Chain/internal/proofs"
	"RiskPilot-Chain/pkg/logger"
)

const (
	// DefaultTimeout 是单路数据到达后等待另一路的最长时间。
	DefaultTimeout = 2 * time.Second
	// DefaultHBARPrice 是演示用的 HBAR 美元单价。
	DefaultHBARPrice = 0.05
)

// EmitFunc delivers a finalized summary to replyTo.
type EmitFunc func(ctx context.Context, replyTo string, summary bus.RiskSummary)

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithTimeout sets the completion timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithClock injects the clock used for bucket ages and sweeps.
func WithClock(c clock.Clock) Option {
	return func(a *Aggregator) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithoutSweep disables the scheduled sweep; buckets then only finalize on
// event arrival.
func WithoutSweep() Option {
	return func(a *Aggregator) { a.sweep = false }
}

// WithHBARPrice overrides the demo HBAR price.
func WithHBARPrice(p float64) Option {
	return func(a *Aggregator) {
		if p > 0 {
			a.hbarPrice = p
		}
	}
}

// WithUnitPrices sets per-token prices. Tokens not listed are priced 1.0.
func WithUnitPrices(prices map[string]float64) Option {
	return func(a *Aggregator) {
		for token, p := range prices {
			a.prices[token] = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithAuditLogger sets the logger that records every emitted summary.
func WithAuditLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.audit = l
		}
	}
}

type key struct {
	userID        string
	correlationID string
}

type bucket struct {
	key        key
	balances   map[string]bus.BalanceUpdate
	sentiments map[string]bus.SentimentAlert
	createdAt  time.Time
	replyTo    string
	timer      clock.Timer
}

// Aggregator owns the bucket map. It is safe for concurrent use.
type Aggregator struct {
	mu         sync.Mutex
	buckets    map[key]*bucket
	tombstones map[key]time.Time

	emit      EmitFunc
	timeout   time.Duration
	clock     clock.Clock
	sweep     bool
	hbarPrice float64
	prices    map[string]float64
	log       *slog.Logger
	audit     *slog.Logger
}

// New creates an Aggregator that hands summaries to emit.
func New(emit EmitFunc, opts ...Option) *Aggregator {
	a := &Aggregator{
		buckets:    make(map[key]*bucket),
		tombstones: make(map[key]time.Time),
		emit:       emit,
		timeout:    DefaultTimeout,
		clock:      clock.Real(),
		sweep:      true,
		hbarPrice:  DefaultHBARPrice,
		prices:     make(map[string]float64),
		log:        logger.Named("aggregator"),
		audit:      logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// AddBalance merges a balance report into its bucket.
func (a *Aggregator) AddBalance(ctx context.Context, correlationID, replyTo string, report bus.BalanceReport) {
	a.add(ctx, key{userID: report.UserID, correlationID: correlationID}, replyTo, func(b *bucket) {
		for _, u := range report.Updates {
			b.balances[u.Token] = u
		}
	})
}

// AddSentiment merges a sentiment report into its bucket.
func (a *Aggregator) AddSentiment(ctx context.Context, correlationID, replyTo string, report bus.SentimentReport) {
	a.add(ctx, key{userID: report.UserID, correlationID: correlationID}, replyTo, func(b *bucket) {
		for _, s := range report.Alerts {
			b.sentiments[s.Token] = s
		}
	})
}

func (a *Aggregator) add(ctx context.Context, k key, replyTo string, merge func(*bucket)) {
	a.mu.Lock()
	now := a.clock.Now()
	a.purgeTombstones(now)

	if k.correlationID != "" {
		if _, done := a.tombstones[k]; done {
			a.mu.Unlock()
			a.log.Info("late event for finalized scan discarded",
				slog.String("user", k.userID), slog.String("correlation_id", k.correlationID))
			return
		}
	}

	b, ok := a.buckets[k]
	if !ok {
		b = &bucket{
			key:        k,
			balances:   make(map[string]bus.BalanceUpdate),
			sentiments: make(map[string]bus.SentimentAlert),
			createdAt:  now,
		}
		if a.sweep {
			b.timer = a.clock.AfterFunc(a.timeout, func() { a.sweepBucket(b) })
		}
		a.buckets[k] = b
	}
	if b.replyTo == "" {
		b.replyTo = replyTo
	}
	merge(b)

	complete := len(b.balances) > 0 && len(b.sentiments) > 0
	expired := now.Sub(b.createdAt) > a.timeout
	if !complete && !expired {
		a.mu.Unlock()
		return
	}
	summary := a.finalizeLocked(b, now)
	a.mu.Unlock()

	a.deliver(ctx, b.replyTo, summary)
}

func (a *Aggregator) sweepBucket(b *bucket) {
	a.mu.Lock()
	if current, ok := a.buckets[b.key]; !ok || current != b {
		a.mu.Unlock()
		return
	}
	summary := a.finalizeLocked(b, a.clock.Now())
	a.mu.Unlock()

	a.deliver(context.Background(), b.replyTo, summary)
}

// finalizeLocked deletes the bucket and builds its summary. a.mu is held.
func (a *Aggregator) finalizeLocked(b *bucket, now time.Time) bus.RiskSummary {
	if b.timer != nil {
		b.timer.Stop()
	}
	delete(a.buckets, b.key)
	if b.key.correlationID != "" {
		a.tombstones[b.key] = now
	}
	return a.summarize(b, now)
}

func (a *Aggregator) purgeTombstones(now time.Time) {
	for k, at := range a.tombstones {
		if now.Sub(at) > a.timeout {
			delete(a.tombstones, k)
		}
	}
}

func (a *Aggregator) deliver(ctx context.Context, replyTo string, summary bus.RiskSummary) {
	attrs := []any{
		slog.String("user", summary.UserID),
		slog.String("correlation_id", summary.CorrelationID),
		slog.Int("tokens", len(summary.Tokens)),
		slog.Float64("total_value", summary.TotalValue),
		slog.Bool("partial", summary.Partial),
		slog.String("proof", summary.ProofReference),
	}
	if summary.Partial {
		err := xerrors.New(xerrors.CodePartialAggregation, "")
		a.log.Log(ctx, xerrors.LogLevel(err), err.Message(), attrs...)
	}
	a.audit.Info("risk summary emitted", attrs...)
	if a.emit != nil {
		a.emit(ctx, replyTo, summary)
	}
}

// AssessRisk 按优先级判定单个代币的风险等级。
func AssessRisk(delta float64, sentiment bus.Sentiment) bus.RiskLevel {
	switch {
	case delta < -1000:
		return bus.RiskCritical
	case sentiment == bus.SentimentNegative:
		return bus.RiskHigh
	case sentiment == bus.SentimentPositive:
		return bus.RiskLow
	case delta > 0:
		return bus.RiskSafe
	default:
		return bus.RiskMedium
	}
}

func (a *Aggregator) unitPrice(token string) float64 {
	if p, ok := a.prices[token]; ok {
		return p
	}
	if token == "HBAR" {
		return a.hbarPrice
	}
	return 1
}

func (a *Aggregator) summarize(b *bucket, now time.Time) bus.RiskSummary {
	tokens := make([]string, 0, len(b.balances)+len(b.sentiments))
	seen := make(map[string]bool)
	for t := range b.balances {
		if !seen[t] {
			seen[t] = true
			tokens = append(tokens, t)
		}
	}
	for t := range b.sentiments {
		if !seen[t] {
			seen[t] = true
			tokens = append(tokens, t)
		}
	}
	sort.Strings(tokens)

	summary := bus.RiskSummary{
		UserID:        b.key.userID,
		CorrelationID: b.key.correlationID,
		Tokens:        make(map[string]bus.TokenRisk, len(tokens)),
		Partial:       len(b.balances) == 0 || len(b.sentiments) == 0,
	}
	var change float64
	for _, t := range tokens {
		bal := b.balances[t]
		alert := b.sentiments[t]
		price := a.unitPrice(t)
		summary.TotalValue += bal.Balance * price
		change += bal.Delta * price

		var mentions []string
		if len(alert.TopMentions) > 0 {
			mentions = append([]string(nil), alert.TopMentions...)
		}
		summary.Tokens[t] = bus.TokenRisk{
			WalletDelta: bal.Delta,
			VolumeSpike: alert.VolumeSpike,
			Risk:        AssessRisk(bal.Delta, alert.Sentiment),
			TopMentions: mentions,
		}
	}
	if summary.TotalValue != 0 {
		summary.ChangePercent24h = change / summary.TotalValue * 100
	}

	if ref, err := proofs.Digest(summary); err == nil {
		summary.ProofReference = ref
	} else {
		a.log.Warn("proof digest failed", slog.Any("error", err))
	}
	summary.FinalizedAt = now
	return summary
}

// Open reports how many buckets are collecting.
func (a *Aggregator) Open() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}

// Close stops every pending sweep and drops open buckets without emitting.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, b := range a.buckets {
		if b.timer != nil {
			b.timer.Stop()
		}
		delete(a.buckets, k)
	}
}
