// Package orchestrator turns one chat message into one answer: it classifies
// the text, fans the work out to bus agents and collaborators under
// per-stage timeouts, and narrates progress to an optional sink.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"RiskPilot-Chain/internal/agents"
	"RiskPilot-Chain/internal/bus"
	xerrors "RiskPilot-Chain/internal/errors"
	"RiskPilot-Chain/internal/intent"
	"RiskPilot-Chain/internal/ledger"
	"RiskPilot-Chain/internal/llm"
	"RiskPilot-Chain/internal/market"
	"RiskPilot-Chain/internal/observability/alerting"
	"RiskPilot-Chain/internal/scanner"
	"RiskPilot-Chain/internal/storage/mysql"
	"RiskPilot-Chain/pkg/logger"
)

const (
	DefaultScanTimeout  = 8 * time.Second
	DefaultGraphTimeout = 5 * time.Second
	DefaultLLMTimeout   = 15 * time.Second
)

// Bus is the part of the message bus the orchestrator uses.
type Bus interface {
	Register(name string, handler bus.Handler) error
	Registered(name string) bool
	Expect(agent, correlationID string, kinds ...bus.Kind) (*bus.Pending, error)
	Send(ctx context.Context, msg bus.Message) (bus.Message, error)
}

// Scanner runs the synchronous holdings + sentiment analysis.
type Scanner interface {
	Analyze(ctx context.Context, address, userID string) scanner.Analysis
}

// ConversationSaver records finished exchanges.
type ConversationSaver interface {
	Save(ctx context.Context, record mysql.Conversation) error
}

// ChatRecorder 统计每次回答的意图、模式、耗时与告警数。
type ChatRecorder interface {
	ObserveChat(intent, mode string, latency time.Duration, warnings int)
}

// Timeouts bounds each stage.
type Timeouts struct {
	Scan  time.Duration
	Graph time.Duration
	LLM   time.Duration
}

// Option 定义可选的 Orchestrator 配置。
type Option func(*Orchestrator)

// WithScanner sets the scanner coordinator.
func WithScanner(s Scanner) Option {
	return func(o *Orchestrator) { o.scanner = s }
}

// WithSentiment sets the news source used by market summaries.
func WithSentiment(s market.SentimentSource) Option {
	return func(o *Orchestrator) { o.sentiment = s }
}

// WithHoldings lets market summaries search for the user's own tokens.
func WithHoldings(h ledger.HoldingsFetcher) Option {
	return func(o *Orchestrator) { o.holdings = h }
}

// WithLLM sets the model that refines plain-text answers.
func WithLLM(c llm.Client) Option {
	return func(o *Orchestrator) { o.llm = c }
}

// WithConversations sets where exchanges are recorded.
func WithConversations(c ConversationSaver) Option {
	return func(o *Orchestrator) { o.conversations = c }
}

// WithRecorder sets the chat metrics recorder.
func WithRecorder(r ChatRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithAlerts notifies d whenever a scan summary carries a HIGH or CRITICAL token.
func WithAlerts(d alerting.Dispatcher) Option {
	return func(o *Orchestrator) { o.alerts = d }
}

// WithTimeouts overrides the non-zero stage timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) {
		if t.Scan > 0 {
			o.timeouts.Scan = t.Scan
		}
		if t.Graph > 0 {
			o.timeouts.Graph = t.Graph
		}
		if t.LLM > 0 {
			o.timeouts.LLM = t.LLM
		}
	}
}

// WithName changes the bus name the orchestrator listens under.
func WithName(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock replaces time.Now for latency and step timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator 协调意图分类、总线 agent 与外部协作方。
type Orchestrator struct {
	bus           Bus
	name          string
	scanner       Scanner
	sentiment     market.SentimentSource
	holdings      ledger.HoldingsFetcher
	llm           llm.Client
	conversations ConversationSaver
	recorder      ChatRecorder
	alerts        alerting.Dispatcher
	timeouts      Timeouts
	log           *slog.Logger
	now           func() time.Time
}

// New creates an Orchestrator and registers it on b. It registers without a
// handler and reads replies through correlation waiters.
func New(b Bus, opts ...Option) (*Orchestrator, error) {
	if b == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "message bus is required")
	}
	o := &Orchestrator{
		bus:  b,
		name: agents.OrchestratorName,
		timeouts: Timeouts{
			Scan:  DefaultScanTimeout,
			Graph: DefaultGraphTimeout,
			LLM:   DefaultLLMTimeout,
		},
		log: logger.Named("orchestrator"),
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if err := b.Register(o.name, nil); err != nil {
		return nil, err
	}
	return o, nil
}

// Handle answers req. The error return is reserved for invalid requests and
// context cancellation; stage timeouts degrade to warnings in the response.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Response, error) {
	return o.run(ctx, req, nil)
}

// Stream is Handle with progress narration. sink receives every step in
// order and always ends with complete or error.
func (o *Orchestrator) Stream(ctx context.Context, req Request, sink Sink) (*Response, error) {
	if sink == nil {
		sink = func(Step) {}
	}
	resp, err := o.run(ctx, req, sink)
	if err != nil {
		sink(Step{Name: StepError, Error: err.Error(), At: o.now()})
		return nil, err
	}
	sink(Step{
		Name: StepComplete,
		Data: Completion{Response: resp, Graphs: resp.Graphs, LatencyMS: resp.LatencyMS},
		At:   o.now(),
	})
	return resp, nil
}

// run 是 Handle 与 Stream 的共同流程。sink 为 nil 时扫描阶段并发执行。
func (o *Orchestrator) run(ctx context.Context, req Request, sink Sink) (*Response, error) {
	started := o.now()
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "message text is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := &pipeline{o: o, sink: sink, parallel: sink == nil}
	in, rule := intent.ClassifyWithRule(text, req.UserID)
	p.emit(StepIntent, rule, in)
	log := o.log.With(slog.String("intent", in.Name()), slog.String("rule", rule), slog.String("user", req.UserID))

	resp := &Response{Intent: in.Name(), UserID: req.UserID}
	var err error
	switch v := in.(type) {
	case intent.ScanUser:
		err = p.scan(ctx, v, resp)
	case intent.GenerateGraph:
		err = p.graph(ctx, v, resp)
	case intent.GenerateTokenChart:
		err = p.tokenChart(ctx, v, resp)
	case intent.SummaryOnly:
		err = p.summary(ctx, v, resp)
	default:
		resp.Text = helpText
		log.Log(ctx, slog.LevelInfo, "request not understood", slog.String("code", string(xerrors.CodeUnknownIntent)))
	}
	if err != nil {
		log.Warn("request aborted", slog.Any("error", err))
		return nil, err
	}

	latency := o.now().Sub(started)
	resp.LatencyMS = latency.Milliseconds()
	o.record(ctx, req, resp)
	if o.recorder != nil {
		mode := "blocking"
		if sink != nil {
			mode = "stream"
		}
		o.recorder.ObserveChat(resp.Intent, mode, latency, len(resp.Warnings))
	}
	log.Info("request answered", slog.Int64("latency_ms", resp.LatencyMS), slog.Int("warnings", len(resp.Warnings)))
	return resp, nil
}

func (o *Orchestrator) record(ctx context.Context, req Request, resp *Response) {
	if o.conversations == nil {
		return
	}
	record := mysql.Conversation{
		UserID:        req.UserID,
		Message:       req.Text,
		Intent:        resp.Intent,
		Reply:         resp.Text,
		CorrelationID: resp.CorrelationID,
		LatencyMS:     resp.LatencyMS,
		CreatedAt:     o.now().Unix(),
	}
	if resp.Summary != nil {
		record.ProofReference = resp.Summary.ProofReference
	}
	// 记录失败不影响回答。
	if err := o.conversations.Save(context.WithoutCancel(ctx), record); err != nil {
		o.log.Warn("conversation not saved", slog.Any("error", err))
	}
}

// pipeline carries the per-request state.
type pipeline struct {
	o        *Orchestrator
	sink     Sink
	parallel bool
	mu       sync.Mutex
}

func (p *pipeline) emit(name, detail string, data any) {
	if p.sink == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink(Step{Name: name, Detail: detail, Data: data, At: p.o.now()})
}

func (p *pipeline) emitErr(name string, err error) {
	if p.sink == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink(Step{Name: name, Error: err.Error(), At: p.o.now()})
}

// refine 让大模型改写 plain，失败或未配置时原样返回。
func (p *pipeline) refine(ctx context.Context, system, plain string, resp *Response) string {
	if p.o.llm == nil {
		return plain
	}
	p.emit(StepLLMStart, "", nil)
	llmCtx, cancel := context.WithTimeout(ctx, p.o.timeouts.LLM)
	defer cancel()
	out, err := p.o.llm.CompleteChat(llmCtx, system, plain)
	if err == nil && strings.TrimSpace(out) == "" {
		err = xerrors.New(xerrors.CodeUpstreamFailure, "empty completion")
	}
	if err != nil {
		p.o.log.Warn("llm refinement failed", slog.Any("error", err))
		p.emitErr(StepLLMError, err)
		return plain
	}
	p.emit(StepLLMComplete, "", nil)
	resp.Refined = true
	return strings.TrimSpace(out)
}

// isTimeout 区分阶段超时与调用方取消。
func isTimeout(err error) bool {
	return xerrors.IsCode(err, xerrors.CodeTimeout)
}
