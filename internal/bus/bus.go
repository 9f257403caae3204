package bus

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "RiskPilot-Chain/internal/errors"
	"RiskPilot-Chain/pkg/logger"
)

// DefaultHistoryLimit 是历史日志默认保留的消息条数。
const DefaultHistoryLimit = 10_000

// ErrClosed 表示总线已经关闭。
var ErrClosed = stdErrors.New("bus: closed")

// Handler 处理投递到某个 agent 的消息。同一个 agent 的消息按发送顺序串行处理。
type Handler interface {
	HandleMessage(ctx context.Context, msg Message)
}

// HandlerFunc 允许普通函数作为 Handler 使用。
type HandlerFunc func(ctx context.Context, msg Message)

// HandleMessage 实现 Handler 接口。
func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message) { f(ctx, msg) }

// Stats 是总线的运行时快照。
type Stats struct {
	Agents    int    `json:"agents"`
	Waiters   int    `json:"waiters"`
	Observers int    `json:"observers"`
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
	History   int    `json:"history"`
}

// Option 自定义总线行为。
type Option func(*Bus)

// WithHistoryLimit 限制历史日志长度，0 表示不限制。
func WithHistoryLimit(n int) Option {
	return func(b *Bus) {
		if n >= 0 {
			b.historyLimit = n
		}
	}
}

// WithLogger 指定总线使用的日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

type waiterKey struct {
	agent         string
	correlationID string
}

// Bus 是进程内的发布/订阅路由，支持按关联 ID 的请求/响应。
type Bus struct {
	mu           sync.Mutex
	agents       map[string]*mailbox
	waiters      map[waiterKey][]*waiter
	observers    map[uint64]chan Message
	nextObserver uint64
	history      []Message
	historyLimit int
	sent         uint64
	dropped      uint64
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// New 创建一条新的总线。
func New(opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		agents:       make(map[string]*mailbox),
		waiters:      make(map[waiterKey][]*waiter),
		observers:    make(map[uint64]chan Message),
		historyLimit: DefaultHistoryLimit,
		ctx:          ctx,
		cancel:       cancel,
		log:          logger.Named("bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register 登记一个 agent。重复登记不会报错，首次登记的 handler 保持不变。
// handler 可以为 nil，此时 agent 只登记在线状态，通过等待器读取消息。
func (b *Bus) Register(name string, handler Handler) error {
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent name is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, ok := b.agents[name]; ok {
		return nil
	}
	mb := &mailbox{name: name, handler: handler}
	b.agents[name] = mb
	if handler != nil {
		mb.notify = make(chan struct{}, 1)
		mb.stop = make(chan struct{})
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			mb.run(b.ctx, b.log)
		}()
	}
	b.log.Debug("agent registered", slog.String("agent", name), slog.Bool("handler", handler != nil))
	return nil
}

// Unregister 注销 agent，未登记的名称直接忽略。
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	mb, ok := b.agents[name]
	if ok {
		delete(b.agents, name)
	}
	b.mu.Unlock()
	if ok {
		mb.close()
		b.log.Debug("agent unregistered", slog.String("agent", name))
	}
}

// Registered 判断 agent 是否在线。
func (b *Bus) Registered(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.agents[name]
	return ok
}

// Send 写入 ID 与时间戳、追加历史，然后投递给目标 agent 的信箱、匹配的等待器
// 以及所有观察者。投递在调用内同步完成，消费是异步的。
// 目标既没有登记也没有等待器时消息被静默丢弃。
func (b *Bus) Send(ctx context.Context, msg Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if !msg.Kind.Valid() {
		return Message{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown message kind %q", msg.Kind))
	}
	if msg.Payload == nil || msg.Payload.PayloadKind() != msg.Kind {
		return Message{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("payload does not match kind %q", msg.Kind))
	}
	if msg.To == "" {
		return Message{}, xerrors.New(xerrors.CodeInvalidArgument, "destination is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Message{}, ErrClosed
	}

	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now()
	b.sent++
	b.appendHistory(msg)

	delivered := false
	if mb, ok := b.agents[msg.To]; ok {
		delivered = true
		mb.push(msg)
	}
	if msg.CorrelationID != "" {
		for _, w := range b.waiters[waiterKey{agent: msg.To, correlationID: msg.CorrelationID}] {
			if w.offer(msg) {
				delivered = true
			}
		}
	}
	if !delivered {
		b.dropped++
		b.log.Debug("message dropped", slog.String("kind", string(msg.Kind)), slog.String("to", msg.To))
	}
	for _, ch := range b.observers {
		select {
		case ch <- msg:
		default:
		}
	}
	return msg, nil
}

func (b *Bus) appendHistory(msg Message) {
	b.history = append(b.history, msg)
	if b.historyLimit > 0 && len(b.history) > b.historyLimit {
		b.history[0] = Message{}
		b.history = b.history[len(b.history)-b.historyLimit:]
	}
}

// Expect 在请求发送之前登记一个等待器，等待 agent 收到 correlationID 对应的
// 每一种期望类型（按多重集合计数）。
func (b *Bus) Expect(agent, correlationID string, kinds ...Kind) (*Pending, error) {
	if agent == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent name is required")
	}
	if correlationID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "correlation id is required")
	}
	if len(kinds) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "at least one expected kind is required")
	}
	w := newWaiter(kinds)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	key := waiterKey{agent: agent, correlationID: correlationID}
	b.waiters[key] = append(b.waiters[key], w)
	return &Pending{bus: b, key: key, w: w}, nil
}

// Await 等价于 Expect 之后立即 Wait。
func (b *Bus) Await(ctx context.Context, agent, correlationID string, timeout time.Duration, kinds ...Kind) ([]Message, error) {
	p, err := b.Expect(agent, correlationID, kinds...)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx, timeout)
}

// Request 在需要时生成关联 ID，以 msg.From 为接收方登记等待器，发送消息并等待响应。
func (b *Bus) Request(ctx context.Context, msg Message, timeout time.Duration, kinds ...Kind) ([]Message, error) {
	if msg.CorrelationID == "" {
		msg.CorrelationID = NewCorrelationID()
	}
	p, err := b.Expect(msg.From, msg.CorrelationID, kinds...)
	if err != nil {
		return nil, err
	}
	if _, err := b.Send(ctx, msg); err != nil {
		p.Cancel()
		return nil, err
	}
	return p.Wait(ctx, timeout)
}

func (b *Bus) removeWaiter(key waiterKey, w *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.waiters[key]
	for i, candidate := range list {
		if candidate == w {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.waiters, key)
		return
	}
	b.waiters[key] = list
}

// Observe 订阅所有发送的消息。缓冲区满时该观察者会跳过消息。
// 返回的函数用于取消订阅并关闭通道。
func (b *Bus) Observe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextObserver
	b.nextObserver++
	b.observers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.observers[id]; ok {
				delete(b.observers, id)
				close(ch)
			}
		})
	}
}

// History 返回最近 limit 条消息，limit <= 0 时返回全部。
func (b *Bus) History(limit int) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if limit > 0 && len(b.history) > limit {
		start = len(b.history) - limit
	}
	out := make([]Message, len(b.history)-start)
	copy(out, b.history[start:])
	return out
}

// Stats 返回总线的运行时统计。
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	waiters := 0
	for _, list := range b.waiters {
		waiters += len(list)
	}
	return Stats{
		Agents:    len(b.agents),
		Waiters:   waiters,
		Observers: len(b.observers),
		Sent:      b.sent,
		Dropped:   b.dropped,
		History:   len(b.history),
	}
}

// Close 停止所有信箱并拒绝之后的发送。
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	mailboxes := make([]*mailbox, 0, len(b.agents))
	for name, mb := range b.agents {
		mailboxes = append(mailboxes, mb)
		delete(b.agents, name)
	}
	for id, ch := range b.observers {
		delete(b.observers, id)
		close(ch)
	}
	b.mu.Unlock()

	b.cancel()
	for _, mb := range mailboxes {
		mb.close()
	}
	b.wg.Wait()
}

// mailbox 保证同一目标 agent 的消息按发送顺序串行处理。
type mailbox struct {
	name    string
	handler Handler

	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
	stop   chan struct{}
	once   sync.Once
}

func (m *mailbox) push(msg Message) {
	if m.handler == nil {
		return
	}
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) close() {
	if m.stop == nil {
		return
	}
	m.once.Do(func() { close(m.stop) })
}

func (m *mailbox) run(ctx context.Context, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-m.notify:
		}
		for {
			m.mu.Lock()
			if len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			msg := m.queue[0]
			m.queue[0] = Message{}
			m.queue = m.queue[1:]
			m.mu.Unlock()
			m.dispatch(ctx, log, msg)
		}
	}
}

func (m *mailbox) dispatch(ctx context.Context, log *slog.Logger, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("agent handler panicked",
				slog.String("agent", m.name),
				slog.String("kind", string(msg.Kind)),
				slog.Any("panic", r))
		}
	}()
	m.handler.HandleMessage(ctx, msg)
}
