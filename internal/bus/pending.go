package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	xerrors "RiskPilot-Chain/internal/errors"
)

type waiter struct {
	mu        sync.Mutex
	expected  map[Kind]int
	remaining int
	collected []Message
	done      chan struct{}
}

func newWaiter(kinds []Kind) *waiter {
	expected := make(map[Kind]int, len(kinds))
	for _, k := range kinds {
		expected[k]++
	}
	return &waiter{expected: expected, remaining: len(kinds), done: make(chan struct{})}
}

// offer 收下一条匹配的消息，返回是否被接收。
func (w *waiter) offer(msg Message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.remaining == 0 || w.expected[msg.Kind] == 0 {
		return false
	}
	w.expected[msg.Kind]--
	w.remaining--
	w.collected = append(w.collected, msg)
	if w.remaining == 0 {
		close(w.done)
	}
	return true
}

func (w *waiter) snapshot() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Message, len(w.collected))
	copy(out, w.collected)
	return out
}

// Pending 是一个已登记的等待器。无论成功、超时还是取消，等待器都会被移除。
type Pending struct {
	bus  *Bus
	key  waiterKey
	w    *waiter
	once sync.Once
}

// CorrelationID 返回等待器过滤使用的关联 ID。
func (p *Pending) CorrelationID() string { return p.key.correlationID }

// Wait 阻塞直到所有期望类型到齐，超时返回 TIMEOUT 错误，收集到的部分结果被丢弃。
// timeout <= 0 时只受 ctx 约束。
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) ([]Message, error) {
	defer p.Cancel()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-p.w.done:
		return p.w.snapshot(), nil
	case <-expired:
		return nil, xerrors.New(xerrors.CodeTimeout,
			fmt.Sprintf("%s got no correlated response for %s within %s", p.key.agent, p.key.correlationID, timeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel 移除等待器，可重复调用。
func (p *Pending) Cancel() {
	p.once.Do(func() { p.bus.removeWaiter(p.key, p.w) })
}
