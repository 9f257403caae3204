package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	xerrors "RiskPilot-Chain/internal/errors"
	"RiskPilot-Chain/pkg/logger"
)

func newTestBus(opts ...Option) *Bus {
	return New(append([]Option{WithLogger(logger.Discard())}, opts...)...)
}

func TestSendStampsAndDelivers(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	got := make(chan Message, 1)
	if err := b.Register("balance-monitor", HandlerFunc(func(_ context.Context, msg Message) { got <- msg })); err != nil {
		t.Fatalf("register: %v", err)
	}

	sent, err := b.Send(context.Background(), Message{
		ID:      "caller-id",
		Kind:    KindScanRequest,
		From:    "orchestrator",
		To:      "balance-monitor",
		Payload: ScanRequest{UserID: "0.0.500", Account: "0.0.500"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.ID == "" || sent.ID == "caller-id" {
		t.Fatalf("expected bus assigned id, got %q", sent.ID)
	}
	if sent.Timestamp.IsZero() {
		t.Fatalf("expected timestamp")
	}

	select {
	case msg := <-got:
		if msg.ID != sent.ID {
			t.Fatalf("delivered message differs from stamped one")
		}
	case <-time.After(time.Second):
		t.Fatalf("handler not invoked")
	}
}

func TestSendRejectsMismatchedPayload(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	_, err := b.Send(context.Background(), Message{Kind: KindRiskSummary, To: "x", Payload: ScanRequest{}})
	if !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestSendToUnregisteredIsDropped(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	if _, err := b.Send(context.Background(), Message{Kind: KindScanRequest, To: "nobody", Payload: ScanRequest{}}); err != nil {
		t.Fatalf("send to unregistered agent should not fail: %v", err)
	}
	stats := b.Stats()
	if stats.Dropped != 1 || stats.Sent != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(b.History(0)) != 1 {
		t.Fatalf("dropped messages still belong to history")
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var mu sync.Mutex
	var first, second int
	_ = b.Register("a", HandlerFunc(func(context.Context, Message) { mu.Lock(); first++; mu.Unlock() }))
	if err := b.Register("a", HandlerFunc(func(context.Context, Message) { mu.Lock(); second++; mu.Unlock() })); err != nil {
		t.Fatalf("duplicate register should not fail: %v", err)
	}
	if b.Stats().Agents != 1 {
		t.Fatalf("expected one agent")
	}

	ch, cancel := b.Observe(4)
	defer cancel()
	_, _ = b.Send(context.Background(), Message{Kind: KindScanRequest, To: "a", Payload: ScanRequest{}})
	<-ch

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := first == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if first != 1 || second != 0 {
		t.Fatalf("first handler must stay: first=%d second=%d", first, second)
	}

	b.Unregister("a")
	b.Unregister("a")
	if b.Registered("a") {
		t.Fatalf("agent should be gone")
	}
}

func TestPerDestinationOrder(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	const n = 200
	seen := make(chan string, n)
	_ = b.Register("aggregator", HandlerFunc(func(_ context.Context, msg Message) {
		seen <- msg.Payload.(BalanceReport).UserID
	}))

	want := make([]string, n)
	for i := 0; i < n; i++ {
		want[i] = time.Duration(i).String()
		if _, err := b.Send(context.Background(), Message{Kind: KindBalanceUpdate, To: "aggregator", Payload: BalanceReport{UserID: want[i]}}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		select {
		case got := <-seen:
			if got != want[i] {
				t.Fatalf("message %d out of order: got %s", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out at message %d", i)
		}
	}
}

func TestExpectCollectsMultisetByCorrelation(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	p, err := b.Expect("orchestrator", "corr-1", KindBalanceUpdate, KindBalanceUpdate, KindSentimentAlert)
	if err != nil {
		t.Fatalf("expect: %v", err)
	}
	ctx := context.Background()
	send := func(kind Kind, corr string, payload Payload) {
		if _, err := b.Send(ctx, Message{Kind: kind, To: "orchestrator", CorrelationID: corr, Payload: payload}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	send(KindBalanceUpdate, "corr-other", BalanceReport{})
	send(KindBalanceUpdate, "corr-1", BalanceReport{UserID: "1"})
	send(KindSentimentAlert, "corr-1", SentimentReport{})
	send(KindBalanceUpdate, "corr-1", BalanceReport{UserID: "2"})

	msgs, err := p.Wait(ctx, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.CorrelationID != "corr-1" {
			t.Fatalf("cross talk: %+v", m)
		}
	}
	if b.Stats().Waiters != 0 {
		t.Fatalf("waiter leaked")
	}
}

func TestAwaitTimeoutRemovesWaiter(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	for i := 0; i < 20; i++ {
		_, err := b.Await(context.Background(), "orchestrator", "corr", 5*time.Millisecond, KindRiskSummary)
		if !xerrors.IsCode(err, xerrors.CodeTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	}
	if got := b.Stats().Waiters; got != 0 {
		t.Fatalf("expected no waiters after repeated timeouts, got %d", got)
	}
}

func TestAwaitRequiresCorrelationID(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	_, err := b.Await(context.Background(), "orchestrator", "", time.Second, KindRiskSummary)
	if !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestAwaitContextCancel(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Await(ctx, "orchestrator", "corr", time.Second, KindRiskSummary); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if b.Stats().Waiters != 0 {
		t.Fatalf("waiter leaked after cancel")
	}
}

func TestRequestRoundTrip(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	_ = b.Register("orchestrator", nil)
	_ = b.Register("graph-agent", HandlerFunc(func(ctx context.Context, msg Message) {
		req := msg.Payload.(GraphRequest)
		_, _ = b.Send(ctx, msg.Reply(KindGraphConfig, GraphConfig{UserID: req.UserID, Timeframe: req.Timeframe}))
	}))

	msgs, err := b.Request(context.Background(), Message{
		Kind:    KindGraphRequest,
		From:    "orchestrator",
		To:      "graph-agent",
		Payload: GraphRequest{UserID: "0.0.7", Timeframe: "7d"},
	}, time.Second, KindGraphConfig)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	cfg := msgs[0].Payload.(GraphConfig)
	if cfg.UserID != "0.0.7" || msgs[0].From != "graph-agent" {
		t.Fatalf("unexpected reply: %+v", msgs[0])
	}
}

func TestConcurrentRequestsDoNotCrossTalk(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	_ = b.Register("graph-agent", HandlerFunc(func(ctx context.Context, msg Message) {
		req := msg.Payload.(GraphRequest)
		_, _ = b.Send(ctx, msg.Reply(KindGraphConfig, GraphConfig{UserID: req.UserID}))
	}))

	var wg sync.WaitGroup
	errs := make(chan string, 10)
	for i := 0; i < 10; i++ {
		user := time.Duration(i).String()
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgs, err := b.Request(context.Background(), Message{
				Kind: KindGraphRequest, From: "orchestrator", To: "graph-agent",
				Payload: GraphRequest{UserID: user},
			}, time.Second, KindGraphConfig)
			if err != nil {
				errs <- err.Error()
				return
			}
			if got := msgs[0].Payload.(GraphConfig).UserID; got != user {
				errs <- "got reply for " + got + " want " + user
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatalf("%s", e)
	}
}

func TestObserverSkipsWhenFull(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	ch, cancel := b.Observe(1)
	for i := 0; i < 3; i++ {
		if _, err := b.Send(context.Background(), Message{Kind: KindScanRequest, To: "x", Payload: ScanRequest{}}); err != nil {
			t.Fatalf("send should never block on observers: %v", err)
		}
	}
	if len(ch) != 1 {
		t.Fatalf("expected one buffered message, got %d", len(ch))
	}
	cancel()
	cancel()
	if b.Stats().Observers != 0 {
		t.Fatalf("observer not removed")
	}
}

func TestHistoryLimit(t *testing.T) {
	b := newTestBus(WithHistoryLimit(3))
	defer b.Close()

	for i := 0; i < 5; i++ {
		_, _ = b.Send(context.Background(), Message{Kind: KindScanRequest, To: "x", Payload: ScanRequest{Account: time.Duration(i).String()}})
	}
	h := b.History(0)
	if len(h) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(h))
	}
	if h[0].Payload.(ScanRequest).Account != time.Duration(2).String() {
		t.Fatalf("oldest entries should be trimmed first")
	}
	if len(b.History(1)) != 1 {
		t.Fatalf("limit argument ignored")
	}
}

func TestCloseRejectsSend(t *testing.T) {
	b := newTestBus()
	b.Close()
	b.Close()
	if _, err := b.Send(context.Background(), Message{Kind: KindScanRequest, To: "x", Payload: ScanRequest{}}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMessageWireForm(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	raw, err := json.Marshal(Message{
		ID: "id-1", Kind: KindRiskSummary, From: "aggregator", To: "orchestrator",
		CorrelationID: "c", Payload: RiskSummary{UserID: "0.0.1"}, Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "risk_summary" || decoded["correlation_id"] != "c" {
		t.Fatalf("unexpected wire form: %s", raw)
	}
	if decoded["timestamp"] != "2024-05-01T12:00:00.000000123Z" {
		t.Fatalf("unexpected timestamp: %v", decoded["timestamp"])
	}
	payload := decoded["payload"].(map[string]any)
	if payload["userId"] != "0.0.1" {
		t.Fatalf("payload not embedded: %s", raw)
	}
}

func TestReplyUsesReplyTo(t *testing.T) {
	req := Message{Kind: KindScanRequest, From: "orchestrator", To: "balance-monitor", ReplyTo: "aggregator", CorrelationID: "c"}
	reply := req.Reply(KindBalanceUpdate, BalanceReport{})
	if reply.To != "aggregator" || reply.From != "balance-monitor" || reply.CorrelationID != "c" {
		t.Fatalf("unexpected reply envelope: %+v", reply)
	}
}
