package task

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "RiskPilot-Chain/internal/errors"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error {
	return errors.New("broker unreachable")
}
func (failingProducer) Close() error { return nil }

func TestServiceSubmitValidates(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryQueue(1), 0)
	if _, err := svc.Submit(context.Background(), SubmitRequest{Text: "  "}); !xerrors.IsCode(err, CodeTaskValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if svc.maxRetries != 3 {
		t.Fatalf("expected default retries, got %d", svc.maxRetries)
	}
}

func TestServiceSubmitIsIdempotent(t *testing.T) {
	queue := NewMemoryQueue(4)
	svc := NewService(NewMemoryStore(), queue, 3)
	ctx := context.Background()

	first, err := svc.Submit(ctx, SubmitRequest{ID: "job-1", Text: "scan 0.0.5"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := svc.Submit(ctx, SubmitRequest{ID: "job-1", Text: "something else"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID || second.Message != "scan 0.0.5" {
		t.Fatalf("resubmission should return the original task, got %+v", second)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected one queued id, got %d", queue.Len())
	}
}

func TestServiceSubmitPublishFailure(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, failingProducer{}, 3)
	_, err := svc.Submit(context.Background(), SubmitRequest{ID: "job-2", Text: "scan 0.0.5"})
	if !xerrors.IsCode(err, CodeTaskPublish) {
		t.Fatalf("expected publish error, got %v", err)
	}
	task, getErr := store.Get(context.Background(), "job-2")
	if getErr != nil || task.Status != StatusFailed || task.ErrorCode != string(CodeTaskPublish) {
		t.Fatalf("unpublished task should be terminally failed, got %+v, %v", task, getErr)
	}
}

func TestServiceWaitHonoursContext(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryQueue(4), 3)
	task, err := svc.Submit(context.Background(), SubmitRequest{Text: "scan 0.0.5"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := svc.Wait(ctx, task.ID, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) || got == nil || got.Status != StatusPending {
		t.Fatalf("expected deadline with pending task, got %+v, %v", got, err)
	}
}

func TestMemoryQueueClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	_ = queue.Close()
	_ = queue.Close()
	if err := queue.Publish(context.Background(), "x"); !xerrors.IsCode(err, xerrors.CodeQueueFailure) {
		t.Fatalf("expected queue failure after close, got %v", err)
	}
}
