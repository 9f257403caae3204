package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "RiskPilot-Chain/internal/errors"
	"RiskPilot-Chain/internal/observability/alerting"
	"RiskPilot-Chain/internal/orchestrator"
	"RiskPilot-Chain/pkg/logger"
)

// Executor 定义了处理器所需的编排能力。
type Executor interface {
	Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
}

// OutcomeRecorder 统计任务结果：succeeded、retried 或 failed。
type OutcomeRecorder interface {
	ObserveTask(outcome string)
}

// Processor 负责从队列消费任务并交给编排器执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	jobTimeout  time.Duration
	logger      *slog.Logger
	audit       *slog.Logger
	alerter     alerting.Dispatcher
	outcomes    OutcomeRecorder
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProcessorAuditLogger 指定审计日志输出。
func WithProcessorAuditLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.audit = l
		}
	}
}

// WithAlertDispatcher 配置告警派发器，任务终态失败时通知。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithOutcomeRecorder 配置任务结果统计。
func WithOutcomeRecorder(r OutcomeRecorder) ProcessorOption {
	return func(p *Processor) {
		p.outcomes = r
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithJobTimeout 限制单次执行的总时长，0 表示不限制。
func WithJobTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d >= 0 {
			p.jobTimeout = d
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task"),
		audit:       logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，阻塞直到 ctx 结束或队列出错。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}

	execCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}
	started := time.Now()
	resp, execErr := p.executor.Handle(execCtx, orchestrator.Request{Text: task.Message, UserID: task.UserID})
	if execErr == nil && resp == nil {
		execErr = xerrors.New(CodeTaskProcessing, "executor returned no response")
	}
	if execErr != nil {
		return p.handleFailure(ctx, task, execErr)
	}

	if err := p.store.MarkSucceeded(ctx, task.ID, *resp); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return p.handleFailure(ctx, task, xerrors.Wrap(CodeTaskProcessing, err, "保存任务结果失败"))
	}
	p.audit.Info("chat job finished",
		slog.String("task_id", task.ID),
		slog.String("user_id", task.UserID),
		slog.String("intent", resp.Intent),
		slog.String("status", string(StatusSucceeded)),
		slog.Int("attempts", task.Attempts),
		slog.Int64("latency_ms", time.Since(started).Milliseconds()),
	)
	p.observe("succeeded")
	return nil
}

// handleFailure 根据错误码的可重试属性决定重投还是终止。
func (p *Processor) handleFailure(ctx context.Context, task *Task, execErr error) error {
	// 进程退出导致的取消既不重投也不终止，任务保持 pending。
	if ctx.Err() != nil {
		if err := p.store.MarkFailed(context.WithoutCancel(ctx), task.ID, xerrors.CodeTimeout, execErr.Error(), false); err != nil {
			p.logger.Error("回写取消状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		}
		return ctx.Err()
	}

	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr) || stdErrors.Is(execErr, context.DeadlineExceeded)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if err := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); err != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	p.logger.Log(ctx, xerrors.LogLevel(execErr), "任务执行失败",
		slog.String("task_id", task.ID),
		slog.Any("error", execErr),
		slog.String("error_code", string(code)),
		slog.Bool("terminal", terminal),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)
	if terminal {
		p.audit.Warn("chat job finished",
			slog.String("task_id", task.ID),
			slog.String("user_id", task.UserID),
			slog.String("status", string(StatusFailed)),
			slog.String("error_code", string(code)),
			slog.Int("attempts", task.Attempts),
		)
		p.observe("failed")
		p.emitAlert(ctx, task, code, execErr)
		return nil
	}
	p.observe("retried")
	if p.producer == nil {
		return nil
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s 重投失败", task.ID))
	}
	p.logger.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}

func (p *Processor) observe(outcome string) {
	if p.outcomes != nil {
		p.outcomes.ObserveTask(outcome)
	}
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error) {
	if p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Kind:       alerting.KindTaskFailed,
		Code:       code,
		Message:    cause.Error(),
		Severity:   attrs.Severity,
		Subject:    task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   map[string]string{"user_id": task.UserID, "message": task.Message},
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("task_id", task.ID))
	}
}
