package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"RiskPilot-Chain/internal/agents"
	"RiskPilot-Chain/internal/aggregator"
	"RiskPilot-Chain/internal/api"
	"RiskPilot-Chain/internal/bus"
	"RiskPilot-Chain/internal/config"
	"RiskPilot-Chain/internal/observability/metrics"
	"RiskPilot-Chain/internal/orchestrator"
	"RiskPilot-Chain/internal/scanner"
	"RiskPilot-Chain/internal/task"
	"RiskPilot-Chain/pkg/logger"
)

// main 是 RiskPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("riskpilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("riskpilotd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	holdings, closeLedger, err := createHoldings(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	cache, err := createCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	sentiment := createSentiment(cfg, cache)
	prices := createPrices(cfg, cache)

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	conversations, err := createConversations(ctx, cfg)
	if err != nil {
		return err
	}
	defer conversations.Close()

	b := bus.New(bus.WithHistoryLimit(cfg.Bus.HistoryLimit))
	defer b.Close()

	var m *metrics.Metrics
	if cfg.Observability.Metrics {
		m = metrics.New()
		m.RegisterBus(func() (uint64, uint64) {
			st := b.Stats()
			return st.Sent, st.Dropped
		})
	}
	alerts := createAlerts(cfg)

	aggregatorAgent := agents.NewAggregatorAgent(b,
		aggregator.WithTimeout(cfg.Aggregator.Timeout.Std()),
		aggregator.WithHBARPrice(cfg.Aggregator.HBARPrice),
		aggregator.WithUnitPrices(cfg.Aggregator.UnitPrices),
	)
	defer aggregatorAgent.Close()

	set := agents.Set{
		Balance: agents.NewBalanceMonitor(holdings, b),
		Sentiment: agents.NewSentimentMonitor(sentiment, b,
			agents.WithTermHoldings(holdings),
			agents.WithFanout(cfg.Market.Fanout),
		),
		Aggregator: aggregatorAgent,
		Graph:      agents.NewGraphAgent(holdings, prices, b),
	}
	if err := set.Register(b); err != nil {
		return err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithScanner(scanner.New(holdings, sentiment)),
		orchestrator.WithSentiment(sentiment),
		orchestrator.WithHoldings(holdings),
		orchestrator.WithLLM(llmClient),
		orchestrator.WithConversations(conversations),
		orchestrator.WithTimeouts(orchestrator.Timeouts{
			Scan:  cfg.Orchestrator.ScanTimeout.Std(),
			Graph: cfg.Orchestrator.GraphTimeout.Std(),
			LLM:   cfg.Orchestrator.LLMTimeout.Std(),
		}),
	}
	if m != nil {
		orchOpts = append(orchOpts, orchestrator.WithRecorder(m))
	}
	if alerts != nil {
		orchOpts = append(orchOpts, orchestrator.WithAlerts(alerts))
	}
	orch, err := orchestrator.New(b, orchOpts...)
	if err != nil {
		return err
	}

	taskStore, err := createTaskStore(ctx, cfg)
	if err != nil {
		return err
	}

	taskQueue, err := createTaskQueue(ctx, cfg)
	if err != nil {
		_ = taskStore.Close()
		return err
	}

	taskService := task.NewService(taskStore, taskQueue, cfg.Task.MaxRetries)
	defer func() {
		if err := taskService.Close(); err != nil {
			log.Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	procOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.Task.Workers),
		task.WithJobTimeout(cfg.Task.JobTimeout.Std()),
	}
	if m != nil {
		procOpts = append(procOpts, task.WithOutcomeRecorder(m))
	}
	if alerts != nil {
		procOpts = append(procOpts, task.WithAlertDispatcher(alerts))
	}
	processor := task.NewProcessor(orch, taskStore, taskQueue, taskQueue, procOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	apiOpts := []api.Option{
		api.WithChat(orch),
		api.WithTasks(taskService),
		api.WithBus(b),
		api.WithConversations(conversations),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout.Std()),
	}
	if m != nil {
		apiOpts = append(apiOpts, api.WithMetrics(m))
	}
	server := api.NewServer(cfg.Server.Address, apiOpts...)

	log.Info("riskpilotd started",
		slog.String("addr", cfg.Server.Address),
		slog.Bool("demo", cfg.Ledger.Demo),
		slog.String("llm", cfg.LLM.Provider),
		slog.String("task_queue", cfg.Task.Queue.Driver),
		slog.Bool("metrics", m != nil),
		slog.Bool("alerts", alerts != nil),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
