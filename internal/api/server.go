package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"RiskPilot-Chain/internal/bus"
	"RiskPilot-Chain/internal/orchestrator"
	"RiskPilot-Chain/internal/storage/mysql"
	"RiskPilot-Chain/internal/task"
	"RiskPilot-Chain/pkg/logger"
)

// Chatter answers chat messages.
type Chatter interface {
	Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
	Stream(ctx context.Context, req orchestrator.Request, sink orchestrator.Sink) (*orchestrator.Response, error)
}

// Tasks is the asynchronous chat job service.
type Tasks interface {
	Submit(ctx context.Context, req task.SubmitRequest) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, opts ...task.ListOption) ([]*task.Task, error)
	Stats(ctx context.Context, opts ...task.ListOption) (task.TaskStats, error)
}

// BusView is the read-only part of the message bus.
type BusView interface {
	Stats() bus.Stats
	History(limit int) []bus.Message
	Observe(buffer int) (<-chan bus.Message, func())
}

// Conversations lists recorded exchanges.
type Conversations interface {
	ListLatest(ctx context.Context, userID string, limit int) ([]mysql.Conversation, error)
}

// Metrics records request metrics and serves the scrape endpoint.
type Metrics interface {
	ObserveHTTPRequest(handler, method string, status int, duration time.Duration)
	Handler() http.Handler
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithChat enables /chat and /chat/stream.
func WithChat(c Chatter) Option { return func(s *Server) { s.chat = c } }

// WithTasks enables /tasks.
func WithTasks(t Tasks) Option { return func(s *Server) { s.tasks = t } }

// WithBus enables /bus.
func WithBus(b BusView) Option { return func(s *Server) { s.bus = b } }

// WithConversations enables /conversations.
func WithConversations(c Conversations) Option { return func(s *Server) { s.conversations = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics enables request metrics and GET /metrics.
func WithMetrics(m Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	chat            Chatter
	tasks           Tasks
	bus             BusView
	conversations   Conversations
	metrics         Metrics
	log             *slog.Logger
	shutdownTimeout time.Duration
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{addr: addr, log: logger.Named("api"), shutdownTimeout: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	mux.HandleFunc("POST /api/v1/chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/stats", s.handleTaskStats)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /api/v1/bus/stats", s.handleBusStats)
	mux.HandleFunc("GET /api/v1/bus/history", s.handleBusHistory)
	mux.HandleFunc("GET /api/v1/bus/events", s.handleBusEvents)
	mux.HandleFunc("GET /api/v1/conversations", s.handleConversations)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return s.logRequests(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush 让 SSE 在包装之后仍然可以刷新。
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		// ServeMux 在路由时写入 r.Pattern。
		if s.metrics != nil {
			s.metrics.ObserveHTTPRequest(r.Pattern, r.Method, rec.status, time.Since(started))
		}
		s.log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("elapsed_ms", time.Since(started).Milliseconds()),
		)
	})
}
