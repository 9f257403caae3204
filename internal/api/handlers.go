package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"RiskPilot-Chain/internal/bus"
	xerrors "RiskPilot-Chain/internal/errors"
	"RiskPilot-Chain/internal/orchestrator"
	"RiskPilot-Chain/internal/task"
)

// 请求体上限。
const maxBodyBytes = 64 << 10

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "", "chat 未启用")
		return
	}
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	resp, err := s.chat.Handle(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChatStream 以 SSE 输出进度步骤，每个步骤一个事件，事件名即步骤名。
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "", "chat 未启用")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "", "SSE not supported")
		return
	}
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var mu sync.Mutex
	sink := func(step orchestrator.Step) {
		mu.Lock()
		defer mu.Unlock()
		if err := writeEvent(w, step.Name, step); err != nil {
			s.log.Debug("sse write failed", slog.Any("error", err))
			return
		}
		flusher.Flush()
	}
	// 错误已经作为 error 步骤写出。
	_, _ = s.chat.Stream(r.Context(), req, sink)
}

func decodeChat(w http.ResponseWriter, r *http.Request) (orchestrator.Request, bool) {
	var req orchestrator.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return req, false
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "text 不能为空")
		return req, false
	}
	return req, true
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "", "任务服务未启用")
		return
	}
	var req task.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return
	}
	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/tasks/"+created.ID)
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "", "任务服务未启用")
		return
	}
	found, err := s.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "", "任务服务未启用")
		return
	}
	list, err := s.tasks.List(r.Context(), listOptions(r)...)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": list})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "", "任务服务未启用")
		return
	}
	stats, err := s.tasks.Stats(r.Context(), listOptions(r)...)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func listOptions(r *http.Request) []task.ListOption {
	q := r.URL.Query()
	opts := []task.ListOption{task.WithLimit(intParam(r, "limit", 20))}
	if offset := intParam(r, "offset", 0); offset > 0 {
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if user := q.Get("user"); user != "" {
		opts = append(opts, task.WithUser(user))
	}
	if query := q.Get("q"); query != "" {
		opts = append(opts, task.WithQuery(query))
	}
	if q.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts
}

func (s *Server) handleBusStats(w http.ResponseWriter, _ *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "", "总线未启用")
		return
	}
	writeJSON(w, http.StatusOK, s.bus.Stats())
}

func (s *Server) handleBusHistory(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "", "总线未启用")
		return
	}
	messages := s.bus.History(intParam(r, "limit", 50))
	if messages == nil {
		messages = []bus.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleBusEvents 把总线观察者通道转成 SSE，可用 ?type=a,b 过滤。
func (s *Server) handleBusEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "", "总线未启用")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "", "SSE not supported")
		return
	}
	filter := map[bus.Kind]bool{}
	if raw := r.URL.Query().Get("type"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			filter[bus.Kind(strings.TrimSpace(part))] = true
		}
	}

	ch, stop := s.bus.Observe(64)
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(filter) > 0 && !filter[msg.Kind] {
				continue
			}
			if err := writeEvent(w, string(msg.Kind), msg); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "", "会话记录未启用")
		return
	}
	records, err := s.conversations.ListLatest(r.Context(), r.URL.Query().Get("user"), intParam(r, "limit", 20))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": records})
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// fail 把统一错误码映射为 HTTP 状态码。
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	code := xerrors.CodeOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Log(context.Background(), xerrors.LogLevel(err), "request failed", slog.Any("error", err))
	}
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	writeError(w, status, string(code), message)
}

func statusFor(err error) int {
	switch code := xerrors.CodeOf(err); code {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeUpstreamFailure:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{"error": message}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
