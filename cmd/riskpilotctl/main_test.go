package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	t.Cleanup(func() {
		asJSON = false
		streamChat = false
		waitAfter = false
		taskID = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/bus/stats" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"agents": 4, "sent": 12, "dropped": 1})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "bus")
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	if !strings.Contains(out, "agents:    4") || !strings.Contains(out, "dropped:   1") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestChatCommandPrintsWarnings(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"intent":   "scan",
			"text":     "2 tokens, 1 HIGH",
			"warnings": []string{"news timeout"},
		})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "chat", "-u", "0.0.500", "scan", "my", "wallet")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got["text"] != "scan my wallet" || got["userId"] != "0.0.500" {
		t.Fatalf("unexpected request %v", got)
	}
	if !strings.Contains(out, "2 tokens, 1 HIGH") || !strings.Contains(out, "warning: news timeout") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTaskGetFailedReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks/t-1" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "t-1", "status": "failed", "attempts": 3, "max_retries": 3,
			"last_error": "mirror node unavailable", "error_code": "UPSTREAM_FAILURE",
		})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "task", "get", "t-1")
	if err == nil {
		t.Fatalf("expected error for failed task")
	}
	if !strings.Contains(out, "t-1  failed  attempts 3/3") || !strings.Contains(out, "UPSTREAM_FAILURE") {
		t.Fatalf("unexpected output %q", out)
	}
}
