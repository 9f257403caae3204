package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "RiskPilot-Chain/internal/errors"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestCompleteChatSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Body          chatRequest
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  HBAR looks fine.  "}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/", Timeout: time.Second, MaxTokens: 200})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	reply, err := client.CompleteChat(context.Background(), "be brief", "report")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "HBAR looks fine." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	body := captured.Body
	if body.Model != defaultModelName || body.MaxTokens != 200 || len(body.Messages) != 2 {
		t.Fatalf("unexpected request body: %+v", body)
	}
	if body.Messages[0].Role != "system" || body.Messages[1].Content != "report" {
		t.Fatalf("unexpected messages: %+v", body.Messages)
	}
}

func TestCompleteChatHTTPError(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", status)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	_, err = client.CompleteChat(context.Background(), "", "test")
	if !xerrors.IsCode(err, xerrors.CodeUpstreamFailure) || xerrors.RetryableError(err) {
		t.Fatalf("expected non-retryable upstream failure, got %v", err)
	}

	status = http.StatusServiceUnavailable
	_, err = client.CompleteChat(context.Background(), "", "test")
	if !xerrors.RetryableError(err) {
		t.Fatalf("5xx should be retryable: %v", err)
	}
}

func TestCompleteChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	client.httpClient = srv.Client()
	if _, err := client.CompleteChat(context.Background(), "", "x"); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}
