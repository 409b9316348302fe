package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scholar/backend/internal/config"
)

func newTestClient(baseURL string) Client {
	return NewClient(config.Config{
		OpenRouterAPIKey:  "test-key",
		OpenRouterBaseURL: baseURL,
	}, nil)
}

func TestStreamChatCompletionEmitsDeltasAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if body["stream"] != true {
			t.Errorf("expected stream=true, got %v", body["stream"])
		}
		if body["temperature"] != 0.2 {
			t.Errorf("expected temperature 0.2, got %v", body["temperature"])
		}
		if body["max_tokens"] != float64(512) {
			t.Errorf("expected max_tokens 512, got %v", body["max_tokens"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(": keepalive\n\n"))
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"Hello"}}]}` + "\n\n"))
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":" world"}}]}` + "\n\n"))
		_, _ = w.Write([]byte(`data: {"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}` + "\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	var started bool
	var deltas []string
	var usage Usage
	err := client.StreamChatCompletion(context.Background(), StreamRequest{
		Model:    "openai/gpt-4o",
		Messages: []Message{{Role: "user", Content: "hi"}},
		Params: &SamplingParams{
			Temperature:      0.2,
			MaxTokens:        512,
			TopP:             0.9,
			FrequencyPenalty: 0,
		},
	},
		func() error { started = true; return nil },
		func(delta string) error { deltas = append(deltas, delta); return nil },
		func(u Usage) error { usage = u; return nil },
	)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !started {
		t.Fatal("expected onStart callback")
	}
	if got := strings.Join(deltas, ""); got != "Hello world" {
		t.Fatalf("unexpected content %q", got)
	}
	if usage.TotalTokens != 9 {
		t.Fatalf("unexpected usage %+v", usage)
	}
}

func TestStreamChatCompletionSurfacesInlineError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"error":{"message":"rate limited"}}` + "\n\n"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.StreamChatCompletion(context.Background(), StreamRequest{
		Model:    "openai/gpt-4o",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected inline error, got %v", err)
	}
}

func TestStreamChatCompletionRejectsUpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.StreamChatCompletion(context.Background(), StreamRequest{
		Model:    "openai/gpt-4o",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestStreamChatCompletionRequiresAPIKey(t *testing.T) {
	client := NewClient(config.Config{OpenRouterBaseURL: "http://example.invalid"}, nil)
	err := client.StreamChatCompletion(context.Background(), StreamRequest{
		Model:    "openai/gpt-4o",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil, nil, nil)
	if err != ErrMissingAPIKey {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestCompleteReturnsFullMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if body["stream"] != false {
			t.Errorf("expected stream=false, got %v", body["stream"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"title\":\"Plan\"}"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	content, usage, err := client.Complete(context.Background(), StreamRequest{
		Model:    "openai/gpt-4o",
		Messages: []Message{{Role: "user", Content: "plan"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if content != `{"title":"Plan"}` {
		t.Fatalf("unexpected content %q", content)
	}
	if usage.TotalTokens != 15 {
		t.Fatalf("unexpected usage %+v", usage)
	}
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, _, err := client.Complete(context.Background(), StreamRequest{
		Model:    "openai/gpt-4o",
		Messages: []Message{{Role: "user", Content: "plan"}},
	}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
