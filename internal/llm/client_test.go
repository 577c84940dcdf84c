package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/hypermem/internal/config"
)

func TestNewClientAnthropic(t *testing.T) {
	cfg := config.LLMConfig{Provider: "anthropic", AnthropicKey: "test-key", Model: "claude-haiku-4-5-20251001"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*Anthropic); !ok {
		t.Errorf("expected *Anthropic, got %T", client)
	}
}

func TestNewClientAnthropicMissingKey(t *testing.T) {
	cfg := config.LLMConfig{Provider: "anthropic"}
	_, err := NewClient(cfg)
	if err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestNewClientOllama(t *testing.T) {
	cfg := config.LLMConfig{Provider: "ollama", OllamaModel: "llama3.2"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*Ollama); !ok {
		t.Errorf("expected *Ollama, got %T", client)
	}
}

func TestNewClientNone(t *testing.T) {
	for _, p := range []string{"", "none"} {
		_, err := NewClient(config.LLMConfig{Provider: p})
		if !errors.Is(err, ErrNoProvider) {
			t.Errorf("provider %q: err = %v, want ErrNoProvider", p, err)
		}
	}
}

func TestNewClientUnknown(t *testing.T) {
	cfg := config.LLMConfig{Provider: "gpt"}
	_, err := NewClient(cfg)
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestExtractionPromptIncludesText(t *testing.T) {
	p := ExtractionPrompt("Alice moved to Berlin")
	if !strings.Contains(p, "Alice moved to Berlin") {
		t.Error("prompt should embed the source text")
	}
	if !strings.Contains(p, `"entities"`) {
		t.Error("prompt should describe the entities field")
	}
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["system"] == nil {
			t.Error("expected system prompt")
		}
		w.Write([]byte(`{"content":[{"text":"{\"summary\":\"ok\"}"}],"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	a := NewAnthropic("k", "m")
	a.url = srv.URL
	resp, err := a.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"summary":"ok"}` || resp.TokensUsed != 15 || resp.Provider != "anthropic" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestAnthropicErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewAnthropic("k", "m")
	a.url = srv.URL
	if _, err := a.Complete(context.Background(), "hi"); err == nil {
		t.Error("expected error for 503")
	}
}

func TestOllamaComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["format"] != "json" {
			t.Errorf("format = %v, want json", body["format"])
		}
		w.Write([]byte(`{"response":"{}","prompt_eval_count":3,"eval_count":4}`))
	}))
	defer srv.Close()

	resp, err := NewOllama(srv.URL, "llama3.2").Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.TokensUsed != 7 {
		t.Errorf("TokensUsed = %d, want 7", resp.TokensUsed)
	}
}

func TestMockClient(t *testing.T) {
	mock := &MockClient{
		Response: &Response{Content: "test response", Provider: "mock"},
	}

	resp, err := mock.Complete(context.Background(), "test prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "test response" {
		t.Errorf("content = %q, want %q", resp.Content, "test response")
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected 1 call, got %d", mock.CallCount())
	}
	if mock.Calls[0] != "test prompt" {
		t.Errorf("call[0] = %q, want %q", mock.Calls[0], "test prompt")
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	mock := &MockClient{Err: errors.New("provider down")}
	b := WithBreaker("test", mock, BreakerSettings{
		MinRequests:      3,
		FailureThreshold: 0.5,
		Interval:         time.Minute,
		Timeout:          time.Minute,
	})

	for i := 0; i < 3; i++ {
		if _, err := b.Complete(context.Background(), "p"); err == nil {
			t.Fatal("expected error")
		}
	}
	if b.State() != "open" {
		t.Fatalf("state = %q, want open", b.State())
	}

	// open breaker short-circuits without calling the provider
	if _, err := b.Complete(context.Background(), "p"); err == nil {
		t.Fatal("expected open-state error")
	}
	if mock.CallCount() != 3 {
		t.Errorf("provider calls = %d, want 3", mock.CallCount())
	}
}

func TestBreakerPassesThrough(t *testing.T) {
	mock := &MockClient{Response: &Response{Content: "ok"}}
	b := WithBreaker("test", mock, DefaultBreakerSettings())
	resp, err := b.Complete(context.Background(), "p")
	if err != nil || resp.Content != "ok" {
		t.Fatalf("Complete = %+v, %v", resp, err)
	}
	if b.State() != "closed" {
		t.Errorf("state = %q, want closed", b.State())
	}
}

func TestStatusErrorTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL+"/", "m").Complete(context.Background(), "hi")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusTooManyRequests || !se.Temporary() {
		t.Errorf("status error = %+v", se)
	}
	if !strings.Contains(se.Body, "slow down") {
		t.Errorf("body = %q", se.Body)
	}

	if (&StatusError{Code: http.StatusUnauthorized}).Temporary() {
		t.Error("401 should not be temporary")
	}
}

func TestAnthropicEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[],"stop_reason":"max_tokens"}`))
	}))
	defer srv.Close()

	a := NewAnthropic("k", "m")
	a.url = srv.URL
	if _, err := a.Complete(context.Background(), "hi"); err == nil {
		t.Error("expected error for empty reply")
	}
}
