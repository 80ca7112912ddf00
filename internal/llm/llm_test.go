package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func completionHandler(t *testing.T, content string, calls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer or-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Model       string  `json:"model"`
			Temperature float32 `json:"temperature"`
			MaxTokens   int     `json:"max_tokens"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test/model" || req.Temperature != 0.7 || req.MaxTokens != 300 {
			t.Errorf("request = %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	if _, err := NewClient(Config{}); !errors.Is(err, ErrNoCredential) {
		t.Errorf("NewClient() error = %v, want ErrNoCredential", err)
	}
}

func TestClient_Complete(t *testing.T) {
	var calls int32
	server := httptest.NewServer(completionHandler(t, `{"top":"Tee"}`, &calls))
	defer server.Close()

	c, err := NewClient(Config{APIKey: "or-key", BaseURL: server.URL, Model: "test/model"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Complete(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != `{"top":"Tee"}` {
		t.Errorf("Complete() = %q", got)
	}
}

func TestClient_Complete_ZeroTemperatureSent(t *testing.T) {
	var sent map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&sent); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "ok"}}},
		})
	}))
	defer server.Close()

	zero := float32(0)
	c, err := NewClient(Config{APIKey: "or-key", BaseURL: server.URL, Temperature: &zero})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Complete(context.Background(), "system", "user"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	temp, ok := sent["temperature"].(float64)
	if !ok {
		t.Fatalf("temperature missing from request: %v", sent)
	}
	if temp <= 0 || temp > 1e-6 {
		t.Errorf("temperature = %v, want effectively zero", temp)
	}
}

func TestClient_Complete_RetriesServerErrors(t *testing.T) {
	var calls int32
	ok := completionHandler(t, "fine", new(int32))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down"}}`))
			return
		}
		ok(w, r)
	}))
	defer server.Close()

	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() {
		if clock.BlockUntilContext(ctx, 1) == nil {
			clock.Advance(time.Second)
		}
	}()

	c, err := NewClient(Config{APIKey: "or-key", BaseURL: server.URL, Model: "test/model", Clock: clock})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Complete(ctx, "s", "u")
	if err != nil || got != "fine" {
		t.Errorf("Complete() = (%q, %v), want fine", got, err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestClient_Complete_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","code":401}}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{APIKey: "or-key", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("Complete() expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestClient_Complete_EmptyContent(t *testing.T) {
	var calls int32
	server := httptest.NewServer(completionHandler(t, "   ", &calls))
	defer server.Close()

	c, err := NewClient(Config{APIKey: "or-key", BaseURL: server.URL, Model: "test/model"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Complete(context.Background(), "s", "u"); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Complete() error = %v, want ErrEmptyResponse", err)
	}
}
