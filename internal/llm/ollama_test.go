package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ppiankov/kurral/internal/retry"
)

func TestOllamaProvider_Generate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected path /api/generate, got %s", r.URL.Path)
		}

		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Format != "json" {
			t.Errorf("Expected format=json, got %q", req.Format)
		}
		if req.Stream {
			t.Errorf("Expected non-streaming request")
		}
		if !strings.Contains(req.Prompt, "Attached image: https://img.example/a.png") {
			t.Errorf("Expected image reference in prompt, got %q", req.Prompt)
		}

		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Model:           "llama3.1:8b",
			Response:        ` {"civility": 0.9} `,
			Done:            true,
			PromptEvalCount: 10,
			EvalCount:       20,
		})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1:8b", Timeout: 5})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Generate(context.Background(), Request{
		Task:     TaskDiscussion,
		Prompt:   "rate this thread",
		JSON:     true,
		ImageURL: "https://img.example/a.png",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Text != `{"civility": 0.9}` {
		t.Errorf("Unexpected text: %q", resp.Text)
	}
	if resp.TokensUsed != 30 {
		t.Errorf("Unexpected token usage: %d", resp.TokensUsed)
	}
}

func TestOllamaProvider_Generate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": "model loading"}`))
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "mistral", Timeout: 5})

	_, err := provider.Generate(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "model loading") {
		t.Errorf("Expected error to mention model loading, got %v", err)
	}
	if !retry.IsTransient(err) {
		t.Errorf("Expected 503 to be transient")
	}
}

func TestOllamaProvider_Generate_NoModel(t *testing.T) {
	provider, _ := NewOllamaProvider(Config{BaseURL: "http://127.0.0.1:1"})

	_, err := provider.Generate(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("Expected error when model is missing")
	}
	if !retry.IsPermanent(err) {
		t.Errorf("Expected missing model to be permanent")
	}
}

func TestOllamaProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models": []}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL})
	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be true")
	}
}

func TestNewProvider(t *testing.T) {
	if _, err := NewProvider(Config{Provider: "ollama", Model: "mistral"}); err != nil {
		t.Errorf("Expected ollama provider, got %v", err)
	}
	if p, err := NewProvider(Config{Provider: "claude", APIKey: "k"}); err != nil || p.Name() != "anthropic" {
		t.Errorf("Expected claude alias to build anthropic provider, got %v, %v", p, err)
	}
	if _, err := NewProvider(Config{Provider: "watson"}); err == nil {
		t.Error("Expected error for unknown provider")
	}
	if _, err := NewProvider(Config{}); err == nil {
		t.Error("Expected error for empty provider")
	}
}
