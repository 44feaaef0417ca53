package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fundscope/researchd/config"
)

func testProvider(baseURL string) *OpenAIProvider {
	return NewOpenAIProvider(config.LLMProvider{
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: baseURL,
		Models: map[string]config.LLMModel{
			"gpt-4-turbo-preview": {
				Name:            "gpt-4-turbo-preview",
				APIName:         "gpt-4-turbo-preview",
				MaxTokens:       4096,
				CostPer1K:       0.01,
				CostPer1KOutput: 0.03,
			},
		},
	})
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["model"] != "gpt-4-turbo-preview" {
			t.Errorf("model = %v", req["model"])
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"the answer"}}]}`))
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	out, err := p.Generate(context.Background(), "prompt", "gpt-4-turbo-preview")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "the answer" {
		t.Fatalf("output = %q", out)
	}
}

func TestGenerateNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	_, err := p.Generate(context.Background(), "prompt", "gpt-4-turbo-preview")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["stream"] != true {
			t.Errorf("stream flag not set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: not valid json`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: {"choices":[{"delta":{}}]}`,
			`data: [DONE]`,
		}
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n\n"))
		}
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	var deltas []string
	full, err := p.GenerateStream(context.Background(), "prompt", "gpt-4-turbo-preview", func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if full != "Hello" {
		t.Fatalf("full = %q", full)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Fatalf("deltas = %v", deltas)
	}
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	p := NewOpenAIProvider(config.LLMProvider{Type: "openai"})
	if _, err := p.Generate(context.Background(), "prompt", "any"); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestCalculateCost(t *testing.T) {
	p := testProvider("")
	got := p.CalculateCost(2000, 1000, "gpt-4-turbo-preview")
	want := 2*0.01 + 1*0.03
	if got != want {
		t.Fatalf("cost = %f, want %f", got, want)
	}
	if c := p.CalculateCost(1000, 1000, "unknown-model"); c != 0 {
		t.Fatalf("unknown model cost = %f, want 0", c)
	}
}

func TestNewProviderSelection(t *testing.T) {
	if _, err := NewProvider(config.LLMConfig{}); err == nil {
		t.Fatal("expected error with no providers")
	}
	p, err := NewProvider(config.LLMConfig{Providers: map[string]config.LLMProvider{
		"openai": {Type: "openai"},
	}})
	if err != nil {
		t.Fatalf("openai provider: %v", err)
	}
	if _, ok := p.(*OpenAIProvider); !ok {
		t.Fatalf("unexpected provider type %T", p)
	}
	if _, err := NewProvider(config.LLMConfig{Providers: map[string]config.LLMProvider{
		"anthropic": {Type: "anthropic"},
	}}); err == nil {
		t.Fatal("expected not-implemented error for anthropic")
	}
}
