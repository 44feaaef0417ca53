package research

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/fundscope/researchd/config"
	"github.com/fundscope/researchd/internal/llm"
	"github.com/fundscope/researchd/models"
	searchmodels "github.com/fundscope/researchd/tools/websearch/models"
)

type fakeLLM struct {
	generate func(prompt string) (string, error)
	stream   func(prompt string, onDelta func(string)) (string, error)
	models   []string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt, model string) (string, error) {
	f.models = append(f.models, model)
	return f.generate(prompt)
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt, model string, onDelta func(string)) (string, error) {
	f.models = append(f.models, model)
	return f.stream(prompt, onDelta)
}

func (f *fakeLLM) GetModelInfo(model string) (llm.ModelInfo, error) { return llm.ModelInfo{}, nil }
func (f *fakeLLM) CalculateCost(in, out int64, model string) float64 {
	return 0
}

type fakeSearcher struct {
	results map[string][]searchmodels.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, q string, k int) ([]searchmodels.Result, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[q], nil
}

func testConfig() config.ResearchConfig {
	return config.ResearchConfig{
		DefaultModel:      "gpt-4-turbo-preview",
		NumQueries:        2,
		SynthesisTimeout:  time.Minute,
		ReportTimeout:     time.Minute,
		HeartbeatInterval: time.Hour, // keep heartbeats out of test output
	}
}

func newTestAgent(provider llm.Provider, searcher *fakeSearcher) *Agent {
	a := New(provider, searcher, nil, testConfig(), 5, nil)
	a.Logger = log.New(io.Discard, "", 0)
	return a
}

func TestResearchPipeline(t *testing.T) {
	provider := &fakeLLM{
		generate: func(prompt string) (string, error) {
			if strings.Contains(prompt, "search queries") {
				return "1. fund performance 2023\n- secondary market pricing\n", nil
			}
			return "finding one (a.com)", nil
		},
		stream: func(prompt string, onDelta func(string)) (string, error) {
			if !strings.Contains(prompt, "finding one") {
				t.Errorf("report prompt missing findings: %q", prompt)
			}
			onDelta("## Report\n")
			onDelta("body")
			return "## Report\nbody", nil
		},
	}
	searcher := &fakeSearcher{results: map[string][]searchmodels.Result{
		"fund performance 2023": {
			{Title: "A", URL: "https://a.com/x", Content: strings.Repeat("z", 300)},
		},
		"secondary market pricing": {
			{Title: "B", URL: "https://b.com/y", Content: "short snippet"},
		},
	}}
	agent := newTestAgent(provider, searcher)

	var events []models.StreamEvent
	var progress []string
	report, err := agent.Research(context.Background(), "how did buyout funds perform?", "", Callbacks{
		Progress: func(msg string) { progress = append(progress, msg) },
		Event:    func(ev models.StreamEvent) { events = append(events, ev) },
	})
	if err != nil {
		t.Fatalf("research: %v", err)
	}
	if report != "## Report\nbody" {
		t.Fatalf("report = %q", report)
	}
	if len(searcher.queries) != 2 {
		t.Fatalf("expected 2 searches, got %v", searcher.queries)
	}

	var types []models.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []models.EventType{
		models.EventStepStarted, // search
		models.EventQueryAdded,
		models.EventQueryAdded,
		models.EventSourceFound,
		models.EventSourceFound,
		models.EventStepStarted, // review
		models.EventStepStarted, // synthesis
		models.EventChunk,
		models.EventChunk,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (all: %v)", i, types[i], want[i], types)
		}
	}

	// Phases must come through in canonical order.
	var phases []string
	for _, ev := range events {
		if ev.Type == models.EventStepStarted {
			p, err := ev.Step()
			if err != nil {
				t.Fatalf("step payload: %v", err)
			}
			phases = append(phases, p.Phase)
		}
	}
	if strings.Join(phases, ",") != "search,review,synthesis" {
		t.Fatalf("phases = %v", phases)
	}

	// Source payloads carry the parsed domain and a capped snippet.
	src, err := events[3].Source()
	if err != nil {
		t.Fatalf("source payload: %v", err)
	}
	if src.Domain != "a.com" {
		t.Fatalf("domain = %q", src.Domain)
	}
	if len(src.Snippet) != snippetMaxChars {
		t.Fatalf("snippet length = %d, want %d", len(src.Snippet), snippetMaxChars)
	}

	if len(progress) == 0 || !strings.Contains(progress[0], "Generating search queries") {
		t.Fatalf("unexpected progress: %v", progress)
	}
}

func TestResearchFallsBackToVerbatimQuery(t *testing.T) {
	provider := &fakeLLM{
		generate: func(prompt string) (string, error) {
			if strings.Contains(prompt, "search queries") {
				return "\n\n", nil
			}
			return "findings", nil
		},
		stream: func(prompt string, onDelta func(string)) (string, error) { return "r", nil },
	}
	searcher := &fakeSearcher{}
	agent := newTestAgent(provider, searcher)

	if _, err := agent.Research(context.Background(), "verbatim question", "", Callbacks{}); err != nil {
		t.Fatalf("research: %v", err)
	}
	if len(searcher.queries) != 1 || searcher.queries[0] != "verbatim question" {
		t.Fatalf("expected verbatim fallback, got %v", searcher.queries)
	}
}

func TestResearchSearchFailureIsNonFatal(t *testing.T) {
	provider := &fakeLLM{
		generate: func(prompt string) (string, error) {
			if strings.Contains(prompt, "search queries") {
				return "only query", nil
			}
			if !strings.Contains(prompt, "(no sources found)") {
				t.Errorf("synthesis prompt should note missing sources: %q", prompt)
			}
			return "findings", nil
		},
		stream: func(prompt string, onDelta func(string)) (string, error) { return "r", nil },
	}
	searcher := &fakeSearcher{err: errors.New("provider down")}
	agent := newTestAgent(provider, searcher)

	report, err := agent.Research(context.Background(), "q", "", Callbacks{})
	if err != nil {
		t.Fatalf("dead search provider must not kill the run: %v", err)
	}
	if report != "r" {
		t.Fatalf("report = %q", report)
	}
}

func TestResearchStageModelRouting(t *testing.T) {
	provider := &fakeLLM{
		generate: func(prompt string) (string, error) {
			if strings.Contains(prompt, "search queries") {
				return "one query", nil
			}
			return "findings", nil
		},
		stream: func(prompt string, onDelta func(string)) (string, error) { return "r", nil },
	}
	agent := newTestAgent(provider, &fakeSearcher{})
	agent.Routing = config.LLMRoutingConfig{
		Queries:   "small-model",
		Synthesis: "mid-model",
		Report:    "big-model",
	}

	if _, err := agent.Research(context.Background(), "q", "", Callbacks{}); err != nil {
		t.Fatalf("research: %v", err)
	}
	want := []string{"small-model", "mid-model", "big-model"}
	if strings.Join(provider.models, ",") != strings.Join(want, ",") {
		t.Fatalf("stage models = %v, want %v", provider.models, want)
	}

	// A model named by the request overrides routing for every stage.
	provider.models = nil
	if _, err := agent.Research(context.Background(), "q", "explicit-model", Callbacks{}); err != nil {
		t.Fatalf("research: %v", err)
	}
	for _, m := range provider.models {
		if m != "explicit-model" {
			t.Fatalf("stage models = %v, want explicit-model throughout", provider.models)
		}
	}

	// With no routing and no request model the default carries all stages.
	agent.Routing = config.LLMRoutingConfig{}
	provider.models = nil
	if _, err := agent.Research(context.Background(), "q", "", Callbacks{}); err != nil {
		t.Fatalf("research: %v", err)
	}
	for _, m := range provider.models {
		if m != "gpt-4-turbo-preview" {
			t.Fatalf("stage models = %v, want default throughout", provider.models)
		}
	}
}

func TestResearchQueryGenerationFailure(t *testing.T) {
	provider := &fakeLLM{
		generate: func(prompt string) (string, error) { return "", errors.New("llm down") },
		stream:   func(prompt string, onDelta func(string)) (string, error) { return "", nil },
	}
	agent := newTestAgent(provider, &fakeSearcher{})

	if _, err := agent.Research(context.Background(), "q", "", Callbacks{}); err == nil {
		t.Fatal("expected error when query generation fails")
	}
}
