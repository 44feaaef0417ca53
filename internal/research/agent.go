package research

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/fundscope/researchd/config"
	"github.com/fundscope/researchd/internal/llm"
	"github.com/fundscope/researchd/internal/telemetry"
	"github.com/fundscope/researchd/models"
	"github.com/fundscope/researchd/tools/webfetch"
	"github.com/fundscope/researchd/tools/websearch"
	searchmodels "github.com/fundscope/researchd/tools/websearch/models"
)

const snippetMaxChars = 200

const queryPrompt = `You are a research assistant for private-markets investment analysis.
Generate %d focused web search queries that together cover the research question below.
Return one query per line with no numbering, bullets, or commentary.

Research question: %s`

const synthesisPrompt = `You are a senior research analyst at a private-markets investment firm.
Review the collected source material below and produce a structured set of findings:
key facts, figures, named entities, and open uncertainties relevant to the question.
Be factual; cite the source domain in parentheses after each finding.

Research question: %s

Sources:
%s`

const reportPrompt = `You are a senior research analyst at a private-markets investment firm.
Write a polished markdown research report answering the question below, grounded in
the findings provided. Structure it with a summary, detailed sections, and a short
list of caveats. Do not invent sources.

Research question: %s

Findings:
%s`

// Callbacks receive pipeline output as it is produced. Progress carries
// ephemeral status text; Event carries stream events in emission order.
// Either may be nil.
type Callbacks struct {
	Progress func(msg string)
	Event    func(ev models.StreamEvent)
}

func (cb Callbacks) progress(msg string) {
	if cb.Progress != nil {
		cb.Progress(msg)
	}
}

func (cb Callbacks) event(ev models.StreamEvent) {
	if cb.Event != nil {
		cb.Event(ev)
	}
}

// Agent runs the query-to-report research pipeline: generate search
// queries, gather sources, synthesize findings, stream the report.
type Agent struct {
	LLM        llm.Provider
	Search     websearch.Searcher
	Fetcher    *webfetch.Fetcher
	Config     config.ResearchConfig
	Routing    config.LLMRoutingConfig
	MaxResults int
	Telemetry  *telemetry.Telemetry
	Logger     *log.Logger

	now func() time.Time
}

// New assembles an agent from its dependencies. Fetcher may be nil when
// content fetching is disabled; search snippets are used instead.
func New(provider llm.Provider, searcher websearch.Searcher, fetcher *webfetch.Fetcher, cfg config.ResearchConfig, maxResults int, tel *telemetry.Telemetry) *Agent {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Agent{
		LLM:        provider,
		Search:     searcher,
		Fetcher:    fetcher,
		Config:     cfg,
		MaxResults: maxResults,
		Telemetry:  tel,
		Logger:     log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
		now:        time.Now,
	}
}

type source struct {
	title   string
	url     string
	domain  string
	snippet string
	content string
}

// Research executes the full pipeline for one query and returns the
// final report text. Events and progress flow through cb as the run
// advances; the caller persists them.
func (a *Agent) Research(ctx context.Context, query, model string, cb Callbacks) (string, error) {
	cb.event(models.NewStepStartedEvent("Searching the web", models.StepSearch, a.now()))
	cb.progress(fmt.Sprintf("Generating search queries for: %s", query))

	queries, err := a.generateQueries(ctx, query, a.stageModel(model, a.Routing.Queries))
	if err != nil {
		return "", fmt.Errorf("generate queries: %w", err)
	}
	for _, q := range queries {
		cb.event(models.NewQueryAddedEvent(q, a.now()))
	}

	sources := a.gatherSources(ctx, queries, cb)
	cb.progress(fmt.Sprintf("Collected %d search results", len(sources)))

	cb.event(models.NewStepStartedEvent("Reviewing sources", models.StepReview, a.now()))
	if a.Config.FetchContent && a.Fetcher != nil {
		a.enrichSources(ctx, sources, cb)
	}

	cb.event(models.NewStepStartedEvent("Synthesizing findings", models.StepSynthesis, a.now()))
	findings, err := a.synthesize(ctx, query, a.stageModel(model, a.Routing.Synthesis), sources, cb)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}

	cb.progress("Writing report...")
	report, err := a.writeReport(ctx, query, a.stageModel(model, a.Routing.Report), findings, cb)
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return report, nil
}

// stageModel picks the model for a pipeline stage: the requested model
// wins, then the routing entry for the stage, then the routing fallback,
// then the configured default.
func (a *Agent) stageModel(requested, routed string) string {
	switch {
	case requested != "":
		return requested
	case routed != "":
		return routed
	case a.Routing.Fallback != "":
		return a.Routing.Fallback
	default:
		return a.Config.DefaultModel
	}
}

// generateQueries asks the LLM for focused search queries, falling back
// to the research question itself when the response is unusable.
func (a *Agent) generateQueries(ctx context.Context, query, model string) ([]string, error) {
	n := a.Config.NumQueries
	if n <= 0 {
		n = 3
	}
	resp, err := a.LLM.Generate(ctx, fmt.Sprintf(queryPrompt, n, query), model)
	if err != nil {
		return nil, err
	}
	a.recordUsage(model, queryPrompt+query, resp)

	var queries []string
	for _, line := range strings.Split(resp, "\n") {
		q := strings.TrimSpace(line)
		q = strings.TrimLeft(q, "-*0123456789. ")
		q = strings.Trim(q, `"`)
		if q == "" {
			continue
		}
		queries = append(queries, q)
		if len(queries) == n {
			break
		}
	}
	if len(queries) == 0 {
		a.Logger.Printf("query generation returned nothing usable, searching the question verbatim")
		queries = []string{query}
	}
	return queries, nil
}

// gatherSources runs each query through the search provider. A failed
// search is logged and skipped; one dead provider call must not kill
// the run.
func (a *Agent) gatherSources(ctx context.Context, queries []string, cb Callbacks) []*source {
	var sources []*source
	for i, q := range queries {
		cb.progress(fmt.Sprintf("Searching (%d/%d): %s...", i+1, len(queries), q))
		results, err := a.Search.Search(ctx, q, a.MaxResults)
		if a.Telemetry != nil {
			a.Telemetry.SearchPerformed(err)
		}
		if err != nil {
			a.Logger.Printf("search %q failed: %v", q, err)
			continue
		}
		for _, r := range results {
			src := newSource(r)
			sources = append(sources, src)
			cb.event(models.NewSourceFoundEvent(models.SourcePayload{
				Title:     src.title,
				URL:       src.url,
				Domain:    src.domain,
				Snippet:   src.snippet,
				Timestamp: a.now(),
			}))
		}
	}
	return sources
}

func newSource(r searchmodels.Result) *source {
	snippet := r.Content
	if len(snippet) > snippetMaxChars {
		snippet = snippet[:snippetMaxChars]
	}
	domain := ""
	if u, err := url.Parse(r.URL); err == nil {
		domain = u.Hostname()
	}
	return &source{title: r.Title, url: r.URL, domain: domain, snippet: snippet, content: r.Content}
}

// enrichSources replaces snippets with extracted page text where the
// fetch succeeds. Failures leave the snippet in place.
func (a *Agent) enrichSources(ctx context.Context, sources []*source, cb Callbacks) {
	for i, src := range sources {
		cb.progress(fmt.Sprintf("Reading source (%d/%d): %s", i+1, len(sources), src.domain))
		page, err := a.Fetcher.Fetch(ctx, src.url)
		if err != nil {
			a.Logger.Printf("fetch %s failed: %v", src.url, err)
			continue
		}
		if page.Text != "" {
			src.content = page.Text
		}
	}
}

// synthesize condenses the gathered material into findings. The call is
// bounded by the synthesis timeout, with periodic progress heartbeats so
// the stream stays visibly alive during the long LLM call.
func (a *Agent) synthesize(ctx context.Context, query, model string, sources []*source, cb Callbacks) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, orDefault(a.Config.SynthesisTimeout, 5*time.Minute))
	defer cancel()
	stop := a.heartbeat(ctx, cb, "Synthesizing findings...")
	defer stop()

	prompt := fmt.Sprintf(synthesisPrompt, query, formatSources(sources))
	findings, err := a.LLM.Generate(ctx, prompt, model)
	if err != nil {
		return "", err
	}
	a.recordUsage(model, prompt, findings)
	return findings, nil
}

// writeReport streams the report generation, emitting one chunk event
// per delta. The accumulated text is returned as the canonical report.
func (a *Agent) writeReport(ctx context.Context, query, model, findings string, cb Callbacks) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, orDefault(a.Config.ReportTimeout, 5*time.Minute))
	defer cancel()

	prompt := fmt.Sprintf(reportPrompt, query, findings)
	report, err := a.LLM.GenerateStream(ctx, prompt, model, func(delta string) {
		cb.event(models.NewChunkEvent(delta))
	})
	if err != nil {
		return "", err
	}
	a.recordUsage(model, prompt, report)
	return report, nil
}

// heartbeat emits the given progress message on an interval until the
// returned stop function is called or ctx is done.
func (a *Agent) heartbeat(ctx context.Context, cb Callbacks, msg string) func() {
	interval := a.Config.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cb.progress(msg)
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func formatSources(sources []*source) string {
	if len(sources) == 0 {
		return "(no sources found)"
	}
	var b strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, s.title, s.domain, s.content)
	}
	return b.String()
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// recordUsage tracks a rough token estimate (len/4) for cost reporting.
func (a *Agent) recordUsage(model, prompt, completion string) {
	if a.Telemetry == nil {
		return
	}
	in := int64(len(prompt) / 4)
	out := int64(len(completion) / 4)
	a.Telemetry.RecordLLMUsage(model, in+out, a.LLM.CalculateCost(in, out, model))
}
