package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fundscope/researchd/config"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchd_sessions_started_total",
		Help: "Research sessions started.",
	})
	sessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchd_sessions_completed_total",
		Help: "Research sessions completed successfully.",
	})
	sessionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researchd_sessions_failed_total",
		Help: "Research sessions that ended in failure.",
	})
	streamConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "researchd_stream_connections",
		Help: "Open SSE stream connections.",
	})
	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "researchd_events_emitted_total",
		Help: "Stream events emitted, by event type.",
	}, []string{"type"})
	searchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "researchd_search_requests_total",
		Help: "Web search requests, by outcome.",
	}, []string{"outcome"})
	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "researchd_llm_tokens_total",
		Help: "Estimated LLM tokens consumed, by model.",
	}, []string{"model"})
)

// Telemetry records pipeline metrics and tracks LLM spend.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	mu          sync.Mutex
	totalCost   float64
	totalTokens int64
	modelCosts  map[string]float64
}

// New creates a telemetry instance.
func New(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config:     cfg,
		logger:     log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		modelCosts: make(map[string]float64),
	}
}

// SessionStarted records a new research run.
func (t *Telemetry) SessionStarted() {
	if !t.config.Enabled {
		return
	}
	sessionsStarted.Inc()
}

// SessionFinished records the outcome and duration of a run.
func (t *Telemetry) SessionFinished(success bool, d time.Duration) {
	if !t.config.Enabled {
		return
	}
	if success {
		sessionsCompleted.Inc()
	} else {
		sessionsFailed.Inc()
	}
	t.logger.Printf("session finished: success=%t duration=%v", success, d)
}

// StreamOpened / StreamClosed track live SSE connections.
func (t *Telemetry) StreamOpened() {
	if t.config.Enabled {
		streamConnections.Inc()
	}
}

func (t *Telemetry) StreamClosed() {
	if t.config.Enabled {
		streamConnections.Dec()
	}
}

// EventEmitted counts one stream event by type.
func (t *Telemetry) EventEmitted(eventType string) {
	if t.config.Enabled {
		eventsEmitted.WithLabelValues(eventType).Inc()
	}
}

// SearchPerformed records one search request outcome.
func (t *Telemetry) SearchPerformed(err error) {
	if !t.config.Enabled {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	searchRequests.WithLabelValues(outcome).Inc()
}

// RecordLLMUsage tracks token consumption and cost per model.
func (t *Telemetry) RecordLLMUsage(model string, tokens int64, cost float64) {
	if !t.config.Enabled {
		return
	}
	llmTokens.WithLabelValues(model).Add(float64(tokens))
	if !t.config.CostTracking {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalCost += cost
	t.totalTokens += tokens
	t.modelCosts[model] += cost
}

// CostSummary provides a snapshot of accumulated costs.
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	ModelCosts  map[string]float64
}

func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := CostSummary{
		TotalCost:   t.totalCost,
		TotalTokens: t.totalTokens,
		ModelCosts:  make(map[string]float64, len(t.modelCosts)),
	}
	for k, v := range t.modelCosts {
		out.ModelCosts[k] = v
	}
	return out
}

// Shutdown logs a final cost report.
func (t *Telemetry) Shutdown() {
	costs := t.GetCostSummary()
	t.logger.Printf("final report: total_cost=$%.4f total_tokens=%d", costs.TotalCost, costs.TotalTokens)
	for model, cost := range costs.ModelCosts {
		t.logger.Printf("  model %s: $%.4f", model, cost)
	}
}
