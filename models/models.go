package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a research session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a session in this status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session is one query-to-report research run identified by a server-issued id.
// Once Status reaches a terminal value the record is immutable.
type Session struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Report    string    `json:"report,omitempty"`
	Error     string    `json:"error,omitempty"`
	Progress  string    `json:"progress,omitempty"`

	// Execution parameters, not part of the public session representation.
	Model          string `json:"-"`
	SearchProvider string `json:"-"`
}

// EventType discriminates stream event payloads.
type EventType string

const (
	EventStatus      EventType = "status"
	EventProgress    EventType = "progress"
	EventChunk       EventType = "chunk"
	EventComplete    EventType = "complete"
	EventError       EventType = "error"
	EventStepStarted EventType = "step_started"
	EventQueryAdded  EventType = "query_added"
	EventSourceFound EventType = "source_found"
	EventHeartbeat   EventType = "heartbeat"
)

// Canonical research steps as they appear in step_started payloads.
const (
	StepSearch    = "search"
	StepReview    = "review"
	StepSynthesis = "synthesis"
)

// StreamEvent is one typed notification on a session's event stream.
// The wire form is {"type": <type>, "data": <type-specific payload>}.
// Ordering as received is significant; events are never coalesced.
type StreamEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StepPayload is the data of a step_started event.
type StepPayload struct {
	Step      string    `json:"step"`
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryPayload is the data of a query_added event.
type QueryPayload struct {
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
}

// SourcePayload is the data of a source_found event.
type SourcePayload struct {
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Domain    string    `json:"domain"`
	Snippet   string    `json:"snippet,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CompletePayload is the data of a complete event. The report is the
// authoritative final text and replaces any accumulated chunks.
type CompletePayload struct {
	Report string `json:"report"`
}

func mustRaw(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // payload types marshal unconditionally
	}
	return b
}

// NewStatusEvent reports a session status transition.
func NewStatusEvent(s Status) StreamEvent {
	return StreamEvent{Type: EventStatus, Data: mustRaw(string(s))}
}

// NewProgressEvent carries an ephemeral human-readable progress message.
func NewProgressEvent(msg string) StreamEvent {
	return StreamEvent{Type: EventProgress, Data: mustRaw(msg)}
}

// NewChunkEvent carries an incremental fragment of the report text.
func NewChunkEvent(text string) StreamEvent {
	return StreamEvent{Type: EventChunk, Data: mustRaw(text)}
}

// NewCompleteEvent carries the final report, terminating the run.
func NewCompleteEvent(report string) StreamEvent {
	return StreamEvent{Type: EventComplete, Data: mustRaw(CompletePayload{Report: report})}
}

// NewErrorEvent carries a fatal error message, terminating the run.
func NewErrorEvent(msg string) StreamEvent {
	return StreamEvent{Type: EventError, Data: mustRaw(msg)}
}

// NewStepStartedEvent marks the beginning of a named research step.
func NewStepStartedEvent(step, phase string, ts time.Time) StreamEvent {
	return StreamEvent{Type: EventStepStarted, Data: mustRaw(StepPayload{Step: step, Phase: phase, Timestamp: ts})}
}

// NewQueryAddedEvent records one generated search query.
func NewQueryAddedEvent(query string, ts time.Time) StreamEvent {
	return StreamEvent{Type: EventQueryAdded, Data: mustRaw(QueryPayload{Query: query, Timestamp: ts})}
}

// NewSourceFoundEvent records one discovered source. Sources are not
// de-duplicated; the same URL may appear more than once.
func NewSourceFoundEvent(src SourcePayload) StreamEvent {
	return StreamEvent{Type: EventSourceFound, Data: mustRaw(src)}
}

// Text decodes the string payload of status/progress/chunk/error events.
func (e StreamEvent) Text() (string, error) {
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return "", fmt.Errorf("event %s: decode text payload: %w", e.Type, err)
	}
	return s, nil
}

// Step decodes a step_started payload.
func (e StreamEvent) Step() (StepPayload, error) {
	var p StepPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return StepPayload{}, fmt.Errorf("event %s: decode step payload: %w", e.Type, err)
	}
	return p, nil
}

// Query decodes a query_added payload.
func (e StreamEvent) Query() (QueryPayload, error) {
	var p QueryPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return QueryPayload{}, fmt.Errorf("event %s: decode query payload: %w", e.Type, err)
	}
	return p, nil
}

// Source decodes a source_found payload.
func (e StreamEvent) Source() (SourcePayload, error) {
	var p SourcePayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return SourcePayload{}, fmt.Errorf("event %s: decode source payload: %w", e.Type, err)
	}
	return p, nil
}

// Report decodes a complete payload.
func (e StreamEvent) Report() (string, error) {
	var p CompletePayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return "", fmt.Errorf("event %s: decode complete payload: %w", e.Type, err)
	}
	return p.Report, nil
}
