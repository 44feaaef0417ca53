package client

import (
	"log"
	"time"

	"github.com/fundscope/researchd/models"
)

// RunState is the chat-level lifecycle of one research interaction.
type RunState string

const (
	StateIdle        RunState = "idle"
	StateResearching RunState = "researching"
	StateCompleted   RunState = "completed"
	StateFailed      RunState = "failed"
)

// PhaseStatus is the lifecycle of one research phase.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
)

// Phase is one of the three canonical research stages. StartTime and
// EndTime are zero until the phase starts/ends.
type Phase struct {
	Name      string
	Step      string
	Status    PhaseStatus
	StartTime time.Time
	EndTime   time.Time
}

// phaseOrder fixes the canonical ordering: search < review < synthesis.
var phaseOrder = []struct {
	step string
	name string
}{
	{models.StepSearch, "Searching"},
	{models.StepReview, "Reviewing sources"},
	{models.StepSynthesis, "Synthesizing"},
}

// Tracker reduces a session's event stream into renderable run state:
// phase timeline, sub-query and source lists, the report buffer, and
// the terminal outcome. It is not safe for concurrent use; a stream's
// events are applied one at a time.
//
// Phase statuses are monotonic within a run: once completed, a phase
// never reverts. The report buffer is append-only except for the single
// wholesale replacement a complete event performs.
type Tracker struct {
	state         RunState
	phases        []Phase
	queries       []models.QueryPayload
	sources       []models.SourcePayload
	report        string
	statusMessage string
	errMessage    string

	logger *log.Logger
	now    func() time.Time
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		state:  StateIdle,
		logger: log.New(log.Writer(), "[TRACKER] ", log.LstdFlags),
		now:    time.Now,
	}
}

// Begin starts a fresh run: prior queries, sources, report, and phase
// timeline are discarded and the three phases reset to pending.
func (t *Tracker) Begin() {
	t.state = StateResearching
	t.phases = make([]Phase, len(phaseOrder))
	for i, p := range phaseOrder {
		t.phases[i] = Phase{Name: p.name, Step: p.step, Status: PhasePending}
	}
	t.queries = nil
	t.sources = nil
	t.report = ""
	t.statusMessage = ""
	t.errMessage = ""
}

// Dismiss resets a terminal run back to idle so a new query can be
// submitted.
func (t *Tracker) Dismiss() {
	t.state = StateIdle
	t.statusMessage = ""
	t.errMessage = ""
}

// Fail records a run-level failure originating outside the event
// stream, such as a transport error while iterating.
func (t *Tracker) Fail(msg string) {
	if t.state != StateResearching {
		return
	}
	t.errMessage = msg
	t.statusMessage = ""
	t.state = StateFailed
}

// Apply performs one atomic state transition for the given event.
// Events applied outside an active run, and events whose payload fails
// to decode, are logged and ignored; neither aborts the run.
func (t *Tracker) Apply(ev models.StreamEvent) {
	if t.state != StateResearching {
		return
	}
	switch ev.Type {
	case models.EventProgress:
		msg, err := ev.Text()
		if err != nil {
			t.logger.Printf("skipping event: %v", err)
			return
		}
		t.statusMessage = msg

	case models.EventStepStarted:
		p, err := ev.Step()
		if err != nil {
			t.logger.Printf("skipping event: %v", err)
			return
		}
		t.startPhase(p)

	case models.EventQueryAdded:
		q, err := ev.Query()
		if err != nil {
			t.logger.Printf("skipping event: %v", err)
			return
		}
		t.queries = append(t.queries, q)

	case models.EventSourceFound:
		src, err := ev.Source()
		if err != nil {
			t.logger.Printf("skipping event: %v", err)
			return
		}
		// Sources are never de-duplicated; repeats appear as received.
		t.sources = append(t.sources, src)

	case models.EventChunk:
		text, err := ev.Text()
		if err != nil {
			t.logger.Printf("skipping event: %v", err)
			return
		}
		t.report += text

	case models.EventComplete:
		report, err := ev.Report()
		if err != nil {
			t.logger.Printf("skipping event: %v", err)
			return
		}
		// The complete payload is authoritative: replace, don't append.
		t.report = report
		t.statusMessage = ""
		for i := range t.phases {
			t.completePhase(&t.phases[i])
		}
		t.state = StateCompleted

	case models.EventError:
		msg, err := ev.Text()
		if err != nil {
			t.logger.Printf("skipping event: %v", err)
			return
		}
		t.Fail(msg)

	case models.EventStatus, models.EventHeartbeat:
		// Server-side session status and liveness pings carry no chat
		// state of their own.

	default:
		t.logger.Printf("ignoring unknown event type %q", ev.Type)
	}
}

// startPhase marks the named phase running and completes every earlier
// phase that has not already finished. Duplicate step_started events
// re-assert running without disturbing timestamps.
func (t *Tracker) startPhase(p models.StepPayload) {
	idx := t.phaseIndex(p)
	if idx < 0 {
		t.logger.Printf("ignoring step_started for unknown phase %q", p.Phase)
		return
	}
	for i := 0; i < idx; i++ {
		if t.phases[i].Status != PhaseCompleted {
			t.completePhase(&t.phases[i])
		}
	}
	ph := &t.phases[idx]
	if ph.Status == PhaseCompleted {
		// Completed is final within a run; out-of-order starts do not revert.
		return
	}
	ph.Status = PhaseRunning
	if ph.StartTime.IsZero() {
		ph.StartTime = p.Timestamp
		if ph.StartTime.IsZero() {
			ph.StartTime = t.now()
		}
	}
}

func (t *Tracker) completePhase(ph *Phase) {
	if ph.Status == PhaseCompleted {
		return
	}
	ph.Status = PhaseCompleted
	if ph.EndTime.IsZero() {
		ph.EndTime = t.now()
	}
}

// phaseIndex resolves an event's phase to its canonical index, matching
// the phase field first and falling back to the step label.
func (t *Tracker) phaseIndex(p models.StepPayload) int {
	for i, def := range phaseOrder {
		if p.Phase == def.step || p.Step == def.step {
			return i
		}
	}
	return -1
}

// State returns the run lifecycle state.
func (t *Tracker) State() RunState { return t.state }

// Phases returns a copy of the phase timeline in canonical order.
func (t *Tracker) Phases() []Phase {
	out := make([]Phase, len(t.phases))
	copy(out, t.phases)
	return out
}

// Queries returns the generated sub-queries in arrival order.
func (t *Tracker) Queries() []models.QueryPayload { return t.queries }

// Sources returns the discovered sources in arrival order.
func (t *Tracker) Sources() []models.SourcePayload { return t.sources }

// Report returns the accumulated (or final) report text.
func (t *Tracker) Report() string { return t.report }

// StatusMessage returns the ephemeral progress message, empty once the
// run reaches a terminal state.
func (t *Tracker) StatusMessage() string { return t.statusMessage }

// Err returns the failure message of a failed run.
func (t *Tracker) Err() string { return t.errMessage }
