package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fundscope/researchd/internal/session"
	"github.com/fundscope/researchd/models"
)

func newSession(id string, createdAt time.Time) *models.Session {
	return &models.Session{
		ID:        id,
		Query:     "q-" + id,
		Status:    models.StatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	if err := st.Create(ctx, newSession("s1", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.SetStatus(ctx, "s1", models.StatusRunning); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := st.SetProgress(ctx, "s1", "working"); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	if err := st.AppendEvent(ctx, "s1", models.NewChunkEvent("a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.AppendEvent(ctx, "s1", models.NewChunkEvent("b")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.Complete(ctx, "s1", "report text"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	sess, err := st.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != models.StatusCompleted || sess.Report != "report text" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.Progress != "" {
		t.Fatalf("progress should be cleared at completion, got %q", sess.Progress)
	}

	events, err := st.Events(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestTerminalSessionsAreImmutable(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	_ = st.Create(ctx, newSession("s1", time.Now()))
	_ = st.Fail(ctx, "s1", "boom")

	if err := st.SetStatus(ctx, "s1", models.StatusRunning); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := st.Complete(ctx, "s1", "late report"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := st.AppendEvent(ctx, "s1", models.NewChunkEvent("late")); err != nil {
		t.Fatalf("append: %v", err)
	}

	sess, _ := st.Get(ctx, "s1")
	if sess.Status != models.StatusFailed || sess.Error != "boom" || sess.Report != "" {
		t.Fatalf("terminal session mutated: %+v", sess)
	}
	events, _ := st.Events(ctx, "s1", 0)
	if len(events) != 0 {
		t.Fatalf("events appended to terminal session: %d", len(events))
	}
}

func TestEventsFromCursor(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	_ = st.Create(ctx, newSession("s1", time.Now()))
	for _, c := range []string{"a", "b", "c"} {
		_ = st.AppendEvent(ctx, "s1", models.NewChunkEvent(c))
	}

	events, err := st.Events(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events from cursor 1, got %d", len(events))
	}
	text, _ := events[0].Text()
	if text != "b" {
		t.Fatalf("cursor slice starts at %q, want %q", text, "b")
	}

	events, err = st.Events(ctx, "s1", 10)
	if err != nil || len(events) != 0 {
		t.Fatalf("past-end cursor: events=%d err=%v", len(events), err)
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	base := time.Now()
	_ = st.Create(ctx, newSession("old", base.Add(-2*time.Hour)))
	_ = st.Create(ctx, newSession("mid", base.Add(-time.Hour)))
	_ = st.Create(ctx, newSession("new", base))

	out, err := st.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 || out[0].ID != "new" || out[1].ID != "mid" {
		t.Fatalf("unexpected order: %v", out)
	}
}

func TestGetUnknownSession(t *testing.T) {
	st := NewStore()
	if _, err := st.Get(context.Background(), "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := st.SetStatus(context.Background(), "missing", models.StatusRunning); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
