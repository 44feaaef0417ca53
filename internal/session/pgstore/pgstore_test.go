package pgstore

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/fundscope/researchd/internal/session"
	"github.com/fundscope/researchd/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Store{DB: db}, mock
}

func TestCreateAndGet(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	sess := &models.Session{
		ID: "s1", Query: "q", Status: models.StatusPending,
		Model: "gpt-4-turbo-preview", CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO research_sessions`).
		WithArgs(sess.ID, sess.Query, "pending", sess.Model, "", "", "", "", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := st.Create(context.Background(), sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	rows := sqlmock.NewRows([]string{"id", "query", "status", "model", "search_provider", "report", "error", "progress", "created_at", "updated_at"}).
		AddRow("s1", "q", "running", "gpt-4-turbo-preview", "", "", "", "working", now, now)
	mock.ExpectQuery(`SELECT id, query, status, model, search_provider, report, error, progress, created_at, updated_at\s+FROM research_sessions WHERE id=\$1`).
		WithArgs("s1").WillReturnRows(rows)

	got, err := st.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusRunning || got.Progress != "working" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`FROM research_sessions WHERE id=\$1`).
		WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := st.Get(context.Background(), "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendEventAssignsNextSeq(t *testing.T) {
	st, mock := newMockStore(t)
	ev := models.NewChunkEvent("hello")

	mock.ExpectExec(`INSERT INTO research_session_events \(session_id, seq, type, payload, created_at\)`).
		WithArgs("s1", "chunk", []byte(ev.Data)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.AppendEvent(context.Background(), "s1", ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEventsFromCursor(t *testing.T) {
	st, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"type", "payload"}).
		AddRow("chunk", []byte(`"b"`)).
		AddRow("chunk", []byte(`"c"`))
	mock.ExpectQuery(`SELECT type, payload FROM research_session_events\s+WHERE session_id=\$1 AND seq >= \$2 ORDER BY seq`).
		WithArgs("s1", 1).WillReturnRows(rows)

	events, err := st.Events(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	text, err := events[0].Text()
	if err != nil || text != "b" {
		t.Fatalf("first event = %q, err %v", text, err)
	}
}

func TestTerminalGuardOnMutations(t *testing.T) {
	st, mock := newMockStore(t)

	// Guards live in the WHERE clause: a terminal session matches no row
	// and the statement is a no-op rather than an error.
	mock.ExpectExec(`UPDATE research_sessions SET status='completed', report=\$2, progress='', updated_at=now\(\)\s+WHERE id=\$1 AND status NOT IN \('completed','failed'\)`).
		WithArgs("s1", "report").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.Complete(context.Background(), "s1", "report"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
