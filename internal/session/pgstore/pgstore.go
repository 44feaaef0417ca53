package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/fundscope/researchd/internal/session"
	"github.com/fundscope/researchd/models"
)

// Store persists sessions and their event logs in Postgres. Event order
// is the per-session seq column; appends come from the single runner
// goroutine that owns the session.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

var _ session.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, sess *models.Session) error {
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO research_sessions (id, query, status, model, search_provider, report, error, progress, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sess.ID, sess.Query, string(sess.Status), sess.Model, sess.SearchProvider,
		sess.Report, sess.Error, sess.Progress, sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.DB.QueryRowContext(ctx, `
        SELECT id, query, status, model, search_provider, report, error, progress, created_at, updated_at
        FROM research_sessions WHERE id=$1`, id)
	var sess models.Session
	var status string
	err := row.Scan(&sess.ID, &sess.Query, &status, &sess.Model, &sess.SearchProvider,
		&sess.Report, &sess.Error, &sess.Progress, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Status = models.Status(status)
	return &sess, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
        SELECT id, query, status, model, search_provider, report, error, progress, created_at, updated_at
        FROM research_sessions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Session
	for rows.Next() {
		var sess models.Session
		var status string
		if err := rows.Scan(&sess.ID, &sess.Query, &status, &sess.Model, &sess.SearchProvider,
			&sess.Report, &sess.Error, &sess.Progress, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sess.Status = models.Status(status)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *Store) SetStatus(ctx context.Context, id string, status models.Status) error {
	_, err := s.DB.ExecContext(ctx, `
        UPDATE research_sessions SET status=$2, updated_at=now()
        WHERE id=$1 AND status NOT IN ('completed','failed')`, id, string(status))
	return err
}

func (s *Store) SetProgress(ctx context.Context, id string, msg string) error {
	_, err := s.DB.ExecContext(ctx, `
        UPDATE research_sessions SET progress=$2, updated_at=now()
        WHERE id=$1 AND status NOT IN ('completed','failed')`, id, msg)
	return err
}

func (s *Store) AppendEvent(ctx context.Context, id string, ev models.StreamEvent) error {
	payload := []byte(ev.Data)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO research_session_events (session_id, seq, type, payload, created_at)
        VALUES ($1, (SELECT COALESCE(MAX(seq)+1, 0) FROM research_session_events WHERE session_id=$1), $2, $3, now())`,
		id, string(ev.Type), payload)
	return err
}

func (s *Store) Events(ctx context.Context, id string, from int) ([]models.StreamEvent, error) {
	if from < 0 {
		from = 0
	}
	rows, err := s.DB.QueryContext(ctx, `
        SELECT type, payload FROM research_session_events
        WHERE session_id=$1 AND seq >= $2 ORDER BY seq`, id, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.StreamEvent
	for rows.Next() {
		var typ string
		var payload []byte
		if err := rows.Scan(&typ, &payload); err != nil {
			return nil, err
		}
		ev := models.StreamEvent{Type: models.EventType(typ)}
		if err := json.Unmarshal(payload, &ev.Data); err != nil {
			return nil, fmt.Errorf("decode event payload for session %s: %w", id, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) Complete(ctx context.Context, id string, report string) error {
	_, err := s.DB.ExecContext(ctx, `
        UPDATE research_sessions SET status='completed', report=$2, progress='', updated_at=now()
        WHERE id=$1 AND status NOT IN ('completed','failed')`, id, report)
	return err
}

func (s *Store) Fail(ctx context.Context, id string, msg string) error {
	_, err := s.DB.ExecContext(ctx, `
        UPDATE research_sessions SET status='failed', error=$2, progress='', updated_at=now()
        WHERE id=$1 AND status NOT IN ('completed','failed')`, id, msg)
	return err
}
