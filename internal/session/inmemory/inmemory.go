package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fundscope/researchd/internal/session"
	"github.com/fundscope/researchd/models"
)

type entry struct {
	sess   models.Session
	events []models.StreamEvent
}

// Store keeps sessions in process memory. This is the default backend
// and mirrors the single-process deployment the service started with.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*entry)}
}

var _ session.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = &entry{sess: *sess}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	out := e.sess
	return &out, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, e := range s.sessions {
		c := e.sess
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mutate applies fn to a live (non-terminal) session under the lock.
func (s *Store) mutate(id string, fn func(*entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	if e.sess.Status.Terminal() {
		return nil
	}
	fn(e)
	e.sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status models.Status) error {
	return s.mutate(id, func(e *entry) { e.sess.Status = status })
}

func (s *Store) SetProgress(ctx context.Context, id string, msg string) error {
	return s.mutate(id, func(e *entry) { e.sess.Progress = msg })
}

func (s *Store) AppendEvent(ctx context.Context, id string, ev models.StreamEvent) error {
	return s.mutate(id, func(e *entry) { e.events = append(e.events, ev) })
}

func (s *Store) Events(ctx context.Context, id string, from int) ([]models.StreamEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	if from < 0 {
		from = 0
	}
	if from >= len(e.events) {
		return nil, nil
	}
	out := make([]models.StreamEvent, len(e.events)-from)
	copy(out, e.events[from:])
	return out, nil
}

func (s *Store) Complete(ctx context.Context, id string, report string) error {
	return s.mutate(id, func(e *entry) {
		e.sess.Status = models.StatusCompleted
		e.sess.Report = report
		e.sess.Progress = ""
	})
}

func (s *Store) Fail(ctx context.Context, id string, msg string) error {
	return s.mutate(id, func(e *entry) {
		e.sess.Status = models.StatusFailed
		e.sess.Error = msg
		e.sess.Progress = ""
	})
}
