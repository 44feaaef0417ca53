package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fundscope/researchd/config"
	"github.com/fundscope/researchd/internal/session"
	"github.com/fundscope/researchd/models"
)

const defaultTTL = 24 * time.Hour

// Store keeps sessions in Redis: one JSON meta key per session, one list
// of JSON-encoded events, and an index list of ids for history.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(cfg config.RedisConfig) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Addr(), err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: rdb, ttl: ttl}, nil
}

var _ session.Store = (*Store)(nil)

func metaKey(id string) string   { return "research:session:" + id }
func eventsKey(id string) string { return "research:events:" + id }

const indexKey = "research:sessions"

func (s *Store) Create(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, metaKey(sess.ID), data, s.ttl).Err(); err != nil {
		return err
	}
	return s.client.LPush(ctx, indexKey, sess.ID).Err()
}

func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	val, err := s.client.Get(ctx, metaKey(id)).Result()
	if err == redis.Nil {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.LRange(ctx, indexKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err == session.ErrNotFound {
			continue // expired meta key; index entries outlive the TTL
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// mutate rewrites the session meta key through fn, skipping terminal sessions.
func (s *Store) mutate(ctx context.Context, id string, fn func(*models.Session)) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}
	fn(sess)
	sess.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, metaKey(id), data, s.ttl).Err()
}

func (s *Store) SetStatus(ctx context.Context, id string, status models.Status) error {
	return s.mutate(ctx, id, func(sess *models.Session) { sess.Status = status })
}

func (s *Store) SetProgress(ctx context.Context, id string, msg string) error {
	return s.mutate(ctx, id, func(sess *models.Session) { sess.Progress = msg })
}

func (s *Store) AppendEvent(ctx context.Context, id string, ev models.StreamEvent) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, eventsKey(id), data).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, eventsKey(id), s.ttl).Err()
}

func (s *Store) Events(ctx context.Context, id string, from int) ([]models.StreamEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if from < 0 {
		from = 0
	}
	vals, err := s.client.LRange(ctx, eventsKey(id), int64(from), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.StreamEvent, 0, len(vals))
	for _, v := range vals {
		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(v), &ev); err != nil {
			return nil, fmt.Errorf("decode event for session %s: %w", id, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) Complete(ctx context.Context, id string, report string) error {
	return s.mutate(ctx, id, func(sess *models.Session) {
		sess.Status = models.StatusCompleted
		sess.Report = report
		sess.Progress = ""
	})
}

func (s *Store) Fail(ctx context.Context, id string, msg string) error {
	return s.mutate(ctx, id, func(sess *models.Session) {
		sess.Status = models.StatusFailed
		sess.Error = msg
		sess.Progress = ""
	})
}
