package session

import (
	"context"
	"errors"

	"github.com/fundscope/researchd/models"
)

// ErrNotFound is returned when a session id is unknown to the store.
var ErrNotFound = errors.New("session not found")

// Store persists research sessions and their ordered event logs.
//
// Event order must be preserved exactly as appended. Mutations against a
// session whose status is terminal are ignored; terminal sessions are
// immutable.
type Store interface {
	// Create registers a new session record.
	Create(ctx context.Context, s *models.Session) error
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Session, error)
	// List returns up to limit sessions, newest first.
	List(ctx context.Context, limit int) ([]*models.Session, error)
	// SetStatus transitions the session's status.
	SetStatus(ctx context.Context, id string, status models.Status) error
	// SetProgress updates the ephemeral progress message; empty clears it.
	SetProgress(ctx context.Context, id string, msg string) error
	// AppendEvent appends one event to the session's log.
	AppendEvent(ctx context.Context, id string, ev models.StreamEvent) error
	// Events returns the log starting at index from, in append order.
	Events(ctx context.Context, id string, from int) ([]models.StreamEvent, error)
	// Complete records the final report and marks the session completed.
	Complete(ctx context.Context, id string, report string) error
	// Fail records the error message and marks the session failed.
	Fail(ctx context.Context, id string, msg string) error
}
