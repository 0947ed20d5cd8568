package pvpchess

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConflict is returned by Store.Update when a concurrent writer committed first.
	ErrConflict = errors.New("session write conflict")
	// ErrSessionNotFound is returned when the session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by Store.Create for a duplicate id.
	ErrSessionExists = errors.New("session already exists")
)

// Store is the transactional document store holding sessions.
//
// Update reads the current document inside a transaction, hands a private copy
// to fn and commits the result only if nobody else wrote in between. An error
// from fn aborts without writing and is returned unchanged.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	// ListActive returns ids of active sessions last updated at or before cutoff.
	ListActive(ctx context.Context, cutoff time.Time, limit int64) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
