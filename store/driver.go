package store

import (
	"context"
	"database/sql"
	"time"
)

// FindSession describes a session query. Nil fields are not filtered on.
type FindSession struct {
	ID           *string
	Statuses     []Status
	NotExpiredAt *time.Time
}

// Driver is the interface a store database driver implements.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error

	// UpsertSession performs a whole-record overwrite keyed by session id.
	UpsertSession(ctx context.Context, session *NegotiationSession) error
	// GetSession returns (nil, nil) when the session does not exist.
	GetSession(ctx context.Context, id string) (*NegotiationSession, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*NegotiationSession, error)
	// DeleteExpiredSessions removes non-completed sessions whose expiry has
	// passed, in expiry order, and returns the number of rows removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
