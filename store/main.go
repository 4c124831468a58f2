package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrSessionNotFound = errors.New("session not found")
)

type SessionStore interface {
	SessionByID(ctx context.Context, sessionID string) (*Session, error)
	CreateSession(ctx context.Context, sessionID string, expiresAt *time.Time, data []byte) (*Session, error)
	UpdateSessionData(ctx context.Context, sessionID string, data []byte) error
	DeleteSessionBySessionID(ctx context.Context, sessionID string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	Close() error
}

type UserStore interface {
	CreateUser(ctx context.Context, user *User) (int64, error)
	UserByID(ctx context.Context, userID int64) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	UserByGoogleID(ctx context.Context, googleID string) (*User, error)
	CountUsers(ctx context.Context) (int64, error)
	DeleteUser(ctx context.Context, userID int64) error
}

type Store interface {
	UserStore
	SessionStore
}

// New opens a SQL store. postgres:// and postgresql:// DSNs use pgx, anything
// else is treated as a SQLite path.
func New(dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return newPostgresStore(dsn)
	}
	return newSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"))
}
