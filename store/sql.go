package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

type dialect struct {
	name string
	// numbered rewrites ? placeholders into $1, $2, ...
	numbered          bool
	serialize         bool
	isUniqueViolation func(error) bool
	schema            []string
}

type sqlStore struct {
	db      *sql.DB
	dialect dialect
	mutex   sync.Mutex
}

func newSQLStore(db *sql.DB, d dialect) (*sqlStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	store := &sqlStore{
		db:      db,
		dialect: d,
	}

	if err := store.initializeTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing tables: %w", err)
	}

	slog.Info("Database ready", "dialect", d.name)
	return store, nil
}

func (s *sqlStore) initializeTables() error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("error running %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}

// lock serializes access for drivers that do not cope with concurrent writers.
func (s *sqlStore) lock() func() {
	if !s.dialect.serialize {
		return func() {}
	}
	s.mutex.Lock()
	return s.mutex.Unlock
}

func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) CreateUser(ctx context.Context, user *User) (int64, error) {
	defer s.lock()()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	roles := user.Roles
	if len(roles) == 0 {
		roles = []string{"customer"}
	}
	query := s.rebind(`
        INSERT INTO users (username, email, fullname, password_hash, google_id, picture, roles, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id
    `)
	var userID int64
	err := s.db.QueryRowContext(ctx, query,
		user.Username,
		user.Email,
		user.Fullname,
		nullString(user.PasswordHash),
		nullString(user.GoogleID),
		user.Picture,
		strings.Join(roles, ","),
		user.CreatedAt,
	).Scan(&userID)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, user.Username)
		}
		return 0, fmt.Errorf("error creating user: %w", err)
	}
	user.ID = userID
	user.Roles = roles
	return userID, nil
}

func (s *sqlStore) userBy(ctx context.Context, column string, value any) (*User, error) {
	defer s.lock()()
	query := s.rebind(`
        SELECT id, username, email, fullname, password_hash, google_id, picture, roles, created_at
        FROM users
        WHERE ` + column + ` = ?
    `)
	var (
		user         User
		passwordHash sql.NullString
		googleID     sql.NullString
		roles        string
	)
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Fullname,
		&passwordHash,
		&googleID,
		&user.Picture,
		&roles,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	if googleID.Valid {
		user.GoogleID = &googleID.String
	}
	if roles != "" {
		user.Roles = strings.Split(roles, ",")
	}
	return &user, nil
}

func (s *sqlStore) UserByID(ctx context.Context, userID int64) (*User, error) {
	return s.userBy(ctx, "id", userID)
}

func (s *sqlStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	return s.userBy(ctx, "username", username)
}

func (s *sqlStore) UserByGoogleID(ctx context.Context, googleID string) (*User, error) {
	return s.userBy(ctx, "google_id", googleID)
}

func (s *sqlStore) CountUsers(ctx context.Context) (int64, error) {
	defer s.lock()()
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting users: %w", err)
	}
	return count, nil
}

func (s *sqlStore) DeleteUser(ctx context.Context, userID int64) error {
	defer s.lock()()
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM users WHERE id = ?"), userID)
	if err != nil {
		return fmt.Errorf("error deleting user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (s *sqlStore) SessionByID(ctx context.Context, sessionID string) (*Session, error) {
	defer s.lock()()
	var (
		session   Session
		expiresAt sql.NullTime
		data      string
	)
	query := s.rebind("SELECT id, expires_at, data FROM sessions WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&session.ID, &expiresAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting session: %w", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		session.ExpiresAt = &t
	}
	session.Data = []byte(data)
	return &session, nil
}

func (s *sqlStore) CreateSession(ctx context.Context, sessionID string, expiresAt *time.Time, data []byte) (*Session, error) {
	defer s.lock()()
	query := s.rebind("INSERT INTO sessions (id, expires_at, data) VALUES (?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, sessionID, nullTime(expiresAt), string(data))
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return &Session{ID: sessionID, ExpiresAt: expiresAt, Data: data}, nil
}

func (s *sqlStore) UpdateSessionData(ctx context.Context, sessionID string, data []byte) error {
	defer s.lock()()
	query := s.rebind("UPDATE sessions SET data = ? WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, query, string(data), sessionID); err != nil {
		return fmt.Errorf("error updating session: %w", err)
	}
	return nil
}

func (s *sqlStore) DeleteSessionBySessionID(ctx context.Context, sessionID string) error {
	defer s.lock()()
	_, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM sessions WHERE id = ?"), sessionID)
	if err != nil {
		return fmt.Errorf("error deleting session by sessionID: %w", err)
	}
	return nil
}

func (s *sqlStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	defer s.lock()()
	query := s.rebind("DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= ?")
	result, err := s.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("error deleting expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected: %w", err)
	}
	return n, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
