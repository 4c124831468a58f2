package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"storefront/herr"
	"storefront/store"
)

const (
	DefaultCookieName = "session"
	// DefaultMaxAge keeps the cookie for roughly a year.
	DefaultMaxAge = 31_540_000 * time.Second
)

type Config[T any] struct {
	// Schema is optional; without it payloads are decoded leniently.
	Schema            *Schema[T]
	CookieName        string
	GenerateSessionID func() string
	MaxAge            time.Duration
	// InsecureCookie drops the Secure attribute, for plain-http development.
	InsecureCookie bool
}

// Manager loads the session named by the request cookie, creating one when
// the cookie is absent or stale, and writes it back after the handler.
//
// There is no locking across requests: two requests sharing a session id both
// read, and the later one to finish overwrites the other's changes.
type Manager[T any] struct {
	store      Store[T]
	cookieName string
	generateID func() string
	maxAge     time.Duration
	secure     bool
	now        func() time.Time
}

func NewManager[T any](backend store.SessionStore, cfg Config[T]) *Manager[T] {
	m := &Manager[T]{
		store:      NewStore(backend, cfg.Schema),
		cookieName: cfg.CookieName,
		generateID: cfg.GenerateSessionID,
		maxAge:     cfg.MaxAge,
		secure:     !cfg.InsecureCookie,
		now:        time.Now,
	}
	if m.cookieName == "" {
		m.cookieName = DefaultCookieName
	}
	if m.generateID == nil {
		m.generateID = uuid.NewString
	}
	if m.maxAge <= 0 {
		m.maxAge = DefaultMaxAge
	}
	return m
}

func (m *Manager[T]) Store() Store[T] {
	return m.store
}

func (m *Manager[T]) CookieName() string {
	return m.cookieName
}

// LoadAndSave buffers the handler's response so the session write can still
// turn the response into an error before anything reaches the client.
func (m *Manager[T]) LoadAndSave(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Cookie")

		sess, e := m.load(w, r)
		if e != nil {
			e.Write(w)
			return
		}

		bw := &bufferedResponseWriter{ResponseWriter: w}
		next.ServeHTTP(bw, r.WithContext(NewContext(r.Context(), sess)))

		if e := m.commit(context.WithoutCancel(r.Context()), w, sess); e != nil {
			e.Write(w)
			return
		}

		if bw.code != 0 {
			w.WriteHeader(bw.code)
		}
		if _, err := w.Write(bw.buf.Bytes()); err != nil {
			slog.Warn("error writing buffered response", "err", err)
		}
	})
}

func (m *Manager[T]) load(w http.ResponseWriter, r *http.Request) (*Session[T], *herr.Error) {
	ctx := r.Context()
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return m.create(ctx, w)
	}

	rec, err := m.store.Find(ctx, cookie.Value)
	var invalid *ValidationError
	switch {
	case err == nil && !rec.Expired(m.now()):
		sessionsResumed.Inc()
		return newSession(rec.ID, rec.Data, false), nil
	case err == nil:
		sessionsDiscarded.WithLabelValues("expired").Inc()
	case errors.Is(err, store.ErrSessionNotFound):
		sessionsDiscarded.WithLabelValues("missing").Inc()
	case errors.As(err, &invalid):
		sessionsDiscarded.WithLabelValues("invalid").Inc()
		// The row stays corrupt; dropping the cookie re-anonymizes the next request.
		m.removeCookie(w)
		slog.Error("stored session failed validation", "schema", invalid.Schema, "payload", string(invalid.Payload), "err", invalid.Err)
		return nil, herr.BadRequest(err, "session payload failed schema validation").WithMessage("Invalid session data")
	default:
		return nil, herr.Internal(err, "error loading session")
	}

	m.removeCookie(w)
	return m.create(ctx, w)
}

func (m *Manager[T]) create(ctx context.Context, w http.ResponseWriter) (*Session[T], *herr.Error) {
	var empty T
	rec, err := m.store.Create(ctx, m.generateID(), empty)
	if err != nil {
		return nil, herr.Internal(err, "error creating session")
	}
	sessionsCreated.Inc()
	m.setCookie(w, rec.ID)
	return newSession(rec.ID, rec.Data, true), nil
}

func (m *Manager[T]) commit(ctx context.Context, w http.ResponseWriter, sess *Session[T]) *herr.Error {
	id, data, status, renew := sess.snapshot()
	if id == "" {
		return nil
	}

	if renew && status == Modified {
		return m.renew(ctx, w, sess, id, data)
	}

	switch status {
	case Destroyed:
		if err := m.store.Delete(ctx, id); err != nil {
			return herr.Internal(err, "error deleting session")
		}
		sessionsPersisted.WithLabelValues("delete").Inc()
		m.removeCookie(w)
	case Modified:
		if err := m.store.Save(ctx, id, data); err != nil {
			return herr.Internal(err, "error saving session")
		}
		sessionsPersisted.WithLabelValues("update").Inc()
	}
	return nil
}

// renew writes data under a new id, then drops the old row.
func (m *Manager[T]) renew(ctx context.Context, w http.ResponseWriter, sess *Session[T], oldID string, data T) *herr.Error {
	rec, err := m.store.Create(ctx, m.generateID(), data)
	if err != nil {
		return herr.Internal(err, "error creating renewed session")
	}
	if err := m.store.Delete(ctx, oldID); err != nil {
		return herr.Internal(err, "error deleting replaced session")
	}
	sessionsPersisted.WithLabelValues("renew").Inc()
	sess.setID(rec.ID)
	m.setCookie(w, rec.ID)
	return nil
}

// Cleanup deletes expired rows every interval until ctx is done.
func (m *Manager[T]) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.store.PurgeExpired(ctx, m.now())
			if err != nil {
				slog.Error("error purging expired sessions", "err", err)
				continue
			}
			if n > 0 {
				sessionsPurged.Add(float64(n))
				slog.Info("purged expired sessions", "count", n)
			}
		}
	}
}

func (m *Manager[T]) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    id,
		HttpOnly: true,
		Path:     "/",
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.maxAge / time.Second),
	})
}

func (m *Manager[T]) removeCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

type bufferedResponseWriter struct {
	http.ResponseWriter
	buf  bytes.Buffer
	code int
}

func (bw *bufferedResponseWriter) Write(b []byte) (int, error) {
	return bw.buf.Write(b)
}

func (bw *bufferedResponseWriter) WriteHeader(code int) {
	if bw.code == 0 {
		bw.code = code
	}
}

func (bw *bufferedResponseWriter) Unwrap() http.ResponseWriter {
	return bw.ResponseWriter
}
