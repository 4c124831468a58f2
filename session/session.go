package session

import (
	"context"
	"sync"
)

type Status int

const (
	Unmodified Status = iota
	Modified
	Destroyed
)

type contextKey string

const SessionContextKey contextKey = "session"

// Session is the request-scoped view of one session row. Handlers mutate it
// through Set, Update, Clear or Destroy; the manager persists the result once
// the handler returns.
type Session[T any] struct {
	mu     sync.Mutex
	id     string
	data   T
	status Status
	isNew  bool
	renew  bool
}

func newSession[T any](id string, data T, isNew bool) *Session[T] {
	return &Session[T]{id: id, data: data, isNew: isNew}
}

// New returns a session that is not bound to a request, for driving code
// that expects one outside the middleware.
func New[T any](id string, data T) *Session[T] {
	return newSession(id, data, false)
}

func (s *Session[T]) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// IsNew reports whether the row was inserted by the current request.
func (s *Session[T]) IsNew() bool {
	return s.isNew
}

func (s *Session[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *Session[T]) Set(data T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.touch()
}

func (s *Session[T]) Update(fn func(*T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
	s.touch()
}

// Clear resets the payload to its zero value. The row and cookie stay.
func (s *Session[T]) Clear() {
	var zero T
	s.Set(zero)
}

// Destroy clears the payload and marks the row for deletion; the cookie is
// expired on the way out.
func (s *Session[T]) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.data = zero
	s.status = Destroyed
}

// RenewID moves the session to a fresh id when the request ends. The old id
// stops resolving. A session created by the current request keeps its id.
func (s *Session[T]) RenewID() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renew = true
	s.touch()
}

func (s *Session[T]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session[T]) touch() {
	if s.status != Destroyed {
		s.status = Modified
	}
}

func (s *Session[T]) snapshot() (id string, data T, status Status, renew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.data, s.status, s.renew && !s.isNew
}

func (s *Session[T]) setID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.renew = false
}

func NewContext[T any](ctx context.Context, s *Session[T]) context.Context {
	return context.WithValue(ctx, SessionContextKey, s)
}

func FromContext[T any](ctx context.Context) (*Session[T], bool) {
	s, ok := ctx.Value(SessionContextKey).(*Session[T])
	return s, ok
}
