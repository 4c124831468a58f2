package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"storefront/store"
)

// Schema describes the payload a Store accepts. With a schema, decoding rejects
// unknown fields and Validate runs on every loaded payload.
type Schema[T any] struct {
	Name     string
	Validate func(T) error
}

type ValidationError struct {
	Schema  string
	Payload json.RawMessage
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session payload does not match schema %s: %v", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type Record[T any] struct {
	ID        string
	ExpiresAt *time.Time
	Data      T
}

func (r *Record[T]) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Store is a typed view over a raw session table.
type Store[T any] interface {
	// Find returns store.ErrSessionNotFound for unknown ids and a
	// *ValidationError when the stored payload does not decode into T.
	Find(ctx context.Context, id string) (*Record[T], error)
	Create(ctx context.Context, id string, data T) (*Record[T], error)
	Save(ctx context.Context, id string, data T) error
	Delete(ctx context.Context, id string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type codecStore[T any] struct {
	backend store.SessionStore
	schema  *Schema[T]
}

func NewStore[T any](backend store.SessionStore, schema *Schema[T]) Store[T] {
	if schema != nil && schema.Name == "" {
		var zero T
		schema = &Schema[T]{Name: fmt.Sprintf("%T", zero), Validate: schema.Validate}
	}
	return &codecStore[T]{backend: backend, schema: schema}
}

func (s *codecStore[T]) schemaName() string {
	if s.schema == nil {
		var zero T
		return fmt.Sprintf("%T", zero)
	}
	return s.schema.Name
}

func (s *codecStore[T]) decode(raw []byte) (T, error) {
	var data T
	dec := json.NewDecoder(bytes.NewReader(raw))
	if s.schema != nil {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&data); err != nil {
		return data, s.invalid(raw, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return data, s.invalid(raw, errors.New("trailing data after payload"))
	}
	if s.schema != nil && s.schema.Validate != nil {
		if err := s.schema.Validate(data); err != nil {
			return data, s.invalid(raw, err)
		}
	}
	return data, nil
}

func (s *codecStore[T]) invalid(raw []byte, err error) *ValidationError {
	return &ValidationError{
		Schema:  s.schemaName(),
		Payload: append(json.RawMessage(nil), raw...),
		Err:     err,
	}
}

func (s *codecStore[T]) Find(ctx context.Context, id string) (*Record[T], error) {
	row, err := s.backend.SessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.decode(row.Data)
	if err != nil {
		return nil, err
	}
	return &Record[T]{ID: row.ID, ExpiresAt: row.ExpiresAt, Data: data}, nil
}

func (s *codecStore[T]) Create(ctx context.Context, id string, data T) (*Record[T], error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error encoding session payload: %w", err)
	}
	row, err := s.backend.CreateSession(ctx, id, nil, raw)
	if err != nil {
		return nil, err
	}
	return &Record[T]{ID: row.ID, ExpiresAt: row.ExpiresAt, Data: data}, nil
}

func (s *codecStore[T]) Save(ctx context.Context, id string, data T) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error encoding session payload: %w", err)
	}
	return s.backend.UpdateSessionData(ctx, id, raw)
}

func (s *codecStore[T]) Delete(ctx context.Context, id string) error {
	return s.backend.DeleteSessionBySessionID(ctx, id)
}

func (s *codecStore[T]) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.backend.DeleteExpiredSessions(ctx, now)
}
