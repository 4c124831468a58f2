package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// RedisSessionStore keeps session rows as JSON values. Rows with an expiry get
// a matching key TTL so Redis evicts them itself.
type RedisSessionStore struct {
	client *redis.Client
}

type redisSession struct {
	ExpiresAt *time.Time      `json:"expires_at"`
	Data      json.RawMessage `json:"data"`
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// OpenRedis parses a redis:// URL and checks the connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}
	return client, nil
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func (s *RedisSessionStore) SessionByID(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting session: %w", err)
	}
	var row redisSession
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("error decoding session envelope: %w", err)
	}
	return &Session{ID: sessionID, ExpiresAt: row.ExpiresAt, Data: row.Data}, nil
}

func (s *RedisSessionStore) CreateSession(ctx context.Context, sessionID string, expiresAt *time.Time, data []byte) (*Session, error) {
	raw, err := json.Marshal(redisSession{ExpiresAt: expiresAt, Data: data})
	if err != nil {
		return nil, fmt.Errorf("error encoding session envelope: %w", err)
	}
	var ttl time.Duration
	if expiresAt != nil {
		ttl = time.Until(*expiresAt)
		if ttl <= 0 {
			return nil, fmt.Errorf("error creating session: already expired")
		}
	}
	ok, err := s.client.SetNX(ctx, sessionKey(sessionID), raw, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("error creating session: id %q already taken", sessionID)
	}
	return &Session{ID: sessionID, ExpiresAt: expiresAt, Data: data}, nil
}

// UpdateSessionData rewrites the payload and keeps the remaining TTL. A missing
// key is left missing, matching an UPDATE that touches no rows.
func (s *RedisSessionStore) UpdateSessionData(ctx context.Context, sessionID string, data []byte) error {
	key := sessionKey(sessionID)
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error getting session: %w", err)
	}
	var row redisSession
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("error decoding session envelope: %w", err)
	}
	row.Data = data
	raw, err = json.Marshal(row)
	if err != nil {
		return fmt.Errorf("error encoding session envelope: %w", err)
	}
	if err := s.client.SetArgs(ctx, key, raw, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("error updating session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) DeleteSessionBySessionID(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("error deleting session by sessionID: %w", err)
	}
	return nil
}

// DeleteExpiredSessions is a no-op, expired keys are evicted by their TTL.
func (s *RedisSessionStore) DeleteExpiredSessions(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
