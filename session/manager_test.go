package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/session"
	"storefront/store"
)

type payload struct {
	UserID *int64 `json:"userId,omitempty"`
}

var payloadSchema = &session.Schema[payload]{
	Name: "payload",
	Validate: func(p payload) error {
		if p.UserID != nil && *p.UserID <= 0 {
			return errors.New("userId must be positive")
		}
		return nil
	},
}

// spyStore counts writes and can be told to fail them.
type spyStore struct {
	store.SessionStore
	updates   atomic.Int32
	failWrite bool
}

func (s *spyStore) UpdateSessionData(ctx context.Context, id string, data []byte) error {
	s.updates.Add(1)
	if s.failWrite {
		return errors.New("disk full")
	}
	return s.SessionStore.UpdateSessionData(ctx, id, data)
}

func setupTest(t *testing.T) (*spyStore, *session.Manager[payload], *atomic.Int32) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	spy := &spyStore{SessionStore: s}
	var generated atomic.Int32
	m := session.NewManager(spy, session.Config[payload]{
		Schema: payloadSchema,
		GenerateSessionID: func() string {
			return fmt.Sprintf("sid-%d", generated.Add(1))
		},
	})
	return spy, m, &generated
}

func serve(h http.Handler, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// lastCookie returns the final Set-Cookie for name, which is what a browser keeps.
func lastCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	return found
}

func userID(n int64) *int64 { return &n }

func TestNoCookieCreatesSession(t *testing.T) {
	backend, m, _ := setupTest(t)

	var seen *session.Session[payload]
	h := m.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = session.FromContext[payload](r.Context())
	}))

	rr := serve(h, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, seen)
	assert.True(t, seen.IsNew())
	assert.Nil(t, seen.Get().UserID)

	cookie := lastCookie(rr, "session")
	require.NotNil(t, cookie)
	assert.Equal(t, seen.ID(), cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, 31_540_000, cookie.MaxAge)

	row, err := backend.SessionByID(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Nil(t, row.ExpiresAt)
	assert.JSONEq(t, `{}`, string(row.Data))
}

func TestExistingSessionIsReused(t *testing.T) {
	backend, m, generated := setupTest(t)
	_, err := backend.CreateSession(context.Background(), "known", nil, []byte(`{"userId":42}`))
	require.NoError(t, err)

	var seen payload
	h := m.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext[payload](r.Context())
		require.True(t, ok)
		assert.False(t, sess.IsNew())
		seen = sess.Get()
	}))

	rr := serve(h, &http.Cookie{Name: "session", Value: "known"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, seen.UserID)
	assert.Equal(t, int64(42), *seen.UserID)
	assert.Equal(t, int32(0), generated.Load(), "no new session id should be generated")
	assert.Nil(t, lastCookie(rr, "session"), "cookie should not be rewritten")
	assert.Equal(t, int32(0), backend.updates.Load(), "unmodified session should not be written")
}

func TestStaleCookieIsReplaced(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, s store.SessionStore)
	}{
		{
			name:  "missing row",
			setup: func(t *testing.T, s store.SessionStore) {},
		},
		{
			name: "expired row",
			setup: func(t *testing.T, s store.SessionStore) {
				past := time.Now().Add(-time.Minute)
				_, err := s.CreateSession(context.Background(), "stale", &past, []byte(`{"userId":1}`))
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, m, generated := setupTest(t)
			tt.setup(t, backend)

			var seen *session.Session[payload]
			h := m.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = session.FromContext[payload](r.Context())
			}))

			rr := serve(h, &http.Cookie{Name: "session", Value: "stale"})
			require.Equal(t, http.StatusOK, rr.Code)

			cookies := rr.Result().Cookies()
			require.Len(t, cookies, 2)
			assert.Equal(t, -1, cookies[0].MaxAge, "old cookie should be removed first")
			assert.Equal(t, "sid-1", cookies[1].Value)
			assert.Equal(t, int32(1), generated.Load())

			require.NotNil(t, seen)
			assert.True(t, seen.IsNew())
			assert.Nil(t, seen.Get().UserID)
		})
	}
}

func TestMutationIsPersisted(t *testing.T) {
	backend, m, _ := setupTest(t)

	h := m.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext[payload](r.Context())
		sess.Update(func(p *payload) { p.UserID = userID(7) })
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	}))

	rr := serve(h, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	cookie := lastCookie(rr, "session")
	require.NotNil(t, cookie)
	row, err := backend.SessionByID(context.Background(), cookie.Value)
	require.NoError(t, err)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(row.Data, &stored))
	assert.Equal(t, float64(7), stored["userId"])
	assert.Equal(t, int32(1), backend.updates.Load())
}

func TestInvalidPayloadFailsRequest(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"wrong type", `{"userId":"seven"}`},
		{"unknown field", `{"cart":[1,2]}`},
		{"validator rejects", `{"userId":-3}`},
		{"not an object", `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, m, generated := setupTest(t)
			_, err := backend.CreateSession(context.Background(), "corrupt", nil, []byte(tt.data))
			require.NoError(t, err)

			called := false
			h := m.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			rr := serve(h, &http.Cookie{Name: "session", Value: "corrupt"})
			assert.False(t, called)
			assert.Equal(t, http.StatusBadRequest, rr.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])

			cookie := lastCookie(rr, "session")
			require.NotNil(t, cookie)
			assert.Equal(t, -1, cookie.MaxAge)
			assert.Equal(t, int32(0), generated.Load())
		})
	}
}

func TestStoreFindReturnsValidationError(t *testing.T) {
	backend, m, _ := setupTest(t)
	_, err := backend.CreateSession(context.Background(), "corrupt", nil, []byte(`{"extra":true}`))
	require.NoError(t, err)

	_, err = m.Store().Find(context.Background(), "corrupt")
	var invalid *session.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "payload", invalid.Schema)
	assert.JSONEq(t, `{"extra":true}`, string(invalid.Payload))
}

func TestWithoutSchemaIsLenient(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.CreateSession(context.Background(), "loose", nil, []byte(`{"userId":-3,"extra":true}`))
	require.NoError(t, err)

	rec, err := session.NewStore[payload](s, nil).Find(context.Background(), "loose")
	require.NoError(t, err)
	require.NotNil(t, rec.Data.UserID)
	assert.Equal(t, int64(-3), *rec.Data.UserID)
}

func TestDestroyDeletesRowAndCookie(t *testing.T) {
	backend, m, _ := setupTest(t)
	_, err := backend.CreateSession(context.Background(), "known", nil, []byte(`{"userId":5}`))
	require.NoError(t, err)

	h := m.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext[payload](r.Context())
		sess.Destroy()
		sess.Update(func(p *payload) { p.UserID = userID(9) })
	}))

	rr := serve(h, &http.Cookie{Name: "session", Value: "known"})
	require.Equal(t, http.StatusOK, rr.Code)

	cookie := lastCookie(rr, "session")
	require.NotNil(t, cookie)
	assert.Equal(t, -1, cookie.MaxAge)

	_, err = backend.SessionByID(context.Background(), "known")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	assert.Equal(t, int32(0), backend.updates.Load())
}

func TestRenewIDMovesSession(t *testing.T) {
	backend, m, generated := setupTest(t)
	_, err := backend.CreateSession(context.Background(), "anon", nil, []byte(`{}`))
	require.NoError(t, err)

	h := m.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext[payload](r.Context())
		sess.Update(func(p *payload) { p.UserID = userID(11) })
		sess.RenewID()
		w.Write([]byte("ok"))
	}))

	rr := serve(h, &http.Cookie{Name: "session", Value: "anon"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.Equal(t, int32(1), generated.Load())

	cookie := lastCookie(rr, "session")
	require.NotNil(t, cookie)
	idAfter := cookie.Value
	assert.Equal(t, "sid-1", idAfter)
	assert.Positive(t, cookie.MaxAge)

	_, err = backend.SessionByID(context.Background(), "anon")
	assert.ErrorIs(t, err, store.ErrSessionNotFound, "old id must stop resolving")

	row, err := backend.SessionByID(context.Background(), idAfter)
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":11}`, string(row.Data))
}

func TestRenewIDOnNewSessionKeepsID(t *testing.T) {
	backend, m, generated := setupTest(t)

	h := m.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext[payload](r.Context())
		sess.RenewID()
		sess.Update(func(p *payload) { p.UserID = userID(3) })
	}))

	rr := serve(h, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int32(1), generated.Load(), "the id issued by this request is already fresh")

	cookie := lastCookie(rr, "session")
	require.NotNil(t, cookie)
	assert.Equal(t, "sid-1", cookie.Value)
	assert.Equal(t, int32(1), backend.updates.Load())
}

func TestClearKeepsRow(t *testing.T) {
	backend, m, _ := setupTest(t)
	_, err := backend.CreateSession(context.Background(), "known", nil, []byte(`{"userId":5}`))
	require.NoError(t, err)

	h := m.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext[payload](r.Context())
		sess.Clear()
	}))

	rr := serve(h, &http.Cookie{Name: "session", Value: "known"})
	require.Equal(t, http.StatusOK, rr.Code)

	row, err := backend.SessionByID(context.Background(), "known")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(row.Data))
}

func TestPersistFailureReplacesResponse(t *testing.T) {
	backend, m, _ := setupTest(t)
	backend.failWrite = true

	h := m.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext[payload](r.Context())
		sess.Set(payload{UserID: userID(1)})
		w.Write([]byte("should not be sent"))
	}))

	rr := serve(h, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "should not be sent")
}

func TestCustomCookieName(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := session.NewManager(s, session.Config[payload]{
		CookieName:     "sf_session",
		InsecureCookie: true,
		MaxAge:         time.Hour,
	})
	rr := serve(m.LoadAndSave(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})), nil)

	cookie := lastCookie(rr, "sf_session")
	require.NotNil(t, cookie)
	assert.False(t, cookie.Secure)
	assert.Equal(t, 3600, cookie.MaxAge)
	assert.Len(t, cookie.Value, 36, "default ids are uuids")
}

func TestCleanupPurgesExpiredRows(t *testing.T) {
	backend, m, _ := setupTest(t)
	past := time.Now().Add(-time.Hour)
	_, err := backend.CreateSession(context.Background(), "old", &past, []byte(`{}`))
	require.NoError(t, err)
	_, err = backend.CreateSession(context.Background(), "forever", nil, []byte(`{}`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Cleanup(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := backend.SessionByID(context.Background(), "old")
		return errors.Is(err, store.ErrSessionNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	_, err = backend.SessionByID(context.Background(), "forever")
	assert.NoError(t, err)
}

func TestFromContextTypeMismatch(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := session.FromContext[struct{ Other string }](r.Context())
		assert.False(t, ok)
	})
	_, m, _ := setupTest(t)
	serve(m.LoadAndSave(h), nil)
}
