package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/config"
	"storefront/password"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Env = "dev"
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "storefront.db")
	cfg.RateLimit = config.RateLimitConfig{RPS: 1000, Burst: 1000}
	cfg.Argon2 = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

func startTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *http.Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var ts *httptest.Server
	if cfg.SecureCookies() {
		ts = httptest.NewTLSServer(s.Handler())
	} else {
		ts = httptest.NewServer(s.Handler())
	}
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := ts.Client()
	client.Jar = jar
	return ts, client
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func assertAuthFlow(t *testing.T, ts *httptest.Server, client *http.Client) {
	t.Helper()

	resp := postJSON(t, client, ts.URL+"/auth/register", map[string]string{
		"username": "ada", "!password": "hunter2", "fullname": "Ada L", "email": "ada@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, client, ts.URL+"/auth/login", map[string]string{"username": "ada", "!password": "hunter2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	me, err := client.Get(ts.URL + "/auth/me")
	require.NoError(t, err)
	defer me.Body.Close()
	require.Equal(t, http.StatusOK, me.StatusCode)

	var body struct {
		UserID int64 `json:"userId"`
	}
	require.NoError(t, json.NewDecoder(me.Body).Decode(&body))
	assert.Positive(t, body.UserID)
}

func TestServerSQLSessions(t *testing.T) {
	ts, client := startTestServer(t, testConfig(t))
	assertAuthFlow(t, ts, client)

	health, err := client.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusNoContent, health.StatusCode)
	assert.Empty(t, health.Cookies(), "only /auth routes carry a session")
}

func TestServerRedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Session.Backend = "redis"
	cfg.Session.RedisURL = "redis://" + mr.Addr()

	ts, client := startTestServer(t, cfg)
	assertAuthFlow(t, ts, client)

	assert.NotEmpty(t, mr.Keys(), "sessions live in redis")
}

func TestServerMetrics(t *testing.T) {
	ts, client := startTestServer(t, testConfig(t))

	resp, err := client.Get(ts.URL + "/auth/me")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	metrics, err := client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	raw, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)

	assert.Contains(t, string(raw), `storefront_http_requests_total{code="401",method="GET",route="GET /auth/me"}`)
	assert.Contains(t, string(raw), "storefront_sessions_created_total")
}

func TestNewRejectsUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Backend = "redis"
	cfg.Session.RedisURL = "redis://127.0.0.1:1"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestDefaultConfigIssuesSecureCookie(t *testing.T) {
	for _, key := range []string{"CONFIG_FILE", "ENV", "SESSION_BACKEND", "SESSION_COOKIE_NAME"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "storefront.db"))

	cfg, err := config.Load()
	require.NoError(t, err)
	ts, client := startTestServer(t, cfg)

	resp, err := client.Get(ts.URL + "/auth/me")
	require.NoError(t, err)
	resp.Body.Close()

	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "session" {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	assert.True(t, sessionCookie.Secure)
	assert.True(t, sessionCookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, sessionCookie.SameSite)
}
