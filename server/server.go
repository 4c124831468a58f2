package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storefront/auth"
	"storefront/config"
	mw "storefront/middleware"
	"storefront/password"
	"storefront/session"
	"storefront/store"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg      *config.Config
	store    store.Store
	sessions store.SessionStore
	manager  *session.Manager[auth.SessionData]
	handler  http.Handler
}

// New opens the stores named by cfg and builds the HTTP handler tree.
// Background work started here stops when ctx is done.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	db, err := store.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("error opening store: %w", err)
	}

	var sessions store.SessionStore = db
	if cfg.Session.Backend == "redis" {
		client, err := store.OpenRedis(ctx, cfg.Session.RedisURL)
		if err != nil {
			db.Close()
			return nil, err
		}
		sessions = store.NewRedisSessionStore(client)
		slog.Info("Sessions stored in redis")
	}

	hasher, err := password.NewArgon2(cfg.Argon2)
	if err != nil {
		closeAll(db, sessions)
		return nil, fmt.Errorf("error configuring password hasher: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		store:    db,
		sessions: sessions,
		manager: session.NewManager(sessions, session.Config[auth.SessionData]{
			Schema:         auth.SessionSchema,
			CookieName:     cfg.Session.CookieName,
			MaxAge:         cfg.Session.MaxAge,
			InsecureCookie: !cfg.SecureCookies(),
		}),
	}
	s.handler = s.routes(ctx, auth.NewService(db, hasher))
	return s, nil
}

func (s *Server) routes(ctx context.Context, service *auth.Service) http.Handler {
	app := http.NewServeMux()
	auth.NewHandler(service).Routes(app)

	google := auth.NewGoogle(auth.GoogleConfig{
		ClientID:     s.cfg.Google.ClientID,
		ClientSecret: s.cfg.Google.ClientSecret,
		CallbackURL:  s.cfg.GoogleCallbackURL(),
		AppURL:       s.cfg.Google.AppURL,
		Secure:       s.cfg.SecureCookies(),
	}, s.store)
	if google.Enabled() {
		google.Routes(app)
	} else {
		slog.Info("Google login disabled, GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set")
	}

	root := http.NewServeMux()
	root.Handle("/auth/", s.manager.LoadAndSave(app))
	root.Handle("GET /metrics", promhttp.Handler())
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return mw.Chain(
		root,
		mw.RateLimit(ctx, s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.cfg.RateLimit.TrustProxy),
		mw.Logger(),
		mw.Metrics(app, root),
		mw.CORS(s.cfg.CORSOrigins),
	)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully. The
// expired-session sweeper runs for the same lifetime.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.manager.Cleanup(ctx, s.cfg.Session.CleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server is listening", "port", s.cfg.Port, "env", s.cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	return nil
}

func (s *Server) Close() error {
	return closeAll(s.store, s.sessions)
}

func closeAll(db store.Store, sessions store.SessionStore) error {
	err := db.Close()
	if store.SessionStore(db) != sessions {
		err = errors.Join(err, sessions.Close())
	}
	return err
}
