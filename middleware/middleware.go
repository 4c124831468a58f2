package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"storefront/herr"
)

type Middleware func(http.Handler) http.Handler

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h http.Handler, m ...Middleware) http.Handler {
	handler := h
	for i := len(m) - 1; i >= 0; i-- {
		handler = m[i](handler)
	}
	return handler
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.ResponseWriter.Write(b)
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

func (rec *statusRecorder) code() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

func Logger() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			slog.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.code(),
				"ip", clientIP(r, false),
				"forwarded_for", r.Header.Get("X-Forwarded-For"),
				"duration", time.Since(start),
			)
		})
	}
}

func CORS(allowedOrigins []string) Middleware {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit keeps one token bucket per client IP. X-Forwarded-For is only
// honoured when trustForwarded is set, i.e. behind a proxy that overwrites it.
// Idle buckets are swept until ctx is done.
func RateLimit(ctx context.Context, rps float64, burst int, trustForwarded bool) Middleware {
	type limiterEntry struct {
		mu       sync.Mutex
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	limiters := &sync.Map{}

	go func() {
		cleanup := time.NewTicker(5 * time.Minute)
		defer cleanup.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-cleanup.C:
			}
			now := time.Now()
			limiters.Range(func(key, value any) bool {
				entry := value.(*limiterEntry)
				entry.mu.Lock()
				stale := now.Sub(entry.lastSeen) > time.Hour
				entry.mu.Unlock()
				if stale {
					slog.Debug("dropping idle rate limiter", "ip", key)
					limiters.Delete(key)
				}
				return true
			})
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustForwarded)

			value, _ := limiters.LoadOrStore(ip, &limiterEntry{
				limiter:  rate.NewLimiter(rate.Limit(rps), burst),
				lastSeen: time.Now(),
			})
			entry := value.(*limiterEntry)
			entry.mu.Lock()
			entry.lastSeen = time.Now()
			entry.mu.Unlock()

			if !entry.limiter.Allow() {
				slog.Warn("too many requests", "ip", ip)
				herr.JSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Metrics records request counts and latency, labelled by the first pattern
// the request resolves to in muxes rather than by the raw path.
func Metrics(muxes ...*http.ServeMux) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			route := "unmatched"
			for _, mux := range muxes {
				if _, pattern := mux.Handler(r); pattern != "" {
					route = pattern
					break
				}
			}
			httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.code())).Inc()
			httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if fwd := r.Header.Get("X-Forwarded-For"); trustForwarded && fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
