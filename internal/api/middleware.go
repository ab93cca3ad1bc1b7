package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/visgate-ai/deploy-orchestrator/internal/apierr"
	"github.com/visgate-ai/deploy-orchestrator/internal/redact"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_http_requests_total",
			Help: "Total HTTP requests handled, labeled by route pattern and status.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

type ctxKey int

const (
	ctxKeyUserHash ctxKey = iota
	ctxKeyProviderKey
)

// securityHeaders sets defensive response headers on every response,
// narrowed to the headers that make sense for a JSON/SSE-only API with no
// browser-rendered pages.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Del("Server")
		next.ServeHTTP(w, r)
	})
}

// requestSizeLimit caps the request body.
func requestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// requestID assigns each request a UUID, stashed under chi's own request-id
// context key so downstream middleware.GetReqID calls keep working. Used in
// place of chi's built-in counter-based RequestID middleware so ids stay
// globally unique across restarts and replicas.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, uuid.New().String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func responseRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-ID", id)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("authorization", redact.Bearer(r.Header.Get("Authorization"))),
		)
	})
}

func (s *Server) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := strconv.Itoa(ww.Status())
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// bearerAuth requires a bearer credential (the caller's provider API key)
// and derives the stateless user_hash tenancy scope from it. There is no
// account store: the hash is the tenant identity.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			writeAPIError(w, apierr.Unauthorized(""))
			return
		}
		sum := sha256.Sum256([]byte(token))
		hash := hex.EncodeToString(sum[:])

		ctx := context.WithValue(r.Context(), ctxKeyUserHash, hash)
		ctx = context.WithValue(ctx, ctxKeyProviderKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userHashFrom(r *http.Request) string {
	v, _ := r.Context().Value(ctxKeyUserHash).(string)
	return v
}

func providerKeyFrom(r *http.Request) string {
	v, _ := r.Context().Value(ctxKeyProviderKey).(string)
	return v
}

// rateLimit applies the per-user_hash and per-client-IP sliding windows,
// rejecting whichever trips first.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userHash := userHashFrom(r)
		ok, info := s.userLimit.Allow(userHash)
		if !ok {
			writeRateLimited(w, info.RetryAfter)
			return
		}
		ip := clientIP(r)
		if ok, ipInfo := s.ipLimit.Allow(ip); !ok {
			writeRateLimited(w, ipInfo.RetryAfter)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host := r.Header.Get("X-Forwarded-For"); host != "" {
		return strings.TrimSpace(strings.Split(host, ",")[0])
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// internalSecret guards worker-facing callback routes, accepting the
// shared secret via header or query string (some worker runtimes can only
// attach it to the callback URL).
func (s *Server) internalSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := s.cfg.Internal.Secret
		if expected == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-Visgate-Internal-Secret")
		if got == "" {
			got = r.URL.Query().Get("secret")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			writeAPIError(w, apierr.Unauthorized("invalid internal secret"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
