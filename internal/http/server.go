// Package http exposes the ledger over a JSON API.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"saldo/internal/api"
	"saldo/internal/cache"
	"saldo/internal/identity"
	"saldo/internal/metrics"
	"saldo/internal/service"
)

const summaryCacheKey = "summary"

type ctxKey string

const requestIDKey ctxKey = "request_id"

type Server struct {
	http.Server
	svc      *service.LedgerService
	tokens   *identity.Manager
	validate *validator.Validate

	rateLimiter  *rateLimiter
	summaryCache *cache.TTL[api.Summary]
	sweeper      *cache.Sweeper

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run
// server.
func NewServer(addr string, svc *service.LedgerService, tokens *identity.Manager) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		svc:          svc,
		tokens:       tokens,
		validate:     validator.New(),
		rateLimiter:  newRateLimiter(),
		summaryCache: cache.NewTTL[api.Summary](16, 30*time.Second),
	}
	s.sweeper = cache.NewSweeper(s.summaryCache)
	s.sweeper.Start(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/expenses", s.wrap("/api/expenses", s.withAuth(s.handleCreateExpense)))
	mux.HandleFunc("GET /api/expenses", s.wrap("/api/expenses", s.withAuth(s.handleListExpenses)))
	mux.HandleFunc("GET /api/expenses/{id}", s.wrap("/api/expenses/{id}", s.withAuth(s.handleGetExpense)))
	mux.HandleFunc("GET /api/expenses/{id}/payments", s.wrap("/api/expenses/{id}/payments", s.withAuth(s.handleListPayments)))
	mux.HandleFunc("POST /api/expenses/{id}/clear", s.wrap("/api/expenses/{id}/clear", s.withAuth(s.handleClear)))
	mux.HandleFunc("GET /api/summary", s.wrap("/api/summary", s.withAuth(s.handleSummary)))
	mux.HandleFunc("GET /api/members", s.wrap("/api/members", s.withAuth(s.handleListMembers)))
	mux.HandleFunc("GET /api/budgets/{member}", s.wrap("/api/budgets/{member}", s.withAuth(s.handleGetBudget)))
	mux.HandleFunc("PUT /api/budgets/{member}", s.wrap("/api/budgets/{member}", s.withAuth(s.handleSetBudget)))

	return s
}

// Shutdown stops the server and its background routines exactly once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.sweeper != nil {
			s.sweeper.Stop()
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// wrap applies security headers, request tracing, rate limiting and
// metrics around a handler. route is the pattern label used for
// metrics, not the raw path, to keep the cardinality bounded.
func (s *Server) wrap(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"client_ip", clientIP,
			"user_agent", r.Header.Get("User-Agent"))

		if mutating(r.Method) && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", clientIP, "method", r.Method, "path", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, api.Error{
				Code:    "rate_limited",
				Message: "too many requests, retry later",
			})
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"client_ip", clientIP)
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	}
	return false
}

// withAuth requires a valid bearer token and stores the actor in the
// request context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := identity.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, api.Error{
				Code:    "unauthorized",
				Message: err.Error(),
			})
			return
		}
		actor, err := s.tokens.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, api.Error{
				Code:    "unauthorized",
				Message: "invalid or expired token",
			})
			return
		}
		next(w, r.WithContext(identity.WithActor(r.Context(), actor)))
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
