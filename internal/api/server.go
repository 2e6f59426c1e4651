package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkscraper/internal/auth"
	"github.com/JakeFAU/linkscraper/internal/clock/system"
	"github.com/JakeFAU/linkscraper/internal/metrics"
	"github.com/JakeFAU/linkscraper/internal/queue"
	"github.com/JakeFAU/linkscraper/internal/ratelimit"
	"github.com/JakeFAU/linkscraper/internal/scraper"
)

// Jobs accepts scrape submissions; *driver.Driver satisfies it.
type Jobs interface {
	Submit(url string, ownerID, recordID int64) (string, error)
	Status() queue.Status
	Closed() bool
}

// History exposes finished jobs; *queue.Queue satisfies it.
type History interface {
	RecentJobs(limit int) []scraper.Job
}

// Options holds HTTP-level knobs.
type Options struct {
	CORSOrigin     string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// Deps wires the server to the rest of the service. Limiter is optional.
type Deps struct {
	Store   scraper.Store
	Auth    *auth.Service
	Jobs    Jobs
	History History
	Limiter ratelimit.Limiter
	Logger  *zap.Logger
	Clock   scraper.Clock
	Options Options
}

// Server wires HTTP handlers to the queue driver and stores.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

const (
	defaultRequestTimeout = 60 * time.Second
	defaultMaxBodyBytes   = 10 << 20
)

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Auth == nil || deps.Jobs == nil || deps.History == nil {
		return nil, errors.New("api: store, auth, jobs and history are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Options.RequestTimeout <= 0 {
		deps.Options.RequestTimeout = defaultRequestTimeout
	}
	if deps.Options.MaxBodyBytes <= 0 {
		deps.Options.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{deps: deps, logger: deps.Logger.Named("api")}
	pages := newPageHandler(deps.Store, deps.Jobs, deps.History, s.logger)
	authH := newAuthHandler(deps.Auth, s.logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(chimw.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	if deps.Options.CORSOrigin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{deps.Options.CORSOrigin},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(timeoutMiddleware(deps.Options.RequestTimeout))
	r.Use(bodyLimitMiddleware(deps.Options.MaxBodyBytes))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	limit := func(next http.Handler) http.Handler { return next }
	if deps.Limiter != nil {
		limit = ratelimit.Middleware(deps.Limiter, s.logger)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)

		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/auth/register", authH.register)
			r.Post("/auth/login", authH.login)
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Authenticate)
			r.Use(limit)
			r.Get("/auth/me", authH.me)
			r.Route("/pages", func(r chi.Router) {
				r.Get("/", pages.list)
				r.Post("/", pages.create)
				r.Get("/queue/status", pages.queueStatus)
				r.Get("/queue/recent", pages.queueRecent)
				r.Delete("/links/{linkID}", pages.deleteLink)
				r.Get("/{id}", pages.get)
				r.Get("/{id}/links", pages.links)
				r.Delete("/{id}", pages.delete)
			})
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": s.deps.Clock.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs.Closed() {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func bodyLimitMiddleware(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
