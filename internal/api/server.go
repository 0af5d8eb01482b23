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
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/truesight/crawld/internal/crawler"
	"github.com/truesight/crawld/internal/logging"
	"github.com/truesight/crawld/internal/metrics"
	"github.com/truesight/crawld/internal/repository"
	"github.com/truesight/crawld/internal/store"
)

// CrawlEngine is the slice of the engine the API needs.
type CrawlEngine interface {
	StartCrawl(ctx context.Context, req crawler.StartRequest) (string, error)
	StartStoredCrawl(ctx context.Context, name string, req crawler.StartRequest) (string, error)
	GetStatus(id string) (crawler.TaskSnapshot, error)
	StopTask(id string) error
	PauseTask(id string) error
	ResumeTask(id string) error
	ListTasks() []crawler.TaskSnapshot
}

// RepositoryStore is the slice of the repository layer the API needs.
type RepositoryStore interface {
	Create(ctx context.Context, repo repository.Repository) (repository.Repository, error)
	Get(ctx context.Context, name string) (repository.Repository, error)
	GetAll(ctx context.Context) ([]repository.Repository, error)
	Update(ctx context.Context, repo repository.Repository) (repository.Repository, error)
	Delete(ctx context.Context, name string) error
	SetAutoUpdate(ctx context.Context, name string, enabled bool, freq repository.Frequency) error
	ListArtifacts(ctx context.Context, name string, exts []string) ([]string, error)
}

// Options carries the request-handling knobs the server needs.
type Options struct {
	RequestTimeout time.Duration
	APIKeyEnabled  bool
	APIKey         string
}

// Server wires HTTP handlers to the engine and stores.
type Server struct {
	router   chi.Router
	engine   CrawlEngine
	repos    RepositoryStore
	progress *ProgressHandler
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The progress
// repository may be nil; run-history endpoints then answer 503.
func NewServer(
	engine CrawlEngine,
	repos RepositoryStore,
	progressRepo store.ProgressRepository,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:   engine,
		repos:    repos,
		progress: NewProgressHandler(progressRepo, logger.Named("progress")),
		logger:   logger,
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if opts.APIKeyEnabled {
		r.Use(apiKeyMiddleware(opts.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/crawler", func(r chi.Router) {
			r.Post("/start", s.startCrawl)
			r.Get("/tasks", s.listTasks)
			r.Get("/status/{task_id}", s.getTaskStatus)
			r.Post("/stop/{task_id}", s.stopTask)
			r.Post("/pause/{task_id}", s.pauseTask)
			r.Post("/resume/{task_id}", s.resumeTask)
			r.Post("/repository/{name}/start", s.startStoredCrawl)

			r.Get("/runs", s.progress.ListRuns)
			r.Get("/runs/{task_id}", s.progress.GetRun)
			r.Get("/runs/{task_id}/sites", s.progress.ListRunSites)
		})
		r.Route("/repository", func(r chi.Router) {
			r.Get("/list", s.listRepositories)
			r.Post("/create", s.createRepository)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.getRepository)
				r.Put("/", s.updateRepository)
				r.Delete("/", s.deleteRepository)
				r.Get("/files", s.listRepositoryFiles)
				r.Put("/auto_update", s.setAutoUpdate)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The repository store is validated at startup; probe it cheaply here.
	if _, err := s.repos.GetAll(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "repository store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.L.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

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
