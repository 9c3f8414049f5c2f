// Package httpapi exposes the job managers over HTTP: point-in-time status,
// start/stop/cancel operations, and the per-key live event stream.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loopdeck/loopdeck/pkg/artifacts"
	"github.com/loopdeck/loopdeck/pkg/jobs"
	"github.com/loopdeck/loopdeck/pkg/log"
)

// Config tunes the HTTP surface.
type Config struct {
	Heartbeat time.Duration // SSE keep-alive interval
	Version   string
}

const defaultHeartbeat = 15 * time.Second

// Server routes operator requests to the managers.
type Server struct {
	build     *jobs.BuildManager
	gen       *jobs.GenerationManager
	store     *artifacts.Store
	heartbeat time.Duration
	version   string
}

// New creates the HTTP server facade.
func New(build *jobs.BuildManager, gen *jobs.GenerationManager, store *artifacts.Store, cfg Config) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	return &Server{
		build:     build,
		gen:       gen,
		store:     store,
		heartbeat: cfg.Heartbeat,
		version:   cfg.Version,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/api/health", s.handleHealth)

	r.Get("/api/build", s.handleBuildStatus)
	r.Post("/api/build/start", s.handleBuildStart)
	r.Post("/api/build/stop", s.handleBuildStop)

	r.Post("/api/generation/prd", s.handlePRDStart)
	r.Get("/api/generation/{key}", s.handleGenerationStatus)
	r.Post("/api/generation/{key}/plan", s.handlePlanStart)
	r.Post("/api/generation/{key}/cancel", s.handleGenerationCancel)

	r.Get("/api/streams/{key}", s.handleStream)

	return r
}

// requestLogger logs each request with its status and duration. The stream
// endpoint is long-lived by design, so its durations are expected outliers.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}
