// Package api serves the real-time cache and feed health over a read-only
// HTTP API.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mini-rodalies-3d/transitpipe/internal/cache"
	"github.com/mini-rodalies-3d/transitpipe/internal/config"
	"github.com/mini-rodalies-3d/transitpipe/internal/metrics"
)

// Deps are the collaborators of the API handlers.
type Deps struct {
	Cache    *cache.Cache
	Metrics  *metrics.Metrics
	Realtime config.RealtimeConfig
	// CORSOrigins defaults to any origin.
	CORSOrigins []string
	Logger      *slog.Logger
	Now         func() time.Time
}

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

type handler struct {
	deps      Deps
	log       *slog.Logger
	intervals map[string]time.Duration
}

// NewRouter builds the API routes.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}

	h := &handler{
		deps:      deps,
		log:       deps.Logger.With("component", "api"),
		intervals: make(map[string]time.Duration),
	}
	global := deps.Realtime.PollInterval()
	for _, f := range deps.Realtime.Feeds {
		h.intervals[f.ID] = f.Interval(global)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))
	r.Use(noCache)

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/realtime", h.listRealtime)
		r.Get("/realtime/{feedId}", h.getRealtime)
	})
	return r
}

// NewServer wraps the router in an http.Server listening on port.
func NewServer(port int, deps Deps) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		next.ServeHTTP(w, r)
	})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("failed to encode response", "error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, msg string, details map[string]any) {
	h.writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}
