// Package server exposes the ownership graph and detected groups over a
// read-only JSON API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fin-groups/internal/entity"
	"github.com/sells-group/fin-groups/internal/metrics"
)

// Reader is the part of the store the API reads.
type Reader interface {
	GetEntity(ctx context.Context, id string) (*entity.Entity, error)
	GetGroup(ctx context.Context, startID string) ([]entity.Entity, error)
	GroupOwnerships(ctx context.Context, ids []string) ([]entity.Ownership, error)
}

// GroupFinder runs group detection.
type GroupFinder interface {
	FindCompanyGroups(ctx context.Context) ([][]string, error)
}

// Options configures optional server behaviour.
type Options struct {
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string

	// GroupsRate caps GET /groups in requests per second. Zero disables
	// the limit.
	GroupsRate  float64
	GroupsBurst int
}

// Server serves the reporting API.
type Server struct {
	store  Reader
	groups GroupFinder
	opts   Options
}

// New creates a Server.
func New(st Reader, gf GroupFinder, opts Options) *Server {
	return &Server{store: st, groups: gf, opts: opts}
}

// GroupResponse is the body of GET /entities/{id}/group.
type GroupResponse struct {
	IDs        []string           `json:"ids"`
	Entities   []entity.Entity    `json:"entities"`
	Ownerships []entity.Ownership `json:"ownerships"`
}

// GroupsResponse is the body of GET /groups.
type GroupsResponse struct {
	Count  int        `json:"count"`
	Groups [][]string `json:"groups"`
}

// Handler builds the router with middleware and all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.Register(r)
	return r
}

// Register mounts the API routes on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/entities/{id}", s.handleEntity)
	r.Get("/entities/{id}/group", s.handleGroup)
	r.With(s.limit(s.opts.GroupsRate, s.opts.GroupsBurst)).Get("/groups", s.handleGroups)
	if s.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.store.GetEntity(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if e == nil {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	members, err := s.store.GetGroup(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if len(members) == 0 {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	edges, err := s.store.GroupOwnerships(r.Context(), ids)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GroupResponse{IDs: ids, Entities: members, Ownerships: edges})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	out, err := s.groups.FindCompanyGroups(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GroupsResponse{Count: len(out), Groups: out})
}

// limit rejects requests above rps with 429.
func (s *Server) limit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// instrument logs each request and counts it by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.opts.Metrics.IncHTTPRequest(route, status)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("server: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
