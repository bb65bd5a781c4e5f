// Package api provides the HTTP status server for filingwatch.
//
// It exposes health and Prometheus endpoints plus read-only views of the
// job tracker and the stored entities, snapshots and deltas.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/seenimoa/filingwatch/internal/config"
	"github.com/seenimoa/filingwatch/internal/jobs"
	"github.com/seenimoa/filingwatch/internal/metrics"
	"github.com/seenimoa/filingwatch/internal/store"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

// Server is the HTTP status server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	store   *store.Store
	tracker *jobs.Tracker
	metrics *metrics.Metrics
	logger  *zap.Logger
	version string
}

// Options wires the server's dependencies.
type Options struct {
	Config  *config.Config
	Store   *store.Store
	Tracker *jobs.Tracker
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Version string
}

// NewServer creates a configured status server with all routes and middleware.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		cfg:     opts.Config,
		store:   opts.Store,
		tracker: opts.Tracker,
		metrics: opts.Metrics,
		logger:  opts.Logger.Named("api"),
		version: opts.Version,
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down status server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	origins := []string{"*"}
	if s.cfg != nil && len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireToken)

		r.Get("/health", s.handleHealth)

		// Job tracker
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/history", s.handleJobHistory)

		// Stored data
		r.Get("/entities", s.handleListEntities)
		r.Get("/entities/{id}/snapshots", s.handleEntitySnapshots)
		r.Get("/entities/{id}/deltas", s.handleEntityDeltas)
		r.Get("/snapshots/{id}", s.handleGetSnapshot)
		r.Get("/securities/{security}/holdings", s.handleSecurityHoldings)

		// Config
		r.Get("/config", s.handleGetConfig)
		r.Get("/config/secrets", s.handleGetSecrets)
	})

	return r
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// requireToken enforces the bearer token when one is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg == nil || s.cfg.API.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.API.Token {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================
// Request/Response Types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	SchemaVersion int    `json:"schema_version"`
	Database      string `json:"database"`
	TimeET        string `json:"time_et"`
}

// JobDetail is a job with its event history.
type JobDetail struct {
	Job     *models.JobRecord `json:"job"`
	History []models.JobEvent `json:"history,omitempty"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Database: string(s.store.Dialect()),
		TimeET:   utils.FormatDateTimeET(utils.NowET()),
	}
	v, err := s.store.SchemaVersion(r.Context())
	if err != nil {
		resp.Status = "degraded"
		s.logger.Warn("health: schema version", zap.Error(err))
	}
	resp.SchemaVersion = v

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, APIResponse{Success: resp.Status == "ok", Data: resp})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := jobs.Filter{
		TaskType:      models.TaskType(q.Get("task")),
		Status:        models.JobStatus(q.Get("status")),
		ResumableOnly: q.Get("resumable") == "true",
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	list, err := s.tracker.List(r.Context(), f)
	if err != nil {
		s.internalError(w, "list jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: list})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := s.tracker.Job(r.Context(), id)
	if err != nil {
		s.lookupError(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: JobDetail{Job: job}})
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := s.tracker.Job(r.Context(), id)
	if err != nil {
		s.lookupError(w, "get job", err)
		return
	}
	events, err := s.tracker.History(r.Context(), id)
	if err != nil {
		s.internalError(w, "job history", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: JobDetail{Job: job, History: events}})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	kind := models.EntityKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown entity kind: "+string(kind))
		return
	}
	list, err := s.store.ListEntities(r.Context(), kind)
	if err != nil {
		s.internalError(w, "list entities", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: list})
}

func (s *Server) handleEntitySnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.Entity(r.Context(), id); err != nil {
		s.lookupError(w, "get entity", err)
		return
	}
	q := r.URL.Query()
	f := store.SnapshotFilter{
		EntityID:          id,
		SourceKind:        models.SourceKind(q.Get("kind")),
		IncludeSuperseded: q.Get("all") == "true",
	}
	if f.SourceKind != "" && !f.SourceKind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown source kind: "+string(f.SourceKind))
		return
	}
	list, err := s.store.Snapshots(r.Context(), f)
	if err != nil {
		s.internalError(w, "list snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: list})
}

func (s *Server) handleEntityDeltas(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.Entity(r.Context(), id); err != nil {
		s.lookupError(w, "get entity", err)
		return
	}
	q := r.URL.Query()
	list, err := s.store.Deltas(r.Context(), store.DeltaFilter{
		EntityID:          id,
		SecurityID:        q.Get("security"),
		IncludeSuperseded: q.Get("all") == "true",
	})
	if err != nil {
		s.internalError(w, "list deltas", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: list})
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	snap, err := s.store.Snapshot(r.Context(), id)
	if err != nil {
		s.lookupError(w, "get snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: snap})
}

func (s *Server) handleSecurityHoldings(w http.ResponseWriter, r *http.Request) {
	security := chi.URLParam(r, "security")
	list, err := s.store.HoldingsBySecurity(r.Context(), security)
	if err != nil {
		s.internalError(w, "holdings by security", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: list})
}

// ============================================================
// Helpers
// ============================================================

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) lookupError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.internalError(w, op, err)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
