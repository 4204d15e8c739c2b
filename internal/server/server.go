// Package server exposes health, metrics, run triggering and run history
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/pipeline"
	"github.com/sells-group/entity-enrich/internal/store"
)

// Runner performs file runs.
type Runner interface {
	RunFile(ctx context.Context, files pipeline.Files) (*pipeline.Result, error)
	DefaultFiles() pipeline.Files
}

// Server holds the HTTP handlers. At most one run is active at a time.
type Server struct {
	runner   Runner
	store    store.Store
	gatherer prometheus.Gatherer

	// base is the context runs started over HTTP live in; it outlives requests.
	base   context.Context
	active atomic.Bool
	wg     sync.WaitGroup
}

// New creates a Server. Runs triggered over HTTP are cancelled with base.
func New(base context.Context, runner Runner, st store.Store, gatherer prometheus.Gatherer) *Server {
	return &Server{runner: runner, store: st, gatherer: gatherer, base: base}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.triggerRun)
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
	})
	return r
}

// Wait blocks until runs started over HTTP have returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Active reports whether a run is in progress.
func (s *Server) Active() bool {
	return s.active.Load()
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "run_active": s.Active()})
}

type runRequest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	files := s.runner.DefaultFiles()
	if req.Input != "" {
		files.Input = req.Input
	}
	if req.Output != "" {
		files.Output = req.Output
	}

	if !s.active.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "a run is already active")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Store(false)

		log := zap.L().With(zap.String("component", "server"), zap.String("input", files.Input))
		result, err := s.runner.RunFile(s.base, files)
		if err != nil {
			log.Error("triggered run failed", zap.Error(err))
			return
		}
		log.Info("triggered run complete",
			zap.String("run_id", result.RunID),
			zap.Duration("duration", result.Duration),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"input":  files.Input,
		"output": files.Output,
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{Status: model.RunStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

type runDetail struct {
	*model.Run
	Stages   []model.StageRecord   `json:"stages"`
	Failures []model.LookupFailure `json:"failures"`
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(ctx, id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		zap.L().Error("get run failed", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}

	detail := runDetail{Run: run, Stages: []model.StageRecord{}, Failures: []model.LookupFailure{}}
	if stages, err := s.store.ListStages(ctx, id); err == nil && stages != nil {
		detail.Stages = stages
	}
	if failures, err := s.store.ListFailures(ctx, id); err == nil && failures != nil {
		detail.Failures = failures
	}
	writeJSON(w, http.StatusOK, detail)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
