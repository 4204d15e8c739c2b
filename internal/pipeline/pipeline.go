// Package pipeline orchestrates an enrichment run: LEI resolution, then
// firmographics resolution, then the completeness report.
package pipeline

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/config"
	"github.com/sells-group/entity-enrich/internal/fetcher"
	"github.com/sells-group/entity-enrich/internal/metrics"
	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/report"
	"github.com/sells-group/entity-enrich/internal/resolve"
	"github.com/sells-group/entity-enrich/internal/store"
	"github.com/sells-group/entity-enrich/pkg/gleif"
	"github.com/sells-group/entity-enrich/pkg/pdl"
)

// ErrShapeMismatch is returned when a resolver answers a different number of
// lookups than it was asked for. It aborts the run.
var ErrShapeMismatch = eris.New("pipeline: resolver result shape mismatch")

// Clients are the external services used by one run.
type Clients struct {
	LEI           gleif.Client
	Firmographics pdl.Client
}

// ClientFactory builds the clients of a run on top of the run's HTTP client.
type ClientFactory func(hc *http.Client) Clients

// DefaultClients returns a ClientFactory for the configured endpoints.
func DefaultClients(cfg *config.Config) ClientFactory {
	return func(hc *http.Client) Clients {
		return Clients{
			LEI: gleif.NewClient(
				gleif.WithBaseURL(cfg.GLEIF.BaseURL),
				gleif.WithHTTPClient(hc),
			),
			Firmographics: pdl.NewClient(cfg.PDL.Key,
				pdl.WithBaseURL(cfg.PDL.BaseURL),
				pdl.WithHTTPClient(hc),
			),
		}
	}
}

// Pipeline runs enrichment over datasets.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	metrics    *metrics.Metrics
	newClients ClientFactory
	remote     *fetcher.Remote

	// wrapLEI and wrapFirmographics, if set, decorate the resolvers of each run.
	wrapLEI           func(leiBatch) leiBatch
	wrapFirmographics func(firmographicsBatch) firmographicsBatch
}

type leiBatch interface {
	ResolveBatch(ctx context.Context, names []string) (map[string]*string, error)
}

type firmographicsBatch interface {
	ResolveBatch(ctx context.Context, sess *resolve.Session, names []string) ([]model.Firmographics, error)
}

// New creates a Pipeline. m may be nil.
func New(cfg *config.Config, st store.Store, m *metrics.Metrics, newClients ClientFactory) *Pipeline {
	if newClients == nil {
		newClients = DefaultClients(cfg)
	}
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		metrics:    m,
		newClients: newClients,
		remote:     fetcher.NewRemote(),
	}
}

// Result is the outcome of one run.
type Result struct {
	RunID    string                    `json:"run_id"`
	Dataset  *model.Dataset            `json:"-"`
	Report   *model.CompletenessReport `json:"report"`
	Stages   []model.StageResult       `json:"stages"`
	Failures []model.LookupFailure     `json:"failures,omitempty"`
	Duration time.Duration             `json:"duration"`
}

// Stage returns the result of the named stage, if it ran.
func (r *Result) Stage(name string) (model.StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return model.StageResult{}, false
}

// newHTTPClient returns the pooled client shared by every lookup of a run.
func newHTTPClient(cfg config.LookupConfig) *http.Client {
	idle := cfg.MaxIdleConns
	if idle <= 0 {
		idle = 20
	}
	return &http.Client{
		Timeout: cfg.Timeout(),
		Transport: &http.Transport{
			MaxIdleConns:        idle,
			MaxIdleConnsPerHost: idle,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Run enriches ds in place. input names the dataset in the run history.
// Per-record lookup faults never fail the run; only a cancelled context or
// a resolver shape mismatch does.
func (p *Pipeline) Run(ctx context.Context, input string, ds *model.Dataset) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("input", input))
	log.Info("pipeline: starting run", zap.Int("rows", ds.Len()))

	result := &Result{Dataset: ds}
	runID := p.createRun(ctx, log, input, ds.Len())
	result.RunID = runID
	if runID != "" {
		log = log.With(zap.String("run_id", runID))
	}

	hc := newHTTPClient(p.cfg.Lookup)
	defer hc.CloseIdleConnections()
	clients := p.newClients(hc)

	failures := &failureLog{}
	fail := func(err error) (*Result, error) {
		result.Failures = failures.list()
		result.Duration = time.Since(start)
		p.recordFailures(ctx, log, runID, result.Failures)
		if runID != "" {
			if storeErr := p.store.FailRun(ctx, runID, err.Error()); storeErr != nil {
				log.Warn("pipeline: failed to mark run failed", zap.Error(storeErr))
			}
		}
		p.metrics.ObserveRun(model.RunStatusFailed, result.Duration)
		log.Error("pipeline: run failed", zap.Error(err))
		return result, err
	}

	// LEI
	leiStage, err := p.trackStage(ctx, log, runID, model.StageLEI, func(res *model.StageResult) error {
		return p.resolveLEI(ctx, clients.LEI, ds, res, failures)
	})
	result.Stages = append(result.Stages, leiStage)
	if err != nil {
		return fail(err)
	}
	p.setStatus(ctx, log, runID, model.RunStatusLEIResolved)

	// Firmographics
	firmoStage, err := p.trackStage(ctx, log, runID, model.StageFirmographics, func(res *model.StageResult) error {
		return p.resolveFirmographics(ctx, clients.Firmographics, ds, res, failures)
	})
	result.Stages = append(result.Stages, firmoStage)
	if err != nil {
		return fail(err)
	}
	p.setStatus(ctx, log, runID, model.RunStatusFirmographicsResolved)

	// Report
	result.Report = report.Completeness(ds)
	p.metrics.ObserveReport(result.Report)
	p.setStatus(ctx, log, runID, model.RunStatusReported)

	result.Failures = failures.list()
	result.Duration = time.Since(start)
	p.recordFailures(ctx, log, runID, result.Failures)
	if runID != "" {
		if err := p.store.CompleteRun(ctx, runID, &model.RunResult{Stages: result.Stages, Report: result.Report}); err != nil {
			log.Warn("pipeline: failed to complete run", zap.Error(err))
		}
	}
	p.metrics.ObserveRun(model.RunStatusComplete, result.Duration)

	log.Info("pipeline: run complete",
		zap.Duration("duration", result.Duration),
		zap.Int("failures", len(result.Failures)),
	)
	return result, nil
}

func (p *Pipeline) createRun(ctx context.Context, log *zap.Logger, input string, rows int) string {
	if p.store == nil {
		return ""
	}
	run, err := p.store.CreateRun(ctx, input, rows)
	if err != nil {
		log.Warn("pipeline: failed to create run record", zap.Error(err))
		return ""
	}
	return run.ID
}

func (p *Pipeline) setStatus(ctx context.Context, log *zap.Logger, runID string, status model.RunStatus) {
	if runID == "" {
		return
	}
	if err := p.store.UpdateRunStatus(ctx, runID, status); err != nil {
		log.Warn("pipeline: failed to update status", zap.String("status", string(status)), zap.Error(err))
	}
}

func (p *Pipeline) recordFailures(ctx context.Context, log *zap.Logger, runID string, failures []model.LookupFailure) {
	if runID == "" || len(failures) == 0 {
		return
	}
	if err := p.store.RecordFailures(ctx, runID, failures); err != nil {
		log.Warn("pipeline: failed to record lookup failures", zap.Int("count", len(failures)), zap.Error(err))
	}
}

// trackStage runs fn, times it and persists its result. fn may mark the
// stage skipped; an error marks it failed and is returned.
func (p *Pipeline) trackStage(ctx context.Context, log *zap.Logger, runID, name string, fn func(res *model.StageResult) error) (model.StageResult, error) {
	var stage *model.StageRecord
	if runID != "" {
		var err error
		stage, err = p.store.CreateStage(ctx, runID, name)
		if err != nil {
			log.Warn("pipeline: failed to create stage", zap.String("stage", name), zap.Error(err))
		}
	}

	start := time.Now()
	res := model.StageResult{Name: name}
	fnErr := fn(&res)
	res.Name = name
	res.Duration = time.Since(start).Milliseconds()

	switch {
	case fnErr != nil:
		res.Status = model.StageStatusFailed
		res.Error = fnErr.Error()
		log.Error("pipeline: stage failed",
			zap.String("stage", name),
			zap.Int64("duration_ms", res.Duration),
			zap.Error(fnErr),
		)
	case res.Status == model.StageStatusSkipped:
		log.Info("pipeline: stage skipped, nothing to resolve", zap.String("stage", name))
	default:
		res.Status = model.StageStatusComplete
		log.Info("pipeline: stage complete",
			zap.String("stage", name),
			zap.Int64("duration_ms", res.Duration),
			zap.Int("requested", res.Requested),
			zap.Int("merged", res.Merged),
			zap.Int64("found", res.Outcomes.Found),
			zap.Int64("not_found", res.Outcomes.NotFound),
			zap.Int64("rate_limited", res.Outcomes.RateLimited),
			zap.Int64("errors", res.Outcomes.Errors),
		)
	}

	if stage != nil {
		if err := p.store.CompleteStage(ctx, stage.ID, &res); err != nil {
			log.Warn("pipeline: failed to complete stage", zap.String("stage", name), zap.Error(err))
		}
	}
	return res, fnErr
}

// failureLog collects faulted lookups from concurrent resolver callbacks.
type failureLog struct {
	mu    sync.Mutex
	items []model.LookupFailure
}

func (f *failureLog) add(item model.LookupFailure) {
	f.mu.Lock()
	f.items = append(f.items, item)
	f.mu.Unlock()
}

func (f *failureLog) list() []model.LookupFailure {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.LookupFailure, len(f.items))
	copy(out, f.items)
	sortFailures(out)
	return out
}

func isFault(o model.Outcome) bool {
	return o == model.OutcomeRateLimited || o == model.OutcomeError
}

func checkShape(stage string, want, got int) error {
	if want != got {
		return eris.Wrapf(ErrShapeMismatch, "pipeline: %s stage requested %d lookups, got %d", stage, want, got)
	}
	return nil
}
