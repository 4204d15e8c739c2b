package resolve

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/batch"
	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/resilience"
	"github.com/sells-group/entity-enrich/pkg/pdl"
)

// FirmographicsConfig controls the fallback path.
type FirmographicsConfig struct {
	// Fallback enables the SQL search path when the enrich endpoint is rate limited.
	Fallback bool
	// TripAfter is the number of consecutive rate-limited enrich calls after
	// which the enrich endpoint is skipped for the rest of the session.
	// Zero keeps calling it.
	TripAfter int
	// TripReset is how long the enrich endpoint stays skipped before one probe.
	TripReset time.Duration
}

// FirmographicsResolver resolves company names to firmographics, falling
// back to the search endpoint when the enrich endpoint is out of quota.
type FirmographicsResolver struct {
	client  pdl.Client
	batcher *batch.Batcher
	cfg     FirmographicsConfig

	// Observe, if set, receives every lookup outcome.
	Observe Observer
}

// NewFirmographicsResolver creates a FirmographicsResolver.
func NewFirmographicsResolver(client pdl.Client, b *batch.Batcher, cfg FirmographicsConfig) *FirmographicsResolver {
	return &FirmographicsResolver{client: client, batcher: b, cfg: cfg}
}

// Session is the per-run state of the resolver. Create one per run with
// NewSession; it is safe for concurrent use by one batch.
type Session struct {
	breaker *resilience.CircuitBreaker

	primaryHits  atomic.Int64
	fallbackHits atomic.Int64
	engaged      atomic.Bool
	engageOnce   sync.Once
}

// NewSession starts a run.
func (r *FirmographicsResolver) NewSession() *Session {
	s := &Session{}
	s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: r.cfg.TripAfter,
		ResetTimeout:     r.cfg.TripReset,
		ShouldTrip: func(err error) bool {
			return resilience.IsRateLimitStatus(resilience.StatusCode(err))
		},
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("firmographics enrich circuit changed state",
				zap.String("component", "resolve.firmographics"),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return s
}

// PrimaryHits is the number of records answered by the enrich endpoint.
func (s *Session) PrimaryHits() int64 { return s.primaryHits.Load() }

// FallbackHits is the number of records answered by the search endpoint.
func (s *Session) FallbackHits() int64 { return s.fallbackHits.Load() }

// FallbackEngaged reports whether the search endpoint was used at least once.
func (s *Session) FallbackEngaged() bool { return s.engaged.Load() }

// CircuitState returns the state of the enrich endpoint breaker.
func (s *Session) CircuitState() resilience.CircuitState { return s.breaker.State() }

func (s *Session) engage(log *zap.Logger, err error) {
	s.engaged.Store(true)
	s.engageOnce.Do(func() {
		log.Warn("firmographics enrich rate limited, using search fallback", zap.Error(err))
	})
}

// Resolve looks up one company. It always returns a record; unresolved
// fields hold model.Unknown. A nil sess resolves in a fresh session.
func (r *FirmographicsResolver) Resolve(ctx context.Context, sess *Session, name string) model.Firmographics {
	if sess == nil {
		sess = r.NewSession()
	}
	return r.resolve(ctx, sess, -1, name)
}

func (r *FirmographicsResolver) resolve(ctx context.Context, sess *Session, index int, name string) model.Firmographics {
	log := zap.L().With(zap.String("component", "resolve.firmographics"), zap.String("name", name))

	company, err := resilience.ExecuteVal(ctx, sess.breaker, func(ctx context.Context) (*pdl.Company, error) {
		return r.client.Enrich(ctx, name)
	})

	switch {
	case err == nil && company != nil:
		sess.primaryHits.Add(1)
		notify(r.Observe, index, name, model.OutcomeFound, "")
		return fromEnrich(company)

	case err == nil:
		notify(r.Observe, index, name, model.OutcomeNotFound, "")
		return model.UnknownFirmographics()

	case resilience.IsRateLimited(err) && r.cfg.Fallback:
		sess.engage(log, err)
		return r.fallback(ctx, sess, index, name, log)

	case resilience.StatusCode(err) == http.StatusNotFound:
		log.Debug("no firmographics match")
		notify(r.Observe, index, name, model.OutcomeNotFound, "")
		return model.UnknownFirmographics()

	default:
		outcome, reason := logFault(log, "firmographics enrich failed", err)
		notify(r.Observe, index, name, outcome, reason)
		return model.UnknownFirmographics()
	}
}

func (r *FirmographicsResolver) fallback(ctx context.Context, sess *Session, index int, name string, log *zap.Logger) model.Firmographics {
	company, err := r.client.SearchByName(ctx, name)
	if err != nil {
		outcome, reason := logFault(log, "firmographics search failed", err)
		notify(r.Observe, index, name, outcome, reason)
		return model.UnknownFirmographics()
	}
	if company == nil {
		log.Debug("no firmographics search match")
		notify(r.Observe, index, name, model.OutcomeNotFound, "")
		return model.UnknownFirmographics()
	}

	sess.fallbackHits.Add(1)
	notify(r.Observe, index, name, model.OutcomeFound, "")
	return model.Firmographics{
		EntityType:             model.OrUnknown(company.Type),
		IndustryClassification: model.OrUnknown(company.Industry),
		EmployeeCount:          model.OrUnknown(company.Size),
		Source:                 model.SourceFallback,
	}
}

func fromEnrich(c *pdl.Company) model.Firmographics {
	f := model.Firmographics{
		EntityType:             model.OrUnknown(c.Type),
		IndustryClassification: model.OrUnknown(c.Industry),
		EmployeeCount:          model.Unknown,
		Source:                 model.SourcePrimary,
	}
	if c.EmployeeCount != nil {
		f.EmployeeCount = strconv.Itoa(*c.EmployeeCount)
	}
	return f
}

// ResolveBatch resolves every name through the batcher and returns one
// record per name, in input order. The only error is context cancellation.
// A nil sess resolves in a fresh session.
func (r *FirmographicsResolver) ResolveBatch(ctx context.Context, sess *Session, names []string) ([]model.Firmographics, error) {
	if sess == nil {
		sess = r.NewSession()
	}
	return batch.Run(ctx, r.batcher, indexNames(names), func(ctx context.Context, it indexed) model.Firmographics {
		return r.resolve(ctx, sess, it.index, it.name)
	})
}
