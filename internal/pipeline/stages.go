package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/batch"
	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/resolve"
	"github.com/sells-group/entity-enrich/pkg/gleif"
	"github.com/sells-group/entity-enrich/pkg/pdl"
)

// resolveLEI looks up one identifier per distinct normalized name and fills
// it into every row sharing that name whose lei is still missing.
func (p *Pipeline) resolveLEI(ctx context.Context, client gleif.Client, ds *model.Dataset, res *model.StageResult, failures *failureLog) error {
	var names []string
	rows := make(map[string][]int)
	for i := range ds.Records {
		rec := &ds.Records[i]
		if !rec.NeedsLEI() {
			continue
		}
		n := rec.NormalizedName
		if _, ok := rows[n]; !ok {
			names = append(names, n)
		}
		rows[n] = append(rows[n], i)
	}

	res.Requested = len(names)
	if len(names) == 0 {
		res.Status = model.StageStatusSkipped
		return nil
	}

	b := p.newBatcher(model.StageLEI, p.cfg.GLEIF.BatchSize, p.cfg.GLEIF.Delay())
	res.Batches = len(b.Plan(len(names)))

	var tally model.OutcomeTally
	r := resolve.NewLEIResolver(client, b)
	r.Observe = func(_ int, name string, outcome model.Outcome, reason string) {
		tally.Add(outcome)
		p.metrics.ObserveLookup(model.StageLEI, outcome)
		if isFault(outcome) {
			failures.add(model.LookupFailure{
				Stage:   model.StageLEI,
				Row:     rows[name][0],
				Name:    name,
				Outcome: outcome,
				Reason:  reason,
			})
		}
	}

	var lr leiBatch = r
	if p.wrapLEI != nil {
		lr = p.wrapLEI(lr)
	}
	found, err := lr.ResolveBatch(ctx, names)
	res.Outcomes = tally.Snapshot()
	if err != nil {
		return err
	}
	if err := checkShape(model.StageLEI, len(names), len(found)); err != nil {
		return err
	}

	for _, n := range names {
		lei, ok := found[n]
		if !ok {
			return eris.Wrapf(ErrShapeMismatch, "pipeline: lei stage has no result for %q", n)
		}
		for _, i := range rows[n] {
			if ds.Records[i].MergeLEI(lei) {
				res.Merged++
			}
		}
	}
	return nil
}

// resolveFirmographics looks up every row with a missing firmographic field
// by its raw name, one lookup per row, and fills only the missing fields.
func (p *Pipeline) resolveFirmographics(ctx context.Context, client pdl.Client, ds *model.Dataset, res *model.StageResult, failures *failureLog) error {
	var (
		names []string
		rows  []int
	)
	for i := range ds.Records {
		rec := &ds.Records[i]
		if rec.FirmographicsComplete() || strings.TrimSpace(rec.RawName) == "" {
			continue
		}
		names = append(names, rec.RawName)
		rows = append(rows, i)
	}

	res.Requested = len(names)
	if len(names) == 0 {
		res.Status = model.StageStatusSkipped
		return nil
	}

	b := p.newBatcher(model.StageFirmographics, p.cfg.PDL.BatchSize, p.cfg.PDL.Delay())
	res.Batches = len(b.Plan(len(names)))

	var tally model.OutcomeTally
	r := resolve.NewFirmographicsResolver(client, b, resolve.FirmographicsConfig{
		Fallback:  p.cfg.PDL.Fallback,
		TripAfter: p.cfg.PDL.TripAfter,
		TripReset: p.cfg.PDL.TripReset(),
	})
	r.Observe = func(index int, name string, outcome model.Outcome, reason string) {
		tally.Add(outcome)
		p.metrics.ObserveLookup(model.StageFirmographics, outcome)
		if isFault(outcome) && index >= 0 {
			failures.add(model.LookupFailure{
				Stage:   model.StageFirmographics,
				Row:     rows[index],
				Name:    name,
				Outcome: outcome,
				Reason:  reason,
			})
		}
	}

	sess := r.NewSession()
	var fr firmographicsBatch = r
	if p.wrapFirmographics != nil {
		fr = p.wrapFirmographics(fr)
	}
	got, err := fr.ResolveBatch(ctx, sess, names)
	res.Outcomes = tally.Snapshot()
	res.Primary = sess.PrimaryHits()
	res.Fallback = sess.FallbackHits()
	res.Engaged = sess.FallbackEngaged()
	res.Circuit = sess.CircuitState().String()
	p.metrics.AddFallbackHits(sess.FallbackHits())
	if err != nil {
		return err
	}
	if err := checkShape(model.StageFirmographics, len(names), len(got)); err != nil {
		return err
	}

	for k, i := range rows {
		if ds.Records[i].MergeFirmographics(got[k]) > 0 {
			res.Merged++
		}
	}
	return nil
}

// newBatcher returns a batcher that reports each settled batch to the log
// and to metrics.
func (p *Pipeline) newBatcher(stage string, size int, delay time.Duration) *batch.Batcher {
	b := batch.New(stage, size, delay)
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("stage", stage))
	b.OnProgress = func(pr model.Progress) {
		log.Info("pipeline: batch settled",
			zap.Int("batch", pr.Batch),
			zap.Int("total", pr.Total),
			zap.Int("size", pr.Size),
		)
		p.metrics.ObserveBatch(stage, pr)
	}
	return b
}

var stageOrder = map[string]int{model.StageLEI: 0, model.StageFirmographics: 1}

// sortFailures orders failures by stage then row.
func sortFailures(items []model.LookupFailure) {
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].Stage != items[b].Stage {
			return stageOrder[items[a].Stage] < stageOrder[items[b].Stage]
		}
		return items[a].Row < items[b].Row
	})
}
