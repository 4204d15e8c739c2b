package resolve

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/batch"
	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/pkg/gleif"
)

// LEIResolver resolves normalized names to Legal Entity Identifiers.
type LEIResolver struct {
	client  gleif.Client
	batcher *batch.Batcher

	// Observe, if set, receives every lookup outcome.
	Observe Observer
}

// NewLEIResolver creates an LEIResolver.
func NewLEIResolver(client gleif.Client, b *batch.Batcher) *LEIResolver {
	return &LEIResolver{client: client, batcher: b}
}

// Resolve looks up one name.
func (r *LEIResolver) Resolve(ctx context.Context, name string) model.LookupResult[string] {
	return r.resolve(ctx, -1, name)
}

func (r *LEIResolver) resolve(ctx context.Context, index int, name string) model.LookupResult[string] {
	log := zap.L().With(zap.String("component", "resolve.lei"), zap.String("name", name))

	rec, err := r.client.LookupByLegalName(ctx, name)
	if err != nil {
		outcome, reason := logFault(log, "lei lookup failed", err)
		notify(r.Observe, index, name, outcome, reason)
		return model.Failed[string](outcome, reason)
	}
	if rec == nil || rec.Attributes.LEI == "" {
		log.Debug("no lei record")
		notify(r.Observe, index, name, model.OutcomeNotFound, "")
		return model.NotFound[string]()
	}

	notify(r.Observe, index, name, model.OutcomeFound, "")
	return model.Found(rec.Attributes.LEI)
}

type indexed struct {
	index int
	name  string
}

func indexNames(names []string) []indexed {
	items := make([]indexed, len(names))
	for i, n := range names {
		items[i] = indexed{index: i, name: n}
	}
	return items
}

// ResolveBatch resolves every name through the batcher. The returned map has
// one entry per distinct input name; nil means no identifier. The only error
// is context cancellation.
func (r *LEIResolver) ResolveBatch(ctx context.Context, names []string) (map[string]*string, error) {
	results, err := batch.Run(ctx, r.batcher, indexNames(names), func(ctx context.Context, it indexed) model.LookupResult[string] {
		return r.resolve(ctx, it.index, it.name)
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]*string, len(names))
	for i, res := range results {
		name := names[i]
		if res.OK() {
			out[name] = model.StringPtr(res.Value)
			continue
		}
		if _, seen := out[name]; !seen {
			out[name] = nil
		}
	}
	return out, nil
}
