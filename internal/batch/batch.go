// Package batch splits ordered work into fixed-size batches and dispatches
// each batch concurrently with a paced start rate.
package batch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/entity-enrich/internal/model"
)

// Batcher dispatches items in sequential batches of Size. Within a batch every
// item runs in its own goroutine, and task starts are spaced by Delay.
type Batcher struct {
	Size  int
	Delay time.Duration

	// OnProgress, if set, is called after each batch settles.
	OnProgress func(model.Progress)

	// Name labels log lines.
	Name string
}

// New creates a Batcher. A size below 1 is treated as 1.
func New(name string, size int, delay time.Duration) *Batcher {
	if size < 1 {
		size = 1
	}
	return &Batcher{Name: name, Size: size, Delay: delay}
}

// Plan returns ceil(n/Size) contiguous spans covering [0, n).
func (b *Batcher) Plan(n int) []model.Span {
	size := b.Size
	if size < 1 {
		size = 1
	}
	if n <= 0 {
		return nil
	}
	spans := make([]model.Span, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		spans = append(spans, model.Span{Index: len(spans), Start: start, End: end})
	}
	return spans
}

func (b *Batcher) limiter() *rate.Limiter {
	if b.Delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(b.Delay), 1)
}

// Run applies fn to every item and returns the results in input order. Each
// item is dispatched exactly once and no batch starts before the previous one
// has settled. fn must absorb its own failures; the only error returned is
// context cancellation, in which case the partial results are discarded.
func Run[T, R any](ctx context.Context, b *Batcher, items []T, fn func(ctx context.Context, item T) R) ([]R, error) {
	results := make([]R, len(items))
	spans := b.Plan(len(items))
	lim := b.limiter()
	log := zap.L().With(zap.String("component", "batch"), zap.String("batcher", b.Name))

	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrapf(err, "batch: %s cancelled before batch %d", b.Name, span.Index+1)
		}

		var g errgroup.Group
		var waitErr error
		for i := span.Start; i < span.End; i++ {
			if err := lim.Wait(ctx); err != nil {
				waitErr = err
				break
			}
			g.Go(func() error {
				results[i] = fn(ctx, items[i])
				return nil
			})
		}
		_ = g.Wait()
		if waitErr != nil {
			return nil, eris.Wrapf(waitErr, "batch: %s cancelled during batch %d", b.Name, span.Index+1)
		}

		p := model.Progress{Batch: span.Index + 1, Total: len(spans), Size: span.Size()}
		log.Debug("batch settled",
			zap.Int("batch", p.Batch),
			zap.Int("total", p.Total),
			zap.Int("size", p.Size),
		)
		if b.OnProgress != nil {
			b.OnProgress(p)
		}
	}

	return results, nil
}
