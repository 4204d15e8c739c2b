// Package resolve looks company names up against the LEI registry and the
// firmographics service. Per-record faults are absorbed here: every lookup
// ends in a model.Outcome and never fails the caller.
package resolve

import (
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/resilience"
)

// Observer is notified of every lookup outcome. index is the position of
// name in the slice passed to ResolveBatch, or -1 for single lookups.
type Observer func(index int, name string, outcome model.Outcome, reason string)

func notify(obs Observer, index int, name string, outcome model.Outcome, reason string) {
	if obs != nil {
		obs(index, name, outcome, reason)
	}
}

// logFault logs a failed lookup at the level its kind calls for.
func logFault(log *zap.Logger, msg string, err error) (model.Outcome, string) {
	kind, outcome := resilience.Classify(err)
	fields := []zap.Field{zap.String("kind", string(kind)), zap.Error(err)}
	if kind == resilience.KindRateLimited {
		log.Warn(msg, fields...)
	} else {
		log.Error(msg, fields...)
	}
	return outcome, err.Error()
}
