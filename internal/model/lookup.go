package model

import "sync/atomic"

// Outcome is the terminal state of a single external lookup.
type Outcome string

const (
	OutcomeFound       Outcome = "found"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeError       Outcome = "error"
)

// LookupResult is the tagged outcome of one resolver call.
type LookupResult[T any] struct {
	Outcome Outcome `json:"outcome"`
	Value   T       `json:"value"`
	Reason  string  `json:"reason,omitempty"`
}

// Found wraps a successful value.
func Found[T any](v T) LookupResult[T] {
	return LookupResult[T]{Outcome: OutcomeFound, Value: v}
}

// NotFound is a lookup that reached the service but had no match.
func NotFound[T any]() LookupResult[T] {
	return LookupResult[T]{Outcome: OutcomeNotFound}
}

// Failed records a non-match caused by a fault; outcome is rate_limited or error.
func Failed[T any](outcome Outcome, reason string) LookupResult[T] {
	return LookupResult[T]{Outcome: outcome, Reason: reason}
}

// OK reports whether the lookup produced a value.
func (r LookupResult[T]) OK() bool {
	return r.Outcome == OutcomeFound
}

// OutcomeTally counts lookup outcomes. Safe for concurrent use.
type OutcomeTally struct {
	found       atomic.Int64
	notFound    atomic.Int64
	rateLimited atomic.Int64
	errored     atomic.Int64
}

// Add records one outcome.
func (t *OutcomeTally) Add(o Outcome) {
	switch o {
	case OutcomeFound:
		t.found.Add(1)
	case OutcomeNotFound:
		t.notFound.Add(1)
	case OutcomeRateLimited:
		t.rateLimited.Add(1)
	default:
		t.errored.Add(1)
	}
}

// Snapshot returns the current counts.
func (t *OutcomeTally) Snapshot() TallySnapshot {
	return TallySnapshot{
		Found:       t.found.Load(),
		NotFound:    t.notFound.Load(),
		RateLimited: t.rateLimited.Load(),
		Errors:      t.errored.Load(),
	}
}

// TallySnapshot is a point-in-time copy of an OutcomeTally.
type TallySnapshot struct {
	Found       int64 `json:"found"`
	NotFound    int64 `json:"not_found"`
	RateLimited int64 `json:"rate_limited"`
	Errors      int64 `json:"errors"`
}

// Total returns the number of lookups counted.
func (s TallySnapshot) Total() int64 {
	return s.Found + s.NotFound + s.RateLimited + s.Errors
}

// LookupFailure records a row whose lookup ended in a fault, for later inspection.
type LookupFailure struct {
	Stage   string  `json:"stage"`
	Row     int     `json:"row"`
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
}

// Span is one batch: the half-open range [Start, End) of the ordered input.
type Span struct {
	Index int `json:"index"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Size returns the number of items in the span.
func (s Span) Size() int {
	return s.End - s.Start
}

// Progress is reported after each batch settles.
type Progress struct {
	Batch int `json:"batch"` // 1-based
	Total int `json:"total"`
	Size  int `json:"size"`
}
