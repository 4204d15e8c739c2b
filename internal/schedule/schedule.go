// Package schedule triggers enrichment runs on a fixed interval.
package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RunFunc performs one run.
type RunFunc func(ctx context.Context) error

// Scheduler calls a RunFunc every interval. A run that is still active when
// the next tick fires causes that tick to be skipped.
type Scheduler struct {
	interval time.Duration
	run      RunFunc
	active   atomic.Bool

	runs    atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
}

// New creates a Scheduler. A non-positive interval defaults to 20s.
func New(interval time.Duration, run RunFunc) *Scheduler {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	return &Scheduler{interval: interval, run: run}
}

// Stats are the counters of a Scheduler.
type Stats struct {
	Runs    int64 `json:"runs"`
	Failed  int64 `json:"failed"`
	Skipped int64 `json:"skipped"`
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	return Stats{Runs: s.runs.Load(), Failed: s.failed.Load(), Skipped: s.skipped.Load()}
}

// Run starts the tick loop. The first run starts immediately. It blocks
// until ctx is cancelled and waits for an active run to return.
func (s *Scheduler) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "schedule"))
	log.Info("starting scheduler", zap.Duration("interval", s.interval))

	done := make(chan struct{}, 1)
	inFlight := 0
	s.trigger(ctx, log, done, &inFlight)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for ; inFlight > 0; inFlight-- {
				<-done
			}
			log.Info("scheduler stopped", zap.Int64("runs", s.runs.Load()))
			return
		case <-done:
			inFlight--
		case <-ticker.C:
			s.trigger(ctx, log, done, &inFlight)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, log *zap.Logger, done chan<- struct{}, inFlight *int) {
	if !s.active.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		log.Warn("previous run still active, skipping tick")
		return
	}
	*inFlight++
	go func() {
		defer func() {
			s.active.Store(false)
			done <- struct{}{}
		}()
		defer func() {
			if r := recover(); r != nil {
				s.failed.Add(1)
				log.Error("scheduled run panicked",
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		s.runs.Add(1)
		if err := s.run(ctx); err != nil {
			s.failed.Add(1)
			log.Error("scheduled run failed", zap.Error(err))
			return
		}
		log.Debug("scheduled run finished")
	}()
}
