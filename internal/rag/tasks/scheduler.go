package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ragserv/internal/config"
)

// Job is the periodic work the Scheduler runs, returning a small result
// summary for status reporting.
type Job func(ctx context.Context) (map[string]any, error)

// Scheduler is a singleton-style periodic runner with an is_indexing
// mutual-exclusion flag and misfire coalescing, grounded on
// scheduler.py's IndexScheduler (APScheduler + BackgroundScheduler,
// coalesce=True, max_instances=1, misfire_grace_time) but re-expressed with
// a time.Ticker tied to the application context, since no Go cron/scheduler
// library is present anywhere in the example pack (see DESIGN.md).
type Scheduler struct {
	interval    time.Duration
	misfireGrace time.Duration
	job         Job
	log         Logger

	indexing   atomic.Bool
	mu         sync.Mutex
	lastRun    time.Time
	lastResult map[string]any
	lastErr    error

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a Scheduler from cfg (defaults: 60 minute interval, 5
// minute misfire grace, matching scheduler.py's values).
func NewScheduler(cfg config.SchedulerConfig, job Job, log Logger) *Scheduler {
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 60 * time.Minute
	}
	grace := time.Duration(cfg.MisfireGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	if log == nil {
		log = noopLogger{}
	}
	return &Scheduler{interval: interval, misfireGrace: grace, job: job, log: log}
}

// Start launches the ticker loop. runImmediately mirrors
// SCHEDULER_INDEX_ON_STARTUP: when true, the job runs once before the first
// tick instead of waiting a full interval.
func (s *Scheduler) Start(ctx context.Context, runImmediately bool) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if runImmediately {
			s.runOnce(ctx)
		}
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-ticker.C:
				// Misfire coalescing: if we're more than misfireGrace behind
				// the scheduled tick, skip this firing rather than pile up
				// overlapping catch-up runs (matches coalesce=True).
				if time.Since(tick) > s.misfireGrace {
					s.log.Warn("scheduler tick missed beyond grace period, skipping", map[string]any{"delay": time.Since(tick).String()})
					continue
				}
				s.runOnce(ctx)
			}
		}
	}()
	s.log.Info("scheduler started", map[string]any{"interval": s.interval.String()})
}

// Stop cancels the ticker loop and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.log.Info("scheduler stopped", map[string]any{})
}

// TriggerNow runs the job immediately, refusing if a run is already in
// flight (max_instances=1).
func (s *Scheduler) TriggerNow(ctx context.Context) (map[string]any, error) {
	if !s.indexing.CompareAndSwap(false, true) {
		return map[string]any{"skipped": true, "reason": "already_running"}, nil
	}
	defer s.indexing.Store(false)
	return s.runLocked(ctx)
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if !s.indexing.CompareAndSwap(false, true) {
		s.log.Warn("scheduler run skipped, already in progress", map[string]any{})
		return
	}
	defer s.indexing.Store(false)
	_, _ = s.runLocked(ctx)
}

func (s *Scheduler) runLocked(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	result, err := s.job(ctx)

	s.mu.Lock()
	s.lastResult = result
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.log.Error("scheduled job failed", map[string]any{"error": err.Error()})
	} else {
		s.log.Info("scheduled job completed", map[string]any{})
	}
	return result, err
}

// Status reports the scheduler's current state for an operator endpoint.
type Status struct {
	Indexing   bool
	Interval   time.Duration
	LastRun    time.Time
	LastResult map[string]any
	LastError  string
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Indexing: s.indexing.Load(),
		Interval: s.interval,
		LastRun:  s.lastRun,
		LastResult: s.lastResult,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
