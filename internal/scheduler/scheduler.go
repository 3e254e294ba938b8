// Package scheduler runs the worker's periodic jobs on cron expressions in UTC.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type Job func(ctx context.Context) error

// JobObserver is notified around every run.
type JobObserver interface {
	StartJob()
	FinishJob(job string, duration time.Duration, err error)
}

type Scheduler struct {
	cron     *cron.Cron
	observer JobObserver

	mu    sync.RWMutex
	ctx   context.Context
	names map[cron.EntryID]string
}

func New(observer JobObserver) *Scheduler {
	logger := slogLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		observer: observer,
		ctx:      context.Background(),
		names:    make(map[cron.EntryID]string),
	}
}

// Add registers job under a standard five-field spec or a descriptor like "@daily".
func (s *Scheduler) Add(spec, name string, job Job) error {
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	if s.observer != nil {
		s.observer.StartJob()
	}
	start := time.Now()
	err := job(ctx)
	elapsed := time.Since(start)
	if s.observer != nil {
		s.observer.FinishJob(name, elapsed, err)
	}
	if err != nil {
		slog.Error("scheduled_job_failed", "job", name, "duration_ms", elapsed.Milliseconds(), "error", err)
		return
	}
	slog.Info("scheduled_job_completed", "job", name, "duration_ms", elapsed.Milliseconds())
}

// Next returns the next activation of every registered job.
func (s *Scheduler) Next() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.names))
	for _, entry := range s.cron.Entries() {
		out[s.names[entry.ID]] = entry.Next
	}
	return out
}

// Run starts the scheduler and blocks until ctx is done and running jobs finished.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	for name, next := range s.Next() {
		slog.Info("scheduled_job_registered", "job", name, "next_run", next)
	}
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron_"+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron_"+msg, append(keysAndValues, "error", err)...)
}
