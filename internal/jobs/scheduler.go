// Package jobs runs periodic maintenance for the sales pipeline API on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap to the cron.Logger interface
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Scheduler owns the cron runner and the named jobs registered with it.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	mu     sync.Mutex
	jobs   map[string]cron.EntryID
}

// NewScheduler accepts six-field expressions (with seconds) as well as
// descriptors such as "@hourly". Overlapping runs of the same job are skipped
// and panics are recovered.
func NewScheduler(logger *zap.Logger) *Scheduler {
	cl := cronLogger{sugar: logger.Named("cron").Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		jobs:   make(map[string]cron.EntryID),
	}
}

func (s *Scheduler) Start() {
	s.logger.Info("starting job scheduler", zap.Strings("jobs", s.JobNames()))
	s.cron.Start()
}

// Stop halts scheduling; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("stopping job scheduler")
	return s.cron.Stop()
}

// AddJob registers job under a unique name
func (s *Scheduler) AddJob(name, spec string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	s.jobs[name] = id
	s.logger.Info("scheduled job", zap.String("job_name", name), zap.String("schedule", spec))
	return nil
}

func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	s.cron.Remove(id)
	delete(s.jobs, name)
	return nil
}

func (s *Scheduler) JobNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}
