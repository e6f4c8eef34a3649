// Package scheduler runs named periodic jobs: the server sweep, rate window
// pruning and the per-viewer polling of open conversations.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"clarify/internal/logger"

	"github.com/go-co-op/gocron/v2"
)

type subscription struct {
	job    gocron.Job
	paused atomic.Bool
}

// Scheduler owns a gocron scheduler and tracks jobs by name so callers can
// pause, resume and tear them down.
type Scheduler struct {
	sched  gocron.Scheduler
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*subscription
}

func New(log *logger.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		sched:  sched,
		log:    log.With("service", "Scheduler"),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*subscription),
	}
	sched.Start()
	return s, nil
}

// JobOption adjusts one job.
type JobOption func(*jobSettings)

type jobSettings struct {
	immediate bool
	tags      []string
}

// Immediately runs the job once as soon as it is registered.
func Immediately() JobOption {
	return func(s *jobSettings) { s.immediate = true }
}

// Tagged groups jobs so they can be removed together.
func Tagged(tags ...string) JobOption {
	return func(s *jobSettings) { s.tags = append(s.tags, tags...) }
}

// Every registers fn under name, replacing any job already using that name.
// Runs never overlap: a run that is still busy when the next is due makes the
// scheduler skip to the following interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context), opts ...JobOption) error {
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", name)
	}
	var settings jobSettings
	for _, o := range opts {
		o(&settings)
	}

	sub := &subscription{}
	jobOpts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if len(settings.tags) > 0 {
		jobOpts = append(jobOpts, gocron.WithTags(settings.tags...))
	}
	if settings.immediate {
		jobOpts = append(jobOpts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	task := gocron.NewTask(func() {
		if sub.paused.Load() || s.ctx.Err() != nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panicked", "job", name, "panic", r)
			}
		}()
		fn(s.ctx)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[name]; ok {
		if err := s.sched.RemoveJob(old.job.ID()); err != nil {
			s.log.Warn("failed to remove replaced job", "job", name, "error", err)
		}
		delete(s.jobs, name)
	}

	job, err := s.sched.NewJob(gocron.DurationJob(interval), task, jobOpts...)
	if err != nil {
		return fmt.Errorf("schedule job %q: %w", name, err)
	}
	sub.job = job
	s.jobs[name] = sub
	return nil
}

// Pause stops runs of the named job without removing it.
func (s *Scheduler) Pause(name string) bool {
	return s.setPaused(name, true)
}

// Resume re-enables a paused job.
func (s *Scheduler) Resume(name string) bool {
	return s.setPaused(name, false)
}

func (s *Scheduler) setPaused(name string, paused bool) bool {
	s.mu.Lock()
	sub, ok := s.jobs[name]
	s.mu.Unlock()
	if ok {
		sub.paused.Store(paused)
	}
	return ok
}

// Paused reports whether the named job exists and is paused.
func (s *Scheduler) Paused(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.jobs[name]
	return ok && sub.paused.Load()
}

// RunNow triggers the named job outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	sub, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return sub.job.RunNow()
}

// Has reports whether a job is registered under name.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// Remove tears down the named job. Removing an unknown job is a no-op.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.jobs[name]
	if !ok {
		return
	}
	delete(s.jobs, name)
	if err := s.sched.RemoveJob(sub.job.ID()); err != nil {
		s.log.Warn("failed to remove job", "job", name, "error", err)
	}
}

// RemoveTagged tears down every job carrying tag.
func (s *Scheduler) RemoveTagged(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, sub := range s.jobs {
		for _, t := range sub.job.Tags() {
			if t == tag {
				delete(s.jobs, name)
				break
			}
		}
	}
	s.sched.RemoveByTags(tag)
}

// Shutdown stops every job and waits for running ones to return.
func (s *Scheduler) Shutdown() {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		s.log.Warn("scheduler shutdown", "error", err)
	}
}
