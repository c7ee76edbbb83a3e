// Package scheduler runs named jobs at fixed wall-clock times each day.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cliffng14/accountably/internal/logger"
)

// At is a time of day.
type At struct {
	Hour   int
	Minute int
}

// ParseAt parses "HH:MM" in 24-hour form.
func ParseAt(s string) (At, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return At{}, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return At{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (a At) String() string {
	return fmt.Sprintf("%02d:%02d", a.Hour, a.Minute)
}

// Next returns the first occurrence of a strictly after now, in loc.
func (a At) Next(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), a.Hour, a.Minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, a.Hour, a.Minute, 0, 0, loc)
	}
	return next
}

// Job is a zero-argument batch entry point.
type Job func(ctx context.Context) error

// Registry maps job names to jobs. It is shared by the scheduler, the CLI and the HTTP trigger.
// Runs of the same job never overlap: a caller that arrives while the job is
// running waits for that run and gets its result.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]Job
	flight singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

func (r *Registry) Register(name string, job Job) error {
	if name == "" || job == nil {
		return fmt.Errorf("invalid job registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("job already registered: %s", name)
	}
	r.jobs[name] = job
	return nil
}

func (r *Registry) Get(name string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[name]
	if !ok {
		return nil, false
	}
	return func(ctx context.Context) error {
		_, err, _ := r.flight.Do(name, func() (interface{}, error) {
			return nil, j(ctx)
		})
		return err
	}, true
}

// Names returns the registered job names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type entry struct {
	name string
	at   At
}

// Scheduler fires registry jobs daily. Each entry has its own goroutine, so a
// slow job only delays its own next run.
type Scheduler struct {
	registry *Registry
	loc      *time.Location
	log      *logger.Logger
	now      func() time.Time
	onRun    func(ctx context.Context, job string, err error)

	entries []entry
	wg      sync.WaitGroup
}

func New(registry *Registry, loc *time.Location, log *logger.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		loc:      loc,
		log:      log.With("component", "Scheduler"),
		now:      time.Now,
		onRun:    func(context.Context, string, error) {},
	}
}

// OnRun sets a hook called after every run.
func (s *Scheduler) OnRun(fn func(ctx context.Context, job string, err error)) {
	s.onRun = fn
}

// Daily schedules the named job. Call before Start.
func (s *Scheduler) Daily(name string, at At) error {
	if _, ok := s.registry.Get(name); !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	s.entries = append(s.entries, entry{name: name, at: at})
	return nil
}

// Start launches the run loops; they exit when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.runLoop(ctx, e)
	}
}

// Wait blocks until every run loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, e entry) {
	defer s.wg.Done()
	job, _ := s.registry.Get(e.name)

	for {
		now := s.now()
		next := e.at.Next(now, s.loc)
		s.log.Debug("Job scheduled", "job", e.name, "at", next.Format(time.RFC3339))
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("Scheduler loop stopped", "job", e.name)
			return
		case <-timer.C:
			s.run(ctx, e.name, job)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("Job panic", "job", name, "panic", r)
		}
		s.onRun(ctx, name, err)
	}()

	started := time.Now()
	err = job(ctx)
	if err != nil {
		s.log.Error("Job failed", "job", name, "error", err, "elapsed", time.Since(started))
		return
	}
	s.log.Info("Job finished", "job", name, "elapsed", time.Since(started))
}
