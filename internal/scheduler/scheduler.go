// Package scheduler runs recurring maintenance jobs on cron schedules,
// such as reaping finished tasks and pruning the event log.
package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

// JobFunc is one maintenance job. It runs on the scheduler goroutine's
// children and must not block forever.
type JobFunc func()

type job struct {
	name string
	expr *CronExpr
	fn   JobFunc
}

// Scheduler fires registered jobs whenever their cron expression matches
// the current minute.
type Scheduler struct {
	mu   sync.Mutex
	jobs []job

	done    chan struct{}
	started bool
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{done: make(chan struct{})}
}

// Add registers a job under the given cron expression.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	expr, err := ParseCron(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job{name: name, expr: expr, fn: fn})
	s.mu.Unlock()

	slog.Info("maintenance job registered", "name", name, "schedule", spec)
	return nil
}

// Start begins the minute ticker. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.loop()
	slog.Info("scheduler started")
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	close(s.done)
	slog.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.runDue(now)
		}
	}
}

// runDue fires every job whose schedule matches now.
func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	due := make([]job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.expr.Matches(now) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		go runJob(j)
	}
}

func runJob(j job) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("maintenance job panicked", "name", j.name, "panic", p)
		}
	}()
	j.fn()
}
