// Package scheduler owns a named registry of periodic jobs and their
// start/stop lifecycle. One job's failure never halts the runner or the
// other jobs: errors and panics are logged and the next firing proceeds.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a single idempotent unit of periodic work.
type Job interface {
	// Execute runs one firing of the job.
	Execute(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc func(ctx context.Context) error

// Execute implements Job.
func (f JobFunc) Execute(ctx context.Context) error { return f(ctx) }

// JobStatus reports the registered state of a job.
type JobStatus struct {
	Name     string
	Schedule time.Duration
	Running  bool
	LastRun  time.Time // zero until the first successful run
}

type entry struct {
	name  string
	every time.Duration
	job   Job

	mu      sync.Mutex
	lastRun time.Time
}

// Scheduler is an explicit, constructed job registry. It is passed by
// reference to whatever owns process lifecycle; there is no ambient global.
type Scheduler struct {
	log *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*entry
	order   []string
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs an empty scheduler.
func New(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log, jobs: make(map[string]*entry)}
}

// Register adds a named job with a fixed interval. Registering an existing
// name is a no-op. Registration after StartAll starts the job immediately.
func (s *Scheduler) Register(name string, every time.Duration, job Job) {
	if every <= 0 {
		every = time.Hour
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		s.log.Warn("job already registered", zap.String("job", name))
		return
	}
	e := &entry{name: name, every: every, job: job}
	s.jobs[name] = e
	s.order = append(s.order, name)
	if s.running {
		s.launch(e)
	}
}

// StartAll starts every registered job's timer. Idempotent.
func (s *Scheduler) StartAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.runCtx = ctx
	for _, name := range s.order {
		s.launch(s.jobs[name])
	}
	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// StopAll stops every job's timer and waits for in-flight firings. Idempotent.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// Status returns the state of a registered job.
func (s *Scheduler) Status(name string) (JobStatus, bool) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	running := s.running
	s.mu.Unlock()
	if !ok {
		return JobStatus{}, false
	}
	e.mu.Lock()
	last := e.lastRun
	e.mu.Unlock()
	return JobStatus{Name: e.name, Schedule: e.every, Running: running, LastRun: last}, true
}

// launch runs the job loop for one entry. Caller holds s.mu.
func (s *Scheduler) launch(e *entry) {
	ctx := s.runCtx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// first firing at start, then on every tick
		s.runOnce(ctx, e)
		ticker := time.NewTicker(e.every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx, e)
			}
		}
	}()
}

// runOnce executes one firing, recovering panics and swallowing errors so the
// job stays registered and fires again on its next tick. lastRun moves only
// after a successful execution.
func (s *Scheduler) runOnce(ctx context.Context, e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panic",
				zap.String("job", e.name),
				zap.Any("reason", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := e.job.Execute(ctx); err != nil {
		s.log.Error("job failed", zap.String("job", e.name), zap.Duration("dur", time.Since(start)), zap.Error(err))
		return
	}
	e.mu.Lock()
	e.lastRun = time.Now()
	e.mu.Unlock()
	s.log.Info("job completed", zap.String("job", e.name), zap.Duration("dur", time.Since(start)))
}
