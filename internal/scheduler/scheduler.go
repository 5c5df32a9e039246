// Package scheduler runs the periodic sync and retention jobs. A job never
// overlaps with itself: a run that finds the previous one still in flight
// is skipped.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"submission-sync/internal/common/logger"
	"submission-sync/internal/common/metrics"
)

var (
	ErrJobRunning = stderrors.New("job is already running")
	ErrUnknownJob = stderrors.New("unknown job")
)

type JobFunc func(ctx context.Context) error

type Job struct {
	Name         string
	Interval     time.Duration
	StartupDelay time.Duration
	// ManualOnly jobs have no timer loop and run only through Trigger.
	ManualOnly bool
	Run        JobFunc
}

type jobState struct {
	Job
	// running is the in-process overlap guard. Status only reads it.
	running atomic.Bool

	statsMu  sync.Mutex
	lastRun  time.Time
	lastErr  error
	runCount int
}

type Scheduler struct {
	locker Locker
	logger logger.Logger

	mu   sync.Mutex
	jobs map[string]*jobState
	wg   sync.WaitGroup
}

// New creates a scheduler. locker may be nil, in which case only the
// in-process guard applies.
func New(locker Locker, log logger.Logger) *Scheduler {
	return &Scheduler{
		locker: locker,
		logger: log.WithFields(map[string]interface{}{"component": "scheduler"}),
		jobs:   map[string]*jobState{},
	}
}

func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job name and run func are required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs[job.Name] = &jobState{Job: job}
	return nil
}

// Start launches one loop per registered job. Loops stop when ctx is done;
// Wait blocks until they have.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, js := range s.jobs {
		if js.ManualOnly {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, js)
		s.logger.Info("job scheduled", map[string]interface{}{
			"job":            js.Name,
			"intervalMs":     js.Interval.Milliseconds(),
			"startupDelayMs": js.StartupDelay.Milliseconds(),
		})
	}
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, js *jobState) {
	defer s.wg.Done()

	delay := time.NewTimer(js.StartupDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return
	case <-delay.C:
	}
	s.runScheduled(ctx, js)

	ticker := time.NewTicker(js.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScheduled(ctx, js)
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context, js *jobState) {
	err := s.run(ctx, js)
	if stderrors.Is(err, ErrJobRunning) {
		s.logger.Info("previous run still in flight, skipping", map[string]interface{}{"job": js.Name})
	}
}

// Trigger runs a job now, under the same guard as scheduled runs. The run
// is detached from ctx's cancellation so an aborted caller does not cut a
// pass short.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	js, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(context.WithoutCancel(ctx), js)
}

func (s *Scheduler) run(ctx context.Context, js *jobState) error {
	if !js.running.CompareAndSwap(false, true) {
		return ErrJobRunning
	}
	defer js.running.Store(false)

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, js.Name)
		if err != nil {
			s.logger.Error("job lock unavailable", map[string]interface{}{
				"job":   js.Name,
				"error": err.Error(),
			})
			return err
		}
		if !ok {
			return ErrJobRunning
		}
		defer release()
	}

	start := time.Now()
	err := s.safeRun(ctx, js)
	elapsed := time.Since(start)
	metrics.JobDuration.WithLabelValues(js.Name).Observe(elapsed.Seconds())

	js.statsMu.Lock()
	js.lastRun = start
	js.lastErr = err
	js.runCount++
	js.statsMu.Unlock()

	fields := map[string]interface{}{
		"job":        js.Name,
		"durationMs": elapsed.Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Error("job run failed", fields)
		return err
	}
	s.logger.Info("job run finished", fields)
	return nil
}

func (s *Scheduler) safeRun(ctx context.Context, js *jobState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", js.Name, r)
		}
	}()
	return js.Run(ctx)
}

// JobStatus describes one job for operational inspection.
type JobStatus struct {
	Name       string    `json:"name"`
	IntervalMs int64     `json:"intervalMs"`
	Running    bool      `json:"running"`
	LastRun    time.Time `json:"lastRun,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	Runs       int       `json:"runs"`
}

func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	states := make([]*jobState, 0, len(s.jobs))
	for _, js := range s.jobs {
		states = append(states, js)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(states))
	for _, js := range states {
		st := JobStatus{
			Name:       js.Name,
			IntervalMs: js.Interval.Milliseconds(),
			Running:    js.running.Load(),
		}
		js.statsMu.Lock()
		st.LastRun = js.lastRun
		st.Runs = js.runCount
		if js.lastErr != nil {
			st.LastError = js.lastErr.Error()
		}
		js.statsMu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
