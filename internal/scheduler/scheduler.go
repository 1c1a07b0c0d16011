// Package scheduler runs the periodic batch: update every fetch topology,
// rebuild mesh topologies, then sweep expired entities.
//
// Steps run in registration order and a failing step does not stop the
// ones after it, so the sweep always sees the outcome of the whole batch.
// A failed fetch is retried on the next tick, never inline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StepFunc is one stage of a batch
type StepFunc func(ctx context.Context) error

type step struct {
	name string
	run  StepFunc
}

// StepReport is the outcome of one step
type StepReport struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunReport is the outcome of one batch
type RunReport struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Steps    []StepReport  `json:"steps"`
	// Skipped is set when a batch was still running
	Skipped bool `json:"skipped,omitempty"`
}

// Err joins the errors of every failed step
func (r *RunReport) Err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Error != "" {
			errs = append(errs, fmt.Errorf("%s: %s", s.Name, s.Error))
		}
	}
	return errors.Join(errs...)
}

// Scheduler owns the batch steps and their ticker loop
type Scheduler struct {
	mu       sync.RWMutex
	steps    []step
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	// running serializes batches; a tick that finds it held is skipped
	running sync.Mutex
	last    *RunReport

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler ticking at interval
func New(interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		interval: interval,
		logger:   logger.Named("scheduler"),
		now:      time.Now,
	}
}

// Register appends a step to the batch
func (s *Scheduler) Register(name string, fn StepFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.steps {
		if st.name == name {
			return fmt.Errorf("step %s already registered", name)
		}
	}
	s.steps = append(s.steps, step{name: name, run: fn})
	s.logger.Debug("registered step", zap.String("step", name))
	return nil
}

// Steps returns the registered step names in execution order
func (s *Scheduler) Steps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.steps))
	for _, st := range s.steps {
		names = append(names, st.name)
	}
	return names
}

// Start runs a batch immediately and then on every tick until Stop or
// ctx cancellation
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.RunOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("stopping batch loop")
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()

	s.logger.Info("started batch loop", zap.Duration("interval", s.interval))
	return nil
}

// Stop cancels the loop and waits for a running batch to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}

// RunOnce executes every step in order. It returns a skipped report when
// another batch is still running.
func (s *Scheduler) RunOnce(ctx context.Context) *RunReport {
	if !s.running.TryLock() {
		s.logger.Warn("previous batch still running, skipping")
		return &RunReport{Started: s.now(), Skipped: true}
	}
	defer s.running.Unlock()

	s.mu.RLock()
	steps := make([]step, len(s.steps))
	copy(steps, s.steps)
	s.mu.RUnlock()

	report := &RunReport{Started: s.now()}
	for _, st := range steps {
		if ctx.Err() != nil {
			break
		}
		start := s.now()
		err := st.run(ctx)
		sr := StepReport{Name: st.name, Duration: s.now().Sub(start)}
		if err != nil {
			sr.Error = err.Error()
			s.logger.Warn("step failed", zap.String("step", st.name), zap.Error(err))
		}
		report.Steps = append(report.Steps, sr)
	}
	report.Duration = s.now().Sub(report.Started)

	s.logger.Info("batch complete",
		zap.Int("steps", len(report.Steps)),
		zap.Duration("duration", report.Duration))

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report
}

// LastRun returns the report of the latest completed batch, or nil
func (s *Scheduler) LastRun() *RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
