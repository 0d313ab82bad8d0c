// Package saga runs ordered steps and undoes completed ones in reverse
// order when a later step fails.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Step is one forward action with an optional compensation
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error // may be nil; must tolerate "already gone"
}

// Saga executes steps in order
type Saga struct {
	steps []Step
	logf  func(string, ...any)

	// CompensationTimeout bounds each compensation; it runs on a context
	// detached from the caller's, which may already be cancelled.
	CompensationTimeout time.Duration
}

func New(logf func(string, ...any)) *Saga {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Saga{logf: logf, CompensationTimeout: 2 * time.Minute}
}

// Add appends a step
func (s *Saga) Add(name string, execute, compensate func(ctx context.Context) error) *Saga {
	s.steps = append(s.steps, Step{Name: name, Execute: execute, Compensate: compensate})
	return s
}

// StepError reports which step failed; compensation failures are attached
type StepError struct {
	Step         string
	Err          error
	Compensation error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Step, e.Err)
	if e.Compensation != nil {
		msg += fmt.Sprintf(" (compensation: %v)", e.Compensation)
	}
	return msg
}

func (e *StepError) Unwrap() error { return e.Err }

// Run executes every step. On the first failure the completed steps are
// compensated newest first and a *StepError wrapping the original error is
// returned.
func (s *Saga) Run(ctx context.Context) error {
	done := make([]Step, 0, len(s.steps))
	for _, st := range s.steps {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, done, st.Name, err)
		}
		s.logf("step %s", st.Name)
		if err := st.Execute(ctx); err != nil {
			return s.fail(ctx, done, st.Name, err)
		}
		done = append(done, st)
	}
	return nil
}

func (s *Saga) fail(ctx context.Context, done []Step, name string, cause error) error {
	s.logf("step %s failed: %v; compensating %d step(s)", name, cause, len(done))
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.Compensate == nil {
			continue
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.CompensationTimeout)
		err := st.Compensate(cctx)
		cancel()
		if err != nil {
			s.logf("compensate %s failed: %v", st.Name, err)
			errs = append(errs, fmt.Errorf("%s: %w", st.Name, err))
		}
	}
	return &StepError{Step: name, Err: cause, Compensation: errors.Join(errs...)}
}

// RunAll executes every step regardless of earlier failures, for
// best-effort cleanup. Failures are logged and joined.
func (s *Saga) RunAll(ctx context.Context) error {
	var errs []error
	for _, st := range s.steps {
		if err := st.Execute(ctx); err != nil {
			s.logf("step %s failed: %v", st.Name, err)
			errs = append(errs, fmt.Errorf("%s: %w", st.Name, err))
		}
	}
	return errors.Join(errs...)
}
