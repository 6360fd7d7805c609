package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// cleanupStack runs registered undo steps in reverse order of registration.
type cleanupStack struct {
	mu    sync.Mutex
	steps []cleanupStep
}

type cleanupStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (s *cleanupStack) push(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, cleanupStep{name: name, fn: fn})
}

// run executes every step, even after failures, and combines their errors.
func (s *cleanupStack) run(ctx context.Context) error {
	s.mu.Lock()
	steps := s.steps
	s.steps = nil
	s.mu.Unlock()

	var errs error
	for i := len(steps) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, steps[i].fn(ctx))
	}
	return errs
}
