// Package framework provides the task running primitives shared by all
// GOS components.
package framework

import "context"

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Stepper is a state machine which advances one step at a time.
// StepLoop turns a Stepper into a Runnable.
type Stepper interface {
	Step(context.Context) error
}

// StepLoop runs a Stepper until the context is done or Step fails.
func StepLoop(ctx context.Context, s Stepper) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
}
