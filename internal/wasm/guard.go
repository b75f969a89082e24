package wasm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// SolverFactory builds a fresh solver instance.
type SolverFactory func(ctx context.Context) (*Solver, error)

// Guard serializes access to a single solver instance and replaces the
// instance after a call leaves it poisoned.
//
// At most one solve runs per instance. Callers wait for the slot honoring
// their context, but once a solve has started it runs to completion or to
// the execution timeout; the caller's cancellation does not reach it.
type Guard struct {
	sem     *semaphore.Weighted
	factory SolverFactory
	timeout time.Duration
	logger  *zap.Logger

	onReinit func()

	// guarded by sem
	current  *Solver
	replaced bool
	closed   bool
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithExecutionTimeout bounds every solve. The runtime must have been
// created with a non-zero ExecutionTimeout for the guest to observe it.
func WithExecutionTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		g.timeout = d
	}
}

// WithReinitHook registers a callback invoked each time a poisoned instance
// is replaced.
func WithReinitHook(fn func()) GuardOption {
	return func(g *Guard) {
		g.onReinit = fn
	}
}

// NewGuard creates a guard. The first instance is created lazily.
func NewGuard(factory SolverFactory, logger *zap.Logger, opts ...GuardOption) *Guard {
	g := &Guard{
		sem:     semaphore.NewWeighted(1),
		factory: factory,
		logger:  logger.With(zap.String("component", "wasm-guard")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Solve runs one solve on the guarded instance.
func (g *Guard) Solve(ctx context.Context, challenge, prefix string, difficulty float64) (Result, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer g.sem.Release(1)

	if g.closed {
		return Result{}, ErrSolverClosed
	}

	solver, err := g.solverLocked(ctx)
	if err != nil {
		return Result{}, err
	}

	callCtx := context.WithoutCancel(ctx)
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, g.timeout)
		defer cancel()
	}

	res, err := solver.Solve(callCtx, challenge, prefix, difficulty)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = &TimeoutError{Duration: g.timeout, Err: err}
	}

	if solver.Poisoned() {
		g.logger.Warn("Discarding poisoned solver instance",
			zap.String("instance_id", solver.InstanceID()),
		)
		if closeErr := solver.Close(ctx); closeErr != nil {
			g.logger.Warn("Failed to close poisoned instance", zap.Error(closeErr))
		}
		g.current = nil
		g.replaced = true
	}

	return res, err
}

// Warm instantiates the solver ahead of the first solve so load errors
// surface at startup.
func (g *Guard) Warm(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	if g.closed {
		return ErrSolverClosed
	}
	_, err := g.solverLocked(ctx)
	return err
}

func (g *Guard) solverLocked(ctx context.Context) (*Solver, error) {
	if g.current != nil {
		return g.current, nil
	}

	solver, err := g.factory(ctx)
	if err != nil {
		return nil, err
	}
	g.current = solver

	if g.replaced {
		g.replaced = false
		g.logger.Info("Solver instance reinitialized",
			zap.String("instance_id", solver.InstanceID()),
		)
		if g.onReinit != nil {
			g.onReinit()
		}
	}
	return solver, nil
}

// Close waits for any in-flight solve and releases the instance.
func (g *Guard) Close(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	g.closed = true
	if g.current == nil {
		return nil
	}
	err := g.current.Close(ctx)
	g.current = nil
	return err
}
