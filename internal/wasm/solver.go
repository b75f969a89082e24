package wasm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	abi "github.com/woxQAQ/deepseek-pow/api/wasm"
)

// Solver is a validated solver instance exposing the typed solve
// operation. It is not safe for concurrent use; wrap it in a Guard.
type Solver struct {
	instance  *Instance
	names     ExportNames
	mem       *Memory
	stack     *Stack
	marshaler *Marshaler
	solveFn   api.Function
	debug     bool
	logger    *zap.Logger

	// poisoned is set once a call left the instance in an unknown state.
	poisoned atomic.Bool
}

// NewSolver resolves the solver exports of instance. On failure the
// instance is closed.
func NewSolver(ctx context.Context, instance *Instance, names ExportNames, debug bool, logger *zap.Logger) (*Solver, error) {
	names = names.WithDefaults()

	exports, err := resolveExports(instance.Module(), instance.Name, names)
	if err != nil {
		if closeErr := instance.Close(ctx); closeErr != nil {
			logger.Warn("Failed to close rejected instance", zap.Error(closeErr))
		}
		return nil, err
	}

	log := logger.With(
		zap.String("component", "wasm-solver"),
		zap.String("module", instance.Name),
		zap.String("instance_id", instance.ID),
	)
	mem := NewExportedMemory(instance.Module(), names.Memory)

	return &Solver{
		instance:  instance,
		names:     names,
		mem:       mem,
		stack:     NewStack(exports.stackAdjust, names.StackAdjust, log),
		marshaler: NewMarshaler(NewAllocator(exports.allocate, names.Allocate, mem), mem),
		solveFn:   exports.solve,
		debug:     debug,
		logger:    log,
	}, nil
}

// LoadSolver compiles source (or reuses the cached compilation),
// instantiates it and validates its exports.
func LoadSolver(ctx context.Context, rt *Runtime, source ModuleSource, names ExportNames, logger *zap.Logger) (*Solver, error) {
	if rt.IsClosed() {
		return nil, ErrSolverClosed
	}
	if _, err := NewModuleLoader(rt, logger).LoadModule(ctx, source); err != nil {
		return nil, err
	}
	instance, err := NewInstanceManager(rt, logger).Instantiate(ctx, &InstanceConfig{ModuleName: source.Name()})
	if err != nil {
		return nil, err
	}
	return NewSolver(ctx, instance, names, rt.Config().DebugEnabled, logger)
}

// Solve runs the solve export for one challenge.
//
// A 16-byte return slot is reserved on the guest shadow stack, both strings
// are copied into guest memory, and the export writes its status (i32 at
// +0) and value (f64 at +8) into the slot. The slot is released on every
// path out of Solve.
func (s *Solver) Solve(ctx context.Context, challenge, prefix string, difficulty float64) (Result, error) {
	if s.instance.IsClosed() {
		return Result{}, ErrSolverClosed
	}

	var before uint32
	if s.debug {
		ptr, err := s.stack.Pointer(ctx)
		if err != nil {
			return Result{}, err
		}
		before = ptr
	}

	var (
		status int32
		value  float64
	)
	err := s.stack.WithSlot(ctx, abi.RetSlotSize, func(retptr uint32) error {
		ch, err := s.marshaler.Marshal(ctx, challenge)
		if err != nil {
			return err
		}
		px, err := s.marshaler.Marshal(ctx, prefix)
		if err != nil {
			return err
		}

		s.logger.Debug("Calling solve export",
			zap.Uint32("retptr", retptr),
			zap.Uint32("challenge_ptr", ch.Ptr),
			zap.Uint32("challenge_len", ch.Len),
			zap.Uint32("prefix_ptr", px.Ptr),
			zap.Uint32("prefix_len", px.Len),
			zap.Float64("difficulty", difficulty),
		)

		if _, err := s.solveFn.Call(ctx,
			api.EncodeU32(retptr),
			api.EncodeU32(ch.Ptr), api.EncodeU32(ch.Len),
			api.EncodeU32(px.Ptr), api.EncodeU32(px.Len),
			api.EncodeF64(difficulty),
		); err != nil {
			s.markPoisoned(err)
			return &CallError{FunctionName: s.names.Solve, Err: err}
		}

		if status, err = s.mem.ReadI32(retptr + abi.RetStatusOffset); err != nil {
			return err
		}
		if value, err = s.mem.ReadF64(retptr + abi.RetValueOffset); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if s.debug {
		if err := s.checkBalance(ctx, before); err != nil {
			return Result{}, err
		}
	}

	res, inexact, err := decodeResult(status, value)
	if err != nil {
		return Result{}, err
	}
	if inexact {
		s.logger.Warn("Solver value exceeds exact float64 range, answer may be imprecise",
			zap.Float64("value", value),
			zap.Int64("answer", res.Value),
		)
	}
	return res, nil
}

func (s *Solver) checkBalance(ctx context.Context, before uint32) error {
	after, err := s.stack.Pointer(ctx)
	if err != nil {
		return err
	}
	if after != before {
		s.poisoned.Store(true)
		s.logger.Error("Stack pointer unbalanced after solve",
			zap.Uint32("before", before),
			zap.Uint32("after", after),
		)
		return fmt.Errorf("%w: before=0x%x after=0x%x", ErrStackImbalance, before, after)
	}
	return nil
}

// markPoisoned records that a failed call may have left guest state
// inconsistent. Traps and aborts unwind past the guest's own stack
// bookkeeping; a done context closes the instance outright.
func (s *Solver) markPoisoned(err error) {
	s.poisoned.Store(true)

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		s.logger.Warn("Solver instance closed during call",
			zap.Uint32("exit_code", exitErr.ExitCode()),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("Solve call failed, instance marked for replacement", zap.Error(err))
}

// StackPointer reports the current guest stack pointer.
func (s *Solver) StackPointer(ctx context.Context) (uint32, error) {
	return s.stack.Pointer(ctx)
}

// Memory returns the accessor over the solver's exported memory.
func (s *Solver) Memory() *Memory {
	return s.mem
}

// Marshaler returns the solver's string marshaler.
func (s *Solver) Marshaler() *Marshaler {
	return s.marshaler
}

// Poisoned reports whether the instance must be replaced before reuse.
func (s *Solver) Poisoned() bool {
	return s.poisoned.Load() || s.instance.IsClosed()
}

// InstanceID returns the wazero module name of the instance.
func (s *Solver) InstanceID() string {
	return s.instance.ID
}

// Close releases the instance.
func (s *Solver) Close(ctx context.Context) error {
	return s.instance.Close(ctx)
}
