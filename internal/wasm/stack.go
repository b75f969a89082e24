package wasm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Stack adjusts the guest's shadow stack pointer through its
// stack-adjustment export, signature (i32 delta) -> i32 new_pointer.
//
// Slots must be released in LIFO order with the same size they were
// acquired with.
type Stack struct {
	fn     api.Function
	name   string
	logger *zap.Logger
}

// NewStack wraps a resolved stack-adjustment export.
func NewStack(fn api.Function, name string, logger *zap.Logger) *Stack {
	return &Stack{
		fn:     fn,
		name:   name,
		logger: logger,
	}
}

func (s *Stack) adjust(ctx context.Context, delta int32) (uint32, error) {
	results, err := s.fn.Call(ctx, api.EncodeI32(delta))
	if err != nil {
		return 0, &CallError{FunctionName: s.name, Err: err}
	}
	if len(results) != 1 {
		return 0, &CallError{
			FunctionName: s.name,
			Err:          fmt.Errorf("expected 1 result, got %d", len(results)),
		}
	}
	return api.DecodeU32(results[0]), nil
}

// Acquire moves the stack pointer down by size bytes and returns the base
// of the reserved region.
func (s *Stack) Acquire(ctx context.Context, size uint32) (uint32, error) {
	return s.adjust(ctx, -int32(size))
}

// Release moves the stack pointer back up by size bytes.
func (s *Stack) Release(ctx context.Context, size uint32) error {
	_, err := s.adjust(ctx, int32(size))
	return err
}

// Pointer returns the current stack pointer without moving it.
func (s *Stack) Pointer(ctx context.Context) (uint32, error) {
	return s.adjust(ctx, 0)
}

// WithSlot reserves size bytes, runs fn with the slot base and releases
// the slot on every path out of fn, including panics. A failed release is
// joined onto fn's error.
func (s *Stack) WithSlot(ctx context.Context, size uint32, fn func(base uint32) error) (err error) {
	base, err := s.Acquire(ctx, size)
	if err != nil {
		return err
	}

	defer func() {
		if releaseErr := s.Release(ctx, size); releaseErr != nil {
			s.logger.Error("Failed to release stack slot",
				zap.Uint32("base", base),
				zap.Uint32("size", size),
				zap.Error(releaseErr),
			)
			err = errors.Join(err, releaseErr)
		}
	}()

	return fn(base)
}
