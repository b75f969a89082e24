package wasm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrModuleNotFound   = errors.New("wasm module not found")
	ErrInvalidModule    = errors.New("invalid wasm module")
	ErrMissingExports   = errors.New("missing wasm exports")
	ErrAllocationFailed = errors.New("wasm allocation failed")
	ErrOutOfBounds      = errors.New("wasm memory access out of bounds")
	ErrInvalidResult    = errors.New("invalid solver result")
	ErrAborted          = errors.New("wasm module aborted")
	ErrSolverClosed     = errors.New("solver is closed")
	ErrStackImbalance   = errors.New("wasm stack pointer unbalanced")
)

// ModuleNotFoundError occurs when the module binary is absent from storage
// or a compiled module is not in cache.
type ModuleNotFoundError struct {
	ModuleName string
	Err        error
}

func (e *ModuleNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("module '%s' not found: %v", e.ModuleName, e.Err)
	}
	return fmt.Sprintf("module '%s' not found in cache", e.ModuleName)
}

func (e *ModuleNotFoundError) Unwrap() error {
	return e.Err
}

func (e *ModuleNotFoundError) Is(target error) bool {
	return target == ErrModuleNotFound
}

// CompilationError occurs when Wasm module compilation fails
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile Wasm module '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

func (e *CompilationError) Is(target error) bool {
	return target == ErrInvalidModule
}

// InstantiationError occurs when module instantiation fails
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("failed to instantiate module '%s' (instance: %s): %v",
		e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

func (e *InstantiationError) Is(target error) bool {
	return target == ErrInvalidModule
}

// ExportProblem describes a single required export that is absent or has
// the wrong shape.
type ExportProblem struct {
	Role   string // memory, stack_adjust, allocate or solve
	Name   string
	Reason string
}

// MissingExportsError occurs when a module does not expose the exports the
// solver ABI requires. All problems are reported at once.
type MissingExportsError struct {
	ModuleName string
	Problems   []ExportProblem
}

func (e *MissingExportsError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s '%s': %s", p.Role, p.Name, p.Reason))
	}
	return fmt.Sprintf("module '%s' is missing required exports: %s",
		e.ModuleName, strings.Join(parts, "; "))
}

func (e *MissingExportsError) Is(target error) bool {
	return target == ErrMissingExports
}

// FunctionNotFoundError occurs when an exported function is missing
type FunctionNotFoundError struct {
	ModuleName   string
	FunctionName string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function '%s' not found in module '%s'",
		e.FunctionName, e.ModuleName)
}

func (e *FunctionNotFoundError) Is(target error) bool {
	return target == ErrMissingExports
}

// AllocationError occurs when the module allocator traps or hands back a
// region that cannot hold the request.
type AllocationError struct {
	Length uint32
	Align  uint32
	Ptr    uint32
	Err    error
}

func (e *AllocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to allocate %d bytes (align %d): %v", e.Length, e.Align, e.Err)
	}
	return fmt.Sprintf("failed to allocate %d bytes (align %d): allocator returned 0x%x", e.Length, e.Align, e.Ptr)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

func (e *AllocationError) Is(target error) bool {
	return target == ErrAllocationFailed
}

// MemoryAccessError occurs when memory operations fail
type MemoryAccessError struct {
	Operation string
	Address   uint32
	Length    uint32
	Size      uint32
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access failed (op=%s, addr=%d, len=%d): out of bounds (memory size %d)",
		e.Operation, e.Address, e.Length, e.Size)
}

func (e *MemoryAccessError) Is(target error) bool {
	return target == ErrOutOfBounds
}

// ResultDecodeError occurs when the value written by the solve export is not
// a usable answer.
type ResultDecodeError struct {
	Status int32
	Value  float64
	Reason string
}

func (e *ResultDecodeError) Error() string {
	return fmt.Sprintf("cannot decode solver result (status=%d, value=%v): %s", e.Status, e.Value, e.Reason)
}

func (e *ResultDecodeError) Is(target error) bool {
	return target == ErrInvalidResult
}

// AbortError is raised by the env.abort host function. It unwinds the guest
// call and surfaces from the export invocation.
type AbortError struct {
	ModuleName string
	MessagePtr uint32
	FilePtr    uint32
	Line       uint32
	Column     uint32
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("module '%s' aborted (msg=0x%x, file=0x%x, %d:%d)",
		e.ModuleName, e.MessagePtr, e.FilePtr, e.Line, e.Column)
}

func (e *AbortError) Is(target error) bool {
	return target == ErrAborted
}

// CallError wraps a failed export invocation.
type CallError struct {
	FunctionName string
	Err          error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call to '%s' failed: %v", e.FunctionName, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// TimeoutError occurs when Wasm execution times out
type TimeoutError struct {
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Wasm execution timed out after %v", e.Duration)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}
