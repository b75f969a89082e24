package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Allocator requests buffers from the guest allocator export, signature
// (length i32, align i32) -> i32 ptr.
//
// Buffers are never freed by the host. They are scratch space for a single
// solve call and the guest reclaims them on its own terms.
type Allocator struct {
	fn   api.Function
	name string
	mem  *Memory
}

// NewAllocator wraps a resolved allocator export.
func NewAllocator(fn api.Function, name string, mem *Memory) *Allocator {
	return &Allocator{fn: fn, name: name, mem: mem}
}

// Allocate returns the offset of a fresh buffer of length bytes.
func (a *Allocator) Allocate(ctx context.Context, length, align uint32) (uint32, error) {
	results, err := a.fn.Call(ctx, api.EncodeU32(length), api.EncodeU32(align))
	if err != nil {
		return 0, &AllocationError{
			Length: length,
			Align:  align,
			Err:    &CallError{FunctionName: a.name, Err: err},
		}
	}
	if len(results) != 1 {
		return 0, &AllocationError{
			Length: length,
			Align:  align,
			Err:    fmt.Errorf("expected 1 result from '%s', got %d", a.name, len(results)),
		}
	}

	ptr := api.DecodeU32(results[0])
	if (ptr == 0 && length > 0) || !a.mem.Contains(ptr, length) {
		return 0, &AllocationError{Length: length, Align: align, Ptr: ptr}
	}
	return ptr, nil
}
