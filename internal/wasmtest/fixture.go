// Package wasmtest assembles small solver modules for tests.
//
// The fixture follows the solver ABI exactly but replaces the hash with a
// deterministic formula so tests can predict every answer:
//
//	status = difficulty > 0
//	value  = (difficulty - 0.1) + (clen*1000 + plen) + firstByte(challenge)*100000
//
// A negative difficulty traps (or calls env.abort when imported). The stack
// pointer starts at 64KiB and the bump allocator hands out memory from 1KiB
// up to a configurable limit, trapping when exhausted.
package wasmtest

import (
	"math"
)

const (
	// InitialStackPointer is the default value of the shadow stack pointer.
	InitialStackPointer = 65536
	// HeapBase is where the bump allocator starts.
	HeapBase = 1024
	// DefaultHeapLimit is where the bump allocator traps.
	DefaultHeapLimit = 32768
	// MemoryPages is the initial memory size of the fixture.
	MemoryPages = 2
)

// Export names used by the fixture unless renamed.
const (
	MemoryExport      = "memory"
	StackAdjustExport = "__wbindgen_add_to_stack_pointer"
	AllocateExport    = "__wbindgen_export_0"
	SolveExport       = "wasm_solve"
)

// Expected computes the fixture's answer for the given inputs, mirroring
// the guest arithmetic operation by operation.
func Expected(challenge, prefix string, difficulty float64) (found bool, value int64) {
	if difficulty <= 0 {
		return false, 0
	}
	v := difficulty - 0.1
	v += float64(uint32(len(challenge))*1000 + uint32(len(prefix)))
	var first uint32
	if len(challenge) > 0 {
		first = uint32(challenge[0])
	}
	v += float64(first) * 100000
	return true, int64(math.Floor(v))
}

type options struct {
	names        map[string]string
	omit         map[string]bool
	importAbort  bool
	wrongSolve   bool
	spin         bool
	leakStack    bool
	growOnAlloc  bool
	nullAlloc    bool
	fixed        bool
	fixedStatus  int32
	fixedValue   float64
	heapLimit    int32
	stackPointer int32
}

// Option customizes a fixture module.
type Option func(*options)

// Rename exports role under a different name. Roles are the default
// export names above.
func Rename(role, name string) Option {
	return func(o *options) { o.names[role] = name }
}

// Omit drops the export of role from the module.
func Omit(role string) Option {
	return func(o *options) { o.omit[role] = true }
}

// ImportAbort makes the module import env.abort and call it on negative
// difficulty instead of trapping directly.
func ImportAbort() Option {
	return func(o *options) { o.importAbort = true }
}

// WrongSolveSignature exports a solve function without the retptr
// parameter.
func WrongSolveSignature() Option {
	return func(o *options) { o.wrongSolve = true }
}

// Spin makes solve loop forever.
func Spin() Option {
	return func(o *options) { o.spin = true }
}

// LeakStack makes solve move the stack pointer down by 16 bytes without
// restoring it.
func LeakStack() Option {
	return func(o *options) { o.leakStack = true }
}

// GrowOnAllocate makes every allocation grow memory by one page first.
func GrowOnAllocate() Option {
	return func(o *options) { o.growOnAlloc = true }
}

// NullAllocator makes allocate always return 0.
func NullAllocator() Option {
	return func(o *options) { o.nullAlloc = true }
}

// FixedResult makes solve write the given status and value regardless of
// its inputs.
func FixedResult(status int32, value float64) Option {
	return func(o *options) {
		o.fixed = true
		o.fixedStatus = status
		o.fixedValue = value
	}
}

// HeapLimit sets the address at which the allocator traps.
func HeapLimit(limit int32) Option {
	return func(o *options) { o.heapLimit = limit }
}

// StackPointer sets the initial stack pointer.
func StackPointer(sp int32) Option {
	return func(o *options) { o.stackPointer = sp }
}

// Module returns the binary of a fixture solver module.
func Module(opts ...Option) []byte {
	o := &options{
		names:        map[string]string{},
		omit:         map[string]bool{},
		heapLimit:    DefaultHeapLimit,
		stackPointer: InitialStackPointer,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o.assemble()
}

// Invalid returns bytes that are not a wasm module.
func Invalid() []byte {
	return []byte("definitely not wasm")
}

func (o *options) name(role string) string {
	if n, ok := o.names[role]; ok {
		return n
	}
	return role
}
