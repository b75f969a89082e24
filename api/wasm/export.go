// Package wasm describes the guest side of the solver ABI.
//
// A solver artifact is a core WebAssembly module (no WASI, no component
// model) that exports the four symbols below. The names are the ones
// wasm-bindgen emits for the reference artifact; manifests may rename them.
//
// NOTE: uint32 is used for pointers and lengths because WebAssembly uses a 32-bit
// linear memory model. All Wasm memory addresses are represented as 32-bit integers.
//
//	(memory (export "memory") 17)
//
//	;; moves the shadow stack pointer by delta and returns the new pointer
//	(func (export "__wbindgen_add_to_stack_pointer") (param i32) (result i32))
//
//	;; returns a buffer of length bytes aligned to align
//	(func (export "__wbindgen_export_0") (param i32 i32) (result i32))
//
//	;; writes status (i32 at retptr) and value (f64 at retptr+8)
//	(func (export "wasm_solve") (param i32 i32 i32 i32 i32 f64))
//
// Modules may import env.abort (i32 i32 i32 i32) -> (); the host traps the
// call when it is invoked.
package wasm

// Default export names of the reference artifact.
const (
	DefaultMemoryExport      = "memory"
	DefaultStackAdjustExport = "__wbindgen_add_to_stack_pointer"
	DefaultAllocateExport    = "__wbindgen_export_0"
	DefaultSolveExport       = "wasm_solve"
)

// Host import provided to every solver module.
const (
	HostModuleName  = "env"
	AbortImportName = "abort"
)

// Return slot layout of the solve export.
const (
	RetSlotSize     = 16
	RetStatusOffset = 0
	RetValueOffset  = 8
)
