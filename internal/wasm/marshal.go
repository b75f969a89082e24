package wasm

import (
	"context"
	"strings"
	"unicode/utf8"
)

// emptyPtr is handed out for zero-length strings instead of calling the
// allocator. Guests compiled from Rust reject null slice pointers, and a
// dangling pointer equal to the alignment is what their own allocator
// returns for zero-sized requests.
const emptyPtr = 1

// MemoryHandle is a (pointer, length) pair naming bytes inside guest
// memory. It is only valid within the solve call that produced it.
type MemoryHandle struct {
	Ptr uint32
	Len uint32
}

// Marshaler writes host strings into guest memory.
type Marshaler struct {
	alloc *Allocator
	mem   *Memory
}

// NewMarshaler creates a string marshaler.
func NewMarshaler(alloc *Allocator, mem *Memory) *Marshaler {
	return &Marshaler{alloc: alloc, mem: mem}
}

// Marshal encodes text as UTF-8, copies it into a freshly allocated guest
// buffer and returns its handle. Invalid UTF-8 is replaced with U+FFFD.
// No terminator is written.
func (m *Marshaler) Marshal(ctx context.Context, text string) (MemoryHandle, error) {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	if len(text) == 0 {
		return MemoryHandle{Ptr: emptyPtr}, nil
	}

	length := uint32(len(text))
	ptr, err := m.alloc.Allocate(ctx, length, 1)
	if err != nil {
		return MemoryHandle{}, err
	}
	if err := m.mem.Write(ptr, []byte(text)); err != nil {
		return MemoryHandle{}, err
	}
	return MemoryHandle{Ptr: ptr, Len: length}, nil
}
