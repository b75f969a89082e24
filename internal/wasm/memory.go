package wasm

import (
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// Memory provides bounds-checked access to a module's linear memory.
//
// The module may grow its memory during any call, which replaces the
// backing buffer. Memory therefore never caches a view: every operation asks
// the module for its current memory right before touching it, and reads
// return copies instead of slices into the guest buffer.
type Memory struct {
	module api.Module
	name   string
}

// NewMemory creates a memory helper over the module's default memory.
func NewMemory(module api.Module) *Memory {
	return &Memory{module: module}
}

// NewExportedMemory creates a memory helper over a named memory export.
func NewExportedMemory(module api.Module, name string) *Memory {
	return &Memory{module: module, name: name}
}

func (m *Memory) view() api.Memory {
	if m.name != "" {
		return m.module.ExportedMemory(m.name)
	}
	return m.module.Memory()
}

// Size returns the current memory size in bytes.
func (m *Memory) Size() uint32 {
	mem := m.view()
	if mem == nil {
		return 0
	}
	return mem.Size()
}

// Contains reports whether [offset, offset+length) lies inside memory.
func (m *Memory) Contains(offset, length uint32) bool {
	return uint64(offset)+uint64(length) <= uint64(m.Size())
}

// Read returns a copy of size bytes starting at offset.
func (m *Memory) Read(offset, size uint32) ([]byte, error) {
	mem := m.view()
	if mem == nil {
		return nil, m.outOfBounds("read", offset, size, 0)
	}
	buf, ok := mem.Read(offset, size)
	if !ok || uint32(len(buf)) != size {
		return nil, m.outOfBounds("read", offset, size, mem.Size())
	}
	out := make([]byte, size)
	copy(out, buf)
	return out, nil
}

// Write copies data into memory starting at offset.
func (m *Memory) Write(offset uint32, data []byte) error {
	mem := m.view()
	if mem == nil {
		return m.outOfBounds("write", offset, uint32(len(data)), 0)
	}
	if !mem.Write(offset, data) {
		return m.outOfBounds("write", offset, uint32(len(data)), mem.Size())
	}
	return nil
}

// ReadI32 decodes a little-endian signed 32-bit integer at offset.
func (m *Memory) ReadI32(offset uint32) (int32, error) {
	mem := m.view()
	if mem == nil {
		return 0, m.outOfBounds("read_i32", offset, 4, 0)
	}
	v, ok := mem.ReadUint32Le(offset)
	if !ok {
		return 0, m.outOfBounds("read_i32", offset, 4, mem.Size())
	}
	return int32(v), nil
}

// ReadF64 decodes a little-endian IEEE 754 double at offset.
func (m *Memory) ReadF64(offset uint32) (float64, error) {
	mem := m.view()
	if mem == nil {
		return 0, m.outOfBounds("read_f64", offset, 8, 0)
	}
	v, ok := mem.ReadFloat64Le(offset)
	if !ok {
		return 0, m.outOfBounds("read_f64", offset, 8, mem.Size())
	}
	return v, nil
}

// ReadString reads the UTF-8 text a handle points at.
func (m *Memory) ReadString(h MemoryHandle) (string, error) {
	if h.Len == 0 {
		return "", nil
	}
	buf, err := m.Read(h.Ptr, h.Len)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadCString reads a null-terminated string of at most maxLen bytes.
// Used for diagnostics only: guest strings handed to the host through the
// solver ABI always carry an explicit length.
func (m *Memory) ReadCString(ptr uint32, maxLen uint32) (string, bool) {
	mem := m.view()
	if mem == nil {
		return "", false
	}
	if size := mem.Size(); uint64(ptr)+uint64(maxLen) > uint64(size) {
		if ptr >= size {
			return "", false
		}
		maxLen = size - ptr
	}
	buf, ok := mem.Read(ptr, maxLen)
	if !ok {
		return "", false
	}
	s := string(buf)
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return s, true
}

func (m *Memory) outOfBounds(op string, offset, length, size uint32) error {
	return &MemoryAccessError{
		Operation: op,
		Address:   offset,
		Length:    length,
		Size:      size,
	}
}
