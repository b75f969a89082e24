package wasmtest

import (
	"encoding/binary"
	"math"
)

const (
	secType     = 0x01
	secImport   = 0x02
	secFunction = 0x03
	secMemory   = 0x05
	secGlobal   = 0x06
	secExport   = 0x07
	secCode     = 0x0a

	valI32 = 0x7f
	valF64 = 0x7c

	kindFunc   = 0x00
	kindMemory = 0x02

	opUnreachable = 0x00
	opLoop        = 0x03
	opIf          = 0x04
	opEnd         = 0x0b
	opBr          = 0x0c
	opCall        = 0x10
	opDrop        = 0x1a
	opSelect      = 0x1b
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Load8U   = 0x2d
	opI32Store    = 0x36
	opF64Store    = 0x39
	opMemoryGrow  = 0x40
	opI32Const    = 0x41
	opF64Const    = 0x44
	opI32GtU      = 0x4b
	opF64Lt       = 0x63
	opF64Gt       = 0x64
	opI32Add      = 0x6a
	opI32Sub      = 0x6b
	opI32Mul      = 0x6c
	opI32And      = 0x71
	opF64Add      = 0xa0
	opF64Sub      = 0xa1
	opF64Mul      = 0xa2
	opF64FromU32  = 0xb8

	blockEmpty = 0x40
)

// type indices
const (
	typeStackAdjust = iota
	typeAllocate
	typeSolve
	typeAbort
	typeSolveNoRet
)

// global indices
const (
	globalSP = iota
	globalHeap
)

func (o *options) assemble() []byte {
	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	out = append(out, section(secType, vec(
		funcType([]byte{valI32}, []byte{valI32}),
		funcType([]byte{valI32, valI32}, []byte{valI32}),
		funcType([]byte{valI32, valI32, valI32, valI32, valI32, valF64}, nil),
		funcType([]byte{valI32, valI32, valI32, valI32}, nil),
		funcType([]byte{valI32, valI32, valI32, valI32, valF64}, nil),
	))...)

	var base uint32
	if o.importAbort {
		out = append(out, section(secImport, vec(
			concat(name("env"), name("abort"), []byte{kindFunc}, uleb(typeAbort)),
		))...)
		base = 1
	}
	stackIdx, allocIdx, solveIdx := base, base+1, base+2

	solveType := uint32(typeSolve)
	if o.wrongSolve {
		solveType = typeSolveNoRet
	}
	out = append(out, section(secFunction, vec(
		uleb(typeStackAdjust),
		uleb(typeAllocate),
		uleb(solveType),
	))...)

	out = append(out, section(secMemory, vec(
		concat([]byte{0x00}, uleb(MemoryPages)),
	))...)

	out = append(out, section(secGlobal, vec(
		concat([]byte{valI32, 0x01, opI32Const}, sleb(int64(o.stackPointer)), []byte{opEnd}),
		concat([]byte{valI32, 0x01, opI32Const}, sleb(HeapBase), []byte{opEnd}),
	))...)

	var exports [][]byte
	add := func(role string, kind byte, idx uint32) {
		if o.omit[role] {
			return
		}
		exports = append(exports, concat(name(o.name(role)), []byte{kind}, uleb(idx)))
	}
	add(MemoryExport, kindMemory, 0)
	add(StackAdjustExport, kindFunc, stackIdx)
	add(AllocateExport, kindFunc, allocIdx)
	add(SolveExport, kindFunc, solveIdx)
	out = append(out, section(secExport, vec(exports...))...)

	out = append(out, section(secCode, vec(
		body(nil, o.stackAdjustCode()),
		body([]byte{valI32}, o.allocateCode()),
		body(nil, o.solveCode()),
	))...)

	return out
}

func (o *options) stackAdjustCode() []byte {
	return []byte{
		opGlobalGet, globalSP,
		opLocalGet, 0,
		opI32Add,
		opGlobalSet, globalSP,
		opGlobalGet, globalSP,
		opEnd,
	}
}

// allocate(len, align) bumps the heap: ptr = (heap + align - 1) & -align.
func (o *options) allocateCode() []byte {
	if o.nullAlloc {
		return []byte{opI32Const, 0, opEnd}
	}

	var code []byte
	if o.growOnAlloc {
		code = append(code, opI32Const, 1, opMemoryGrow, 0x00, opDrop)
	}
	code = append(code,
		opGlobalGet, globalHeap,
		opLocalGet, 1,
		opI32Add,
		opI32Const, 1,
		opI32Sub,
		opI32Const, 0,
		opLocalGet, 1,
		opI32Sub,
		opI32And,
		opLocalSet, 2,
		opLocalGet, 2,
		opLocalGet, 0,
		opI32Add,
		opGlobalSet, globalHeap,
		opGlobalGet, globalHeap,
		opI32Const,
	)
	code = append(code, sleb(int64(o.heapLimit))...)
	code = append(code,
		opI32GtU,
		opIf, blockEmpty,
		opUnreachable,
		opEnd,
		opLocalGet, 2,
		opEnd,
	)
	return code
}

// solve(retptr, cptr, clen, pptr, plen, difficulty)
func (o *options) solveCode() []byte {
	if o.wrongSolve {
		return []byte{opEnd}
	}

	var code []byte

	if o.leakStack {
		code = append(code, opGlobalGet, globalSP, opI32Const)
		code = append(code, sleb(-16)...)
		code = append(code, opI32Add, opGlobalSet, globalSP)
	}

	if o.spin {
		code = append(code, opLoop, blockEmpty, opBr, 0, opEnd)
	}

	if o.fixed {
		code = append(code, opLocalGet, 0, opI32Const)
		code = append(code, sleb(int64(o.fixedStatus))...)
		code = append(code, opI32Store, 0x02, 0x00)
		code = append(code, opLocalGet, 0, opF64Const)
		code = append(code, f64(o.fixedValue)...)
		code = append(code, opF64Store, 0x03, 0x08)
		return append(code, opEnd)
	}

	// negative difficulty fails loudly
	code = append(code, opLocalGet, 5, opF64Const)
	code = append(code, f64(0)...)
	code = append(code, opF64Lt, opIf, blockEmpty)
	if o.importAbort {
		code = append(code,
			opI32Const, 0,
			opI32Const, 0,
			opI32Const, 7,
			opI32Const, 3,
			opCall, 0,
		)
	}
	code = append(code, opUnreachable, opEnd)

	// status
	code = append(code, opLocalGet, 0, opLocalGet, 5, opF64Const)
	code = append(code, f64(0)...)
	code = append(code, opF64Gt, opI32Store, 0x02, 0x00)

	// value
	code = append(code, opLocalGet, 0, opLocalGet, 5, opF64Const)
	code = append(code, f64(0.1)...)
	code = append(code, opF64Sub,
		opLocalGet, 2,
		opI32Const)
	code = append(code, sleb(1000)...)
	code = append(code, opI32Mul,
		opLocalGet, 4,
		opI32Add,
		opF64FromU32,
		opF64Add,
		opLocalGet, 1,
		opI32Load8U, 0x00, 0x00,
		opI32Const, 0,
		opLocalGet, 2,
		opSelect,
		opF64FromU32,
		opF64Const)
	code = append(code, f64(100000)...)
	code = append(code, opF64Mul, opF64Add, opF64Store, 0x03, 0x08)

	return append(code, opEnd)
}

func section(id byte, contents []byte) []byte {
	return concat([]byte{id}, uleb(uint32(len(contents))), contents)
}

func vec(items ...[]byte) []byte {
	return concat(append([][]byte{uleb(uint32(len(items)))}, items...)...)
}

func funcType(params, results []byte) []byte {
	return concat([]byte{0x60}, uleb(uint32(len(params))), params, uleb(uint32(len(results))), results)
}

func name(s string) []byte {
	return concat(uleb(uint32(len(s))), []byte(s))
}

// body encodes a function body with one local per entry of locals.
func body(locals []byte, code []byte) []byte {
	decl := uleb(uint32(len(locals)))
	for _, t := range locals {
		decl = append(decl, 0x01, t)
	}
	b := concat(decl, code)
	return concat(uleb(uint32(len(b))), b)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func f64(v float64) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, math.Float64bits(v))
	return out
}
