package wasm

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/deepseek-pow/internal/wasmtest"
)

func newTestRuntime(t *testing.T, config *RuntimeConfig) *Runtime {
	t.Helper()
	ctx := context.Background()

	rt, err := NewRuntime(ctx, zaptest.NewLogger(t), config)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close(ctx) })
	return rt
}

func newTestSolver(t *testing.T, opts ...wasmtest.Option) *Solver {
	t.Helper()
	rt := newTestRuntime(t, &RuntimeConfig{MemoryPages: 64, DebugEnabled: true})

	solver, err := LoadSolver(context.Background(), rt,
		&MemoryModuleSource{ModuleName: t.Name(), Data: wasmtest.Module(opts...)},
		DefaultExportNames(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return solver
}

func TestSolverSolve(t *testing.T) {
	ctx := context.Background()
	solver := newTestSolver(t)

	tests := []struct {
		name       string
		challenge  string
		prefix     string
		difficulty float64
	}{
		{"reference challenge", "abc", "s1_1700000000_", 100000},
		{"fractional difficulty", "f00d", "salt_1_", 144000.5},
		{"empty challenge", "", "p_", 10},
		{"empty prefix", "xyz", "", 10},
		{"long challenge", string(make([]byte, 4096)), "prefix_", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := solver.Solve(ctx, tt.challenge, tt.prefix, tt.difficulty)
			require.NoError(t, err)

			found, value := wasmtest.Expected(tt.challenge, tt.prefix, tt.difficulty)
			assert.Equal(t, found, res.Found)
			assert.Equal(t, value, res.Value)
			assert.GreaterOrEqual(t, res.Value, int64(0))
		})
	}
}

func TestSolverNoSolution(t *testing.T) {
	solver := newTestSolver(t)

	res, err := solver.Solve(context.Background(), "abc", "s1_1_", 0)
	require.NoError(t, err)
	assert.Equal(t, NoSolution(), res)
}

func TestSolverDecodesReturnSlot(t *testing.T) {
	tests := []struct {
		name   string
		status int32
		value  float64
		want   Result
	}{
		{"floor truncation", 1, 7.9, Solution(7)},
		{"exact integer", 1, 42, Solution(42)},
		{"zero status ignores value", 0, 123.75, NoSolution()},
		{"zero status ignores NaN", 0, math.NaN(), NoSolution()},
		{"any nonzero status", -1, 3.5, Solution(3)},
		{"zero value", 1, 0.2, Solution(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			solver := newTestSolver(t, wasmtest.FixedResult(tt.status, tt.value))

			res, err := solver.Solve(context.Background(), "abc", "p_", 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
		})
	}
}

func TestSolverRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		value float64
	}{
		{"NaN", math.NaN()},
		{"positive infinity", math.Inf(1)},
		{"negative infinity", math.Inf(-1)},
		{"negative", -0.5},
		{"beyond int64", 1e19},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			solver := newTestSolver(t, wasmtest.FixedResult(1, tt.value))
			ctx := context.Background()

			before, err := solver.StackPointer(ctx)
			require.NoError(t, err)

			_, err = solver.Solve(ctx, "abc", "p_", 1)
			require.ErrorIs(t, err, ErrInvalidResult)

			var decodeErr *ResultDecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, int32(1), decodeErr.Status)

			after, err := solver.StackPointer(ctx)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestSolverLargeValueIsReturned(t *testing.T) {
	solver := newTestSolver(t, wasmtest.FixedResult(1, 1<<60))

	res, err := solver.Solve(context.Background(), "abc", "p_", 1)
	require.NoError(t, err)
	assert.Equal(t, Solution(1<<60), res)
}

func TestSolverStackBalance(t *testing.T) {
	ctx := context.Background()
	solver := newTestSolver(t)

	start, err := solver.StackPointer(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(wasmtest.InitialStackPointer), start)

	for i := 0; i < 50; i++ {
		_, err := solver.Solve(ctx, "challenge", "salt_1700000000_", float64(i))
		require.NoError(t, err)

		sp, err := solver.StackPointer(ctx)
		require.NoError(t, err)
		require.Equal(t, start, sp, "stack pointer moved after call %d", i)
	}
}

func TestSolverStackBalanceOnTrap(t *testing.T) {
	ctx := context.Background()
	solver := newTestSolver(t)

	before, err := solver.StackPointer(ctx)
	require.NoError(t, err)

	_, err = solver.Solve(ctx, "abc", "p_", -1)
	require.Error(t, err)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, wasmtest.SolveExport, callErr.FunctionName)
	assert.Contains(t, err.Error(), "unreachable")

	after, err := solver.StackPointer(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.True(t, solver.Poisoned())
}

func TestSolverAbort(t *testing.T) {
	solver := newTestSolver(t, wasmtest.ImportAbort())

	_, err := solver.Solve(context.Background(), "abc", "p_", -1)
	require.ErrorIs(t, err, ErrAborted)

	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, uint32(7), abortErr.Line)
	assert.Equal(t, uint32(3), abortErr.Column)
	assert.True(t, solver.Poisoned())
}

func TestSolverAbortImportIsOptional(t *testing.T) {
	solver := newTestSolver(t, wasmtest.ImportAbort())

	res, err := solver.Solve(context.Background(), "abc", "s1_1700000000_", 100000)
	require.NoError(t, err)
	_, want := wasmtest.Expected("abc", "s1_1700000000_", 100000)
	assert.Equal(t, Solution(want), res)
}

func TestSolverDetectsStackLeak(t *testing.T) {
	solver := newTestSolver(t, wasmtest.LeakStack())

	_, err := solver.Solve(context.Background(), "abc", "p_", 1)
	require.ErrorIs(t, err, ErrStackImbalance)
	assert.True(t, solver.Poisoned())
}

func TestSolverAllocationFailure(t *testing.T) {
	t.Run("allocator traps", func(t *testing.T) {
		solver := newTestSolver(t, wasmtest.HeapLimit(wasmtest.HeapBase+8))
		ctx := context.Background()

		before, err := solver.StackPointer(ctx)
		require.NoError(t, err)

		_, err = solver.Solve(ctx, "a challenge longer than eight bytes", "p_", 1)
		require.ErrorIs(t, err, ErrAllocationFailed)

		after, err := solver.StackPointer(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("allocator returns null", func(t *testing.T) {
		solver := newTestSolver(t, wasmtest.NullAllocator())

		_, err := solver.Solve(context.Background(), "abc", "p_", 1)
		require.ErrorIs(t, err, ErrAllocationFailed)

		var allocErr *AllocationError
		require.ErrorAs(t, err, &allocErr)
		assert.Equal(t, uint32(0), allocErr.Ptr)
		assert.Equal(t, uint32(3), allocErr.Length)
	})
}

func TestSolverSurvivesMemoryGrowth(t *testing.T) {
	ctx := context.Background()
	solver := newTestSolver(t, wasmtest.GrowOnAllocate())

	sizeBefore := solver.Memory().Size()
	for i := 1; i <= 3; i++ {
		res, err := solver.Solve(ctx, "abc", "s1_1700000000_", 100000)
		require.NoError(t, err)
		_, want := wasmtest.Expected("abc", "s1_1700000000_", 100000)
		assert.Equal(t, Solution(want), res)
	}
	assert.Greater(t, solver.Memory().Size(), sizeBefore)
}

func TestSolverClosed(t *testing.T) {
	ctx := context.Background()
	solver := newTestSolver(t)

	require.NoError(t, solver.Close(ctx))
	assert.True(t, solver.Poisoned())

	_, err := solver.Solve(ctx, "abc", "p_", 1)
	assert.ErrorIs(t, err, ErrSolverClosed)
}

func TestMarshal(t *testing.T) {
	ctx := context.Background()
	solver := newTestSolver(t)
	m := solver.Marshaler()

	t.Run("empty string", func(t *testing.T) {
		h, err := m.Marshal(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, uint32(0), h.Len)
		assert.NotZero(t, h.Ptr)
	})

	t.Run("ascii", func(t *testing.T) {
		h, err := m.Marshal(ctx, "s1_1700000000_")
		require.NoError(t, err)
		assert.Equal(t, uint32(14), h.Len)

		got, err := solver.Memory().ReadString(h)
		require.NoError(t, err)
		assert.Equal(t, "s1_1700000000_", got)
	})

	t.Run("multi-byte", func(t *testing.T) {
		h, err := m.Marshal(ctx, "挑战✓")
		require.NoError(t, err)
		assert.Equal(t, uint32(len("挑战✓")), h.Len)

		got, err := solver.Memory().ReadString(h)
		require.NoError(t, err)
		assert.Equal(t, "挑战✓", got)
	})

	t.Run("invalid utf-8 is replaced", func(t *testing.T) {
		h, err := m.Marshal(ctx, "a\xffb")
		require.NoError(t, err)

		got, err := solver.Memory().ReadString(h)
		require.NoError(t, err)
		assert.Equal(t, "a\uFFFDb", got)
	})

	t.Run("no terminator", func(t *testing.T) {
		first, err := m.Marshal(ctx, "ab")
		require.NoError(t, err)
		second, err := m.Marshal(ctx, "cd")
		require.NoError(t, err)
		assert.Equal(t, first.Ptr+first.Len, second.Ptr)
	})
}

func TestLoadSolverMissingExports(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		opts  []wasmtest.Option
		roles []string
	}{
		{"missing solve", []wasmtest.Option{wasmtest.Omit(wasmtest.SolveExport)}, []string{"solve"}},
		{"missing memory", []wasmtest.Option{wasmtest.Omit(wasmtest.MemoryExport)}, []string{"memory"}},
		{"missing allocator and stack", []wasmtest.Option{
			wasmtest.Omit(wasmtest.AllocateExport),
			wasmtest.Omit(wasmtest.StackAdjustExport),
		}, []string{"stack_adjust", "allocate"}},
		{"wrong solve arity", []wasmtest.Option{wasmtest.WrongSolveSignature()}, []string{"solve"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRuntime(t, nil)

			_, err := LoadSolver(ctx, rt,
				&MemoryModuleSource{ModuleName: tt.name, Data: wasmtest.Module(tt.opts...)},
				DefaultExportNames(), zaptest.NewLogger(t))
			require.ErrorIs(t, err, ErrMissingExports)

			var missing *MissingExportsError
			require.ErrorAs(t, err, &missing)
			var roles []string
			for _, p := range missing.Problems {
				roles = append(roles, p.Role)
			}
			assert.Equal(t, tt.roles, roles)

			assert.Zero(t, rt.InstanceCount(), "rejected instance should be closed")
		})
	}
}

func TestLoadSolverRenamedExports(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)

	data := wasmtest.Module(
		wasmtest.Rename(wasmtest.SolveExport, "solve_v2"),
		wasmtest.Rename(wasmtest.AllocateExport, "malloc"),
	)
	source := &MemoryModuleSource{ModuleName: "renamed", Data: data}

	_, err := LoadSolver(ctx, rt, source, DefaultExportNames(), zaptest.NewLogger(t))
	require.ErrorIs(t, err, ErrMissingExports)

	solver, err := LoadSolver(ctx, rt, source, ExportNames{Solve: "solve_v2", Allocate: "malloc"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := solver.Solve(ctx, "abc", "p_", 5)
	require.NoError(t, err)
	assert.True(t, res.Found)
}

func TestLoadSolverInvalidModule(t *testing.T) {
	rt := newTestRuntime(t, nil)

	_, err := LoadSolver(context.Background(), rt,
		&MemoryModuleSource{ModuleName: "bad", Data: wasmtest.Invalid()},
		DefaultExportNames(), zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrInvalidModule)
	assert.False(t, errors.Is(err, ErrMissingExports))
}

func TestDecodeResult(t *testing.T) {
	res, inexact, err := decodeResult(1, float64(1<<53)+2)
	require.NoError(t, err)
	assert.True(t, inexact)
	assert.Equal(t, int64(1<<53)+2, res.Value)

	_, inexact, err = decodeResult(1, 1<<52)
	require.NoError(t, err)
	assert.False(t, inexact)
}
