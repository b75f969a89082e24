package solver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/woxQAQ/deepseek-pow/internal/config"
	"github.com/woxQAQ/deepseek-pow/internal/metrics"
	"github.com/woxQAQ/deepseek-pow/internal/wasm"
	"github.com/woxQAQ/deepseek-pow/internal/wasmtest"
)

func testConfig(paths ...string) *config.Config {
	return &config.Config{
		SolverPaths: paths,
		Wasm: config.WasmConfig{
			ExecutionTimeout: 10 * time.Second,
			Algorithm:        testAlgorithm,
		},
	}
}

func TestManager_NewManager(t *testing.T) {
	runtime := newTestRuntime(t)

	manager := NewManager(testConfig("/tmp/solvers"), runtime, nil, zap.NewNop())

	if manager == nil {
		t.Fatal("NewManager() returned nil")
	}

	if manager.IsLoaded() {
		t.Error("Manager should not be loaded initially")
	}
}

func TestManager_LoadAll(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t)

	base := t.TempDir()
	writeSolverDir(t, base, "deepseek", basicManifest("deepseek"), wasmtest.Module())
	writeSolverDir(t, base, "broken", basicManifest("broken"), wasmtest.Invalid())

	manager := NewManager(testConfig(base), runtime, nil, zap.NewNop())

	if err := manager.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}

	if !manager.IsLoaded() {
		t.Error("Manager should be loaded")
	}

	if manager.Registry().Count() != 1 {
		t.Errorf("expected 1 solver, got %d", manager.Registry().Count())
	}

	// one warm instance per solver
	if runtime.InstanceCount() != 1 {
		t.Errorf("expected 1 instance, got %d", runtime.InstanceCount())
	}

	solver, err := manager.SolverFor(ctx, testAlgorithm)
	if err != nil {
		t.Fatalf("SolverFor() failed: %v", err)
	}

	res, err := solver.Solve(ctx, "abc", "s1_1_", 3)
	if err != nil {
		t.Fatalf("Solve() failed: %v", err)
	}

	found, value := wasmtest.Expected("abc", "s1_1_", 3)
	if res.Found != found || res.Value != value {
		t.Errorf("expected (%v, %d), got (%v, %d)", found, value, res.Found, res.Value)
	}

	if err := manager.LoadAll(ctx); err == nil {
		t.Error("second LoadAll() should fail")
	}
}

func TestManager_LoadAll_ModulePath(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "sha3_wasm_bg.wasm")
	data := wasmtest.Module(wasmtest.Rename(wasmtest.SolveExport, "solve_v2"))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write wasm: %v", err)
	}

	cfg := testConfig()
	cfg.Wasm.ModulePath = path
	cfg.Wasm.Exports = wasm.ExportNames{Solve: "solve_v2"}

	manager := NewManager(cfg, runtime, nil, zap.NewNop())
	if err := manager.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}

	guard, err := manager.GetSolver("sha3_wasm_bg")
	if err != nil {
		t.Fatalf("GetSolver() failed: %v", err)
	}

	res, err := guard.Solve(ctx, "x", "p", 0)
	if err != nil {
		t.Fatalf("Solve() failed: %v", err)
	}
	if res.Found {
		t.Error("difficulty 0 should have no solution")
	}
}

func TestManager_LoadAll_ModulePathMissing(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t)

	base := t.TempDir()
	writeSolverDir(t, base, "deepseek", basicManifest("deepseek"), wasmtest.Module())

	cfg := testConfig(base)
	cfg.Wasm.ModulePath = filepath.Join(t.TempDir(), "missing.wasm")

	manager := NewManager(cfg, runtime, nil, zap.NewNop())

	err := manager.LoadAll(ctx)
	if err == nil {
		t.Fatal("LoadAll() should fail when module_path is missing")
	}

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %T", err)
	}
	if !errors.Is(err, wasm.ErrModuleNotFound) {
		t.Errorf("expected wasm.ErrModuleNotFound, got %v", err)
	}
	if manager.IsLoaded() {
		t.Error("Manager should not be loaded after a failed load")
	}
}

func TestManager_LoadAll_MissingExports(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t)

	base := t.TempDir()
	writeSolverDir(t, base, "noalloc", basicManifest("noalloc"),
		wasmtest.Module(wasmtest.Omit(wasmtest.AllocateExport)))

	manager := NewManager(testConfig(base), runtime, nil, zap.NewNop())

	err := manager.LoadAll(ctx)
	if err == nil {
		t.Fatal("LoadAll() should fail when no solver can be instantiated")
	}

	var noSolvers *NoSolversFoundError
	if !errors.As(err, &noSolvers) {
		t.Fatalf("expected NoSolversFoundError, got %T", err)
	}

	// rejected instances are released
	if runtime.InstanceCount() != 0 {
		t.Errorf("expected 0 instances, got %d", runtime.InstanceCount())
	}
	if manager.Registry().Count() != 0 {
		t.Errorf("expected empty registry, got %d", manager.Registry().Count())
	}

	// the skipped cause stays matchable
	if !errors.Is(err, wasm.ErrMissingExports) {
		t.Errorf("expected wasm.ErrMissingExports, got %v", err)
	}
}

func TestManager_LoadAll_ModulePathMissingExports(t *testing.T) {
	tests := []struct {
		name    string
		sibling bool
	}{
		{name: "only solver", sibling: false},
		{name: "with healthy sibling", sibling: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			runtime := newTestRuntime(t)

			base := t.TempDir()
			if tt.sibling {
				writeSolverDir(t, base, "deepseek", basicManifest("deepseek"), wasmtest.Module())
			}

			path := filepath.Join(t.TempDir(), "nosolve.wasm")
			if err := os.WriteFile(path, wasmtest.Module(wasmtest.Omit(wasmtest.SolveExport)), 0o644); err != nil {
				t.Fatalf("Failed to write wasm: %v", err)
			}

			cfg := testConfig(base)
			cfg.Wasm.ModulePath = path

			manager := NewManager(cfg, runtime, nil, zap.NewNop())

			err := manager.LoadAll(ctx)
			if err == nil {
				t.Fatal("LoadAll() should fail when module_path lacks the solve export")
			}

			var loadErr *LoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected LoadError, got %T", err)
			}
			if loadErr.SolverName != "nosolve" {
				t.Errorf("expected solver 'nosolve', got '%s'", loadErr.SolverName)
			}
			if !errors.Is(err, wasm.ErrMissingExports) {
				t.Errorf("expected wasm.ErrMissingExports, got %v", err)
			}

			if manager.IsLoaded() {
				t.Error("Manager should not be loaded after a failed load")
			}
			if manager.Registry().Count() != 0 {
				t.Errorf("expected empty registry, got %d", manager.Registry().Count())
			}
			// the healthy sibling's warm instance is released too
			if runtime.InstanceCount() != 0 {
				t.Errorf("expected 0 instances, got %d", runtime.InstanceCount())
			}
		})
	}
}

func TestManager_GetSolver_NotFound(t *testing.T) {
	runtime := newTestRuntime(t)
	manager := NewManager(testConfig(), runtime, nil, zap.NewNop())

	_, err := manager.GetSolver("nonexistent")
	if err == nil {
		t.Fatal("GetSolver() should fail for non-existent solver")
	}

	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected NotFoundError, got %T", err)
	}
}

func TestManager_SolverFor_NotFound(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t)
	manager := NewManager(testConfig(), runtime, nil, zap.NewNop())

	_, err := manager.SolverFor(ctx, "Unknown")
	if err == nil {
		t.Fatal("SolverFor() should fail when no solver implements the algorithm")
	}

	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %T", err)
	}
	if notFound.Algorithm != "Unknown" {
		t.Errorf("expected algorithm 'Unknown', got '%s'", notFound.Algorithm)
	}
}

func TestManager_ReinitMetrics(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t)

	base := t.TempDir()
	writeSolverDir(t, base, "deepseek", basicManifest("deepseek"), wasmtest.Module())

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics.New() failed: %v", err)
	}

	manager := NewManager(testConfig(base), runtime, m, zap.NewNop())
	if err := manager.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}

	solver, err := manager.SolverFor(ctx, testAlgorithm)
	if err != nil {
		t.Fatalf("SolverFor() failed: %v", err)
	}

	// a negative difficulty traps inside the fixture
	if _, err := solver.Solve(ctx, "abc", "p", -1); err == nil {
		t.Fatal("Solve() should fail on trap")
	}

	if _, err := solver.Solve(ctx, "abc", "p", 2); err != nil {
		t.Fatalf("Solve() after trap failed: %v", err)
	}

	expected := `
# HELP powsolver_instance_reinits_total number of solver instances replaced after a failed call
# TYPE powsolver_instance_reinits_total counter
powsolver_instance_reinits_total{solver="deepseek"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "powsolver_instance_reinits_total"); err != nil {
		t.Error(err)
	}
}

func TestManager_Shutdown(t *testing.T) {
	ctx := context.Background()

	runtime, err := wasm.NewRuntime(ctx, zap.NewNop(), wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}

	base := t.TempDir()
	writeSolverDir(t, base, "deepseek", basicManifest("deepseek"), wasmtest.Module())

	manager := NewManager(testConfig(base), runtime, nil, zap.NewNop())
	if err := manager.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}

	solver, err := manager.SolverFor(ctx, testAlgorithm)
	if err != nil {
		t.Fatalf("SolverFor() failed: %v", err)
	}

	if err := manager.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() failed: %v", err)
	}

	if !runtime.IsClosed() {
		t.Error("Runtime should be closed after shutdown")
	}

	if _, err := solver.Solve(ctx, "abc", "p", 1); !errors.Is(err, wasm.ErrSolverClosed) {
		t.Errorf("expected ErrSolverClosed after shutdown, got %v", err)
	}
}
