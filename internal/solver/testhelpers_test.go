package solver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/woxQAQ/deepseek-pow/internal/wasm"
)

const testAlgorithm = "DeepSeekHashV1"

// writeSolverDir creates base/name holding manifest and a wasm file named
// solver.wasm with the given contents. A nil wasmBytes skips the wasm file.
func writeSolverDir(t *testing.T, base, name, manifest string, wasmBytes []byte) string {
	t.Helper()

	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create solver dir: %v", err)
	}
	if manifest != "" {
		if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644); err != nil {
			t.Fatalf("Failed to write manifest: %v", err)
		}
	}
	if wasmBytes != nil {
		if err := os.WriteFile(filepath.Join(dir, "solver.wasm"), wasmBytes, 0o644); err != nil {
			t.Fatalf("Failed to write wasm: %v", err)
		}
	}
	return dir
}

func basicManifest(name string) string {
	return "name: " + name + `
version: 1.0.0
algorithms:
  - ` + testAlgorithm + `
wasm:
  file: solver.wasm
author: tests
license: MIT
`
}

func newTestRuntime(t *testing.T) *wasm.Runtime {
	t.Helper()

	ctx := context.Background()
	runtime, err := wasm.NewRuntime(ctx, zap.NewNop(), wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { _ = runtime.Close(ctx) })
	return runtime
}
