// Package solver discovers solver artifacts, keeps them in a registry and
// hands out guarded solver instances per algorithm.
package solver

import (
	"slices"
	"time"

	"github.com/woxQAQ/deepseek-pow/internal/wasm"
)

// Artifact is a compiled solver module together with its manifest.
type Artifact struct {
	// Manifest is the parsed solver metadata
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// LoadedAt is the timestamp when the artifact was loaded
	LoadedAt time.Time
}

// Name returns the solver name.
func (a *Artifact) Name() string {
	return a.Manifest.Name
}

// Version returns the solver version.
func (a *Artifact) Version() string {
	return a.Manifest.Version
}

// Algorithms returns the algorithms this artifact implements.
func (a *Artifact) Algorithms() []string {
	return a.Manifest.Algorithms
}

// Supports checks if the artifact implements algorithm.
func (a *Artifact) Supports(algorithm string) bool {
	return slices.Contains(a.Manifest.Algorithms, algorithm)
}

// Exports returns the export names of the artifact.
func (a *Artifact) Exports() wasm.ExportNames {
	return a.Manifest.Wasm.Exports
}

// Source returns the module source the artifact was compiled from. Its name
// matches the compiled module cache key.
func (a *Artifact) Source() wasm.ModuleSource {
	return &wasm.FileModuleSource{Path: a.Manifest.WasmPath()}
}
