package solver

import (
	"errors"
	"fmt"

	"github.com/woxQAQ/deepseek-pow/internal/wasm"
)

// ManifestNotFoundError occurs when manifest.yaml is not found in a directory.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when manifest.yaml cannot be parsed as valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when manifest.yaml fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// WasmNotFoundError occurs when the Wasm file referenced in manifest doesn't exist.
type WasmNotFoundError struct {
	ManifestPath string
	WasmFile     string
}

func (e *WasmNotFoundError) Error() string {
	return fmt.Sprintf("Wasm file '%s' not found (referenced in manifest '%s')",
		e.WasmFile, e.ManifestPath)
}

func (e *WasmNotFoundError) Is(target error) bool {
	return target == wasm.ErrModuleNotFound
}

// LoadError occurs when a solver artifact fails to compile or validate.
type LoadError struct {
	SolverName string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load solver '%s': %v", e.SolverName, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// NotFoundError occurs when no registered solver serves a name or algorithm.
type NotFoundError struct {
	Name      string
	Algorithm string
}

func (e *NotFoundError) Error() string {
	if e.Algorithm != "" {
		return fmt.Sprintf("no solver registered for algorithm '%s'", e.Algorithm)
	}
	return fmt.Sprintf("solver '%s' not found", e.Name)
}

// AlreadyRegisteredError occurs when attempting to register a duplicate solver.
type AlreadyRegisteredError struct {
	SolverName string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("solver '%s' is already registered", e.SolverName)
}

// NoSolversFoundError occurs when no solver artifacts are found in the
// configured paths. Errs holds the failures of the artifacts that were
// skipped.
type NoSolversFoundError struct {
	Paths []string
	Errs  []error
}

func (e *NoSolversFoundError) Error() string {
	if len(e.Errs) == 0 {
		return fmt.Sprintf("no solvers found in paths: %v", e.Paths)
	}
	return fmt.Sprintf("no solvers found in paths: %v (%d skipped: %v)", e.Paths, len(e.Errs), errors.Join(e.Errs...))
}

func (e *NoSolversFoundError) Unwrap() []error {
	return e.Errs
}
