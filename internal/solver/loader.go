package solver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/deepseek-pow/internal/wasm"
)

// Loader handles loading solver artifacts from disk.
type Loader struct {
	moduleLoader *wasm.ModuleLoader
	logger       *zap.Logger
}

// NewLoader creates a new solver loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		logger:       logger.With(zap.String("component", "solver-loader")),
	}
}

// LoadArtifact loads a single solver from a directory holding manifest.yaml.
func (l *Loader) LoadArtifact(ctx context.Context, dir string) (*Artifact, error) {
	l.logger.Debug("Loading solver", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}
	return l.Compile(ctx, manifest)
}

// Compile compiles the artifact a validated manifest points at.
func (l *Loader) Compile(ctx context.Context, manifest *Manifest) (*Artifact, error) {
	l.logger.Info("Loading solver",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.Strings("algorithms", manifest.Algorithms),
	)

	compiled, err := l.moduleLoader.LoadModuleFromFile(ctx, manifest.WasmPath())
	if err != nil {
		return nil, &LoadError{
			SolverName: manifest.Name,
			Err:        err,
		}
	}

	artifact := &Artifact{
		Manifest: manifest,
		Compiled: compiled,
		LoadedAt: time.Now(),
	}

	l.logger.Info("Solver loaded successfully",
		zap.String("name", manifest.Name),
		zap.Int64("size_bytes", compiled.SizeBytes),
	)

	return artifact, nil
}

// DiscoverArtifacts scans directories for solver artifacts. Artifacts that
// fail to load are logged and skipped.
func (l *Loader) DiscoverArtifacts(ctx context.Context, paths []string) ([]*Artifact, error) {
	var artifacts []*Artifact
	var errs []error

	for _, basePath := range paths {
		l.logger.Debug("Scanning solver directory", zap.String("path", basePath))

		entries, err := os.ReadDir(basePath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("Solver path does not exist", zap.String("path", basePath))
				continue
			}
			return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			solverDir := filepath.Join(basePath, entry.Name())

			artifact, err := l.LoadArtifact(ctx, solverDir)
			if err != nil {
				l.logger.Error("Failed to load solver",
					zap.String("dir", solverDir),
					zap.Error(err),
				)
				errs = append(errs, err)
				continue
			}

			artifacts = append(artifacts, artifact)
		}
	}

	if len(artifacts) > 0 && len(errs) > 0 {
		l.logger.Warn("Some solvers failed to load",
			zap.Int("loaded", len(artifacts)),
			zap.Int("failed", len(errs)),
		)
	}

	if len(artifacts) == 0 {
		return nil, &NoSolversFoundError{Paths: paths, Errs: errs}
	}

	return artifacts, nil
}
