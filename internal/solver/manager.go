package solver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/deepseek-pow/internal/config"
	"github.com/woxQAQ/deepseek-pow/internal/metrics"
	"github.com/woxQAQ/deepseek-pow/internal/pow"
	"github.com/woxQAQ/deepseek-pow/internal/wasm"
)

// Manager manages solver lifecycle: discovery, registration and one guarded
// instance per artifact.
type Manager struct {
	cfg      *config.Config
	runtime  *wasm.Runtime
	loader   *Loader
	registry *Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.RWMutex
	loaded bool
	guards map[string]*wasm.Guard // artifact name -> guard
}

// NewManager creates a new solver manager. m may be nil.
func NewManager(
	cfg *config.Config,
	runtime *wasm.Runtime,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		cfg:      cfg,
		runtime:  runtime,
		loader:   NewLoader(runtime, logger),
		registry: NewRegistry(logger),
		metrics:  m,
		logger:   logger.With(zap.String("component", "solver-manager")),
		guards:   make(map[string]*wasm.Guard),
	}
}

// LoadAll discovers solvers under the configured paths, registers the
// configured module_path artifact and instantiates every solver once.
//
// Broken artifacts under solver_paths are skipped. A broken module_path
// artifact fails the whole load.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return fmt.Errorf("solvers already loaded")
	}

	m.logger.Info("Loading solvers",
		zap.Strings("paths", m.cfg.SolverPaths),
		zap.String("module_path", m.cfg.Wasm.ModulePath),
	)

	var (
		artifacts []*Artifact
		skipped   []error
	)
	if len(m.cfg.SolverPaths) > 0 {
		discovered, err := m.loader.DiscoverArtifacts(ctx, m.cfg.SolverPaths)
		var noSolvers *NoSolversFoundError
		switch {
		case errors.As(err, &noSolvers):
			m.logger.Warn("No solvers found in configured paths",
				zap.Strings("paths", m.cfg.SolverPaths),
			)
			skipped = append(skipped, noSolvers.Errs...)
		case err != nil:
			return err
		}
		artifacts = discovered
	}

	var inline *Artifact
	if m.cfg.Wasm.ModulePath != "" {
		artifact, err := m.loadInline(ctx)
		if err != nil {
			return err
		}
		inline = artifact
	}

	for _, artifact := range artifacts {
		if err := m.start(ctx, artifact); err != nil {
			m.logger.Error("Failed to start solver",
				zap.String("name", artifact.Name()),
				zap.Error(err),
			)
			skipped = append(skipped, err)
		}
	}

	// The configured module is required; any failure aborts the load.
	if inline != nil {
		if err := m.start(ctx, inline); err != nil {
			m.discardLocked(ctx)
			return &LoadError{SolverName: inline.Name(), Err: err}
		}
	}

	if m.registry.Count() == 0 {
		return &NoSolversFoundError{Paths: m.searchPaths(), Errs: skipped}
	}

	m.loaded = true

	m.logger.Info("Solvers loaded successfully",
		zap.Int("count", m.registry.Count()),
		zap.Strings("algorithms", m.registry.Algorithms()),
	)

	return nil
}

// start registers artifact and warms its guard. A guard that cannot be
// warmed is released and the artifact unregistered.
func (m *Manager) start(ctx context.Context, artifact *Artifact) error {
	if err := m.registry.Register(artifact); err != nil {
		return err
	}

	guard := m.newGuard(artifact)
	if err := guard.Warm(ctx); err != nil {
		m.registry.Unregister(artifact.Name())
		if closeErr := guard.Close(ctx); closeErr != nil {
			m.logger.Warn("Failed to release solver", zap.String("name", artifact.Name()), zap.Error(closeErr))
		}
		return err
	}
	m.guards[artifact.Name()] = guard
	return nil
}

// discardLocked releases every guard started by a failed load.
func (m *Manager) discardLocked(ctx context.Context) {
	for name, guard := range m.guards {
		if err := guard.Close(ctx); err != nil {
			m.logger.Warn("Failed to release solver", zap.String("name", name), zap.Error(err))
		}
		m.registry.Unregister(name)
		delete(m.guards, name)
	}
}

func (m *Manager) loadInline(ctx context.Context) (*Artifact, error) {
	path := m.cfg.Wasm.ModulePath
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	manifest := InlineManifest(name, path, m.cfg.Wasm.Algorithm, m.cfg.Wasm.Exports)
	if err := manifest.Validate(); err != nil {
		return nil, &LoadError{SolverName: name, Err: err}
	}
	return m.loader.Compile(ctx, manifest)
}

func (m *Manager) newGuard(artifact *Artifact) *wasm.Guard {
	name := artifact.Name()
	source := artifact.Source()
	exports := artifact.Exports()

	factory := func(ctx context.Context) (*wasm.Solver, error) {
		return wasm.LoadSolver(ctx, m.runtime, source, exports, m.logger.With(zap.String("solver", name)))
	}

	return wasm.NewGuard(factory, m.logger.With(zap.String("solver", name)),
		wasm.WithExecutionTimeout(m.cfg.Wasm.ExecutionTimeout),
		wasm.WithReinitHook(func() { m.metrics.IncReinit(name) }),
	)
}

func (m *Manager) searchPaths() []string {
	paths := append([]string(nil), m.cfg.SolverPaths...)
	if m.cfg.Wasm.ModulePath != "" {
		paths = append(paths, m.cfg.Wasm.ModulePath)
	}
	return paths
}

// SolverFor returns the guarded solver of the earliest registered artifact
// implementing algorithm.
func (m *Manager) SolverFor(_ context.Context, algorithm string) (pow.Solver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, artifact := range m.registry.LookupByAlgorithm(algorithm) {
		if guard, ok := m.guards[artifact.Name()]; ok {
			return guard, nil
		}
	}
	return nil, &NotFoundError{Algorithm: algorithm}
}

// GetSolver returns the guarded solver of the named artifact.
func (m *Manager) GetSolver(name string) (*wasm.Guard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	guard, ok := m.guards[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return guard, nil
}

// Shutdown waits for in-flight solves, then closes the runtime.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down solver manager")

	m.mu.Lock()
	guards := m.guards
	m.guards = make(map[string]*wasm.Guard)
	m.mu.Unlock()

	var errs []error
	for name, guard := range guards {
		if err := guard.Close(ctx); err != nil {
			m.logger.Warn("Failed to close solver", zap.String("name", name), zap.Error(err))
			errs = append(errs, err)
		}
	}

	// Runtime close handles instance cleanup
	if err := m.runtime.Close(ctx); err != nil {
		m.logger.Error("Failed to shutdown runtime", zap.Error(err))
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	m.logger.Info("Solver manager shutdown complete")
	return nil
}

// Registry returns the solver registry. The app reads it to report the
// loaded algorithms at startup.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// IsLoaded returns whether solvers have been loaded.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}
