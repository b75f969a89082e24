package wasm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

// Runtime owns the single wazero.Runtime shared by every solver artifact.
type Runtime struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache

	// Guest calls stop when their context is done. Set only when an
	// execution timeout is configured.
	interruptible bool

	// Compiled artifacts keyed by module name, so a poisoned instance can be
	// replaced without recompiling.
	modules sync.Map // map[string]*CompiledModule

	// Live instances keyed by instance ID, closed on shutdown.
	instances sync.Map // map[string]*Instance

	hostOnce sync.Once
	hostErr  error

	config *RuntimeConfig
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Memory limit per instance, in 64KiB pages. Zero keeps the wazero default.
	MemoryPages uint32

	// Verify the shadow stack pointer is balanced after every solve.
	DebugEnabled bool

	// Directory for the persistent compilation cache. Empty means in-memory.
	CacheDir string

	// ExecutionTimeout bounds a single solve. When non-zero, guest code
	// observes context cancellation and a timed out instance is closed.
	ExecutionTimeout time.Duration
}

// CompiledModule wraps a wazero.CompiledModule with metadata.
type CompiledModule struct {
	Module wazero.CompiledModule

	Name      string
	Source    string // file path or identifier
	SizeBytes int64

	CompiledAt int64
}

// NewRuntime creates the shared runtime. Call once during startup.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig) (*Runtime, error) {
	if config == nil {
		config = DefaultRuntimeConfig()
	}

	interruptible := config.ExecutionTimeout > 0
	rc := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(interruptible)
	if config.MemoryPages > 0 {
		rc = rc.WithMemoryLimitPages(config.MemoryPages)
	}

	var cache wazero.CompilationCache
	if config.CacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache %s: %w", config.CacheDir, err)
		}
		cache = c
		rc = rc.WithCompilationCache(cache)
	}

	runtime := &Runtime{
		runtime:       wazero.NewRuntimeWithConfig(ctx, rc),
		cache:         cache,
		interruptible: interruptible,
		config:        config,
		logger:        logger.With(zap.String("component", "wasm-runtime")),
		closed:        make(chan struct{}),
	}

	runtime.logger.Info("Wasm runtime initialized",
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.Bool("debug_enabled", config.DebugEnabled),
		zap.String("cache_dir", config.CacheDir),
		zap.Duration("execution_timeout", config.ExecutionTimeout),
		zap.Bool("interruptible", interruptible),
	)

	return runtime, nil
}

// DefaultRuntimeConfig returns the defaults used when no configuration is
// supplied.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MemoryPages:      256, // 16MiB
		ExecutionTimeout: 60 * time.Second,
	}
}

// Interruptible reports whether guest calls are closed when their context
// is done.
func (r *Runtime) Interruptible() bool {
	return r.interruptible
}

// Config returns the runtime configuration.
func (r *Runtime) Config() *RuntimeConfig {
	return r.config
}

// ensureHostModule instantiates the env host module exactly once. Every
// solver instance links against the same host module.
func (r *Runtime) ensureHostModule(ctx context.Context) error {
	r.hostOnce.Do(func() {
		r.hostErr = NewHostFunctions(r.logger).instantiate(ctx, r.runtime)
		if r.hostErr != nil {
			r.logger.Error("Failed to instantiate host module", zap.Error(r.hostErr))
		}
	})
	return r.hostErr
}

// Close shuts down the runtime and every tracked instance. Idempotent.
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.logger.Info("Shutting down Wasm runtime")

		r.instances.Range(func(key, value any) bool {
			inst := value.(*Instance)
			if closeErr := inst.Close(ctx); closeErr != nil {
				r.logger.Warn("Failed to close instance",
					zap.String("instance_id", key.(string)),
					zap.Error(closeErr),
				)
			}
			return true
		})

		err = r.runtime.Close(ctx)
		if r.cache != nil {
			if cacheErr := r.cache.Close(ctx); cacheErr != nil {
				err = errors.Join(err, cacheErr)
			}
		}

		close(r.closed)
		r.logger.Info("Wasm runtime shutdown complete")
	})

	return err
}

// GetCompiledModule retrieves a compiled module from cache.
func (r *Runtime) GetCompiledModule(name string) (*CompiledModule, bool) {
	if val, ok := r.modules.Load(name); ok {
		if mod, ok := val.(*CompiledModule); ok {
			return mod, true
		}
	}
	return nil, false
}

// StoreCompiledModule stores a compiled module in cache.
func (r *Runtime) StoreCompiledModule(module *CompiledModule) {
	r.modules.Store(module.Name, module)
}

// GetInstance retrieves a live instance.
func (r *Runtime) GetInstance(instanceID string) (*Instance, bool) {
	if val, ok := r.instances.Load(instanceID); ok {
		inst, ok := val.(*Instance)
		return inst, ok
	}
	return nil, false
}

// InstanceCount returns the number of live instances.
func (r *Runtime) InstanceCount() int {
	n := 0
	r.instances.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (r *Runtime) storeInstance(instance *Instance) {
	r.instances.Store(instance.ID, instance)
}

func (r *Runtime) deleteInstance(instanceID string) {
	r.instances.Delete(instanceID)
}

// IsClosed returns whether the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
