package wasm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// InstanceManager creates and tracks module instances.
type InstanceManager struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate. Must already be compiled.
	ModuleName string

	// Instance ID (if empty, generates UUID).
	InstanceID string
}

// Instance is one instantiation of a compiled solver artifact. It owns its
// own linear memory, allocator state and stack pointer.
type Instance struct {
	module api.Module
	rt     *Runtime

	ID        string
	Name      string
	CreatedAt int64
}

// Instantiate creates a new instance from a compiled module, linking it
// against the env host module.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	if err := m.runtime.ensureHostModule(ctx); err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	m.logger.Debug("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	// Solver artifacts are libraries: no start function, no WASI.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions()

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	instance := &Instance{
		module:    module,
		rt:        m.runtime,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
	}
	m.runtime.storeInstance(instance)

	m.logger.Info("Module instantiated successfully",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	return instance, nil
}

// Module exposes the underlying wazero module.
func (i *Instance) Module() api.Module {
	return i.module
}

// IsClosed reports whether the instance has been closed, either explicitly
// or because a call observed a done context.
func (i *Instance) IsClosed() bool {
	return i.module.IsClosed()
}

// Close closes the instance and stops tracking it.
func (i *Instance) Close(ctx context.Context) error {
	i.rt.deleteInstance(i.ID)
	if i.module.IsClosed() {
		return nil
	}
	return i.module.Close(ctx)
}
