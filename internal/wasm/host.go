package wasm

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	abi "github.com/woxQAQ/deepseek-pow/api/wasm"
)

// abortMessageLimit caps how far the abort handler scans for a terminator.
const abortMessageLimit = 256

// HostFunctionsImpl implements the functions solver artifacts may import.
type HostFunctionsImpl struct {
	logger *zap.Logger
}

// NewHostFunctions creates a new host functions implementation.
func NewHostFunctions(logger *zap.Logger) *HostFunctionsImpl {
	return &HostFunctionsImpl{
		logger: logger.With(zap.String("component", "wasm-host")),
	}
}

// abort is imported as env.abort(msg_ptr, file_ptr, line, col). It never
// returns to the guest: the panic unwinds the running export and wazero
// hands the *AbortError back to the caller.
func (h *HostFunctionsImpl) abort(ctx context.Context, mod api.Module, msgPtr, filePtr, line, col uint32) {
	mem := NewMemory(mod)
	msg, _ := mem.ReadCString(msgPtr, abortMessageLimit)
	file, _ := mem.ReadCString(filePtr, abortMessageLimit)

	h.logger.Error("Wasm module aborted",
		zap.String("module", mod.Name()),
		zap.String("message", msg),
		zap.String("file", file),
		zap.Uint32("line", line),
		zap.Uint32("column", col),
	)

	panic(&AbortError{
		ModuleName: mod.Name(),
		MessagePtr: msgPtr,
		FilePtr:    filePtr,
		Line:       line,
		Column:     col,
	})
}

// instantiate registers the env host module with the runtime.
func (h *HostFunctionsImpl) instantiate(ctx context.Context, r wazero.Runtime) error {
	_, err := r.NewHostModuleBuilder(abi.HostModuleName).
		NewFunctionBuilder().
		WithFunc(h.abort).
		WithParameterNames("msg_ptr", "file_ptr", "line", "col").
		Export(abi.AbortImportName).
		Instantiate(ctx)
	return err
}
