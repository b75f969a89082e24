package wasm

import (
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero/api"

	abi "github.com/woxQAQ/deepseek-pow/api/wasm"
)

// ExportNames maps the four solver ABI roles to the export names of a
// concrete artifact.
type ExportNames struct {
	Memory      string `mapstructure:"memory" yaml:"memory"`
	StackAdjust string `mapstructure:"stack_adjust" yaml:"stack_adjust"`
	Allocate    string `mapstructure:"allocate" yaml:"allocate"`
	Solve       string `mapstructure:"solve" yaml:"solve"`
}

// DefaultExportNames returns the names used by the reference artifact.
func DefaultExportNames() ExportNames {
	return ExportNames{
		Memory:      abi.DefaultMemoryExport,
		StackAdjust: abi.DefaultStackAdjustExport,
		Allocate:    abi.DefaultAllocateExport,
		Solve:       abi.DefaultSolveExport,
	}
}

// WithDefaults fills empty names from DefaultExportNames.
func (n ExportNames) WithDefaults() ExportNames {
	d := DefaultExportNames()
	if n.Memory == "" {
		n.Memory = d.Memory
	}
	if n.StackAdjust == "" {
		n.StackAdjust = d.StackAdjust
	}
	if n.Allocate == "" {
		n.Allocate = d.Allocate
	}
	if n.Solve == "" {
		n.Solve = d.Solve
	}
	return n
}

type funcSignature struct {
	params  []api.ValueType
	results []api.ValueType
}

func (s funcSignature) String() string {
	return fmt.Sprintf("%s -> %s", valueTypeNames(s.params), valueTypeNames(s.results))
}

func valueTypeNames(types []api.ValueType) string {
	out := "("
	for i, t := range types {
		if i > 0 {
			out += ", "
		}
		out += api.ValueTypeName(t)
	}
	return out + ")"
}

var (
	stackAdjustSignature = funcSignature{
		params:  []api.ValueType{api.ValueTypeI32},
		results: []api.ValueType{api.ValueTypeI32},
	}
	allocateSignature = funcSignature{
		params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
		results: []api.ValueType{api.ValueTypeI32},
	}
	solveSignature = funcSignature{
		params: []api.ValueType{
			api.ValueTypeI32, // retptr
			api.ValueTypeI32, // challenge ptr
			api.ValueTypeI32, // challenge len
			api.ValueTypeI32, // prefix ptr
			api.ValueTypeI32, // prefix len
			api.ValueTypeF64, // difficulty
		},
	}
)

// resolvedExports holds the validated exports of an instance.
type resolvedExports struct {
	stackAdjust api.Function
	allocate    api.Function
	solve       api.Function
}

// resolveExports looks up and type-checks every required export, collecting
// all problems before failing.
func resolveExports(module api.Module, moduleName string, names ExportNames) (*resolvedExports, error) {
	var problems []ExportProblem

	if module.ExportedMemory(names.Memory) == nil {
		problems = append(problems, ExportProblem{Role: "memory", Name: names.Memory, Reason: "not exported"})
	}

	lookup := func(role, name string, want funcSignature) api.Function {
		fn := module.ExportedFunction(name)
		if fn == nil {
			problems = append(problems, ExportProblem{Role: role, Name: name, Reason: "not exported"})
			return nil
		}
		def := fn.Definition()
		got := funcSignature{params: def.ParamTypes(), results: def.ResultTypes()}
		if !slices.Equal(got.params, want.params) || !slices.Equal(got.results, want.results) {
			problems = append(problems, ExportProblem{
				Role:   role,
				Name:   name,
				Reason: fmt.Sprintf("signature %s, want %s", got, want),
			})
			return nil
		}
		return fn
	}

	resolved := &resolvedExports{
		stackAdjust: lookup("stack_adjust", names.StackAdjust, stackAdjustSignature),
		allocate:    lookup("allocate", names.Allocate, allocateSignature),
		solve:       lookup("solve", names.Solve, solveSignature),
	}

	if len(problems) > 0 {
		return nil, &MissingExportsError{ModuleName: moduleName, Problems: problems}
	}
	return resolved, nil
}
