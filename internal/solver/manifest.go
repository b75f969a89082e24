package solver

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/woxQAQ/deepseek-pow/internal/wasm"
)

// ManifestFile is the file name looked up in every solver directory.
const ManifestFile = "manifest.yaml"

// Manifest represents the solver manifest.yaml structure.
type Manifest struct {
	Name       string     `yaml:"name"`
	Version    string     `yaml:"version"`
	Algorithms []string   `yaml:"algorithms"`
	Wasm       WasmConfig `yaml:"wasm"`
	Author     string     `yaml:"author"`
	License    string     `yaml:"license"`

	// Internal fields
	dir string // Directory containing manifest
}

// WasmConfig holds Wasm artifact configuration.
type WasmConfig struct {
	File    string           `yaml:"file"`
	Exports wasm.ExportNames `yaml:"exports"`
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir
	m.Wasm.Exports = m.Wasm.Exports.WithDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// InlineManifest describes a bare artifact configured without a manifest.
func InlineManifest(name, wasmPath, algorithm string, exports wasm.ExportNames) *Manifest {
	return &Manifest{
		Name:       name,
		Version:    "0.0.0",
		Algorithms: []string{algorithm},
		Wasm: WasmConfig{
			File:    filepath.Base(wasmPath),
			Exports: exports.WithDefaults(),
		},
		dir: filepath.Dir(wasmPath),
	}
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: "name is required",
		}
	}

	if m.Version == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "version",
			Message: "version is required",
		}
	}

	if len(m.Algorithms) == 0 {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "algorithms",
			Message: "at least one algorithm is required",
		}
	}
	for _, alg := range m.Algorithms {
		if alg == "" {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   "algorithms",
				Message: "algorithm names must not be empty",
			}
		}
	}

	if m.Wasm.File == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "wasm.file",
			Message: "wasm.file is required",
		}
	}

	if _, err := os.Stat(m.WasmPath()); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// WasmPath returns the path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
