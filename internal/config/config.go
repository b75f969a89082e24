package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/woxQAQ/deepseek-pow/internal/wasm"
)

// EnvPrefix prefixes every environment override, e.g. POWSOLVER_LOG_LEVEL
// or POWSOLVER_WASM_MODULE_PATH.
const EnvPrefix = "POWSOLVER"

// TokenEnv is read as the API token when client.token is not set otherwise.
const TokenEnv = "DEEPSEEK_TOKEN"

type Config struct {
	SolverPaths    []string     `mapstructure:"solver_paths"`
	LogLevel       string       `mapstructure:"log_level"`
	LogFile        string       `mapstructure:"log_file"`
	MetricsEnabled bool         `mapstructure:"metrics_enabled"`
	MetricsPort    int          `mapstructure:"metrics_port"`
	Wasm           WasmConfig   `mapstructure:"wasm"`
	Pow            PowConfig    `mapstructure:"pow"`
	Client         ClientConfig `mapstructure:"client"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Verify stack balance after every solve.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory. Empty disables the on-disk cache.
	CacheDir string `mapstructure:"cache_dir"`
	// Upper bound on a single solve. Zero disables it.
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	// Artifact registered without a manifest. Empty disables it.
	ModulePath string `mapstructure:"module_path"`
	// Algorithm served by ModulePath.
	Algorithm string `mapstructure:"algorithm"`
	// Export names of ModulePath.
	Exports wasm.ExportNames `mapstructure:"exports"`
}

// PowConfig holds orchestrator configuration.
type PowConfig struct {
	SupportedAlgorithms []string `mapstructure:"supported_algorithms"`
	TargetPath          string   `mapstructure:"target_path"`
}

// ClientConfig holds challenge client configuration.
type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Requests per second. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// RuntimeConfig converts the wasm section to runtime settings.
func (c WasmConfig) RuntimeConfig() *wasm.RuntimeConfig {
	return &wasm.RuntimeConfig{
		MemoryPages:      c.MemoryPages,
		DebugEnabled:     c.Debug,
		CacheDir:         c.CacheDir,
		ExecutionTimeout: c.ExecutionTimeout,
	}
}

func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("solver_paths", []string{"./solvers"})
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_port", 9090)

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.execution_timeout", "60s")
	v.SetDefault("wasm.module_path", "./wasm/sha3_wasm_bg.7b9ca65ddd.wasm")
	v.SetDefault("wasm.algorithm", "DeepSeekHashV1")
	defaults := wasm.DefaultExportNames()
	v.SetDefault("wasm.exports.memory", defaults.Memory)
	v.SetDefault("wasm.exports.stack_adjust", defaults.StackAdjust)
	v.SetDefault("wasm.exports.allocate", defaults.Allocate)
	v.SetDefault("wasm.exports.solve", defaults.Solve)

	v.SetDefault("pow.supported_algorithms", []string{"DeepSeekHashV1"})
	v.SetDefault("pow.target_path", "/api/v0/chat/completion")

	v.SetDefault("client.base_url", "https://chat.deepseek.com")
	v.SetDefault("client.token", "")
	v.SetDefault("client.timeout", "30s")
	v.SetDefault("client.rate_limit", 0)
	v.SetDefault("client.burst", 1)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("client.token", EnvPrefix+"_CLIENT_TOKEN", TokenEnv); err != nil {
		return nil, err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	if c.MetricsEnabled && (c.MetricsPort <= 0 || c.MetricsPort > 65535) {
		return fmt.Errorf("invalid metrics_port %d", c.MetricsPort)
	}
	if c.Wasm.MemoryPages == 0 || c.Wasm.MemoryPages > 65536 {
		return fmt.Errorf("invalid wasm.memory_pages %d (must be 1-65536)", c.Wasm.MemoryPages)
	}
	if c.Wasm.ExecutionTimeout < 0 {
		return fmt.Errorf("invalid wasm.execution_timeout %v", c.Wasm.ExecutionTimeout)
	}
	if c.Wasm.ModulePath != "" && c.Wasm.Algorithm == "" {
		return fmt.Errorf("wasm.algorithm is required when wasm.module_path is set")
	}
	if len(c.Pow.SupportedAlgorithms) == 0 {
		return fmt.Errorf("pow.supported_algorithms must not be empty")
	}
	if c.Client.RateLimit < 0 {
		return fmt.Errorf("invalid client.rate_limit %v", c.Client.RateLimit)
	}
	if _, err := url.ParseRequestURI(c.Client.BaseURL); err != nil {
		return fmt.Errorf("invalid client.base_url %q: %w", c.Client.BaseURL, err)
	}
	return nil
}
