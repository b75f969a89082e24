// Package app wires configuration, the solver runtime, the challenge client
// and the pow service into one process.
package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/woxQAQ/deepseek-pow/internal/client"
	"github.com/woxQAQ/deepseek-pow/internal/config"
	"github.com/woxQAQ/deepseek-pow/internal/metrics"
	"github.com/woxQAQ/deepseek-pow/internal/pow"
	"github.com/woxQAQ/deepseek-pow/internal/solver"
	"github.com/woxQAQ/deepseek-pow/internal/wasm"
	"github.com/woxQAQ/deepseek-pow/pkg/protocol"
)

// maxLineSize bounds a single challenge line on stdin.
const maxLineSize = 1 << 20

type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	solvers  *solver.Manager
	service  *pow.Service
}

// Response is one line of output per input challenge.
type Response struct {
	Answer pow.EncodedAnswer `json:"answer,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return nil, err
	}

	// Initialize Wasm runtime.
	runtime, err := wasm.NewRuntime(ctx, logger, cfg.Wasm.RuntimeConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	solvers := solver.NewManager(cfg, runtime, m, logger)
	if err := solvers.LoadAll(ctx); err != nil {
		if closeErr := runtime.Close(ctx); closeErr != nil {
			logger.Warn("Failed to close runtime", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to load solvers: %w", err)
	}

	opts := []pow.Option{pow.WithMetrics(m)}
	cl, err := client.New(cfg.Client.BaseURL, cfg.Client.Token, cfg.Client.Timeout, logger,
		client.WithRateLimit(cfg.Client.RateLimit, cfg.Client.Burst),
	)
	if err != nil {
		logger.Warn("Challenge client disabled", zap.Error(err))
	} else {
		opts = append(opts, pow.WithFetcher(cl))
	}

	service := pow.NewService(solvers, cfg.Pow.SupportedAlgorithms, logger, opts...)

	logger.Info("Solver service initialized",
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
		zap.String("wasm_cache_dir", cfg.Wasm.CacheDir),
		zap.Duration("wasm_execution_timeout", cfg.Wasm.ExecutionTimeout),
		zap.Strings("algorithms", solvers.Registry().Algorithms()),
	)

	return &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		solvers:  solvers,
		service:  service,
	}, nil
}

// Service returns the pow service.
func (a *App) Service() *pow.Service {
	return a.service
}

// Gatherer exposes the process metrics registry.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.registry
}

// ServeMetrics serves /metrics until ctx is done. It returns immediately
// when metrics are disabled.
func (a *App) ServeMetrics(ctx context.Context) error {
	if !a.cfg.MetricsEnabled {
		return nil
	}
	return metrics.Serve(ctx, ":"+strconv.Itoa(a.cfg.MetricsPort), a.registry, a.logger)
}

// Fetch obtains a challenge for targetPath and solves it. An empty
// targetPath uses pow.target_path.
func (a *App) Fetch(ctx context.Context, targetPath string) (pow.EncodedAnswer, error) {
	if targetPath == "" {
		targetPath = a.cfg.Pow.TargetPath
	}
	return a.service.Respond(ctx, targetPath)
}

// ServeStdio reads one JSON challenge per line from in and writes one
// Response per line to out, in input order. Blank lines are skipped. A
// failed challenge produces an error line; it does not stop the loop.
func (a *App) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if err := enc.Encode(a.handleLine(ctx, line)); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
		}
	}
}

func (a *App) handleLine(ctx context.Context, line []byte) Response {
	var c protocol.Challenge
	if err := json.Unmarshal(line, &c); err != nil {
		a.logger.Warn("Rejected malformed challenge line", zap.Error(err))
		return Response{Error: fmt.Sprintf("invalid challenge: %v", err)}
	}

	answer, err := a.service.SolveChallenge(ctx, &c)
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Answer: answer}
}

// Close waits for in-flight solves and releases the runtime.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("Shutting down solver service")

	if err := a.solvers.Shutdown(ctx); err != nil {
		a.logger.Error("Failed to shutdown solvers", zap.Error(err))
		return err
	}

	a.logger.Info("Solver service shutdown complete")
	return nil
}
