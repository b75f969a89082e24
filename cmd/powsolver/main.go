package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/woxQAQ/deepseek-pow/internal/app"
	"github.com/woxQAQ/deepseek-pow/internal/config"
	"github.com/woxQAQ/deepseek-pow/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides log_level")
	fetch := flag.Bool("fetch", false, "Fetch one challenge from the service, solve it and print the answer")
	targetPath := flag.String("target-path", "", "Path the fetched challenge protects; defaults to pow.target_path")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Initialize logger
	logger, logCloser, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	defer logger.Sync()

	logger.Info("Starting powsolver",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	if err := run(cfg, logger, *fetch, *targetPath); err != nil {
		logger.Error("powsolver failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger, fetch bool, targetPath string) error {
	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("Failed to close solver service", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	workCtx, workDone := context.WithCancel(gctx)
	defer workDone()

	g.Go(func() error {
		return a.ServeMetrics(workCtx)
	})

	g.Go(func() error {
		// The metrics server stops with the work.
		defer workDone()

		if fetch {
			answer, err := a.Fetch(workCtx, targetPath)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(os.Stdout, answer)
			return err
		}
		return a.ServeStdio(workCtx, os.Stdin, os.Stdout)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("Received shutdown signal")
		return nil
	}
	return err
}
