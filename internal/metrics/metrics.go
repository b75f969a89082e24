// Package metrics exposes solver counters through Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "powsolver"

// Solve outcomes.
const (
	OutcomeSolved      = "solved"
	OutcomeNoSolution  = "no_solution"
	OutcomeUnsupported = "unsupported"
	OutcomeError       = "error"
)

// Metrics holds the solver collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	solves        *prometheus.CounterVec
	solveDuration *prometheus.HistogramVec
	reinits       *prometheus.CounterVec
	fetches       *prometheus.CounterVec
}

// New creates the collectors and registers them with registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solves_total",
			Help:      "number of solve attempts by algorithm and outcome",
		}, []string{"algorithm", "outcome"}),
		solveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "time spent inside the solver module",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"algorithm"}),
		reinits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_reinits_total",
			Help:      "number of solver instances replaced after a failed call",
		}, []string{"solver"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenge_fetches_total",
			Help:      "number of challenge fetches by result",
		}, []string{"result"}),
	}

	err := errors.Join(
		registerer.Register(m.solves),
		registerer.Register(m.solveDuration),
		registerer.Register(m.reinits),
		registerer.Register(m.fetches),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return m, nil
}

// ObserveSolve records one solve attempt.
func (m *Metrics) ObserveSolve(algorithm, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.solves.WithLabelValues(algorithm, outcome).Inc()
	if outcome == OutcomeSolved || outcome == OutcomeNoSolution {
		m.solveDuration.WithLabelValues(algorithm).Observe(d.Seconds())
	}
}

// IncReinit records a replaced solver instance.
func (m *Metrics) IncReinit(solver string) {
	if m == nil {
		return
	}
	m.reinits.WithLabelValues(solver).Inc()
}

// ObserveFetch records a challenge fetch.
func (m *Metrics) ObserveFetch(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(result).Inc()
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	logger = logger.With(zap.String("component", "metrics"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		logger.Info("Shutting down metrics server")
		return srv.Shutdown(shutdownCtx)
	}
}
