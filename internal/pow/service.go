// Package pow turns proof-of-work challenges into encoded answers.
package pow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/woxQAQ/deepseek-pow/internal/metrics"
	"github.com/woxQAQ/deepseek-pow/internal/wasm"
	"github.com/woxQAQ/deepseek-pow/pkg/protocol"
)

// DefaultAlgorithm is the only algorithm the reference artifact implements.
const DefaultAlgorithm = "DeepSeekHashV1"

var tracer = otel.Tracer("github.com/woxQAQ/deepseek-pow/internal/pow")

// Solver runs the opaque hash search for one challenge.
type Solver interface {
	Solve(ctx context.Context, challenge, prefix string, difficulty float64) (wasm.Result, error)
}

// SolverProvider selects the solver for an algorithm.
type SolverProvider interface {
	SolverFor(ctx context.Context, algorithm string) (Solver, error)
}

// ChallengeFetcher obtains a fresh challenge from the remote service.
type ChallengeFetcher interface {
	FetchChallenge(ctx context.Context, targetPath string) (*protocol.Challenge, error)
}

// EncodedAnswer is base64(JSON(protocol.Answer)), ready for the
// x-ds-pow-response header.
type EncodedAnswer string

// Service validates challenges, derives the solve prefix, runs the solver
// and encodes the answer.
type Service struct {
	provider  SolverProvider
	fetcher   ChallengeFetcher
	supported []string
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithFetcher enables Respond.
func WithFetcher(f ChallengeFetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithMetrics records solve outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a Service accepting the given algorithms. An empty set
// means DefaultAlgorithm only.
func NewService(provider SolverProvider, supported []string, logger *zap.Logger, opts ...Option) *Service {
	if len(supported) == 0 {
		supported = []string{DefaultAlgorithm}
	}
	s := &Service{
		provider:  provider,
		supported: slices.Clone(supported),
		logger:    logger.With(zap.String("component", "pow")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Supports reports whether algorithm is in the supported set.
func (s *Service) Supports(algorithm string) bool {
	return slices.Contains(s.supported, algorithm)
}

// DerivePrefix returns salt + "_" + expire_at + "_".
func DerivePrefix(c *protocol.Challenge) string {
	return c.Salt + "_" + c.ExpireAt.String() + "_"
}

// SolveChallenge solves c and returns the encoded answer. An unsupported
// algorithm fails before any solver is touched; a module reporting no
// solution fails with SolveFailedError.
func (s *Service) SolveChallenge(ctx context.Context, c *protocol.Challenge) (_ EncodedAnswer, retErr error) {
	ctx, span := tracer.Start(ctx, "pow.SolveChallenge")
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if c == nil {
		return "", &InvalidChallengeError{Err: errors.New("challenge is nil")}
	}
	if !s.Supports(c.Algorithm) {
		s.metrics.ObserveSolve(c.Algorithm, metrics.OutcomeUnsupported, 0)
		return "", &UnsupportedAlgorithmError{Algorithm: c.Algorithm, Supported: s.supported}
	}
	if err := c.Validate(); err != nil {
		return "", &InvalidChallengeError{Err: err}
	}
	difficulty, err := c.Difficulty.Float64()
	if err != nil {
		return "", &InvalidChallengeError{Err: err}
	}
	span.SetAttributes(
		attribute.String("pow.algorithm", c.Algorithm),
		attribute.Float64("pow.difficulty", difficulty),
		attribute.String("pow.target_path", c.TargetPath),
	)

	solver, err := s.provider.SolverFor(ctx, c.Algorithm)
	if err != nil {
		return "", err
	}

	prefix := DerivePrefix(c)
	logger := s.logger.With(
		zap.String("algorithm", c.Algorithm),
		zap.String("challenge", c.Challenge),
		zap.Float64("difficulty", difficulty),
	)
	logger.Debug("Solving challenge", zap.String("prefix", prefix))

	start := time.Now()
	res, err := solver.Solve(ctx, c.Challenge, prefix, difficulty)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.ObserveSolve(c.Algorithm, metrics.OutcomeError, elapsed)
		logger.Error("Solver failed", zap.Error(err))
		return "", fmt.Errorf("solve %s challenge: %w", c.Algorithm, err)
	}
	if !res.Found {
		s.metrics.ObserveSolve(c.Algorithm, metrics.OutcomeNoSolution, elapsed)
		logger.Warn("Solver found no solution", zap.Duration("duration", elapsed))
		return "", &SolveFailedError{Algorithm: c.Algorithm, Challenge: c.Challenge, Difficulty: difficulty}
	}
	s.metrics.ObserveSolve(c.Algorithm, metrics.OutcomeSolved, elapsed)
	span.AddEvent("solved", trace.WithAttributes(attribute.Int64("pow.answer", res.Value)))

	logger.Info("Challenge solved",
		zap.Int64("answer", res.Value),
		zap.Duration("duration", elapsed),
	)

	return EncodeAnswer(protocol.NewAnswer(c, res.Value))
}

// Respond fetches a challenge for targetPath and solves it. It makes a
// single attempt.
func (s *Service) Respond(ctx context.Context, targetPath string) (EncodedAnswer, error) {
	if s.fetcher == nil {
		return "", ErrNoFetcher
	}
	ctx, span := tracer.Start(ctx, "pow.Respond", trace.WithAttributes(attribute.String("pow.target_path", targetPath)))
	defer span.End()

	c, err := s.fetcher.FetchChallenge(ctx, targetPath)
	s.metrics.ObserveFetch(err)
	if err != nil {
		return "", err
	}
	return s.SolveChallenge(ctx, c)
}

// EncodeAnswer serializes a to JSON and base64-encodes it.
func EncodeAnswer(a protocol.Answer) (EncodedAnswer, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to encode answer: %w", err)
	}
	return EncodedAnswer(base64.StdEncoding.EncodeToString(data)), nil
}

// DecodeAnswer reverses EncodeAnswer.
func DecodeAnswer(encoded EncodedAnswer) (protocol.Answer, error) {
	var a protocol.Answer
	data, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return a, fmt.Errorf("failed to decode answer: %w", err)
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("failed to decode answer: %w", err)
	}
	return a, nil
}
