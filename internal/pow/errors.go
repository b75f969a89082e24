package pow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported pow algorithm")
	ErrSolveFailed          = errors.New("pow solver found no solution")
	ErrInvalidChallenge     = errors.New("invalid pow challenge")
	ErrNoFetcher            = errors.New("no challenge fetcher configured")
)

// UnsupportedAlgorithmError occurs when a challenge names an algorithm
// outside the supported set. The module is never invoked.
type UnsupportedAlgorithmError struct {
	Algorithm string
	Supported []string
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported algorithm '%s' (supported: %s)",
		e.Algorithm, strings.Join(e.Supported, ", "))
}

func (e *UnsupportedAlgorithmError) Is(target error) bool {
	return target == ErrUnsupportedAlgorithm
}

// SolveFailedError occurs when the module reports no solution. Callers are
// expected to request a fresh challenge.
type SolveFailedError struct {
	Algorithm  string
	Challenge  string
	Difficulty float64
}

func (e *SolveFailedError) Error() string {
	return fmt.Sprintf("no solution for %s challenge '%s' at difficulty %v",
		e.Algorithm, e.Challenge, e.Difficulty)
}

func (e *SolveFailedError) Is(target error) bool {
	return target == ErrSolveFailed
}

// InvalidChallengeError occurs when a challenge is missing fields the
// solver needs.
type InvalidChallengeError struct {
	Err error
}

func (e *InvalidChallengeError) Error() string {
	return fmt.Sprintf("invalid challenge: %v", e.Err)
}

func (e *InvalidChallengeError) Unwrap() error {
	return e.Err
}

func (e *InvalidChallengeError) Is(target error) bool {
	return target == ErrInvalidChallenge
}
