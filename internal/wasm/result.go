package wasm

import (
	"math"
)

// maxExactInteger is the largest integer a float64 represents without gaps.
const maxExactInteger = 1 << 53

// Result is the outcome of one solve call.
type Result struct {
	// Found is false when the artifact reported no solution.
	Found bool
	// Value is the nonce when Found is true.
	Value int64
}

// NoSolution is the result for a zero status.
func NoSolution() Result {
	return Result{}
}

// Solution is the result for a nonzero status.
func Solution(value int64) Result {
	return Result{Found: true, Value: value}
}

// decodeResult turns the raw (status, value) pair written into the return
// slot into a Result. The value is floored; negative or non-finite values
// are rejected. inexact is set when the floored value exceeds 2^53 and may
// already have lost precision in the guest.
func decodeResult(status int32, value float64) (res Result, inexact bool, err error) {
	if status == 0 {
		return NoSolution(), false, nil
	}

	switch {
	case math.IsNaN(value):
		return Result{}, false, &ResultDecodeError{Status: status, Value: value, Reason: "value is NaN"}
	case math.IsInf(value, 0):
		return Result{}, false, &ResultDecodeError{Status: status, Value: value, Reason: "value is infinite"}
	}

	floored := math.Floor(value)
	if floored < 0 {
		return Result{}, false, &ResultDecodeError{Status: status, Value: value, Reason: "value is negative"}
	}
	if floored >= math.MaxInt64 {
		return Result{}, false, &ResultDecodeError{Status: status, Value: value, Reason: "value overflows int64"}
	}

	return Solution(int64(floored)), floored > maxExactInteger, nil
}
