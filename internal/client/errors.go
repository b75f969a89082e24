package client

import (
	"errors"
	"fmt"
)

var (
	ErrRequestFailed   = errors.New("challenge request failed")
	ErrInvalidResponse = errors.New("invalid challenge response")
)

// RequestError occurs when the request could not be sent or the response
// could not be read.
type RequestError struct {
	URL string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request to '%s' failed: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func (e *RequestError) Is(target error) bool {
	return target == ErrRequestFailed
}

// StatusError occurs when the service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("challenge request returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("challenge request returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRequestFailed
}

// APIError occurs when the response envelope carries a non-zero code.
type APIError struct {
	Code    int
	Message string
	Biz     bool // the code came from data.biz_code
}

func (e *APIError) Error() string {
	field := "code"
	if e.Biz {
		field = "biz_code"
	}
	return fmt.Sprintf("challenge service returned %s %d: %s", field, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrRequestFailed
}

// DecodeError occurs when the response body is not the expected envelope.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode challenge response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrInvalidResponse
}
