package coderunner

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse is returned when a response body cannot be decoded.
	ErrMalformedResponse = errors.New("coderunner: malformed response")

	// ErrUnknownStatus is returned when Check reports a status outside
	// RUNNING, FINISHED and NONEXISTENT.
	ErrUnknownStatus = errors.New("coderunner: unknown execution status")

	// ErrEmptyID is returned when Submit or Problems.Try gets an empty
	// execution id back.
	ErrEmptyID = errors.New("coderunner: empty execution id")
)

// APIError is returned when the API responds with a non-success status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coderunner: HTTP %d: %s", e.StatusCode, e.Message)
}
