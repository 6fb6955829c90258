package code

import (
	"context"
	"errors"
)

// ErrUnsupportedLanguage is returned for a language tag no provider knows.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Request is a single program to run.
type Request struct {
	SourceCode string
	Language   string
	Stdin      string
}

// Result is the outcome of a single code execution. Success is false when
// the program failed to compile, crashed or timed out.
type Result struct {
	Token      string
	Success    bool
	RuntimeMs  float64
	Output     string
	Error      string
	ExitStatus string
	Memory     int
}

// Provider defines the interface each code execution provider must implement.
type Provider interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}
