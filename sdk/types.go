package coderunner

import (
	"fmt"
	"strings"
)

// --- Executions ---

// Submission is the body of POST /submit.
type Submission struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Problem  string `json:"problem"`
	Input    string `json:"input"`
}

// Status is the execution state reported by POST /check.
type Status int

const (
	StatusRunning Status = iota + 1
	StatusFinished
	StatusNonexistent
)

// Wire names of the statuses.
const (
	wireRunning     = "RUNNING"
	wireFinished    = "FINISHED"
	wireNonexistent = "NONEXISTENT"
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return wireRunning
	case StatusFinished:
		return wireFinished
	case StatusNonexistent:
		return wireNonexistent
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ParseStatus maps a wire status string onto Status. Unrecognised values
// yield ErrUnknownStatus.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case wireRunning:
		return StatusRunning, nil
	case wireFinished:
		return StatusFinished, nil
	case wireNonexistent:
		return StatusNonexistent, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// CheckResponse is returned by POST /check. The result fields are only
// meaningful when Status is StatusFinished.
type CheckResponse struct {
	Status     Status
	Success    bool
	Runtime    float64 // milliseconds
	Output     string
	Error      string
	ExitStatus string
	// Results holds one entry per test case for a problem run.
	Results []CaseResult
}

// checkWire is the JSON shape of a /check reply.
type checkWire struct {
	Status     string       `json:"status"`
	Success    bool         `json:"success"`
	Runtime    float64      `json:"runtime"`
	Output     string       `json:"output"`
	Error      string       `json:"error"`
	ExitStatus string       `json:"exitStatus"`
	Results    []CaseResult `json:"results"`
}

// --- Problems ---

// TestCase is one input and the output a correct program prints for it.
type TestCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Problem is a named exercise judged on its test cases.
type Problem struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	TestCases   []TestCase `json:"test cases"`
}

// ProblemSubmission is the body of POST /try_problem.
type ProblemSubmission struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Problem  string `json:"problem"`
}

// CaseResult is the outcome of one test case.
type CaseResult struct {
	Input      string  `json:"input"`
	Expected   string  `json:"expected"`
	Passed     bool    `json:"passed"`
	Success    bool    `json:"success"`
	Runtime    float64 `json:"runtime"`
	Output     string  `json:"output"`
	Error      string  `json:"error"`
	ExitStatus string  `json:"exitStatus"`
}

// TrialResult is returned by POST /try_problem. When Status is
// StatusRunning the verdict was not ready in time; poll Check with ID.
type TrialResult struct {
	ID         string
	Status     Status
	Success    bool
	ExitStatus string
	Results    []CaseResult
}

type trialWire struct {
	ID         string       `json:"id"`
	Status     string       `json:"status"`
	Success    bool         `json:"success"`
	ExitStatus string       `json:"exitStatus"`
	Results    []CaseResult `json:"results"`
}

// --- Helper ---

// Chat roles understood by the code helper.
const (
	RoleSystem = "system"
	RoleUser   = "user"
	RoleAgent  = "agent"
)

// ChatMessage is one entry of a code-helper conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResult is the last run result shared with the code helper.
type ChatResult struct {
	Success    bool    `json:"success"`
	Runtime    float64 `json:"runtime"`
	Output     string  `json:"output"`
	Error      string  `json:"error"`
	ExitStatus string  `json:"exitStatus"`
	Status     string  `json:"status,omitempty"`
}

// ChatRequest is the body of POST /llm/message.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Code     Submission    `json:"code"`
	Result   *ChatResult   `json:"result"`
}
