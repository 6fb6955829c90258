package session

import (
	"fmt"

	"github.com/google/uuid"

	coderunner "github.com/gsarma/coderunner/sdk"
)

// Status is the lifecycle state of an execution session.
type Status int

const (
	Idle Status = iota
	Submitting
	Running
	Finished
	Cancelled
	TransportError
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	case TransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == Finished || s == Cancelled || s == TransportError
}

// Active reports whether a run is in flight.
func (s Status) Active() bool {
	return s == Submitting || s == Running
}

// Submission is the input of one run, copied when the run is submitted.
type Submission struct {
	Code     string
	Language string
	Problem  string
	Stdin    string
}

func (s Submission) wire() coderunner.Submission {
	return coderunner.Submission{
		Code:     s.Code,
		Language: s.Language,
		Problem:  s.Problem,
		Input:    s.Stdin,
	}
}

// Result is what the remote worker reported for a finished run. Success is
// false when the program itself failed to compile or run.
type Result struct {
	Success    bool
	RuntimeMs  float64
	Output     string
	ErrorText  string
	ExitStatus string
}

// Snapshot is a read-only view of a session at one point in time.
type Snapshot struct {
	// Key identifies the local session; it is zero while Idle.
	Key uuid.UUID
	// ExecutionID is the remote identifier, empty until the submit succeeds.
	ExecutionID     string
	Status          Status
	Submission      Submission
	Result          *Result
	Err             *Error
	CancelRequested bool
	// Seq increases with every transition the controller publishes.
	Seq uint64
}

// Message returns a human-readable summary of a terminal snapshot.
func (s Snapshot) Message() string {
	switch {
	case s.Err != nil:
		return s.Err.Message
	case s.Result == nil:
		return ""
	case s.Result.ExitStatus != "":
		return s.Result.ExitStatus
	case s.Result.Success:
		return "Execution completed successfully"
	default:
		return "Execution failed"
	}
}
