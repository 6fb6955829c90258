package session

import "errors"

var (
	// ErrNotFound matches failures where the remote side has no record of
	// the execution id.
	ErrNotFound = errors.New("session: execution not found")

	// ErrCancelled matches sessions stopped by the user.
	ErrCancelled = errors.New("session: execution terminated by user")

	// ErrTransport matches network and protocol failures.
	ErrTransport = errors.New("session: transport failure")

	// ErrClosed is returned once the controller has been shut down.
	ErrClosed = errors.New("session: controller closed")
)

// ErrorKind classifies why a session ended without a result.
type ErrorKind int

const (
	TransportFailure ErrorKind = iota + 1
	NotFound
	UserCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case TransportFailure:
		return "transport_failure"
	case NotFound:
		return "not_found"
	case UserCancelled:
		return "user_cancelled"
	default:
		return "unknown"
	}
}

// Error explains a Cancelled or TransportError session.
type Error struct {
	Kind    ErrorKind
	Message string
	// Err is the underlying transport error, if any.
	Err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *Error against the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == NotFound
	case ErrCancelled:
		return e.Kind == UserCancelled
	case ErrTransport:
		return e.Kind == TransportFailure
	}
	return false
}

func (e *Error) clone() *Error {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func cancelledError() *Error {
	return &Error{Kind: UserCancelled, Message: "Execution terminated by user"}
}

func notFoundError() *Error {
	return &Error{Kind: NotFound, Message: "Execution Error: Process not found"}
}

func submitError(err error) *Error {
	return &Error{Kind: TransportFailure, Message: "Network Error: " + err.Error(), Err: err}
}

func pollError(err error) *Error {
	return &Error{Kind: TransportFailure, Message: "Polling Error: " + err.Error(), Err: err}
}
