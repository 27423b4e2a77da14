// Package cerr defines the error taxonomy used across converge: a closed
// set of error kinds, each wrapped in a single Error type that supports
// errors.Is and errors.As.
package cerr

import "fmt"

// Kind is one of the error kinds enumerated in the taxonomy.
type Kind string

const (
	// initialization
	KindMissingInit   Kind = "missing-init"
	KindWrongInit     Kind = "wrong-init"
	KindFailedInit    Kind = "failed-init"
	KindFailedTCPBind Kind = "failed-tcp-bind"

	// parsing
	KindFailureToParseContent Kind = "failure-to-parse-content"
	KindTooManyModules        Kind = "too-many-modules"
	KindNoModule              Kind = "no-module"

	// runtime
	KindFailureToRunCommand    Kind = "failure-to-run-command"
	KindFailureToEstablishConn Kind = "failure-to-establish-connection"
	KindConnectionLost         Kind = "connection-lost"
	KindAuthRejected           Kind = "auth-rejected"
	KindSpawnFailed            Kind = "spawn-failed"
	KindHostUnreachable        Kind = "host-unreachable"
	KindUnsupportedOnHost      Kind = "unsupported-on-host"
	KindPositionOutOfRange     Kind = "position-out-of-range"

	// semantic
	KindFailedTaskDryRun       Kind = "failed-task-dry-run"
	KindFailedDryRunEvaluation Kind = "failed-dry-run-evaluation"

	// workflow
	KindWorkflowNotFollowed Kind = "workflow-not-followed"
)

// Error is the single error type carrying a taxonomy Kind, a message and
// an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, so that
// errors.Is(err, cerr.New(cerr.KindHostUnreachable, "")) works as a
// sentinel-style check against the kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind, wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinel returns a zero-message Error of the given kind, suitable only
// as an errors.Is comparison target.
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }
