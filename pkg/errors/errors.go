// Package errors defines the structured error taxonomy shared by every
// component: a kind, a user-facing message, a technical detail, whether
// the failure is recoverable by the user, and an optional suggested
// action.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an AppError into one of the taxonomy buckets a
// command handler or the tray collaborator can key its behavior on.
type Kind string

const (
	KindAuthentication  Kind = "AUTHENTICATION"
	KindNetwork         Kind = "NETWORK"
	KindBinaryExecution Kind = "BINARY_EXECUTION"
	KindConfiguration   Kind = "CONFIGURATION"
	KindFileSystem      Kind = "FILE_SYSTEM"
	KindProcessMonitor  Kind = "PROCESS_MONITORING"
	KindTunnel          Kind = "TUNNEL"
	KindHealthCheck     Kind = "HEALTH_CHECK"
	KindSystemResource  Kind = "SYSTEM_RESOURCE"
	KindInternal        Kind = "INTERNAL"
)

// ActionDemanding reports whether this kind should surface a blocking
// dialog to the operator rather than a passive notification.
func (k Kind) ActionDemanding() bool {
	switch k {
	case KindAuthentication, KindBinaryExecution, KindConfiguration, KindTunnel, KindSystemResource:
		return true
	default:
		return false
	}
}

// AppError is the structured error value that crosses component
// boundaries. Err carries the wrapped technical cause; Message is
// user-facing; Recoverable indicates the user can resolve it (e.g. by
// re-authenticating); SuggestedAction is a short imperative string.
type AppError struct {
	Kind            Kind
	Message         string
	Detail          string
	Recoverable     bool
	SuggestedAction string
	Err             error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New builds an AppError of the given kind with no wrapped cause.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap builds an AppError of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: cause}
}

// WithDetail attaches a technical detail string and returns the receiver.
func (e *AppError) WithDetail(detail string) *AppError {
	e.Detail = detail
	return e
}

// WithAction attaches a suggested remediation and returns the receiver.
func (e *AppError) WithAction(action string) *AppError {
	e.SuggestedAction = action
	return e
}

// WithRecoverable sets the recoverability flag and returns the receiver.
func (e *AppError) WithRecoverable(recoverable bool) *AppError {
	e.Recoverable = recoverable
	return e
}

// Is reports whether err is an AppError of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// FileIOError builds a FileSystem-kind error carrying the path and
// operation that failed.
func FileIOError(path, op string, cause error) *AppError {
	return Wrap(KindFileSystem, fmt.Sprintf("%s failed for %s", op, path), cause).
		WithDetail(fmt.Sprintf("path=%s op=%s", path, op))
}
