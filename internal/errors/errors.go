// Package errors provides structured error types for Refactory.
// It implements error classification, wrapping, and recovery detection.
package errors

import (
	"errors"
	"fmt"
)

// Kind represents the category of an error.
type Kind uint8

const (
	// KindUnknown indicates an error of unknown type.
	KindUnknown Kind = iota
	// KindConfig indicates a configuration error.
	KindConfig
	// KindPlanning indicates a plan construction error (cycles, unsatisfiable
	// constraints). Surfaced before any file is touched.
	KindPlanning
	// KindApply indicates a write failure while applying a batch.
	KindApply
	// KindVerification indicates a critical behavior difference.
	KindVerification
	// KindTest indicates a failing or timed-out test run.
	KindTest
	// KindApproval indicates a rejected or expired approval request.
	KindApproval
	// KindRollback indicates a rollback verification failure. Never recoverable.
	KindRollback
	// KindVCS indicates a version-control operation error.
	KindVCS
	// KindParse indicates a structural parse error.
	KindParse
	// KindState indicates an invalid state transition.
	KindState
	// KindIO indicates a file I/O error.
	KindIO
	// KindNetwork indicates a network error.
	KindNetwork
	// KindValidation indicates a validation error.
	KindValidation
	// KindNotFound indicates a resource was not found.
	KindNotFound
	// KindConflict indicates a conflict error.
	KindConflict
	// KindTimeout indicates a timeout error.
	KindTimeout
	// KindCanceled indicates the operation was canceled.
	KindCanceled
	// KindInternal indicates an internal error.
	KindInternal
)

// String returns a human-readable string for the error kind.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration"
	case KindPlanning:
		return "planning"
	case KindApply:
		return "apply"
	case KindVerification:
		return "verification"
	case KindTest:
		return "test"
	case KindApproval:
		return "approval"
	case KindRollback:
		return "rollback"
	case KindVCS:
		return "vcs"
	case KindParse:
		return "parse"
	case KindState:
		return "state"
	case KindIO:
		return "io"
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the standard error type for Refactory.
type Error struct {
	// Kind is the category of the error.
	Kind Kind
	// Op is the operation being performed when the error occurred.
	Op string
	// Message is a human-readable error message.
	Message string
	// Err is the underlying error.
	Err error
	// Recoverable indicates if the engine can restore a known-good state
	// and continue (or halt cleanly) after this error.
	Recoverable bool
	// Details contains additional context about the error.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches this error.
// For *Error types, it checks if both the Kind and Op match.
// For sentinel errors (errors without Op), only Kind is compared.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Op == t.Op
}

// WithDetails adds details to the error and returns the modified error.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to the error and returns the modified error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// Newf creates a new Error with the given kind and formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, kind Kind, op string, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, kind Kind, op string, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// GetKind returns the Kind of an error.
// If the error is not an *Error, it returns KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRecoverable returns true if the error is recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable
	}
	return false
}

// IsKind checks if an error is of a specific kind.
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// Common error constructors for frequently used error types.

// Config creates a configuration error.
func Config(op, message string) *Error {
	return &Error{
		Kind:    KindConfig,
		Op:      op,
		Message: message,
	}
}

// ConfigWrap wraps an error as a configuration error.
func ConfigWrap(err error, op, message string) *Error {
	return Wrap(err, KindConfig, op, message)
}

// Planning creates a planning error. Planning errors occur before any file
// is touched, so there is nothing to roll back.
func Planning(op, message string) *Error {
	return &Error{
		Kind:        KindPlanning,
		Op:          op,
		Message:     message,
		Recoverable: true,
	}
}

// PlanningWrap wraps an error as a planning error.
func PlanningWrap(err error, op, message string) *Error {
	e := Wrap(err, KindPlanning, op, message)
	e.Recoverable = true
	return e
}

// Apply creates an apply error (write failure mid-batch).
func Apply(op, message string) *Error {
	return &Error{
		Kind:        KindApply,
		Op:          op,
		Message:     message,
		Recoverable: true,
	}
}

// ApplyWrap wraps an error as an apply error.
func ApplyWrap(err error, op, message string) *Error {
	e := Wrap(err, KindApply, op, message)
	e.Recoverable = true
	return e
}

// Verification creates a verification failure error.
func Verification(op, message string) *Error {
	return &Error{
		Kind:        KindVerification,
		Op:          op,
		Message:     message,
		Recoverable: true,
	}
}

// Test creates a test failure error.
func Test(op, message string) *Error {
	return &Error{
		Kind:        KindTest,
		Op:          op,
		Message:     message,
		Recoverable: true,
	}
}

// TestWrap wraps an error as a test failure.
func TestWrap(err error, op, message string) *Error {
	e := Wrap(err, KindTest, op, message)
	e.Recoverable = true
	return e
}

// Approval creates an approval error (rejected or expired).
func Approval(op, message string) *Error {
	return &Error{
		Kind:        KindApproval,
		Op:          op,
		Message:     message,
		Recoverable: true,
	}
}

// Rollback creates a rollback verification error. This is the only condition
// the engine cannot recover from: the restored files did not match the
// snapshot, so the system can no longer trust its own state.
func Rollback(op, message string) *Error {
	return &Error{
		Kind:    KindRollback,
		Op:      op,
		Message: message,
	}
}

// RollbackWrap wraps an error as a rollback verification error.
func RollbackWrap(err error, op, message string) *Error {
	return Wrap(err, KindRollback, op, message)
}

// VCS creates a version-control error.
func VCS(op, message string) *Error {
	return &Error{
		Kind:    KindVCS,
		Op:      op,
		Message: message,
	}
}

// VCSWrap wraps an error as a version-control error.
func VCSWrap(err error, op, message string) *Error {
	return Wrap(err, KindVCS, op, message)
}

// Parse creates a structural parse error.
func Parse(op, message string) *Error {
	return &Error{
		Kind:    KindParse,
		Op:      op,
		Message: message,
	}
}

// ParseWrap wraps an error as a parse error.
func ParseWrap(err error, op, message string) *Error {
	return Wrap(err, KindParse, op, message)
}

// State creates a state management error.
func State(op, message string) *Error {
	return &Error{
		Kind:    KindState,
		Op:      op,
		Message: message,
	}
}

// Validation creates a validation error.
func Validation(op, message string) *Error {
	return &Error{
		Kind:        KindValidation,
		Op:          op,
		Message:     message,
		Recoverable: true,
	}
}

// NotFound creates a not found error.
func NotFound(op, message string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Kind:    KindConflict,
		Op:      op,
		Message: message,
	}
}

// IO creates an I/O error.
func IO(op, message string) *Error {
	return &Error{
		Kind:    KindIO,
		Op:      op,
		Message: message,
	}
}

// IOWrap wraps an error as an I/O error.
func IOWrap(err error, op, message string) *Error {
	return Wrap(err, KindIO, op, message)
}

// Timeout creates a timeout error.
func Timeout(op, message string) *Error {
	return &Error{
		Kind:        KindTimeout,
		Op:          op,
		Message:     message,
		Recoverable: true,
	}
}

// TimeoutWrap wraps an error as a timeout error.
func TimeoutWrap(err error, op, message string) *Error {
	e := Wrap(err, KindTimeout, op, message)
	e.Recoverable = true
	return e
}

// Internal creates an internal error.
func Internal(op, message string) *Error {
	return &Error{
		Kind:    KindInternal,
		Op:      op,
		Message: message,
	}
}

// InternalWrap wraps an error as an internal error.
func InternalWrap(err error, op, message string) *Error {
	return Wrap(err, KindInternal, op, message)
}
