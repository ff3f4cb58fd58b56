package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes repository errors.
type ErrorKind string

const (
	// ErrBadRequest indicates malformed input or a failed publish-severity validation.
	ErrBadRequest ErrorKind = "BadRequest"

	// ErrNotFound indicates an unknown entity, version, schema version or lock.
	ErrNotFound ErrorKind = "NotFound"

	// ErrConflict indicates an optimistic-concurrency loss, a unique index
	// collision or an advisory lock already held.
	ErrConflict ErrorKind = "Conflict"

	// ErrNotAuthorized indicates the authorization adapter rejected a key.
	ErrNotAuthorized ErrorKind = "NotAuthorized"

	// ErrGeneric indicates an unexpected storage failure or an unsupported
	// migration action.
	ErrGeneric ErrorKind = "Generic"
)

// Severity tells which operation a validation issue blocks.
type Severity string

const (
	// SeveritySave issues are stored but mark the version invalid.
	SeveritySave Severity = "save"

	// SeverityPublish issues block publishing.
	SeverityPublish Severity = "publish"
)

// ValidationIssue is a single problem found in an entity's field values.
type ValidationIssue struct {
	Path     Path     `json:"path"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s (%s)", i.Path, i.Message, i.Severity)
}

// Error is the tagged error returned by every repository operation.
//
// Error includes the offending identity (entity id, version, lock name) in
// Details so callers can decide whether to retry.
type Error struct {
	Kind    ErrorKind
	Message string
	Issues  []ValidationIssue
	Details map[string]string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, issue := range e.Issues {
		b.WriteString("\n  ")
		b.WriteString(issue.String())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// With attaches a detail and returns the error for chaining.
func (e *Error) With(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// NewBadRequest creates a BadRequest error.
func NewBadRequest(format string, args ...any) *Error {
	return &Error{Kind: ErrBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NewValidationFailed creates a BadRequest error carrying validation issues.
func NewValidationFailed(message string, issues []ValidationIssue) *Error {
	return &Error{Kind: ErrBadRequest, Message: message, Issues: issues}
}

// NewNotFound creates a NotFound error.
func NewNotFound(format string, args ...any) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewConflict creates a Conflict error.
func NewConflict(format string, args ...any) *Error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// NewNotAuthorized creates a NotAuthorized error.
func NewNotAuthorized(format string, args ...any) *Error {
	return &Error{Kind: ErrNotAuthorized, Message: fmt.Sprintf(format, args...)}
}

// NewGeneric creates a Generic error wrapping err.
func NewGeneric(err error, format string, args ...any) *Error {
	return &Error{Kind: ErrGeneric, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of a repository error. Errors that are not
// *Error report ErrGeneric; nil reports "".
// Uses errors.As to handle wrapped errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrGeneric
}

// IsKind reports whether err is a repository error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// AsError converts any error into *Error, wrapping foreign errors as Generic.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewGeneric(err, "unexpected error")
}
