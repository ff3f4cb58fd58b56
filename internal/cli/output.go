package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/folio/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation rejected or scenarios failed
	ExitCommandError = 2 // Command error (invalid flags, database unavailable, etc.)
)

// Error codes reported in the JSON envelope.
const (
	ErrCodeBadRequest    = "E_BAD_REQUEST"
	ErrCodeNotFound      = "E_NOT_FOUND"
	ErrCodeConflict      = "E_CONFLICT"
	ErrCodeNotAuthorized = "E_NOT_AUTHORIZED"
	ErrCodeGeneric       = "E_GENERIC"
	ErrCodeInvalidSchema = "E_INVALID_SCHEMA"
	ErrCodeTestFailed    = "E_TEST_FAILED"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E_NOT_FOUND", "E_CONFLICT", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	return f.Result(data, nil)
}

// Result outputs data in the JSON envelope, or renders it with text in
// text mode. A nil text prints data as indented JSON.
func (f *OutputFormatter) Result(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	switch {
	case text != nil:
		text(f.Writer)
	default:
		if s, ok := data.(string); ok {
			fmt.Fprintln(f.Writer, s)
			return nil
		}
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports a repository error and returns the ExitError the command
// should return. Storage failures exit with ExitCommandError, rejected
// operations with ExitFailure.
func (f *OutputFormatter) Fail(err error) error {
	e := ir.AsError(err)
	var details any
	if len(e.Issues) > 0 || len(e.Details) > 0 {
		details = errorDetails{Issues: e.Issues, Details: e.Details}
	}
	if outErr := f.Error(ErrorCode(e.Kind), e.Message, details); outErr != nil {
		return outErr
	}
	code := ExitFailure
	if e.Kind == ir.ErrGeneric {
		code = ExitCommandError
	}
	return WrapExitError(code, string(e.Kind), err)
}

type errorDetails struct {
	Issues  []ir.ValidationIssue `json:"issues,omitempty"`
	Details map[string]string    `json:"details,omitempty"`
}

// ErrorCode maps a repository error kind to its envelope code.
func ErrorCode(kind ir.ErrorKind) string {
	switch kind {
	case ir.ErrBadRequest:
		return ErrCodeBadRequest
	case ir.ErrNotFound:
		return ErrCodeNotFound
	case ir.ErrConflict:
		return ErrCodeConflict
	case ir.ErrNotAuthorized:
		return ErrCodeNotAuthorized
	default:
		return ErrCodeGeneric
	}
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
