// Package gadget declares the tool ("gadget") contract the agent loop
// dispatches against: a registry of stateless descriptors, a JSON-Schema
// backed parameter schema, and the structured error/outcome types the
// executor and stream parser share.
package gadget

import (
	"errors"
	"fmt"
	"strings"
)

// Error represents a structured gadget failure that preserves message,
// causal context, and — when the failure originated in parameter
// validation — the specific FieldIssues that caused it, while still
// implementing the standard error interface. Errors may be nested via
// Cause to retain diagnostics across retries and subagent hops, and
// remain JSON-serializable for the tagged result envelope the executor
// produces.
type Error struct {
	Message string       `json:"message"`
	Issues  []FieldIssue `json:"issues,omitempty"`
	Cause   *Error       `json:"cause,omitempty"`
}

// New constructs an Error with the given message.
func New(message string) *Error {
	if message == "" {
		message = "gadget error"
	}
	return &Error{Message: message}
}

// NewWithCause constructs an Error that wraps an underlying error. The cause
// is converted into an Error chain so it survives JSON serialization while
// still supporting errors.Is/As through Unwrap.
func NewWithCause(message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into an Error chain. A
// *ValidationError in the chain is flattened into a single node carrying
// its FieldIssues rather than being walked field-by-field, so the
// constraint detail survives alongside the rest of the causal chain.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.asError()
	}
	return &Error{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats according to a format specifier and returns the result as
// an *Error.
func Errorf(format string, args ...any) *Error {
	return New(fmt.Sprintf(format, args...))
}

// Error implements the error interface, rendering the message at this
// level, any attached FieldIssues, and the causal chain beneath it.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Message)
	for _, iss := range e.Issues {
		b.WriteString("; ")
		if iss.Constraint != "" {
			fmt.Fprintf(&b, "%s (%s): %s", iss.Path, iss.Constraint, iss.Message)
		} else {
			fmt.Fprintf(&b, "%s: %s", iss.Path, iss.Message)
		}
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error to support errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// FieldIssue is a single schema validation issue for a gadget's parameters.
type FieldIssue struct {
	Path       string
	Constraint string
	Message    string
}

// ValidationError collects every FieldIssue found while validating a
// gadget call's parameters. It never invokes Execute.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("invalid parameters: %s: %s", e.Issues[0].Path, e.Issues[0].Message)
	}
	return fmt.Sprintf("invalid parameters: %d issues", len(e.Issues))
}

// asError converts the validation failure into an *Error carrying every
// FieldIssue, so a causal chain built with FromError/NewWithCause renders
// constraint detail instead of a collapsed issue count.
func (e *ValidationError) asError() *Error {
	return &Error{Message: fmt.Sprintf("invalid parameters: %d issues", len(e.Issues)), Issues: e.Issues}
}
