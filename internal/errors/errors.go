package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can branch on it without parsing
// error strings.
type Kind int

const (
	// KindInternal is an unexpected failure inside an operation.
	KindInternal Kind = iota
	// KindValidation is a rejected input (empty name, empty value, bad pattern).
	KindValidation
	// KindNotFound is an unknown secret or policy.
	KindNotFound
	// KindPersistence is a load or flush failure of the durable store.
	// It is reported as a warning and never fails the calling operation.
	KindPersistence
	// KindConflict is an attempt to create something that already exists.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not found"
	case KindPersistence:
		return "persistence"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Sentinel errors usable with errors.Is.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrPersistence = &Error{Kind: KindPersistence}
	ErrConflict    = &Error{Kind: KindConflict}
	ErrInternal    = &Error{Kind: KindInternal}
)

// Error is a typed operation failure. Name is the secret or policy the
// operation targeted; it is never a secret value.
type Error struct {
	Kind    Kind
	Op      string
	Name    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Name != "" {
		fmt.Fprintf(&b, " (%s)", e.Name)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so that errors.Is(err, ErrNotFound) matches any
// not-found error regardless of Op or Name.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validation builds a KindValidation error.
func Validation(op, name, message string) error {
	return &Error{Kind: KindValidation, Op: op, Name: name, Message: message}
}

// NotFound builds a KindNotFound error.
func NotFound(op, name string) error {
	return &Error{Kind: KindNotFound, Op: op, Name: name, Message: "not found"}
}

// Conflict builds a KindConflict error.
func Conflict(op, name, message string) error {
	return &Error{Kind: KindConflict, Op: op, Name: name, Message: message}
}

// Persistence wraps a storage failure.
func Persistence(op string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Message: "persistence failure", Err: err}
}

// Internal wraps an unexpected failure.
func Internal(op, name string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Name: name, Message: "internal error", Err: err}
}

// KindOf returns the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// SimplifyError turns typed failures into messages suitable for the CLI.
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	switch KindOf(err) {
	case KindNotFound:
		return UserError{
			Message:    err.Error(),
			Suggestion: "Run 'secretgov list --all' to see known secrets",
			Err:        err,
		}
	case KindValidation:
		return UserError{
			Message:    err.Error(),
			Suggestion: "Check the name and value arguments",
			Err:        err,
		}
	}

	errStr := err.Error()
	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}
	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	return err
}
