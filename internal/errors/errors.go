package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Base error types
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDependency        = errors.New("dependency failure")
	ErrFatalConfig       = errors.New("fatal configuration")
)

// Kind categorizes a pipeline error.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindTransient   Kind = "transient"
	KindFatalConfig Kind = "fatal_config"
)

// PipelineError is a structured error for alert pipeline operations.
type PipelineError struct {
	Kind      Kind
	Op        string // Operation that failed (e.g., "create_alert", "mark_delivered")
	Resource  string // Entity the operation targeted, if applicable
	Err       error  // Underlying error
	Timestamp time.Time
}

func (e *PipelineError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *PipelineError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrInvalidInput:
		return e.Kind == KindValidation
	case ErrDependency:
		return e.Kind == KindTransient
	case ErrFatalConfig:
		return e.Kind == KindFatalConfig
	}

	return errors.Is(e.Err, target)
}

// New creates a new PipelineError.
func New(kind Kind, op, resource string, err error) *PipelineError {
	return &PipelineError{
		Kind:      kind,
		Op:        op,
		Resource:  resource,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Helper constructors

// Validationf builds a validation error from a format string.
func Validationf(op, format string, args ...interface{}) error {
	return New(KindValidation, op, "", fmt.Errorf(format, args...))
}

// NotFoundf builds a not-found error for the named resource.
func NotFoundf(op, resource string) error {
	return New(KindNotFound, op, resource, ErrNotFound)
}

// Conflictf builds a conflict error from a format string.
func Conflictf(op, format string, args ...interface{}) error {
	return New(KindConflict, op, "", fmt.Errorf(format, args...))
}

// Transientf wraps a dependency failure that may succeed on retry.
func Transientf(op string, err error) error {
	return New(KindTransient, op, "", err)
}

// FatalConfigf builds a startup-refusing configuration error.
func FatalConfigf(format string, args ...interface{}) error {
	return New(KindFatalConfig, "load_config", "", fmt.Errorf(format, args...))
}

// InvalidTransition builds the typed error for a rejected lifecycle edge.
func InvalidTransition(op string, from, to string) error {
	return New(KindConflict, op, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to))
}

// Kind predicates

func kindOf(err error) (Kind, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// IsValidation checks whether err is a validation error.
func IsValidation(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindValidation
}

// IsNotFound checks whether err is a not-found error.
func IsNotFound(err error) bool {
	if k, ok := kindOf(err); ok {
		return k == KindNotFound
	}
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks whether err is a conflict or invalid-transition error.
func IsConflict(err error) bool {
	if k, ok := kindOf(err); ok {
		return k == KindConflict
	}
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidTransition)
}

// IsTransient checks whether err represents a retryable dependency failure.
func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransient
}

// IsFatalConfig checks whether err must refuse startup.
func IsFatalConfig(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindFatalConfig
}

// HTTPStatus maps an error to the status code the API surfaces it with.
func HTTPStatus(err error) int {
	switch k, _ := kindOf(err); k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
