package core

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound is wrapped by store errors for missing rows.
	ErrRecordNotFound = errors.New("record not found")
	// ErrConflict is returned when a subtask was modified concurrently.
	ErrConflict = errors.New("subtask was modified concurrently")
	// ErrAlertSuppressed is returned when a transition's alert was already claimed.
	ErrAlertSuppressed = errors.New("alert suppressed")
)

// ValidationError reports invalid caller input. State is never mutated when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports an unknown task or subtask.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// DependencyError wraps a failure of the store or a notification sink.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// storeErr maps a store failure onto the domain taxonomy.
func storeErr(err error, resource string, id int64) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRecordNotFound):
		return &NotFoundError{Resource: resource, ID: id}
	case errors.Is(err, ErrConflict):
		return ErrConflict
	case errors.Is(err, ErrAlertSuppressed):
		return ErrAlertSuppressed
	default:
		return &DependencyError{Dependency: "store", Err: err}
	}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsDependency reports whether err is a DependencyError.
func IsDependency(err error) bool {
	var de *DependencyError
	return errors.As(err, &de)
}
