package workflow

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced request or order does not
// exist in the authoritative store at transition time.
var ErrNotFound = errors.New("not found")

// ValidationError means caller-supplied data violates a transition
// precondition. The transition does not happen and there is no partial
// effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// PermissionError means the actor's department is not authorized for the
// requested transition.
type PermissionError struct {
	Department string
	Reason     string
}

func (e *PermissionError) Error() string {
	return e.Reason
}

func permissionf(department, format string, args ...interface{}) error {
	return &PermissionError{Department: department, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPermission reports whether err is a PermissionError.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}
