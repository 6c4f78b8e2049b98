package models

import (
	"errors"
	"fmt"
)

// Typed errors for coordinator operations. Check them with the Is*
// helpers (errors.As underneath) rather than inspecting message strings.

// ValidationError indicates a request that fails input validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NotFoundError indicates a lookup for an entity that does not exist.
type NotFoundError struct {
	Kind string // "bot", "task", "workflow"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %s not found", e.Kind, e.ID)
}

// InvalidStateError indicates an operation applied to an entity whose
// current state does not permit it.
type InvalidStateError struct {
	Action string // "assign", "start", "complete", ...
	Kind   string
	State  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s in state %s", e.Action, e.Kind, e.State)
}

// UnavailableError indicates no resource could satisfy the request,
// typically no online bot for an assignment.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("resource unavailable: %s", e.Reason)
}

// ForbiddenError indicates a caller acting on an entity it does not own.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// TimeoutError indicates an operation that exceeded its deadline.
type TimeoutError struct {
	Op      string
	Seconds int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %ds", e.Op, e.Seconds)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var e *UnavailableError
	return errors.As(err, &e)
}

// IsForbidden reports whether err is a ForbiddenError.
func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}
