package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/gym-backoffice/internal/lifecycle"
	"github.com/example/gym-backoffice/internal/persistence"
)

var (
	// ErrUnauthorized is returned when no acting identity accompanies a mutation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrSchedulingConflict is matched by every *ConflictError.
	ErrSchedulingConflict = errors.New("application: scheduling conflict")
	// ErrPersistence is matched by every *PersistenceError.
	ErrPersistence = errors.New("application: persistence failure")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// NotFoundError names the missing resource. It matches ErrNotFound.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("application: %s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError carries every booking that blocks a proposed booking.
type ConflictError struct {
	Conflicts []BookingConflict
}

func (e *ConflictError) Error() string {
	ids := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		ids[i] = c.BookingID
	}
	return fmt.Sprintf("application: scheduling conflict with %d booking(s): %s", len(ids), strings.Join(ids, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrSchedulingConflict }

// PersistenceError reports a transient storage failure. The whole operation
// may be retried unchanged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("application: %s: persistence failure: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Retryable reports that the failure was not caused by the request.
func (e *PersistenceError) Retryable() bool { return true }

// wrapStoreError passes domain errors through and turns anything the store
// produced into a *PersistenceError.
func wrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		vErr *ValidationError
		nErr *NotFoundError
		cErr *ConflictError
		tErr *lifecycle.TransitionError
		pErr *PersistenceError
	)
	switch {
	case errors.As(err, &vErr), errors.As(err, &nErr), errors.As(err, &cErr), errors.As(err, &tErr), errors.As(err, &pErr):
		return err
	case errors.Is(err, ErrUnauthorized):
		return err
	case errors.Is(err, context.Canceled):
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// notFoundOr converts persistence.ErrNotFound for the named resource.
func notFoundOr(err error, resource, id string) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return err
}
