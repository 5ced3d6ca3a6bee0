package query

import (
	"errors"
	"fmt"
)

// ErrorClass distinguishes failures worth retrying from failures that are not.
type ErrorClass string

const (
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassPermanent ErrorClass = "permanent"
)

// QueryError is the classified failure of one query execution.
type QueryError struct {
	Class       ErrorClass
	WorkspaceID string
	Err         error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s (workspace %s): %v", e.Class, e.WorkspaceID, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable query error.
func Transient(workspaceID string, err error) *QueryError {
	return &QueryError{Class: ErrorClassTransient, WorkspaceID: workspaceID, Err: err}
}

// Permanent wraps err as a non-retryable query error.
func Permanent(workspaceID string, err error) *QueryError {
	return &QueryError{Class: ErrorClassPermanent, WorkspaceID: workspaceID, Err: err}
}

// IsTransient reports whether err is a query error classified transient.
// Unclassified errors are treated as permanent.
func IsTransient(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Class == ErrorClassTransient
	}
	return false
}
