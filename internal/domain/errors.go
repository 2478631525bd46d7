package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrKindTransientStore ErrorKind = "transient_store_error"
	ErrKindValidation     ErrorKind = "validation_error"
	ErrKindDependency     ErrorKind = "dependency_failed"
	ErrKindRejected       ErrorKind = "rejected_by_reviewer"
	ErrKindAgent          ErrorKind = "agent_error"
	ErrKindCancelled      ErrorKind = "cancelled"
)

var (
	ErrNotAwaitingReview = errors.New("run is not awaiting review")
	ErrRunTerminal       = errors.New("run already finished")
	ErrRunNotFound       = errors.New("run not found")
	ErrUnknownAgent      = errors.New("unknown agent kind")

	// ErrConfidenceBelowThreshold routes a hypothesis to review. It is
	// never surfaced as a failure.
	ErrConfidenceBelowThreshold = errors.New("confidence below review threshold")
)

// TransientStoreError wraps a network or timeout failure from a store or
// the text service. It is the only retried error kind.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

func NewTransientStoreError(op string, err error) error {
	return &TransientStoreError{Op: op, Err: err}
}

// ValidationError reports agent output that does not match the shape
// expected for its kind.
type ValidationError struct {
	Kind   AgentKind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s output: %s", e.Kind, e.Reason)
}

type DependencyFailed struct {
	TaskID       string
	OriginTaskID string
}

func (e *DependencyFailed) Error() string {
	return fmt.Sprintf("task %s skipped: dependency %s failed", e.TaskID, e.OriginTaskID)
}

type RejectedByReviewer struct {
	TaskID string
}

func (e *RejectedByReviewer) Error() string {
	return fmt.Sprintf("run rejected by reviewer at task %s", e.TaskID)
}

// IsTransient reports whether err is (or wraps) a TransientStoreError.
func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}

// KindOf classifies err into the error taxonomy.
func KindOf(err error) ErrorKind {
	var (
		transient  *TransientStoreError
		validation *ValidationError
		dependency *DependencyFailed
		rejected   *RejectedByReviewer
	)
	switch {
	case errors.As(err, &validation):
		return ErrKindValidation
	case errors.As(err, &dependency):
		return ErrKindDependency
	case errors.As(err, &rejected):
		return ErrKindRejected
	case errors.As(err, &transient):
		return ErrKindTransientStore
	}
	return ErrKindAgent
}
