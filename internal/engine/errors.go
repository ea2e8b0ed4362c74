package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means no valid principal could be resolved. Callers
	// treat it as a normal branch, not a failure.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTimeout means a bounded store or generation call ran out of time.
	ErrTimeout = errors.New("operation timed out")
)

// DuplicateApplicationError reports an active application already holding the
// email. ApplicationID and Status identify the blocking row when it could be
// read back.
type DuplicateApplicationError struct {
	Email         string
	ApplicationID string
	Status        string
}

func (e DuplicateApplicationError) Error() string {
	return fmt.Sprintf("an active application already exists for %s", e.Email)
}

// AlreadyAssignedError reports a task claimed by another developer first.
type AlreadyAssignedError struct {
	TaskID string
}

func (e AlreadyAssignedError) Error() string {
	return fmt.Sprintf("task %s is already assigned", e.TaskID)
}

// InvalidTransitionError reports an illegal status move.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s", e.Entity, e.From, e.To)
}
