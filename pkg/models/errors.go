package models

import "errors"

// Errors shared by the task queue and delegation tracker.
var (
	// ErrCapacityExceeded indicates a collection is at its configured limit.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrNotFound indicates an unknown id was passed to a state transition.
	ErrNotFound = errors.New("not found")
	// ErrUnmetDependency indicates a task was started before its dependencies completed.
	ErrUnmetDependency = errors.New("unmet dependency")
	// ErrTaskBusy indicates another task is already the current task.
	ErrTaskBusy = errors.New("another task is in progress")
	// ErrInvalidTransition indicates a status change that the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)
