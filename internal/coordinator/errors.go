package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// ErrMissingTier is returned by New when a tier executor is not configured.
var ErrMissingTier = errors.New("coordinator: missing tier executor")

// ExecutionError is a tier failure for one task. It is carried in a
// Result, never returned from Execute.
type ExecutionError struct {
	Tier   models.Tier
	TaskID string
	Err    error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s: %s tier: %v", e.TaskID, e.Tier, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
