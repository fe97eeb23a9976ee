package upload_service

import (
	"errors"
	"fmt"

	"chunk-upload-service/model"
)

var (
	// ErrUploadNotFound no upload state exists for the tracking ID
	ErrUploadNotFound = errors.New("upload not found")

	// ErrForbidden the caller does not own the upload
	ErrForbidden = errors.New("caller does not own this upload")

	// ErrRetryLimitReached the whole-upload retry ceiling is exhausted
	ErrRetryLimitReached = errors.New("retry limit reached")
)

// ValidationError rejected request input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransitionError rejected control action: the legality table has no entry
// for (current, action), or a guard blocked it. Carries both so the API can
// report exactly what was rejected.
type TransitionError struct {
	Current model.UploadStatus
	Action  model.ControlAction
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("action %s is not allowed in status %s", e.Action, e.Current)
}

// DependencyError a backing dependency (store, cache, blob target) failed.
// Ref is the opaque correlation reference returned to the client and logged
// beside the underlying error.
type DependencyError struct {
	Op  string
	Ref string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s failed (ref %s): %v", e.Op, e.Ref, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// RollbackError the durable write failed and restoring the previous state
// also failed. The persisted state is now suspect; this is reported distinctly
// from a plain dependency failure.
type RollbackError struct {
	Ref         string
	PutErr      error
	RollbackErr error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("state write failed and rollback failed (ref %s): write: %v, rollback: %v",
		e.Ref, e.PutErr, e.RollbackErr)
}
