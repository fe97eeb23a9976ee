package upload_service

import "chunk-upload-service/model"

// transitions is the closed legality table: every (status, action) pair not
// listed here is rejected. cancel is legal from FAILED so a second cancel of
// an already-cancelled upload stays idempotent.
var transitions = map[model.UploadStatus]map[model.ControlAction]model.UploadStatus{
	model.StatusInitializing: {
		model.ActionCancel: model.StatusFailed,
	},
	model.StatusProcessing: {
		model.ActionPause:  model.StatusPaused,
		model.ActionCancel: model.StatusFailed,
	},
	model.StatusUploading: {
		model.ActionPause:  model.StatusPaused,
		model.ActionCancel: model.StatusFailed,
	},
	model.StatusPaused: {
		model.ActionResume: model.StatusUploading,
		model.ActionCancel: model.StatusFailed,
	},
	model.StatusResuming: {
		model.ActionPause:  model.StatusPaused,
		model.ActionCancel: model.StatusFailed,
	},
	model.StatusFailed: {
		model.ActionRetry:  model.StatusResuming,
		model.ActionCancel: model.StatusFailed,
	},
	model.StatusCompleted: {},
}

// NextState evaluates the legality table and its guards against the current
// state and returns the status the upload moves to. It never mutates state.
//
// Guards, in order:
//   - a locked upload accepts only retry and cancel
//   - retry is illegal once maxRetries whole-upload retries are consumed
func NextState(state *model.UploadState, action model.ControlAction, maxRetries int) (model.UploadStatus, error) {
	current := state.Progress.Status

	if state.Control.Locked && action != model.ActionRetry && action != model.ActionCancel {
		return "", &TransitionError{Current: current, Action: action}
	}

	next, ok := transitions[current][action]
	if !ok {
		return "", &TransitionError{Current: current, Action: action}
	}

	if action == model.ActionRetry && state.Control.RetryCount >= maxRetries {
		return "", ErrRetryLimitReached
	}

	return next, nil
}
