package upload_service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"chunk-upload-service/model"

	"github.com/google/uuid"
)

// TransferDispatcher is the worker surface the control plane needs: dispatch
// a transfer session and deliver control signals to a live one.
type TransferDispatcher interface {
	StartTransfer(trackingId string) error
	Signal(trackingId string, action model.ControlAction) bool
}

// ControlService the control plane entry point. Every mutation of an upload
// state runs here (or in the worker) under the per-upload lock, so exactly
// one control action is in flight per upload at a time while different
// uploads proceed in parallel.
type ControlService struct {
	store      *StateStore
	leases     *LeaseManager
	worker     TransferDispatcher
	locks      *KeyedMutex
	maxRetries int
	maxChunks  int
	chunkSize  int64
}

// NewControlService create the control service
func NewControlService(store *StateStore, leases *LeaseManager, worker TransferDispatcher,
	locks *KeyedMutex, maxRetries, maxChunks int, chunkSize int64) *ControlService {
	return &ControlService{
		store:      store,
		leases:     leases,
		worker:     worker,
		locks:      locks,
		maxRetries: maxRetries,
		maxChunks:  maxChunks,
		chunkSize:  chunkSize,
	}
}

// InitiateRequest caller-supplied metadata for a new upload
type InitiateRequest struct {
	UserId          string
	TenantId        string
	FileName        string
	FileSize        int64
	MimeType        string
	Category        string
	AccessLevel     string
	RetentionPolicy string
	TempPath        string
}

// InitiateUpload create a new upload in INITIALIZING and persist it. The
// returned state carries the assigned tracking ID.
func (c *ControlService) InitiateUpload(req *InitiateRequest) (*model.UploadState, error) {
	if req.UserId == "" {
		return nil, &ValidationError{Field: "userId", Reason: "required"}
	}
	if req.FileName == "" {
		return nil, &ValidationError{Field: "fileName", Reason: "required"}
	}
	if req.FileSize < 0 {
		return nil, &ValidationError{Field: "fileSize", Reason: "must not be negative"}
	}
	if req.TempPath == "" {
		return nil, &ValidationError{Field: "tempPath", Reason: "required"}
	}
	if maxSize := int64(c.maxChunks) * c.chunkSize; req.FileSize > maxSize {
		return nil, &ValidationError{Field: "fileSize",
			Reason: fmt.Sprintf("exceeds maximum of %d bytes", maxSize)}
	}

	trackingId := uuid.NewString()
	now := time.Now()
	state := &model.UploadState{
		Metadata: model.UploadMetadata{
			TrackingId:      trackingId,
			UserId:          req.UserId,
			TenantId:        req.TenantId,
			FileName:        req.FileName,
			FileSize:        req.FileSize,
			MimeType:        req.MimeType,
			Category:        req.Category,
			AccessLevel:     req.AccessLevel,
			RetentionPolicy: req.RetentionPolicy,
			StartTime:       now,
			TempPath:        req.TempPath,
		},
		Chunks: make(map[int]*model.ChunkRecord),
		Progress: model.ProgressState{
			Status:     model.StatusInitializing,
			TotalBytes: req.FileSize,
		},
		Blob: model.BlobHandle{
			Locator: blobKey(req.UserId, trackingId, req.FileName),
		},
		LastModified: now,
	}

	if err := c.store.Put(state); err != nil {
		ref := uuid.NewString()
		log.Printf("Failed to persist new upload (ref %s): %v", ref, err)
		return nil, &DependencyError{Op: "persist upload state", Ref: ref, Err: err}
	}

	log.Printf("Upload %s initiated by %s: %s (%d bytes)", trackingId, req.UserId, req.FileName, req.FileSize)
	return state, nil
}

// StartTransfer move an INITIALIZING upload into PROCESSING and dispatch the
// transfer worker. The worker acquires the lease and drives it to UPLOADING.
func (c *ControlService) StartTransfer(trackingId, callerId string) (*model.UploadState, error) {
	c.locks.Lock(trackingId)
	defer c.locks.Unlock(trackingId)

	state, err := c.load(trackingId, callerId)
	if err != nil {
		return nil, err
	}
	if state.Progress.Status != model.StatusInitializing {
		return nil, &TransitionError{Current: state.Progress.Status, Action: "start"}
	}

	state.Progress.Status = model.StatusProcessing
	state.LastModified = time.Now()
	if err := c.store.Put(state); err != nil {
		ref := uuid.NewString()
		log.Printf("Failed to persist upload %s (ref %s): %v", trackingId, ref, err)
		return nil, &DependencyError{Op: "persist upload state", Ref: ref, Err: err}
	}

	if err := c.worker.StartTransfer(trackingId); err != nil {
		log.Printf("Warning: failed to dispatch transfer for %s: %v", trackingId, err)
	}
	return state, nil
}

// GetUploadState return the state for its owner
func (c *ControlService) GetUploadState(trackingId, callerId string) (*model.UploadState, error) {
	return c.load(trackingId, callerId)
}

// ApplyControlAction apply pause/resume/retry/cancel to an upload:
// load, authorize, validate against the legality table, release the lease on
// cancel, persist with rollback on failure, signal the worker, and return the
// resulting state.
func (c *ControlService) ApplyControlAction(trackingId string, action model.ControlAction,
	callerId string) (*model.UploadState, error) {
	c.locks.Lock(trackingId)
	defer c.locks.Unlock(trackingId)

	state, err := c.load(trackingId, callerId)
	if err != nil {
		return nil, err
	}

	next, err := NextState(state, action, c.maxRetries)
	if err != nil {
		return nil, err
	}

	key, _ := splitLocator(state.Blob.Locator)

	// cancel releases the lease before anything is persisted; failure is a
	// warning only, the lease expires on its own
	if action == model.ActionCancel {
		if !c.leases.Release(key, state.Control.LeaseId) {
			log.Printf("Warning: lease not released for %s, cancelling anyway", trackingId)
		}
	}

	prev := state.Clone()
	now := time.Now()
	state.Progress.Status = next
	switch action {
	case model.ActionRetry:
		state.Control.RetryCount++
		state.Control.LastRetryAt = &now
		state.Progress.LastError = ""
		state.Control.Locked = false
	case model.ActionCancel:
		state.Progress.LastError = model.CancelledByUser
		state.Control.LeaseId = ""
		state.Control.Locked = false
	default:
		// In-flight marker, cleared below. retry and cancel never set it:
		// they must stay usable on an upload a crashed action left locked,
		// so their single write persists the unlocked result directly.
		state.Control.Locked = true
	}
	state.LastModified = now

	if err := c.store.Put(state); err != nil {
		ref := uuid.NewString()
		if rbErr := c.store.Put(prev); rbErr != nil {
			log.Printf("Rollback failed for upload %s (ref %s): write: %v, rollback: %v",
				trackingId, ref, err, rbErr)
			return nil, &RollbackError{Ref: ref, PutErr: err, RollbackErr: rbErr}
		}
		log.Printf("Failed to persist %s on upload %s, previous state restored (ref %s): %v",
			action, trackingId, ref, err)
		return nil, &DependencyError{Op: "persist upload state", Ref: ref, Err: err}
	}

	// Signal the worker. A retry with no live session restarts one; for the
	// other actions an absent session has nothing to interrupt.
	delivered := c.worker.Signal(trackingId, action)
	if action == model.ActionRetry && !delivered {
		if err := c.worker.StartTransfer(trackingId); err != nil {
			log.Printf("Warning: failed to restart transfer for %s: %v", trackingId, err)
		}
	}

	// Clear the in-flight marker with a column patch rather than a whole
	// record write. Best effort: the action itself is already durable.
	if state.Control.Locked {
		state.Control.Locked = false
		if err := c.store.Patch(trackingId, map[string]interface{}{"locked": false}); err != nil {
			log.Printf("Warning: failed to clear lock marker on upload %s: %v", trackingId, err)
		}
	}

	log.Printf("Upload %s: applied %s, status %s -> %s", trackingId, action, prev.Progress.Status, next)
	return state, nil
}

// load fetch the state and check ownership
func (c *ControlService) load(trackingId, callerId string) (*model.UploadState, error) {
	state, err := c.store.Get(trackingId)
	if err != nil {
		if errors.Is(err, ErrUploadNotFound) {
			return nil, err
		}
		ref := uuid.NewString()
		log.Printf("Failed to load upload %s (ref %s): %v", trackingId, ref, err)
		return nil, &DependencyError{Op: "load upload state", Ref: ref, Err: err}
	}
	if state.Metadata.UserId != callerId {
		return nil, ErrForbidden
	}
	return state, nil
}

// blobKey target object key for an upload
func blobKey(userId, trackingId, fileName string) string {
	return fmt.Sprintf("uploads/%s/%s/%s", userId, trackingId, fileName)
}
