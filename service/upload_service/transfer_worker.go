package upload_service

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"chunk-upload-service/model"
	"chunk-upload-service/storage"
)

// TransferWorker moves file bytes to the blob target, one session per
// in-flight upload. A session streams chunks as blocks, records per-chunk
// status and retries, commits the final block list, and obeys
// pause/resume/retry/cancel signals between chunks.
type TransferWorker struct {
	store           *StateStore
	blob            storage.BlobStore
	leases          *LeaseManager
	locks           *KeyedMutex
	chunkSize       int64
	chunkRetryLimit int

	mu       sync.Mutex
	sessions map[string]*transferSession
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// transferSession a live chunk-moving loop for one upload
type transferSession struct {
	trackingId string
	signals    chan model.ControlAction
}

// NewTransferWorker create a transfer worker
func NewTransferWorker(store *StateStore, blob storage.BlobStore, leases *LeaseManager,
	locks *KeyedMutex, chunkSize int64, chunkRetryLimit int) *TransferWorker {
	return &TransferWorker{
		store:           store,
		blob:            blob,
		leases:          leases,
		locks:           locks,
		chunkSize:       chunkSize,
		chunkRetryLimit: chunkRetryLimit,
		sessions:        make(map[string]*transferSession),
		stopChan:        make(chan struct{}),
	}
}

// Stop stop all sessions and wait for them to exit. In-flight uploads are
// left as-is; the cleanup processor fails them if nothing resumes them.
func (w *TransferWorker) Stop() {
	log.Println("Stopping transfer worker...")
	close(w.stopChan)
	w.wg.Wait()
	log.Println("Transfer worker stopped")
}

// StartTransfer start (or restart) the chunk-moving session for an upload.
// A session that is already running is left alone.
func (w *TransferWorker) StartTransfer(trackingId string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, running := w.sessions[trackingId]; running {
		return nil
	}

	session := &transferSession{
		trackingId: trackingId,
		signals:    make(chan model.ControlAction, 8),
	}
	w.sessions[trackingId] = session

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.removeSession(trackingId)
		w.runSession(session)
	}()

	return nil
}

// Signal deliver a control action to the live session. Reports whether a
// session was there to receive it; the caller decides what an undelivered
// signal means for the action at hand.
func (w *TransferWorker) Signal(trackingId string, action model.ControlAction) bool {
	w.mu.Lock()
	session, ok := w.sessions[trackingId]
	w.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case session.signals <- action:
		return true
	default:
		log.Printf("Warning: signal buffer full for upload %s, dropping %s", trackingId, action)
		return false
	}
}

// IsRunning reports whether a session exists for the upload
func (w *TransferWorker) IsRunning(trackingId string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.sessions[trackingId]
	return ok
}

func (w *TransferWorker) removeSession(trackingId string) {
	w.mu.Lock()
	delete(w.sessions, trackingId)
	w.mu.Unlock()
}

// runSession the session main loop: prepare, transfer, commit
func (w *TransferWorker) runSession(session *transferSession) {
	trackingId := session.trackingId

	state, err := w.prepare(session)
	if err != nil {
		log.Printf("Upload %s: prepare failed: %v", trackingId, err)
		w.failUpload(trackingId, fmt.Sprintf("prepare failed: %v", err))
		return
	}
	if state == nil {
		return // Cancelled or shut down during prepare
	}

	key, uploadId := splitLocator(state.Blob.Locator)

	file, err := os.Open(state.Metadata.TempPath)
	if err != nil {
		log.Printf("Upload %s: cannot open staged file: %v", trackingId, err)
		w.failUpload(trackingId, fmt.Sprintf("staged file unavailable: %v", err))
		w.leases.Release(key, state.Control.LeaseId)
		return
	}
	defer file.Close()

	done, err := w.transferChunks(session, state, file, key, uploadId)
	if err != nil {
		log.Printf("Upload %s: transfer failed: %v", trackingId, err)
		w.failUpload(trackingId, err.Error())
		w.leases.Release(key, state.Control.LeaseId)
		return
	}
	if !done {
		return // Cancelled or shut down mid-transfer
	}

	if err := w.commit(trackingId, key, uploadId); err != nil {
		log.Printf("Upload %s: commit failed: %v", trackingId, err)
		w.failUpload(trackingId, fmt.Sprintf("block list commit failed: %v", err))
		w.leases.Release(key, state.Control.LeaseId)
		return
	}
}

// prepare acquire the lease, ensure the chunk plan and remote session exist,
// and move the upload into UPLOADING. Returns nil state when the session
// should exit without failing the upload.
func (w *TransferWorker) prepare(session *transferSession) (*model.UploadState, error) {
	trackingId := session.trackingId

	if stop := w.drainSignals(session); stop {
		return nil, nil
	}

	state, err := w.store.Get(trackingId)
	if err != nil {
		return nil, err
	}
	if state.Progress.Status.IsTerminal() && state.Progress.Status != model.StatusFailed {
		return nil, nil
	}

	key, uploadId := splitLocator(state.Blob.Locator)

	// Lease first: nothing touches the blob target without it
	leaseId := state.Control.LeaseId
	if leaseId == "" {
		leaseId, err = w.leases.Acquire(key)
		if err != nil {
			return nil, err
		}
	}

	// Remote block session
	if uploadId == "" {
		uploadId, err = w.blob.InitiateUpload(key)
		if err != nil {
			w.leases.Release(key, leaseId)
			return nil, err
		}
	}

	locator := joinLocator(key, uploadId)
	state, err = w.updateState(trackingId, func(s *model.UploadState) {
		s.Control.LeaseId = leaseId
		s.Blob.Locator = locator
		w.planChunks(s)
		// Failed chunks from an earlier attempt go back to pending
		for _, chunk := range s.Chunks {
			if chunk.Status == model.ChunkStatusFailed || chunk.Status == model.ChunkStatusUploading {
				chunk.Status = model.ChunkStatusPending
			}
		}
		if s.Progress.Status == model.StatusInitializing || s.Progress.Status == model.StatusProcessing ||
			s.Progress.Status == model.StatusResuming || s.Progress.Status == model.StatusFailed {
			s.Progress.Status = model.StatusUploading
			s.Progress.LastError = ""
		}
	})
	if err != nil {
		w.leases.Release(key, leaseId)
		return nil, err
	}
	return state, nil
}

// planChunks fill in the chunk map from the file size. Existing records are
// kept so a resumed upload does not re-plan completed chunks.
func (w *TransferWorker) planChunks(state *model.UploadState) {
	total := int((state.Metadata.FileSize + w.chunkSize - 1) / w.chunkSize)
	if total == 0 {
		total = 1 // Empty file still commits one empty block
	}
	state.Progress.TotalChunks = total
	state.Progress.TotalBytes = state.Metadata.FileSize
	for i := 0; i < total; i++ {
		if _, ok := state.Chunks[i]; ok {
			continue
		}
		size := w.chunkSize
		if remain := state.Metadata.FileSize - int64(i)*w.chunkSize; remain < size {
			size = remain
		}
		state.Chunks[i] = &model.ChunkRecord{
			Index:  i,
			Status: model.ChunkStatusPending,
			Size:   size,
		}
	}
}

// transferChunks upload every pending chunk in index order. Returns
// done=false when the session exits early without failing the upload.
func (w *TransferWorker) transferChunks(session *transferSession, state *model.UploadState,
	file *os.File, key, uploadId string) (bool, error) {
	trackingId := session.trackingId

	for i := 0; i < state.Progress.TotalChunks; i++ {
		if stop := w.drainSignals(session); stop {
			return false, nil
		}

		chunk := state.Chunks[i]
		if chunk == nil || chunk.Status == model.ChunkStatusUploaded {
			continue
		}

		data := make([]byte, chunk.Size)
		n, err := file.ReadAt(data, int64(i)*w.chunkSize)
		if err != nil && err != io.EOF {
			return false, fmt.Errorf("failed to read chunk %d: %w", i, err)
		}
		// A short read means the staged file lost bytes since initiation;
		// uploading the zero-padded remainder would commit a corrupt object
		if int64(n) != chunk.Size {
			return false, fmt.Errorf("staged file truncated: chunk %d holds %d of %d bytes", i, n, chunk.Size)
		}

		blockId, err := w.uploadWithRetry(session, key, uploadId, i, data)
		if err != nil {
			if errors.Is(err, errSessionStopped) {
				return false, nil
			}
			return false, err
		}

		fresh, err := w.updateState(trackingId, func(s *model.UploadState) {
			c, ok := s.Chunks[i]
			if !ok {
				c = &model.ChunkRecord{Index: i, Size: chunk.Size}
				s.Chunks[i] = c
			}
			c.Status = model.ChunkStatusUploaded
			c.BlockId = blockId
			s.Recalculate()
		})
		if err != nil {
			return false, err
		}

		// Obey a status change persisted by the control plane between chunks
		switch fresh.Progress.Status {
		case model.StatusPaused:
			if stop := w.waitResume(session); stop {
				return false, nil
			}
		case model.StatusFailed:
			w.abortRemote(key, uploadId)
			w.leases.Release(key, fresh.Control.LeaseId)
			return false, nil
		}
		state = fresh
	}

	return true, nil
}

// errSessionStopped internal marker: the session was cancelled or shut down
var errSessionStopped = errors.New("session stopped")

// uploadWithRetry upload one block, retrying with linear backoff up to the
// per-chunk limit. Each retry is recorded on the chunk.
func (w *TransferWorker) uploadWithRetry(session *transferSession, key, uploadId string,
	index int, data []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= w.chunkRetryLimit; attempt++ {
		if attempt > 0 {
			if _, err := w.updateState(session.trackingId, func(s *model.UploadState) {
				if c, ok := s.Chunks[index]; ok {
					c.RetryCount = attempt
					c.Status = model.ChunkStatusFailed
				}
			}); err != nil {
				return "", err
			}

			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-w.stopChan:
				return "", errSessionStopped
			}
			if stop := w.drainSignals(session); stop {
				return "", errSessionStopped
			}
		}

		blockId, err := w.blob.UploadBlock(key, uploadId, index, data)
		if err == nil {
			return blockId, nil
		}
		lastErr = err
		log.Printf("Upload %s: chunk %d attempt %d failed: %v", session.trackingId, index, attempt+1, err)
	}
	return "", fmt.Errorf("chunk %d failed after %d attempts: %w", index, w.chunkRetryLimit+1, lastErr)
}

// commit assemble the ordered block list, commit it, and finish the upload
func (w *TransferWorker) commit(trackingId, key, uploadId string) error {
	state, err := w.store.Get(trackingId)
	if err != nil {
		return err
	}

	ordered := state.OrderedChunks()
	blocks := make([]storage.BlockInfo, 0, len(ordered))
	blockIds := make([]string, 0, len(ordered))
	for _, chunk := range ordered {
		if chunk.Status != model.ChunkStatusUploaded {
			return fmt.Errorf("chunk %d not uploaded, refusing to commit", chunk.Index)
		}
		blocks = append(blocks, storage.BlockInfo{Index: chunk.Index, BlockId: chunk.BlockId, Size: chunk.Size})
		blockIds = append(blockIds, chunk.BlockId)
	}

	if err := w.blob.CommitBlockList(key, uploadId, blocks); err != nil {
		return err
	}

	leaseId := state.Control.LeaseId
	if _, err := w.updateState(trackingId, func(s *model.UploadState) {
		s.Progress.Status = model.StatusCompleted
		s.Progress.LastError = ""
		s.Blob.BlockIds = blockIds
		s.Control.Locked = false
		s.Control.LeaseId = ""
		s.Recalculate()
	}); err != nil {
		return err
	}

	w.leases.Release(key, leaseId)

	if state.Metadata.TempPath != "" {
		if err := os.Remove(state.Metadata.TempPath); err != nil && !os.IsNotExist(err) {
			log.Printf("Warning: failed to remove staged file for %s: %v", trackingId, err)
		}
	}

	log.Printf("Upload %s completed: %d chunks, %d bytes", trackingId,
		state.Progress.TotalChunks, state.Progress.TotalBytes)
	return nil
}

// drainSignals consume queued signals without blocking. Returns true when the
// session must exit (cancel or shutdown).
func (w *TransferWorker) drainSignals(session *transferSession) bool {
	for {
		select {
		case <-w.stopChan:
			return true
		case action := <-session.signals:
			switch action {
			case model.ActionPause:
				if stop := w.waitResume(session); stop {
					return true
				}
			case model.ActionCancel:
				w.handleCancel(session.trackingId)
				return true
			default:
				// resume/retry while already running: nothing to do
			}
		default:
			return false
		}
	}
}

// waitResume block until a resume (or retry) arrives. Returns true when the
// session must exit instead.
func (w *TransferWorker) waitResume(session *transferSession) bool {
	log.Printf("Upload %s paused", session.trackingId)
	for {
		select {
		case <-w.stopChan:
			return true
		case action := <-session.signals:
			switch action {
			case model.ActionResume, model.ActionRetry:
				log.Printf("Upload %s resumed", session.trackingId)
				return false
			case model.ActionCancel:
				w.handleCancel(session.trackingId)
				return true
			}
		}
	}
}

// handleCancel tear down the remote session and lease. The FAILED status and
// cancellation marker were already persisted by the control plane.
func (w *TransferWorker) handleCancel(trackingId string) {
	state, err := w.store.Get(trackingId)
	if err != nil {
		log.Printf("Warning: cannot load state for cancelled upload %s: %v", trackingId, err)
		return
	}
	key, uploadId := splitLocator(state.Blob.Locator)
	w.abortRemote(key, uploadId)
	w.leases.Release(key, state.Control.LeaseId)
	log.Printf("Upload %s cancelled, remote session aborted", trackingId)
}

func (w *TransferWorker) abortRemote(key, uploadId string) {
	if uploadId == "" {
		return
	}
	if err := w.blob.AbortUpload(key, uploadId); err != nil {
		log.Printf("Warning: failed to abort remote session for %s: %v", key, err)
	}
}

// failUpload mark the upload FAILED with the given reason. A user-issued
// cancel already holds FAILED with its own marker and is left untouched.
func (w *TransferWorker) failUpload(trackingId, reason string) {
	if _, err := w.updateState(trackingId, func(s *model.UploadState) {
		if s.Progress.Status == model.StatusFailed && s.Progress.LastError == model.CancelledByUser {
			return
		}
		if s.Progress.Status == model.StatusCompleted {
			return
		}
		s.Progress.Status = model.StatusFailed
		s.Progress.LastError = reason
	}); err != nil {
		log.Printf("Warning: failed to mark upload %s as failed: %v", trackingId, err)
	}
}

// updateState reload, mutate and persist under the per-upload lock so worker
// writes never race control-plane writes
func (w *TransferWorker) updateState(trackingId string, mutate func(*model.UploadState)) (*model.UploadState, error) {
	w.locks.Lock(trackingId)
	defer w.locks.Unlock(trackingId)

	state, err := w.store.Get(trackingId)
	if err != nil {
		return nil, err
	}
	mutate(state)
	state.LastModified = time.Now()
	if err := w.store.Put(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Locator format: {blobKey}#{remoteUploadId}, the uploadId part appearing
// once the remote session exists

func splitLocator(locator string) (key, uploadId string) {
	if idx := strings.LastIndex(locator, "#"); idx >= 0 {
		return locator[:idx], locator[idx+1:]
	}
	return locator, ""
}

func joinLocator(key, uploadId string) string {
	if uploadId == "" {
		return key
	}
	return key + "#" + uploadId
}
