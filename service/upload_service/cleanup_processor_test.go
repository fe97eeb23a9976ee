package upload_service

import (
	"os"
	"testing"
	"time"

	"chunk-upload-service/model"
	"chunk-upload-service/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cleanupFixture struct {
	store     *StateStore
	blob      *storage.LocalBlobStore
	processor *CleanupProcessor
}

func newCleanupFixture(t *testing.T) *cleanupFixture {
	t.Helper()
	blob, err := storage.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)

	store := NewStateStore(newFakeCache(), newFakeDB())
	locks := NewKeyedMutex()
	leases := NewLeaseManager(blob, time.Minute)
	worker := NewTransferWorker(store, blob, leases, locks, 4, 1)
	processor := NewCleanupProcessor(store, blob, worker, locks, time.Minute, time.Hour, time.Hour)
	return &cleanupFixture{store: store, blob: blob, processor: processor}
}

func seedAged(t *testing.T, store *StateStore, trackingId string, status model.UploadStatus, age time.Duration) *model.UploadState {
	t.Helper()
	state := sampleState(trackingId, "u1")
	state.Progress.Status = status
	state.LastModified = time.Now().Add(-age)
	require.NoError(t, store.Put(state))
	return state
}

func TestCleanupFailsStalledUploads(t *testing.T) {
	fx := newCleanupFixture(t)

	seedAged(t, fx.store, "stalled", model.StatusUploading, 2*time.Hour)
	seedAged(t, fx.store, "active", model.StatusUploading, time.Minute)
	seedAged(t, fx.store, "done", model.StatusCompleted, 2*time.Hour)

	assert.Equal(t, 1, fx.processor.failStalledUploads())

	state, err := fx.store.Get("stalled")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, state.Progress.Status)
	assert.Equal(t, "upload stalled", state.Progress.LastError)
	assert.False(t, state.Control.Locked)

	// a recently active upload is untouched
	state, err = fx.store.Get("active")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploading, state.Progress.Status)

	// terminal records are not the stall sweep's business
	state, err = fx.store.Get("done")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, state.Progress.Status)
}

func TestCleanupStalledSweepIsIdempotent(t *testing.T) {
	fx := newCleanupFixture(t)
	seedAged(t, fx.store, "stalled", model.StatusUploading, 2*time.Hour)

	assert.Equal(t, 1, fx.processor.failStalledUploads())
	assert.Equal(t, 0, fx.processor.failStalledUploads())
}

func TestCleanupPurgesTerminalUploads(t *testing.T) {
	fx := newCleanupFixture(t)

	// completed long ago, staged file still on disk
	temp := stageFile(t, []byte("leftover"))
	done := seedAged(t, fx.store, "done", model.StatusCompleted, 2*time.Hour)
	done.Metadata.TempPath = temp
	done.LastModified = time.Now().Add(-2 * time.Hour)
	require.NoError(t, fx.store.Put(done))

	// failed long ago with a dangling remote session
	key := "uploads/u1/failed/data.bin"
	uploadId, err := fx.blob.InitiateUpload(key)
	require.NoError(t, err)
	_, err = fx.blob.UploadBlock(key, uploadId, 0, []byte("part"))
	require.NoError(t, err)
	failed := seedAged(t, fx.store, "failed", model.StatusFailed, 2*time.Hour)
	failed.Blob.Locator = key + "#" + uploadId
	failed.Metadata.TempPath = ""
	failed.LastModified = time.Now().Add(-2 * time.Hour)
	require.NoError(t, fx.store.Put(failed))

	// failed recently, still within retention
	recent := seedAged(t, fx.store, "recent", model.StatusFailed, time.Minute)
	recent.Metadata.TempPath = ""
	require.NoError(t, fx.store.Put(recent))

	assert.Equal(t, 2, fx.processor.purgeTerminalUploads())

	_, err = fx.store.Get("done")
	assert.ErrorIs(t, err, ErrUploadNotFound)
	_, err = fx.store.Get("failed")
	assert.ErrorIs(t, err, ErrUploadNotFound)
	_, err = fx.store.Get("recent")
	assert.NoError(t, err)

	// staged file gone, remote session aborted
	_, err = os.Stat(temp)
	assert.True(t, os.IsNotExist(err))
	_, err = fx.blob.ListBlocks(key, uploadId)
	assert.Error(t, err)
}
