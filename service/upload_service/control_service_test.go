package upload_service

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chunk-upload-service/model"
	"chunk-upload-service/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDispatcher records dispatched transfers and delivered signals
type fakeDispatcher struct {
	mu        sync.Mutex
	started   []string
	signals   []string
	delivered bool
}

func (f *fakeDispatcher) StartTransfer(trackingId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, trackingId)
	return nil
}

func (f *fakeDispatcher) Signal(trackingId string, action model.ControlAction) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, fmt.Sprintf("%s:%s", trackingId, action))
	return f.delivered
}

// fakeBlob records lease traffic; block operations are unused by the control
// plane itself
type fakeBlob struct {
	mu         sync.Mutex
	released   []string
	releaseErr error
}

func (f *fakeBlob) InitiateUpload(key string) (string, error) { return "session-1", nil }
func (f *fakeBlob) UploadBlock(key, uploadId string, index int, data []byte) (string, error) {
	return fmt.Sprintf("etag-%d", index), nil
}
func (f *fakeBlob) CommitBlockList(key, uploadId string, blocks []storage.BlockInfo) error {
	return nil
}
func (f *fakeBlob) AbortUpload(key, uploadId string) error { return nil }
func (f *fakeBlob) ListBlocks(key, uploadId string) ([]storage.BlockInfo, error) {
	return nil, nil
}
func (f *fakeBlob) AcquireLease(key string, duration time.Duration) (string, error) {
	return "lease-1", nil
}
func (f *fakeBlob) ReleaseLease(key, leaseId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, leaseId)
	return f.releaseErr
}
func (f *fakeBlob) Delete(key string) error { return nil }
func (f *fakeBlob) Exists(key string) bool  { return false }

type controlFixture struct {
	store      *StateStore
	db         *fakeDB
	cache      *fakeCache
	blob       *fakeBlob
	dispatcher *fakeDispatcher
	service    *ControlService
}

func newControlFixture(t *testing.T) *controlFixture {
	t.Helper()
	cache := newFakeCache()
	db := newFakeDB()
	blob := &fakeBlob{}
	dispatcher := &fakeDispatcher{delivered: true}
	store := NewStateStore(cache, db)
	leases := NewLeaseManager(blob, time.Minute)
	service := NewControlService(store, leases, dispatcher, NewKeyedMutex(), 3, 1000, 1024)
	return &controlFixture{
		store: store, db: db, cache: cache, blob: blob,
		dispatcher: dispatcher, service: service,
	}
}

func (fx *controlFixture) seed(t *testing.T, status model.UploadStatus) *model.UploadState {
	t.Helper()
	state := sampleState("t1", "u1")
	state.Progress.Status = status
	state.Control.LeaseId = "lease-1"
	require.NoError(t, fx.store.Put(state))
	return state
}

func TestApplyControlActionRejectsNonOwner(t *testing.T) {
	fx := newControlFixture(t)
	fx.seed(t, model.StatusUploading)

	_, err := fx.service.ApplyControlAction("t1", model.ActionCancel, "intruder")
	assert.ErrorIs(t, err, ErrForbidden)

	// nothing was persisted
	rec, err := fx.db.GetUploadState("t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploading, rec.Status)
	assert.Empty(t, fx.dispatcher.signals)
	assert.Empty(t, fx.blob.released)
}

func TestApplyControlActionUnknownUpload(t *testing.T) {
	fx := newControlFixture(t)

	_, err := fx.service.ApplyControlAction("missing", model.ActionPause, "u1")
	assert.ErrorIs(t, err, ErrUploadNotFound)
}

func TestApplyControlActionPause(t *testing.T) {
	fx := newControlFixture(t)
	fx.seed(t, model.StatusUploading)

	state, err := fx.service.ApplyControlAction("t1", model.ActionPause, "u1")
	require.NoError(t, err)

	assert.Equal(t, model.StatusPaused, state.Progress.Status)
	assert.True(t, state.Flags().IsPaused)
	assert.False(t, state.Control.Locked, "lock marker must be cleared before returning")
	assert.Equal(t, []string{"t1:pause"}, fx.dispatcher.signals)

	rec, err := fx.db.GetUploadState("t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, rec.Status)
	assert.False(t, rec.Locked)
}

func TestApplyControlActionIllegalTransition(t *testing.T) {
	fx := newControlFixture(t)
	fx.seed(t, model.StatusUploading)

	_, err := fx.service.ApplyControlAction("t1", model.ActionResume, "u1")
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.StatusUploading, te.Current)
	assert.Equal(t, model.ActionResume, te.Action)

	// rejected action leaves everything untouched
	rec, _ := fx.db.GetUploadState("t1")
	assert.Equal(t, model.StatusUploading, rec.Status)
	assert.Empty(t, fx.dispatcher.signals)
}

func TestApplyControlActionRetry(t *testing.T) {
	fx := newControlFixture(t)
	fx.seed(t, model.StatusFailed)
	fx.dispatcher.delivered = false // no live session

	state, err := fx.service.ApplyControlAction("t1", model.ActionRetry, "u1")
	require.NoError(t, err)

	assert.Equal(t, model.StatusResuming, state.Progress.Status)
	assert.Equal(t, 1, state.Control.RetryCount)
	require.NotNil(t, state.Control.LastRetryAt)
	assert.Empty(t, state.Progress.LastError)

	// undelivered retry signal restarts the session
	assert.Equal(t, []string{"t1"}, fx.dispatcher.started)
}

func TestApplyControlActionRetryCeiling(t *testing.T) {
	fx := newControlFixture(t)
	state := fx.seed(t, model.StatusFailed)
	state.Control.RetryCount = 3
	require.NoError(t, fx.store.Put(state))

	_, err := fx.service.ApplyControlAction("t1", model.ActionRetry, "u1")
	assert.ErrorIs(t, err, ErrRetryLimitReached)
}

func TestApplyControlActionRetryLeavesUploadUnlocked(t *testing.T) {
	fx := newControlFixture(t)
	state := fx.seed(t, model.StatusFailed)
	state.Control.Locked = true // a crashed action left the marker behind
	require.NoError(t, fx.store.Put(state))

	// no follow-up clear write can land
	fx.db.updateErr = errors.New("mysql down")

	got, err := fx.service.ApplyControlAction("t1", model.ActionRetry, "u1")
	require.NoError(t, err)
	assert.False(t, got.Control.Locked)

	rec, err := fx.db.GetUploadState("t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusResuming, rec.Status)
	assert.False(t, rec.Locked, "retry must persist the unlocked result in its own write")

	// the recovered upload accepts the next action
	got, err = fx.service.ApplyControlAction("t1", model.ActionPause, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, got.Progress.Status)
}

func TestApplyControlActionClearsLockMarkerViaPatch(t *testing.T) {
	fx := newControlFixture(t)
	fx.seed(t, model.StatusUploading)

	state, err := fx.service.ApplyControlAction("t1", model.ActionPause, "u1")
	require.NoError(t, err)
	assert.False(t, state.Control.Locked)

	// the clear lands as a column patch: durable row unlocked, cache entry
	// invalidated instead of rewritten
	rec, err := fx.db.GetUploadState("t1")
	require.NoError(t, err)
	assert.False(t, rec.Locked)
	assert.NotContains(t, fx.cache.entries, cacheKey("t1"))
}

func TestApplyControlActionCancel(t *testing.T) {
	fx := newControlFixture(t)
	fx.seed(t, model.StatusUploading)

	state, err := fx.service.ApplyControlAction("t1", model.ActionCancel, "u1")
	require.NoError(t, err)

	assert.Equal(t, model.StatusFailed, state.Progress.Status)
	assert.Equal(t, model.CancelledByUser, state.Progress.LastError)
	assert.True(t, state.Flags().IsCancelled)
	assert.Empty(t, state.Control.LeaseId)
	assert.Equal(t, []string{"lease-1"}, fx.blob.released)
}

func TestApplyControlActionCancelLeaseFailureIsNonFatal(t *testing.T) {
	fx := newControlFixture(t)
	fx.seed(t, model.StatusUploading)
	fx.blob.releaseErr = errors.New("lease service down")

	state, err := fx.service.ApplyControlAction("t1", model.ActionCancel, "u1")
	require.NoError(t, err, "a failed lease release must not block cancellation")
	assert.Equal(t, model.StatusFailed, state.Progress.Status)
	assert.Equal(t, []string{"lease-1"}, fx.blob.released, "release must still be attempted")
}

func TestApplyControlActionDoubleCancel(t *testing.T) {
	fx := newControlFixture(t)
	fx.seed(t, model.StatusUploading)

	_, err := fx.service.ApplyControlAction("t1", model.ActionCancel, "u1")
	require.NoError(t, err)

	state, err := fx.service.ApplyControlAction("t1", model.ActionCancel, "u1")
	require.NoError(t, err, "cancelling a cancelled upload is idempotent")
	assert.Equal(t, model.StatusFailed, state.Progress.Status)
	assert.Equal(t, model.CancelledByUser, state.Progress.LastError)
}

func TestApplyControlActionRollbackRestoresPreviousState(t *testing.T) {
	fx := newControlFixture(t)
	fx.seed(t, model.StatusUploading)

	// first save (the action) fails, second save (the rollback) succeeds
	fx.db.saveErr = errors.New("mysql down")
	fx.db.failSaves = 1

	_, err := fx.service.ApplyControlAction("t1", model.ActionPause, "u1")
	var de *DependencyError
	require.True(t, errors.As(err, &de))
	assert.NotEmpty(t, de.Ref)

	rec, getErr := fx.db.GetUploadState("t1")
	require.NoError(t, getErr)
	assert.Equal(t, model.StatusUploading, rec.Status, "previous state must be restored")
	assert.False(t, rec.Locked)
	assert.Empty(t, fx.dispatcher.signals, "worker must not be signalled after a failed persist")
}

func TestApplyControlActionRollbackFailure(t *testing.T) {
	fx := newControlFixture(t)
	fx.seed(t, model.StatusUploading)

	fx.db.saveErr = errors.New("mysql down")
	fx.db.failSaves = -1

	_, err := fx.service.ApplyControlAction("t1", model.ActionPause, "u1")
	var re *RollbackError
	require.True(t, errors.As(err, &re), "a failed rollback must be reported distinctly")
	assert.NotEmpty(t, re.Ref)
}

func TestInitiateUploadValidation(t *testing.T) {
	fx := newControlFixture(t)

	cases := []struct {
		name string
		req  *InitiateRequest
	}{
		{"missing user", &InitiateRequest{FileName: "a.txt", FileSize: 1, TempPath: "/tmp/x"}},
		{"missing file name", &InitiateRequest{UserId: "u1", FileSize: 1, TempPath: "/tmp/x"}},
		{"negative size", &InitiateRequest{UserId: "u1", FileName: "a.txt", FileSize: -1, TempPath: "/tmp/x"}},
		{"missing temp path", &InitiateRequest{UserId: "u1", FileName: "a.txt", FileSize: 1}},
		{"too large", &InitiateRequest{UserId: "u1", FileName: "a.txt", FileSize: 1024*1000 + 1, TempPath: "/tmp/x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.service.InitiateUpload(tc.req)
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}
}

func TestInitiateUploadCreatesInitializingState(t *testing.T) {
	fx := newControlFixture(t)

	state, err := fx.service.InitiateUpload(&InitiateRequest{
		UserId:   "u1",
		FileName: "report.pdf",
		FileSize: 2048,
		MimeType: "application/pdf",
		TempPath: "/tmp/staged",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, state.Metadata.TrackingId)
	assert.Equal(t, model.StatusInitializing, state.Progress.Status)
	assert.Equal(t, int64(2048), state.Progress.TotalBytes)
	assert.Contains(t, state.Blob.Locator, state.Metadata.TrackingId)

	got, err := fx.store.Get(state.Metadata.TrackingId)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.Metadata.UserId)
}

func TestStartTransfer(t *testing.T) {
	fx := newControlFixture(t)
	state := sampleState("t1", "u1")
	state.Progress.Status = model.StatusInitializing
	require.NoError(t, fx.store.Put(state))

	got, err := fx.service.StartTransfer("t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Progress.Status)
	assert.Equal(t, []string{"t1"}, fx.dispatcher.started)

	// starting twice is rejected
	_, err = fx.service.StartTransfer("t1", "u1")
	var te *TransitionError
	assert.True(t, errors.As(err, &te))
}

func TestControlLifecycle(t *testing.T) {
	fx := newControlFixture(t)
	fx.seed(t, model.StatusUploading)

	// pause
	state, err := fx.service.ApplyControlAction("t1", model.ActionPause, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, state.Progress.Status)

	// resume
	state, err = fx.service.ApplyControlAction("t1", model.ActionResume, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploading, state.Progress.Status)

	// transfer fails out of band
	state, err = fx.store.Get("t1")
	require.NoError(t, err)
	state.Progress.Status = model.StatusFailed
	state.Progress.LastError = "chunk 3 failed after 4 attempts"
	require.NoError(t, fx.store.Put(state))

	// retry
	state, err = fx.service.ApplyControlAction("t1", model.ActionRetry, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusResuming, state.Progress.Status)
	assert.Equal(t, 1, state.Control.RetryCount)

	// cancel
	state, err = fx.service.ApplyControlAction("t1", model.ActionCancel, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, state.Progress.Status)
	assert.Equal(t, model.CancelledByUser, state.Progress.LastError)
	assert.True(t, state.Flags().IsCancelled)
	assert.NotEmpty(t, fx.blob.released)
}
