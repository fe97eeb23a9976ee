package upload_service

import (
	"errors"
	"testing"
	"time"

	"chunk-upload-service/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseManagerAcquireRelease(t *testing.T) {
	blob, err := storage.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)
	lm := NewLeaseManager(blob, time.Minute)

	leaseId, err := lm.Acquire("uploads/u1/t1/data.bin")
	require.NoError(t, err)
	require.NotEmpty(t, leaseId)

	assert.True(t, lm.Release("uploads/u1/t1/data.bin", leaseId))

	// the key is free to lease again
	again, err := lm.Acquire("uploads/u1/t1/data.bin")
	require.NoError(t, err)
	assert.NotEmpty(t, again)
}

func TestLeaseManagerReleaseReportsOutcome(t *testing.T) {
	blob := &fakeBlob{releaseErr: errors.New("lease service down")}
	lm := NewLeaseManager(blob, time.Minute)

	assert.False(t, lm.Release("k", "lease-1"), "a failed release reports false")
	assert.True(t, lm.Release("k", ""), "nothing held counts as released")
}
