package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsDerivation(t *testing.T) {
	cases := []struct {
		status    UploadStatus
		lastError string
		want      DerivedFlags
	}{
		{StatusPaused, "", DerivedFlags{IsPaused: true}},
		{StatusProcessing, "", DerivedFlags{IsRunning: true}},
		{StatusUploading, "", DerivedFlags{IsRunning: true}},
		{StatusResuming, "", DerivedFlags{IsRunning: true, IsRetrying: true}},
		{StatusCompleted, "", DerivedFlags{IsCompleted: true}},
		{StatusFailed, "disk full", DerivedFlags{IsFailed: true}},
		{StatusFailed, CancelledByUser, DerivedFlags{IsFailed: true, IsCancelled: true}},
		{StatusInitializing, "", DerivedFlags{}},
	}

	for _, tc := range cases {
		state := &UploadState{Progress: ProgressState{Status: tc.status, LastError: tc.lastError}}
		assert.Equal(t, tc.want, state.Flags(), "status %s", tc.status)
	}
}

func TestRecalculate(t *testing.T) {
	state := &UploadState{
		Chunks: map[int]*ChunkRecord{
			0: {Index: 0, Status: ChunkStatusUploaded, Size: 400},
			1: {Index: 1, Status: ChunkStatusUploaded, Size: 400},
			2: {Index: 2, Status: ChunkStatusPending, Size: 200},
		},
		Progress: ProgressState{TotalBytes: 1000, TotalChunks: 3},
	}

	state.Recalculate()

	assert.Equal(t, 2, state.Progress.ChunksCompleted)
	assert.Equal(t, int64(800), state.Progress.UploadedBytes)
	assert.InDelta(t, 80.0, state.Progress.Percentage, 0.001)
}

func TestCloneIsIndependent(t *testing.T) {
	now := time.Now()
	state := &UploadState{
		Chunks:  map[int]*ChunkRecord{0: {Index: 0, Status: ChunkStatusPending, Size: 10}},
		Control: ControlState{RetryCount: 1, LastRetryAt: &now},
		Blob:    BlobHandle{BlockIds: []string{"a"}},
	}

	cp := state.Clone()
	cp.Chunks[0].Status = ChunkStatusUploaded
	cp.Chunks[1] = &ChunkRecord{Index: 1}
	*cp.Control.LastRetryAt = now.Add(time.Hour)
	cp.Blob.BlockIds[0] = "b"

	assert.Equal(t, ChunkStatusPending, state.Chunks[0].Status)
	assert.Len(t, state.Chunks, 1)
	assert.Equal(t, now, *state.Control.LastRetryAt)
	assert.Equal(t, "a", state.Blob.BlockIds[0])
}

func TestOrderedChunks(t *testing.T) {
	state := &UploadState{
		Chunks: map[int]*ChunkRecord{
			2: {Index: 2},
			0: {Index: 0},
			1: {Index: 1},
		},
	}

	ordered := state.OrderedChunks()
	require.Len(t, ordered, 3)
	for i, chunk := range ordered {
		assert.Equal(t, i, chunk.Index)
	}
}

func TestParseControlAction(t *testing.T) {
	for _, valid := range []string{"pause", "resume", "retry", "cancel"} {
		action, ok := ParseControlAction(valid)
		assert.True(t, ok)
		assert.Equal(t, ControlAction(valid), action)
	}

	for _, invalid := range []string{"", "PAUSE", "stop", "delete"} {
		_, ok := ParseControlAction(invalid)
		assert.False(t, ok, "%q must be rejected", invalid)
	}
}

func TestRecordRoundTripRebuildsDerivedFields(t *testing.T) {
	retryAt := time.Now().Add(-time.Minute).Round(time.Second)
	state := &UploadState{
		Metadata: UploadMetadata{
			TrackingId: "t1",
			UserId:     "u1",
			FileName:   "a.bin",
			FileSize:   100,
		},
		Chunks: map[int]*ChunkRecord{
			1: {Index: 1, Status: ChunkStatusPending, Size: 50},
			0: {Index: 0, Status: ChunkStatusUploaded, Size: 50, BlockId: "b0"},
		},
		Control: ControlState{RetryCount: 2, LastRetryAt: &retryAt, LeaseId: "l1"},
		Progress: ProgressState{
			Status:          StatusUploading,
			ChunksCompleted: 1,
			TotalChunks:     2,
			UploadedBytes:   50,
			TotalBytes:      100,
		},
		Blob:         BlobHandle{Locator: "uploads/u1/t1/a.bin#s1", BlockIds: []string{"b0"}},
		LastModified: time.Now().Round(time.Second),
	}

	rec, err := ToRecord(state)
	require.NoError(t, err)
	back, err := FromRecord(rec)
	require.NoError(t, err)

	// the chunk map is rebuilt keyed by index and the percentage recomputed
	require.Len(t, back.Chunks, 2)
	assert.Equal(t, "b0", back.Chunks[0].BlockId)
	assert.Equal(t, ChunkStatusPending, back.Chunks[1].Status)
	assert.InDelta(t, 50.0, back.Progress.Percentage, 0.001)
	assert.Equal(t, state.Blob.Locator, back.Blob.Locator)
	assert.Equal(t, state.Control.LeaseId, back.Control.LeaseId)
}
