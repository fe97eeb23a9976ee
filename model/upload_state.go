package model

import "time"

// UploadStatus canonical upload status
type UploadStatus string

const (
	StatusInitializing UploadStatus = "INITIALIZING" // State created, transfer not started
	StatusProcessing   UploadStatus = "PROCESSING"   // Preparing transfer (lease, chunk plan)
	StatusUploading    UploadStatus = "UPLOADING"    // Chunks being transferred
	StatusPaused       UploadStatus = "PAUSED"       // Transfer paused by client
	StatusResuming     UploadStatus = "RESUMING"     // Retry accepted, transfer restarting
	StatusFailed       UploadStatus = "FAILED"       // Terminal: failed or cancelled
	StatusCompleted    UploadStatus = "COMPLETED"    // Terminal: block list committed
)

// IsTerminal reports whether no further transfer activity happens in this status.
// Note FAILED still accepts retry/cancel control actions.
func (s UploadStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ControlAction client-issued control action
type ControlAction string

const (
	ActionPause  ControlAction = "pause"
	ActionResume ControlAction = "resume"
	ActionRetry  ControlAction = "retry"
	ActionCancel ControlAction = "cancel"
)

// ParseControlAction validates an action string from the API layer.
func ParseControlAction(s string) (ControlAction, bool) {
	switch ControlAction(s) {
	case ActionPause, ActionResume, ActionRetry, ActionCancel:
		return ControlAction(s), true
	}
	return "", false
}

// ChunkStatus per-chunk transfer status
type ChunkStatus string

const (
	ChunkStatusPending   ChunkStatus = "pending"
	ChunkStatusUploading ChunkStatus = "uploading"
	ChunkStatusUploaded  ChunkStatus = "uploaded"
	ChunkStatusFailed    ChunkStatus = "failed"
)

// UploadMetadata immutable descriptor captured at upload initiation
type UploadMetadata struct {
	TrackingId      string    `json:"trackingId"`      // Unique upload identifier
	UserId          string    `json:"userId"`          // Owner (authorization subject)
	TenantId        string    `json:"tenantId"`        // Tenant scope
	FileName        string    `json:"fileName"`        // Original file name
	FileSize        int64     `json:"fileSize"`        // Total bytes
	MimeType        string    `json:"mimeType"`        // MIME type
	Category        string    `json:"category"`        // Business category
	AccessLevel     string    `json:"accessLevel"`     // private/tenant/public
	RetentionPolicy string    `json:"retentionPolicy"` // Retention policy name
	StartTime       time.Time `json:"startTime"`       // Initiation timestamp
	TempPath        string    `json:"tempPath"`        // Staged source file on local disk
}

// ChunkRecord status of a single chunk, keyed by its index
type ChunkRecord struct {
	Index      int         `json:"index"`             // Contiguous from 0, never reused
	Status     ChunkStatus `json:"status"`            // pending/uploading/uploaded/failed
	Size       int64       `json:"size"`              // Chunk byte size
	RetryCount int         `json:"retryCount"`        // Per-chunk upload attempts beyond the first
	BlockId    string      `json:"blockId,omitempty"` // Remote block identifier once uploaded
}

// ControlState control bookkeeping for an upload.
// The five client-facing booleans (isPaused etc.) are NOT stored; they are a
// derived view of ProgressState.Status, see DerivedFlags.
type ControlState struct {
	RetryCount  int        `json:"retryCount"`            // Whole-upload retries consumed
	LastRetryAt *time.Time `json:"lastRetryAt,omitempty"` // Stamped on each retry
	Locked      bool       `json:"locked"`                // Transient in-flight marker, observability only
	LeaseId     string     `json:"leaseId,omitempty"`     // Remote lease handle, set by the worker
}

// ProgressState transfer progress for an upload
type ProgressState struct {
	Status          UploadStatus `json:"status"`
	ChunksCompleted int          `json:"chunksCompleted"`
	TotalChunks     int          `json:"totalChunks"`
	UploadedBytes   int64        `json:"uploadedBytes"`
	TotalBytes      int64        `json:"totalBytes"`
	Percentage      float64      `json:"percentage"`
	LastError       string       `json:"lastError,omitempty"`
}

// BlobHandle reference to the remote blob target
type BlobHandle struct {
	Locator  string   `json:"locator"`            // e.g. s3://bucket/key#uploadId
	BlockIds []string `json:"blockIds,omitempty"` // Ordered committed block identifiers
}

// UploadState the unit of storage, caching and locking: one per in-flight upload
type UploadState struct {
	Metadata UploadMetadata       `json:"metadata"`
	Chunks   map[int]*ChunkRecord `json:"chunks"`
	Control  ControlState         `json:"control"`
	Progress ProgressState        `json:"progress"`
	Blob     BlobHandle           `json:"blob"`
	// LastModified is refreshed on every persisted mutation
	LastModified time.Time `json:"lastModified"`
}

// CancelledByUser is the ProgressState.LastError value recorded when a client
// cancels an upload. cancel maps to terminal FAILED rather than a separate
// CANCELLED status; this marker keeps the two distinguishable in telemetry.
const CancelledByUser = "cancelled by user"

// DerivedFlags client-facing boolean view of the canonical status
type DerivedFlags struct {
	IsPaused    bool `json:"isPaused"`
	IsCancelled bool `json:"isCancelled"`
	IsRunning   bool `json:"isRunning"`
	IsRetrying  bool `json:"isRetrying"`
	IsCompleted bool `json:"isCompleted"`
	IsFailed    bool `json:"isFailed"`
}

// Flags computes the boolean view from the canonical status. Cancellation is
// recorded as FAILED with a distinct last error, so IsCancelled keys off that.
func (s *UploadState) Flags() DerivedFlags {
	status := s.Progress.Status
	return DerivedFlags{
		IsPaused:    status == StatusPaused,
		IsCancelled: status == StatusFailed && s.Progress.LastError == CancelledByUser,
		IsRunning:   status == StatusProcessing || status == StatusUploading || status == StatusResuming,
		IsRetrying:  status == StatusResuming,
		IsCompleted: status == StatusCompleted,
		IsFailed:    status == StatusFailed,
	}
}

// Recalculate refreshes the aggregate progress counters from the chunk map.
func (s *UploadState) Recalculate() {
	completed := 0
	var uploaded int64
	for _, chunk := range s.Chunks {
		if chunk.Status == ChunkStatusUploaded {
			completed++
			uploaded += chunk.Size
		}
	}
	s.Progress.ChunksCompleted = completed
	s.Progress.UploadedBytes = uploaded
	if s.Progress.TotalBytes > 0 {
		s.Progress.Percentage = float64(uploaded) / float64(s.Progress.TotalBytes) * 100
	}
}

// Clone deep-copies the state so a snapshot survives later mutation.
func (s *UploadState) Clone() *UploadState {
	cp := *s
	cp.Chunks = make(map[int]*ChunkRecord, len(s.Chunks))
	for idx, chunk := range s.Chunks {
		c := *chunk
		cp.Chunks[idx] = &c
	}
	if s.Control.LastRetryAt != nil {
		t := *s.Control.LastRetryAt
		cp.Control.LastRetryAt = &t
	}
	cp.Blob.BlockIds = append([]string(nil), s.Blob.BlockIds...)
	return &cp
}

// OrderedChunks returns the chunk records sorted by index.
func (s *UploadState) OrderedChunks() []*ChunkRecord {
	chunks := make([]*ChunkRecord, 0, len(s.Chunks))
	for i := 0; i < len(s.Chunks); i++ {
		if chunk, ok := s.Chunks[i]; ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
