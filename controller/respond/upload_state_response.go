package respond

import (
	"time"

	"chunk-upload-service/model"
)

// UploadStateView public view of an upload: canonical status, derived control
// flags and progress. Internal bookkeeping (lease, chunk map, temp path) is
// not exposed.
type UploadStateView struct {
	TrackingId   string             `json:"trackingId" example:"6f1f0c2e-..." description:"Unique upload identifier"`
	FileName     string             `json:"fileName"`
	FileSize     int64              `json:"fileSize"`
	MimeType     string             `json:"mimeType"`
	Status       string             `json:"status" example:"UPLOADING"`
	Flags        UploadFlagsView    `json:"flags"`
	Progress     UploadProgressView `json:"progress"`
	RetryCount   int                `json:"retryCount"`
	LastRetryAt  *time.Time         `json:"lastRetryAt,omitempty"`
	LastError    string             `json:"lastError,omitempty"`
	StartTime    time.Time          `json:"startTime"`
	LastModified time.Time          `json:"lastModified"`
}

// UploadFlagsView boolean view of the status, derived, never stored
type UploadFlagsView struct {
	IsPaused    bool `json:"isPaused"`
	IsCancelled bool `json:"isCancelled"`
	IsRunning   bool `json:"isRunning"`
	IsRetrying  bool `json:"isRetrying"`
	IsCompleted bool `json:"isCompleted"`
	IsFailed    bool `json:"isFailed"`
}

// UploadProgressView chunk-level progress
type UploadProgressView struct {
	ChunksCompleted int     `json:"chunksCompleted"`
	TotalChunks     int     `json:"totalChunks"`
	UploadedBytes   int64   `json:"uploadedBytes"`
	TotalBytes      int64   `json:"totalBytes"`
	Percentage      float64 `json:"percentage"`
}

// InitiateUploadResponse response after creating an upload
type InitiateUploadResponse struct {
	TrackingId string `json:"trackingId" description:"Unique upload identifier"`
	Status     string `json:"status" example:"INITIALIZING"`
}

// ToUploadStateView converts an UploadState into its public view.
func ToUploadStateView(state *model.UploadState) *UploadStateView {
	if state == nil {
		return nil
	}

	flags := state.Flags()
	return &UploadStateView{
		TrackingId: state.Metadata.TrackingId,
		FileName:   state.Metadata.FileName,
		FileSize:   state.Metadata.FileSize,
		MimeType:   state.Metadata.MimeType,
		Status:     string(state.Progress.Status),
		Flags: UploadFlagsView{
			IsPaused:    flags.IsPaused,
			IsCancelled: flags.IsCancelled,
			IsRunning:   flags.IsRunning,
			IsRetrying:  flags.IsRetrying,
			IsCompleted: flags.IsCompleted,
			IsFailed:    flags.IsFailed,
		},
		Progress: UploadProgressView{
			ChunksCompleted: state.Progress.ChunksCompleted,
			TotalChunks:     state.Progress.TotalChunks,
			UploadedBytes:   state.Progress.UploadedBytes,
			TotalBytes:      state.Progress.TotalBytes,
			Percentage:      state.Progress.Percentage,
		},
		RetryCount:   state.Control.RetryCount,
		LastRetryAt:  state.Control.LastRetryAt,
		LastError:    state.Progress.LastError,
		StartTime:    state.Metadata.StartTime,
		LastModified: state.LastModified,
	}
}
