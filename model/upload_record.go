package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// UploadStateRecord is the durable serialization of an UploadState: one record
// per tracking ID, chunk map flattened to a JSON array, blob handle flattened
// to a resource locator plus a block-id array.
type UploadStateRecord struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	// Upload identifier
	TrackingId string `gorm:"uniqueIndex;type:varchar(255)" json:"tracking_id"`

	// Metadata (immutable after creation)
	UserId          string    `gorm:"type:varchar(255);index" json:"user_id"`
	TenantId        string    `gorm:"type:varchar(255)" json:"tenant_id"`
	FileName        string    `gorm:"type:varchar(255)" json:"file_name"`
	FileSize        int64     `json:"file_size"`
	MimeType        string    `gorm:"type:varchar(100)" json:"mime_type"`
	Category        string    `gorm:"type:varchar(100)" json:"category"`
	AccessLevel     string    `gorm:"type:varchar(50)" json:"access_level"`
	RetentionPolicy string    `gorm:"type:varchar(100)" json:"retention_policy"`
	StartTime       time.Time `json:"start_time"`
	TempPath        string    `gorm:"type:varchar(500)" json:"temp_path"`

	// Progress
	Status          UploadStatus `gorm:"type:varchar(20);index;default:'INITIALIZING'" json:"status"`
	ChunksCompleted int          `gorm:"type:int;default:0" json:"chunks_completed"`
	TotalChunks     int          `gorm:"type:int;default:0" json:"total_chunks"`
	UploadedBytes   int64        `json:"uploaded_bytes"`
	TotalBytes      int64        `json:"total_bytes"`
	LastError       string       `gorm:"type:text" json:"last_error"`

	// Control bookkeeping
	RetryCount  int        `gorm:"type:int;default:0" json:"retry_count"`
	LastRetryAt *time.Time `gorm:"type:timestamp" json:"last_retry_at"`
	Locked      bool       `gorm:"default:false" json:"locked"`
	LeaseId     string     `gorm:"type:varchar(255)" json:"lease_id"`

	// Chunk map serialized as a JSON array ordered by index
	Chunks string `gorm:"type:longtext" json:"chunks"`

	// Blob target
	BlobLocator string `gorm:"type:varchar(500)" json:"blob_locator"`
	BlockIds    string `gorm:"type:longtext" json:"block_ids"` // JSON array, commit order

	// Timestamps
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName sets custom table name
func (UploadStateRecord) TableName() string {
	return "tb_upload_state"
}

// ToRecord flattens an UploadState into its durable form.
func ToRecord(state *UploadState) (*UploadStateRecord, error) {
	chunks, err := json.Marshal(state.OrderedChunks())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chunk array: %w", err)
	}
	blockIds, err := json.Marshal(state.Blob.BlockIds)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal block ids: %w", err)
	}

	return &UploadStateRecord{
		TrackingId:      state.Metadata.TrackingId,
		UserId:          state.Metadata.UserId,
		TenantId:        state.Metadata.TenantId,
		FileName:        state.Metadata.FileName,
		FileSize:        state.Metadata.FileSize,
		MimeType:        state.Metadata.MimeType,
		Category:        state.Metadata.Category,
		AccessLevel:     state.Metadata.AccessLevel,
		RetentionPolicy: state.Metadata.RetentionPolicy,
		StartTime:       state.Metadata.StartTime,
		TempPath:        state.Metadata.TempPath,
		Status:          state.Progress.Status,
		ChunksCompleted: state.Progress.ChunksCompleted,
		TotalChunks:     state.Progress.TotalChunks,
		UploadedBytes:   state.Progress.UploadedBytes,
		TotalBytes:      state.Progress.TotalBytes,
		LastError:       state.Progress.LastError,
		RetryCount:      state.Control.RetryCount,
		LastRetryAt:     state.Control.LastRetryAt,
		Locked:          state.Control.Locked,
		LeaseId:         state.Control.LeaseId,
		Chunks:          string(chunks),
		BlobLocator:     state.Blob.Locator,
		BlockIds:        string(blockIds),
		UpdatedAt:       state.LastModified,
	}, nil
}

// FromRecord rehydrates the full UploadState from its durable form, rebuilding
// the chunk map from the stored array and the blob handle from the locator.
func FromRecord(rec *UploadStateRecord) (*UploadState, error) {
	var chunkList []*ChunkRecord
	if rec.Chunks != "" {
		if err := json.Unmarshal([]byte(rec.Chunks), &chunkList); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chunk array for %s: %w", rec.TrackingId, err)
		}
	}
	chunks := make(map[int]*ChunkRecord, len(chunkList))
	for _, chunk := range chunkList {
		chunks[chunk.Index] = chunk
	}

	var blockIds []string
	if rec.BlockIds != "" {
		if err := json.Unmarshal([]byte(rec.BlockIds), &blockIds); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block ids for %s: %w", rec.TrackingId, err)
		}
	}

	state := &UploadState{
		Metadata: UploadMetadata{
			TrackingId:      rec.TrackingId,
			UserId:          rec.UserId,
			TenantId:        rec.TenantId,
			FileName:        rec.FileName,
			FileSize:        rec.FileSize,
			MimeType:        rec.MimeType,
			Category:        rec.Category,
			AccessLevel:     rec.AccessLevel,
			RetentionPolicy: rec.RetentionPolicy,
			StartTime:       rec.StartTime,
			TempPath:        rec.TempPath,
		},
		Chunks: chunks,
		Control: ControlState{
			RetryCount:  rec.RetryCount,
			LastRetryAt: rec.LastRetryAt,
			Locked:      rec.Locked,
			LeaseId:     rec.LeaseId,
		},
		Progress: ProgressState{
			Status:          rec.Status,
			ChunksCompleted: rec.ChunksCompleted,
			TotalChunks:     rec.TotalChunks,
			UploadedBytes:   rec.UploadedBytes,
			TotalBytes:      rec.TotalBytes,
			LastError:       rec.LastError,
		},
		Blob: BlobHandle{
			Locator:  rec.BlobLocator,
			BlockIds: blockIds,
		},
		LastModified: rec.UpdatedAt,
	}
	if state.Progress.TotalBytes > 0 {
		state.Progress.Percentage = float64(state.Progress.UploadedBytes) / float64(state.Progress.TotalBytes) * 100
	}
	return state, nil
}
