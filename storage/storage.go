package storage

import (
	"errors"
	"time"

	"chunk-upload-service/conf"
)

// BlobStore unified blob target interface. An upload streams blocks against a
// remote upload session, then commits the ordered block list to materialize
// the object. The lease is an advisory exclusive-writer lock on the key.
type BlobStore interface {
	// Block upload session
	InitiateUpload(key string) (string, error)                                 // Returns remote uploadId
	UploadBlock(key, uploadId string, index int, data []byte) (string, error)  // Returns blockId
	CommitBlockList(key, uploadId string, blocks []BlockInfo) error            // Materialize the object
	AbortUpload(key, uploadId string) error                                    // Discard the session
	ListBlocks(key, uploadId string) ([]BlockInfo, error)                      // List uploaded blocks for resume

	// Lease (advisory exclusive-writer lock on key)
	AcquireLease(key string, duration time.Duration) (string, error) // Returns leaseId
	ReleaseLease(key, leaseId string) error

	// Object operations
	Delete(key string) error
	Exists(key string) bool
}

// BlockInfo uploaded block information
type BlockInfo struct {
	Index   int    `json:"index"`
	BlockId string `json:"blockId"`
	Size    int64  `json:"size"`
}

var (
	ErrNotFound  = errors.New("blob not found")
	ErrInvalid   = errors.New("invalid storage configuration")
	ErrLeaseHeld = errors.New("lease already held")
)

// NewBlobStore create blob store instance by configuration
func NewBlobStore() (BlobStore, error) {
	storageType := conf.Cfg.Storage.Type

	switch storageType {
	case "local":
		return NewLocalBlobStore(conf.Cfg.Storage.Local.BasePath)
	case "oss":
		return NewOSSBlobStore(conf.Cfg.Storage.OSS.Endpoint, conf.Cfg.Storage.OSS.AccessKey,
			conf.Cfg.Storage.OSS.SecretKey, conf.Cfg.Storage.OSS.Bucket)
	case "s3":
		return NewS3BlobStore(conf.Cfg.Storage.S3.Region, conf.Cfg.Storage.S3.Endpoint,
			conf.Cfg.Storage.S3.AccessKey, conf.Cfg.Storage.S3.SecretKey, conf.Cfg.Storage.S3.Bucket)
	case "minio":
		return NewMinIOBlobStore(conf.Cfg.Storage.MinIO.Endpoint, conf.Cfg.Storage.MinIO.AccessKey,
			conf.Cfg.Storage.MinIO.SecretKey, conf.Cfg.Storage.MinIO.Bucket)
	default:
		// Default to local storage
		return NewLocalBlobStore(conf.Cfg.Storage.Local.BasePath)
	}
}

// leaseKey sidecar lock object guarding key
func leaseKey(key string) string {
	return key + ".lease"
}

// leaseRecord lock object payload
type leaseRecord struct {
	LeaseId   string    `json:"leaseId"`
	ExpiresAt time.Time `json:"expiresAt"`
}
