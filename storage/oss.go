package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
)

// OSSBlobStore Alibaba Cloud OSS blob store. Blocks map to multipart parts;
// the lease is a sidecar lock object as with S3.
type OSSBlobStore struct {
	bucket *oss.Bucket
}

// NewOSSBlobStore create OSS blob store instance
func NewOSSBlobStore(endpoint, accessKey, secretKey, bucketName string) (*OSSBlobStore, error) {
	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, ErrInvalid
	}

	// Create OSS client instance
	client, err := oss.New(endpoint, accessKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create oss client: %w", err)
	}

	// Get storage bucket
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &OSSBlobStore{bucket: bucket}, nil
}

// InitiateUpload initiate the block upload session
func (s *OSSBlobStore) InitiateUpload(key string) (string, error) {
	imur, err := s.bucket.InitiateMultipartUpload(key)
	if err != nil {
		return "", fmt.Errorf("failed to initiate upload: %w", err)
	}
	return imur.UploadID, nil
}

// UploadBlock upload a block. OSS part numbers start at 1, block indexes at 0.
func (s *OSSBlobStore) UploadBlock(key, uploadId string, index int, data []byte) (string, error) {
	imur := oss.InitiateMultipartUploadResult{
		Key:      key,
		UploadID: uploadId,
	}

	part, err := s.bucket.UploadPart(imur, bytes.NewReader(data), int64(len(data)), index+1)
	if err != nil {
		return "", fmt.Errorf("failed to upload block %d: %w", index, err)
	}

	return part.ETag, nil
}

// CommitBlockList commit the ordered block list
func (s *OSSBlobStore) CommitBlockList(key, uploadId string, blocks []BlockInfo) error {
	imur := oss.InitiateMultipartUploadResult{
		Key:      key,
		UploadID: uploadId,
	}

	ossParts := make([]oss.UploadPart, 0, len(blocks))
	for _, b := range blocks {
		ossParts = append(ossParts, oss.UploadPart{
			PartNumber: b.Index + 1,
			ETag:       b.BlockId,
		})
	}

	// Sort parts by part number
	sort.Slice(ossParts, func(i, j int) bool {
		return ossParts[i].PartNumber < ossParts[j].PartNumber
	})

	_, err := s.bucket.CompleteMultipartUpload(imur, ossParts)
	if err != nil {
		return fmt.Errorf("failed to commit block list: %w", err)
	}

	return nil
}

// AbortUpload discard the block upload session
func (s *OSSBlobStore) AbortUpload(key, uploadId string) error {
	imur := oss.InitiateMultipartUploadResult{
		Key:      key,
		UploadID: uploadId,
	}

	err := s.bucket.AbortMultipartUpload(imur)
	if err != nil {
		return fmt.Errorf("failed to abort upload: %w", err)
	}

	return nil
}

// ListBlocks list uploaded blocks
func (s *OSSBlobStore) ListBlocks(key, uploadId string) ([]BlockInfo, error) {
	imur := oss.InitiateMultipartUploadResult{
		Key:      key,
		UploadID: uploadId,
	}

	partsResult, err := s.bucket.ListUploadedParts(imur)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}

	blocks := make([]BlockInfo, 0, len(partsResult.UploadedParts))
	for _, p := range partsResult.UploadedParts {
		blocks = append(blocks, BlockInfo{
			Index:   p.PartNumber - 1,
			BlockId: p.ETag,
			Size:    int64(p.Size),
		})
	}

	return blocks, nil
}

// AcquireLease acquire the advisory lease via a sidecar lock object
func (s *OSSBlobStore) AcquireLease(key string, duration time.Duration) (string, error) {
	lockKey := leaseKey(key)

	if rec, err := s.getLease(lockKey); err == nil {
		if time.Now().Before(rec.ExpiresAt) {
			return "", ErrLeaseHeld
		}
	}

	rec := leaseRecord{
		LeaseId:   uuid.NewString(),
		ExpiresAt: time.Now().Add(duration),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal lease record: %w", err)
	}

	if err := s.bucket.PutObject(lockKey, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to acquire lease: %w", err)
	}

	return rec.LeaseId, nil
}

// ReleaseLease release the lease if leaseId still owns it
func (s *OSSBlobStore) ReleaseLease(key, leaseId string) error {
	lockKey := leaseKey(key)

	rec, err := s.getLease(lockKey)
	if err != nil {
		return nil // No lock object, nothing to release
	}
	if rec.LeaseId != leaseId {
		return ErrLeaseHeld
	}

	if err := s.bucket.DeleteObject(lockKey); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	return nil
}

func (s *OSSBlobStore) getLease(lockKey string) (*leaseRecord, error) {
	body, err := s.bucket.GetObject(lockKey)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read lease object: %w", err)
	}

	var rec leaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease record: %w", err)
	}
	return &rec, nil
}

// Delete delete object from OSS
func (s *OSSBlobStore) Delete(key string) error {
	err := s.bucket.DeleteObject(key)
	if err != nil {
		return fmt.Errorf("failed to delete from oss: %w", err)
	}
	return nil
}

// Exists check if object exists in OSS
func (s *OSSBlobStore) Exists(key string) bool {
	exists, err := s.bucket.IsObjectExist(key)
	if err != nil {
		return false
	}
	return exists
}
