package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3BlobStore AWS S3 compatible blob store (supports AWS S3 and MinIO).
// Blocks map to multipart parts; the lease is a sidecar lock object since S3
// has no native lease API.
type S3BlobStore struct {
	client *s3.Client
	bucket string
}

// NewS3BlobStore create S3 blob store instance
func NewS3BlobStore(region, endpoint, accessKey, secretKey, bucketName string) (*S3BlobStore, error) {
	if accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, ErrInvalid
	}

	ctx := context.Background()

	// Create credentials
	creds := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")

	// Load AWS configuration
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if endpoint != "" {
		// Custom endpoint (for MinIO or S3-compatible services)
		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
		return &S3BlobStore{client: client, bucket: bucketName}, nil
	}

	// Standard AWS S3
	return &S3BlobStore{client: s3.NewFromConfig(cfg), bucket: bucketName}, nil
}

// NewMinIOBlobStore create MinIO blob store instance (alias for S3BlobStore)
func NewMinIOBlobStore(endpoint, accessKey, secretKey, bucketName string) (*S3BlobStore, error) {
	// MinIO uses "us-east-1" as default region, but it doesn't really matter
	return NewS3BlobStore("us-east-1", endpoint, accessKey, secretKey, bucketName)
}

// InitiateUpload initiate the block upload session
func (s *S3BlobStore) InitiateUpload(key string) (string, error) {
	ctx := context.Background()

	result, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to initiate upload: %w", err)
	}

	return *result.UploadId, nil
}

// UploadBlock upload a block. S3 part numbers start at 1, block indexes at 0.
func (s *S3BlobStore) UploadBlock(key, uploadId string, index int, data []byte) (string, error) {
	ctx := context.Background()

	result, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadId),
		PartNumber: aws.Int32(int32(index + 1)),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload block %d: %w", index, err)
	}

	return *result.ETag, nil
}

// CommitBlockList commit the ordered block list
func (s *S3BlobStore) CommitBlockList(key, uploadId string, blocks []BlockInfo) error {
	ctx := context.Background()

	completedParts := make([]types.CompletedPart, 0, len(blocks))
	for _, b := range blocks {
		completedParts = append(completedParts, types.CompletedPart{
			PartNumber: aws.Int32(int32(b.Index + 1)),
			ETag:       aws.String(b.BlockId),
		})
	}

	// Sort parts by part number
	sort.Slice(completedParts, func(i, j int) bool {
		return *completedParts[i].PartNumber < *completedParts[j].PartNumber
	})

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadId),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to commit block list: %w", err)
	}

	return nil
}

// AbortUpload discard the block upload session
func (s *S3BlobStore) AbortUpload(key, uploadId string) error {
	ctx := context.Background()

	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadId),
	})
	if err != nil {
		return fmt.Errorf("failed to abort upload: %w", err)
	}

	return nil
}

// ListBlocks list uploaded blocks
func (s *S3BlobStore) ListBlocks(key, uploadId string) ([]BlockInfo, error) {
	ctx := context.Background()

	result, err := s.client.ListParts(ctx, &s3.ListPartsInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadId),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}

	blocks := make([]BlockInfo, 0, len(result.Parts))
	for _, p := range result.Parts {
		blocks = append(blocks, BlockInfo{
			Index:   int(*p.PartNumber) - 1,
			BlockId: *p.ETag,
			Size:    *p.Size,
		})
	}

	return blocks, nil
}

// AcquireLease acquire the advisory lease via a sidecar lock object. An
// unexpired lock held by another writer returns ErrLeaseHeld.
func (s *S3BlobStore) AcquireLease(key string, duration time.Duration) (string, error) {
	ctx := context.Background()
	lockKey := leaseKey(key)

	if rec, err := s.getLease(ctx, lockKey); err == nil {
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

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(lockKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to acquire lease: %w", err)
	}

	return rec.LeaseId, nil
}

// ReleaseLease release the lease if leaseId still owns it
func (s *S3BlobStore) ReleaseLease(key, leaseId string) error {
	ctx := context.Background()
	lockKey := leaseKey(key)

	rec, err := s.getLease(ctx, lockKey)
	if err != nil {
		return nil // No lock object, nothing to release
	}
	if rec.LeaseId != leaseId {
		return ErrLeaseHeld
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(lockKey),
	})
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	return nil
}

func (s *S3BlobStore) getLease(ctx context.Context, lockKey string) (*leaseRecord, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(lockKey),
	})
	if err != nil {
		return nil, err
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read lease object: %w", err)
	}

	var rec leaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease record: %w", err)
	}
	return &rec, nil
}

// Delete delete object from S3
func (s *S3BlobStore) Delete(key string) error {
	ctx := context.Background()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from s3: %w", err)
	}

	return nil
}

// Exists check if object exists in S3
func (s *S3BlobStore) Exists(key string) bool {
	ctx := context.Background()

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	return err == nil
}
