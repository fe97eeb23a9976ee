package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// LocalBlobStore local file system blob store, used for development and tests.
// Blocks are staged as files in a session directory; commit concatenates them
// in block-list order. The lease is a lock file beside the target.
type LocalBlobStore struct {
	basePath string
}

// NewLocalBlobStore create local blob store instance
func NewLocalBlobStore(basePath string) (*LocalBlobStore, error) {
	if basePath == "" {
		basePath = "./data/files"
	}

	// Ensure directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	return &LocalBlobStore{basePath: basePath}, nil
}

// InitiateUpload initiate the block upload session
func (s *LocalBlobStore) InitiateUpload(key string) (string, error) {
	uploadId := fmt.Sprintf("upload_%d", time.Now().UnixNano())
	uploadDir := filepath.Join(s.basePath, ".uploads", uploadId)

	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	// Store upload metadata
	metaPath := filepath.Join(uploadDir, "meta.json")
	meta := fmt.Sprintf(`{"key":%q,"uploadId":%q}`, key, uploadId)
	if err := os.WriteFile(metaPath, []byte(meta), 0644); err != nil {
		return "", fmt.Errorf("failed to write upload metadata: %w", err)
	}

	return uploadId, nil
}

// UploadBlock upload a block
func (s *LocalBlobStore) UploadBlock(key, uploadId string, index int, data []byte) (string, error) {
	uploadDir := filepath.Join(s.basePath, ".uploads", uploadId)
	blockPath := filepath.Join(uploadDir, fmt.Sprintf("block_%d", index))

	if err := os.WriteFile(blockPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write block %d: %w", index, err)
	}

	blockId := fmt.Sprintf("%d_%d", index, len(data))
	return blockId, nil
}

// CommitBlockList combine staged blocks into the final object
func (s *LocalBlobStore) CommitBlockList(key, uploadId string, blocks []BlockInfo) error {
	uploadDir := filepath.Join(s.basePath, ".uploads", uploadId)
	filePath := filepath.Join(s.basePath, key)

	// Ensure parent directory exists
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Sort blocks by index
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Index < blocks[j].Index
	})

	// Combine all blocks
	outFile, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer outFile.Close()

	for _, block := range blocks {
		blockPath := filepath.Join(uploadDir, fmt.Sprintf("block_%d", block.Index))
		blockData, err := os.ReadFile(blockPath)
		if err != nil {
			return fmt.Errorf("failed to read block %d: %w", block.Index, err)
		}

		if _, err := outFile.Write(blockData); err != nil {
			return fmt.Errorf("failed to write block %d: %w", block.Index, err)
		}
	}

	// Clean up upload directory
	os.RemoveAll(uploadDir)

	return nil
}

// AbortUpload discard the block upload session
func (s *LocalBlobStore) AbortUpload(key, uploadId string) error {
	uploadDir := filepath.Join(s.basePath, ".uploads", uploadId)
	return os.RemoveAll(uploadDir)
}

// ListBlocks list staged blocks
func (s *LocalBlobStore) ListBlocks(key, uploadId string) ([]BlockInfo, error) {
	uploadDir := filepath.Join(s.basePath, ".uploads", uploadId)

	files, err := os.ReadDir(uploadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload directory: %w", err)
	}

	blocks := make([]BlockInfo, 0)
	for _, file := range files {
		if file.IsDir() || file.Name() == "meta.json" {
			continue
		}

		var index int
		if _, err := fmt.Sscanf(file.Name(), "block_%d", &index); err != nil {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		blocks = append(blocks, BlockInfo{
			Index:   index,
			BlockId: fmt.Sprintf("%d_%d", index, info.Size()),
			Size:    info.Size(),
		})
	}

	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Index < blocks[j].Index
	})

	return blocks, nil
}

// AcquireLease acquire the advisory lease via a lock file
func (s *LocalBlobStore) AcquireLease(key string, duration time.Duration) (string, error) {
	lockPath := filepath.Join(s.basePath, leaseKey(key))

	if rec, err := s.getLease(lockPath); err == nil {
		if time.Now().Before(rec.ExpiresAt) {
			return "", ErrLeaseHeld
		}
	}

	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create lease directory: %w", err)
	}

	rec := leaseRecord{
		LeaseId:   uuid.NewString(),
		ExpiresAt: time.Now().Add(duration),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal lease record: %w", err)
	}

	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to acquire lease: %w", err)
	}

	return rec.LeaseId, nil
}

// ReleaseLease release the lease if leaseId still owns it
func (s *LocalBlobStore) ReleaseLease(key, leaseId string) error {
	lockPath := filepath.Join(s.basePath, leaseKey(key))

	rec, err := s.getLease(lockPath)
	if err != nil {
		return nil // No lock file, nothing to release
	}
	if rec.LeaseId != leaseId {
		return ErrLeaseHeld
	}

	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	return nil
}

func (s *LocalBlobStore) getLease(lockPath string) (*leaseRecord, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}

	var rec leaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease record: %w", err)
	}
	return &rec, nil
}

// Delete delete object
func (s *LocalBlobStore) Delete(key string) error {
	filePath := filepath.Join(s.basePath, key)

	err := os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// Exists check if object exists
func (s *LocalBlobStore) Exists(key string) bool {
	filePath := filepath.Join(s.basePath, key)

	_, err := os.Stat(filePath)
	return err == nil
}
