package upload_service

import (
	"fmt"
	"log"
	"time"

	"chunk-upload-service/storage"
)

// LeaseManager wraps blob lease acquire/release. Acquire failures block the
// transfer from starting; release is best effort since the lease expires on
// its own.
type LeaseManager struct {
	blob     storage.BlobStore
	duration time.Duration
}

// NewLeaseManager create a lease manager with the given lease duration
func NewLeaseManager(blob storage.BlobStore, duration time.Duration) *LeaseManager {
	return &LeaseManager{blob: blob, duration: duration}
}

// Acquire take the exclusive write lease on the blob key
func (lm *LeaseManager) Acquire(key string) (string, error) {
	leaseId, err := lm.blob.AcquireLease(key, lm.duration)
	if err != nil {
		return "", fmt.Errorf("failed to acquire lease on %s: %w", key, err)
	}
	return leaseId, nil
}

// Release give up the lease and report whether it was released. Failure is
// logged, never escalated: an orphaned lease expires after the lease duration.
func (lm *LeaseManager) Release(key, leaseId string) bool {
	if leaseId == "" {
		return true
	}
	if err := lm.blob.ReleaseLease(key, leaseId); err != nil {
		log.Printf("Warning: failed to release lease %s on %s: %v", leaseId, key, err)
		return false
	}
	return true
}
