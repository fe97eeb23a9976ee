package upload_service

import (
	"log"
	"os"
	"time"

	"chunk-upload-service/model"
	"chunk-upload-service/storage"
)

// CleanupProcessor background loop that fails stalled uploads and purges
// long-terminal records together with their remote remnants.
type CleanupProcessor struct {
	store             *StateStore
	blob              storage.BlobStore
	worker            *TransferWorker
	locks             *KeyedMutex
	stopChan          chan struct{}
	interval          time.Duration
	batchSize         int
	stalledAfter      time.Duration
	terminalRetention time.Duration
}

// NewCleanupProcessor create the cleanup processor
func NewCleanupProcessor(store *StateStore, blob storage.BlobStore, worker *TransferWorker,
	locks *KeyedMutex, interval, stalledAfter, terminalRetention time.Duration) *CleanupProcessor {
	return &CleanupProcessor{
		store:             store,
		blob:              blob,
		worker:            worker,
		locks:             locks,
		stopChan:          make(chan struct{}),
		interval:          interval,
		batchSize:         100,
		stalledAfter:      stalledAfter,
		terminalRetention: terminalRetention,
	}
}

// Start start the cleanup loop
func (cp *CleanupProcessor) Start() {
	log.Println("Cleanup processor started")
	go cp.run()
}

// Stop stop the cleanup loop
func (cp *CleanupProcessor) Stop() {
	log.Println("Stopping cleanup processor...")
	close(cp.stopChan)
}

func (cp *CleanupProcessor) run() {
	ticker := time.NewTicker(cp.interval)
	defer ticker.Stop()

	// Run once at startup
	cp.sweep()

	for {
		select {
		case <-cp.stopChan:
			log.Println("Cleanup processor stopped")
			return
		case <-ticker.C:
			cp.sweep()
		}
	}
}

func (cp *CleanupProcessor) sweep() {
	failed := cp.failStalledUploads()
	if failed > 0 {
		log.Printf("Cleanup: failed %d stalled uploads", failed)
	}

	purged := cp.purgeTerminalUploads()
	if purged > 0 {
		log.Printf("Cleanup: purged %d terminal upload records", purged)
	}
}

// failStalledUploads mark non-terminal uploads that stopped making progress
// as FAILED so clients can retry them
func (cp *CleanupProcessor) failStalledUploads() int {
	before := time.Now().Add(-cp.stalledAfter)
	recs, err := cp.store.db.ListStalledUploads(before, cp.batchSize)
	if err != nil {
		log.Printf("Cleanup: failed to list stalled uploads: %v", err)
		return 0
	}

	count := 0
	for _, rec := range recs {
		trackingId := rec.TrackingId
		// A live session is still working even if its last persist is old
		if cp.worker.IsRunning(trackingId) {
			continue
		}

		cp.locks.Lock(trackingId)
		state, err := cp.store.Get(trackingId)
		if err == nil && !state.Progress.Status.IsTerminal() && state.LastModified.Before(before) {
			state.Progress.Status = model.StatusFailed
			state.Progress.LastError = "upload stalled"
			state.Control.Locked = false
			state.LastModified = time.Now()
			if err := cp.store.Put(state); err != nil {
				log.Printf("Cleanup: failed to mark upload %s stalled: %v", trackingId, err)
			} else {
				count++
			}
		}
		cp.locks.Unlock(trackingId)
	}
	return count
}

// purgeTerminalUploads delete terminal records past retention along with any
// leftover remote session, lease and staged file
func (cp *CleanupProcessor) purgeTerminalUploads() int {
	before := time.Now().Add(-cp.terminalRetention)
	recs, err := cp.store.db.ListTerminalBefore(before, cp.batchSize)
	if err != nil {
		log.Printf("Cleanup: failed to list terminal uploads: %v", err)
		return 0
	}

	count := 0
	for _, rec := range recs {
		trackingId := rec.TrackingId
		cp.locks.Lock(trackingId)

		state, err := cp.store.Get(trackingId)
		if err == nil {
			key, uploadId := splitLocator(state.Blob.Locator)
			// Failed uploads may have left a remote session behind
			if state.Progress.Status == model.StatusFailed && uploadId != "" {
				if err := cp.blob.AbortUpload(key, uploadId); err != nil {
					log.Printf("Cleanup: failed to abort remote session for %s: %v", trackingId, err)
				}
			}
			if state.Control.LeaseId != "" {
				if err := cp.blob.ReleaseLease(key, state.Control.LeaseId); err != nil {
					log.Printf("Cleanup: failed to release lease for %s: %v", trackingId, err)
				}
			}
			if state.Metadata.TempPath != "" {
				if err := os.Remove(state.Metadata.TempPath); err != nil && !os.IsNotExist(err) {
					log.Printf("Cleanup: failed to remove staged file for %s: %v", trackingId, err)
				}
			}
		}

		if err := cp.store.Delete(trackingId); err != nil {
			log.Printf("Cleanup: failed to delete upload record %s: %v", trackingId, err)
		} else {
			count++
		}
		cp.locks.Unlock(trackingId)
	}
	return count
}
