package upload_service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"chunk-upload-service/database"
	"chunk-upload-service/model"

	"github.com/tidwall/gjson"
)

// cacheKeyPrefix namespaces upload state entries in Redis
const cacheKeyPrefix = "upload:state:"

// StateStore two-tier repository for upload state. The durable store is the
// source of truth; the cache tier is an optional read accelerator and is
// never trusted on its own: a missing, malformed or structurally incomplete
// cache entry degrades to a store read.
type StateStore struct {
	cache database.Cache
	db    database.Database
}

// NewStateStore create a state store over the given tiers
func NewStateStore(cache database.Cache, db database.Database) *StateStore {
	return &StateStore{cache: cache, db: db}
}

func cacheKey(trackingId string) string {
	return cacheKeyPrefix + trackingId
}

// validCachedState checks the cached JSON carries the fields every state must
// have before it is trusted. Anything else is treated as a cache miss.
func validCachedState(raw string) bool {
	if !gjson.Valid(raw) {
		return false
	}
	required := []string{"metadata.trackingId", "progress.status", "lastModified"}
	for _, path := range required {
		if !gjson.Get(raw, path).Exists() {
			return false
		}
	}
	return true
}

// Get load the state, cache first, falling back to the durable store and
// backfilling the cache on a miss. Returns ErrUploadNotFound when neither
// tier has the upload.
func (s *StateStore) Get(trackingId string) (*model.UploadState, error) {
	key := cacheKey(trackingId)

	raw, err := s.cache.GetCache(key)
	if err == nil {
		if validCachedState(raw) {
			var state model.UploadState
			if jsonErr := json.Unmarshal([]byte(raw), &state); jsonErr == nil {
				return &state, nil
			}
		}
		// Malformed entry: drop it and fall through to the store
		log.Printf("Warning: invalid cache entry for %s, falling back to store", trackingId)
		if delErr := s.cache.DeleteCache(key); delErr != nil {
			log.Printf("Warning: failed to drop invalid cache entry for %s: %v", trackingId, delErr)
		}
	} else if !database.IsCacheMiss(err) {
		// Cache tier unavailable is not fatal, the store still answers
		log.Printf("Warning: cache read failed for %s: %v", trackingId, err)
	}

	rec, err := s.db.GetUploadState(trackingId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to load upload state %s: %w", trackingId, err)
	}

	state, err := model.FromRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode upload state %s: %w", trackingId, err)
	}

	// Backfill the cache, best effort
	if data, jsonErr := json.Marshal(state); jsonErr == nil {
		if setErr := s.cache.SetCache(key, string(data)); setErr != nil {
			log.Printf("Warning: failed to backfill cache for %s: %v", trackingId, setErr)
		}
	}

	return state, nil
}

// Put persist the state to both tiers concurrently. A durable-store failure
// is fatal and the stale cache entry is dropped so later reads cannot observe
// the unpersisted state; a cache failure alone is logged and swallowed.
func (s *StateStore) Put(state *model.UploadState) error {
	trackingId := state.Metadata.TrackingId
	key := cacheKey(trackingId)

	rec, err := model.ToRecord(state)
	if err != nil {
		return fmt.Errorf("failed to encode upload state %s: %w", trackingId, err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal upload state %s: %w", trackingId, err)
	}

	var dbErr, cacheErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dbErr = s.db.SaveUploadState(rec)
	}()
	go func() {
		defer wg.Done()
		cacheErr = s.cache.SetCache(key, string(data))
	}()
	wg.Wait()

	if dbErr != nil {
		if delErr := s.cache.DeleteCache(key); delErr != nil {
			log.Printf("Warning: failed to invalidate cache for %s after store failure: %v", trackingId, delErr)
		}
		return fmt.Errorf("failed to persist upload state %s: %w", trackingId, dbErr)
	}
	if cacheErr != nil {
		log.Printf("Warning: failed to cache upload state %s: %v", trackingId, cacheErr)
	}
	return nil
}

// Patch update a subset of columns in place and invalidate the cache entry.
// Used for the transient lock marker where a whole-record write is overkill.
func (s *StateStore) Patch(trackingId string, patch map[string]interface{}) error {
	if err := s.db.UpdateUploadState(trackingId, patch); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrUploadNotFound
		}
		return fmt.Errorf("failed to patch upload state %s: %w", trackingId, err)
	}
	if err := s.cache.DeleteCache(cacheKey(trackingId)); err != nil {
		log.Printf("Warning: failed to invalidate cache for %s: %v", trackingId, err)
	}
	return nil
}

// Delete remove the state from both tiers
func (s *StateStore) Delete(trackingId string) error {
	if err := s.db.DeleteUploadState(trackingId); err != nil {
		return fmt.Errorf("failed to delete upload state %s: %w", trackingId, err)
	}
	if err := s.cache.DeleteCache(cacheKey(trackingId)); err != nil {
		log.Printf("Warning: failed to invalidate cache for %s: %v", trackingId, err)
	}
	return nil
}
