package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"chunk-upload-service/model"

	"github.com/cockroachdb/pebble"
)

// PebbleDatabase PebbleDB database implementation, an embedded alternative to
// MySQL for single-node deployments
type PebbleDatabase struct {
	db *pebble.DB

	// Serializes read-modify-write cycles (SaveUploadState is a whole-record
	// replace; UpdateUploadState patches a subset of fields)
	mu sync.Mutex

	idCounter atomic.Int64
}

// PebbleConfig PebbleDB configuration
type PebbleConfig struct {
	DataDir string
}

// Single collection: key {tracking_id}, value JSON(UploadStateRecord)
const collectionUploadState = "upload_state"

// NewPebbleDatabase create PebbleDB database instance
func NewPebbleDatabase(config interface{}) (Database, error) {
	cfg, ok := config.(*PebbleConfig)
	if !ok {
		return nil, fmt.Errorf("invalid PebbleDB config type")
	}

	// Create data directory if not exists with full permissions
	if err := os.MkdirAll(cfg.DataDir, 0777); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	collectionPath := filepath.Join(cfg.DataDir, "uploader_db", collectionUploadState)
	db, err := pebble.Open(collectionPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s at %s: %w", collectionUploadState, collectionPath, err)
	}

	log.Printf("PebbleDB database connected successfully at %s", collectionPath)
	return &PebbleDatabase{db: db}, nil
}

// UploadState operations

func (p *PebbleDatabase) GetUploadState(trackingId string) (*model.UploadStateRecord, error) {
	val, closer, err := p.db.Get([]byte(trackingId))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload state %s: %w", trackingId, err)
	}
	defer closer.Close()

	var rec model.UploadStateRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upload state %s: %w", trackingId, err)
	}
	return &rec, nil
}

func (p *PebbleDatabase) SaveUploadState(rec *model.UploadStateRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Preserve identity and creation time across whole-record replaces
	if existing, err := p.getLocked(rec.TrackingId); err == nil {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.ID = p.idCounter.Add(1)
		rec.CreatedAt = time.Now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	return p.putLocked(rec)
}

func (p *PebbleDatabase) UpdateUploadState(trackingId string, patch map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.getLocked(trackingId)
	if err != nil {
		return err
	}
	if err := applyPatch(rec, patch); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now()
	return p.putLocked(rec)
}

func (p *PebbleDatabase) ListStalledUploads(before time.Time, limit int) ([]*model.UploadStateRecord, error) {
	return p.scan(limit, func(rec *model.UploadStateRecord) bool {
		return !rec.Status.IsTerminal() && rec.UpdatedAt.Before(before)
	})
}

func (p *PebbleDatabase) ListTerminalBefore(before time.Time, limit int) ([]*model.UploadStateRecord, error) {
	return p.scan(limit, func(rec *model.UploadStateRecord) bool {
		return rec.Status.IsTerminal() && rec.UpdatedAt.Before(before)
	})
}

func (p *PebbleDatabase) DeleteUploadState(trackingId string) error {
	return p.db.Delete([]byte(trackingId), pebble.Sync)
}

// Close close database connection
func (p *PebbleDatabase) Close() error {
	return p.db.Close()
}

// getLocked and putLocked assume p.mu is held

func (p *PebbleDatabase) getLocked(trackingId string) (*model.UploadStateRecord, error) {
	val, closer, err := p.db.Get([]byte(trackingId))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var rec model.UploadStateRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upload state %s: %w", trackingId, err)
	}
	return &rec, nil
}

func (p *PebbleDatabase) putLocked(rec *model.UploadStateRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal upload state %s: %w", rec.TrackingId, err)
	}
	return p.db.Set([]byte(rec.TrackingId), data, pebble.Sync)
}

// scan walks the whole collection applying the filter, oldest first. The
// collection only holds in-flight and recently-terminal uploads, so a full
// scan stays small.
func (p *PebbleDatabase) scan(limit int, match func(*model.UploadStateRecord) bool) ([]*model.UploadStateRecord, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var recs []*model.UploadStateRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec model.UploadStateRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			log.Printf("Warning: skipping corrupt upload state record %s: %v", iter.Key(), err)
			continue
		}
		if match(&rec) {
			recs = append(recs, &rec)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].UpdatedAt.Before(recs[j].UpdatedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// applyPatch applies a column-name keyed patch, mirroring the subset of
// columns the service updates in place on MySQL.
func applyPatch(rec *model.UploadStateRecord, patch map[string]interface{}) error {
	for col, val := range patch {
		switch col {
		case "status":
			switch v := val.(type) {
			case model.UploadStatus:
				rec.Status = v
			case string:
				rec.Status = model.UploadStatus(v)
			default:
				return fmt.Errorf("invalid value type for column status")
			}
		case "locked":
			b, ok := val.(bool)
			if !ok {
				return fmt.Errorf("invalid value type for column locked")
			}
			rec.Locked = b
		case "lease_id":
			s, ok := val.(string)
			if !ok {
				return fmt.Errorf("invalid value type for column lease_id")
			}
			rec.LeaseId = s
		case "last_error":
			s, ok := val.(string)
			if !ok {
				return fmt.Errorf("invalid value type for column last_error")
			}
			rec.LastError = s
		default:
			return fmt.Errorf("unsupported patch column %s", col)
		}
	}
	return nil
}
