// Package storage keeps the durable catalog of completed runs: one record
// per scan with where its artifacts landed and what the run produced.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/btree"
	"go.etcd.io/bbolt"
)

// Bucket names in bbolt
var (
	bucketRuns = []byte("runs")
	bucketMeta = []byte("meta")
)

var keyRevision = []byte("current_revision")

// RunRecord is the catalog entry for one completed run.
type RunRecord struct {
	ScanID          string   `json:"scan_id"`
	GraphName       string   `json:"graph_name"`
	GraphVersion    string   `json:"graph_version"`
	StartTime       int64    `json:"start_time"`
	EndTime         int64    `json:"end_time"`
	ScannedAccounts []string `json:"scanned_accounts"`
	MasterArtifact  string   `json:"master_artifact"`
	Resources       int      `json:"resources"`
	Errors          int      `json:"errors"`
	Revision        int64    `json:"revision"`
}

// Catalog is a bbolt-backed run catalog with an in-memory index ordered by
// start time, so listing recent runs never touches disk.
type Catalog struct {
	mu sync.RWMutex

	index *btree.BTreeG[*RunRecord]
	db    *bbolt.DB

	currentRev int64
}

// Open opens or creates the run catalog under dir.
func Open(dir string) (*Catalog, error) {
	dbPath := filepath.Join(dir, "cartograph.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open run catalog: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	c := &Catalog{
		index: btree.NewG[*RunRecord](32, func(a, b *RunRecord) bool {
			if a.StartTime != b.StartTime {
				return a.StartTime < b.StartTime
			}
			return a.ScanID < b.ScanID
		}),
		db: db,
	}

	if err := c.load(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the catalog.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// RecordRun persists a run record and assigns it the next revision.
func (c *Catalog) RecordRun(rec RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentRev++
	rec.Revision = c.currentRev

	err := c.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRuns).Put([]byte(rec.ScanID), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyRevision, int64ToBytes(rec.Revision))
	})
	if err != nil {
		c.currentRev--
		return fmt.Errorf("recording run %s: %w", rec.ScanID, err)
	}

	c.index.ReplaceOrInsert(&rec)
	return nil
}

// GetRun fetches one run record by scan id.
func (c *Catalog) GetRun(scanID string) (RunRecord, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var rec RunRecord
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketRuns).Get([]byte(scanID))
		if value == nil {
			return nil
		}
		found = true
		return json.Unmarshal(value, &rec)
	})
	return rec, found, err
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (c *Catalog) ListRuns(limit int) []RunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []RunRecord
	c.index.Descend(func(rec *RunRecord) bool {
		out = append(out, *rec)
		return limit <= 0 || len(out) < limit
	})
	return out
}

// load rebuilds the in-memory index and revision counter from disk.
func (c *Catalog) load() error {
	return c.db.View(func(tx *bbolt.Tx) error {
		if value := tx.Bucket(bucketMeta).Get(keyRevision); value != nil {
			c.currentRev = bytesToInt64(value)
		}
		return tx.Bucket(bucketRuns).ForEach(func(_, value []byte) error {
			var rec RunRecord
			if err := json.Unmarshal(value, &rec); err != nil {
				return err
			}
			c.index.ReplaceOrInsert(&rec)
			return nil
		})
	})
}

func int64ToBytes(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func bytesToInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
