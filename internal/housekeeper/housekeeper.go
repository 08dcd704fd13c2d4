// Package housekeeper gives the duplicate-check fingerprint cache and the
// retrieve-list completion markers a persistent backing store, so a
// restarted daemon does not re-send or re-fetch work it already finished.
// This is out-of-core bookkeeping, not the live mmap-backed SSA/FRA/RL
// segments those packages still own while a worker is running.
package housekeeper

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketDupcheck  = "dupcheck"
	bucketRetrieved = "retrieved"
)

// Store wraps a single bbolt database file holding both buckets.
type Store struct {
	db *bolt.DB
}

// Open creates (if needed) the parent directory and opens/creates the bolt
// database at path, with both buckets present.
func Open(path string, timeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("housekeeper: creating directory for %s: %w", path, err)
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("housekeeper: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketDupcheck)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRetrieved))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("housekeeper: initializing buckets in %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// PutDupcheck records that fingerprint (scoped to crcID) was seen at
// seenAt, stored as RFC 3339 UTC text, surviving a daemon restart.
func (s *Store) PutDupcheck(crcID uint32, fingerprint string, seenAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDupcheck))
		key := dupcheckKey(crcID, fingerprint)
		val := []byte(seenAt.UTC().Format(time.RFC3339Nano))
		return b.Put(key, val)
	})
}

// GetDupcheck returns the time fingerprint was last recorded and whether it
// was found at all.
func (s *Store) GetDupcheck(crcID uint32, fingerprint string) (time.Time, bool, error) {
	var (
		seenAt time.Time
		found  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDupcheck))
		val := b.Get(dupcheckKey(crcID, fingerprint))
		if val == nil {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, string(val))
		if err != nil {
			return fmt.Errorf("housekeeper: parsing stored timestamp: %w", err)
		}
		seenAt, found = t, true
		return nil
	})
	return seenAt, found, err
}

// RemoveDupcheck deletes a fingerprint record, used when a send aborted and
// the caller wants a later retry not to be falsely suppressed.
func (s *Store) RemoveDupcheck(crcID uint32, fingerprint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDupcheck)).Delete(dupcheckKey(crcID, fingerprint))
	})
}

func dupcheckKey(crcID uint32, fingerprint string) []byte {
	return []byte(fmt.Sprintf("%08x:%s", crcID, fingerprint))
}

// MarkRetrieved records that the RL entry for dirAlias/name was completed,
// so a housekeeper sweep after restart can prune it from the live segment
// without re-downloading.
func (s *Store) MarkRetrieved(dirAlias, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRetrieved))
		return b.Put(retrievedKey(dirAlias, name), []byte{1})
	})
}

// IsRetrieved reports whether dirAlias/name was already marked retrieved.
func (s *Store) IsRetrieved(dirAlias, name string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRetrieved))
		found = b.Get(retrievedKey(dirAlias, name)) != nil
		return nil
	})
	return found, err
}

func retrievedKey(dirAlias, name string) []byte {
	return []byte(dirAlias + "\x00" + name)
}
