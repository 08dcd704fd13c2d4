// Package dupcheck implements the optional content-fingerprint cache that
// gates send jobs.
//
// Grounded on github.com/patrickmn/go-cache, a teacher dependency used
// elsewhere in the retrieved pack for exactly this shape of problem (a TTL'd
// in-memory lookup table).
package dupcheck

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/afdcore/afd/internal/housekeeper"
	gocache "github.com/patrickmn/go-cache"
)

// Flags control how the fingerprint is computed.
type Flags uint8

// Flags bits.
const (
	FlagNameSize Flags = 1 << iota
	FlagContentHash
)

// Cache is one crc_id-keyed fingerprint table with a TTL, used to detect
// and suppress duplicate sends of the same content. The in-memory table is
// the hot path; an optional Persist store makes entries survive a daemon
// restart rather than silently forgetting everything seen before the crash.
type Cache struct {
	byCRC   map[uint32]*gocache.Cache
	Persist *housekeeper.Store
}

// New creates an empty, lazily-populated dupcheck cache with no persistent
// backing.
func New() *Cache {
	return &Cache{byCRC: make(map[uint32]*gocache.Cache)}
}

// NewWithStore creates a dupcheck cache backed by a housekeeper.Store, so
// entries recorded before a restart are still honoured.
func NewWithStore(store *housekeeper.Store) *Cache {
	c := New()
	c.Persist = store
	return c
}

func (c *Cache) cacheFor(crcID uint32, ttl time.Duration) *gocache.Cache {
	gc, ok := c.byCRC[crcID]
	if !ok {
		gc = gocache.New(ttl, ttl*2)
		c.byCRC[crcID] = gc
	}
	return gc
}

// Fingerprint computes the dupcheck key for a file: name+size, optionally
// plus a content hash when FlagContentHash is set.
func Fingerprint(fullname, name string, size int64, flags Flags) (string, error) {
	key := fmt.Sprintf("%s:%d", name, size)
	if flags&FlagContentHash == 0 {
		return key, nil
	}
	f, err := os.Open(fullname)
	if err != nil {
		return "", fmt.Errorf("dupcheck: open %s: %w", fullname, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("dupcheck: hash %s: %w", fullname, err)
	}
	return key + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// CRCID derives the crc_id a given (host, job) dupcheck configuration is
// keyed under, from its alias/job-id string.
func CRCID(keyspace string) uint32 { return crc32.ChecksumIEEE([]byte(keyspace)) }

// IsDup reports whether fingerprint is already present (and unexpired)
// under crcID, recording it if not. ttl<=0 disables the cache entirely
// (always reports not-a-dup). When a Persist store is attached, a fresh
// in-memory cache (e.g. right after a restart) still consults it before
// deciding.
func (c *Cache) IsDup(crcID uint32, fingerprint string, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	gc := c.cacheFor(crcID, ttl)
	if _, found := gc.Get(fingerprint); found {
		return true
	}
	if c.Persist != nil {
		if seenAt, found, err := c.Persist.GetDupcheck(crcID, fingerprint); err == nil && found {
			if time.Since(seenAt) < ttl {
				gc.Set(fingerprint, seenAt, ttl)
				return true
			}
		}
	}
	now := time.Now()
	gc.Set(fingerprint, now, ttl)
	if c.Persist != nil {
		_ = c.Persist.PutDupcheck(crcID, fingerprint, now)
	}
	return false
}

// RemoveCRC removes fingerprint from crcID's table - called when a send
// failed and the job should be retried without being falsely suppressed.
func (c *Cache) RemoveCRC(crcID uint32, fingerprint string) {
	if gc, ok := c.byCRC[crcID]; ok {
		gc.Delete(fingerprint)
	}
	if c.Persist != nil {
		_ = c.Persist.RemoveDupcheck(crcID, fingerprint)
	}
}

// HandleDeleteOnDup unlinks fullname when a duplicate is confirmed and the
// host/job configuration has DC_DELETE set.
func HandleDeleteOnDup(fullname string, deleteOnDup bool) error {
	if !deleteOnDup {
		return nil
	}
	if err := os.Remove(fullname); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("dupcheck: delete %s: %w", fullname, err)
	}
	return nil
}
