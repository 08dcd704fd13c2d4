package dupcheck

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/afdcore/afd/internal/housekeeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDupSecondLookupTrue(t *testing.T) {
	c := New()
	crcID := CRCID("host:job")
	fp, err := Fingerprint("", "a.txt", 100, FlagNameSize)
	require.NoError(t, err)

	assert.False(t, c.IsDup(crcID, fp, time.Minute))
	assert.True(t, c.IsDup(crcID, fp, time.Minute))
}

func TestIsDupDisabledWhenTTLZero(t *testing.T) {
	c := New()
	crcID := CRCID("host:job")
	fp, _ := Fingerprint("", "a.txt", 100, FlagNameSize)
	assert.False(t, c.IsDup(crcID, fp, 0))
	assert.False(t, c.IsDup(crcID, fp, 0))
}

func TestRemoveCRCAllowsRetry(t *testing.T) {
	c := New()
	crcID := CRCID("host:job")
	fp, _ := Fingerprint("", "a.txt", 100, FlagNameSize)
	require.False(t, c.IsDup(crcID, fp, time.Minute))
	c.RemoveCRC(crcID, fp)
	assert.False(t, c.IsDup(crcID, fp, time.Minute))
}

func TestFingerprintDiffersBySize(t *testing.T) {
	fp1, _ := Fingerprint("", "a.txt", 100, FlagNameSize)
	fp2, _ := Fingerprint("", "a.txt", 200, FlagNameSize)
	assert.NotEqual(t, fp1, fp2)
}

func TestHandleDeleteOnDupNoopWhenDisabled(t *testing.T) {
	require.NoError(t, HandleDeleteOnDup("/nonexistent/path", false))
}

func TestIsDupSurvivesFreshCacheViaPersistence(t *testing.T) {
	store, err := housekeeper.Open(filepath.Join(t.TempDir(), "dupcheck.db"), time.Second)
	require.NoError(t, err)
	defer store.Close()

	crcID := CRCID("host:job")
	fp, _ := Fingerprint("", "a.txt", 100, FlagNameSize)

	c1 := NewWithStore(store)
	assert.False(t, c1.IsDup(crcID, fp, time.Minute))

	// A fresh in-memory cache, as after a restart, still sees the record.
	c2 := NewWithStore(store)
	assert.True(t, c2.IsDup(crcID, fp, time.Minute))
}

func TestRemoveCRCClearsPersistedEntryToo(t *testing.T) {
	store, err := housekeeper.Open(filepath.Join(t.TempDir(), "dupcheck.db"), time.Second)
	require.NoError(t, err)
	defer store.Close()

	crcID := CRCID("host:job")
	fp, _ := Fingerprint("", "a.txt", 100, FlagNameSize)

	c := NewWithStore(store)
	require.False(t, c.IsDup(crcID, fp, time.Minute))
	c.RemoveCRC(crcID, fp)

	c2 := NewWithStore(store)
	assert.False(t, c2.IsDup(crcID, fp, time.Minute))
}
