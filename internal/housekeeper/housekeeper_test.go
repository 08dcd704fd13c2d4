package housekeeper

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "housekeeper.db")
	s, err := Open(path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDupcheckPutGetRemove(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	_, found, err := s.GetDupcheck(1, "fp-a")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.PutDupcheck(1, "fp-a", now))
	seenAt, found, err := s.GetDupcheck(1, "fp-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.WithinDuration(t, now, seenAt, time.Second)

	require.NoError(t, s.RemoveDupcheck(1, "fp-a"))
	_, found, err = s.GetDupcheck(1, "fp-a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDupcheckScopedByCRCID(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutDupcheck(1, "fp-a", time.Now()))
	_, found, err := s.GetDupcheck(2, "fp-a")
	require.NoError(t, err)
	assert.False(t, found, "crc_id scoping must keep namespaces separate")
}

func TestMarkAndIsRetrieved(t *testing.T) {
	s := openTestStore(t)
	found, err := s.IsRetrieved("dir01", "bulletin.txt")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.MarkRetrieved("dir01", "bulletin.txt"))
	found, err = s.IsRetrieved("dir01", "bulletin.txt")
	require.NoError(t, err)
	assert.True(t, found)
}
