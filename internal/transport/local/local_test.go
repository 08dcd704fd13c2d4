package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/afdcore/afd/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutThenGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tr := New()
	require.NoError(t, tr.Connect(context.Background(), dir, "", ""))

	require.NoError(t, tr.Put(context.Background(), "sub/a.txt", strings.NewReader("hello"), 5))

	r, size, err := tr.Get(context.Background(), "sub/a.txt")
	require.NoError(t, err)
	defer r.Close()
	assert.EqualValues(t, 5, size)

	buf := make([]byte, 5)
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	tr := New()
	require.NoError(t, tr.Connect(context.Background(), dir, "", ""))
	_, _, err := tr.Get(context.Background(), "missing.txt")
	assert.True(t, transport.IsNotFound(err))
}

func TestListReturnsEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	tr := New()
	require.NoError(t, tr.Connect(context.Background(), dir, "", ""))
	entries, err := tr.List(context.Background(), ".")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	tr := New()
	require.NoError(t, tr.Connect(context.Background(), dir, "", ""))
	err := tr.Delete(context.Background(), "missing.txt")
	assert.True(t, transport.IsNotFound(err))
}
