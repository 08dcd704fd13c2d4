package mmap

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocFree(t *testing.T) {
	const size = 4096
	b := MustAlloc(size)
	assert.Equal(t, size, len(b))
	for i := range b {
		b[i] = byte(i)
	}
	MustFree(b)
}

func TestAllocRejectsNonPositive(t *testing.T) {
	_, err := Alloc(0)
	assert.Error(t, err)
}

func TestFileGrowsAndMaps(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "seg")
	assert.NoError(t, err)
	defer f.Close()

	b, err := File(f, 8192)
	assert.NoError(t, err)
	assert.Equal(t, 8192, len(b))
	b[0] = 0xAB
	assert.NoError(t, Sync(b))
	assert.NoError(t, Free(b))

	info, err := f.Stat()
	assert.NoError(t, err)
	assert.Equal(t, int64(8192), info.Size())
}
