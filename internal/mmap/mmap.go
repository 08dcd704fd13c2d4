// Package mmap provides anonymous and file-backed memory mapping for the
// SSA/FRA/RL shared segments.
//
// Thin wrapper over golang.org/x/sys/unix's Mmap/Munmap/Msync, exposing
// MustAlloc/MustFree/Alloc/Free/File/Sync as the public surface.
package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MustAlloc allocates size bytes of anonymous, zeroed, read-write memory.
// It panics on failure, matching the Must-prefixed helper convention used
// for allocations that must succeed for the process to make progress.
func MustAlloc(size int) []byte {
	b, err := Alloc(size)
	if err != nil {
		panic(err)
	}
	return b
}

// Alloc allocates size bytes of anonymous, zeroed, read-write memory.
func Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: invalid size %d", size)
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: anonymous alloc: %w", err)
	}
	return b, nil
}

// MustFree unmaps b, panicking on failure.
func MustFree(b []byte) {
	if err := Free(b); err != nil {
		panic(err)
	}
}

// Free unmaps b.
func Free(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("mmap: free: %w", err)
	}
	return nil
}

// File maps an open file's contents read-write, growing the underlying
// file to size bytes first if it is shorter. This backs each SSA/FRA/RL
// segment so that multiple worker processes can share the mapping by path.
func File(f *os.File, size int) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mmap: stat: %w", err)
	}
	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, fmt.Errorf("mmap: truncate: %w", err)
		}
	}
	b, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: file-backed map: %w", err)
	}
	return b, nil
}

// Sync flushes dirty pages of b back to the backing file.
func Sync(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Msync(b, unix.MS_SYNC)
}
