package ssa

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/afdcore/afd/internal/logging"
	"golang.org/x/sys/unix"
)

// LockKind identifies one of the four lock kinds used to serialise access
// to a host record: the three region lock taxonomies plus a whole-record
// lock.
type LockKind string

// LockKind values.
const (
	LockCon    LockKind = "con"    // connection-counter lock (LOCK_CON)
	LockTFC    LockKind = "tfc"    // per-host total-file-counter lock (LOCK_TFC)
	LockError  LockKind = "error"  // error-counter lock
	LockRecord LockKind = "record" // whole-record lock used by MutateHost
)

// LockDir hands out advisory, process-scoped, non-reentrant region locks
// keyed by (record, sub-region), implemented with flock(2) over one lock
// file per (alias, kind) pair, without requiring byte-exact shared-memory
// offsets.
type LockDir struct {
	dir string
	mu  sync.Mutex
}

// NewLockDir returns a LockDir rooted at dir, creating it if necessary.
func NewLockDir(dir string) *LockDir {
	_ = os.MkdirAll(dir, 0o755)
	return &LockDir{dir: dir}
}

// Lock acquires an exclusive, process-scoped advisory lock for
// (alias, kind), blocking until it is available, and returns a function
// that releases it. Every LOCK_TFC/LOCK_CON acquired by a worker must be
// released on every exit path; callers should
// defer the returned unlock func immediately.
func (ld *LockDir) Lock(alias string, kind LockKind) (unlock func(), err error) {
	path := filepath.Join(ld.dir, fmt.Sprintf("%s.%s.lock", sanitise(alias), kind))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ssa: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("ssa: flock %s: %w", path, err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// TryLock is the non-blocking variant, used by readers that want a
// best-effort consistent snapshot without stalling on a writer.
func (ld *LockDir) TryLock(alias string, kind LockKind) (unlock func(), ok bool, err error) {
	path := filepath.Join(ld.dir, fmt.Sprintf("%s.%s.lock", sanitise(alias), kind))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("ssa: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, err
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, true, nil
}

func sanitise(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '/' || r == os.PathSeparator {
			r = '_'
		}
		out = append(out, r)
	}
	return string(out)
}

// WithTFC runs fn with LOCK_TFC held for host alias, the write-lock used
// for every mutating read/modify/write of total_file_counter/
// total_file_size.
func (s *Segment) WithTFC(alias string, fn func(h *HostStatus)) error {
	unlock, err := s.locks.Lock(alias, LockTFC)
	if err != nil {
		return err
	}
	defer unlock()
	h, err := s.Host(alias)
	if err != nil {
		return err
	}
	fn(h)
	if msg := h.CheckInvariants(); msg != "" {
		// error category 4: log at debug-sign level, clamp, continue.
		logging.Debugsignf(alias, "%s", msg)
	}
	return s.PutHost(h)
}

// WithCon runs fn with LOCK_CON held for host alias, guarding the
// connection counter / active_transfers.
func (s *Segment) WithCon(alias string, fn func(h *HostStatus)) error {
	unlock, err := s.locks.Lock(alias, LockCon)
	if err != nil {
		return err
	}
	defer unlock()
	h, err := s.Host(alias)
	if err != nil {
		return err
	}
	fn(h)
	return s.PutHost(h)
}

// WithErrorLock runs fn with the error-counter lock held for host alias.
func (s *Segment) WithErrorLock(alias string, fn func(h *HostStatus)) error {
	unlock, err := s.locks.Lock(alias, LockError)
	if err != nil {
		return err
	}
	defer unlock()
	h, err := s.Host(alias)
	if err != nil {
		return err
	}
	fn(h)
	return s.PutHost(h)
}
