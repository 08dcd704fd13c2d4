package rl

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"sync"

	"github.com/afdcore/afd/internal/mmap"
	"golang.org/x/sys/unix"
)

const headerSize = 8 // [0:4] reserved/epoch, [4:8] body length

// Segment is one directory's memory-mapped, length-prefixed RL record
// array.
type Segment struct {
	path string
	dir  string // directory alias, for log/error context
	file *os.File
	data []byte
	cap  int
	mu   sync.Mutex
}

// Attach opens or creates the RL file for directory dir at path.
func Attach(dir, path string, initialCap int) (*Segment, error) {
	if initialCap < 4096 {
		initialCap = 4096
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rl: open %s: %w", path, err)
	}
	data, err := mmap.File(f, headerSize+initialCap)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Segment{path: path, dir: dir, file: f, data: data, cap: initialCap}, nil
}

// Detach unmaps and closes the segment. If preserve is false (stupid_mode
// or remove-mode directories), the backing file is truncated to empty so
// the next Attach starts fresh.
func (s *Segment) Detach(preserve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := mmap.Free(s.data); err != nil {
		return err
	}
	if !preserve {
		if err := s.file.Truncate(0); err != nil {
			s.file.Close()
			return err
		}
	}
	return s.file.Close()
}

func (s *Segment) lockFile() (*os.File, error) {
	return os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
}

func (s *Segment) withLock(fn func() error) error {
	lf, err := s.lockFile()
	if err != nil {
		return err
	}
	defer lf.Close()
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer unix.Flock(int(lf.Fd()), unix.LOCK_UN)
	return fn()
}

func (s *Segment) read() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := binary.LittleEndian.Uint32(s.data[4:8])
	if n == 0 {
		return nil, nil
	}
	if int(n) > len(s.data)-headerSize {
		return nil, fmt.Errorf("rl: corrupt length prefix %d", n)
	}
	var entries []Entry
	dec := gob.NewDecoder(bytes.NewReader(s.data[headerSize : headerSize+int(n)]))
	if err := dec.Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Segment) write(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := &bytes.Buffer{}
	if err := gob.NewEncoder(buf).Encode(entries); err != nil {
		return err
	}
	if buf.Len() > s.cap {
		return fmt.Errorf("rl: encoded entry set (%d bytes) exceeds segment capacity (%d)", buf.Len(), s.cap)
	}
	binary.LittleEndian.PutUint32(s.data[4:8], uint32(buf.Len()))
	copy(s.data[headerSize:], buf.Bytes())
	return nil
}

// All returns a snapshot of every entry currently stored.
func (s *Segment) All() ([]Entry, error) {
	var out []Entry
	err := s.withLock(func() error {
		e, err := s.read()
		out = e
		return err
	})
	return out, err
}

// Plan is the result of Scan: the subset of remote files that need
// fetching, in listing order.
type Plan struct {
	ToFetch []Entry
}

// Scan merges a fresh remote listing with the stored RL. Identity is
// (name, fingerprint); an
// entry whose remote size or mtime changed is re-marked non-retrieved;
// entries absent from the new listing are retained for resume unless
// stupidMode, in which case they are dropped.
func (s *Segment) Scan(listing []RemoteFile, stupidMode bool) (Plan, error) {
	var plan Plan
	err := s.withLock(func() error {
		existing, err := s.read()
		if err != nil {
			return err
		}
		byIdentity := make(map[Identity]*Entry, len(existing))
		for i := range existing {
			e := &existing[i]
			byIdentity[e.identity()] = e
		}
		seen := make(map[Identity]bool, len(listing))
		var merged []Entry
		for _, rf := range listing {
			id := Identity{Name: rf.Name, Fingerprint: rf.Fingerprint}
			seen[id] = true
			if e, ok := byIdentity[id]; ok {
				if e.Size != rf.Size || !e.MTime.Equal(rf.MTime) {
					e.PrevSize = e.Size
					e.Size = rf.Size
					e.MTime = rf.MTime
					e.Retrieved = false
					e.InList = true
					e.Assigned = 0
				}
				merged = append(merged, *e)
			} else {
				merged = append(merged, Entry{
					Name: rf.Name, Size: rf.Size, PrevSize: -1,
					MTime: rf.MTime, Fingerprint: rf.Fingerprint, InList: true,
				})
			}
		}
		if !stupidMode {
			for _, e := range existing {
				if !seen[e.identity()] {
					merged = append(merged, e)
				}
			}
		}
		if err := s.write(merged); err != nil {
			return err
		}
		for i := range merged {
			if !merged[i].Retrieved {
				plan.ToFetch = append(plan.ToFetch, merged[i])
			}
		}
		return nil
	})
	return plan, err
}

// Assign atomically sets assigned = slot+1 on the named entries, rejecting
// (returning their names in `rejected`) any that are already assigned to a
// different slot - the implementation of the at-most-one-assignment
// invariant.
func (s *Segment) Assign(slot int, names []Identity) (accepted, rejected []Identity, err error) {
	err = s.withLock(func() error {
		entries, err := s.read()
		if err != nil {
			return err
		}
		want := make(map[Identity]bool, len(names))
		for _, n := range names {
			want[n] = true
		}
		for i := range entries {
			e := &entries[i]
			if !want[e.identity()] {
				continue
			}
			if e.Assigned != 0 && e.Assigned != slot+1 {
				rejected = append(rejected, e.identity())
				continue
			}
			e.Assigned = slot + 1
			accepted = append(accepted, e.identity())
		}
		return s.write(entries)
	})
	return accepted, rejected, err
}

// MarkRetrieved marks the entry identified by id as retrieved and clears
// its assignment. If notFound404 is true the entry is also hidden from
// future listings (in_list = NO).
func (s *Segment) MarkRetrieved(id Identity, notFound404 bool) error {
	return s.withLock(func() error {
		entries, err := s.read()
		if err != nil {
			return err
		}
		for i := range entries {
			if entries[i].identity() == id {
				entries[i].Retrieved = true
				entries[i].Assigned = 0
				if notFound404 {
					entries[i].InList = false
				}
				break
			}
		}
		return s.write(entries)
	})
}

// Release clears every assignment owned by slot+1, used when a worker dies
// so the entries it held become available for reassignment.
func (s *Segment) Release(slot int) error {
	return s.withLock(func() error {
		entries, err := s.read()
		if err != nil {
			return err
		}
		changed := false
		for i := range entries {
			if entries[i].Assigned == slot+1 {
				entries[i].Assigned = 0
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return s.write(entries)
	})
}

// ReconcileSize adjusts the stored size of entry id to actualSize if it
// differs, returning the delta the caller must apply to FSA totals under
// LOCK_TFC.
func (s *Segment) ReconcileSize(id Identity, actualSize int64) (delta int64, err error) {
	err = s.withLock(func() error {
		entries, err := s.read()
		if err != nil {
			return err
		}
		for i := range entries {
			if entries[i].identity() == id {
				delta = actualSize - entries[i].Size
				entries[i].Size = actualSize
				return s.write(entries)
			}
		}
		return fmt.Errorf("rl: entry %+v not found for size reconciliation", id)
	})
	return delta, err
}
