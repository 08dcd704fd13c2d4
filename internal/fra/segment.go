package fra

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

// Segment is the memory-mapped FRA file: a small header (epoch + a 4-byte
// length prefix) followed by a gob-encoded snapshot of all directories.
// Unlike ssa.Segment's fixed-width host records, FRA entries carry a
// variable-length cron Schedule, so the body here is a single serialised
// blob rather than a fixed array - still file-backed and mmap'd, still
// guarded by the same attach/Check/Reattach staleness discipline, just
// with a different body layout.
type Segment struct {
	path       string
	file       *os.File
	data       []byte
	cap        int
	attachedEp uint32
	mu         sync.RWMutex
}

const headerSize = 8 // [0:4] epoch, [4:8] body length

// Attach opens or creates the FRA file at path with room for at least
// initialCap bytes of encoded directory state.
func Attach(path string, initialCap int) (*Segment, error) {
	if initialCap < 4096 {
		initialCap = 4096
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fra: open %s: %w", path, err)
	}
	size := headerSize + initialCap
	data, err := mmap.File(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &Segment{path: path, file: f, data: data, cap: initialCap}
	s.attachedEp = s.epoch()
	return s, nil
}

// Close unmaps and closes the segment.
func (s *Segment) Close() error {
	if err := mmap.Free(s.data); err != nil {
		return err
	}
	return s.file.Close()
}

func (s *Segment) epoch() uint32 { return binary.LittleEndian.Uint32(s.data[0:4]) }

// Check reports whether this attachment is still current.
func (s *Segment) Check() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch() == s.attachedEp
}

// Reattach re-reads the current epoch.
func (s *Segment) Reattach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachedEp = s.epoch()
}

// BumpEpoch invalidates all other attachments. Supervisor-only operation,
// called when the directory config is reread.
func (s *Segment) BumpEpoch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	binary.LittleEndian.PutUint32(s.data[0:4], s.epoch()+1)
}

func (s *Segment) lockFile() (*os.File, error) {
	return os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
}

func (s *Segment) withFileLock(fn func() error) error {
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

// All decodes and returns every directory record currently stored.
func (s *Segment) All() (map[string]*DirStatus, error) {
	var out map[string]*DirStatus
	err := s.withFileLock(func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		n := binary.LittleEndian.Uint32(s.data[4:8])
		if n == 0 {
			out = map[string]*DirStatus{}
			return nil
		}
		if int(n) > len(s.data)-headerSize {
			return fmt.Errorf("fra: corrupt length prefix %d", n)
		}
		dec := gob.NewDecoder(bytes.NewReader(s.data[headerSize : headerSize+int(n)]))
		return dec.Decode(&out)
	})
	return out, err
}

// Dir returns a snapshot of directory alias, or an error if absent.
func (s *Segment) Dir(alias string) (*DirStatus, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	d, ok := all[alias]
	if !ok {
		return nil, fmt.Errorf("fra: directory %q not found", alias)
	}
	return d, nil
}

// PutDir writes (creating or overwriting) the record for d.Alias.
func (s *Segment) PutDir(d *DirStatus) error {
	return s.withFileLock(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		n := binary.LittleEndian.Uint32(s.data[4:8])
		var all map[string]*DirStatus
		if n > 0 {
			dec := gob.NewDecoder(bytes.NewReader(s.data[headerSize : headerSize+int(n)]))
			if err := dec.Decode(&all); err != nil {
				return err
			}
		} else {
			all = map[string]*DirStatus{}
		}
		all[d.Alias] = d
		buf := &bytes.Buffer{}
		if err := gob.NewEncoder(buf).Encode(all); err != nil {
			return err
		}
		if buf.Len() > s.cap {
			return fmt.Errorf("fra: encoded directory set (%d bytes) exceeds segment capacity (%d); re-Attach with a larger initialCap", buf.Len(), s.cap)
		}
		binary.LittleEndian.PutUint32(s.data[4:8], uint32(buf.Len()))
		copy(s.data[headerSize:], buf.Bytes())
		return nil
	})
}

// MutateDir locks the whole segment, applies fn to a fresh snapshot of
// alias, and writes it back.
func (s *Segment) MutateDir(alias string, fn func(d *DirStatus)) error {
	d, err := s.Dir(alias)
	if err != nil {
		return err
	}
	fn(d)
	return s.PutDir(d)
}
