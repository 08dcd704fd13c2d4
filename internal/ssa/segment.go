package ssa

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/afdcore/afd/internal/mmap"
)

// HeaderSize is the size of the fixed SSA header preceding the host record
// array. The feature-flag byte's offset must stay stable across versions;
// everything else in the header is implementation-defined.
const HeaderSize = 16

// Feature flag bits within header byte 0.
const (
	FeatureDisableRetrieve       byte = 1 << 0
	FeatureEnableCreateTargetDir byte = 1 << 1
)

// CheckResult is the outcome of polling a Segment's header for staleness.
type CheckResult int

// CheckResult values.
const (
	Current CheckResult = iota
	Stale
	IdChanged
)

func (c CheckResult) String() string {
	switch c {
	case Current:
		return "CURRENT"
	case Stale:
		return "STALE"
	case IdChanged:
		return "ID_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// Segment is one memory-mapped SSA file: an 8+-byte header followed by a
// fixed array of host records.
type Segment struct {
	path       string
	file       *os.File
	data       []byte
	maxHosts   int
	attachedID uint32
	attachedEp uint32
	mu         sync.RWMutex
	locks      *LockDir
}

// Attach opens (creating if needed) the segment file at path sized for
// maxHosts entries, memory-maps it, and records the epoch/id observed at
// attach time for later staleness checks.
func Attach(path string, maxHosts int) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ssa: open %s: %w", path, err)
	}
	size := HeaderSize + maxHosts*HostRecordSize
	data, err := mmap.File(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &Segment{
		path:     path,
		file:     f,
		data:     data,
		maxHosts: maxHosts,
		locks:    NewLockDir(path + ".locks"),
	}
	s.attachedEp = s.epoch()
	s.attachedID = s.id()
	return s, nil
}

// Close unmaps and closes the segment's backing file.
func (s *Segment) Close() error {
	if err := mmap.Free(s.data); err != nil {
		return err
	}
	return s.file.Close()
}

func (s *Segment) epoch() uint32 {
	return binary.LittleEndian.Uint32(s.data[1:5])
}

func (s *Segment) setEpoch(e uint32) {
	binary.LittleEndian.PutUint32(s.data[1:5], e)
}

func (s *Segment) id() uint32 {
	return binary.LittleEndian.Uint32(s.data[5:9])
}

func (s *Segment) setID(id uint32) {
	binary.LittleEndian.PutUint32(s.data[5:9], id)
}

// ID returns the header's current identity stamp, for comparing against the
// `<fsa_id>` value a worker was launched with.
func (s *Segment) ID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id()
}

// FeatureFlags returns the header's feature-flag byte.
func (s *Segment) FeatureFlags() byte { return s.data[0] }

// SetFeatureFlags sets the header's feature-flag byte.
func (s *Segment) SetFeatureFlags(b byte) { s.data[0] = b }

// Rereading reports whether the supervisor has set the "I am rereading
// configuration" flag.
func (s *Segment) Rereading() bool { return s.data[9] != 0 }

// SetRereading sets/clears the supervisor's rereading flag.
func (s *Segment) SetRereading(v bool) {
	if v {
		s.data[9] = 1
	} else {
		s.data[9] = 0
	}
}

// BumpEpoch is called by the supervisor when it rebuilds the SSA layout; it
// invalidates all existing Segment attachments (they will observe Stale).
func (s *Segment) BumpEpoch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setEpoch(s.epoch() + 1)
}

// Rebuild is called by the supervisor when the host/directory identity set
// changes entirely (e.g. config reread adds/removes aliases); it
// invalidates attachments as IdChanged rather than Stale.
func (s *Segment) Rebuild(newID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setID(newID)
}

// Check polls the header and reports whether this attachment is still
// current. Workers call this at protocol-safe points: before
// each file, between bursts, before a sleep.
func (s *Segment) Check() CheckResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.id() != s.attachedID {
		return IdChanged
	}
	if s.epoch() != s.attachedEp {
		return Stale
	}
	return Current
}

// Reattach re-reads the header's current epoch/id into this attachment,
// the "unmap and re-attach" step of the segment recovery discipline.
// Callers distinguish "remap in place" (this) from "truly detach and
// recreate" by calling Close and Attach again when the host/directory
// position itself can no longer be located.
func (s *Segment) Reattach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachedEp = s.epoch()
	s.attachedID = s.id()
}

func (s *Segment) recordOffset(slot int) int {
	return HeaderSize + slot*HostRecordSize
}

// hostSlot finds the record index for alias, or -1 with ok=false.
func (s *Segment) hostSlot(alias string) (int, bool) {
	for i := 0; i < s.maxHosts; i++ {
		off := s.recordOffset(i)
		h, ok, err := unmarshalHost(s.data[off : off+HostRecordSize])
		if err != nil || !ok {
			continue
		}
		if h.Alias == alias {
			return i, true
		}
	}
	return -1, false
}

// Host reads and returns a snapshot of the host record for alias. Callers
// that only need a consistent view use this read path; callers that mutate must go through MutateHost.
func (s *Segment) Host(alias string) (*HostStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.hostSlot(alias)
	if !ok {
		return nil, fmt.Errorf("ssa: host %q not found", alias)
	}
	off := s.recordOffset(i)
	h, _, err := unmarshalHost(s.data[off : off+HostRecordSize])
	return h, err
}

// HostAt reads the host record stored at the given FSA position (slot
// index), the way a worker started with a raw `<fsa_pos>` CLI argument
// resolves it to the alias it should operate on.
func (s *Segment) HostAt(pos int) (*HostStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pos < 0 || pos >= s.maxHosts {
		return nil, fmt.Errorf("ssa: position %d out of range (max %d)", pos, s.maxHosts)
	}
	off := s.recordOffset(pos)
	h, ok, err := unmarshalHost(s.data[off : off+HostRecordSize])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("ssa: no host at position %d", pos)
	}
	return h, nil
}

// PutHost writes h into the segment, creating a new record if h.Alias is
// not yet present or overwriting the existing one. This does not acquire
// any region lock; callers mutating shared counters must use the LOCK_TFC/
// LOCK_CON helpers in lock.go around the read-modify-write.
func (s *Segment) PutHost(h *HostStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.hostSlot(h.Alias)
	if !ok {
		i, ok = s.freeSlot()
		if !ok {
			return fmt.Errorf("ssa: segment full (max %d hosts)", s.maxHosts)
		}
	}
	rec, err := marshalHost(h)
	if err != nil {
		return err
	}
	off := s.recordOffset(i)
	copy(s.data[off:off+HostRecordSize], rec)
	return nil
}

func (s *Segment) freeSlot() (int, bool) {
	for i := 0; i < s.maxHosts; i++ {
		off := s.recordOffset(i)
		_, ok, err := unmarshalHost(s.data[off : off+HostRecordSize])
		if err != nil {
			continue
		}
		if !ok {
			return i, true
		}
	}
	return -1, false
}

// MutateHost locks the host's whole-record region, applies fn to a fresh
// snapshot, writes the result back and unlocks - the general-purpose
// single-writer path slot-local fields use.
func (s *Segment) MutateHost(alias string, fn func(h *HostStatus)) error {
	unlock, err := s.locks.Lock(alias, LockRecord)
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
