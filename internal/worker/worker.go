// Package worker implements the transfer worker: the single-threaded,
// single-process state machine that drives one Transport connection through
// a burst of jobs, coordinating with the rest of the daemon only through the
// shared SSA/FRA/RL segments, the burst fin-fifo, and its own exit code.
package worker

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/afdcore/afd/internal/burst"
	"github.com/afdcore/afd/internal/eventlog"
	"github.com/afdcore/afd/internal/rl"
	"github.com/afdcore/afd/internal/ssa"
)

// ExitCode is the vocabulary a worker process terminates with; the
// supervisor switches on it to decide retry, requeue, or fatal handling.
type ExitCode int

// ExitCode values, per the termination contract.
const (
	TransferSuccess ExitCode = iota
	StillFilesToSend
	ConnectError
	OpenRemoteError
	ReadRemoteError
	WriteRemoteError
	OpenLocalError
	ReadLocalError
	WriteLocalError
	DeleteRemoteError
	NoopError
	AllocError
	NoFilesToSend
	GotKilled
)

func (c ExitCode) String() string {
	switch c {
	case TransferSuccess:
		return "TRANSFER_SUCCESS"
	case StillFilesToSend:
		return "STILL_FILES_TO_SEND"
	case ConnectError:
		return "CONNECT_ERROR"
	case OpenRemoteError:
		return "OPEN_REMOTE_ERROR"
	case ReadRemoteError:
		return "READ_REMOTE_ERROR"
	case WriteRemoteError:
		return "WRITE_REMOTE_ERROR"
	case OpenLocalError:
		return "OPEN_LOCAL_ERROR"
	case ReadLocalError:
		return "READ_LOCAL_ERROR"
	case WriteLocalError:
		return "WRITE_LOCAL_ERROR"
	case DeleteRemoteError:
		return "DELETE_REMOTE_ERROR"
	case NoopError:
		return "NOOP_ERROR"
	case AllocError:
		return "ALLOC_ERROR"
	case NoFilesToSend:
		return "NO_FILES_TO_SEND"
	case GotKilled:
		return "GOT_KILLED"
	default:
		return fmt.Sprintf("ExitCode(%d)", int(c))
	}
}

// pendingRename tracks a download that has reached local disk but has not
// yet been renamed into place, so Exit's step 1 can complete or abandon it.
type pendingRename struct {
	tmpPath, finalPath string
	rlSeg              *rl.Segment
	id                 rl.Identity
}

// WorkerContext carries everything common to a fetch or send worker's
// lifetime: the FSA slot it owns, the fin-fifo it reports readiness on, and
// the event log it writes to. One WorkerContext is built per worker process
// and its Exit method is the only sanctioned termination path.
type WorkerContext struct {
	HostAlias string
	SlotIndex int
	SSA       *ssa.Segment
	Fin       *burst.Fifo
	Events    *eventlog.Writer
	StartTime time.Time

	mu            sync.Mutex
	filesDone     int64
	bytesDone     int64
	burstCount    int
	pendingRename *pendingRename
	rlOwned       []*rl.Segment
}

// NewWorkerContext builds a WorkerContext for one worker process.
func NewWorkerContext(hostAlias string, slot int, seg *ssa.Segment, fin *burst.Fifo, events *eventlog.Writer) *WorkerContext {
	return &WorkerContext{
		HostAlias: hostAlias,
		SlotIndex: slot,
		SSA:       seg,
		Fin:       fin,
		Events:    events,
		StartTime: time.Now(),
	}
}

// RecordFile registers one completed transfer's accounting, for the final
// termination summary.
func (w *WorkerContext) RecordFile(bytes int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.filesDone++
	w.bytesDone += bytes
}

// RecordBurst notes that this worker handled one more job within the same
// connection, for the "[BURST * k]" summary line.
func (w *WorkerContext) RecordBurst() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.burstCount++
}

// Stats returns the running (filesDone, bytesDone, burstCount) totals.
func (w *WorkerContext) Stats() (files, bytes int64, bursts int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filesDone, w.bytesDone, w.burstCount
}

// SetPendingRename records a download that reached disk but is not yet
// renamed into place, so Exit knows to complete or abandon it.
func (w *WorkerContext) SetPendingRename(rlSeg *rl.Segment, id rl.Identity, tmpPath, finalPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pendingRename = &pendingRename{tmpPath: tmpPath, finalPath: finalPath, rlSeg: rlSeg, id: id}
}

// ClearPendingRename marks the pending rename as resolved (renamed or
// abandoned) by the caller itself, so Exit does not act on it again.
func (w *WorkerContext) ClearPendingRename() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pendingRename = nil
}

// TrackRL registers an RL segment this worker has assigned entries on, so
// Exit's step 2 can release them all.
func (w *WorkerContext) TrackRL(seg *rl.Segment) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.rlOwned {
		if s == seg {
			return
		}
	}
	w.rlOwned = append(w.rlOwned, seg)
}

// Exit performs the five guaranteed termination steps and returns the exit
// code unchanged, so callers can write it straight to os.Exit.
// cmd/*worker/main.go calls it explicitly on each of its exit paths; a
// panic goes through RecoverPanic instead, which releases only the FSA
// slot.
func (w *WorkerContext) Exit(code ExitCode) ExitCode {
	w.mu.Lock()
	pending := w.pendingRename
	w.pendingRename = nil
	owned := append([]*rl.Segment(nil), w.rlOwned...)
	files, bytesMoved, bursts := w.filesDone, w.bytesDone, w.burstCount
	w.mu.Unlock()

	// Step 1: complete or abandon a pending rename.
	if pending != nil {
		completeOrAbandonRename(pending)
	}

	// Step 2: clear every RL row this worker's slot still owns.
	for _, seg := range owned {
		_ = seg.Release(w.SlotIndex)
	}

	// Step 3: detach from FSA - release the slot this worker acquired.
	if w.SSA != nil {
		_ = w.SSA.MutateHost(w.HostAlias, func(h *ssa.HostStatus) {
			h.ReleaseSlot(w.SlotIndex)
		})
	}

	// Step 4: emit the final summary line.
	if w.Events != nil {
		_ = w.Events.Write(eventlog.Record{
			Time:   time.Now(),
			Class:  eventlog.ClassHost,
			Type:   eventlog.TypeAuto,
			Action: eventlog.ActionStartTransfer,
			Alias:  w.HostAlias,
			Fields: []string{
				fmt.Sprintf("retrieved/sent %d files (%d bytes) [BURST * %d]", files, bytesMoved, bursts),
				code.String(),
			},
		})
	}

	// Step 5: signal the supervisor there is no more work from this worker.
	if w.Fin != nil {
		_ = w.Fin.WritePID(os.Getpid())
		_ = w.Fin.Close()
	}

	return code
}

func completeOrAbandonRename(p *pendingRename) {
	if err := renameFile(p.tmpPath, p.finalPath); err == nil {
		if p.rlSeg != nil {
			_ = p.rlSeg.MarkRetrieved(p.id, false)
		}
		return
	}
	_ = removeFile(p.tmpPath)
}

// RecoverPanic stands in for the C original's SIGSEGV/SIGBUS handler: Go
// cannot intercept a real memory fault portably, so the closest equivalent is
// recovering a panic, releasing the FSA slot this worker held, and
// re-panicking so the process still crashes with a dump. cmd/*worker/main.go
// defers this immediately after acquiring the FSA slot.
func (w *WorkerContext) RecoverPanic() {
	if r := recover(); r != nil {
		if w.SSA != nil {
			_ = w.SSA.MutateHost(w.HostAlias, func(h *ssa.HostStatus) {
				h.ReleaseSlot(w.SlotIndex)
			})
		}
		panic(r)
	}
}
