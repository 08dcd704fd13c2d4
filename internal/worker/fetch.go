package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/afdcore/afd/internal/burst"
	"github.com/afdcore/afd/internal/dupcheck"
	"github.com/afdcore/afd/internal/eventlog"
	"github.com/afdcore/afd/internal/fra"
	"github.com/afdcore/afd/internal/fserrors"
	"github.com/afdcore/afd/internal/logging"
	"github.com/afdcore/afd/internal/ratelimit"
	"github.com/afdcore/afd/internal/rl"
	"github.com/afdcore/afd/internal/ssa"
	"github.com/afdcore/afd/internal/transport"
)

const readBlockSize = 32 * 1024

// ErrMisroutedJob is returned when a fetch worker is handed a send-shaped
// job or vice versa. The redesign resolves the original #ifdef
// RETRIEVE_JOB_HACK ambiguity as a hard error rather than a silent
// reinterpretation.
var ErrMisroutedJob = burst.ErrMisroutedJob

// FetchWorker drives one Transport connection through a burst of fetch
// jobs for a single directory.
type FetchWorker struct {
	Ctx             *WorkerContext
	RL              *rl.Segment
	FRA             *fra.Segment
	DirAlias        string
	Transport       transport.Transport
	RateLimiter     *ratelimit.Limiter
	Dupcheck        *dupcheck.Cache
	CRCID           uint32
	DupCheckTTL     time.Duration
	LocalRoot       string
	TransferTimeout time.Duration
	Resume          bool
	TRLFifo         *burst.Fifo

	nameCounter      int
	startHostname    string
	startToggle      int
	baselineCaptured bool
}

// RunBurst implements the fetch worker's per-burst algorithm: one pass
// through the listing, merge, and per-entry retrieve steps. It returns
// TransferSuccess when the burst
// completed normally (the caller then drives the burst handshake / keep-alive
// loop to decide whether to continue on this connection), or the specific
// exit code of whatever failed. The real hostname observed on the first call
// becomes the baseline every later call's step 1 is checked against.
func (f *FetchWorker) RunBurst(ctx context.Context) (ExitCode, error) {
	f.Ctx.TrackRL(f.RL)

	// Step 1: hostname/toggle check.
	host, err := f.Ctx.SSA.Host(f.Ctx.HostAlias)
	if err != nil {
		return TransferSuccess, nil // position lost: category 5, clean exit
	}
	if !f.baselineCaptured {
		f.startHostname = host.CurrentHostname()
		f.startToggle = host.HostnameToggle
		f.baselineCaptured = true
	} else if host.CurrentHostname() != f.startHostname || host.HostnameToggle != f.startToggle {
		logging.Infof(f.Ctx.HostAlias, "real hostname changed mid-burst, exiting cleanly")
		return TransferSuccess, nil
	}

	dir, err := f.FRA.Dir(f.DirAlias)
	if err != nil {
		return TransferSuccess, fmt.Errorf("worker: directory %q not found: %w", f.DirAlias, err)
	}

	// Step 2: obtain a listing and merge with the RL.
	listing, err := f.list(ctx, dir)
	if err != nil {
		return OpenRemoteError, err
	}
	plan, err := f.RL.Scan(listing, dir.Options.Has(fra.OptStupidMode))
	if err != nil {
		return AllocError, err
	}
	if len(plan.ToFetch) == 0 {
		return NoFilesToSend, nil
	}

	// Step 3: parallelisation hint.
	if len(plan.ToFetch) > 1 && !dir.Options.Has(fra.OptDoNotParallelize) && f.Ctx.Fin != nil {
		_ = f.Ctx.Fin.WritePID(os.Getpid())
	}

	// Step 4: update FSA totals under LOCK_TFC.
	var totalBytes int64
	for _, e := range plan.ToFetch {
		totalBytes += e.Size
	}
	if err := f.Ctx.SSA.WithTFC(f.Ctx.HostAlias, func(h *ssa.HostStatus) {
		h.TotalFileCounter += int32(len(plan.ToFetch))
		h.TotalFileSize += totalBytes
	}); err != nil {
		return AllocError, err
	}

	ids := make([]rl.Identity, 0, len(plan.ToFetch))
	byID := make(map[rl.Identity]rl.Entry, len(plan.ToFetch))
	for _, e := range plan.ToFetch {
		id := rl.Identity{Name: e.Name, Fingerprint: e.Fingerprint}
		ids = append(ids, id)
		byID[id] = e
	}
	accepted, _, err := f.RL.Assign(f.Ctx.SlotIndex, ids)
	if err != nil {
		return AllocError, err
	}

	// Step 5: process every entry this worker was granted.
	for _, id := range accepted {
		entry := byID[id]
		code, err := f.fetchOne(ctx, dir, entry)
		if code != TransferSuccess {
			return code, err
		}
	}

	// Step 6: a single listing pass is exhaustive for every transport this
	// worker drives (none of them paginate); nothing further to loop on.
	return TransferSuccess, nil
}

func (f *FetchWorker) list(ctx context.Context, dir *fra.DirStatus) ([]rl.RemoteFile, error) {
	if dir.Options.Has(fra.OptDontGetDirList) {
		return []rl.RemoteFile{{Name: dir.URL}}, nil
	}
	entries, err := f.Transport.List(ctx, dir.URL)
	if err != nil {
		return nil, err
	}
	listing := make([]rl.RemoteFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		listing = append(listing, rl.RemoteFile{Name: e.Name, Size: e.Size, MTime: e.MTime})
	}
	return listing, nil
}

// fetchOne implements one pass of the 9-step inner loop (a-i) for a single
// RL entry already assigned to this worker's slot.
func (f *FetchWorker) fetchOne(ctx context.Context, dir *fra.DirStatus, entry rl.Entry) (ExitCode, error) {
	id := rl.Identity{Name: entry.Name, Fingerprint: entry.Fingerprint}

	if f.Dupcheck != nil && dir.Options.Has(fra.OptDupCheck) {
		fp, err := dupcheck.Fingerprint("", entry.Name, entry.Size, dupcheck.FlagNameSize)
		if err == nil && f.Dupcheck.IsDup(f.CRCID, fp, f.DupCheckTTL) {
			_ = f.RL.MarkRetrieved(id, false)
			return TransferSuccess, nil
		}
	}

	// b. local tmp path, forward-slashes translated to backslashes.
	tmpName := localTmpName(entry.Name)
	tmpPath := filepath.Join(f.LocalRoot, tmpName)

	// c. size-offset/append resume decision.
	var offset int64
	if f.Resume {
		if fi, err := os.Stat(tmpPath); err == nil {
			offset = fi.Size()
		}
	}
	if entry.PrevSize >= 0 && dir.Options.Has(fra.OptStupidMode) {
		offset = entry.PrevSize
	}

	// d. fetch the remote object.
	body, err := f.Transport.Read(ctx, entry.Name, offset)
	if err != nil {
		if transport.IsNotFound(err) {
			if rErr := f.RL.MarkRetrieved(id, true); rErr != nil {
				return AllocError, rErr
			}
			_ = removeFile(tmpPath)
			if tfcErr := f.Ctx.SSA.WithTFC(f.Ctx.HostAlias, func(h *ssa.HostStatus) {
				h.TotalFileCounter--
				h.TotalFileSize -= entry.Size
			}); tfcErr != nil {
				return AllocError, tfcErr
			}
			return TransferSuccess, nil
		}
		return ReadRemoteError, err
	}
	defer body.Close()

	// e. open the local tmp file and stream through the rate limiter,
	// honouring the per-file transfer timeout.
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	dst, err := os.OpenFile(tmpPath, flags, 0o644)
	if err != nil {
		return OpenLocalError, fmt.Errorf("worker: opening tmp file %s: %w", tmpPath, err)
	}

	finalName := entry.Name
	if finalName == "" {
		f.nameCounter++
		finalName = noNameFallback(f.Ctx.SlotIndex, f.nameCounter)
	}
	finalPath := filepath.Join(f.LocalRoot, finalName)
	f.Ctx.SetPendingRename(f.RL, id, tmpPath, finalPath)

	written, code, err := f.copyBlocks(ctx, dst, body)
	closeErr := dst.Close()
	if err != nil {
		f.Ctx.ClearPendingRename()
		_ = removeFile(tmpPath)
		return code, err
	}
	if closeErr != nil {
		f.Ctx.ClearPendingRename()
		return WriteLocalError, closeErr
	}

	// f. rename tmp to final path.
	f.Ctx.ClearPendingRename()
	if err := renameFile(tmpPath, finalPath); err != nil {
		return WriteLocalError, err
	}
	if err := f.RL.MarkRetrieved(id, false); err != nil {
		return AllocError, err
	}

	// g. optional remote delete.
	if dir.Options.Has(fra.OptRemove) {
		if err := f.Transport.Delete(ctx, entry.Name); err != nil {
			if dir.Options.Has(fra.OptStupidMode) {
				return DeleteRemoteError, err
			}
			logging.Errorf(f.DirAlias, "remote delete of %s failed (continuing): %v", entry.Name, err)
		}
	}

	// h. reconcile the RL's stored size against what was actually written,
	// then back this file's step-4 contribution out of the FSA totals: a
	// completed transfer must leave TotalFileCounter/TotalFileSize exactly
	// where they stood before the burst started.
	if _, err := f.RL.ReconcileSize(id, written); err != nil {
		return AllocError, err
	}
	if err := f.Ctx.SSA.WithTFC(f.Ctx.HostAlias, func(h *ssa.HostStatus) {
		h.TotalFileCounter--
		h.TotalFileSize -= entry.Size
	}); err != nil {
		return AllocError, err
	}

	// i. output-log record.
	if f.Ctx.Events != nil {
		_ = f.Ctx.Events.Write(eventlog.Record{
			Time:   time.Now(),
			Class:  eventlog.ClassDirectory,
			Type:   eventlog.TypeAuto,
			Action: eventlog.ActionStartTransfer,
			Alias:  f.DirAlias,
			Fields: []string{finalName, fmt.Sprintf("%d", written)},
		})
	}
	f.Ctx.RecordFile(written)
	return TransferSuccess, nil
}

// copyBlocks streams body into dst under the rate limiter, honouring the
// per-file transfer timeout measured from the first block read.
func (f *FetchWorker) copyBlocks(ctx context.Context, dst *os.File, body io.Reader) (written int64, code ExitCode, err error) {
	buf := make([]byte, readBlockSize)
	var start time.Time
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if start.IsZero() {
				start = time.Now()
			}
			if f.RateLimiter != nil {
				if waitErr := f.RateLimiter.WaitN(ctx, n); waitErr != nil {
					return written, ReadRemoteError, waitErr
				}
			}
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, WriteLocalError, writeErr
			}
			if wn != n {
				return written, WriteLocalError, fmt.Errorf("worker: short write (%d of %d bytes)", wn, n)
			}
			if f.TransferTimeout > 0 && time.Since(start) > f.TransferTimeout {
				return written, StillFilesToSend, fmt.Errorf("worker: transfer timeout exceeded for this file")
			}
		}
		if readErr == io.EOF {
			return written, TransferSuccess, nil
		}
		if readErr != nil {
			logging.Debugf(f.DirAlias, "remote read error (retryable=%v): %v", fserrors.ShouldRetry(readErr), readErr)
			return written, ReadRemoteError, readErr
		}
	}
}

// KeepAlive implements the fetch variant of the keep-alive loop: used
// between bursts while keep_connected > 0, blocking until the next scheduled
// check is due, a hand-off arrives, or the keep-connected window closes.
func (f *FetchWorker) KeepAlive(ctx context.Context, keepConnected time.Duration, pollInterval time.Duration, pos int) (rescan bool, err error) {
	start := time.Now()
	timeUp := start.Add(keepConnected)

	for {
		dir, derr := f.FRA.Dir(f.DirAlias)
		if derr != nil {
			return false, derr
		}
		dir.RecomputeNextCheck(time.Now())
		if dir.Options.Has(fra.OptOneProcessJustScanning) {
			if !dir.NextCheckTime.IsZero() && dir.NextCheckTime.After(timeUp) {
				return false, nil
			}
		}

		sleep := pollInterval
		if remain := time.Until(timeUp); remain < sleep {
			sleep = remain
		}
		if sleep <= 0 {
			return false, nil
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}

		f.FRA.Reattach()
		host, herr := f.Ctx.SSA.Host(f.Ctx.HostAlias)
		if herr != nil {
			return false, herr
		}
		if host.Slots[f.Ctx.SlotIndex].Handshake() == ssa.HandshakeTerminate {
			return false, nil
		}
		if dir.Options.Has(fra.OptOneProcessJustScanning) && !dir.ClaimScanning(fmt.Sprintf("slot-%d", f.Ctx.SlotIndex)) {
			return true, nil
		}

		if time.Now().Before(timeUp) {
			if f.TRLFifo != nil {
				_ = f.TRLFifo.WriteHostPosition(pos)
			}
			if err := f.Transport.Noop(ctx); err != nil {
				return false, fmt.Errorf("worker: keep-alive noop failed: %w", err)
			}
		}

		if time.Now().After(timeUp) {
			return false, nil
		}
	}
}
