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
	"github.com/afdcore/afd/internal/logging"
	"github.com/afdcore/afd/internal/ratelimit"
	"github.com/afdcore/afd/internal/ssa"
	"github.com/afdcore/afd/internal/transport"
	"github.com/afdcore/afd/internal/wmoframe"
)

// SendJob is one file this send worker must deliver within the current
// burst.
type SendJob struct {
	LocalPath  string
	RemoteName string
	WMO        bool // file-name-is-header family
	WMOType    wmoframe.TypeIndicator
	WMOSeq     *uint16
	ArchiveDir string // "" means unlink the source on success
}

// SendWorker drives one Transport connection through a burst of send jobs.
type SendWorker struct {
	Ctx             *WorkerContext
	Transport       transport.Transport
	RateLimiter     *ratelimit.Limiter
	Dupcheck        *dupcheck.Cache
	CRCID           uint32
	DupCheckTTL     time.Duration
	DeleteOnDup     bool
	TransferTimeout time.Duration
	TRLFifo         *burst.Fifo
}

// RunBurst sends every job in jobs over the current connection, stopping at
// the first failure and returning its exit code.
func (s *SendWorker) RunBurst(ctx context.Context, jobs []SendJob) (ExitCode, error) {
	if len(jobs) == 0 {
		return NoFilesToSend, nil
	}
	var totalBytes int64
	sizes := make([]int64, len(jobs))
	for i, j := range jobs {
		fi, err := os.Stat(j.LocalPath)
		if err != nil {
			return OpenLocalError, fmt.Errorf("worker: stat %s: %w", j.LocalPath, err)
		}
		sizes[i] = fi.Size()
		totalBytes += fi.Size()
	}
	if err := s.Ctx.SSA.WithTFC(s.Ctx.HostAlias, func(h *ssa.HostStatus) {
		h.TotalFileCounter += int32(len(jobs))
		h.TotalFileSize += totalBytes
	}); err != nil {
		return AllocError, err
	}

	for i, job := range jobs {
		code, err := s.sendOne(ctx, job, sizes[i])
		if code != TransferSuccess {
			return code, err
		}
	}
	return TransferSuccess, nil
}

func (s *SendWorker) sendOne(ctx context.Context, job SendJob, size int64) (ExitCode, error) {
	if s.Dupcheck != nil {
		fp, err := dupcheck.Fingerprint(job.LocalPath, job.RemoteName, size, dupcheck.FlagNameSize)
		if err == nil && s.Dupcheck.IsDup(s.CRCID, fp, s.DupCheckTTL) {
			if dErr := dupcheck.HandleDeleteOnDup(job.LocalPath, s.DeleteOnDup); dErr != nil {
				return DeleteRemoteError, dErr
			}
			s.emitLog(job.RemoteName, size, "OT_NORMAL_DELIVERED (dupcheck)")
			if err := s.decrementTFC(size); err != nil {
				return AllocError, err
			}
			return TransferSuccess, nil
		}
	}

	src, err := os.Open(job.LocalPath)
	if err != nil {
		return OpenLocalError, fmt.Errorf("worker: opening %s: %w", job.LocalPath, err)
	}
	defer src.Close()

	var body io.Reader = &rateLimitedReader{ctx: ctx, r: src, limiter: s.RateLimiter, timeout: s.TransferTimeout}
	putSize := size
	if job.WMO {
		h := wmoframe.Header{Type: job.WMOType, FileName: job.RemoteName, Seq: job.WMOSeq}
		putSize = wmoframe.Size(h, size)
		body = wmoframe.Wrap(h, body, size)
	}

	if err := s.Transport.Put(ctx, job.RemoteName, body, putSize); err != nil {
		return WriteRemoteError, fmt.Errorf("worker: put %s: %w", job.RemoteName, err)
	}

	if job.ArchiveDir != "" {
		if err := archiveFile(job.LocalPath, job.ArchiveDir); err != nil {
			return WriteLocalError, err
		}
	} else if err := removeFile(job.LocalPath); err != nil {
		return WriteLocalError, fmt.Errorf("worker: unlinking source %s: %w", job.LocalPath, err)
	}

	s.emitLog(job.RemoteName, size, "OT_NORMAL_DELIVERED")
	s.Ctx.RecordFile(size)
	if err := s.decrementTFC(size); err != nil {
		return AllocError, err
	}
	return TransferSuccess, nil
}

// decrementTFC backs this file's step-4 contribution out of the FSA
// totals on delivery, mirroring the fetch worker's discipline: a
// completed transfer must leave TotalFileCounter/TotalFileSize exactly
// where they stood before the burst started.
func (s *SendWorker) decrementTFC(size int64) error {
	return s.Ctx.SSA.WithTFC(s.Ctx.HostAlias, func(h *ssa.HostStatus) {
		h.TotalFileCounter--
		h.TotalFileSize -= size
	})
}

func (s *SendWorker) emitLog(name string, size int64, deliveryType string) {
	if s.Ctx.Events == nil {
		return
	}
	_ = s.Ctx.Events.Write(eventlog.Record{
		Time:   time.Now(),
		Class:  eventlog.ClassHost,
		Type:   eventlog.TypeAuto,
		Action: eventlog.ActionStartTransfer,
		Alias:  s.Ctx.HostAlias,
		Fields: []string{name, fmt.Sprintf("%d", size), deliveryType},
	})
}

// archiveFile copies (hard-links where possible) src into a directory tree
// rooted at archiveDir and addressed by the current time, then removes src.
func archiveFile(src, archiveDir string) error {
	dest := filepath.Join(archiveDir, time.Now().Format("20060102"), filepath.Base(src))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("worker: creating archive directory: %w", err)
	}
	if err := os.Link(src, dest); err != nil {
		if cpErr := copyFile(src, dest); cpErr != nil {
			return fmt.Errorf("worker: archiving %s: %w", src, cpErr)
		}
	}
	return removeFile(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// rateLimitedReader paces reads through a ratelimit.Limiter and enforces a
// per-file transfer timeout measured from the first byte read, the send
// side of the same discipline the fetch worker applies on write.
type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *ratelimit.Limiter
	timeout time.Duration
	start   time.Time
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if r.start.IsZero() {
			r.start = time.Now()
		}
		if r.limiter != nil {
			if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
				return n, werr
			}
		}
		if r.timeout > 0 && time.Since(r.start) > r.timeout {
			return n, fmt.Errorf("worker: transfer timeout exceeded for this file")
		}
	}
	return n, err
}

// KeepAliveSend is the send-variant keep-alive loop: structurally identical
// to the fetch variant but paced against the send fifo and logging a
// human-readable "burst / append" summary once, when the keep-connected
// window closes, instead of recomputing a directory's next scheduled check.
func (s *SendWorker) KeepAliveSend(ctx context.Context, keepConnected time.Duration, pollInterval time.Duration, pos int) error {
	start := time.Now()
	timeUp := start.Add(keepConnected)
	for {
		sleep := pollInterval
		if remain := time.Until(timeUp); remain < sleep {
			sleep = remain
		}
		if sleep <= 0 {
			return nil
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		host, err := s.Ctx.SSA.Host(s.Ctx.HostAlias)
		if err != nil {
			return err
		}
		if host.Slots[s.Ctx.SlotIndex].Handshake() == ssa.HandshakeTerminate {
			return nil
		}

		if time.Now().Before(timeUp) {
			if s.TRLFifo != nil {
				_ = s.TRLFifo.WriteHostPosition(pos)
			}
			if err := s.Transport.Noop(ctx); err != nil {
				return fmt.Errorf("worker: keep-alive noop failed: %w", err)
			}
		}
		if time.Now().After(timeUp) {
			files, bytesMoved, bursts := s.Ctx.Stats()
			logging.Infof(s.Ctx.HostAlias, "burst / append summary: %d files (%d bytes), %d bursts", files, bytesMoved, bursts)
			return nil
		}
	}
}
