// Package supervisor launches transfer workers as child processes and
// relays their completion signal upward, the way a process manager watches
// a pool of worker binaries without sharing their address space.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/afdcore/afd/internal/burst"
	"github.com/afdcore/afd/internal/logging"
)

// Kind selects which worker binary a job is routed to.
type Kind int

const (
	KindSend Kind = iota
	KindFetch
)

func (k Kind) String() string {
	if k == KindFetch {
		return "fetch"
	}
	return "send"
}

// JobSpec describes one worker invocation.
type JobSpec struct {
	Kind     Kind
	HostName string
	Args     []string // positional/flag arguments forwarded to the worker binary
}

// Supervisor launches cmd/sendworker and cmd/fetchworker child processes and
// collects their "proc-fin" completion signal over a shared fin-fifo.
type Supervisor struct {
	SendWorkerPath  string
	FetchWorkerPath string
	FinFifoPath     string

	mu      sync.Mutex
	running map[int]*RunningWorker // pid -> worker
}

// New creates a Supervisor. finFifoPath is the well-known SF_FIN_FIFO path
// every spawned worker writes its negated pid to on completion.
func New(sendWorkerPath, fetchWorkerPath, finFifoPath string) *Supervisor {
	return &Supervisor{
		SendWorkerPath:  sendWorkerPath,
		FetchWorkerPath: fetchWorkerPath,
		FinFifoPath:     finFifoPath,
		running:         make(map[int]*RunningWorker),
	}
}

// RunningWorker is a handle to one spawned worker process.
type RunningWorker struct {
	Job JobSpec
	PID int

	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Wait blocks until the worker process exits (whether or not it used the
// fin-fifo handshake first) and returns its exit error, if any.
func (w *RunningWorker) Wait() error {
	<-w.done
	return w.err
}

// StartWorker spawns the worker binary for job as a child process and
// begins tracking it. The returned RunningWorker can be waited on directly;
// ListenFinFifo (run once per Supervisor, concurrently) relays completion
// signals for all running workers as they arrive on the shared fin-fifo.
func (s *Supervisor) StartWorker(ctx context.Context, job JobSpec) (*RunningWorker, error) {
	bin := s.SendWorkerPath
	if job.Kind == KindFetch {
		bin = s.FetchWorkerPath
	}

	cmd := exec.CommandContext(ctx, bin, job.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start %s worker: %w", job.Kind, err)
	}

	rw := &RunningWorker{Job: job, PID: cmd.Process.Pid, cmd: cmd, done: make(chan struct{})}

	s.mu.Lock()
	s.running[rw.PID] = rw
	s.mu.Unlock()

	logging.Infof(job.HostName, "started %s worker pid=%d", job.Kind, rw.PID)

	go func() {
		rw.err = cmd.Wait()
		s.mu.Lock()
		delete(s.running, rw.PID)
		s.mu.Unlock()
		close(rw.done)
		if rw.err != nil {
			logging.Errorf(job.HostName, "%s worker pid=%d exited: %v", job.Kind, rw.PID, rw.err)
		} else {
			logging.Infof(job.HostName, "%s worker pid=%d exited cleanly", job.Kind, rw.PID)
		}
	}()

	return rw, nil
}

// ListenFinFifo opens the shared fin-fifo for reading and relays each
// negated-PID "proc-fin" record it sees to onFin, until ctx is cancelled or
// the pipe closes. Run this once, in its own goroutine, alongside
// StartWorker calls.
func (s *Supervisor) ListenFinFifo(ctx context.Context, onFin func(pid int)) error {
	f, err := burst.OpenFifo(ctx, s.FinFifoPath, syscall.O_RDONLY|syscall.O_CREAT|syscall.O_NONBLOCK, 0o600)
	if err != nil {
		return fmt.Errorf("supervisor: open fin-fifo: %w", err)
	}
	defer f.Close()

	for {
		pid, err := f.ReadPID()
		if err != nil {
			return fmt.Errorf("supervisor: read fin-fifo: %w", err)
		}
		s.mu.Lock()
		_, known := s.running[pid]
		s.mu.Unlock()
		if known {
			logging.Debugf(nil, "proc-fin received for pid=%d", pid)
		}
		onFin(pid)
	}
}

// Shutdown signals every tracked worker to terminate and waits up to
// timeout for them to exit before returning.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	workers := make([]*RunningWorker, 0, len(s.running))
	for _, w := range s.running {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
		}
	}

	deadline := time.After(timeout)
	for _, w := range workers {
		select {
		case <-w.done:
		case <-deadline:
			return
		}
	}
}
