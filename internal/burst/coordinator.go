package burst

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/afdcore/afd/internal/logging"
	"github.com/afdcore/afd/internal/ssa"
)

// ErrMisroutedJob is returned by Negotiate when the scheduler hands a
// worker a job descriptor shaped for the other direction (a send job
// handed to a fetch worker, or vice versa). The redesign resolves the
// original #ifdef RETRIEVE_JOB_HACK ambiguity as a hard error rather than a
// silent reinterpretation.
var ErrMisroutedJob = errors.New("burst: job descriptor does not match this worker's direction")

// Direction distinguishes a fetch job from a send job, so classify can
// detect a hand-off that does not match the worker's own kind.
type Direction int

// Direction values.
const (
	DirectionFetch Direction = iota
	DirectionSend
)

func (d Direction) String() string {
	if d == DirectionSend {
		return "send"
	}
	return "fetch"
}

// Decision is the outcome of a negotiated burst: whether the current
// connection can be reused for the next job, and what changed.
type Decision int

// Decision values.
const (
	// No further job arrived; worker should fall through to keep-alive
	// or exit.
	No Decision = iota
	// Yes: burst on the current connection, nothing material changed.
	Yes
	// Neither: a new job arrived but cannot reuse this connection (port,
	// TLS auth, or remote user differs; the user is compared for every
	// protocol, not only SFTP).
	Neither
)

func (d Decision) String() string {
	switch d {
	case No:
		return "No"
	case Yes:
		return "Yes"
	case Neither:
		return "Neither"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// ValuesChanged is a bitmask of what a burst decision altered.
type ValuesChanged uint8

// ValuesChanged bits.
const (
	TargetDirChanged ValuesChanged = 1 << iota
)

// ConnectionParams identifies what must stay stable across a burst for the
// worker to reuse its open connection: port, TLS auth material, and the
// remote user. The struct carries no protocol, so Same compares the user
// for every protocol; a user change is not exempted for non-SFTP hosts.
type ConnectionParams struct {
	Port    int
	TLSAuth string
	User    string
}

// Same reports whether two connection parameter sets permit connection
// reuse.
func (c ConnectionParams) Same(other ConnectionParams) bool {
	return c.Port == other.Port && c.TLSAuth == other.TLSAuth && c.User == other.User
}

// JobRef identifies a job by id and directory, the minimum needed to
// classify a burst hand-off as same-id/new-id.
type JobRef struct {
	JobID     int64
	DirID     int64
	Path      string
	Direction Direction
}

// NewJobLoader parses a new job's descriptor, given the raw handshake
// message, into both a JobRef (for classification) and its connection
// parameters.
type NewJobLoader func(msg []byte) (JobRef, ConnectionParams, error)

// Coordinator runs the worker side of the burst handshake against one FSA
// slot: arm, signal readiness on the fin-fifo, wait for a hand-off or
// deadline, then classify the result.
type Coordinator struct {
	Slot      *ssa.JobStatus
	Fin       *Fifo
	WaitSecs  time.Duration
	Load      NewJobLoader
	Current   JobRef
	ConnParam ConnectionParams
}

// Negotiate implements the 8-step burst state machine from the worker's
// side, replacing the signal-driven wait with a context-scoped deadline:
//
//  1. Arm: set the handshake register to ArmedWaiting, mark the handler
//     installed.
//  2. Write readiness (negated PID) to the fin-fifo; a write error aborts
//     with (No, err).
//  3. Wait on ctx with a WaitSecs deadline for the scheduler's hand-off.
//  4. Cancel the wait; mark the handler released (no more signals wanted).
//  5. (no-op in this redesign: there is no signal mask/handler to restore)
//  6. Caller is expected to have already re-checked host liveness via SSA;
//     Negotiate does not second-guess it.
//  7. Inspect the register: TerminateBurst -> No; NewJob -> classify
//     same-id/new-id/connection-incompatible; anything else -> No.
//  8. Caller falls through to keep-alive when Negotiate returns No and
//     keep_connected > 0 - Negotiate itself does not loop.
func (c *Coordinator) Negotiate(ctx context.Context, resultCh <-chan HandshakeRegister) (Decision, ValuesChanged, error) {
	c.Slot.SetHandshake(ssa.HandshakeArmedWaiting)
	c.Slot.HandlerFlag = ssa.HandlerReady

	if err := c.Fin.WritePID(os.Getpid()); err != nil {
		c.Slot.HandlerFlag = ssa.HandlerReleased
		return No, 0, fmt.Errorf("burst: writing readiness to fin-fifo: %w", err)
	}

	var reg HandshakeRegister
	waitCtx, cancel := context.WithTimeout(ctx, c.WaitSecs)
	select {
	case reg = <-resultCh:
	case <-waitCtx.Done():
		reg = HandshakeRegister{Kind: ArmedWaiting} // timed out, no hand-off
	}
	cancel()
	c.Slot.HandlerFlag = ssa.HandlerReleased

	switch reg.Kind {
	case TerminateBurst:
		logging.Debugf(c.Current.Path, "burst coordinator: scheduler terminated burst")
		return No, 0, nil
	case NewJob:
		return c.classify(reg.Message)
	default:
		return No, 0, nil
	}
}

func (c *Coordinator) classify(msg []byte) (Decision, ValuesChanged, error) {
	job, params, err := c.Load(msg)
	if err != nil {
		return Neither, 0, fmt.Errorf("burst: loading new job descriptor: %w", err)
	}
	if job.Direction != c.Current.Direction {
		return Neither, 0, ErrMisroutedJob
	}
	switch {
	case job.JobID == c.Current.JobID && job.DirID == c.Current.DirID && job.Path == c.Current.Path:
		return Yes, 0, nil
	case job.JobID == c.Current.JobID && job.DirID == c.Current.DirID:
		return Yes, TargetDirChanged, nil
	case !params.Same(c.ConnParam):
		return Neither, 0, nil
	default:
		return Yes, 0, nil
	}
}
