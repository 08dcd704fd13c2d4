package burst

import (
	"context"
	"testing"
	"time"

	"github.com/afdcore/afd/internal/ssa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateTimesOutReturnsNo(t *testing.T) {
	slot := &ssa.JobStatus{}
	c := &Coordinator{
		Slot:     slot,
		Fin:      &Fifo{rwc: discardReadWriteCloser{}},
		WaitSecs: 10 * time.Millisecond,
	}
	resultCh := make(chan HandshakeRegister)
	decision, changed, err := c.Negotiate(context.Background(), resultCh)
	require.NoError(t, err)
	assert.Equal(t, No, decision)
	assert.Equal(t, ValuesChanged(0), changed)
	assert.Equal(t, ssa.HandlerReleased, slot.HandlerFlag)
}

func TestNegotiateTerminateBurst(t *testing.T) {
	slot := &ssa.JobStatus{}
	c := &Coordinator{Slot: slot, Fin: &Fifo{rwc: discardReadWriteCloser{}}, WaitSecs: time.Second}
	resultCh := make(chan HandshakeRegister, 1)
	resultCh <- HandshakeRegister{Kind: TerminateBurst}
	decision, _, err := c.Negotiate(context.Background(), resultCh)
	require.NoError(t, err)
	assert.Equal(t, No, decision)
}

func TestNegotiateSameJobBursts(t *testing.T) {
	slot := &ssa.JobStatus{}
	current := JobRef{JobID: 1, DirID: 1, Path: "/incoming"}
	c := &Coordinator{
		Slot: slot, Fin: &Fifo{rwc: discardReadWriteCloser{}}, WaitSecs: time.Second,
		Current: current,
		Load: func(msg []byte) (JobRef, ConnectionParams, error) {
			return current, ConnectionParams{}, nil
		},
	}
	resultCh := make(chan HandshakeRegister, 1)
	resultCh <- HandshakeRegister{Kind: NewJob, Message: []byte("x")}
	decision, changed, err := c.Negotiate(context.Background(), resultCh)
	require.NoError(t, err)
	assert.Equal(t, Yes, decision)
	assert.Equal(t, ValuesChanged(0), changed)
}

func TestNegotiateTargetDirChanged(t *testing.T) {
	slot := &ssa.JobStatus{}
	current := JobRef{JobID: 1, DirID: 1, Path: "/incoming"}
	c := &Coordinator{
		Slot: slot, Fin: &Fifo{rwc: discardReadWriteCloser{}}, WaitSecs: time.Second,
		Current: current,
		Load: func(msg []byte) (JobRef, ConnectionParams, error) {
			return JobRef{JobID: 1, DirID: 1, Path: "/other"}, ConnectionParams{}, nil
		},
	}
	resultCh := make(chan HandshakeRegister, 1)
	resultCh <- HandshakeRegister{Kind: NewJob, Message: []byte("x")}
	decision, changed, err := c.Negotiate(context.Background(), resultCh)
	require.NoError(t, err)
	assert.Equal(t, Yes, decision)
	assert.Equal(t, TargetDirChanged, changed)
}

func TestNegotiateNewIDDifferentConnectionReturnsNeither(t *testing.T) {
	slot := &ssa.JobStatus{}
	current := JobRef{JobID: 1, DirID: 1, Path: "/incoming"}
	c := &Coordinator{
		Slot: slot, Fin: &Fifo{rwc: discardReadWriteCloser{}}, WaitSecs: time.Second,
		Current: current, ConnParam: ConnectionParams{Port: 21},
		Load: func(msg []byte) (JobRef, ConnectionParams, error) {
			return JobRef{JobID: 2, DirID: 1, Path: "/incoming"}, ConnectionParams{Port: 22}, nil
		},
	}
	resultCh := make(chan HandshakeRegister, 1)
	resultCh <- HandshakeRegister{Kind: NewJob, Message: []byte("x")}
	decision, _, err := c.Negotiate(context.Background(), resultCh)
	require.NoError(t, err)
	assert.Equal(t, Neither, decision)
}

func TestNegotiateMisroutedJobReturnsError(t *testing.T) {
	slot := &ssa.JobStatus{}
	current := JobRef{JobID: 1, DirID: 1, Path: "/incoming", Direction: DirectionFetch}
	c := &Coordinator{
		Slot: slot, Fin: &Fifo{rwc: discardReadWriteCloser{}}, WaitSecs: time.Second,
		Current: current,
		Load: func(msg []byte) (JobRef, ConnectionParams, error) {
			return JobRef{JobID: 1, DirID: 1, Path: "/incoming", Direction: DirectionSend}, ConnectionParams{}, nil
		},
	}
	resultCh := make(chan HandshakeRegister, 1)
	resultCh <- HandshakeRegister{Kind: NewJob, Message: []byte("x")}
	decision, _, err := c.Negotiate(context.Background(), resultCh)
	assert.ErrorIs(t, err, ErrMisroutedJob)
	assert.Equal(t, Neither, decision)
}

// discardReadWriteCloser satisfies io.ReadWriteCloser for tests that only
// exercise Negotiate's control flow, not real fifo I/O.
type discardReadWriteCloser struct{}

func (discardReadWriteCloser) Read(p []byte) (int, error)  { return len(p), nil }
func (discardReadWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardReadWriteCloser) Close() error                { return nil }
