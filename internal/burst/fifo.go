package burst

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/containerd/fifo"
	"github.com/google/uuid"
)

// Fifo wraps a named pipe opened through github.com/containerd/fifo,
// carrying fixed-size binary records the way the generic SF_FIN_FIFO and
// TRL_CALC_FIFO artefacts do: one pid_t per datagram on the fin-fifo, one
// int per datagram on the trl-calc-fifo.
type Fifo struct {
	path string
	rwc  io.ReadWriteCloser
}

// OpenFifo opens (creating if necessary) the named pipe at path with the
// given os flags, grounded on containerd/fifo.OpenFifo's public contract
// of returning a context-scoped io.ReadWriteCloser over a POSIX fifo.
func OpenFifo(ctx context.Context, path string, flag int, perm os.FileMode) (*Fifo, error) {
	rwc, err := fifo.OpenFifo(ctx, path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("burst: open fifo %s: %w", path, err)
	}
	return &Fifo{path: path, rwc: rwc}, nil
}

// Close closes the underlying pipe.
func (f *Fifo) Close() error { return f.rwc.Close() }

// WritePID writes a single negated-PID record to the fin-fifo, the
// worker's "ready for more" signal.
func (f *Fifo) WritePID(pid int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(-pid)))
	_, err := f.rwc.Write(buf[:])
	return err
}

// ReadPID blocks for one negated-PID record.
func (f *Fifo) ReadPID() (int, error) {
	var buf [8]byte
	if _, err := io.ReadFull(f.rwc, buf[:]); err != nil {
		return 0, err
	}
	return int(-int64(binary.LittleEndian.Uint64(buf[:]))), nil
}

// WriteHostPosition writes a single int record to the trl-calc-fifo.
func (f *Fifo) WriteHostPosition(pos int) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(pos))
	_, err := f.rwc.Write(buf[:])
	return err
}

// ReadHostPosition blocks for one int record from the trl-calc-fifo.
func (f *Fifo) ReadHostPosition() (int, error) {
	var buf [4]byte
	if _, err := io.ReadFull(f.rwc, buf[:]); err != nil {
		return 0, err
	}
	return int(int32(binary.LittleEndian.Uint32(buf[:]))), nil
}

// BurstAck is the packed record SF_BURST_ACK_FIFO carries to acknowledge a
// completed burst.
type BurstAck struct {
	CreationTime  int64
	JobID         uint32
	SplitJobCount uint32
	UniqueNumber  uint32
	DirNo         uint32
}

const burstAckSize = 8 + 4 + 4 + 4 + 4

// NewUniqueNumber derives a burst ack's unique_number from a fresh random
// UUID, so acks from concurrent workers never collide.
func NewUniqueNumber() uint32 {
	id := uuid.New()
	return binary.LittleEndian.Uint32(id[:4])
}

// WriteBurstAck writes one packed BurstAck record.
func (f *Fifo) WriteBurstAck(ack BurstAck) error {
	var buf [burstAckSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(ack.CreationTime))
	binary.LittleEndian.PutUint32(buf[8:12], ack.JobID)
	binary.LittleEndian.PutUint32(buf[12:16], ack.SplitJobCount)
	binary.LittleEndian.PutUint32(buf[16:20], ack.UniqueNumber)
	binary.LittleEndian.PutUint32(buf[20:24], ack.DirNo)
	_, err := f.rwc.Write(buf[:])
	return err
}

// ReadBurstAck blocks for one packed BurstAck record.
func (f *Fifo) ReadBurstAck() (BurstAck, error) {
	var buf [burstAckSize]byte
	if _, err := io.ReadFull(f.rwc, buf[:]); err != nil {
		return BurstAck{}, err
	}
	return BurstAck{
		CreationTime:  int64(binary.LittleEndian.Uint64(buf[0:8])),
		JobID:         binary.LittleEndian.Uint32(buf[8:12]),
		SplitJobCount: binary.LittleEndian.Uint32(buf[12:16]),
		UniqueNumber:  binary.LittleEndian.Uint32(buf[16:20]),
		DirNo:         binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// OpenFinFifo opens the well-known fin-fifo path for writing, creating the
// pipe if it does not exist.
func OpenFinFifo(ctx context.Context, path string) (*Fifo, error) {
	return OpenFifo(ctx, path, syscall.O_WRONLY|syscall.O_CREAT|syscall.O_NONBLOCK, 0o600)
}

// OpenTRLCalcFifo opens the well-known trl-calc-fifo path for writing,
// creating the pipe if it does not exist.
func OpenTRLCalcFifo(ctx context.Context, path string) (*Fifo, error) {
	return OpenFifo(ctx, path, syscall.O_WRONLY|syscall.O_CREAT|syscall.O_NONBLOCK, 0o600)
}
