// Package burst implements the worker-side burst handshake: the protocol a
// transfer worker uses to ask the scheduler for more work on an open
// connection before exiting.
//
// The handshake register is redesigned from a raw signal-driven byte state
// machine into a tagged variant carried over channels and a named pipe, per
// the handshake register table (unique_name[2] values 4/5/6/0/1) and the
// generic SF_FIN_FIFO/TRL_CALC_FIFO/SF_BURST_ACK_FIFO fifo contracts.
package burst

import "fmt"

// HandshakeKind is the decoded meaning of the handshake register.
type HandshakeKind int

// HandshakeKind values, named for what they mean rather than their raw
// byte encoding (the raw bytes remain available via Raw()).
const (
	// ArmedWaiting: worker has armed its handler and is waiting for a
	// burst hand-off (raw unique_name[2] == 4).
	ArmedWaiting HandshakeKind = iota
	// KeepAliveIdle: worker is in the keep-connected idle loop, waiting
	// for the next tick (raw unique_name[2] == 5).
	KeepAliveIdle
	// TerminateBurst: scheduler signalled that the next job cannot use
	// this connection; worker must exit (raw unique_name[2] == 6).
	TerminateBurst
	// NewJob: scheduler wrote a new job into unique_name[0..N]; the
	// message payload is carried out-of-band (raw unique_name[2] == 0).
	NewJob
	// Declined: worker declined with no message - diagnostic only (raw
	// unique_name[2] == 1).
	Declined
)

func (k HandshakeKind) String() string {
	switch k {
	case ArmedWaiting:
		return "ArmedWaiting"
	case KeepAliveIdle:
		return "KeepAliveIdle"
	case TerminateBurst:
		return "TerminateBurst"
	case NewJob:
		return "NewJob"
	case Declined:
		return "Declined"
	default:
		return fmt.Sprintf("HandshakeKind(%d)", int(k))
	}
}

// rawByteOf maps a HandshakeKind to the unique_name[2] byte value an
// observer inspecting the FSA slot directly would see.
var rawByteOf = map[HandshakeKind]byte{
	ArmedWaiting:   4,
	KeepAliveIdle:  5,
	TerminateBurst: 6,
	NewJob:         0,
	Declined:       1,
}

// kindOfRaw is the inverse of rawByteOf.
var kindOfRaw = map[byte]HandshakeKind{
	4: ArmedWaiting,
	5: KeepAliveIdle,
	6: TerminateBurst,
	0: NewJob,
	1: Declined,
}

// HandshakeRegister is the tagged-variant redesign of the unique_name byte
// state machine: {ArmedWaiting, KeepAliveIdle, TerminateBurst, NewJob(msg)}.
type HandshakeRegister struct {
	Kind    HandshakeKind
	Message []byte // populated only when Kind == NewJob
}

// Raw renders the register the way it would appear on the wire as
// unique_name[0:3], for compatibility with anything inspecting the FSA
// slot's raw bytes directly.
func (r HandshakeRegister) Raw() [3]byte {
	var out [3]byte
	out[2] = rawByteOf[r.Kind]
	if r.Kind == NewJob && len(r.Message) > 0 {
		out[0] = r.Message[0]
		if len(r.Message) > 1 {
			out[1] = r.Message[1]
		}
	}
	return out
}

// DecodeRaw parses a raw unique_name[0:3] byte triple into a
// HandshakeRegister, matching the worker-side inspection rule: "if all
// three nonzero -> new job".
func DecodeRaw(raw [3]byte) HandshakeRegister {
	if raw[0] != 0 && raw[1] != 0 && raw[2] != 0 {
		return HandshakeRegister{Kind: NewJob, Message: []byte{raw[0], raw[1]}}
	}
	kind, ok := kindOfRaw[raw[2]]
	if !ok {
		kind = Declined
	}
	return HandshakeRegister{Kind: kind}
}
