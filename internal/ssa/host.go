// Package ssa implements the Filetransfer Status Area (FSA): memory-mapped,
// multi-reader/multi-writer per-host state shared across worker processes.
package ssa

import "fmt"

// MaxSlots bounds the number of concurrent transfer slots per host.
const MaxSlots = 10

// Protocol is the bitmask of transport protocols a host may use.
type Protocol uint16

// Protocol bits.
const (
	ProtoFTP Protocol = 1 << iota
	ProtoSFTP
	ProtoHTTP
	ProtoHTTPS
	ProtoSMTP
	ProtoLOC
	ProtoEXEC
)

func (p Protocol) String() string {
	names := []struct {
		bit  Protocol
		name string
	}{
		{ProtoFTP, "FTP"}, {ProtoSFTP, "SFTP"}, {ProtoHTTP, "HTTP"},
		{ProtoHTTPS, "HTTPS"}, {ProtoSMTP, "SMTP"}, {ProtoLOC, "LOC"}, {ProtoEXEC, "EXEC"},
	}
	out := ""
	for _, n := range names {
		if p&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "NONE"
	}
	return out
}

// HostOption is the per-host protocol-option bitmask.
type HostOption uint32

// HostOption bits.
const (
	OptPassiveFTP HostOption = 1 << iota
	OptExtendedMode
	OptKeepAlive
	OptTLSStrict
	OptLegacyRenegotiation
	OptNoExpect
	OptBucketInPath
	OptQueueSet
	OptActionSuccess
	OptStoreIP
)

// Has reports whether all bits in want are set.
func (o HostOption) Has(want HostOption) bool { return o&want == want }

// ConnectStatus is the per-slot connection state machine.
type ConnectStatus int

// ConnectStatus values.
const (
	NotConnected ConnectStatus = iota
	Connecting
	Connected
	Transferring
	Disconnecting
)

func (c ConnectStatus) String() string {
	switch c {
	case NotConnected:
		return "NOT_CONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Transferring:
		return "TRANSFERRING"
	case Disconnecting:
		return "DISCONNECTING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(c))
	}
}

// HandshakeState is a convenience decode of the raw UniqueName[2] byte
// exchanged during burst handshake. It is an added accessor; the raw
// bytes remain the source of truth on the wire (JobStatus.UniqueName).
type HandshakeState byte

// HandshakeState values, matching the burst handshake's wire encoding.
const (
	HandshakeArmedWaiting  HandshakeState = 4
	HandshakeKeepAliveIdle HandshakeState = 5
	HandshakeTerminate     HandshakeState = 6
	HandshakeNewJob        HandshakeState = 0
	HandshakeDeclined      HandshakeState = 1
)

// HandlerInstalled is the file_name_in_use[LAST] flag meaning.
type HandlerInstalled byte

// HandlerInstalled values.
const (
	HandlerUninitialised HandlerInstalled = 0
	HandlerReady         HandlerInstalled = 1
	HandlerReleased      HandlerInstalled = 2
)

// JobStatus is one FSA slot: the state of a single concurrent transfer.
type JobStatus struct {
	ConnectStatus     ConnectStatus
	JobID             uint32
	FileNameInUse     string
	HandlerFlag       HandlerInstalled // last byte of file_name_in_use
	FileSizeInUse     int64
	FileSizeInUseDone int64
	NoOfFiles         int32
	NoOfFilesDone     int32
	FileSize          int64
	FileSizeDone      int64
	BytesSend         int64
	UniqueName        [3]byte // handshake register
	UniqueNameMsg     []byte  // unique_name[0..N] job message when state==0
	inUse             bool
}

// Handshake decodes UniqueName[2] into the typed state.
func (j *JobStatus) Handshake() HandshakeState { return HandshakeState(j.UniqueName[2]) }

// SetHandshake sets UniqueName[2] to state.
func (j *JobStatus) SetHandshake(state HandshakeState) { j.UniqueName[2] = byte(state) }

// Reset clears a slot back to its unused state, used on worker exit and on
// SIGSEGV/SIGBUS recovery.
func (j *JobStatus) Reset() {
	*j = JobStatus{}
}

// HostStatus is one FSA entry: all per-host state.
type HostStatus struct {
	Alias             string
	RealHostname      [2]string
	HostnameToggle    int // 0 or 1, indexes RealHostname
	FailoverPosition  int
	Protocols         Protocol
	Options           HostOption
	User              string
	Password          string // plain text; config.HostConfig.ToHostStatus reveals the obscured config value
	SocketSendBuffer  int
	SocketRecvBuffer  int
	TransferRateLimit int64 // bytes/sec, 0 = unlimited
	BlockSize         int
	KeepConnected     int // seconds
	DisconnectSec     int
	TransferTimeout   int // seconds
	AllowedTransfers  int
	ActiveTransfers   int
	ErrorCounter      int32
	TotalFileCounter  int32
	TotalFileSize     int64
	Slots             [MaxSlots]JobStatus
}

// CurrentHostname returns the real hostname selected by the toggle.
func (h *HostStatus) CurrentHostname() string {
	return h.RealHostname[h.HostnameToggle&1]
}

// Toggle flips the active real-hostname slot, used when the real hostname
// behind an alias changes (toggle or real rename).
func (h *HostStatus) Toggle() {
	h.HostnameToggle = (h.HostnameToggle + 1) & 1
	if h.FailoverPosition != 0 {
		h.FailoverPosition = (h.FailoverPosition + 1) % 2
	}
}

// AcquireSlot finds a free slot for a new worker, marks it in-use and
// returns its index. It is the supervisor's responsibility to hand this
// index to the worker process; a slot is exclusive for the worker's
// lifetime.
func (h *HostStatus) AcquireSlot() (int, error) {
	for i := range h.Slots {
		if !h.Slots[i].inUse {
			h.Slots[i].inUse = true
			h.ActiveTransfers++
			return i, nil
		}
	}
	return -1, fmt.Errorf("ssa: host %q has no free slot (allowed=%d)", h.Alias, h.AllowedTransfers)
}

// ReleaseSlot frees slot i, clearing its contents.
func (h *HostStatus) ReleaseSlot(i int) {
	if i < 0 || i >= len(h.Slots) {
		return
	}
	if h.Slots[i].inUse {
		h.Slots[i].inUse = false
		if h.ActiveTransfers > 0 {
			h.ActiveTransfers--
		}
	}
	h.Slots[i].Reset()
}

// CheckInvariants clamps counters that went out of the documented bounds. It
// returns a human-readable description of anything it had to fix, or ""
// if the state was already consistent.
func (h *HostStatus) CheckInvariants() string {
	msg := ""
	if h.TotalFileCounter < 0 {
		msg += fmt.Sprintf("total_file_counter went negative (%d), clamped to 0; ", h.TotalFileCounter)
		h.TotalFileCounter = 0
	}
	if h.TotalFileCounter == 0 && h.TotalFileSize != 0 {
		msg += fmt.Sprintf("total_file_size=%d with total_file_counter=0, clamped to 0; ", h.TotalFileSize)
		h.TotalFileSize = 0
	}
	if h.ActiveTransfers > h.AllowedTransfers {
		msg += fmt.Sprintf("active_transfers(%d) > allowed_transfers(%d), clamped; ", h.ActiveTransfers, h.AllowedTransfers)
		h.ActiveTransfers = h.AllowedTransfers
	}
	return msg
}
