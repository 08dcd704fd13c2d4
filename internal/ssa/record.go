package ssa

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Fixed field widths for the mmap wire records. Byte-exact layout
// compatibility with any other implementation is not a goal; these widths
// only need to be large enough and self-consistent across attach points of
// the same segment.
const (
	aliasWidth    = 32
	hostnameWidth = 128
	userWidth     = 32
	passwordWidth = 160
	fileNameWidth = 256
	msgWidth      = 1024
)

// hostWire is the fixed-size on-disk/mmap representation of HostStatus.
// Every field is a fixed-size array or scalar so encoding/binary can
// (de)serialise it directly without reflection surprises.
type hostWire struct {
	Alias            [aliasWidth]byte
	RealHostname     [2][hostnameWidth]byte
	HostnameToggle   int32
	FailoverPosition int32
	Protocols        uint16
	_                uint16 // padding
	Options          uint32
	User             [userWidth]byte
	Password         [passwordWidth]byte
	SocketSendBuffer int32
	SocketRecvBuffer int32
	TransferRateLim  int64
	BlockSize        int32
	KeepConnected    int32
	DisconnectSec    int32
	TransferTimeout  int32
	AllowedXfers     int32
	ActiveXfers      int32
	ErrorCounter     int32
	TotalFileCounter int32
	TotalFileSize    int64
	InUse            uint8
	_                [7]byte // padding to keep 8-byte alignment
	Slots            [MaxSlots]jobWire
}

type jobWire struct {
	InUse             uint8
	HandlerFlag       uint8
	_                 [2]byte
	ConnectStatus     int32
	JobID             uint32
	FileNameInUse     [fileNameWidth]byte
	FileSizeInUse     int64
	FileSizeInUseDone int64
	NoOfFiles         int32
	NoOfFilesDone     int32
	FileSize          int64
	FileSizeDone      int64
	BytesSend         int64
	UniqueName        [3]byte
	_                 byte
	UniqueNameMsgLen  uint16
	_                 [6]byte
	UniqueNameMsg     [msgWidth]byte
}

// HostRecordSize is the fixed size in bytes of one host's on-disk record.
var HostRecordSize = binary.Size(hostWire{})

func putStr(dst []byte, s string) error {
	if len(s) > len(dst) {
		return fmt.Errorf("ssa: value %q exceeds field width %d", s, len(dst))
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
	return nil
}

func getStr(src []byte) string {
	n := bytes.IndexByte(src, 0)
	if n < 0 {
		n = len(src)
	}
	return string(src[:n])
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// marshalHost encodes h into its fixed-size wire representation.
func marshalHost(h *HostStatus) ([]byte, error) {
	var w hostWire
	if err := putStr(w.Alias[:], h.Alias); err != nil {
		return nil, err
	}
	for i := 0; i < 2; i++ {
		if err := putStr(w.RealHostname[i][:], h.RealHostname[i]); err != nil {
			return nil, err
		}
	}
	w.HostnameToggle = int32(h.HostnameToggle)
	w.FailoverPosition = int32(h.FailoverPosition)
	w.Protocols = uint16(h.Protocols)
	w.Options = uint32(h.Options)
	if err := putStr(w.User[:], h.User); err != nil {
		return nil, err
	}
	if err := putStr(w.Password[:], h.Password); err != nil {
		return nil, err
	}
	w.SocketSendBuffer = int32(h.SocketSendBuffer)
	w.SocketRecvBuffer = int32(h.SocketRecvBuffer)
	w.TransferRateLim = h.TransferRateLimit
	w.BlockSize = int32(h.BlockSize)
	w.KeepConnected = int32(h.KeepConnected)
	w.DisconnectSec = int32(h.DisconnectSec)
	w.TransferTimeout = int32(h.TransferTimeout)
	w.AllowedXfers = int32(h.AllowedTransfers)
	w.ActiveXfers = int32(h.ActiveTransfers)
	w.ErrorCounter = h.ErrorCounter
	w.TotalFileCounter = h.TotalFileCounter
	w.TotalFileSize = h.TotalFileSize
	w.InUse = 1
	for i := range h.Slots {
		js := &h.Slots[i]
		jw := &w.Slots[i]
		jw.InUse = boolToU8(js.inUse)
		jw.HandlerFlag = byte(js.HandlerFlag)
		jw.ConnectStatus = int32(js.ConnectStatus)
		jw.JobID = js.JobID
		if err := putStr(jw.FileNameInUse[:], js.FileNameInUse); err != nil {
			return nil, err
		}
		jw.FileSizeInUse = js.FileSizeInUse
		jw.FileSizeInUseDone = js.FileSizeInUseDone
		jw.NoOfFiles = js.NoOfFiles
		jw.NoOfFilesDone = js.NoOfFilesDone
		jw.FileSize = js.FileSize
		jw.FileSizeDone = js.FileSizeDone
		jw.BytesSend = js.BytesSend
		jw.UniqueName = js.UniqueName
		n := len(js.UniqueNameMsg)
		if n > msgWidth {
			return nil, fmt.Errorf("ssa: unique name message too large (%d > %d)", n, msgWidth)
		}
		jw.UniqueNameMsgLen = uint16(n)
		copy(jw.UniqueNameMsg[:], js.UniqueNameMsg)
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unmarshalHost decodes a fixed-size wire record into a HostStatus. It
// returns ok=false if the record's InUse flag says the slot is empty.
func unmarshalHost(data []byte) (h *HostStatus, ok bool, err error) {
	var w hostWire
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &w); err != nil {
		return nil, false, err
	}
	if w.InUse == 0 {
		return nil, false, nil
	}
	h = &HostStatus{
		Alias:             getStr(w.Alias[:]),
		HostnameToggle:    int(w.HostnameToggle),
		FailoverPosition:  int(w.FailoverPosition),
		Protocols:         Protocol(w.Protocols),
		Options:           HostOption(w.Options),
		User:              getStr(w.User[:]),
		Password:          getStr(w.Password[:]),
		SocketSendBuffer:  int(w.SocketSendBuffer),
		SocketRecvBuffer:  int(w.SocketRecvBuffer),
		TransferRateLimit: w.TransferRateLim,
		BlockSize:         int(w.BlockSize),
		KeepConnected:     int(w.KeepConnected),
		DisconnectSec:     int(w.DisconnectSec),
		TransferTimeout:   int(w.TransferTimeout),
		AllowedTransfers:  int(w.AllowedXfers),
		ActiveTransfers:   int(w.ActiveXfers),
		ErrorCounter:      w.ErrorCounter,
		TotalFileCounter:  w.TotalFileCounter,
		TotalFileSize:     w.TotalFileSize,
	}
	h.RealHostname[0] = getStr(w.RealHostname[0][:])
	h.RealHostname[1] = getStr(w.RealHostname[1][:])
	for i := range w.Slots {
		jw := &w.Slots[i]
		js := &h.Slots[i]
		js.inUse = jw.InUse != 0
		js.HandlerFlag = HandlerInstalled(jw.HandlerFlag)
		js.ConnectStatus = ConnectStatus(jw.ConnectStatus)
		js.JobID = jw.JobID
		js.FileNameInUse = getStr(jw.FileNameInUse[:])
		js.FileSizeInUse = jw.FileSizeInUse
		js.FileSizeInUseDone = jw.FileSizeInUseDone
		js.NoOfFiles = jw.NoOfFiles
		js.NoOfFilesDone = jw.NoOfFilesDone
		js.FileSize = jw.FileSize
		js.FileSizeDone = jw.FileSizeDone
		js.BytesSend = jw.BytesSend
		js.UniqueName = jw.UniqueName
		n := int(jw.UniqueNameMsgLen)
		if n > msgWidth {
			n = msgWidth
		}
		if n > 0 {
			js.UniqueNameMsg = append([]byte(nil), jw.UniqueNameMsg[:n]...)
		}
	}
	return h, true, nil
}
