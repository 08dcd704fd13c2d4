// Package wmoframe implements the "file-name-is-header" framing used when
// sending to WMO-style bulletin endpoints: a 10-byte length+type indicator,
// a header block transcribed from the file name, the file body, an
// optional interleaved sequence counter, and a 4-byte end marker.
package wmoframe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// EndMarker is the fixed 4-byte trailer appended after every framed body.
var EndMarker = [4]byte{0x0D, 0x0D, 0x0A, 0x03} // CR CR LF ETX

const lengthTypeIndicatorSize = 10

// TypeIndicator is the two-character WMO data-type designator transcribed
// into the length+type indicator block (e.g. "TT" for a text bulletin).
type TypeIndicator [2]byte

// Header carries the fields transcribed from the file name into the frame
// header block, plus an optional interleaved sequence counter.
type Header struct {
	Type     TypeIndicator
	FileName string
	Seq      *uint16 // nil if this transfer does not use a sequence counter
}

// lengthTypeIndicator builds the fixed 10-byte prefix: 6-digit ASCII total
// body length, followed by the 2-byte type indicator, followed by 2 bytes
// of reserved padding.
func lengthTypeIndicator(totalBodyLen int) [lengthTypeIndicatorSize]byte {
	var out [lengthTypeIndicatorSize]byte
	copy(out[:6], []byte(fmt.Sprintf("%06d", totalBodyLen)))
	return out
}

// Encode renders the complete frame: length+type indicator, header block,
// body, end marker, with the sequence counter (if any) interleaved
// immediately after the header block and before the body.
func Encode(h Header, body []byte) ([]byte, error) {
	headerBlock := []byte(h.FileName)

	var seqBlock []byte
	if h.Seq != nil {
		seqBlock = make([]byte, 2)
		binary.BigEndian.PutUint16(seqBlock, *h.Seq)
	}

	totalBody := len(headerBlock) + len(seqBlock) + len(body)
	lti := lengthTypeIndicator(totalBody)
	lti[6] = h.Type[0]
	lti[7] = h.Type[1]

	var buf bytes.Buffer
	buf.Write(lti[:])
	buf.Write(headerBlock)
	buf.Write(seqBlock)
	buf.Write(body)
	buf.Write(EndMarker[:])
	return buf.Bytes(), nil
}

// Size returns the total framed size for a body of bodySize bytes with the
// given header, without materializing the frame - used to set the PUT
// Content-Length ("the PUT body size is size + header + end").
func Size(h Header, bodySize int64) int64 {
	headerLen := int64(len(h.FileName))
	if h.Seq != nil {
		headerLen += 2
	}
	return lengthTypeIndicatorSize + headerLen + bodySize + int64(len(EndMarker))
}

// Wrap streams the frame without buffering the whole body in memory: the
// prefix is emitted up front, r is copied through verbatim, and the end
// marker follows.
func Wrap(h Header, r io.Reader, bodySize int64) io.Reader {
	headerBlock := []byte(h.FileName)
	var seqBlock []byte
	if h.Seq != nil {
		seqBlock = make([]byte, 2)
		binary.BigEndian.PutUint16(seqBlock, *h.Seq)
	}
	totalBody := int64(len(headerBlock)+len(seqBlock)) + bodySize
	lti := lengthTypeIndicator(int(totalBody))
	lti[6] = h.Type[0]
	lti[7] = h.Type[1]

	prefix := append(append([]byte{}, lti[:]...), headerBlock...)
	prefix = append(prefix, seqBlock...)
	return io.MultiReader(bytes.NewReader(prefix), r, bytes.NewReader(EndMarker[:]))
}

// Decode parses a complete frame, validating the end marker and declared
// length. Only the type indicator is recovered into Header (FileName and
// Seq stay empty); the returned body is everything between the indicator
// and the end marker: the file-name block, any sequence counter, and the
// file body.
func Decode(frame []byte) (Header, []byte, error) {
	if len(frame) < lengthTypeIndicatorSize+len(EndMarker) {
		return Header{}, nil, fmt.Errorf("wmoframe: frame too short (%d bytes)", len(frame))
	}
	lti := frame[:lengthTypeIndicatorSize]
	rest := frame[lengthTypeIndicatorSize:]
	trailer := rest[len(rest)-len(EndMarker):]
	if !bytes.Equal(trailer, EndMarker[:]) {
		return Header{}, nil, fmt.Errorf("wmoframe: missing or corrupt end marker")
	}
	body := rest[:len(rest)-len(EndMarker)]

	var declaredLen int
	if _, err := fmt.Sscanf(string(lti[:6]), "%06d", &declaredLen); err != nil {
		return Header{}, nil, fmt.Errorf("wmoframe: invalid length field: %w", err)
	}
	if declaredLen != len(body) {
		return Header{}, nil, fmt.Errorf("wmoframe: declared length %d does not match body length %d", declaredLen, len(body))
	}

	h := Header{Type: TypeIndicator{lti[6], lti[7]}}
	return h, body, nil
}
