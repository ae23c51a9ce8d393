// Package framing implements the stream-transport wire framing: a 4-byte
// big-endian payload length followed by that many bytes of UTF-8 JSON.
// The length never counts a terminator; receivers must not expect one.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// HeaderSize is the byte length of the frame header.
const HeaderSize = 4

// DefaultMaxPayload bounds incoming payloads unless the transport
// configures its own limit.
const DefaultMaxPayload = 16 << 20 // 16 MiB

// ErrPayloadTooLarge is returned for frames whose declared length exceeds
// the configured maximum. The connection handler reports it to the peer as
// a parse error.
var ErrPayloadTooLarge = errors.New("frame payload exceeds maximum size")

// ErrEmptyPayload is returned when asked to frame zero bytes.
var ErrEmptyPayload = errors.New("frame payload is empty")

// Header encodes the length prefix for a payload of n bytes.
func Header(n int) [HeaderSize]byte {
	var h [HeaderSize]byte
	binary.BigEndian.PutUint32(h[:], uint32(n))
	return h
}

// WriteFrame writes header and payload to w as one vectored write. On TCP
// connections net.Buffers coalesces both buffers into a single writev
// call, so header and payload hit the wire together.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	h := Header(len(payload))
	bufs := net.Buffers{h[:], payload}
	if _, err := bufs.WriteTo(w); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed payload from r. maxPayload of 0
// applies DefaultMaxPayload. The returned slice is freshly allocated and
// owned by the caller.
func ReadFrame(r io.Reader, maxPayload uint32) ([]byte, error) {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}
	var h [HeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(h[:])
	if n > maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, maxPayload)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}

// ReadFrameInto reads one payload into a buffer supplied by the caller,
// growing it when needed with the transport growth rule. It returns the
// payload slice (aliasing buf when it fit) and the possibly grown buffer
// for reuse.
func ReadFrameInto(r io.Reader, buf []byte, maxPayload uint32) (payload, grown []byte, err error) {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}
	var h [HeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return nil, buf, err
	}
	n := binary.BigEndian.Uint32(h[:])
	if n > maxPayload {
		return nil, buf, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, maxPayload)
	}
	for len(buf) < int(n) {
		buf = make([]byte, GrowSize(len(buf), int(n)))
	}
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return nil, buf, fmt.Errorf("reading frame payload: %w", err)
	}
	return buf[:n], buf, nil
}

// GrowSize computes the next receive-buffer size: current size times 1.5,
// rounded up to the next 4 KiB boundary, and at least need.
func GrowSize(current, need int) int {
	next := current + current/2
	if next < need {
		next = need
	}
	const page = 4096
	if rem := next % page; rem != 0 {
		next += page - rem
	}
	return next
}

// Encode frames a payload into a single contiguous buffer. Used on paths
// that cannot do vectored writes (WebSocket messages, tests).
func Encode(payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

// Decode splits one encoded frame and returns its payload. Trailing bytes
// beyond the declared length are rejected; this is a whole-buffer decode,
// not a stream scanner.
func Decode(data []byte) ([]byte, error) {
	if len(data) < HeaderSize {
		return nil, io.ErrUnexpectedEOF
	}
	n := binary.BigEndian.Uint32(data)
	if int(n) != len(data)-HeaderSize {
		return nil, fmt.Errorf("frame length %d does not match buffer %d", n, len(data)-HeaderSize)
	}
	return data[HeaderSize : HeaderSize+n], nil
}
