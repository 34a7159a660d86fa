package satel

import (
	"bytes"
	"errors"
)

const (
	frameMarker byte = 0xFE
	frameEnd    byte = 0x0D
	frameEscape byte = 0xF0

	// Frames on this protocol are small; anything beyond this is garbage
	// and the decoder resynchronizes rather than buffering forever.
	maxFrameSize = 512
)

var (
	ErrChecksumMismatch = errors.New("satel: frame checksum mismatch")
	ErrTruncated        = errors.New("satel: truncated frame")
)

var frameHeader = []byte{frameMarker, frameMarker}

// Frame is the unescaped, checksum-verified content of one wire frame.
// When encryption is active the payload is still ciphertext at this layer.
type Frame struct {
	Payload []byte
}

// EncodeFrame wraps a payload in the wire framing: FE FE header, byte
// stuffing for embedded FE, checksum over the unescaped payload, FE 0D
// terminator.
func EncodeFrame(payload []byte) []byte {
	crc := Checksum(payload)
	raw := make([]byte, 0, len(payload)+2)
	raw = append(raw, payload...)
	raw = append(raw, byte(crc>>8), byte(crc))

	out := make([]byte, 0, len(raw)+6)
	out = append(out, frameMarker, frameMarker)
	for _, b := range raw {
		out = append(out, b)
		if b == frameMarker {
			out = append(out, frameEscape)
		}
	}
	out = append(out, frameMarker, frameEnd)
	return out
}

// Decoder accumulates raw socket bytes and extracts frames. It makes no
// assumption about read granularity: frames may span several reads and a
// single read may carry several frames.
type Decoder struct {
	buf []byte
}

func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete frame. It returns (nil, nil) when more
// bytes are needed. Malformed frames yield ErrChecksumMismatch or
// ErrTruncated; the bad bytes are discarded and the decoder resumes
// scanning for the next header, so callers should keep calling Next.
func (d *Decoder) Next() (*Frame, error) {
	start := bytes.Index(d.buf, frameHeader)
	if start < 0 {
		// Keep a trailing FE: it may be half of the next header.
		if n := len(d.buf); n > 0 && d.buf[n-1] == frameMarker {
			d.buf = d.buf[n-1:]
		} else {
			d.buf = d.buf[:0]
		}
		return nil, nil
	}

	raw := make([]byte, 0, 64)
	i := start + 2
	for i < len(d.buf) {
		b := d.buf[i]
		if b != frameMarker {
			raw = append(raw, b)
			i++
			continue
		}
		if i+1 >= len(d.buf) {
			break // escape or terminator split across reads
		}
		switch d.buf[i+1] {
		case frameEscape:
			raw = append(raw, frameMarker)
			i += 2
		case frameEnd:
			d.buf = d.buf[i+2:]
			return finishFrame(raw)
		case frameMarker:
			// A new header opened before this frame terminated.
			d.buf = d.buf[i:]
			return nil, ErrTruncated
		default:
			// Invalid escape; drop through it and resynchronize.
			d.buf = d.buf[i+2:]
			return nil, ErrTruncated
		}
	}

	if len(d.buf)-start > maxFrameSize {
		d.buf = d.buf[start+2:]
		return nil, ErrTruncated
	}
	d.buf = d.buf[start:]
	return nil, nil
}

func finishFrame(raw []byte) (*Frame, error) {
	if len(raw) < 3 {
		return nil, ErrTruncated
	}
	payload := raw[:len(raw)-2]
	want := uint16(raw[len(raw)-2])<<8 | uint16(raw[len(raw)-1])
	if Checksum(payload) != want {
		return nil, ErrChecksumMismatch
	}
	return &Frame{Payload: payload}, nil
}
