package satel

import (
	"bytes"
	"testing"
)

func TestEncodeFrame(t *testing.T) {
	// Known wire image from the integration protocol documentation.
	got := EncodeFrame([]byte{0x09})
	want := []byte{0xFE, 0xFE, 0x09, 0xD7, 0xEB, 0xFE, 0x0D}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeFrame(09) = % X, want % X", got, want)
	}
}

func decodeAll(t *testing.T, d *Decoder) []*Frame {
	t.Helper()
	var frames []*Frame
	for {
		f, err := d.Next()
		if err != nil {
			continue
		}
		if f == nil {
			return frames
		}
		frames = append(frames, f)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"no escaping", []byte{0x80, 0x12, 0x34, 0xFF, 0xFF}},
		{"marker in payload", []byte{0x88, 0xFE, 0x00, 0xFE}},
		{"marker only payload", []byte{0xFE}},
		{"single byte", []byte{0x7F}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Decoder
			d.Feed(EncodeFrame(tt.payload))
			frames := decodeAll(t, &d)
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1", len(frames))
			}
			if !bytes.Equal(frames[0].Payload, tt.payload) {
				t.Errorf("payload = % X, want % X", frames[0].Payload, tt.payload)
			}
		})
	}
}

func TestDecoderSplitReads(t *testing.T) {
	payload := []byte{0x80, 0xFE, 0x12}
	wire := EncodeFrame(payload)

	// Feed one byte at a time: no read-granularity assumptions allowed.
	var d Decoder
	var frames []*Frame
	for _, b := range wire {
		d.Feed([]byte{b})
		frames = append(frames, decodeAll(t, &d)...)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, payload) {
		t.Errorf("payload = % X, want % X", frames[0].Payload, payload)
	}
}

func TestDecoderMultipleFramesPerRead(t *testing.T) {
	a := []byte{0x00, 0x01}
	b := []byte{0x17, 0xFE}

	var d Decoder
	d.Feed(append(EncodeFrame(a), EncodeFrame(b)...))
	frames := decodeAll(t, &d)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, a) || !bytes.Equal(frames[1].Payload, b) {
		t.Errorf("payloads = % X, % X; want % X, % X", frames[0].Payload, frames[1].Payload, a, b)
	}
}

// Corrupting any single bit of the payload must surface as a checksum
// mismatch, never as a silently accepted frame.
func TestDecoderChecksumMismatch(t *testing.T) {
	payload := []byte{0x80, 0x12, 0x34, 0x01, 0x00}
	crc := Checksum(payload)

	for i := range payload {
		for bit := uint(0); bit < 8; bit++ {
			corrupted := append([]byte(nil), payload...)
			corrupted[i] ^= 1 << bit

			// Re-frame the corrupted payload with the original checksum.
			raw := append(append([]byte(nil), corrupted...), byte(crc>>8), byte(crc))
			wire := []byte{frameMarker, frameMarker}
			for _, b := range raw {
				wire = append(wire, b)
				if b == frameMarker {
					wire = append(wire, frameEscape)
				}
			}
			wire = append(wire, frameMarker, frameEnd)

			var d Decoder
			d.Feed(wire)
			f, err := d.Next()
			if err != ErrChecksumMismatch {
				t.Fatalf("byte %d bit %d: err = %v, want ErrChecksumMismatch", i, bit, err)
			}
			if f != nil {
				t.Fatalf("byte %d bit %d: corrupted frame was accepted", i, bit)
			}
		}
	}
}

func TestDecoderResynchronizes(t *testing.T) {
	good := []byte{0x7F, 0x01}

	var wire []byte
	wire = append(wire, 0x01, 0x02, 0xFE, 0x03)      // leading garbage
	wire = append(wire, 0xFE, 0xFE, 0x09, 0x00, 0x00) // frame cut short by the next header
	wire = append(wire, EncodeFrame(good)...)

	var d Decoder
	d.Feed(wire)

	var frames []*Frame
	var errs []error
	for {
		f, err := d.Next()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if f == nil {
			break
		}
		frames = append(frames, f)
	}

	if len(errs) == 0 {
		t.Error("expected at least one decode error before resynchronizing")
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, good) {
		t.Errorf("payload = % X, want % X", frames[0].Payload, good)
	}
}

func TestDecoderTruncatedFrame(t *testing.T) {
	// Terminator right after the header: too short to carry a checksum.
	var d Decoder
	d.Feed([]byte{0xFE, 0xFE, 0x09, 0xFE, 0x0D})
	if _, err := d.Next(); err != ErrTruncated {
		t.Errorf("err = %v, want ErrTruncated", err)
	}
}
