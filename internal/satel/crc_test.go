package satel

import "testing"

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{
			name: "single status opcode",
			data: []byte{0x09},
			want: 0xD7EB,
		},
		{
			name: "empty payload",
			data: nil,
			want: 0x147A, // the seed, untouched
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.want {
				t.Errorf("Checksum(%x) = 0x%04X, want 0x%04X", tt.data, got, tt.want)
			}
		})
	}
}

func TestChecksumSensitivity(t *testing.T) {
	base := Checksum([]byte{0x80, 0x12, 0x34})
	if Checksum([]byte{0x80, 0x12, 0x35}) == base {
		t.Error("checksum did not change when a payload byte changed")
	}
	if Checksum([]byte{0x80, 0x34, 0x12}) == base {
		t.Error("checksum did not change when payload bytes were swapped")
	}
}
