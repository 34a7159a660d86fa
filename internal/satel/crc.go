package satel

// Checksum implements the 16-bit checksum of the INTEGRA integration
// protocol: seed 0x147A, then per byte rotate left, invert and add.
func Checksum(data []byte) uint16 {
	crc := uint16(0x147A)
	for _, b := range data {
		crc = crc<<1 | crc>>15
		crc ^= 0xFFFF
		crc += crc>>8 + uint16(b)
	}
	return crc
}
