package satel

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrIntegrityFailure = errors.New("satel: frame integrity check failed (wrong integration key or desynchronized counter)")
)

// Directions keying the per-frame keystream so the two halves of a
// session never share a counter space.
const (
	dirClient byte = 0x01
	dirPanel  byte = 0x02
)

// Cipher is the optional encryption layer for one session. With no
// integration key configured it is an explicit pass-through. Counters are
// private: they advance only inside Encrypt/Decrypt and die with the
// session, so a (key, counter) pair is never reused across sessions.
type Cipher struct {
	block   cipher.Block
	sendDir byte
	recvDir byte
	sendCtr uint32
	recvCtr uint32
}

// NewCipher builds the client-side cipher from the integration key, a
// 32-character hex string (16 bytes). An empty key selects identity mode.
func NewCipher(key string) (*Cipher, error) {
	if key == "" {
		return &Cipher{}, nil
	}
	raw, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("satel: integration key is not valid hex: %v", err)
	}
	if len(raw) != 16 {
		return nil, fmt.Errorf("satel: integration key must be 16 bytes, got %d", len(raw))
	}
	sum := sha256.Sum256(raw)
	block, err := aes.NewCipher(sum[:24])
	if err != nil {
		return nil, fmt.Errorf("satel: deriving session key: %v", err)
	}
	return &Cipher{block: block, sendDir: dirClient, recvDir: dirPanel}, nil
}

// Active reports whether encryption is configured for this session.
func (c *Cipher) Active() bool {
	return c.block != nil
}

// Encrypt transforms one outbound payload, advancing the send counter.
// The sender's counter is embedded ahead of the plaintext so the peer can
// detect desynchronization.
func (c *Cipher) Encrypt(plaintext []byte) []byte {
	if !c.Active() {
		return plaintext
	}
	ctr := c.sendCtr
	c.sendCtr++

	buf := make([]byte, 2+len(plaintext))
	binary.BigEndian.PutUint16(buf, uint16(ctr))
	copy(buf[2:], plaintext)
	c.keystream(c.sendDir, ctr).XORKeyStream(buf, buf)
	return buf
}

// Decrypt transforms one inbound payload, advancing the receive counter in
// frame-arrival order. A counter echo that does not match our own counter
// means the session is unrecoverable and the caller must reconnect.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if !c.Active() {
		return ciphertext, nil
	}
	ctr := c.recvCtr
	c.recvCtr++

	if len(ciphertext) < 2 {
		return nil, ErrIntegrityFailure
	}
	buf := make([]byte, len(ciphertext))
	c.keystream(c.recvDir, ctr).XORKeyStream(buf, ciphertext)
	if binary.BigEndian.Uint16(buf) != uint16(ctr) {
		return nil, ErrIntegrityFailure
	}
	return buf[2:], nil
}

func (c *Cipher) keystream(dir byte, ctr uint32) cipher.Stream {
	var iv [aes.BlockSize]byte
	iv[0] = dir
	binary.BigEndian.PutUint32(iv[12:], ctr)
	return cipher.NewCTR(c.block, iv[:])
}
