// Package channel encrypts request and response payloads exchanged with the
// applet using AES and the pre-shared card key.
//
// The applet runs AES block by block with no chaining and no padding, so
// every payload must be a multiple of 16 bytes. The key is static
// configuration shared by every card of a deployment; a leaked key exposes
// every card's PIN traffic and avatar.
package channel

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// BlockSize is the AES block size every payload must be aligned to.
const BlockSize = aes.BlockSize

// Cipher is safe for concurrent use: the key schedule is read-only.
type Cipher struct {
	block cipher.Block
}

// New validates the key (16, 24 or 32 bytes) and prepares the key schedule.
func New(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("channel key: %w", err)
	}
	return &Cipher{block: block}, nil
}

// Aligned reports whether n bytes can be processed without padding.
func Aligned(n int) bool {
	return n > 0 && n%BlockSize == 0
}

// Encrypt returns the ciphertext of plain, or an empty slice when plain is
// empty or not block aligned. Callers treat an empty result as failure.
func (c *Cipher) Encrypt(plain []byte) []byte {
	if c == nil {
		return []byte{}
	}
	return c.crypt(plain, c.block.Encrypt)
}

// Decrypt is the inverse of Encrypt, with the same empty-on-failure contract.
func (c *Cipher) Decrypt(ciphertext []byte) []byte {
	if c == nil {
		return []byte{}
	}
	return c.crypt(ciphertext, c.block.Decrypt)
}

func (c *Cipher) crypt(in []byte, fn func(dst, src []byte)) []byte {
	if !Aligned(len(in)) {
		return []byte{}
	}
	out := make([]byte, len(in))
	for off := 0; off < len(in); off += BlockSize {
		fn(out[off:off+BlockSize], in[off:off+BlockSize])
	}
	return out
}
