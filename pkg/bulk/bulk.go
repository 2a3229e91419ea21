// Package bulk moves payloads larger than one APDU (the avatar photo) in
// encrypted, offset-addressed chunks.
//
// Upload is not atomic: a failure midway leaves the chunks already written
// on the card. There is no end-of-data marker either; Download infers the end
// from the first short chunk.
package bulk

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gregLibert/staffcard/pkg/applet"
	"github.com/gregLibert/staffcard/pkg/channel"
)

const (
	// MaxChunk is the largest chunk sent in one command. It is a multiple of
	// the AES block size so each chunk is encrypted on its own.
	MaxChunk = 240

	// MaxImageSize bounds the card's avatar file.
	MaxImageSize = 8192
)

var (
	ErrMisaligned = fmt.Errorf("payload length must be a non-zero multiple of %d", channel.BlockSize)
	ErrTooLarge   = fmt.Errorf("payload exceeds the %d-byte card image", MaxImageSize)
	ErrEncrypt    = errors.New("chunk encryption failed")
)

// Report describes how far an upload got.
type Report struct {
	Chunks  int // chunks acknowledged with 9000
	Written int // bytes acknowledged with 9000
}

// Engine runs chunked transfers over a Transport. Chunks are strictly
// sequential: chunk N+1 is only sent once chunk N has been answered.
type Engine struct {
	transport applet.Transport
	cipher    *channel.Cipher
	log       *slog.Logger
}

// New creates an Engine. A nil logger falls back to slog.Default().
func New(t applet.Transport, c *channel.Cipher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{transport: t, cipher: c, log: logger}
}

// Chunks returns the chunk sizes used to upload n bytes.
func Chunks(n int) []int {
	var sizes []int
	for n > 0 {
		size := min(n, MaxChunk)
		sizes = append(sizes, size)
		n -= size
	}
	return sizes
}

// Upload writes data starting at offset 0. The caller pads data to a multiple
// of 16 bytes. Upload stops at the first chunk not answered with 9000; the
// returned Report tells how much was acknowledged before that.
func (e *Engine) Upload(data []byte) (Report, error) {
	var rep Report

	if !channel.Aligned(len(data)) {
		return rep, ErrMisaligned
	}
	if len(data) > MaxImageSize {
		return rep, ErrTooLarge
	}

	offset := 0
	for _, size := range Chunks(len(data)) {
		enc := e.cipher.Encrypt(data[offset : offset+size])
		if len(enc) == 0 {
			return rep, fmt.Errorf("offset %d: %w", offset, ErrEncrypt)
		}

		cmd, err := applet.OffsetCommand(applet.INS_AVATAR_UPLOAD, offset, enc, 0)
		if err != nil {
			return rep, err
		}
		resp := e.transport.Transmit(cmd)
		if err := applet.Check(applet.INS_AVATAR_UPLOAD, resp); err != nil {
			e.log.Warn("avatar upload interrupted", "offset", offset, "written", rep.Written, "status", resp.Status.Verbose())
			return rep, fmt.Errorf("upload chunk at offset %d: %w", offset, err)
		}

		offset += size
		rep.Chunks++
		rep.Written = offset
	}

	e.log.Debug("avatar uploaded", "bytes", rep.Written, "chunks", rep.Chunks)
	return rep, nil
}

// Download reads the card image from offset 0 and returns the decrypted
// bytes. It stops at the first short or empty chunk, at a non-9000 status, or
// at MaxImageSize, and returns what was accumulated so far in every case.
func (e *Engine) Download() []byte {
	var out []byte

	for offset := 0; offset < MaxImageSize; {
		want := min(MaxChunk, MaxImageSize-offset)

		cmd, err := applet.OffsetCommand(applet.INS_AVATAR_DOWNLOAD, offset, nil, want)
		if err != nil {
			break
		}
		resp := e.transport.Transmit(cmd)
		if !resp.IsSuccess() {
			e.log.Debug("avatar download stopped", "offset", offset, "status", resp.Status.Verbose())
			break
		}
		if len(resp.Data) == 0 {
			break
		}

		plain := e.cipher.Decrypt(resp.Data)
		if len(plain) == 0 {
			e.log.Warn("avatar chunk not block aligned", "offset", offset, "len", len(resp.Data))
			break
		}
		out = append(out, plain...)

		if len(resp.Data) < want {
			break
		}
		offset += len(resp.Data)
	}

	return out
}

// Pad extends data with zero bytes to the next block boundary. Image
// preparation normally does this before Upload.
func Pad(data []byte) []byte {
	rem := len(data) % channel.BlockSize
	if rem == 0 {
		return data
	}
	return append(append([]byte(nil), data...), make([]byte, channel.BlockSize-rem)...)
}
