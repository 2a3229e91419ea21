// Package auth implements the two card-side authentication protocols: the
// RSA challenge-response that proves a card is genuine, and encrypted PIN
// verification.
//
// Unlock state is not tracked here. Every result is returned to the caller,
// who decides whether to re-verify before a sensitive command; the card keeps
// and decrements the retry counter itself.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/gregLibert/staffcard/pkg/applet"
	"github.com/gregLibert/staffcard/pkg/channel"
)

const (
	// ModulusSize is the fixed modulus length of the card key as the applet
	// returns it: 128 bytes of modulus, then the exponent, no length prefixes.
	ModulusSize = 128

	// ChallengeSize is the length of the random challenge the card signs.
	ChallengeSize = 16

	// DefaultRetries and DefaultBalance are assumed when a read fails.
	DefaultRetries = 3
	DefaultBalance = 0
)

var (
	ErrKeyFormat   = errors.New("malformed card public key")
	ErrSignature   = errors.New("challenge signature does not verify")
	ErrShortRandom = errors.New("could not draw a full challenge")
)

// Reading is a best-effort value read from the card. Assumed is true when the
// read failed and Value holds the documented default instead of card data.
type Reading struct {
	Value   int
	Assumed bool
}

// Authenticator runs the protocols over a Transport.
type Authenticator struct {
	transport  applet.Transport
	cipher     *channel.Cipher
	random     io.Reader
	defaultPIN string
	log        *slog.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithRand replaces crypto/rand as the challenge source.
func WithRand(r io.Reader) Option {
	return func(a *Authenticator) { a.random = r }
}

// WithDefaultPIN sets the issuance PIN a holder may not switch back to.
func WithDefaultPIN(pin string) Option {
	return func(a *Authenticator) { a.defaultPIN = pin }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) { a.log = l }
}

// New creates an Authenticator. c encrypts PIN blocks.
func New(t applet.Transport, c *channel.Cipher, opts ...Option) *Authenticator {
	a := &Authenticator{
		transport: t,
		cipher:    c,
		random:    rand.Reader,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ParseCardPublicKey decodes the fixed on-card layout: a 128-byte modulus
// directly followed by the exponent bytes. It is not the length-prefixed form
// stored server-side; the two encodings are produced by different components.
func ParseCardPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) <= ModulusSize {
		return nil, fmt.Errorf("%w: %d bytes, need modulus (%d) and exponent", ErrKeyFormat, len(data), ModulusSize)
	}

	var n, e big.Int
	n.SetBytes(data[:ModulusSize])
	e.SetBytes(data[ModulusSize:])

	if n.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero modulus", ErrKeyFormat)
	}
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("%w: unusable exponent %s", ErrKeyFormat, e.String())
	}
	return &rsa.PublicKey{N: &n, E: int(e.Int64())}, nil
}

// PublicKey reads the card's RSA public key.
func (a *Authenticator) PublicKey() (*rsa.PublicKey, error) {
	resp := a.transport.Transmit(applet.Command(applet.INS_GET_PUBLIC_KEY, 0, 0, nil, 0))
	if err := applet.Check(applet.INS_GET_PUBLIC_KEY, resp); err != nil {
		return nil, err
	}
	return ParseCardPublicKey(resp.Data)
}

// Authenticate proves the card holds the private key matching its public key.
// Any failure, including a transport error, yields false.
func (a *Authenticator) Authenticate() bool {
	if err := a.challenge(); err != nil {
		a.log.Warn("card authentication failed", "error", err)
		return false
	}
	a.log.Debug("card authenticated")
	return true
}

func (a *Authenticator) challenge() error {
	pub, err := a.PublicKey()
	if err != nil {
		return fmt.Errorf("read public key: %w", err)
	}

	nonce := make([]byte, ChallengeSize)
	if _, err := io.ReadFull(a.random, nonce); err != nil {
		return fmt.Errorf("%w: %v", ErrShortRandom, err)
	}

	resp := a.transport.Transmit(applet.Command(applet.INS_AUTHENTICATE, 0, 0, nonce, 0))
	if err := applet.Check(applet.INS_AUTHENTICATE, resp); err != nil {
		return err
	}

	// The applet only offers SHA-1 with RSA.
	digest := sha1.Sum(nonce)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], resp.Data); err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return nil
}

// Retries reads the remaining PIN tries.
func (a *Authenticator) Retries() Reading {
	resp := a.transport.Transmit(applet.Command(applet.INS_GET_RETRIES, 0, 0, nil, 1))
	if !resp.IsSuccess() || len(resp.Data) < 1 {
		a.log.Debug("retry counter unavailable, assuming default", "status", resp.Status.Verbose())
		return Reading{Value: DefaultRetries, Assumed: true}
	}
	return Reading{Value: int(resp.Data[0])}
}

// Balance reads the wallet balance in minor units.
func (a *Authenticator) Balance() Reading {
	resp := a.transport.Transmit(applet.Command(applet.INS_GET_BALANCE, 0, 0, nil, 4))
	if !resp.IsSuccess() || len(resp.Data) < 4 {
		a.log.Debug("balance unavailable, assuming default", "status", resp.Status.Verbose())
		return Reading{Value: DefaultBalance, Assumed: true}
	}
	return Reading{Value: int(int32(binary.BigEndian.Uint32(resp.Data)))}
}
