// Package sigverify checks payment signatures produced by staff cards.
//
// It runs server-side and never talks to a card: it rebuilds the exact bytes
// the card signed and verifies them against the card's stored public key.
// Verification is stateless and safe for concurrent use.
package sigverify

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// IDSize is the width of the employee identifier inside the payload.
const IDSize = 16

// PayloadSize is the length of the signed message.
const PayloadSize = IDSize + 3*4

var ErrKeyBlob = errors.New("malformed public key blob")

// EncodePublicKey produces the stored key form:
// u16be modulus length, modulus, u16be exponent length, exponent.
func EncodePublicKey(pub *rsa.PublicKey) ([]byte, error) {
	n := pub.N.Bytes()
	e := big.NewInt(int64(pub.E)).Bytes()
	if len(n) > 0xFFFF || len(e) > 0xFFFF {
		return nil, fmt.Errorf("%w: component too long", ErrKeyBlob)
	}

	out := make([]byte, 0, 4+len(n)+len(e))
	out = binary.BigEndian.AppendUint16(out, uint16(len(n)))
	out = append(out, n...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(e)))
	out = append(out, e...)
	return out, nil
}

// ParsePublicKey decodes EncodePublicKey's form. Trailing bytes are an error.
func ParsePublicKey(blob []byte) (*rsa.PublicKey, error) {
	n, rest, err := lengthPrefixed(blob)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, rest, err := lengthPrefixed(rest)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrKeyBlob, len(rest))
	}

	var mod, exp big.Int
	mod.SetBytes(n)
	exp.SetBytes(e)
	if mod.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero modulus", ErrKeyBlob)
	}
	if !exp.IsInt64() || exp.Int64() < 2 || exp.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("%w: unusable exponent", ErrKeyBlob)
	}
	return &rsa.PublicKey{N: &mod, E: int(exp.Int64())}, nil
}

func lengthPrefixed(b []byte) (value, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, fmt.Errorf("%w: missing length", ErrKeyBlob)
	}
	l := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if l == 0 || l > len(b) {
		return nil, nil, fmt.Errorf("%w: length %d, %d bytes left", ErrKeyBlob, l, len(b))
	}
	return b[:l], b[l:], nil
}

// Payload is the message a card signs when it pays.
type Payload struct {
	EmployeeID [IDSize]byte
	Amount     int32
	Timestamp  int32
	Unique     int32
}

// NewPayload zero-pads or truncates id to IDSize bytes.
func NewPayload(id []byte, amount, timestamp, unique int32) Payload {
	p := Payload{Amount: amount, Timestamp: timestamp, Unique: unique}
	copy(p.EmployeeID[:], id)
	return p
}

// Bytes returns the PayloadSize-byte wire form.
func (p Payload) Bytes() []byte {
	out := make([]byte, 0, PayloadSize)
	out = append(out, p.EmployeeID[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(p.Amount))
	out = binary.BigEndian.AppendUint32(out, uint32(p.Timestamp))
	out = binary.BigEndian.AppendUint32(out, uint32(p.Unique))
	return out
}

// Digest is the SHA-256 of the wire form.
func (p Payload) Digest() []byte {
	sum := sha256.Sum256(p.Bytes())
	return sum[:]
}

// SecurityError reports a payment whose signature could not be verified.
// It is an authorization denial, never a lookup or input error.
type SecurityError struct {
	EmployeeID string
	Unique     int32
	Err        error
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("payment signature rejected for employee %q (unique %d): %v", e.EmployeeID, e.Unique, e.Err)
}

func (e *SecurityError) Unwrap() error { return e.Err }

// Check verifies sig over the payload rebuilt from its fields. Any failure,
// including a malformed key blob, is returned as a *SecurityError.
func Check(sig, id []byte, amount, timestamp, unique int32, keyBlob []byte) error {
	p := NewPayload(id, amount, timestamp, unique)
	fail := func(err error) error {
		return &SecurityError{EmployeeID: trimID(p.EmployeeID), Unique: unique, Err: err}
	}

	pub, err := ParsePublicKey(keyBlob)
	if err != nil {
		return fail(err)
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, p.Digest(), sig); err != nil {
		return fail(err)
	}
	return nil
}

// Verify is Check reduced to a boolean.
func Verify(sig, id []byte, amount, timestamp, unique int32, keyBlob []byte) bool {
	return Check(sig, id, amount, timestamp, unique, keyBlob) == nil
}

func trimID(id [IDSize]byte) string {
	n := 0
	for n < IDSize && id[n] != 0 {
		n++
	}
	return string(id[:n])
}
