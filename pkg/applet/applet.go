// Package applet describes the staff card applet: its AID, its proprietary
// instruction codes and the Transport contract the protocol engines use.
package applet

import (
	"fmt"

	"github.com/gregLibert/staffcard/pkg/iso7816"
)

// DefaultAID selects the staff applet when the configuration does not override it.
var DefaultAID = []byte{0xF0, 0x00, 0x00, 0x00, 0x01, 0x01}

// Proprietary instruction codes, all sent with CLA 0x80.
const (
	INS_AVATAR_UPLOAD   iso7816.InsCode = 0x10
	INS_AVATAR_DOWNLOAD iso7816.InsCode = 0x11
	INS_VERIFY_PIN      iso7816.InsCode = 0x20
	INS_CHANGE_PIN      iso7816.InsCode = 0x24
	INS_GET_RETRIES     iso7816.InsCode = 0x26
	INS_AUTHENTICATE    iso7816.InsCode = 0x30
	INS_GET_PUBLIC_KEY  iso7816.InsCode = 0x32
	INS_READ_INFO       iso7816.InsCode = 0x40
	INS_WRITE_INFO      iso7816.InsCode = 0x42
	INS_APPEND_LOG      iso7816.InsCode = 0x50
	INS_READ_LOGS       iso7816.InsCode = 0x52
	INS_TOP_UP          iso7816.InsCode = 0x54
	INS_PAY             iso7816.InsCode = 0x56
	INS_GET_BALANCE     iso7816.InsCode = 0x58
)

var names = map[iso7816.InsCode]string{
	INS_AVATAR_UPLOAD:   "AVATAR_UPLOAD",
	INS_AVATAR_DOWNLOAD: "AVATAR_DOWNLOAD",
	INS_VERIFY_PIN:      "VERIFY_PIN",
	INS_CHANGE_PIN:      "CHANGE_PIN",
	INS_GET_RETRIES:     "GET_RETRIES",
	INS_AUTHENTICATE:    "AUTHENTICATE",
	INS_GET_PUBLIC_KEY:  "GET_PUBLIC_KEY",
	INS_READ_INFO:       "READ_INFO",
	INS_WRITE_INFO:      "WRITE_INFO",
	INS_APPEND_LOG:      "APPEND_LOG",
	INS_READ_LOGS:       "READ_LOGS",
	INS_TOP_UP:          "TOP_UP",
	INS_PAY:             "PAY",
	INS_GET_BALANCE:     "GET_BALANCE",
}

// Name returns the label of an applet instruction.
func Name(ins iso7816.InsCode) string {
	if n, ok := names[ins]; ok {
		return n
	}
	return ins.String()
}

// Command builds a CLA 0x80 command for ins.
func Command(ins iso7816.InsCode, p1, p2 byte, data []byte, ne int) *iso7816.CommandAPDU {
	i, err := iso7816.NewProprietaryInstruction(ins, Name(ins))
	if err != nil {
		// every code above is outside the reserved ranges
		panic(err)
	}
	return iso7816.NewCommandAPDU(iso7816.ClassProprietary, i, p1, p2, data, ne)
}

// MaxOffset is the largest offset P1/P2 can address.
const MaxOffset = 0xFFFF

// OffsetCommand builds a chunk command carrying offset big-endian in P1 (high) and P2 (low).
func OffsetCommand(ins iso7816.InsCode, offset int, data []byte, ne int) (*iso7816.CommandAPDU, error) {
	if offset < 0 || offset > MaxOffset {
		return nil, fmt.Errorf("offset %d does not fit in P1/P2", offset)
	}
	return Command(ins, byte(offset>>8), byte(offset), data, ne), nil
}

// Offset decodes the offset carried by P1/P2.
func Offset(p1, p2 byte) int {
	return int(p1)<<8 | int(p2)
}

// StatusError reports a non-9000 status word for an applet command.
type StatusError struct {
	Ins iso7816.InsCode
	SW  iso7816.StatusWord
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("card command %s (0x%02X) failed: %s", Name(e.Ins), byte(e.Ins), e.SW.Verbose())
}

// Check returns a *StatusError unless resp carries 9000.
func Check(ins iso7816.InsCode, resp *iso7816.ResponseAPDU) error {
	if resp.IsSuccess() {
		return nil
	}
	sw := iso7816.SW_NONE
	if resp != nil {
		sw = resp.Status
	}
	return &StatusError{Ins: ins, SW: sw}
}
