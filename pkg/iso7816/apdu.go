package iso7816

import (
	"bytes"
	"fmt"
)

// APDU (Application Protocol Data Unit) structures and encodings according to ISO/IEC 7816-3 and 7816-4.
//
// COMMAND APDU (C-APDU):
// A command consists of a mandatory Header (4 bytes) and an optional Body.
//
// 1. Header:
//   - CLA (Class): Interindustry (0x00) or proprietary (0x80) for applet commands.
//   - INS (Instruction): The specific command to execute.
//   - P1, P2 (Parameters): Command modifiers. Chunked commands carry an offset here.
//
// 2. Body:
//   - Lc (Length Command): Number of bytes in the data field.
//   - Data: The command payload.
//   - Le (Length Expected): Maximum number of bytes expected in the response.
//
// ENCODING CASES (ISO 7816-3):
// - Case 1: No Data, No Response (Header only).
// - Case 2: No Data, Response Expected (Header + Le).
// - Case 3: Data Present, No Response (Header + Lc + Data).
// - Case 4: Data Present, Response Expected (Header + Lc + Data + Le).
//
// Only Short Length encoding is produced: the applet never accepts more than
// 255 bytes of command data, so a payload must fit in the single Lc byte.
//
// RESPONSE APDU (R-APDU):
// Optional data followed by the 2-byte Status Word (SW1 SW2). 0x9000 is success.

// APDU Limits according to ISO 7816-3 (Short Length mode).
const (
	// MaxShortLc is the maximum data length (Nc) encodable on 1 byte.
	MaxShortLc = 255

	// MaxShortLe is the maximum expected response length (Ne).
	// In Short mode, 0x00 encodes 256.
	MaxShortLe = 256
)

// CommandAPDU represents a command sent to the card.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int // Expected response length (0 means none)
}

// NewCommandAPDU creates a basic command.
func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Ne:          ne,
	}
}

// Bytes encodes the CommandAPDU into its byte representation (C-APDU).
func (c *CommandAPDU) Bytes() ([]byte, error) {
	nc := len(c.Data)
	if nc > MaxShortLc {
		return nil, fmt.Errorf("command data too long: %d bytes (max %d)", nc, MaxShortLc)
	}
	if c.Ne < 0 || c.Ne > MaxShortLe {
		return nil, fmt.Errorf("expected length %d out of range (0..%d)", c.Ne, MaxShortLe)
	}

	buf := new(bytes.Buffer)

	// 1. Header
	buf.WriteByte(c.Class.Encode())
	buf.WriteByte(byte(c.Instruction.Raw))
	buf.WriteByte(c.P1)
	buf.WriteByte(c.P2)

	// 2. Lc + Data
	if nc > 0 {
		buf.WriteByte(byte(nc))
		buf.Write(c.Data)
	}

	// 3. Le
	if c.Ne > 0 {
		if c.Ne == MaxShortLe {
			buf.WriteByte(0x00) // 0x00 represents 256
		} else {
			buf.WriteByte(byte(c.Ne))
		}
	}

	return buf.Bytes(), nil
}

// String returns a readable representation of the command meta-data.
// The data field is deliberately left out: it may carry PIN blocks.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// ResponseAPDU represents the reply from the card (R-APDU).
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU parses raw bytes received from the card into a ResponseAPDU.
// The input must contain at least 2 bytes (SW1, SW2).
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response too short: length %d", len(raw))
	}

	indexSW1 := len(raw) - 2
	data := raw[:indexSW1]
	sw1 := raw[indexSW1]
	sw2 := raw[indexSW1+1]

	return &ResponseAPDU{
		Data:   data,
		Status: NewStatusWord(sw1, sw2),
	}, nil
}

// EmptyResponse is what a transport returns when no answer could be obtained.
// Its status is SW_NONE, which is never a success.
func EmptyResponse() *ResponseAPDU {
	return &ResponseAPDU{Status: SW_NONE}
}

// IsSuccess reports whether the card answered 0x9000.
func (r *ResponseAPDU) IsSuccess() bool {
	return r != nil && r.Status.IsSuccess()
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
