package iso7816

import (
	"fmt"

	"github.com/gregLibert/staffcard/pkg/bits"
)

// Instruction Byte (INS) Logic according to ISO/IEC 7816-4.
//
// 1. Data Encoding (Bit 1):
//    In the interindustry class, an odd INS announces BER-TLV encoded data.
//    Proprietary applets are free to use odd codes (e.g. avatar download 0x11),
//    so the flag is only meaningful for interindustry commands.
//
// 2. Reserved Ranges:
//    INS values where the upper nibble is '6' or '9' (0x6X or 0x9X) are invalid.
//    These values are reserved for Status Words (SW1) or transport layer control
//    procedures (ISO/IEC 7816-3).

// InsCode is a typed representation of the instruction byte.
type InsCode byte

// Interindustry instruction codes used by the host.
const (
	INS_SELECT       InsCode = 0xA4
	INS_GET_RESPONSE InsCode = 0xC0
)

var insNames = map[InsCode]string{
	INS_SELECT:       "INS_SELECT",
	INS_GET_RESPONSE: "INS_GET_RESPONSE",
}

func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("InsCode(0x%02X)", byte(i))
}

// Instruction represents the parsed ISO 7816-4 Instruction byte (INS).
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
	Name     string // optional label for proprietary codes, used in logs
}

// NewInstruction creates an Instruction object with validation.
// It rejects '6X' and '9X' values as they are invalid according to ISO 7816-3.
func NewInstruction(ins InsCode) (Instruction, error) {
	highNibble := bits.HighNibble(byte(ins))
	if highNibble == 0x6 || highNibble == 0x9 {
		return Instruction{}, fmt.Errorf("invalid INS 0x%02X: 6X and 9X are reserved", byte(ins))
	}

	return Instruction{
		Raw:      ins,
		IsBERTLV: bits.IsSet(byte(ins), 1),
	}, nil
}

// NewProprietaryInstruction validates a proprietary code and attaches a label.
func NewProprietaryInstruction(ins InsCode, name string) (Instruction, error) {
	i, err := NewInstruction(ins)
	if err != nil {
		return Instruction{}, err
	}
	i.IsBERTLV = false
	i.Name = name
	return i, nil
}

// Verbose returns a human-readable description of the instruction.
func (i Instruction) Verbose() string {
	name := i.Name
	if name == "" {
		name = i.Raw.String()
	}
	format := "Standard"
	if i.IsBERTLV {
		format = "BER-TLV"
	}
	return fmt.Sprintf("INS: 0x%02X | Command: %s | Format: %s", byte(i.Raw), name, format)
}
