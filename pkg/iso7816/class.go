package iso7816

import (
	"fmt"

	"github.com/gregLibert/staffcard/pkg/bits"
)

// Class Byte (CLA) Structure according to ISO/IEC 7816-4.
//
// Bit 8: Proprietary (1) or Interindustry (0).
// Bit 5: Command Chaining (0=Last/Only, 1=More follow).
// Bits 4-3: Secure Messaging indication (first interindustry range).
// Bits 2-1: Logical Channel number (0-3).
//
// The staff applet answers SELECT on the interindustry class 0x00 and every
// other command on the proprietary class 0x80. Further interindustry classes
// (logical channels 4-19) are rejected since no reader here opens them.

// Class represents the parsed CLA byte.
type Class struct {
	Raw           byte
	IsProprietary bool
	IsChained     bool
	Channel       uint8
}

// Common class bytes.
var (
	ClassInterindustry = Class{Raw: 0x00}
	ClassProprietary   = Class{Raw: 0x80, IsProprietary: true}
)

// NewClass creates a Class object by decoding a raw CLA byte.
func NewClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("invalid CLA value: 0xFF is reserved")
	}

	c := Class{Raw: cla}

	if bits.IsSet(cla, 8) {
		c.IsProprietary = true
		return c, nil
	}

	if bits.IsSet(cla, 7) {
		return Class{}, fmt.Errorf("CLA 0x%02X: further interindustry classes are not supported", cla)
	}

	c.IsChained = bits.IsSet(cla, 5)
	c.Channel = bits.GetRange(cla, 2, 1)
	return c, nil
}

// Encode converts the Class object back to its byte representation.
func (c Class) Encode() byte {
	return c.Raw
}

// Verbose returns a human-readable description of the CLA byte configuration.
func (c Class) Verbose() string {
	if c.IsProprietary {
		return fmt.Sprintf("Class: Proprietary (0x%02X)", c.Raw)
	}

	chaining := "Last or only command"
	if c.IsChained {
		chaining = "More commands follow (Chaining)"
	}
	return fmt.Sprintf("Class: Interindustry (0x%02X) | Chaining: %s | Logical Channel: %d", c.Raw, chaining, c.Channel)
}
