package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hex constructs a byte slice from a series of hex strings.
// It panics on malformed input and is meant for fixtures and constants.
func Hex(parts ...string) []byte {
	data, err := ParseHex(parts...)
	if err != nil {
		panic(err.Error())
	}
	return data
}

// ParseHex is the error-returning form of Hex, used for configured values
// such as AIDs and keys. Spaces and ':' separators are ignored.
func ParseHex(parts ...string) ([]byte, error) {
	fullHex := strings.Join(parts, "")
	cleanHex := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(fullHex)

	data, err := hex.DecodeString(cleanHex)
	if err != nil {
		return nil, fmt.Errorf("invalid input '%s': %w", cleanHex, err)
	}
	return data, nil
}

// MakeSafeASCII replaces non-printable bytes with '.' so card strings can be logged.
func MakeSafeASCII(data []byte) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 && r <= 126 {
			return r
		}
		return '.'
	}, string(data))
}
