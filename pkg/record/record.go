// Package record encodes the employee record stored on the card: a fixed
// 128-byte block of zero-terminated text fields.
package record

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Size is the on-card record length.
const Size = 128

type field struct {
	offset, width int
}

// Field layout, shared with the applet.
var (
	fieldID          = field{0, 16}
	fieldName        = field{16, 48}
	fieldDateOfBirth = field{64, 16}
	fieldDepartment  = field{80, 24}
	fieldPosition    = field{104, 24}
)

// Employee is the identity block of a card holder. Values longer than their
// field are cut at a rune boundary when encoded.
type Employee struct {
	ID          string
	Name        string
	DateOfBirth string
	Department  string
	Position    string
}

// IsEmpty reports whether the record carries no identity. A blank card
// decodes to all zero bytes, so ID and Name are both blank.
func (e Employee) IsEmpty() bool {
	return strings.TrimSpace(e.ID) == "" && strings.TrimSpace(e.Name) == ""
}

// Encode lays e out in a fresh 128-byte block.
func (e Employee) Encode() []byte {
	buf := make([]byte, Size)
	PutText(buf[fieldID.offset:fieldID.offset+fieldID.width], e.ID)
	PutText(buf[fieldName.offset:fieldName.offset+fieldName.width], e.Name)
	PutText(buf[fieldDateOfBirth.offset:fieldDateOfBirth.offset+fieldDateOfBirth.width], e.DateOfBirth)
	PutText(buf[fieldDepartment.offset:fieldDepartment.offset+fieldDepartment.width], e.Department)
	PutText(buf[fieldPosition.offset:fieldPosition.offset+fieldPosition.width], e.Position)
	return buf
}

// Decode parses a record block. Data longer than Size is ignored past the
// block; shorter data is an error.
func Decode(data []byte) (Employee, error) {
	if len(data) < Size {
		return Employee{}, fmt.Errorf("employee record: %d bytes, want %d", len(data), Size)
	}
	get := func(f field) string {
		return Text(data[f.offset : f.offset+f.width])
	}
	return Employee{
		ID:          get(fieldID),
		Name:        get(fieldName),
		DateOfBirth: get(fieldDateOfBirth),
		Department:  get(fieldDepartment),
		Position:    get(fieldPosition),
	}, nil
}

// Truncate cuts s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// PutText writes s into dst, truncated to len(dst), and zero-fills the rest.
func PutText(dst []byte, s string) {
	n := copy(dst, Truncate(s, len(dst)))
	clear(dst[n:])
}

// Text reads a zero-terminated run. A field filled to its width has no
// terminator.
func Text(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}
