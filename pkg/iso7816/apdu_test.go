package iso7816

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestCommandAPDU_Encoding(t *testing.T) {
	cls := ClassProprietary
	insUpload, _ := NewProprietaryInstruction(0x10, "AVATAR_UPLOAD")
	insDownload, _ := NewProprietaryInstruction(0x11, "AVATAR_DOWNLOAD")
	insSelect, _ := NewInstruction(INS_SELECT)

	tests := []struct {
		name     string
		cmd      *CommandAPDU
		expected string
	}{
		{
			name:     "Case 1: Header Only (No Data, No Le)",
			cmd:      NewCommandAPDU(cls, insUpload, 0x01, 0x02, nil, 0),
			expected: "80100102",
		},
		{
			name: "Case 3: Data, no Le",
			cmd:  NewCommandAPDU(ClassInterindustry, insSelect, 0x04, 0x00, []byte{0xA0, 0x00}, 0),
			// Lc=02, Data=A000
			expected: "00A4040002A000",
		},
		{
			name: "Case 2: No Data, Le=MaxShortLe (256)",
			cmd:  NewCommandAPDU(cls, insDownload, 0x00, 0x00, nil, MaxShortLe),
			// Le=00 means 256 in Short mode
			expected: "8011000000",
		},
		{
			name: "Case 2: Offset in P1/P2, Le=240",
			cmd:  NewCommandAPDU(cls, insDownload, 0x01, 0xE0, nil, 240),
			// offset 480 = 0x01E0
			expected: "801101E0F0",
		},
		{
			name: "Case 4: Data and Le",
			cmd:  NewCommandAPDU(cls, insUpload, 0x00, 0x00, []byte{0x01}, 10),
			// Lc=01, Data=01, Le=0A
			expected: "80100000" + "01" + "01" + "0A",
		},
		{
			name: "Case 3: Maximum short data",
			cmd:  NewCommandAPDU(cls, insUpload, 0x00, 0x00, make([]byte, MaxShortLc), 0),
			// Lc=FF
			expected: "80100000FF" + hex.EncodeToString(make([]byte, MaxShortLc)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotBytes, err := tt.cmd.Bytes()
			if err != nil {
				t.Fatalf("Encoding failed: %v", err)
			}
			gotHex := strings.ToUpper(hex.EncodeToString(gotBytes))
			expectedHex := strings.ToUpper(tt.expected)

			if gotHex != expectedHex {
				dispGot := gotHex
				dispExp := expectedHex
				if len(dispGot) > 50 {
					dispGot = dispGot[:20] + "..." + dispGot[len(dispGot)-10:]
					dispExp = dispExp[:20] + "..." + dispExp[len(dispExp)-10:]
				}
				t.Errorf("Mismatch\nExpected: %s\nGot:      %s", dispExp, dispGot)
			}
		})
	}
}

func TestCommandAPDU_Limits(t *testing.T) {
	ins, _ := NewProprietaryInstruction(0x10, "AVATAR_UPLOAD")

	t.Run("Payload over one byte of length", func(t *testing.T) {
		cmd := NewCommandAPDU(ClassProprietary, ins, 0, 0, make([]byte, MaxShortLc+1), 0)
		if _, err := cmd.Bytes(); err == nil {
			t.Error("expected error for 256-byte payload")
		}
	})

	t.Run("Le over 256", func(t *testing.T) {
		cmd := NewCommandAPDU(ClassProprietary, ins, 0, 0, nil, MaxShortLe+1)
		if _, err := cmd.Bytes(); err == nil {
			t.Error("expected error for Le=257")
		}
	})
}

func TestCommandAPDU_StringHidesData(t *testing.T) {
	ins, _ := NewProprietaryInstruction(0x20, "VERIFY_PIN")
	cmd := NewCommandAPDU(ClassProprietary, ins, 0, 0, []byte{0xDE, 0xAD}, 0)
	s := cmd.String()
	if strings.Contains(strings.ToUpper(s), "DEAD") {
		t.Errorf("String() leaked command data: %s", s)
	}
	if !strings.Contains(s, "Lc: 2") {
		t.Errorf("String() = %s, want Lc", s)
	}
}

func TestParseResponseAPDU(t *testing.T) {
	raw, _ := hex.DecodeString("0102039000")
	resp, err := ParseResponseAPDU(raw)

	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(resp.Data) != 3 {
		t.Errorf("Wrong data length: got %d, want 3", len(resp.Data))
	}
	if !resp.IsSuccess() {
		t.Errorf("Wrong status: got %04X, want %04X", uint16(resp.Status), uint16(SW_NO_ERROR))
	}
}

func TestParseResponseAPDU_TooShort(t *testing.T) {
	if _, err := ParseResponseAPDU([]byte{0x90}); err == nil {
		t.Error("Expected error for short response, got nil")
	}
}

func TestEmptyResponse(t *testing.T) {
	resp := EmptyResponse()
	if resp.IsSuccess() {
		t.Error("empty response must not be a success")
	}
	if resp.Status != SW_NONE || len(resp.Data) != 0 {
		t.Errorf("unexpected empty response: %+v", resp)
	}

	var nilResp *ResponseAPDU
	if nilResp.IsSuccess() {
		t.Error("nil response must not be a success")
	}
}
