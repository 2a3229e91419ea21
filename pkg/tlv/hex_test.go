package tlv

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseHex(t *testing.T) {
	tests := []struct {
		name    string
		parts   []string
		want    []byte
		wantErr bool
	}{
		{name: "AID with spaces", parts: []string{"F0 00 00 00 01 01"}, want: []byte{0xF0, 0, 0, 0, 1, 1}},
		{name: "split fixture", parts: []string{"80 26", "00 00", "01"}, want: []byte{0x80, 0x26, 0, 0, 1}},
		{name: "colon separated key", parts: []string{"2B:7E:15:16"}, want: []byte{0x2B, 0x7E, 0x15, 0x16}},
		{name: "key file line", parts: []string{"\t000102\n"}, want: []byte{0, 1, 2}},
		{name: "lower case", parts: []string{"c5ff"}, want: []byte{0xC5, 0xFF}},
		{name: "not hex", parts: []string{"ZZ"}, wantErr: true},
		{name: "odd length", parts: []string{"F00"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHex(tt.parts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHex() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseHex() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHex_PanicsOnBadFixture(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Hex() should panic on malformed input")
		}
	}()
	Hex("9000", "6")
}

func TestMakeSafeASCII(t *testing.T) {
	if got := MakeSafeASCII([]byte("STAFF\x00\x7F\xFFok")); got != "STAFF...ok" {
		t.Errorf("MakeSafeASCII() = %q", got)
	}
}
