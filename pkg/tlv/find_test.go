package tlv

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFind(t *testing.T) {
	fci := Hex(
		"6F 11",
		"84 06 F00000000101", // AID
		"A5 07",
		"50 05 5354414646", // Label "STAFF"
	)

	tests := []struct {
		name    string
		path    []string
		want    []byte
		wantErr bool
	}{
		{name: "Top level template", path: []string{"6F", "84"}, want: Hex("F00000000101")},
		{name: "Nested label", path: []string{"6F", "A5", "50"}, want: []byte("STAFF")},
		{name: "Lower case tags", path: []string{"6f", "a5", "50"}, want: []byte("STAFF")},
		{name: "Missing tag", path: []string{"6F", "88"}, wantErr: true},
		{name: "Empty path", path: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Find(fci, tt.path...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Find() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Find() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHas(t *testing.T) {
	data := Hex("84 02 1122")
	if !Has(data, "84") {
		t.Error("expected tag 84 to be present")
	}
	if Has(data, "50") {
		t.Error("tag 50 should be absent")
	}
}

func TestEncodeFCI(t *testing.T) {
	got, err := EncodeFCI(Hex("F00000000101"), "STAFF")
	if err != nil {
		t.Fatal(err)
	}
	want := Hex("6F 11 84 06 F00000000101 A5 07 50 05 5354414646")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EncodeFCI() mismatch (-want +got):\n%s", diff)
	}

	bare, err := EncodeFCI(Hex("F00000000101"), "")
	if err != nil {
		t.Fatal(err)
	}
	if Has(bare, "6F", "A5") {
		t.Error("no label means no A5 template")
	}
}
