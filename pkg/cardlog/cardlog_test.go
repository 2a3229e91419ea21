package cardlog

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/staffcard/pkg/tlv"
)

var fixedNow = time.Date(2030, time.January, 2, 3, 4, 5, 0, time.UTC)

var utc = Decoder{
	Now:      func() time.Time { return fixedNow },
	Location: time.UTC,
}

func at(y int, mo time.Month, d, h, mi, s int) time.Time {
	return time.Date(y, mo, d, h, mi, s, 0, time.UTC)
}

func TestEncodeTimestamp(t *testing.T) {
	ts, err := EncodeTimestamp(at(2024, time.March, 15, 8, 30, 59))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(tlv.Hex("18 03 0F 08 1E 3B"), ts[:]); diff != "" {
		t.Errorf("EncodeTimestamp mismatch (-want +got):\n%s", diff)
	}

	for _, y := range []int{1999, 2156} {
		if _, err := EncodeTimestamp(at(y, 1, 1, 0, 0, 0)); err == nil {
			t.Errorf("year %d should be rejected", y)
		}
	}
	for _, y := range []int{MinYear, MaxYear} {
		if _, err := EncodeTimestamp(at(y, 1, 1, 0, 0, 0)); err != nil {
			t.Errorf("year %d: %v", y, err)
		}
	}
}

func TestTimestamp_RoundTrip(t *testing.T) {
	times := []time.Time{
		at(2000, time.January, 1, 0, 0, 0),
		at(2024, time.February, 29, 23, 59, 59),
		at(2155, time.December, 31, 12, 0, 0),
	}
	for _, want := range times {
		ts, err := EncodeTimestamp(want)
		if err != nil {
			t.Fatal(err)
		}
		got, ok := utc.Timestamp(ts[:])
		if !ok || !got.Equal(want) {
			t.Errorf("round trip of %v gave %v (ok=%v)", want, got, ok)
		}
	}
}

func TestTimestamp_InvalidFallsBackToNow(t *testing.T) {
	invalid := [][]byte{
		tlv.Hex("18 0D 01 00 00 00"), // month 13
		tlv.Hex("17 02 1E 00 00 00"), // 30 February
		tlv.Hex("18 00 01 00 00 00"), // month 0
		tlv.Hex("18 01 01 18 00 00"), // hour 24
		tlv.Hex("18 01 01 00 3C 00"), // minute 60
		tlv.Hex("18 01"),             // short
	}
	for _, b := range invalid {
		got, ok := utc.Timestamp(b)
		if ok || !got.Equal(fixedNow) {
			t.Errorf("Timestamp(%X) = %v, %v; want fallback", b, got, ok)
		}
	}
}

func TestTimestamp_DaylightSavingGap(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatal(err)
	}
	d := Decoder{Now: utc.Now, Location: paris}

	// 02:30 does not exist on the wall clock in Paris that night.
	rec, err := EncodeAccess(AccessCheckIn, at(2024, time.March, 31, 2, 30, 0), "Gate")
	if err != nil {
		t.Fatal(err)
	}
	got := d.Decode(rec)
	if len(got) != 1 {
		t.Fatalf("decoded %d entries", len(got))
	}
	want := time.Date(2024, time.March, 31, 2, 30, 0, 0, paris)
	if !got[0].TimeValid || !got[0].Time.Equal(want) {
		t.Errorf("entry time = %v (valid=%v), want %v", got[0].Time, got[0].TimeValid, want)
	}
}

func TestEncodeAccess_Layout(t *testing.T) {
	rec, err := EncodeAccess(AccessCheckIn, at(2024, time.March, 15, 8, 30, 0), "Main gate")
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, RecordSize)
	copy(want, tlv.Hex("01 01 18030F081E00"))
	copy(want[8:], "Main gate")
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("EncodeAccess mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeTransaction_Layout(t *testing.T) {
	rec, err := EncodeTransaction(TransactionPayment, at(2024, time.March, 15, 12, 0, 0), -25000, 75000, "Canteen")
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, RecordSize)
	copy(want, tlv.Hex("02 02 18030F0C0000 FFFF9E58 000124F8"))
	copy(want[16:], "Canteen")
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("EncodeTransaction mismatch (-want +got):\n%s", diff)
	}
}

func TestEntry_RoundTrip(t *testing.T) {
	entries := []Entry{
		{Kind: KindAccess, Subtype: AccessCheckIn, Time: at(2024, 3, 15, 8, 0, 0), TimeValid: true, Text: "Main gate"},
		{Kind: KindAccess, Subtype: AccessDenied, Time: at(2024, 3, 15, 9, 0, 0), TimeValid: true, Text: strings.Repeat("d", AccessTextSize)},
		{Kind: KindTransaction, Subtype: TransactionTopUp, Time: at(2024, 3, 15, 10, 0, 0), TimeValid: true, Amount: 100000, Balance: 100000, Text: "Top-up"},
		{Kind: KindTransaction, Subtype: TransactionPayment, Time: at(2024, 3, 15, 11, 0, 0), TimeValid: true, Amount: -2500, Balance: 97500, Text: "Cà phê"},
	}

	var blob []byte
	for _, e := range entries {
		rec, err := e.Encode()
		if err != nil {
			t.Fatal(err)
		}
		if len(rec) != RecordSize {
			t.Fatalf("record is %d bytes", len(rec))
		}
		blob = append(blob, rec...)
	}

	if diff := cmp.Diff(entries, utc.Decode(blob)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_TruncatesText(t *testing.T) {
	long := strings.Repeat("é", 20) // 40 bytes

	acc, err := EncodeAccess(AccessCheckOut, at(2024, 1, 1, 0, 0, 0), long)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := EncodeTransaction(TransactionPayment, at(2024, 1, 1, 0, 0, 0), 1, 2, long)
	if err != nil {
		t.Fatal(err)
	}

	got := utc.Decode(append(acc, tx...))
	if len(got) != 2 {
		t.Fatalf("decoded %d entries", len(got))
	}
	if got[0].Text != strings.Repeat("é", 12) {
		t.Errorf("access text = %q", got[0].Text)
	}
	if got[1].Text != strings.Repeat("é", 8) {
		t.Errorf("transaction text = %q", got[1].Text)
	}
}

func TestEncode_Rejects(t *testing.T) {
	if _, err := EncodeAccess(AccessCheckIn, at(1999, 12, 31, 0, 0, 0), "x"); err == nil {
		t.Error("year 1999 should be rejected")
	}
	if _, err := (Entry{Kind: KindTombstone}).Encode(); err == nil {
		t.Error("tombstones are not encodable")
	}
}

func TestDecode_SkipsTombstonesAndJunk(t *testing.T) {
	first, _ := EncodeAccess(AccessCheckIn, at(2024, 1, 1, 8, 0, 0), "A")
	second, _ := EncodeAccess(AccessCheckOut, at(2024, 1, 1, 17, 0, 0), "B")
	unknown := make([]byte, RecordSize)
	unknown[0] = 7

	var blob []byte
	blob = append(blob, first...)
	blob = append(blob, make([]byte, RecordSize)...) // tombstone
	blob = append(blob, unknown...)
	blob = append(blob, second...)
	blob = append(blob, 0x01, 0x01, 0x18) // trailing partial record

	got := utc.Decode(blob)
	if len(got) != 2 || got[0].Text != "A" || got[1].Text != "B" {
		t.Errorf("Decode() = %+v", got)
	}
	if len(utc.Decode(nil)) != 0 {
		t.Error("empty blob should decode to nothing")
	}
}

func TestDecode_InvalidDateKeepsRecord(t *testing.T) {
	rec, _ := EncodeAccess(AccessCheckIn, at(2024, 1, 1, 8, 0, 0), "Gate")
	rec[3] = 13

	got := utc.Decode(rec)
	if len(got) != 1 {
		t.Fatalf("decoded %d entries", len(got))
	}
	if got[0].TimeValid || !got[0].Time.Equal(fixedNow) || got[0].Text != "Gate" {
		t.Errorf("entry = %+v", got[0])
	}
}

func TestNewestFirst(t *testing.T) {
	var blob []byte
	for h := 8; h < 12; h++ {
		rec, _ := EncodeTransaction(TransactionPayment, at(2024, 1, 1, h, 0, 0), int32(h), 0, "")
		blob = append(blob, rec...)
		acc, _ := EncodeAccess(AccessCheckIn, at(2024, 1, 1, h, 30, 0), "")
		blob = append(blob, acc...)
	}

	oldest := utc.Decode(blob)
	txs := NewestFirst(Filter(oldest, KindTransaction))
	if len(txs) != 4 {
		t.Fatalf("got %d transactions", len(txs))
	}
	for i := 1; i < len(txs); i++ {
		if !txs[i-1].Time.After(txs[i].Time) {
			t.Errorf("entry %d is not newer than entry %d", i-1, i)
		}
	}
	if txs[0].Amount != 11 {
		t.Errorf("newest amount = %d, want 11", txs[0].Amount)
	}
	if oldest[0].Kind != KindTransaction || oldest[0].Amount != 8 {
		t.Error("NewestFirst must not modify its input")
	}
}
