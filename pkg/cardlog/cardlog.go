// Package cardlog encodes the card's activity log: 32-byte records for door
// access events and wallet transactions, each stamped with a compact 6-byte
// timestamp.
//
// The card appends records in order, so a decoded log is oldest first.
// NewestFirst gives the presentation order.
package cardlog

import (
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"github.com/gregLibert/staffcard/pkg/record"
)

// RecordSize is the length of one log record.
const RecordSize = 32

// Text budgets per kind.
const (
	AccessTextSize      = RecordSize - 2 - TimestampSize
	TransactionTextSize = AccessTextSize - 8
)

type Kind byte

const (
	KindTombstone   Kind = 0
	KindAccess      Kind = 1
	KindTransaction Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTombstone:
		return "tombstone"
	case KindAccess:
		return "access"
	case KindTransaction:
		return "transaction"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

type Subtype byte

// Access subtypes.
const (
	AccessCheckIn  Subtype = 1
	AccessCheckOut Subtype = 2
	AccessDenied   Subtype = 3
)

// Transaction subtypes.
const (
	TransactionTopUp   Subtype = 1
	TransactionPayment Subtype = 2
)

// Entry is one decoded log record. Amount and Balance are only meaningful
// for KindTransaction. TimeValid is false when the stored timestamp was not a
// real date and Time was replaced by the decoder's clock.
type Entry struct {
	Kind      Kind
	Subtype   Subtype
	Time      time.Time
	TimeValid bool
	Text      string
	Amount    int32
	Balance   int32
}

func header(kind Kind, sub Subtype, t time.Time) ([]byte, error) {
	ts, err := EncodeTimestamp(t)
	if err != nil {
		return nil, fmt.Errorf("log timestamp: %w", err)
	}
	buf := make([]byte, RecordSize)
	buf[0] = byte(kind)
	buf[1] = byte(sub)
	copy(buf[2:], ts[:])
	return buf, nil
}

// EncodeAccess builds an access record. text is cut to AccessTextSize bytes.
func EncodeAccess(sub Subtype, t time.Time, text string) ([]byte, error) {
	buf, err := header(KindAccess, sub, t)
	if err != nil {
		return nil, err
	}
	record.PutText(buf[8:], text)
	return buf, nil
}

// EncodeTransaction builds a wallet record with the amount moved and the
// balance after the move. text is cut to TransactionTextSize bytes.
func EncodeTransaction(sub Subtype, t time.Time, amount, balance int32, text string) ([]byte, error) {
	buf, err := header(KindTransaction, sub, t)
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint32(buf[8:], uint32(amount))
	binary.BigEndian.PutUint32(buf[12:], uint32(balance))
	record.PutText(buf[16:], text)
	return buf, nil
}

// Encode dispatches on e.Kind.
func (e Entry) Encode() ([]byte, error) {
	switch e.Kind {
	case KindAccess:
		return EncodeAccess(e.Subtype, e.Time, e.Text)
	case KindTransaction:
		return EncodeTransaction(e.Subtype, e.Time, e.Amount, e.Balance, e.Text)
	default:
		return nil, fmt.Errorf("cannot encode %v record", e.Kind)
	}
}

// Decoder turns log blobs into entries. The zero value uses time.Now and
// time.Local.
type Decoder struct {
	Now      func() time.Time
	Location *time.Location
}

func (d Decoder) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Decoder) location() *time.Location {
	if d.Location != nil {
		return d.Location
	}
	return time.Local
}

// Decode walks blob in RecordSize strides. Tombstones and unknown kinds are
// skipped, as is a trailing partial record.
func (d Decoder) Decode(blob []byte) []Entry {
	var out []Entry
	for off := 0; off+RecordSize <= len(blob); off += RecordSize {
		if e, ok := d.entry(blob[off : off+RecordSize]); ok {
			out = append(out, e)
		}
	}
	return out
}

func (d Decoder) entry(rec []byte) (Entry, bool) {
	kind := Kind(rec[0])
	if kind != KindAccess && kind != KindTransaction {
		return Entry{}, false
	}

	e := Entry{Kind: kind, Subtype: Subtype(rec[1])}
	e.Time, e.TimeValid = d.Timestamp(rec[2:8])

	if kind == KindAccess {
		e.Text = record.Text(rec[8:])
		return e, true
	}
	e.Amount = int32(binary.BigEndian.Uint32(rec[8:]))
	e.Balance = int32(binary.BigEndian.Uint32(rec[12:]))
	e.Text = record.Text(rec[16:])
	return e, true
}

// Decode is Decoder.Decode with the default decoder.
func Decode(blob []byte) []Entry {
	return Decoder{}.Decode(blob)
}

// Filter keeps entries of the given kind, preserving order.
func Filter(entries []Entry, kind Kind) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// NewestFirst returns a reversed copy of an oldest-first list.
func NewestFirst(entries []Entry) []Entry {
	out := slices.Clone(entries)
	slices.Reverse(out)
	return out
}
