package cardlog

import (
	"fmt"
	"time"
)

// TimestampSize is the length of a compact timestamp.
const TimestampSize = 6

// Representable years. The year is stored as an offset from 2000 in one byte.
const (
	MinYear = 2000
	MaxYear = 2155
)

// EncodeTimestamp packs t as year-2000, month, day, hour, minute, second.
// Sub-second precision and the zone are dropped; callers pass wall-clock time
// in the zone the terminals agree on.
func EncodeTimestamp(t time.Time) ([TimestampSize]byte, error) {
	var out [TimestampSize]byte
	if y := t.Year(); y < MinYear || y > MaxYear {
		return out, fmt.Errorf("year %d outside %d..%d", y, MinYear, MaxYear)
	}
	out[0] = byte(t.Year() - MinYear)
	out[1] = byte(t.Month())
	out[2] = byte(t.Day())
	out[3] = byte(t.Hour())
	out[4] = byte(t.Minute())
	out[5] = byte(t.Second())
	return out, nil
}

// Timestamp unpacks a compact timestamp. ok is false, and the result is
// d.Now(), when the fields do not form a real calendar time.
func (d Decoder) Timestamp(b []byte) (t time.Time, ok bool) {
	if len(b) < TimestampSize {
		return d.now(), false
	}
	year := MinYear + int(b[0])
	month, day := time.Month(b[1]), int(b[2])
	hour, minute, sec := int(b[3]), int(b[4]), int(b[5])

	// The calendar check runs in UTC: time.Date normalises out-of-range
	// fields (month 13, 31 February, hour 24), and UTC has no DST gap that
	// would shift a real wall-clock time.
	c := time.Date(year, month, day, hour, minute, sec, 0, time.UTC)
	if c.Month() != month || c.Day() != day || c.Hour() != hour || c.Minute() != minute || c.Second() != sec {
		return d.now(), false
	}
	return time.Date(year, month, day, hour, minute, sec, 0, d.location()), true
}
