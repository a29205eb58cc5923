// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package asdu

import (
	"encoding/binary"
	"time"
)

// CP56Time2a , the seven-octet absolute timestamp.
// |         Milliseconds(D7--D0)        | Milliseconds = 0-59999
// |         Milliseconds(D15--D8)       |
// | IV(D7)   RES1(D6)  Minutes(D5--D0)  | Minutes = 0-59, IV = invalid
// | SU(D7)   RES2(D6-D5)  Hours(D4--D0) | Hours = 0-23
// | DayOfWeek(D7--D5) DayOfMonth(D4--D0)| DayOfMonth = 1-31, DayOfWeek = 1-7
// | RES3(D7--D4)        Months(D3--D0)  | Months = 1-12
// | RES4(D7)            Year(D6--D0)    | Year = 0-99 (2000-based)
//
// Generated from local wall time when attached to outbound telegrams.

// EncodeCP56Time2a renders t (interpreted in loc, UTC if nil) as the
// 7-byte CP56Time2a wire format.
func EncodeCP56Time2a(t time.Time, loc *time.Location) []byte {
	if loc == nil {
		loc = time.UTC
	}
	ts := t.In(loc)
	msec := ts.Nanosecond()/int(time.Millisecond) + ts.Second()*1000
	weekday := int(ts.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return []byte{
		byte(msec), byte(msec >> 8),
		byte(ts.Minute()),
		byte(ts.Hour()),
		byte(weekday<<5) | byte(ts.Day()),
		byte(ts.Month()),
		byte(ts.Year() - 2000),
	}
}

// ParseCP56Time2a reads 7 bytes and returns the corresponding time. The
// year is 2000-based.
func ParseCP56Time2a(b []byte, loc *time.Location) time.Time {
	if len(b) < 7 || b[2]&0x80 == 0x80 {
		return time.Time{}
	}
	x := int(binary.LittleEndian.Uint16(b))
	msec := x % 1000
	sec := x / 1000
	minute := int(b[2] & 0x3F)
	hour := int(b[3] & 0x1F)
	day := int(b[4] & 0x1F)
	month := time.Month(b[5] & 0x0F)
	year := 2000 + int(b[6]&0x7F)

	if loc == nil {
		loc = time.UTC
	}
	return time.Date(year, month, day, hour, minute, sec, msec*int(time.Millisecond), loc)
}
