// Package core holds the primitive types shared by the transport and the
// typed layer.
package core

import (
	"encoding/hex"
	"time"
)

// Timestamp is a data structure representing a unique timestamp.
type Timestamp struct {
	time    uint64
	clockID [16]byte
}

// number of NTP fraction per second (2^32)
const fracPerSec = 0x100000000

// number of nanoseconds per second (10^9)
const nanoPerSec = 1000000000

// NewTimestamp creates a timestamp for t, generated by the clock clockID.
// Times before the Unix epoch are clamped to the epoch.
func NewTimestamp(t time.Time, clockID [16]byte) Timestamp {
	ns := t.UnixNano()
	if ns < 0 {
		ns = 0
	}
	sec := uint64(ns/nanoPerSec) << 32
	// round up so that GoTime() gives back the same nanosecond
	frac := (uint64(ns%nanoPerSec)*fracPerSec + nanoPerSec - 1) / nanoPerSec
	return Timestamp{time: sec | frac, clockID: clockID}
}

// FromRaw rebuilds a timestamp from its 64-bit time and its clock id.
func FromRaw(t uint64, clockID [16]byte) Timestamp {
	return Timestamp{time: t, clockID: clockID}
}

// GenerateTimestamp creates a new timestamp with current time but with 0x00 as clock_id.
func GenerateTimestamp() Timestamp {
	return NewTimestamp(time.Now(), [16]byte{})
}

// Time returns the  time as a 64-bit long, where:
//   - The higher 32-bit represent the number of seconds
//     since midnight, January 1, 1970 UTC
//   - The lower 32-bit represent a fraction of 1 second.
func (ts Timestamp) Time() uint64 {
	return ts.time
}

// ClockID returns the unique identifier of the clock that generated this timestamp.
func (ts Timestamp) ClockID() [16]byte {
	return ts.clockID
}

// IsZero reports whether ts has neither a time nor a clock id.
func (ts Timestamp) IsZero() bool {
	return ts.time == 0 && ts.clockID == [16]byte{}
}

// GoTime returns the time of a Timestamp as a Go time.Time
func (ts Timestamp) GoTime() time.Time {
	sec := ts.time >> 32
	frac := ts.time & 0xffffffff
	ns := (frac * nanoPerSec) / fracPerSec
	return time.Unix(int64(sec), int64(ns))
}

// Before reports whether the Timestamp ts was created before ots.
// This function can be used for sorting.
func (ts Timestamp) Before(ots Timestamp) bool {
	if ts.time < ots.time {
		return true
	} else if ts.time > ots.time {
		return false
	} else {
		for i, b := range ts.clockID {
			if b < ots.clockID[i] {
				return true
			} else if b > ots.clockID[i] {
				return false
			}
		}
	}
	return false
}

// String returns the Timestamp as a string
func (ts Timestamp) String() string {
	return ts.GoTime().In(time.UTC).Format(time.RFC3339Nano) + "/" + hex.EncodeToString(ts.clockID[:])
}
