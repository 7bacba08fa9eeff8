// Package tai64n implements the TAI64N timestamp format used to order
// handshake initiation messages. Timestamps are 12 opaque bytes on the
// wire and compare lexicographically.
package tai64n

import (
	"bytes"
	"encoding/binary"
	"time"
)

const (
	TimestampSize = 12
	// Offsets TAI64N seconds so every valid timestamp is a positive
	// 64-bit integer regardless of the platform's epoch handling.
	base = uint64(0x400000000000000a)
	// Low 24 bits of the nanosecond field are cleared before encoding,
	// limiting precision to ~16.7ms so timestamps don't leak fine-grained
	// clock behavior. Initiations are far less frequent than that, so the
	// whitened value still orders them correctly.
	whitenerMask = uint32(0xffffff)
)

// Timestamp holds 8 bytes of seconds followed by 4 bytes of nanoseconds,
// both big-endian. The encoding is monotonic under byte-wise comparison.
type Timestamp [TimestampSize]byte

// At converts a wall-clock instant into a whitened TAI64N timestamp.
func At(t time.Time) Timestamp {
	var ts Timestamp
	secs := base + uint64(t.Unix())
	nano := uint32(t.Nanosecond()) &^ whitenerMask
	binary.BigEndian.PutUint64(ts[:], secs)
	binary.BigEndian.PutUint32(ts[8:], nano)
	return ts
}

// Now returns the current time as a whitened TAI64N timestamp.
func Now() Timestamp {
	return At(time.Now())
}

// After reports whether t is strictly later than other. Because both
// values are whitened at generation, clock jitter below the whitening
// granularity compares equal, never newer.
func (t Timestamp) After(other Timestamp) bool {
	return bytes.Compare(t[:], other[:]) > 0
}

func (t Timestamp) String() string {
	secs := int64(binary.BigEndian.Uint64(t[:8]) - base)
	nano := int64(binary.BigEndian.Uint32(t[8:12]))
	return time.Unix(secs, nano).String()
}
