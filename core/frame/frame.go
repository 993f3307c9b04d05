// Package frame implements the length-prefixed wire unit: u64 big-endian
// length followed by payload bytes.
package frame

import (
	"encoding/binary"

	"github.com/remoteops/distant/core/errs"
)

// HeaderLen is the size in bytes of the length prefix.
const HeaderLen = 8

// Frame is an owned, ordered sequence of bytes carrying one application
// message. It is the unit of reliable delivery and the unit stored in the
// backup replay log.
type Frame []byte

// New wraps b as a Frame. The caller must not mutate b afterward.
func New(b []byte) Frame { return Frame(b) }

// Len returns the number of payload bytes (excludes the length prefix).
func (f Frame) Len() int { return len(f) }

// Encode reserves HeaderLen+len(f) bytes, writes the big-endian length
// prefix, then the payload, appending to dst and returning the result.
func (f Frame) Encode(dst []byte) []byte {
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(f)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, f...)
	return dst
}

// Decode attempts to parse a single Frame from the front of buf.
//
// Three outcomes:
//   - ok=false, err=nil: not enough bytes buffered yet (need-more).
//   - ok=false, err!=nil: the buffered length prefix is 0 (invalid_data).
//     The caller must still advance its buffer by HeaderLen to skip the
//     poisoned prefix, which is reported via consumed.
//   - ok=true: a complete frame was parsed; consumed is 8+len(frame) bytes.
func Decode(buf []byte) (f Frame, consumed int, ok bool, err error) {
	if len(buf) <= HeaderLen {
		return nil, 0, false, nil
	}
	n := binary.BigEndian.Uint64(buf[:HeaderLen])
	if n == 0 {
		return nil, HeaderLen, false, errs.New(errs.InvalidData, "frame length prefix is zero")
	}
	total := HeaderLen + int(n)
	if uint64(len(buf)) < uint64(total) {
		return nil, 0, false, nil
	}
	payload := make([]byte, n)
	copy(payload, buf[HeaderLen:total])
	return Frame(payload), total, true, nil
}
