// Package core defines core data structures with zero external dependencies.
package core

import (
	"encoding/binary"
	"fmt"
	"time"
)

// PrefixLen is the size of the big-endian metadata block in front of a
// marshaled frame: link, captured length, original length, seconds, micros.
const PrefixLen = 20

// Frame is one captured link-layer frame handed to the decoding pipeline.
type Frame struct {
	Link    LinkType // Link-layer type of the capture source
	OrigLen uint32   // Length on the wire, may exceed len(Data)
	TsSec   uint32   // Timestamp seconds
	TsUsec  uint32   // Timestamp sub-second part, always microseconds
	Data    []byte   // Captured bytes, owned by the frame
}

// CaptureLen returns the number of captured bytes.
func (f *Frame) CaptureLen() uint32 {
	return uint32(len(f.Data))
}

// Time returns the frame timestamp in UTC.
func (f *Frame) Time() time.Time {
	return time.Unix(int64(f.TsSec), int64(f.TsUsec)*int64(time.Microsecond)).UTC()
}

// MarshalBinary encodes the frame as the 20-byte prefix followed by the payload.
func (f *Frame) MarshalBinary() ([]byte, error) {
	return f.AppendBinary(make([]byte, 0, PrefixLen+len(f.Data)))
}

// AppendBinary appends the prefixed encoding of the frame to b.
func (f *Frame) AppendBinary(b []byte) ([]byte, error) {
	b = binary.BigEndian.AppendUint32(b, uint32(f.Link))
	b = binary.BigEndian.AppendUint32(b, f.CaptureLen())
	b = binary.BigEndian.AppendUint32(b, f.OrigLen)
	b = binary.BigEndian.AppendUint32(b, f.TsSec)
	b = binary.BigEndian.AppendUint32(b, f.TsUsec)
	return append(b, f.Data...), nil
}

// UnmarshalBinary decodes a prefixed buffer produced by MarshalBinary.
// The payload is copied.
func (f *Frame) UnmarshalBinary(b []byte) error {
	if len(b) < PrefixLen {
		return fmt.Errorf("%w: prefixed frame needs %d bytes, got %d", ErrFormat, PrefixLen, len(b))
	}
	caplen := binary.BigEndian.Uint32(b[4:8])
	if uint64(len(b)-PrefixLen) != uint64(caplen) {
		return fmt.Errorf("%w: prefix declares %d payload bytes, buffer carries %d",
			ErrFormat, caplen, len(b)-PrefixLen)
	}
	f.Link = LinkType(binary.BigEndian.Uint32(b[0:4]))
	f.OrigLen = binary.BigEndian.Uint32(b[8:12])
	f.TsSec = binary.BigEndian.Uint32(b[12:16])
	f.TsUsec = binary.BigEndian.Uint32(b[16:20])
	f.Data = append([]byte(nil), b[PrefixLen:]...)
	return nil
}
