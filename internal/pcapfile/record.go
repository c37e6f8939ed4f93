package pcapfile

import (
	"encoding/binary"
	"time"
)

// RecordHeader precedes every captured frame in the file.
type RecordHeader struct {
	TsSec      uint32
	TsFrac     uint32 // microseconds once normalized
	CaptureLen uint32
	OrigLen    uint32
}

func decodeRecordHeader(b []byte, order binary.ByteOrder, res Resolution) RecordHeader {
	h := RecordHeader{
		TsSec:      order.Uint32(b[0:4]),
		TsFrac:     order.Uint32(b[4:8]),
		CaptureLen: order.Uint32(b[8:12]),
		OrigLen:    order.Uint32(b[12:16]),
	}
	if res == time.Nanosecond {
		h.TsFrac /= 1000
	}
	return h
}
