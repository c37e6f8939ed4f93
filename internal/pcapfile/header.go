// Package pcapfile reads classic libpcap capture files in fixed-size batches.
package pcapfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"firestige.xyz/otus-ingest/internal/core"
)

const (
	// FileHeaderLen is the size of the global header.
	FileHeaderLen = 24
	// RecordHeaderLen is the size of the per-record header.
	RecordHeaderLen = 16
)

// Magic byte patterns as they appear on disk.
var (
	magicMicrosBE = [4]byte{0xa1, 0xb2, 0xc3, 0xd4}
	magicMicrosLE = [4]byte{0xd4, 0xc3, 0xb2, 0xa1}
	magicNanosBE  = [4]byte{0xa1, 0xb2, 0x3c, 0x4d}
	magicNanosLE  = [4]byte{0x4d, 0x3c, 0xb2, 0xa1}
	magicPcapng   = [4]byte{0x0a, 0x0d, 0x0d, 0x0a}
)

// Resolution is the unit of the sub-second timestamp field stored in a file.
type Resolution = time.Duration

// FileHeader is the global header, parsed once per file.
type FileHeader struct {
	ByteOrder    binary.ByteOrder
	Resolution   Resolution
	VersionMajor uint16
	VersionMinor uint16
	SnapLen      uint32
	LinkType     core.LinkType
}

// DetectMagic maps the first four bytes of a file to its byte order and
// timestamp resolution.
func DetectMagic(magic [4]byte) (binary.ByteOrder, Resolution, error) {
	switch magic {
	case magicMicrosLE:
		return binary.LittleEndian, time.Microsecond, nil
	case magicMicrosBE:
		return binary.BigEndian, time.Microsecond, nil
	case magicNanosLE:
		return binary.LittleEndian, time.Nanosecond, nil
	case magicNanosBE:
		return binary.BigEndian, time.Nanosecond, nil
	case magicPcapng:
		return nil, 0, fmt.Errorf("%w: pcapng section header", core.ErrUnsupported)
	default:
		return nil, 0, fmt.Errorf("%w: unrecognized magic number %x", core.ErrFormat, magic[:])
	}
}

// ReadFileHeader consumes exactly FileHeaderLen bytes from r.
func ReadFileHeader(r io.Reader) (FileHeader, error) {
	var buf [FileHeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return FileHeader{}, fmt.Errorf("%w: file header truncated", core.ErrFormat)
		}
		return FileHeader{}, fmt.Errorf("%w: read file header: %w", core.ErrIO, err)
	}

	order, res, err := DetectMagic([4]byte(buf[0:4]))
	if err != nil {
		return FileHeader{}, err
	}

	// thiszone and sigfigs (8:16) are always zero in practice and ignored.
	return FileHeader{
		ByteOrder:    order,
		Resolution:   res,
		VersionMajor: order.Uint16(buf[4:6]),
		VersionMinor: order.Uint16(buf[6:8]),
		SnapLen:      order.Uint32(buf[16:20]),
		LinkType:     core.LinkType(order.Uint32(buf[20:24])),
	}, nil
}
