package pcapfile

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otus-ingest/internal/core"
)

type testRecord struct {
	sec, frac, orig uint32
	data            []byte
}

// buildPcap encodes a capture file in the given byte order and resolution.
func buildPcap(order binary.ByteOrder, res Resolution, link uint32, recs ...testRecord) []byte {
	var buf bytes.Buffer
	magic := uint32(0xa1b2c3d4)
	if res == time.Nanosecond {
		magic = 0xa1b23c4d
	}
	hdr := make([]byte, FileHeaderLen)
	order.PutUint32(hdr[0:4], magic)
	order.PutUint16(hdr[4:6], 2)
	order.PutUint16(hdr[6:8], 4)
	order.PutUint32(hdr[16:20], 65535)
	order.PutUint32(hdr[20:24], link)
	buf.Write(hdr)

	for _, rec := range recs {
		rh := make([]byte, RecordHeaderLen)
		order.PutUint32(rh[0:4], rec.sec)
		order.PutUint32(rh[4:8], rec.frac)
		order.PutUint32(rh[8:12], uint32(len(rec.data)))
		order.PutUint32(rh[12:16], rec.orig)
		buf.Write(rh)
		buf.Write(rec.data)
	}
	return buf.Bytes()
}

func TestDetectMagic(t *testing.T) {
	tests := []struct {
		name  string
		magic [4]byte
		order binary.ByteOrder
		res   Resolution
	}{
		{"little endian micros", [4]byte{0xd4, 0xc3, 0xb2, 0xa1}, binary.LittleEndian, time.Microsecond},
		{"big endian micros", [4]byte{0xa1, 0xb2, 0xc3, 0xd4}, binary.BigEndian, time.Microsecond},
		{"little endian nanos", [4]byte{0x4d, 0x3c, 0xb2, 0xa1}, binary.LittleEndian, time.Nanosecond},
		{"big endian nanos", [4]byte{0xa1, 0xb2, 0x3c, 0x4d}, binary.BigEndian, time.Nanosecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, res, err := DetectMagic(tt.magic)
			require.NoError(t, err)
			assert.Equal(t, tt.order, order)
			assert.Equal(t, tt.res, res)
		})
	}
}

func TestDetectMagic_Rejected(t *testing.T) {
	t.Run("unknown values", func(t *testing.T) {
		for _, magic := range [][4]byte{
			{0, 0, 0, 0},
			{0xff, 0xff, 0xff, 0xff},
			{0xa1, 0xb2, 0xc3, 0xd5},
			{0xd4, 0xc3, 0xb2, 0xa2},
			{'G', 'E', 'T', ' '},
		} {
			_, _, err := DetectMagic(magic)
			assert.ErrorIs(t, err, core.ErrFormat, "magic %x", magic)
		}
	})

	t.Run("pcapng", func(t *testing.T) {
		_, _, err := DetectMagic([4]byte{0x0a, 0x0d, 0x0d, 0x0a})
		assert.ErrorIs(t, err, core.ErrUnsupported)
	})
}

func TestReadFileHeader(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			src := bytes.NewReader(buildPcap(order, time.Nanosecond, 113))

			h, err := ReadFileHeader(src)
			require.NoError(t, err)
			assert.Equal(t, order, h.ByteOrder)
			assert.Equal(t, time.Nanosecond, h.Resolution)
			assert.Equal(t, uint16(2), h.VersionMajor)
			assert.Equal(t, uint16(4), h.VersionMinor)
			assert.Equal(t, uint32(65535), h.SnapLen)
			assert.Equal(t, core.LinkTypeLinuxSLL, h.LinkType)
			assert.Equal(t, 0, src.Len(), "header must be fully consumed")
		})
	}
}

func TestReadFileHeader_Truncated(t *testing.T) {
	full := buildPcap(binary.LittleEndian, time.Microsecond, 1)
	for _, n := range []int{0, 3, 4, FileHeaderLen - 1} {
		_, err := ReadFileHeader(bytes.NewReader(full[:n]))
		assert.ErrorIs(t, err, core.ErrFormat, "length %d", n)
	}
}
