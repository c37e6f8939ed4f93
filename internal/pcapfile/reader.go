package pcapfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"firestige.xyz/otus-ingest/internal/core"
)

const (
	// DefaultMaxFrameSize bounds a single record allocation.
	DefaultMaxFrameSize = 16 << 20
	defaultBufferSize   = 64 << 10
)

// Extension is the only file extension Open accepts.
const Extension = ".pcap"

var errTruncated = errors.New("pcapfile: truncated record")

// FillResult describes one Fill call.
type FillResult struct {
	Filled    int     // Slots written at the front of the batch
	Progress  float64 // Estimated fraction of the input consumed
	Done      bool    // No further records will be produced
	Truncated bool    // Input ended inside a record, which was dropped
}

// Reader parses records from a classic pcap stream into frame batches.
// A Reader is driven by one goroutine at a time.
type Reader struct {
	name     string
	src      *countingReader
	closer   io.Closer
	header   FileHeader
	size     int64
	maxFrame uint32
	progress Progress
	bufSize  int

	frames uint64
	done   bool
	hdr    [RecordHeaderLen]byte
}

// Option configures a Reader.
type Option func(*Reader)

// WithProgress installs the batch progress callback.
func WithProgress(p Progress) Option {
	return func(r *Reader) {
		if p != nil {
			r.progress = p
		}
	}
}

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(n uint32) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxFrame = n
		}
	}
}

// WithBufferSize sets the read buffer size used by Open.
func WithBufferSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

// Open checks the extension of path, opens it and parses the global header.
// A path without the .pcap extension yields core.ErrUnsupported before the
// file is touched.
func Open(path string, opts ...Option) (*Reader, error) {
	if ext := filepath.Ext(path); !strings.EqualFold(ext, Extension) {
		return nil, fmt.Errorf("%w: %s: extension %q", core.ErrUnsupported, path, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIO, err)
	}

	size := int64(-1)
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}

	r := newReader(opts)
	r.name = path
	r.closer = f
	r.size = size
	r.src = &countingReader{r: bufio.NewReaderSize(f, r.bufSize)}
	if err := r.readHeader(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// NewReader parses the global header from src. size is the total byte count
// of src used for progress estimates; pass a value <= 0 when unknown.
// The caller keeps ownership of src.
func NewReader(src io.Reader, size int64, opts ...Option) (*Reader, error) {
	r := newReader(opts)
	r.size = size
	r.src = &countingReader{r: src}
	if err := r.readHeader(); err != nil {
		return nil, err
	}
	return r, nil
}

func newReader(opts []Option) *Reader {
	r := &Reader{
		maxFrame: DefaultMaxFrameSize,
		progress: nopProgress{},
		bufSize:  defaultBufferSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reader) readHeader() error {
	h, err := ReadFileHeader(r.src)
	if err != nil {
		return err
	}
	r.header = h
	return nil
}

// Header returns the parsed global header.
func (r *Reader) Header() FileHeader {
	return r.header
}

// LinkType returns the link type stamped on every frame.
func (r *Reader) LinkType() core.LinkType {
	return r.header.LinkType
}

// Done reports whether the reader reached permanent end of data.
func (r *Reader) Done() bool {
	return r.done
}

// Fill parses up to len(batch) records into batch. It stops early on the
// first failure; a clean end of data or a truncated trailing record is not an
// error. The progress callback fires once per call, and once more with 1.0
// when the reader finishes. Calling Fill after that returns a done result
// without invoking the callback.
func (r *Reader) Fill(batch []core.Frame) (FillResult, error) {
	if r.done {
		return FillResult{Progress: 1, Done: true}, nil
	}

	filled := 0
	var err error
	for filled < len(batch) {
		var f core.Frame
		if f, err = r.next(); err != nil {
			break
		}
		batch[filled] = f
		filled++
	}
	r.frames += uint64(filled)

	frac := estimate(r.src.n, r.size)
	r.progress.Progress(filled, frac)
	if err == nil {
		return FillResult{Filled: filled, Progress: frac}, nil
	}

	r.done = true
	r.progress.Progress(0, 1)
	res := FillResult{Filled: filled, Progress: 1, Done: true}

	switch {
	case errors.Is(err, io.EOF):
		return res, nil
	case errors.Is(err, errTruncated):
		res.Truncated = true
		slog.Warn("pcap input ends inside a record, dropping it",
			"path", r.name, "frames", r.frames, "offset", r.src.n)
		return res, nil
	default:
		return res, err
	}
}

func (r *Reader) next() (core.Frame, error) {
	if _, err := io.ReadFull(r.src, r.hdr[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return core.Frame{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return core.Frame{}, errTruncated
		default:
			return core.Frame{}, fmt.Errorf("%w: read record header: %w", core.ErrIO, err)
		}
	}

	h := decodeRecordHeader(r.hdr[:], r.header.ByteOrder, r.header.Resolution)
	if h.CaptureLen > r.maxFrame {
		return core.Frame{}, fmt.Errorf("%w: record %d captures %d bytes, limit is %d",
			core.ErrFormat, r.frames+1, h.CaptureLen, r.maxFrame)
	}

	data := make([]byte, h.CaptureLen)
	if _, err := io.ReadFull(r.src, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return core.Frame{}, errTruncated
		}
		return core.Frame{}, fmt.Errorf("%w: read record payload: %w", core.ErrIO, err)
	}

	return core.Frame{
		Link:    r.header.LinkType,
		OrigLen: h.OrigLen,
		TsSec:   h.TsSec,
		TsUsec:  h.TsFrac,
		Data:    data,
	}, nil
}

// Close releases the file opened by Open. It is a no-op for readers built
// with NewReader.
func (r *Reader) Close() error {
	r.done = true
	if r.closer == nil {
		return nil
	}
	c := r.closer
	r.closer = nil
	return c.Close()
}
