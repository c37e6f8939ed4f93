package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"firestige.xyz/otus-ingest/internal/core"
	"firestige.xyz/otus-ingest/internal/metrics"
)

// WireSink writes every frame as its prefixed binary form: the 20-byte
// big-endian header followed by the payload. The stream is self-delimiting.
type WireSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	buf    []byte
}

// NewWireSink writes to w; closer, if not nil, is closed by Close.
func NewWireSink(w io.Writer, closer io.Closer) *WireSink {
	return &WireSink{w: bufio.NewWriter(w), closer: closer}
}

func (s *WireSink) Consume(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range b.Frames {
		buf, err := b.Frames[i].AppendBinary(s.buf[:0])
		if err != nil {
			return err
		}
		s.buf = buf
		if _, err := s.w.Write(buf); err != nil {
			return fmt.Errorf("%w: wire write: %w", core.ErrIO, err)
		}
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("%w: wire write: %w", core.ErrIO, err)
	}
	metrics.SinkFramesTotal.WithLabelValues("wire").Add(float64(len(b.Frames)))
	return nil
}

func (s *WireSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
		s.closer = nil
	}
	return err
}
