package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/otus-ingest/internal/core"
	"firestige.xyz/otus-ingest/internal/metrics"
)

// pcapSnapLen is written to the file header; frames are never cut by the sink.
const pcapSnapLen = 262144

// PcapSink re-encodes frames as a classic microsecond pcap file. The link type
// of the first frame fixes the file's link type; frames of another link type
// are dropped.
type PcapSink struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	w      *pcapgo.Writer
	link   core.LinkType
}

// NewPcapSink writes to w; closer, if not nil, is closed by Close.
func NewPcapSink(w io.Writer, closer io.Closer) *PcapSink {
	return &PcapSink{out: w, closer: closer}
}

func (s *PcapSink) Consume(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	written, dropped := 0, 0
	for i := range b.Frames {
		f := &b.Frames[i]
		if s.w == nil {
			if err := s.start(f.Link); err != nil {
				return err
			}
		}
		if f.Link != s.link {
			dropped++
			continue
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     f.Time(),
			CaptureLength: len(f.Data),
			Length:        int(f.OrigLen),
		}
		if ci.Length < ci.CaptureLength {
			ci.Length = ci.CaptureLength
		}
		if err := s.w.WritePacket(ci, f.Data); err != nil {
			return fmt.Errorf("%w: pcap write: %w", core.ErrIO, err)
		}
		written++
	}
	if dropped > 0 {
		metrics.SinkDroppedTotal.WithLabelValues("pcap").Add(float64(dropped))
		slog.Warn("pcap sink dropped frames with foreign link type",
			"source", b.Source, "dropped", dropped, "link", uint32(s.link))
	}
	metrics.SinkFramesTotal.WithLabelValues("pcap").Add(float64(written))
	return nil
}

func (s *PcapSink) start(link core.LinkType) error {
	if link > 0xff {
		return fmt.Errorf("%w: link type %d cannot be written as pcap", core.ErrFormat, link)
	}
	w := pcapgo.NewWriter(s.out)
	if err := w.WriteFileHeader(pcapSnapLen, layers.LinkType(link)); err != nil {
		return fmt.Errorf("%w: pcap header: %w", core.ErrIO, err)
	}
	s.w = w
	s.link = link
	return nil
}

// Close closes the output. A sink that never saw a frame leaves an empty
// output rather than a header with an invented link type.
func (s *PcapSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	c := s.closer
	s.closer = nil
	return c.Close()
}
