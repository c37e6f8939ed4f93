package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/otus-ingest/internal/core"
	"firestige.xyz/otus-ingest/internal/metrics"
)

// ConsoleSink prints one line per frame. With decode set, the payload is
// dissected with gopacket and the layer stack is appended.
type ConsoleSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	decode bool
	seq    uint64
}

// NewConsoleSink writes to w.
func NewConsoleSink(w io.Writer, decode bool) *ConsoleSink {
	return &ConsoleSink{w: bufio.NewWriter(w), decode: decode}
}

func (s *ConsoleSink) Consume(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range b.Frames {
		f := &b.Frames[i]
		s.seq++
		fmt.Fprintf(s.w, "%d %s %s %s caplen=%d len=%d",
			s.seq, b.Source, b.LayerID, f.Time().Format(time.RFC3339Nano), f.CaptureLen(), f.OrigLen)
		if s.decode {
			fmt.Fprintf(s.w, " %s", summarize(f))
		}
		s.w.WriteByte('\n')
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("%w: console write: %w", core.ErrIO, err)
	}
	metrics.SinkFramesTotal.WithLabelValues("console").Add(float64(len(b.Frames)))
	return nil
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// summarize lists the decoded layers, e.g. "Ethernet/IPv4/TCP", followed by
// the flow endpoints when a network layer was found.
func summarize(f *core.Frame) string {
	if f.Link > 0xff {
		return "undecoded"
	}
	pkt := gopacket.NewPacket(f.Data, layers.LinkType(f.Link), gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	names := make([]string, 0, 4)
	for _, l := range pkt.Layers() {
		names = append(names, l.LayerType().String())
	}
	out := strings.Join(names, "/")
	if out == "" {
		out = "undecoded"
	}

	if nl := pkt.NetworkLayer(); nl != nil {
		src, dst := nl.NetworkFlow().Endpoints()
		if tr := pkt.TransportLayer(); tr != nil {
			sp, dp := tr.TransportFlow().Endpoints()
			out += fmt.Sprintf(" %s:%s > %s:%s", src, sp, dst, dp)
		} else {
			out += fmt.Sprintf(" %s > %s", src, dst)
		}
	}
	if el := pkt.ErrorLayer(); el != nil {
		out += " err=" + el.Error().Error()
	}
	return out
}
