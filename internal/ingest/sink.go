package ingest

import (
	"context"
	"fmt"
	"io"
	"os"

	"firestige.xyz/otus-ingest/internal/config"
	"firestige.xyz/otus-ingest/internal/core"
)

// Batch is what a source hands to a sink in one go.
type Batch struct {
	Source  string
	LayerID string
	Frames  []core.Frame
}

// Sink is the decoding pipeline boundary. Implementations must be safe for
// concurrent Consume calls from several sources.
type Sink interface {
	Consume(ctx context.Context, b Batch) error
	Close() error
}

// NewSink builds the configured sink. stdout receives console output and
// wire/pcap output when no path is configured.
func NewSink(cfg config.SinkConfig, stdout io.Writer) (Sink, error) {
	var (
		s   Sink
		err error
	)
	switch cfg.Type {
	case config.SinkTypeConsole, "":
		s = NewConsoleSink(stdout, cfg.Decode)
	case config.SinkTypeWire:
		w, closer, err := outputFor(cfg.Path, stdout)
		if err != nil {
			return nil, err
		}
		s = NewWireSink(w, closer)
	case config.SinkTypePcap:
		w, closer, err := outputFor(cfg.Path, stdout)
		if err != nil {
			return nil, err
		}
		s = NewPcapSink(w, closer)
	case config.SinkTypeKafka:
		s, err = NewKafkaSink(cfg.Kafka)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported sink type '%s'", core.ErrConfig, cfg.Type)
	}

	if cfg.BPF == "" {
		return s, nil
	}
	f, err := NewFilterSink(cfg.BPF, s)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return f, nil
}

// outputFor opens path for writing, or falls back to stdout when path is
// empty or "-". The returned closer is nil for stdout.
func outputFor(path string, stdout io.Writer) (io.Writer, io.Closer, error) {
	if path == "" || path == "-" {
		return stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create %s: %w", core.ErrIO, path, err)
	}
	return f, f, nil
}
