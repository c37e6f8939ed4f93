// Package ingest is the host runtime: it opens capture sources, pulls frames
// out of them and hands the frames to a sink.
package ingest

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"firestige.xyz/otus-ingest/internal/config"
	"firestige.xyz/otus-ingest/internal/core"
	"firestige.xyz/otus-ingest/internal/metrics"
	"firestige.xyz/otus-ingest/internal/pcapfile"
	"firestige.xyz/otus-ingest/internal/subproc"
)

// Source is a pull-driven capture frontend.
type Source interface {
	// Name is the configured source name, used as metric label.
	Name() string
	// LayerID identifies the frame layer to the decoder.
	LayerID() string
	// Read returns the next frames. It returns io.EOF once the source is
	// exhausted. Frames may accompany a non-nil error; they are valid.
	Read(ctx context.Context) ([]core.Frame, error)
	Close() error
}

// Options carries reader tuning shared by all sources.
type Options struct {
	BatchSize    int
	MaxFrameSize uint32
	BufferSize   int // 0 keeps the pcapfile default
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 256
	}
	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = pcapfile.DefaultMaxFrameSize
	}
	return o
}

// OptionsFrom converts the reader section of the configuration.
func OptionsFrom(rc config.ReaderConfig) Options {
	return Options{BatchSize: rc.BatchSize, MaxFrameSize: rc.MaxFrameSize, BufferSize: rc.BufferSize}
}

// ─── file ───

type fileSource struct {
	name   string
	reader *pcapfile.Reader
	batch  int
}

func openFileSource(_ context.Context, cfg config.SourceConfig, opts Options) (Source, error) {
	opts = opts.withDefaults()
	name := cfg.Name
	progress := pcapfile.ProgressFunc(func(filled int, fraction float64) {
		metrics.SourceProgress.WithLabelValues(name).Set(fraction)
		slog.Debug("file source progress", "source", name, "filled", filled, "progress", fraction)
	})

	r, err := pcapfile.Open(cfg.Path,
		pcapfile.WithProgress(progress),
		pcapfile.WithMaxFrameSize(opts.MaxFrameSize),
		pcapfile.WithBufferSize(opts.BufferSize),
	)
	if err != nil {
		return nil, err
	}
	h := r.Header()
	slog.Info("file source opened", "source", name, "path", cfg.Path,
		"link", uint32(h.LinkType), "snaplen", h.SnapLen, "resolution", h.Resolution.String())
	return &fileSource{name: name, reader: r, batch: opts.BatchSize}, nil
}

func (s *fileSource) Name() string { return s.name }

func (s *fileSource) LayerID() string { return core.LayerToken(s.reader.LinkType()) }

func (s *fileSource) Read(ctx context.Context) ([]core.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.reader.Done() {
		return nil, io.EOF
	}
	batch := make([]core.Frame, s.batch)
	res, err := s.reader.Fill(batch)
	if err != nil {
		return batch[:res.Filled], err
	}
	if res.Filled == 0 && res.Done {
		return nil, io.EOF
	}
	return batch[:res.Filled], nil
}

func (s *fileSource) Close() error {
	return s.reader.Close()
}

// ─── exec ───

type execSource struct {
	name      string
	worker    *subproc.Worker
	closeOnce sync.Once
}

func openExecSource(ctx context.Context, cfg config.SourceConfig, opts Options) (Source, error) {
	opts = opts.withDefaults()
	pc, err := subproc.ParseConfig(subproc.Config{
		Cmd:          cfg.Cmd,
		Args:         cfg.Args,
		Link:         cfg.Link,
		MaxFrameSize: opts.MaxFrameSize,
	})
	if err != nil {
		return nil, err
	}
	w, err := subproc.Start(ctx, pc)
	if err != nil {
		return nil, err
	}
	metrics.ChildrenRunning.Inc()
	return &execSource{name: cfg.Name, worker: w}, nil
}

func (s *execSource) Name() string { return s.name }

func (s *execSource) LayerID() string { return s.worker.LayerID() }

// Read returns one frame per call; the producer decides the pace.
func (s *execSource) Read(ctx context.Context) ([]core.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.worker.Next()
	if err != nil {
		// A producer killed by cancellation looks like a closed stream.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return []core.Frame{f}, nil
}

func (s *execSource) Close() error {
	s.closeOnce.Do(func() {
		_ = s.worker.Close()
		metrics.ChildrenRunning.Dec()
	})
	return nil
}
