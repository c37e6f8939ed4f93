package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"firestige.xyz/otus-ingest/internal/core"
	"firestige.xyz/otus-ingest/internal/metrics"
)

// Stats summarizes one Pump run.
type Stats struct {
	Frames  uint64
	Bytes   uint64
	Batches uint64
}

// Pump pulls frames from src and forwards them to sink until the source is
// exhausted, ctx is cancelled or either side fails. The source is always
// closed. Exhaustion returns a nil error; cancellation returns ctx.Err().
func Pump(ctx context.Context, src Source, sink Sink) (Stats, error) {
	defer src.Close()

	var st Stats
	name := src.Name()
	for {
		frames, readErr := src.Read(ctx)
		if len(frames) > 0 {
			if err := sink.Consume(ctx, Batch{Source: name, LayerID: src.LayerID(), Frames: frames}); err != nil {
				metrics.ErrorsTotal.WithLabelValues(name, "sink").Inc()
				slog.Error("sink rejected batch", "source", name, "frames", len(frames), "error", err)
				return st, err
			}
			st.Batches++
			st.Frames += uint64(len(frames))
			var n uint64
			for i := range frames {
				n += uint64(len(frames[i].Data))
			}
			st.Bytes += n
			metrics.BatchesTotal.WithLabelValues(name).Inc()
			metrics.FramesTotal.WithLabelValues(name).Add(float64(len(frames)))
			metrics.BytesTotal.WithLabelValues(name).Add(float64(n))
		}

		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF):
			slog.Info("source exhausted", "source", name, "frames", st.Frames, "bytes", st.Bytes, "batches", st.Batches)
			return st, nil
		case errors.Is(readErr, context.Canceled), errors.Is(readErr, context.DeadlineExceeded):
			slog.Info("source stopped", "source", name, "frames", st.Frames, "reason", readErr)
			return st, readErr
		default:
			metrics.ErrorsTotal.WithLabelValues(name, core.Kind(readErr)).Inc()
			slog.Error("source failed", "source", name, "frames", st.Frames, "error", readErr)
			return st, readErr
		}
	}
}
