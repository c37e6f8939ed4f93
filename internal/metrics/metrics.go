// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts frames read per source
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_frames_total",
			Help: "Total number of frames read from capture sources",
		},
		[]string{"source"},
	)

	// BytesTotal counts captured payload bytes per source
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_bytes_total",
			Help: "Total number of captured payload bytes read from capture sources",
		},
		[]string{"source"},
	)

	// BatchesTotal counts non-empty batches handed to the sink
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_batches_total",
			Help: "Total number of frame batches forwarded to the sink",
		},
		[]string{"source"},
	)

	// ErrorsTotal counts source failures by error kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_errors_total",
			Help: "Total number of capture source errors",
		},
		[]string{"source", "kind"},
	)

	// SourceProgress is the last reported read fraction of a file source (0..1)
	SourceProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_source_progress",
			Help: "Fraction of the capture file consumed",
		},
		[]string{"source"},
	)

	// ChildrenRunning tracks capture producer processes currently alive
	ChildrenRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_children_running",
			Help: "Number of running capture producer processes",
		},
	)

	// SinkFramesTotal counts frames accepted by a sink
	SinkFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_sink_frames_total",
			Help: "Total number of frames written by sinks",
		},
		[]string{"sink"},
	)

	// SinkDroppedTotal counts frames a sink discarded (filtered or failed)
	SinkDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_sink_dropped_total",
			Help: "Total number of frames dropped by sinks",
		},
		[]string{"sink"},
	)
)
