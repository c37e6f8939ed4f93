package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/otus-ingest/internal/config"
	"firestige.xyz/otus-ingest/internal/core"
	"firestige.xyz/otus-ingest/internal/metrics"
)

// layerHeader carries the layer identifier on every message.
const layerHeader = "layer"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one message per frame. The key is the source name so a
// source's frames stay ordered within a partition; the value is the prefixed
// binary frame.
type KafkaSink struct {
	topic  string
	writer messageWriter

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewKafkaSink creates a synchronous writer for cfg.
func NewKafkaSink(cfg config.KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka sink needs brokers and topic", core.ErrConfig)
	}
	wc := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeoutDuration(),
		Async:        false,
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	wc.CompressionCodec = codec

	slog.Info("kafka sink created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"batch_size", cfg.BatchSize,
		"compression", cfg.Compression,
	)
	return newKafkaSink(cfg.Topic, kafka.NewWriter(wc)), nil
}

func newKafkaSink(topic string, w messageWriter) *KafkaSink {
	return &KafkaSink{topic: topic, writer: w}
}

func compressionCodec(name string) (kafka.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	default:
		return nil, fmt.Errorf("%w: invalid compression type: %s", core.ErrConfig, name)
	}
}

func (s *KafkaSink) Consume(ctx context.Context, b Batch) error {
	if len(b.Frames) == 0 {
		return nil
	}
	key := []byte(b.Source)
	layer := []byte(b.LayerID)
	msgs := make([]kafka.Message, len(b.Frames))
	for i := range b.Frames {
		f := &b.Frames[i]
		value, err := f.MarshalBinary()
		if err != nil {
			return err
		}
		msgs[i] = kafka.Message{
			Key:     key,
			Value:   value,
			Time:    f.Time(),
			Headers: []kafka.Header{{Key: layerHeader, Value: layer}},
		}
	}

	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.failed.Add(uint64(len(msgs)))
		metrics.SinkDroppedTotal.WithLabelValues("kafka").Add(float64(len(msgs)))
		return fmt.Errorf("%w: kafka publish to %s: %w", core.ErrIO, s.topic, err)
	}
	s.published.Add(uint64(len(msgs)))
	metrics.SinkFramesTotal.WithLabelValues("kafka").Add(float64(len(msgs)))
	return nil
}

func (s *KafkaSink) Close() error {
	err := s.writer.Close()
	if err != nil {
		slog.Error("error closing kafka writer", "error", err)
	}
	slog.Info("kafka sink stopped",
		"topic", s.topic,
		"total_published", s.published.Load(),
		"total_failed", s.failed.Load(),
	)
	return err
}
