package ingest

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otus-ingest/internal/config"
	"firestige.xyz/otus-ingest/internal/core"
)

// scriptedSource replays fixed Read results.
type scriptedSource struct {
	steps  []step
	closed int
}

type step struct {
	frames []core.Frame
	err    error
}

func (s *scriptedSource) Name() string    { return "scripted" }
func (s *scriptedSource) LayerID() string { return "[link-1]" }

func (s *scriptedSource) Read(ctx context.Context) ([]core.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.steps) == 0 {
		return nil, io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.frames, st.err
}

func (s *scriptedSource) Close() error {
	s.closed++
	return nil
}

func frameOf(n int) core.Frame {
	return core.Frame{Link: core.LinkTypeEthernet, OrigLen: uint32(n), Data: make([]byte, n)}
}

func TestPump_FileToSink(t *testing.T) {
	path := writePcap(t, "udp.pcap", layers.LinkTypeEthernet,
		udpPacket(t, "one"), udpPacket(t, "two"), udpPacket(t, "three"))

	src, err := DefaultRegistry().Open(context.Background(),
		config.SourceConfig{Name: "udp", Type: config.SourceTypeFile, Path: path}, Options{BatchSize: 2})
	require.NoError(t, err)

	sink := &recordingSink{}
	st, err := Pump(context.Background(), src, sink)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), st.Frames)
	assert.Equal(t, uint64(2), st.Batches)
	frames := sink.frames()
	require.Len(t, frames, 3)
	assert.Equal(t, st.Bytes, uint64(len(frames[0].Data)+len(frames[1].Data)+len(frames[2].Data)))
	for _, b := range sink.batches {
		assert.Equal(t, "udp", b.Source)
		assert.Equal(t, "[link-1]", b.LayerID)
	}
}

func TestPump_ExecToSink(t *testing.T) {
	src, err := DefaultRegistry().Open(context.Background(), helperSource(t, "pump-exec", "frames"), Options{})
	require.NoError(t, err)

	sink := &recordingSink{}
	st, err := Pump(context.Background(), src, sink)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.Frames)
	assert.Equal(t, uint64(3), st.Batches)
	assert.Equal(t, uint64(12), st.Bytes)
	assert.Equal(t, "[pcap]", sink.batches[0].LayerID)
}

func TestPump_ForwardsFramesBeforeError(t *testing.T) {
	boom := errors.New("disk gone")
	src := &scriptedSource{steps: []step{
		{frames: []core.Frame{frameOf(10)}},
		{frames: []core.Frame{frameOf(20)}, err: boom},
	}}
	sink := &recordingSink{}

	st, err := Pump(context.Background(), src, sink)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(2), st.Frames)
	assert.Equal(t, uint64(30), st.Bytes)
	assert.Len(t, sink.frames(), 2)
	assert.Equal(t, 1, src.closed)
}

func TestPump_EmptyReadsAreSkipped(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{},
		{frames: []core.Frame{frameOf(1)}},
		{},
	}}
	sink := &recordingSink{}

	st, err := Pump(context.Background(), src, sink)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Batches)
	assert.Len(t, sink.batches, 1)
}

func TestPump_SinkError(t *testing.T) {
	src := &scriptedSource{steps: []step{{frames: []core.Frame{frameOf(1)}}}}
	sink := &recordingSink{err: core.ErrIO}

	st, err := Pump(context.Background(), src, sink)
	assert.ErrorIs(t, err, core.ErrIO)
	assert.Zero(t, st.Frames)
	assert.Equal(t, 1, src.closed)
}

func TestPump_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &scriptedSource{steps: []step{{frames: []core.Frame{frameOf(1)}}}}

	_, err := Pump(ctx, src, &recordingSink{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, src.closed)
}
