package ingest

import (
	"context"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otus-ingest/internal/config"
	"firestige.xyz/otus-ingest/internal/core"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("file", openFileSource))

	err := r.Register("file", openFileSource)
	assert.ErrorContains(t, err, "already registered")

	assert.ErrorIs(t, r.Register("", openFileSource), core.ErrConfig)
	assert.ErrorIs(t, r.Register("x", nil), core.ErrConfig)
}

func TestRegistry_DefaultTypes(t *testing.T) {
	assert.Equal(t, []string{"exec", "file"}, DefaultRegistry().Types())
}

func TestRegistry_OpenUnknownType(t *testing.T) {
	_, err := NewRegistry().Open(context.Background(), config.SourceConfig{Name: "x", Type: "socket"}, Options{})
	assert.ErrorIs(t, err, core.ErrConfig)
}

func TestRegistry_OpenFile(t *testing.T) {
	path := writePcap(t, "a.pcap", layers.LinkTypeEthernet, []byte{1, 2, 3})

	src, err := DefaultRegistry().Open(context.Background(),
		config.SourceConfig{Name: "a", Type: config.SourceTypeFile, Path: path}, Options{})
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, "a", src.Name())
}

func TestRegistry_Fallback(t *testing.T) {
	path := writePcap(t, "converted.pcap", layers.LinkTypeRaw, []byte{0x45})

	cfg := config.SourceConfig{
		Name: "trace",
		Type: config.SourceTypeFile,
		Path: "/captures/trace.pcapng",
		Fallback: map[string]any{
			"type": "file",
			"path": path,
		},
	}
	src, err := DefaultRegistry().Open(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, "trace-fallback", src.Name())
	assert.Equal(t, core.LayerToken(core.LinkTypeRaw), src.LayerID())
}

func TestRegistry_UnsupportedWithoutFallback(t *testing.T) {
	_, err := DefaultRegistry().Open(context.Background(),
		config.SourceConfig{Name: "ng", Type: config.SourceTypeFile, Path: "/captures/trace.pcapng"}, Options{})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestRegistry_OpenErrorDoesNotFallBack(t *testing.T) {
	path := writePcap(t, "ok.pcap", layers.LinkTypeEthernet)
	cfg := config.SourceConfig{
		Name:     "missing",
		Type:     config.SourceTypeFile,
		Path:     "/nonexistent/trace.pcap",
		Fallback: map[string]any{"type": "file", "path": path},
	}
	_, err := DefaultRegistry().Open(context.Background(), cfg, Options{})
	assert.ErrorIs(t, err, core.ErrIO)
}

func TestRegistry_BadFallback(t *testing.T) {
	cfg := config.SourceConfig{
		Name:     "ng",
		Type:     config.SourceTypeFile,
		Path:     "trace.pcapng",
		Fallback: map[string]any{"type": "exec"},
	}
	_, err := DefaultRegistry().Open(context.Background(), cfg, Options{})
	assert.ErrorIs(t, err, core.ErrConfig)
}
