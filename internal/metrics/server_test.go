package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServer_ServesRegisteredMetrics(t *testing.T) {
	FramesTotal.WithLabelValues("server-test").Add(3)

	addr := freeAddr(t)
	s := NewServer(addr, "")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	assert.True(t, strings.Contains(body, `ingest_frames_total{source="server-test"} 3`), body)
}

func TestServer_StopWithoutStart(t *testing.T) {
	assert.NoError(t, NewServer("127.0.0.1:0", "/m").Stop(context.Background()))
}

func TestCounters(t *testing.T) {
	ErrorsTotal.WithLabelValues("counter-test", "io").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(ErrorsTotal.WithLabelValues("counter-test", "io")))

	SourceProgress.WithLabelValues("counter-test").Set(0.5)
	assert.Equal(t, 0.5, testutil.ToFloat64(SourceProgress.WithLabelValues("counter-test")))
}
