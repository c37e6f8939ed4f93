package subproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otus-ingest/internal/core"
)

// TestHelperProcess is not a real test. It is re-executed by the tests below
// as a fake capture producer.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "no helper mode")
		os.Exit(2)
	}

	out := bufio.NewWriter(os.Stdout)
	frame := func(sec, usec uint32, data []byte, orig int) {
		fmt.Fprintf(out, `{"datalen":%d,"actlen":%d,"ts_sec":%d,"ts_usec":%d}`+"\n", len(data), orig, sec, usec)
		out.Write(data)
	}
	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7}

	switch args[1] {
	case "frames":
		frame(100, 2, payload, 10)
		frame(101, 3, []byte("abc"), 3)
		out.WriteString("\n")
		frame(102, 4, payload, 8)
	case "eof":
		frame(100, 2, payload, 10)
	case "nsec":
		fmt.Fprintf(out, `{"datalen":1,"actlen":1,"ts_sec":5,"ts_nsec":123456789}`+"\n")
		out.WriteByte(0xff)
	case "malformed":
		out.WriteString("{not json\n")
		out.Flush()
		time.Sleep(time.Minute)
	case "short":
		fmt.Fprintf(out, `{"datalen":8,"actlen":8}`+"\n")
		out.Write(payload[:3])
	case "hang":
		frame(100, 2, payload, 10)
		out.Flush()
		time.Sleep(time.Minute)
	case "stderr":
		fmt.Fprintln(os.Stderr, "capturing on eth0")
		out.WriteString("\n")
	default:
		fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", args[1])
		os.Exit(2)
	}
	out.Flush()
	os.Exit(0)
}

func helperConfig(t *testing.T, mode string) Config {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	return Config{
		Cmd:  os.Args[0],
		Args: []string{"-test.run=TestHelperProcess", "--", mode},
		Link: uint32(core.LinkTypeEthernet),
	}
}

func startHelper(t *testing.T, mode string) *Worker {
	t.Helper()
	w, err := Start(context.Background(), helperConfig(t, mode))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWorker_Frames(t *testing.T) {
	w := startHelper(t, "frames")
	assert.Equal(t, "[pcap]", w.LayerID())
	assert.Equal(t, core.LinkTypeEthernet, w.Link())

	f, err := w.Next()
	require.NoError(t, err)
	assert.Equal(t, core.LinkTypeEthernet, f.Link)
	assert.Equal(t, uint32(8), f.CaptureLen())
	assert.Equal(t, uint32(10), f.OrigLen)
	assert.Equal(t, uint32(100), f.TsSec)
	assert.Equal(t, uint32(2), f.TsUsec)

	buf, err := f.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, 28)
	assert.Equal(t, []byte{
		0, 0, 0, 1,
		0, 0, 0, 8,
		0, 0, 0, 10,
		0, 0, 0, 100,
		0, 0, 0, 2,
		0, 1, 2, 3, 4, 5, 6, 7,
	}, buf)

	wire, err := w.NextWire()
	require.NoError(t, err)
	var second core.Frame
	require.NoError(t, second.UnmarshalBinary(wire))
	assert.Equal(t, []byte("abc"), second.Data)
	assert.Equal(t, uint32(101), second.TsSec)

	// The blank line ends the stream even though the producer wrote more.
	for i := 0; i < 3; i++ {
		_, err = w.Next()
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestWorker_ClosedStdout(t *testing.T) {
	w := startHelper(t, "eof")

	_, err := w.Next()
	require.NoError(t, err)
	_, err = w.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = w.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWorker_NanosecondHeader(t *testing.T) {
	w := startHelper(t, "nsec")

	f, err := w.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), f.TsSec)
	assert.Equal(t, uint32(123456), f.TsUsec)
	assert.Equal(t, []byte{0xff}, f.Data)
}

func TestWorker_MalformedHeader(t *testing.T) {
	w := startHelper(t, "malformed")

	_, err := w.Next()
	require.ErrorIs(t, err, core.ErrProtocol)
	_, again := w.Next()
	assert.Equal(t, err, again, "errors are sticky")

	require.NoError(t, w.Close())
	require.NotNil(t, w.cmd.ProcessState)
	assert.Equal(t, -1, w.cmd.ProcessState.ExitCode(), "producer must be killed")
}

func TestWorker_ShortPayload(t *testing.T) {
	w := startHelper(t, "short")

	_, err := w.Next()
	require.ErrorIs(t, err, core.ErrIO)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	_, err = w.Next()
	assert.ErrorIs(t, err, core.ErrIO)
}

func TestWorker_Stderr(t *testing.T) {
	w := startHelper(t, "stderr")

	_, err := w.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWorker_CloseKillsProducer(t *testing.T) {
	w := startHelper(t, "hang")

	_, err := w.Next()
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NotNil(t, w.cmd.ProcessState)
	assert.Equal(t, -1, w.cmd.ProcessState.ExitCode())

	assert.NoError(t, w.Close(), "close is idempotent")
	_, err = w.Next()
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestWorker_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := Start(ctx, helperConfig(t, "hang"))
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Next()
	require.NoError(t, err)

	cancel()
	_, err = w.Next()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, w.Close())
	assert.Equal(t, -1, w.cmd.ProcessState.ExitCode())
}

func TestStart_SpawnFailure(t *testing.T) {
	w, err := Start(context.Background(), Config{Cmd: "/nonexistent/capture-producer"})
	assert.Nil(t, w)
	assert.ErrorIs(t, err, core.ErrIO)
}

func TestStart_InvalidConfig(t *testing.T) {
	w, err := Start(context.Background(), Config{})
	assert.Nil(t, w)
	assert.ErrorIs(t, err, core.ErrConfig)
}

func TestLineLogger(t *testing.T) {
	l := newLineLogger("producer")

	n, err := l.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "sec", string(l.buf))

	_, err = l.Write([]byte("ond\r\n"))
	require.NoError(t, err)
	assert.Empty(t, l.buf)
}

func TestReadLine_TooLong(t *testing.T) {
	long := make([]byte, maxHeaderLine+10)
	for i := range long {
		long[i] = 'x'
	}
	w := &Worker{cfg: Config{MaxFrameSize: DefaultMaxFrameSize}}
	w.stdout = bufio.NewReaderSize(errReader{data: long}, 4096)

	_, err := w.read()
	assert.True(t, errors.Is(err, core.ErrProtocol), "got %v", err)
}

type errReader struct {
	data []byte
}

func (r errReader) Read(p []byte) (int, error) {
	return copy(p, r.data), nil
}
