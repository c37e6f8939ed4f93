package subproc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"firestige.xyz/otus-ingest/internal/core"
)

const (
	// maxHeaderLine caps a single JSON header line.
	maxHeaderLine = 64 << 10

	stdoutBufferSize = 64 << 10
	waitDelay        = 2 * time.Second
)

// Worker owns one producer process and decodes its stdout into frames.
// A Worker is not safe for concurrent use except for Close.
type Worker struct {
	cfg    Config
	cmd    *exec.Cmd
	stdout *bufio.Reader
	link   core.LinkType

	frames uint64
	eof    bool
	err    error

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Start spawns the producer. On failure no process is left behind and no
// Worker is returned. Cancelling ctx kills the producer.
func Start(ctx context.Context, cfg Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, cfg.Cmd, cfg.Args...)
	cmd.Stderr = newLineLogger(cfg.Cmd)
	cmd.WaitDelay = waitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe for %s: %w", core.ErrIO, cfg.Cmd, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: spawn %s: %w", core.ErrIO, cfg.Cmd, err)
	}

	w := &Worker{
		cfg:    cfg,
		cmd:    cmd,
		stdout: bufio.NewReaderSize(stdout, stdoutBufferSize),
		link:   core.LinkType(cfg.Link),
	}
	// A Worker dropped without Close must not leave the producer running.
	runtime.AddCleanup(w, func(p *os.Process) { _ = p.Kill() }, cmd.Process)

	slog.Info("capture producer started", "cmd", cfg.Cmd, "pid", cmd.Process.Pid, "link", cfg.Link)
	return w, nil
}

// Pid returns the producer's process id.
func (w *Worker) Pid() int {
	return w.cmd.Process.Pid
}

// LayerID is the token identifying frames from this reader to the decoder.
func (w *Worker) LayerID() string {
	return core.LayerTokenPcap
}

// Link returns the link type stamped on every frame.
func (w *Worker) Link() core.LinkType {
	return w.link
}

// Next returns the next frame. io.EOF means the producer ended the stream,
// either with a blank line or by closing stdout. After io.EOF or any error
// the stream is not read again and the same result is returned.
func (w *Worker) Next() (core.Frame, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return core.Frame{}, core.ErrClosed
	}
	if w.err != nil {
		return core.Frame{}, w.err
	}
	if w.eof {
		return core.Frame{}, io.EOF
	}

	f, err := w.read()
	switch {
	case err == nil:
		w.frames++
		return f, nil
	case errors.Is(err, io.EOF):
		w.eof = true
		slog.Debug("capture producer ended stream", "pid", w.Pid(), "frames", w.frames)
		return core.Frame{}, io.EOF
	default:
		w.err = err
		slog.Warn("capture producer stream failed", "pid", w.Pid(), "frames", w.frames, "error", err)
		return core.Frame{}, err
	}
}

// NextWire is Next followed by Frame.MarshalBinary.
func (w *Worker) NextWire() ([]byte, error) {
	f, err := w.Next()
	if err != nil {
		return nil, err
	}
	return f.MarshalBinary()
}

func (w *Worker) read() (core.Frame, error) {
	line, err := w.readLine()
	if err != nil {
		return core.Frame{}, err
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return core.Frame{}, io.EOF
	}

	h, err := ParseStreamHeader(line)
	if err != nil {
		return core.Frame{}, err
	}
	if h.DataLen > w.cfg.MaxFrameSize {
		return core.Frame{}, fmt.Errorf("%w: datalen %d exceeds limit %d", core.ErrProtocol, h.DataLen, w.cfg.MaxFrameSize)
	}

	data := make([]byte, h.DataLen)
	if n, err := io.ReadFull(w.stdout, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return core.Frame{}, fmt.Errorf("%w: payload cut short at %d of %d bytes: %w",
				core.ErrIO, n, h.DataLen, io.ErrUnexpectedEOF)
		}
		return core.Frame{}, fmt.Errorf("%w: read payload: %w", core.ErrIO, err)
	}

	return core.Frame{
		Link:    w.link,
		OrigLen: h.ActLen,
		TsSec:   h.TsSec,
		TsUsec:  h.TsUsec,
		Data:    data,
	}, nil
}

// readLine returns one line including its terminator, or whatever remains
// before EOF. An empty result at EOF is reported as an empty line.
func (w *Worker) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := w.stdout.ReadSlice('\n')
		if len(line)+len(chunk) > maxHeaderLine {
			return nil, fmt.Errorf("%w: header line exceeds %d bytes", core.ErrProtocol, maxHeaderLine)
		}
		line = append(line, chunk...)
		switch {
		case err == nil, errors.Is(err, io.EOF):
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, fmt.Errorf("%w: read header line: %w", core.ErrIO, err)
		}
	}
}

// Close kills the producer and reaps it. It always returns nil; cleanup
// problems are logged.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		pid := w.Pid()
		if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Warn("kill capture producer", "pid", pid, "error", err)
		}
		err := w.cmd.Wait()
		state := "unknown"
		if w.cmd.ProcessState != nil {
			state = w.cmd.ProcessState.String()
		}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			slog.Warn("reap capture producer", "pid", pid, "error", err)
		}
		slog.Info("capture producer stopped", "pid", pid, "state", state, "frames", w.frames)
	})
	return nil
}

// lineLogger forwards the producer's stderr to the logger one line at a time.
type lineLogger struct {
	cmd string
	buf []byte
}

func newLineLogger(cmd string) *lineLogger {
	return &lineLogger{cmd: cmd}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimRight(l.buf[:i], "\r"); len(line) > 0 {
			slog.Warn("capture producer stderr", "cmd", l.cmd, "line", string(line))
		}
		l.buf = l.buf[i+1:]
	}
	if len(l.buf) > maxHeaderLine {
		slog.Warn("capture producer stderr", "cmd", l.cmd, "line", string(l.buf))
		l.buf = l.buf[:0]
	}
	return len(p), nil
}
