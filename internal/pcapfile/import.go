package pcapfile

import (
	"context"
	"errors"

	"firestige.xyz/otus-ingest/internal/core"
)

// Status is the terminal outcome of Import.
type Status int

const (
	StatusDone Status = iota
	StatusUnsupported
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "error"
	}
}

// Import reads the whole file at path through dst. After every batch p sees
// the number of filled slots; dst[:filled] is only valid during that call.
// p receives a final (0, 1.0) exactly once, whatever the outcome.
// ctx is checked before every batch; cancellation stops reading and
// returns StatusError with ctx.Err().
func Import(ctx context.Context, path string, dst []core.Frame, p Progress, opts ...Option) (Status, error) {
	if p == nil {
		p = nopProgress{}
	}
	if len(dst) == 0 {
		p.Progress(0, 1)
		return StatusError, errors.New("pcapfile: import needs at least one frame slot")
	}

	r, err := Open(path, append(opts, WithProgress(p))...)
	if err != nil {
		p.Progress(0, 1)
		if errors.Is(err, core.ErrUnsupported) {
			return StatusUnsupported, err
		}
		return StatusError, err
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			p.Progress(0, 1)
			return StatusError, err
		}
		res, err := r.Fill(dst)
		if err != nil {
			return StatusError, err
		}
		if res.Done {
			return StatusDone, nil
		}
	}
}
