package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/bpf"

	"firestige.xyz/otus-ingest/internal/core"
	"firestige.xyz/otus-ingest/internal/metrics"
)

// FilterSink drops frames rejected by a classic BPF program and forwards the
// rest to the next sink.
type FilterSink struct {
	vm   *bpf.VM
	next Sink
}

// NewFilterSink compiles program, given in `tcpdump -ddd` form: an
// instruction count followed by one "code jt jf k" line per instruction.
func NewFilterSink(program string, next Sink) (*FilterSink, error) {
	raw, err := ParseBPF(program)
	if err != nil {
		return nil, err
	}
	insns, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("%w: bpf program contains unknown instructions", core.ErrConfig)
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("%w: bpf: %w", core.ErrConfig, err)
	}
	return &FilterSink{vm: vm, next: next}, nil
}

// ParseBPF parses `tcpdump -ddd` output. Lines may also be separated by
// commas, which is how the program is passed on a single config line.
func ParseBPF(program string) ([]bpf.RawInstruction, error) {
	lines := strings.FieldsFunc(program, func(r rune) bool { return r == '\n' || r == ',' })
	var fields [][]string
	for _, l := range lines {
		if f := strings.Fields(l); len(f) > 0 {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty bpf program", core.ErrConfig)
	}
	if len(fields[0]) != 1 {
		return nil, fmt.Errorf("%w: bpf program must start with an instruction count", core.ErrConfig)
	}
	n, err := strconv.Atoi(fields[0][0])
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: bad bpf instruction count %q", core.ErrConfig, fields[0][0])
	}
	if len(fields)-1 != n {
		return nil, fmt.Errorf("%w: bpf program declares %d instructions, has %d", core.ErrConfig, n, len(fields)-1)
	}

	raw := make([]bpf.RawInstruction, n)
	for i, f := range fields[1:] {
		if len(f) != 4 {
			return nil, fmt.Errorf("%w: bpf instruction %d: want 4 fields, got %d", core.ErrConfig, i, len(f))
		}
		var v [4]uint64
		for j, bits := range [4]int{16, 8, 8, 32} {
			if v[j], err = strconv.ParseUint(f[j], 10, bits); err != nil {
				return nil, fmt.Errorf("%w: bpf instruction %d: %w", core.ErrConfig, i, err)
			}
		}
		raw[i] = bpf.RawInstruction{Op: uint16(v[0]), Jt: uint8(v[1]), Jf: uint8(v[2]), K: uint32(v[3])}
	}
	return raw, nil
}

// Match reports whether the program accepts the frame.
func (s *FilterSink) Match(f *core.Frame) bool {
	n, err := s.vm.Run(f.Data)
	return err == nil && n > 0
}

func (s *FilterSink) Consume(ctx context.Context, b Batch) error {
	kept := b.Frames[:0:0]
	for i := range b.Frames {
		if s.Match(&b.Frames[i]) {
			kept = append(kept, b.Frames[i])
		}
	}
	if dropped := len(b.Frames) - len(kept); dropped > 0 {
		metrics.SinkDroppedTotal.WithLabelValues("filter").Add(float64(dropped))
	}
	if len(kept) == 0 {
		return nil
	}
	b.Frames = kept
	return s.next.Consume(ctx, b)
}

func (s *FilterSink) Close() error {
	return s.next.Close()
}
