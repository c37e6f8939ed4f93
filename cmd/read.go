package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"firestige.xyz/otus-ingest/internal/config"
	"firestige.xyz/otus-ingest/internal/core"
	"firestige.xyz/otus-ingest/internal/ingest"
	"firestige.xyz/otus-ingest/internal/pcapfile"
)

type readOptions struct {
	path         string
	batch        int
	maxFrameSize uint32
	decode       bool
	wire         bool
	output       string
	bpf          string
	progress     bool
}

var readOpts readOptions

var readCmd = &cobra.Command{
	Use:   "read FILE",
	Short: "Read a pcap file and print or convert its frames",
	Long: `Read a classic pcap file in batches and forward the frames to a sink.

Examples:
  ingest read trace.pcap                     # one line per frame
  ingest read trace.pcap --decode            # with gopacket layer summary
  ingest read trace.pcap -w out.pcap         # re-encode as microsecond pcap
  ingest read trace.pcap --wire -w out.bin   # prefixed binary frames
  ingest read trace.pcap --bpf "$(tcpdump -ddd udp)"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		opts := readOpts
		opts.path = args[0]
		return runRead(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	readCmd.Flags().IntVarP(&readOpts.batch, "batch", "b", 256, "frames per batch")
	readCmd.Flags().Uint32Var(&readOpts.maxFrameSize, "max-frame-size", pcapfile.DefaultMaxFrameSize, "largest record accepted, in bytes")
	readCmd.Flags().BoolVar(&readOpts.decode, "decode", false, "append a gopacket layer summary to each line")
	readCmd.Flags().BoolVar(&readOpts.wire, "wire", false, "write prefixed binary frames instead of text")
	readCmd.Flags().StringVarP(&readOpts.output, "write", "w", "", "output file (pcap unless --wire)")
	readCmd.Flags().StringVar(&readOpts.bpf, "bpf", "", "drop frames rejected by this tcpdump -ddd program")
	readCmd.Flags().BoolVar(&readOpts.progress, "progress", false, "report progress on stderr")
}

func sinkConfigFor(decode, wire bool, output, bpf string) config.SinkConfig {
	sc := config.SinkConfig{Type: config.SinkTypeConsole, Decode: decode, BPF: bpf, Path: output}
	switch {
	case wire:
		sc.Type = config.SinkTypeWire
	case output != "":
		sc.Type = config.SinkTypePcap
	}
	return sc
}

func runRead(ctx context.Context, opts readOptions, stdout, stderr io.Writer) error {
	if opts.batch <= 0 {
		return fmt.Errorf("%w: batch must be positive", core.ErrConfig)
	}
	sink, err := ingest.NewSink(sinkConfigFor(opts.decode, opts.wire, opts.output, opts.bpf), stdout)
	if err != nil {
		return err
	}

	var (
		frames  uint64
		sinkErr error
	)
	dst := make([]core.Frame, opts.batch)
	progress := pcapfile.ProgressFunc(func(filled int, fraction float64) {
		if filled > 0 && sinkErr == nil {
			if sinkErr = ctx.Err(); sinkErr == nil {
				sinkErr = sink.Consume(ctx, ingest.Batch{
					Source:  opts.path,
					LayerID: core.LayerToken(dst[0].Link),
					Frames:  dst[:filled],
				})
			}
			frames += uint64(filled)
		}
		if opts.progress {
			fmt.Fprintf(stderr, "\r%s: %5.1f%%", opts.path, fraction*100)
			if fraction >= 1 {
				fmt.Fprintln(stderr)
			}
		}
	})

	status, importErr := pcapfile.Import(ctx, opts.path, dst, progress, pcapfile.WithMaxFrameSize(opts.maxFrameSize))
	closeErr := sink.Close()

	if errors.Is(importErr, context.Canceled) || errors.Is(sinkErr, context.Canceled) {
		slog.Info("read interrupted", "path", opts.path, "frames", frames)
		return closeErr
	}

	switch {
	case importErr != nil:
		return fmt.Errorf("read %s (%s): %w", opts.path, status, importErr)
	case sinkErr != nil:
		return sinkErr
	case closeErr != nil:
		return closeErr
	}
	if opts.progress {
		fmt.Fprintf(stderr, "%s: %d frames\n", opts.path, frames)
	}
	return nil
}
