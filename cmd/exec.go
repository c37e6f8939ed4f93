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
	"firestige.xyz/otus-ingest/internal/subproc"
)

type execOptions struct {
	link       uint32
	jsonConfig string
	decode     bool
	wire       bool
	output     string
	bpf        string
}

var execOpts execOptions

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- CMD [ARGS...]",
	Short: "Run a capture producer and read frames from its stdout",
	Long: `Run an external capture producer and forward its frames to a sink.

The producer writes, per frame, one JSON header line
  {"datalen":N,"actlen":M,"ts_sec":S,"ts_usec":U}
followed by exactly N payload bytes. A blank line or closing stdout ends the
stream. The producer is killed when ingest exits.

Examples:
  ingest exec --link 1 -- ./producer --iface eth0
  ingest exec --wire -w frames.bin -- ./producer
  ingest exec --json '{"cmd":"./producer","args":["--iface","eth0"],"link":1}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		return runExec(ctx, execOpts, args, cmd.OutOrStdout())
	},
}

func init() {
	execCmd.Flags().Uint32Var(&execOpts.link, "link", uint32(core.LinkTypeEthernet), "link type stamped on every frame")
	execCmd.Flags().StringVar(&execOpts.jsonConfig, "json", "", "producer config as a JSON document (replaces CMD and --link)")
	execCmd.Flags().BoolVar(&execOpts.decode, "decode", false, "append a gopacket layer summary to each line")
	execCmd.Flags().BoolVar(&execOpts.wire, "wire", false, "write prefixed binary frames instead of text")
	execCmd.Flags().StringVarP(&execOpts.output, "write", "w", "", "output file (pcap unless --wire)")
	execCmd.Flags().StringVar(&execOpts.bpf, "bpf", "", "drop frames rejected by this tcpdump -ddd program")
	// Flags after CMD belong to the producer.
	execCmd.Flags().SetInterspersed(false)
}

// producerConfig resolves the producer from either the JSON flag or the
// positional command line.
func producerConfig(opts execOptions, args []string) (subproc.Config, error) {
	if opts.jsonConfig != "" {
		if len(args) > 0 {
			return subproc.Config{}, fmt.Errorf("%w: --json and a command line are mutually exclusive", core.ErrConfig)
		}
		return subproc.ParseConfig(opts.jsonConfig)
	}
	if len(args) == 0 {
		return subproc.Config{}, fmt.Errorf("%w: producer command is required", core.ErrConfig)
	}
	return subproc.ParseConfig(subproc.Config{Cmd: args[0], Args: args[1:], Link: opts.link})
}

func runExec(ctx context.Context, opts execOptions, args []string, stdout io.Writer) error {
	pc, err := producerConfig(opts, args)
	if err != nil {
		return err
	}
	sink, err := ingest.NewSink(sinkConfigFor(opts.decode, opts.wire, opts.output, opts.bpf), stdout)
	if err != nil {
		return err
	}
	defer sink.Close()

	src, err := ingest.DefaultRegistry().Open(ctx, config.SourceConfig{
		Name: "exec",
		Type: config.SourceTypeExec,
		Cmd:  pc.Cmd,
		Args: pc.Args,
		Link: pc.Link,
	}, ingest.Options{MaxFrameSize: pc.MaxFrameSize})
	if err != nil {
		return err
	}

	st, err := ingest.Pump(ctx, src, sink)
	slog.Info("producer finished", "cmd", pc.Cmd, "frames", st.Frames, "bytes", st.Bytes)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
