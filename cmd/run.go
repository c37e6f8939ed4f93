package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/otus-ingest/internal/config"
	"firestige.xyz/otus-ingest/internal/ingest"
	"firestige.xyz/otus-ingest/internal/metrics"
)

var (
	runConfigFile string
	runKeepGoing  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every source of a configuration file into its sink",
	Long: `Load a configuration file, open all its sources concurrently and pump
their frames into the configured sink until every source is exhausted or a
signal arrives.

By default the first failing source stops the others; --keep-going lets the
remaining sources finish and reports all failures at the end.

Examples:
  ingest run -c /etc/otus-ingest/config.yml
  INGEST_LOG_LEVEL=debug ingest run -c config.yml --keep-going`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runConfigFile)
		if err != nil {
			return err
		}
		if err := initLogging(&cfg.Log); err != nil {
			return err
		}
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		return runSources(ctx, cfg, ingest.DefaultRegistry(), runKeepGoing, cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().StringVarP(&runConfigFile, "config", "c", "/etc/otus-ingest/config.yml", "config file path")
	runCmd.Flags().BoolVar(&runKeepGoing, "keep-going", false, "keep other sources running when one fails")
}

func runSources(ctx context.Context, cfg *config.IngestConfig, reg *ingest.Registry, keepGoing bool, stdout io.Writer) error {
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	sink, err := ingest.NewSink(cfg.Sink, stdout)
	if err != nil {
		return err
	}
	defer sink.Close()

	opts := ingest.OptionsFrom(cfg.Reader)
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu     sync.Mutex
		failed []error
	)
	for _, sc := range cfg.Sources {
		g.Go(func() error {
			err := runSource(gctx, reg, sc, opts, sink)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			err = fmt.Errorf("source %s: %w", sc.Name, err)
			if !keepGoing {
				return err
			}
			mu.Lock()
			failed = append(failed, err)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	slog.Info("all sources finished", "sources", len(cfg.Sources))
	return nil
}

func runSource(ctx context.Context, reg *ingest.Registry, sc config.SourceConfig, opts ingest.Options, sink ingest.Sink) error {
	src, err := reg.Open(ctx, sc, opts)
	if err != nil {
		return err
	}
	_, err = ingest.Pump(ctx, src, sink)
	return err
}
