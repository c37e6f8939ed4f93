// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/otus-ingest/internal/config"
	"firestige.xyz/otus-ingest/internal/log"
)

var (
	// Global flags
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Capture ingestion: turn pcap files and producer streams into frames",
	Long: `ingest reads packet captures and forwards normalized frames to a sink.

Frontends:
  - classic pcap files (micro- and nanosecond, either byte order)
  - external capture producers writing a JSON header line per frame to stdout

Sinks:
  - console (optionally with a gopacket layer summary)
  - wire (20-byte big-endian prefix + payload per frame)
  - pcap (re-encoded classic pcap file)
  - kafka (one message per frame)`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging(nil)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug/info/warn/error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json/text (overrides config)")

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

// initLogging sets up the global logger from cfg, or from defaults when cfg
// is nil. Command line flags take precedence.
func initLogging(cfg *config.LogConfig) error {
	if cfg == nil {
		def, err := config.Default()
		if err != nil {
			return err
		}
		cfg = &def.Log
	}
	lc := *cfg
	if logLevel != "" {
		lc.Level = logLevel
	}
	if logFormat != "" {
		lc.Format = logFormat
	}
	return log.Init(lc)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
