package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/otus-ingest/internal/config"
)

var (
	validateConfigFile string
	validatePrint      bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without opening any source.

With --print the resolved configuration, defaults and environment overrides
included, is written as YAML.

Examples:
  ingest validate -f config.yml
  ingest validate -f config.yml --print`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(validateConfigFile, validatePrint, cmd.OutOrStdout())
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "file", "f", "", "configuration file to validate (required)")
	validateCmd.Flags().BoolVar(&validatePrint, "print", false, "print the resolved configuration")
	validateCmd.MarkFlagRequired("file")
}

func runValidate(path string, printCfg bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	fmt.Fprintf(out, "VALID: %d source(s), sink %s\n", len(cfg.Sources), cfg.Sink.Type)
	if !printCfg {
		return nil
	}
	data, err := config.Dump(cfg)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
