// Package cmd provides the CLI commands for fxalert.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is the fxalert release version.
const Version = "0.1.0"

// Execute builds the command tree and runs it.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd returns the fxalert command. The root command itself runs the
// alerters over the file named by its single argument.
func NewRootCmd() *cobra.Command {
	opts := DefaultRunOptions()

	root := &cobra.Command{
		Use:   "fxalert <path>",
		Short: "Raise alerts on currency conversion rates",
		Long: `fxalert reads currency conversion rates, one per line, and writes alerts
as JSON lines to standard output.

Input lines are JSON objects or CSV rows:
  {"timestamp": 1554933784.023, "currencyPair": "CNYAUD", "rate": 0.39281}
  1554933784.023,CNYAUD,0.39281

Alerters:
  - spotChange when a rate moves away from its moving average by the threshold
  - rising/falling when a pair keeps moving in one direction long enough

Examples:
  fxalert rates.jsonl
  fxalert rates.csv --format csv --output alerts.jsonl
  fxalert - < rates.jsonl
  fxalert rates.jsonl --follow --sink-addr collector:50051`,
		Version: Version,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Argument errors print usage, runtime errors do not
			cmd.SilenceUsage = true
			opts.Path = args[0]
			return RunCommand(cmd, opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default is ./fxalert.yaml)")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose output")

	addRunFlags(root, opts)

	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newCollectorCmd(opts))

	return root
}
