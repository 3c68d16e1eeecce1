package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"voter-ledger/config"
)

var (
	flagConfig string
	flagOutput string
)

// NewRootCmd wires the voteledger CLI. Every subcommand loads configuration
// from --config and VOTELEDGER_* variables before it runs.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "voteledger",
		Short:         "Voter verification ledger",
		Long:          "Record identity checks of voters at polling booths, enforce one vote per voter and export tamper-evident audit trails.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "Output format: json|text")

	rootCmd.AddCommand(
		newServeCmd(),
		newRecordCmd(),
		newStatusCmd(),
		newVerifyCmd(),
		newExportCmd(),
		newKeygenCmd(),
	)
	return rootCmd
}

func loadCfg() (*config.Config, error) {
	return config.Load(flagConfig)
}

// openApp loads configuration and wires a one-shot app logging to stderr
func openApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, err := loadCfg()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, cmd.ErrOrStderr(), opts)
}

// printResult writes v as indented JSON, or through text for --output text
func printResult(out io.Writer, v any, text func(io.Writer)) error {
	switch flagOutput {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text", "":
		text(out)
		return nil
	default:
		return fmt.Errorf("invalid --output: %s (use json|text)", flagOutput)
	}
}
