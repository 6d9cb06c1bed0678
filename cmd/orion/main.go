// Package main provides the entry point for the orion CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robokop-kg/orion/cmd/orion/commands"
	"github.com/robokop-kg/orion/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orion",
		Short: "ORION - biomedical knowledge graph build pipeline",
		Long: `ORION fetches, parses, and normalizes biomedical data sources and
merges them into knowledge graphs described by declarative graph specs.

Commands:
  source    Run the pipeline for individual data sources
  build     Build graphs from a graph spec`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config file path (default: orion.yaml in CWD or $HOME)")

	rootCmd.AddCommand(commands.NewBuildCommand())
	rootCmd.AddCommand(commands.NewSourceCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintln(os.Stdout, version.String())
		},
	}
}
