// Package cli implements the run/list/validate/workspace/init command
// tree, grounded on cmd/corynth/main.go's root-command-plus-subcommand
// registration shape and pkg/cli/apply.go's flag layout and progress
// reporting.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/internal/logging"
)

// Version is set by the main package at build time (ldflags), mirroring
// cmd/corynth/main.go's version variable.
var Version = "dev"

// NewRootCommand builds the flowforge root cobra command with all
// subcommands registered.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "flowforge",
		Short: "Run and manage YAML-driven workflows",
		Long:  "flowforge executes YAML workflow documents: templated step inputs, per-step error handling, resumable state, and parallel batch processing.",
	}

	root.AddCommand(
		newRunCommand(),
		newListCommand(),
		newValidateCommand(),
		newWorkspaceCommand(),
		newInitCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the flowforge version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
			return nil
		},
	}
}

// loadLogger builds the default logger from ambient config, used by
// the run subcommand.
func loadLogger(cfg *config.Config, component string) *logging.Logger {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.INFO
	}
	return logging.New(logging.Config{Level: level, Component: component, Colored: cfg.Logging.Colored})
}

// Execute runs the root command and exits the process with a non-zero
// status on error, mirroring cmd/corynth/main.go's top-level error
// handling.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flowforge: %v\n", err)
		os.Exit(1)
	}
}
