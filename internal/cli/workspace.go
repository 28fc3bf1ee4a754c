package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/internal/workspace"
)

// newWorkspaceCommand builds the workspace command group: list/clean/remove
// subcommands operating on the resolved workspace directory.
func newWorkspaceCommand() *cobra.Command {
	var workspaceDir string

	root := &cobra.Command{
		Use:   "workspace",
		Short: "Inspect and manage the workspace directory",
	}
	root.PersistentFlags().StringVar(&workspaceDir, "workspace", "", "Workspace directory (defaults to ~/.flowforge/workspace)")

	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List workflow names with recorded state",
			RunE: func(cmd *cobra.Command, args []string) error {
				ws, err := resolveWorkspace(workspaceDir)
				if err != nil {
					return err
				}
				names, err := ws.ListWorkflows()
				if err != nil {
					return fmt.Errorf("listing workflows: %w", err)
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "clean",
			Short: "Remove all recorded state and logs from the workspace",
			RunE: func(cmd *cobra.Command, args []string) error {
				ws, err := resolveWorkspace(workspaceDir)
				if err != nil {
					return err
				}
				if err := ws.Clean(); err != nil {
					return fmt.Errorf("cleaning workspace: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleaned workspace at %s\n", ws.Root)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <workflow-name>",
			Short: "Remove recorded state for a single workflow",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ws, err := resolveWorkspace(workspaceDir)
				if err != nil {
					return err
				}
				if err := ws.RemoveWorkflow(args[0]); err != nil {
					return fmt.Errorf("removing workflow %q: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %q from workspace\n", args[0])
				return nil
			},
		},
	)
	return root
}

func resolveWorkspace(dir string) (*workspace.Workspace, error) {
	if dir == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("loading configuration: %w", err)
		}
		dir = cfg.WorkspaceRoot
	}
	return workspace.Resolve(dir)
}
