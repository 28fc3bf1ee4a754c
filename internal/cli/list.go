package cli

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/internal/statestore"
	"github.com/flowforge/flowforge/internal/workspace"
)

// newListCommand builds the list command, grounded on pkg/cli/common.go's
// printTable helper (borderless table, bold blue header columns).
func newListCommand() *cobra.Command {
	var workspaceDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded workflow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, workspaceDir)
		},
	}
	cmd.Flags().StringVar(&workspaceDir, "workspace", "", "Workspace directory (defaults to ~/.flowforge/workspace)")
	return cmd
}

func runList(cmd *cobra.Command, workspaceDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if workspaceDir == "" {
		workspaceDir = cfg.WorkspaceRoot
	}
	ws, err := workspace.Resolve(workspaceDir)
	if err != nil {
		return fmt.Errorf("resolving workspace: %w", err)
	}
	backend, err := statestore.New(cfg.State.Backend, cfg.StateBackendConfig())
	if err != nil {
		return fmt.Errorf("initializing state backend: %w", err)
	}

	names, err := ws.ListWorkflows()
	if err != nil {
		return fmt.Errorf("listing workflows: %w", err)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Workflow", "Run", "Flow", "Status", "Completed Steps", "Last Updated"})
	table.SetBorder(false)
	table.SetHeaderColor(
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgBlueColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgBlueColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgBlueColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgBlueColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgBlueColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgBlueColor},
	)

	for _, name := range names {
		runs, err := backend.ListRuns(name)
		if err != nil {
			return fmt.Errorf("listing runs for %q: %w", name, err)
		}
		for _, n := range runs {
			s, err := backend.Load(name, n)
			if err != nil {
				continue
			}
			table.Append([]string{
				s.WorkflowName,
				fmt.Sprintf("%d", s.RunNumber),
				s.Flow,
				string(s.Status),
				fmt.Sprintf("%d", len(s.CompletedSteps)),
				s.LastUpdated.Format("2006-01-02 15:04:05"),
			})
		}
	}
	table.Render()
	return nil
}
