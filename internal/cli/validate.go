package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/internal/parser"
)

// newValidateCommand builds the validate command, grounded on
// pkg/cli/common.go's validateWorkflowFile + the plan command's
// load-without-execute shape.
func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Parse and statically validate a workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0])
		},
	}
}

func runValidate(cmd *cobra.Command, workflowFile string) error {
	wf, warnings, err := parser.Parse(workflowFile)
	if err != nil {
		return fmt.Errorf("parsing workflow: %w", err)
	}
	for _, w := range warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
	}
	if err := parser.Validate(wf); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "invalid: %v\n", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d step(s)", workflowFile, len(wf.Steps))
	if wf.Flows != nil {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d flow(s)", len(wf.Flows.Definitions))
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
