package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/internal/workspace"
)

// exampleWorkflow is the scaffold written by `init` unless --from is
// given (--example only changes the file name), grounded on pkg/cli/sample.go's "write a known-good
// starter document" role.
const exampleWorkflow = `name: example
description: a starter workflow
version: "1.0"

params:
  greeting:
    type: string
    default: hello
    required: false

steps:
  - name: say_hello
    task: echo
    inputs:
      msg: "{{ args.greeting }}, world"

  - name: record
    task: write_file
    inputs:
      path: output.txt
      content: "{{ steps.say_hello.result.result }}\n"
      create_dirs: true
`

// newInitCommand builds the init command, grounded on pkg/cli/init.go's
// directory-scaffolding shape, adapted from plugin/cache/log
// directories to the workspace layout, with an added --from flag that
// clones a template repository via go-git instead of the plugin
// registry pkg/cli/init.go downloads from.
func newInitCommand() *cobra.Command {
	var dir string
	var example string
	var fromURL string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new workflow directory",
		Long: `Init prepares a directory for flowforge workflows.

With no flags it writes a starter workflow.yaml and creates the
workspace's .workflow_state and logs directories. --from clones a
template repository instead of writing the built-in starter.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, dir, example, fromURL)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to initialize")
	cmd.Flags().StringVar(&example, "example", "", "Write the starter workflow as NAME.yaml instead of workflow.yaml (the content is the same starter)")
	cmd.Flags().StringVar(&fromURL, "from", "", "Git URL of a template repository to clone into --dir instead of scaffolding")

	return cmd
}

func runInit(cmd *cobra.Command, dir, example, fromURL string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %q: %w", dir, err)
	}

	if fromURL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "cloning %s into %s...\n", fromURL, dir)
		if _, err := git.PlainClone(dir, false, &git.CloneOptions{URL: fromURL}); err != nil {
			return fmt.Errorf("cloning template repository: %w", err)
		}
	} else {
		name := "workflow.yaml"
		if example != "" {
			name = example + ".yaml"
		}
		target := filepath.Join(dir, name)
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("%s already exists", target)
		}
		if err := os.WriteFile(target, []byte(exampleWorkflow), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", target, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", target)
	}

	ws, err := workspace.Resolve(filepath.Join(dir, ".flowforge-workspace"))
	if err != nil {
		return fmt.Errorf("creating workspace directories: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "workspace ready at %s\n", ws.Root)
	return nil
}
