package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/internal/config"
	fctx "github.com/flowforge/flowforge/internal/context"
	"github.com/flowforge/flowforge/internal/engine"
	"github.com/flowforge/flowforge/internal/ferrors"
	"github.com/flowforge/flowforge/internal/parser"
	"github.com/flowforge/flowforge/internal/statestore"
	"github.com/flowforge/flowforge/internal/task"
	"github.com/flowforge/flowforge/internal/tasks"
	"github.com/flowforge/flowforge/internal/workspace"
)

// newRunCommand builds the run command, grounded on pkg/cli/apply.go's
// flag layout (workflow file as a positional arg, --auto-approve-style
// flags) adapted from the HCL plan/apply split to a single YAML
// run command: KEY=VALUE positional args supply workflow params.
func newRunCommand() *cobra.Command {
	var flow string
	var resume bool
	var runNumber int
	var maxBatchWorkers int
	var workspaceDir string

	cmd := &cobra.Command{
		Use:   "run <workflow-file> [KEY=VALUE ...]",
		Short: "Execute a workflow",
		Long: `Run loads, validates and executes a YAML workflow document.

Extra positional arguments of the form KEY=VALUE supply values for the
workflow's params block, overriding any defaults declared there.`,
		Example: `  flowforge run deploy.yaml
  flowforge run deploy.yaml env=staging
  flowforge run deploy.yaml --flow rollback
  flowforge run deploy.yaml --resume`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowFile := args[0]
			cliArgs, err := parseKeyValueArgs(args[1:])
			if err != nil {
				return err
			}
			return runRun(cmd, workflowFile, cliArgs, flow, resume, runNumber, maxBatchWorkers, workspaceDir)
		},
	}

	cmd.Flags().StringVar(&flow, "flow", "", "Named flow to execute (defaults to flows.default, then \"all\")")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume the latest recorded run (an unfinished latest run is resumed even without this flag)")
	cmd.Flags().IntVar(&runNumber, "run", 0, "Resume a specific run number")
	cmd.Flags().IntVar(&maxBatchWorkers, "max-batch-workers", 4, "Default worker pool size for batch steps that don't set inputs.max_workers")
	cmd.Flags().StringVar(&workspaceDir, "workspace", "", "Workspace directory (defaults to ~/.flowforge/workspace)")

	return cmd
}

func runRun(cmd *cobra.Command, workflowFile string, cliArgs map[string]interface{}, flow string, resume bool, runNumber int, maxBatchWorkers int, workspaceDir string) error {
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

	wf, warnings, err := parser.Parse(workflowFile)
	if err != nil {
		return fmt.Errorf("loading workflow: %w", err)
	}
	for _, w := range warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
	}
	if err := parser.Validate(wf); err != nil {
		return fmt.Errorf("workflow is invalid: %w", err)
	}

	logger := loadLogger(cfg, "engine")

	registry := task.NewRegistry()
	tasks.Register(registry)

	backend, err := statestore.New(cfg.State.Backend, cfg.StateBackendConfig())
	if err != nil {
		return fmt.Errorf("initializing state backend: %w", err)
	}

	eng := engine.New(wf, registry, backend, logger, ws.Root)

	opts := engine.RunOptions{
		Flow:            flow,
		Args:            cliArgs,
		MaxBatchWorkers: maxBatchWorkers,
	}
	if resume && runNumber == 0 {
		latest, err := backend.LatestRunNumber(wf.Name)
		if err != nil {
			return fmt.Errorf("looking up the latest run: %w", err)
		}
		if latest == 0 {
			return fmt.Errorf("no prior run recorded for workflow %q to resume", wf.Name)
		}
		opts.RunNumber = latest
	} else {
		opts.RunNumber = runNumber
	}

	fmt.Fprintf(cmd.OutOrStdout(), "running %s (%d steps)\n", wf.Name, len(wf.Steps))
	bar := progressbar.NewOptions(len(wf.Steps),
		progressbar.OptionSetDescription("executing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(cmd.OutOrStdout()),
		progressbar.OptionClearOnFinish(),
	)
	opts.OnStepComplete = func(stepName string, status fctx.StepStatus) {
		_ = bar.Add(1)
	}

	start := time.Now()
	state, runErr := eng.Execute(opts)
	_ = bar.Finish()
	duration := time.Since(start)

	if runErr != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "workflow failed after %s: %v\n", duration.Round(time.Millisecond), runErr)
		reportFailure(cmd, state, runErr)
		return runErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "workflow completed in %s (%d/%d steps)\n", duration.Round(time.Millisecond), len(state.CompletedSteps), len(wf.Steps))
	return nil
}

// reportFailure surfaces the failing step's resolved error_message, the
// original error, and (for a TemplateError) the variables available at
// the point of failure, so a user sees more than the wrapped WorkflowError
// string the run command would otherwise print alone.
func reportFailure(cmd *cobra.Command, state *statestore.State, runErr error) {
	out := cmd.ErrOrStderr()
	if state != nil && state.FailedStep != nil {
		if sr, ok := state.StepResults[state.FailedStep.StepName]; ok && sr.ErrorMessage != "" {
			fmt.Fprintf(out, "step %q: %s\n", state.FailedStep.StepName, sr.ErrorMessage)
		}
	}
	var templateErr *ferrors.TemplateError
	if errors.As(runErr, &templateErr) && len(templateErr.Available) > 0 {
		fmt.Fprintln(out, "available variables at the point of failure:")
		for namespace, keys := range templateErr.Available {
			fmt.Fprintf(out, "  %s: %s\n", namespace, strings.Join(keys, ", "))
		}
	}
}

// parseKeyValueArgs converts "key=value" positional args into a typed
// map, attempting bool then number then falling back to string, so an
// override such as count=3 gives args.count a number, as a YAML
// params.*.default of 3 would.
func parseKeyValueArgs(kvs []string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for _, kv := range kvs {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid argument %q, expected KEY=VALUE", kv)
		}
		key, val := kv[:idx], kv[idx+1:]
		if key == "" {
			return nil, fmt.Errorf("invalid argument %q: empty key", kv)
		}
		out[key] = coerceArgValue(val)
	}
	return out, nil
}

func coerceArgValue(s string) interface{} {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
