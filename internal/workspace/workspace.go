// Package workspace owns the on-disk layout a run executes against:
// the workspace root directory, its .workflow_state/ and logs/
// subdirectories, and default-root resolution when the CLI doesn't
// pass one explicitly.
//
// Grounded on pkg/cli/apply.go's workspace-path handling (flag
// default, directory creation on first use) and pkg/state's directory
// conventions, split into its own package since the workspace
// directory is a named external collaborator in its own right.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

const (
	stateSubdir = ".workflow_state"
	logsSubdir  = "logs"
)

// Workspace is a resolved, ready-to-use run directory.
type Workspace struct {
	Root string
}

// Resolve returns the workspace rooted at dir, or at a package default
// (~/.flowforge/workspace) when dir is empty, creating it and its
// subdirectories if they don't yet exist.
func Resolve(dir string) (*Workspace, error) {
	root := dir
	if root == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		root = filepath.Join(home, ".flowforge", "workspace")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}
	w := &Workspace{Root: abs}
	for _, sub := range []string{"", stateSubdir, logsSubdir} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating workspace directory %q: %w", sub, err)
		}
	}
	return w, nil
}

// StateDir is the root passed to statestore.New("local", ...): this
// workspace's .workflow_state directory.
func (w *Workspace) StateDir() string {
	return filepath.Join(w.Root, stateSubdir)
}

// LogsDir is the workspace's logs directory, where StepLogPath places
// logs/<step_name>.log. The engine and the built-in task handlers write
// no files there.
func (w *Workspace) LogsDir() string {
	return filepath.Join(w.Root, logsSubdir)
}

// StepLogPath returns the per-step log file path for stepName.
func (w *Workspace) StepLogPath(stepName string) string {
	return filepath.Join(w.LogsDir(), stepName+".log")
}

// ListWorkflows enumerates the workflow names that have recorded state
// under this workspace, for the `list` command.
func (w *Workspace) ListWorkflows() ([]string, error) {
	entries, err := os.ReadDir(w.StateDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Clean removes all recorded state and logs for this workspace,
// leaving the workspace directory itself and its subdirectories in
// place (ready for the next run).
func (w *Workspace) Clean() error {
	for _, sub := range []string{stateSubdir, logsSubdir} {
		full := filepath.Join(w.Root, sub)
		if err := os.RemoveAll(full); err != nil {
			return fmt.Errorf("removing %q: %w", sub, err)
		}
		if err := os.MkdirAll(full, 0o755); err != nil {
			return fmt.Errorf("recreating %q: %w", sub, err)
		}
	}
	return nil
}

// RemoveWorkflow deletes the recorded state for a single workflow name.
func (w *Workspace) RemoveWorkflow(name string) error {
	return os.RemoveAll(filepath.Join(w.StateDir(), name))
}
