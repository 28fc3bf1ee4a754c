// Package tasks implements a minimal reference task set proving out
// the TaskConfig contract: echo, shell, write_file, read_file.
package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/flowforge/flowforge/internal/task"
)

// defaultShellTimeout matches builtin_shell.go's documented default
// (its Timeout InputSpec declares Default: 300 but the plugin itself
// never actually enforces it; this handler does).
const defaultShellTimeout = 300 * time.Second

// Register adds the reference handlers to r.
func Register(r *task.Registry) {
	r.MustRegister("echo", task.HandlerFunc(echoHandler))
	r.MustRegister("shell", task.HandlerFunc(shellHandler))
	r.MustRegister("write_file", task.HandlerFunc(writeFileHandler))
	r.MustRegister("read_file", task.HandlerFunc(readFileHandler))
}

// echoHandler has no direct precedent in Corynth's built-in plugin
// catalog (it has no echo plugin); it returns its rendered "msg" input
// verbatim, so that `steps.<name>.result.result` holds it.
func echoHandler(_ context.Context, cfg *task.Config) (interface{}, error) {
	raw, _ := cfg.Step["inputs"].(map[string]interface{})
	inputs, err := cfg.ProcessInputs(raw)
	if err != nil {
		return nil, err
	}
	msg, _ := inputs["msg"].(string)
	return msg, nil
}

// shellHandler runs inputs.command in a shell, grounded on
// pkg/plugin/builtin_shell.go's executeCommand: a non-zero exit is
// reported in the result (success=false, exit_code), not returned as a
// Go error, the same "caller checks success/exit_code" contract
// builtin_shell.go uses (recorded as Open Question decision 4 in
// DESIGN.md).
func shellHandler(ctx context.Context, cfg *task.Config) (interface{}, error) {
	raw, _ := cfg.Step["inputs"].(map[string]interface{})
	inputs, err := cfg.ProcessInputs(raw)
	if err != nil {
		return nil, err
	}
	command, _ := inputs["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("shell task requires a non-empty inputs.command")
	}
	shellBin := "/bin/sh"
	if s, ok := inputs["shell"].(string); ok && s != "" {
		shellBin = s
	}
	dir := cfg.Workspace
	if d, ok := inputs["working_directory"].(string); ok && d != "" {
		if _, err := os.Stat(d); err != nil {
			return nil, fmt.Errorf("working_directory %q does not exist: %w", d, err)
		}
		dir = d
	}

	timeout := defaultShellTimeout
	switch t := inputs["timeout"].(type) {
	case int:
		timeout = time.Duration(t) * time.Second
	case int64:
		timeout = time.Duration(t) * time.Second
	case float64:
		timeout = time.Duration(t * float64(time.Second))
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, shellBin, "-c", command)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()

	exitCode := 0
	success := true
	if err != nil {
		success = false
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	return task.Result{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
		"success":   success,
		"timed_out": runCtx.Err() == context.DeadlineExceeded,
	}, nil
}

// writeFileHandler writes inputs.content to inputs.path, grounded on
// pkg/plugin/builtin_file.go's write action.
func writeFileHandler(_ context.Context, cfg *task.Config) (interface{}, error) {
	raw, _ := cfg.Step["inputs"].(map[string]interface{})
	inputs, err := cfg.ProcessInputs(raw)
	if err != nil {
		return nil, err
	}
	path, _ := inputs["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("write_file requires a non-empty inputs.path")
	}
	content, _ := inputs["content"].(string)
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Workspace, path)
	}
	if createDirs, _ := inputs["create_dirs"].(bool); createDirs {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating parent directories: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("writing file: %w", err)
	}
	return task.Result{"bytes_written": len(content), "success": true}, nil
}

// readFileHandler reads inputs.path, grounded on
// pkg/plugin/builtin_file.go's read action: a missing file is reported
// as exists=false with no error, not a handler failure.
func readFileHandler(_ context.Context, cfg *task.Config) (interface{}, error) {
	raw, _ := cfg.Step["inputs"].(map[string]interface{})
	inputs, err := cfg.ProcessInputs(raw)
	if err != nil {
		return nil, err
	}
	path, _ := inputs["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("read_file requires a non-empty inputs.path")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Workspace, path)
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return task.Result{"content": "", "size": 0, "exists": false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return task.Result{"content": string(content), "size": info.Size(), "exists": true}, nil
}
